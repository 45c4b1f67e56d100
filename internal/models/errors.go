package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Domain sentinels surfaced by the store layer. Handlers translate these
// into HTTP statuses; coordinators branch on them.
var (
	// ErrInvalidTransition is returned when a guarded status update matches
	// no row, meaning the row already left the required state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSettingsLocked is returned when a bulk edit would touch a source
	// whose settings are locked.
	ErrSettingsLocked = errors.New("source settings are locked")

	// ErrSessionClosed is returned when a ledger update targets a session
	// that has already ended.
	ErrSessionClosed = errors.New("session already closed")

	// ErrNotFound is returned by lookups that matched nothing.
	ErrNotFound = errors.New("record not found")
)

// FailureKind classifies why an extractor could not produce content.
type FailureKind string

const (
	FailedToLocateContent FailureKind = "failed_to_locate_content"
	HostUnavailable       FailureKind = "host_unavailable"
	UnsupportedHost       FailureKind = "unsupported_host"
	UnsupportedFormat     FailureKind = "unsupported_format"
)

// ExtractionError is a classified extractor failure. Message is what gets
// persisted onto the failed post; Err carries transport detail for logs.
type ExtractionError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func NewExtractionError(kind FailureKind, message string, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Message: message, Err: err}
}

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "Internal server error",
		Err:     err,
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	if appErr, ok := err.(*AppError); ok {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
