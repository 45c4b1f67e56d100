package server

import (
	"errors"

	"feedstash/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper.  Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// Pagination holds parsed limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

const maxPaginationLimit = 200

// parsePagination extracts limit and offset query parameters with the given default limit.
func parsePagination(c *fiber.Ctx, defaultLimit int) Pagination {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}

	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	return Pagination{
		Limit:  limit,
		Offset: offset,
	}
}

// parseID extracts the :id route parameter as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// Callers should check: if err != nil { return nil }
func (s *Server) parseID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid ID"))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// respondStoreError maps store layer errors onto HTTP statuses. The resource
// name feeds the 404 message.
func respondStoreError(c *fiber.Ctx, err error, resource string, id interface{}) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundError(resource, id))
	case errors.Is(err, models.ErrSettingsLocked):
		return models.RespondWithError(c, fiber.StatusConflict,
			models.NewConflictError(err.Error()))
	case errors.Is(err, models.ErrSessionClosed), errors.Is(err, models.ErrInvalidTransition):
		return models.RespondWithError(c, fiber.StatusConflict,
			models.NewConflictError(err.Error()))
	default:
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}
}
