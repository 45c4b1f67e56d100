package server

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"feedstash/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenTTL bounds how long an issued token is honoured before the client
// has to exchange the API key again.
const tokenTTL = 7 * 24 * time.Hour

// IssueToken handles POST /api/auth/token
// @Summary Exchange the API key for a JWT
// @Description Validates the configured API key and returns a bearer token for the protected routes
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{api_key=string,client=string} true "Token request"
// @Success 200 {object} object{token=string,expires_at=string}
// @Failure 401 {object} object{error=string}
// @Router /auth/token [post]
func (s *Server) IssueToken(c *fiber.Ctx) error {
	if s.config.APIKey == "" {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewUnauthorizedError("Token issuance is not configured"))
	}

	var req struct {
		APIKey string `json:"api_key"`
		Client string `json:"client"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	key := req.APIKey
	if key == "" {
		key = c.Get("X-API-Key")
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIKey)) != 1 {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Invalid API key"))
	}

	client := strings.TrimSpace(req.Client)
	if client == "" {
		client = "operator"
	}

	expiresAt := time.Now().Add(tokenTTL)
	token, err := s.generateToken(client, expiresAt)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// generateToken creates a JWT token naming the given client
func (s *Server) generateToken(client string, expiresAt time.Time) (string, error) {
	// Validate secret exists
	if s.config.JWTSecret == "" {
		return "", fmt.Errorf("JWT secret not configured")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": client,            // Subject (client name)
		"iss": "feedstash-api",   // Issuer
		"aud": "feedstash-cli",   // Audience
		"exp": expiresAt.Unix(),  // Expiration
		"iat": now.Unix(),        // Issued at
		"nbf": now.Unix(),        // Not before
		"jti": s.generateJTI(),   // JWT ID (unique identifier)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// generateJTI creates a unique JWT ID to prevent replay attacks
func (s *Server) generateJTI() string {
	return fmt.Sprintf("%d-%s", time.Now().Unix(), uuid.New().String()[:8])
}
