package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/generatecover/api/internal/auth"
	"github.com/generatecover/api/pkg/response"
)

const (
	localUserID = "userId"
	localEmail  = "email"
	localName   = "name"
)

// AuthMiddleware authenticates API requests with bearer tokens
type AuthMiddleware struct {
	authenticator *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authenticator: a}
}

// Authenticate validates the bearer token and stores the caller identity in locals
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := m.authenticator.Authenticate(c.Get(fiber.HeaderAuthorization))
		switch {
		case err == nil:
			setIdentity(c, id)
			return c.Next()
		case errors.Is(err, auth.ErrMissingToken):
			return response.Unauthorized(c, "Missing authorization header")
		case errors.Is(err, auth.ErrInvalidHeader):
			return response.Unauthorized(c, "Invalid authorization header format")
		case errors.Is(err, auth.ErrNotConfigured):
			return response.Unauthorized(c, "Authentication not configured")
		default:
			return response.Unauthorized(c, "Invalid or expired token")
		}
	}
}

func setIdentity(c *fiber.Ctx, id *auth.Identity) {
	c.Locals(localUserID, id.UserID)
	c.Locals(localEmail, id.Email)
	c.Locals(localName, id.Name)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(localUserID).(string); ok {
		return userID
	}
	return ""
}

func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals(localEmail).(string); ok {
		return email
	}
	return ""
}
