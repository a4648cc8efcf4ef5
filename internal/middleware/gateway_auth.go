package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/generatecover/api/internal/auth"
	"github.com/generatecover/api/pkg/response"
)

// Identity headers set by the gateway's ForwardAuth call to /auth/verify
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// GatewayAuthMiddleware trusts the X-User-* headers of a ForwardAuth gateway.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get(HeaderUserID)
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		setIdentity(c, &auth.Identity{
			UserID: userID,
			Email:  c.Get(HeaderUserEmail),
			Name:   c.Get(HeaderUserName),
		})
		return c.Next()
	}
}
