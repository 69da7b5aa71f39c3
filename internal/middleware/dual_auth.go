package middleware

import (
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

const authUserKey = "auth_user"

func credentialsFrom(c *fiber.Ctx, cookieName string) services.Credentials {
	return services.Credentials{
		Authorization: c.Get(fiber.HeaderAuthorization),
		SessionCookie: c.Cookies(cookieName),
	}
}

// DualAuth resolves the caller if possible and always continues. Handlers
// read the result with CurrentUser.
func DualAuth(resolver *services.DualAuthResolver, cookieName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if user := resolver.Resolve(c.UserContext(), credentialsFrom(c, cookieName)); user != nil {
			c.Locals(authUserKey, user)
		}
		return c.Next()
	}
}

// RequireAuth rejects the request with 401 when no credential resolves.
func RequireAuth(resolver *services.DualAuthResolver, cookieName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := resolver.Require(c.UserContext(), credentialsFrom(c, cookieName))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}
		c.Locals(authUserKey, user)
		return c.Next()
	}
}

// CurrentUser returns the resolved caller or nil.
func CurrentUser(c *fiber.Ctx) *services.AuthenticatedUser {
	user, _ := c.Locals(authUserKey).(*services.AuthenticatedUser)
	return user
}
