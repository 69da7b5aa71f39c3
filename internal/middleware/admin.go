package middleware

import (
	"slices"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AdminRequired allows callers listed in ADMIN_EMAILS or ADMIN_USER_IDS.
// It runs after JWTProtected and RequireAuth, and the resolved caller must
// be the same non-revoked access token the JWT middleware accepted.
func AdminRequired(cfg *config.Config) fiber.Handler {
	adminEmails := config.ParseCSV(cfg.AdminEmails)
	adminUserIDs := config.ParseCSV(cfg.AdminUserIDs)

	return func(c *fiber.Ctx) error {
		token, ok := c.Locals("user").(*jwt.Token)
		if !ok || token == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid claims",
			})
		}

		sub, _ := claims["sub"].(string)
		jti, _ := claims["jti"].(string)
		kind, _ := claims["kind"].(string)
		if kind != string(services.TokenKindAccess) {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Access token required",
			})
		}

		user := CurrentUser(c)
		if user == nil || user.Method != services.AuthMethodNativeToken ||
			user.AccountID != sub || user.TokenID != jti {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}

		if (user.Email != "" && slices.Contains(adminEmails, user.Email)) || slices.Contains(adminUserIDs, user.AccountID) {
			return c.Next()
		}

		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: "Admin access required",
		})
	}
}
