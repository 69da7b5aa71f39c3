package handlers

import (
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type AdminHandler struct {
	authService *services.AuthService
}

func NewAdminHandler(authService *services.AuthService) *AdminHandler {
	return &AdminHandler{authService: authService}
}

// ForceLogout revokes every token and session of the user in :id.
func (h *AdminHandler) ForceLogout(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid user id")
	}

	n, err := h.authService.RevokeAllSessions(c.UserContext(), userID.String(), services.ReasonAdmin)
	if err != nil {
		return respondError(c, err)
	}
	slog.Info("admin force logout", "action", "admin_revoke", "user_id", userID.String(), "sessions", n)
	return c.JSON(dto.RevokeResponse{Message: "User sessions revoked", Sessions: n})
}
