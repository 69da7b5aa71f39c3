package handlers

import (
	"encoding/json"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type SessionHandler struct {
	authService *services.AuthService
}

func NewSessionHandler(authService *services.AuthService) *SessionHandler {
	return &SessionHandler{authService: authService}
}

func (h *SessionHandler) List(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return respondError(c, services.ErrNotAuthenticated)
	}

	sessions, err := h.authService.ListSessions(c.UserContext(), user.AccountID)
	if err != nil {
		return respondError(c, err)
	}

	resp := dto.SessionListResponse{Sessions: make([]dto.SessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, dto.SessionResponse{
			ID:           s.ID,
			DeviceInfo:   json.RawMessage(s.DeviceInfo),
			UserAgent:    s.UserAgent,
			IP:           s.IP,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			Current:      s.ID == user.SessionID,
		})
	}
	return c.JSON(resp)
}

func (h *SessionHandler) Revoke(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return respondError(c, services.ErrNotAuthenticated)
	}

	if err := h.authService.EndSession(c.UserContext(), user.AccountID, c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Session revoked"})
}

// RevokeAll logs the caller out on every device.
func (h *SessionHandler) RevokeAll(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return respondError(c, services.ErrNotAuthenticated)
	}

	n, err := h.authService.RevokeAllSessions(c.UserContext(), user.AccountID, services.ReasonRevokeAll)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.RevokeResponse{Message: "All sessions revoked", Sessions: n})
}
