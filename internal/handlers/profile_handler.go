package handlers

import (
	"context"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// ProfileEditor changes profile fields. Implementations invalidate the
// profile cache.
type ProfileEditor interface {
	UpdateUsername(ctx context.Context, accountID string, username *string) (*services.ProfileRef, error)
}

type ProfileHandler struct {
	profiles ProfileEditor
}

func NewProfileHandler(profiles ProfileEditor) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// Me requires a profile. Resolution without one is allowed elsewhere but
// this endpoint answers 404.
func (h *ProfileHandler) Me(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return respondError(c, services.ErrNotAuthenticated)
	}
	if user.ProfileID == nil {
		return respondError(c, services.ErrProfileNotFound)
	}

	return c.JSON(dto.MeResponse{
		AccountID:  user.AccountID,
		ProfileID:  *user.ProfileID,
		Email:      user.Email,
		Username:   user.Username,
		AuthMethod: string(user.Method),
	})
}

func (h *ProfileHandler) Update(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return respondError(c, services.ErrNotAuthenticated)
	}

	var req dto.UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	ref, err := h.profiles.UpdateUsername(c.UserContext(), user.AccountID, req.Username)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(dto.MeResponse{
		AccountID:  user.AccountID,
		ProfileID:  ref.ProfileID,
		Email:      user.Email,
		Username:   ref.Username,
		AuthMethod: string(user.Method),
	})
}
