package handlers

import (
	"errors"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(dto.ErrorResponse{Error: true, Message: message})
}

// respondError maps service errors to status codes. Upstream details never
// reach the client.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrReuseDetected):
		return errorJSON(c, fiber.StatusUnauthorized, "all sessions revoked, please log in again")
	case errors.Is(err, services.ErrInvalidCredentials):
		return errorJSON(c, fiber.StatusUnauthorized, services.ErrInvalidCredentials.Error())
	case errors.Is(err, services.ErrRateLimited):
		return errorJSON(c, fiber.StatusTooManyRequests, "Too many login attempts, try again later")
	case errors.Is(err, services.ErrExpired):
		return errorJSON(c, fiber.StatusUnauthorized, "token expired")
	case errors.Is(err, services.ErrRevoked):
		return errorJSON(c, fiber.StatusUnauthorized, "token revoked")
	case errors.Is(err, services.ErrInvalidToken):
		return errorJSON(c, fiber.StatusUnauthorized, "invalid token")
	case errors.Is(err, services.ErrNotAuthenticated):
		return errorJSON(c, fiber.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, services.ErrEmailTaken), errors.Is(err, services.ErrUsernameTaken):
		return errorJSON(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, services.ErrSessionNotFound):
		return errorJSON(c, fiber.StatusNotFound, "Session not found")
	case errors.Is(err, services.ErrProfileNotFound):
		return errorJSON(c, fiber.StatusNotFound, "Profile not found")
	case errors.Is(err, services.ErrInvalidInput):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUpstreamUnavailable):
		return errorJSON(c, fiber.StatusServiceUnavailable, "Service temporarily unavailable")
	}
	return errorJSON(c, fiber.StatusInternalServerError, "Internal server error")
}
