package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// BrowserSessions issues and ends web session cookies.
type BrowserSessions interface {
	StartBrowserSession(ctx context.Context, accountID string) (string, time.Time, error)
	EndBrowserSession(ctx context.Context, cookie string) error
}

type AuthHandler struct {
	authService *services.AuthService
	browser     BrowserSessions
	cfg         *config.Config
}

func NewAuthHandler(authService *services.AuthService, browser BrowserSessions, cfg *config.Config) *AuthHandler {
	return &AuthHandler{authService: authService, browser: browser, cfg: cfg}
}

func clientInfo(c *fiber.Ctx, device map[string]string) services.ClientInfo {
	return services.ClientInfo{
		UserAgent: c.Get(fiber.HeaderUserAgent),
		IP:        c.IP(),
		Device:    device,
	}
}

func authResponse(res *services.LoginResult) dto.AuthResponse {
	return dto.AuthResponse{
		TokenResponse: tokenResponse(&res.TokenPair),
		User:          dto.UserResponse{ID: res.Account.ID, Email: res.Account.Email},
	}
}

func tokenResponse(pair *services.TokenPair) dto.TokenResponse {
	return dto.TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        pair.SessionID,
	}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	res, err := h.authService.RegisterAndLogin(c.UserContext(), req.Email, req.Password, clientInfo(c, req.Device))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(authResponse(res))
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	res, err := h.authService.Login(c.UserContext(), req.Email, req.Password, clientInfo(c, req.Device))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(authResponse(res))
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return errorJSON(c, fiber.StatusBadRequest, "refresh_token is required")
	}

	pair, err := h.authService.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(tokenResponse(pair))
}

// Logout always succeeds.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.authService.Logout(c.UserContext(), services.ExtractBearer(c.Get(fiber.HeaderAuthorization)))
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

func (h *AuthHandler) AppleSignIn(c *fiber.Ctx) error {
	var req dto.AppleSignInRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.IdentityToken == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Identity token is required")
	}

	res, err := h.authService.LoginFederated(c.UserContext(), req.IdentityToken, req.Email, clientInfo(c, req.Device))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(authResponse(res))
}

// WebLogin starts a browser session and sets it as an HttpOnly cookie.
func (h *AuthHandler) WebLogin(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	acct, err := h.authService.VerifyCredentials(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}

	raw, expiresAt, err := h.browser.StartBrowserSession(c.UserContext(), acct.ID)
	if err != nil {
		return respondError(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    raw,
		Path:     "/",
		Expires:  expiresAt,
		HTTPOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(dto.UserResponse{ID: acct.ID, Email: acct.Email})
}

func (h *AuthHandler) WebLogout(c *fiber.Ctx) error {
	if err := h.browser.EndBrowserSession(c.UserContext(), c.Cookies(h.cfg.SessionCookieName)); err != nil {
		slog.Warn("browser session end failed", "error", err)
	}
	c.ClearCookie(h.cfg.SessionCookieName)
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}
