package routes

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type Handlers struct {
	Auth    *handlers.AuthHandler
	Session *handlers.SessionHandler
	Profile *handlers.ProfileHandler
	Admin   *handlers.AdminHandler
	Health  *handlers.HealthHandler
}

func Setup(app *fiber.App, cfg *config.Config, resolver *services.DualAuthResolver, h Handlers) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", h.Health.Check)

	// Auth: public, stricter limit (10 req/min per IP)
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/register", h.Auth.Register)
	auth.Post("/login", h.Auth.Login)
	auth.Post("/refresh", h.Auth.Refresh)
	auth.Post("/apple", h.Auth.AppleSignIn)
	auth.Post("/web/login", h.Auth.WebLogin)

	// Logout never requires a valid credential
	auth.Post("/logout", h.Auth.Logout)
	auth.Post("/web/logout", h.Auth.WebLogout)

	requireAuth := middleware.RequireAuth(resolver, cfg.SessionCookieName)

	api.Get("/me", requireAuth, h.Profile.Me)
	api.Put("/me/profile", requireAuth, h.Profile.Update)

	sessions := api.Group("/sessions", requireAuth)
	sessions.Get("/", h.Session.List)
	sessions.Delete("/", h.Session.RevokeAll)
	sessions.Delete("/:id", h.Session.Revoke)

	// Admin: signed access token, not revoked, listed in config
	admin := api.Group("/admin", middleware.JWTProtected(cfg), requireAuth, middleware.AdminRequired(cfg))
	admin.Post("/users/:id/revoke", h.Admin.ForceLogout)
}
