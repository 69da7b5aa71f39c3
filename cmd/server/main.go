package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/routes"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	// .env is optional; real environment wins
	_ = godotenv.Load()

	cfg := config.Load()

	// Structured logging (JSON to stdout)
	logging.Setup(cfg.AppEnv)

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.MigrateAuth(); err != nil {
		slog.Error("auth migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.AttachDatabase(database.DB, cfg.AppEnv)

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	clk := clock.Real()

	// Identity
	var federated services.FederatedVerifier
	var apple *services.AppleVerifier
	if len(cfg.AppleBundleIDs) > 0 {
		apple = services.NewAppleVerifier(cfg.AppleJWKSURL, cfg.AppleBundleIDs, clk)
		federated = apple
	} else {
		slog.Warn("APPLE_BUNDLE_IDS not set, Sign in with Apple disabled")
	}
	identityProvider := services.NewLocalIdentityProvider(database.DB, federated, cfg.SessionCookieTTL, clk)
	identity := services.NewIdentityResolver(identityProvider)

	profileCache, err := services.NewProfileCache(cfg.ProfileCacheEntries, cfg.ProfileCacheTTL, clk)
	if err != nil {
		slog.Error("profile cache init failed", "error", err)
		os.Exit(1)
	}
	identityProvider.OnProfileChange(profileCache.Invalidate)

	// Token lifecycle
	codec := services.NewTokenCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry, clk)
	stores := services.NewGormAuthStores(database.DB, clk)
	authService := services.NewAuthService(codec, identity, identityProvider, stores, services.NewGormTxRunner(database.DB, clk), clk)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		authService.SetLimiter(services.NewRedisLoginLimiter(redisClient, cfg.LoginAttemptLimit, cfg.LoginAttemptWindow))
		slog.Info("login attempt limiter enabled", "limit", cfg.LoginAttemptLimit, "window", cfg.LoginAttemptWindow)
	}

	resolver := services.NewDualAuthResolver(codec, stores.Revocations, stores.Sessions, identity, profileCache)

	// Housekeeping
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitor := newJanitor(cfg, stores, identityProvider, clk)
	janitor.Start(janitorCtx)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, resolver, routes.Handlers{
		Auth:    handlers.NewAuthHandler(authService, identityProvider, cfg),
		Session: handlers.NewSessionHandler(authService),
		Profile: handlers.NewProfileHandler(identityProvider),
		Admin:   handlers.NewAdminHandler(authService),
		Health:  handlers.NewHealthHandler(database.Ping),
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	stopJanitor()
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	profileCache.Close()
	if apple != nil {
		apple.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}
	if err := database.Close(); err != nil {
		slog.Error("database close error", "error", err)
	}

	slog.Info("server stopped")
}

func newJanitor(cfg *config.Config, stores services.AuthStores, identity *services.LocalIdentityProvider, clk clock.Clock) *services.Janitor {
	j := services.NewJanitor(cfg.PruneInterval)
	j.Add("revoked_tokens", stores.Revocations.Prune)
	j.Add("rotation_records", stores.Rotations.Prune)
	j.Add("browser_sessions", identity.PruneBrowserSessions)
	j.Add("system_logs", func(ctx context.Context) (int64, error) {
		return logging.PruneSystemLogs(ctx, database.DB, clk.Now(), cfg.LogRetention)
	})
	return j
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
