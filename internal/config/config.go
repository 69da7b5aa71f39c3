package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret        string
	JWTIssuer        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration

	// Federated identity (Sign in with Apple)
	AppleBundleIDs []string
	AppleJWKSURL   string

	// Browser session cookie
	SessionCookieName string
	SessionCookieTTL  time.Duration
	CookieSecure      bool

	// Profile identity cache
	ProfileCacheTTL     time.Duration
	ProfileCacheEntries int64

	// Housekeeping
	PruneInterval time.Duration
	LogRetention  time.Duration

	// Login attempt limiter (Redis, optional)
	RedisAddr          string
	RedisPassword      string
	LoginAttemptLimit  int
	LoginAttemptWindow time.Duration

	// Admin
	AdminEmails  string
	AdminUserIDs string

	// Observability
	SentryDSN string
	AppEnv    string

	// Server
	Port        string
	CORSOrigins string
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "powder_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTIssuer:        getEnv("JWT_ISSUER", "powder-backend"),
		JWTAccessExpiry:  parseDuration(getEnv("JWT_ACCESS_EXPIRY", "15m"), 15*time.Minute),
		JWTRefreshExpiry: parseDuration(getEnv("JWT_REFRESH_EXPIRY", "720h"), 30*24*time.Hour),

		AppleBundleIDs: parseCSV(getEnv("APPLE_BUNDLE_IDS", "")),
		AppleJWKSURL:   getEnv("APPLE_JWKS_URL", "https://appleid.apple.com/auth/keys"),

		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "powder_session"),
		SessionCookieTTL:  parseDuration(getEnv("SESSION_COOKIE_TTL", "336h"), 14*24*time.Hour),
		CookieSecure:      parseBool(getEnv("COOKIE_SECURE", "true"), true),

		ProfileCacheTTL:     parseDuration(getEnv("PROFILE_CACHE_TTL", "5m"), 5*time.Minute),
		ProfileCacheEntries: int64(parseInt(getEnv("PROFILE_CACHE_ENTRIES", "10000"), 10000)),

		PruneInterval: parseDuration(getEnv("PRUNE_INTERVAL", "1h"), time.Hour),
		LogRetention:  parseDuration(getEnv("LOG_RETENTION", "720h"), 30*24*time.Hour),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		LoginAttemptLimit:  parseInt(getEnv("LOGIN_ATTEMPT_LIMIT", "10"), 10),
		LoginAttemptWindow: parseDuration(getEnv("LOGIN_ATTEMPT_WINDOW", "15m"), 15*time.Minute),

		AdminEmails:  getEnv("ADMIN_EMAILS", ""),
		AdminUserIDs: getEnv("ADMIN_USER_IDS", ""),

		SentryDSN: getEnv("SENTRY_DSN", ""),
		AppEnv:    getEnv("APP_ENV", "development"),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}

// ParseCSV splits a comma-separated list, dropping blanks.
func ParseCSV(s string) []string {
	return parseCSV(s)
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
