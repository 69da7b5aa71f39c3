package logging

import (
	"log/slog"
	"os"

	"gorm.io/gorm"
)

func levelFor(appEnv string) slog.Level {
	if appEnv == "development" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Setup initializes the global slog logger with JSON output to stdout.
func Setup(appEnv string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelFor(appEnv),
	})
	slog.SetDefault(slog.New(handler))
}

// AttachDatabase adds the system_logs sink next to stdout. The caller stops
// the returned handler on shutdown.
func AttachDatabase(db *gorm.DB, appEnv string) *PGHandler {
	pg := NewPGHandler(db)
	slog.SetDefault(slog.New(NewMultiHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelFor(appEnv)}),
		pg,
	)))
	return pg
}
