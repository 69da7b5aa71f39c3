package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

type reuseEvent struct {
	Subject    string
	FamilyID   string
	TokenID    string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	DetectedAt time.Time
	Revoked    int64
	Sessions   int64
}

// reportReuse logs a confirmed replay and forwards it to Sentry.
func reportReuse(ev reuseEvent) {
	slog.Error("refresh token reuse detected",
		"action", "reuse_detected",
		"user_id", ev.Subject,
		"family_id", ev.FamilyID,
		"token_id", ev.TokenID,
		"issued_at", ev.IssuedAt,
		"expires_at", ev.ExpiresAt,
		"detected_at", ev.DetectedAt,
		"revoked_tokens", ev.Revoked,
		"ended_sessions", ev.Sessions,
	)

	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("security_event", "refresh_token_reuse")
		scope.SetTag("family_id", ev.FamilyID)
		scope.SetUser(sentry.User{ID: ev.Subject})
		hub.CaptureMessage("refresh token reuse detected")
	})
}

func logUpstream(ctx context.Context, op, subject string, err error) {
	slog.ErrorContext(ctx, "auth storage unavailable",
		"action", "upstream_unavailable",
		"op", op,
		"user_id", subject,
		"error", err,
	)
}
