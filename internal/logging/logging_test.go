package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newBufferedPGHandler returns a handler without a flush loop or database.
func newBufferedPGHandler() *PGHandler {
	buf := make([]models.SystemLog, 0, 50)
	return &PGHandler{mu: &sync.Mutex{}, buffer: &buf}
}

func TestPGHandler_MapsSecurityFields(t *testing.T) {
	h := newBufferedPGHandler()
	log := slog.New(h)

	log.Info("login", "user_id", "u-1")
	log.Error("refresh token reuse detected",
		"action", "reuse_detected",
		"user_id", "u-1",
		"family_id", "fam-1",
		"request_id", "req-1",
		"error", errors.New("replayed"),
		"latency_ms", 12.6,
		"token_id", "tok-1",
	)

	batch := h.drain()
	require.Len(t, batch, 1)
	entry := batch[0]
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "refresh token reuse detected", entry.Message)
	assert.Equal(t, "reuse_detected", entry.Action)
	assert.Equal(t, "fam-1", entry.FamilyID)
	assert.Equal(t, "req-1", entry.TraceID)
	assert.Equal(t, "replayed", entry.Error)
	assert.Equal(t, 13, entry.LatencyMs)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "u-1", *entry.UserID)

	var extra map[string]string
	require.NoError(t, json.Unmarshal(entry.Extra, &extra))
	assert.Equal(t, map[string]string{"token_id": "tok-1"}, extra)

	assert.Empty(t, h.drain())
}

func TestPGHandler_WithAttrsSharesBuffer(t *testing.T) {
	h := newBufferedPGHandler()
	child := slog.New(h).With("family_id", "fam-9", "latency_ms", int64(40))

	child.Error("rotation failed")
	slog.New(h).Error("other")

	batch := h.drain()
	require.Len(t, batch, 2)
	assert.Equal(t, "fam-9", batch[0].FamilyID)
	assert.Equal(t, 40, batch[0].LatencyMs)
	assert.Empty(t, batch[1].FamilyID)
}

func TestMultiHandler_FansOutByLevel(t *testing.T) {
	var out bytes.Buffer
	pg := newBufferedPGHandler()
	log := slog.New(NewMultiHandler(
		slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo}),
		pg,
	))

	log.Debug("dropped")
	log.Info("session touched", "session_id", "s-1")
	log.With("user_id", "u-1").Error("auth storage unavailable", "action", "upstream_unavailable")

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	assert.Len(t, lines, 2)
	assert.NotContains(t, out.String(), "dropped")

	batch := pg.drain()
	require.Len(t, batch, 1)
	assert.Equal(t, "upstream_unavailable", batch[0].Action)
	require.NotNil(t, batch[0].UserID)
	assert.Equal(t, "u-1", *batch[0].UserID)
}

func TestMultiHandler_Enabled(t *testing.T) {
	m := NewMultiHandler(newBufferedPGHandler())
	assert.False(t, m.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, m.Enabled(context.Background(), slog.LevelError))
}

type failingSink struct{ slog.Handler }

func (failingSink) Handle(context.Context, slog.Record) error { return errors.New("sink down") }

func TestMultiHandler_FailingSinkDoesNotStopOthers(t *testing.T) {
	var out bytes.Buffer
	jsonSink := slog.NewJSONHandler(&out, nil)
	m := NewMultiHandler(failingSink{jsonSink}, nil, jsonSink)

	rec := slog.NewRecord(time.Now(), slog.LevelWarn, "limiter unavailable", 0)
	err := m.Handle(context.Background(), rec)

	assert.EqualError(t, err, "sink down")
	assert.Contains(t, out.String(), "limiter unavailable")
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, levelFor("development"))
	assert.Equal(t, slog.LevelInfo, levelFor("production"))
}

func TestPruneSystemLogs(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM "system_logs" WHERE timestamp < \$1`).
		WithArgs(now.Add(-720 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := PruneSystemLogs(context.Background(), db, now, 720*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
