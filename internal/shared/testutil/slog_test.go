package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogCaptureKeepsDerivedAttributes(t *testing.T) {
	logger, logs := NewTestLogger(t)

	component := logger.With(slog.String("component", "listener"))
	component.Warn("buffer full", slog.Int("dropped", 3))
	component.WithGroup("http").Info("served", slog.Int("status", 200))

	records := logs.Records()
	require.Len(t, records, 2)
	assert.Equal(t, map[string]any{"component": "listener", "dropped": int64(3)}, records[0].Attrs)
	assert.Equal(t, int64(200), records[1].Attrs["http.status"])

	r := AssertLogged(t, logs, slog.LevelWarn, "buffer")
	assert.Equal(t, "buffer full", r.Message)

	_, ok := logs.Find(slog.LevelError, "buffer")
	assert.False(t, ok)
	AssertNoErrors(t, logs)
}

func TestLogCaptureMatchesLevelExactly(t *testing.T) {
	logger, logs := NewTestLogger(t)

	logger.Debug("retrying connect")
	logger.Info("connected")
	logger.Error("connect failed", slog.String("error", "refused"))

	_, ok := logs.Find(slog.LevelInfo, "connect failed")
	assert.False(t, ok)

	r, ok := logs.Find(slog.LevelError, "connect")
	require.True(t, ok)
	assert.Equal(t, "refused", r.Attrs["error"])

	r = AssertLogged(t, logs, slog.LevelDebug, "retrying")
	assert.Empty(t, r.Attrs)
}
