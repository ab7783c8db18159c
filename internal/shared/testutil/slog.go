// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
)

// LogRecord is one captured log call with its attributes flattened, including
// those added through Logger.With
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogCapture records every log call made through loggers derived from it
type LogCapture struct {
	mu      sync.Mutex
	records []LogRecord
	t       testing.TB
}

// NewTestLogger returns a logger writing into a fresh capture. Records are
// echoed with t.Logf so they show up for failing tests.
func NewTestLogger(t testing.TB) (*slog.Logger, *LogCapture) {
	c := &LogCapture{t: t}
	return slog.New(&captureHandler{capture: c}), c
}

func (c *LogCapture) add(r LogRecord) {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
	if c.t != nil {
		c.t.Logf("[%s] %s %v", r.Level, r.Message, r.Attrs)
	}
}

// Records returns a copy of everything captured so far
func (c *LogCapture) Records() []LogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.records)
}

// Find returns the first record at level whose message contains substr
func (c *LogCapture) Find(level slog.Level, substr string) (LogRecord, bool) {
	for _, r := range c.Records() {
		if r.Level == level && strings.Contains(r.Message, substr) {
			return r, true
		}
	}
	return LogRecord{}, false
}

// AssertLogged fails t unless a record at level contains substr. It returns that record.
func AssertLogged(t testing.TB, c *LogCapture, level slog.Level, substr string) LogRecord {
	t.Helper()
	r, ok := c.Find(level, substr)
	if !ok {
		t.Errorf("expected %s log containing %q", level, substr)
		for _, got := range c.Records() {
			t.Logf("  captured [%s] %s", got.Level, got.Message)
		}
	}
	return r
}

// AssertNoErrors fails t if anything was logged at error level
func AssertNoErrors(t testing.TB, c *LogCapture) {
	t.Helper()
	for _, r := range c.Records() {
		if r.Level >= slog.LevelError {
			t.Errorf("unexpected error log: %s %v", r.Message, r.Attrs)
		}
	}
}

type captureHandler struct {
	capture *LogCapture
	attrs   []slog.Attr
	group   string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = a.Value.Resolve().Any()
		return true
	})
	h.capture.add(LogRecord{Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		a.Key = h.key(a.Key)
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.group = h.key(name)
	return &next
}

func (h *captureHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}
