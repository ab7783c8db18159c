package errors

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func TestErrorMiddleware_LogsRequests(t *testing.T) {
	h, _ := newTestHandler(t, false)
	var buf bytes.Buffer
	m := NewErrorMiddleware(h, slog.New(slog.NewJSONHandler(&buf, nil)))

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	body := `{"operation_id":"x","token":"secret-value"}`
	r := httptest.NewRequest(http.MethodPost, "/api/operations/x/cancel?verbose=1", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"status":400`)
	assert.Contains(t, out, `"query":"verbose=1"`)
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "secret-value")
}

func TestErrorMiddleware_RecoversPanics(t *testing.T) {
	h, _ := newTestHandler(t, false)
	var buf bytes.Buffer
	m := NewErrorMiddleware(h, slog.New(slog.NewJSONHandler(&buf, nil)))

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, TypeInternal, decodeProblem(t, w)["type"])
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
}

func TestErrorMiddleware_LogsRequestID(t *testing.T) {
	h, _ := newTestHandler(t, false)
	var buf bytes.Buffer
	m := NewErrorMiddleware(h, slog.New(slog.NewJSONHandler(&buf, nil)))

	handler := middleware.RequestID(m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	r := httptest.NewRequest(http.MethodPost, "/api/operations/x/cancel", nil)
	r.Header.Set(middleware.RequestIDHeader, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	out := buf.String()
	assert.Contains(t, out, `"level":"INFO"`)
	assert.Contains(t, out, `"component":"error_middleware"`)
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"status":202`)
	assert.NotContains(t, out, "request_body")
}

func TestSanitizeRequestBody(t *testing.T) {
	assert.Equal(t, `{"password":"[REDACTED]","user":"a"}`, sanitizeRequestBody([]byte(`{"user":"a","password":"p"}`)))
	assert.Equal(t, "not json", sanitizeRequestBody([]byte("not json")))
}
