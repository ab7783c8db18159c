package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresshub/internal/operations"
	"progresshub/internal/persistence"
)

func newTestHandler(t *testing.T, includeStack bool) (*ErrorHandler, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewErrorHandler(logger, includeStack), &buf
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_ErrorToProblem(t *testing.T) {
	type request struct {
		OperationID string `validate:"required"`
	}
	valErr := validator.New().Struct(request{})
	require.Error(t, valErr)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"canceled", fmt.Errorf("list: %w", context.Canceled), http.StatusGatewayTimeout, TypeTimeout},
		{"api error", ErrInvalidRequest, http.StatusBadRequest, TypeValidation},
		{"api not found", OperationNotFoundError("x"), http.StatusNotFound, TypeOperationNotFound},
		{"validator", valErr, http.StatusBadRequest, TypeValidation},
		{"registry not found", fmt.Errorf("cancel x: %w", operations.ErrOperationNotFound), http.StatusNotFound, TypeOperationNotFound},
		{"history not found", fmt.Errorf("history: %w", persistence.ErrNotFound), http.StatusNotFound, TypeHistoryNotFound},
		{"finished", operations.ErrOperationFinished, http.StatusConflict, TypeOperationFinished},
		{"duplicate", operations.ErrDuplicateOperation, http.StatusConflict, TypeConflict},
		{"closed", operations.ErrRegistryClosed, http.StatusServiceUnavailable, TypeServiceDown},
		{"operation validation", operations.NewValidationError("load", "bad input"), http.StatusBadRequest, TypeValidation},
		{"operation execution", operations.NewExecutionError("load", fmt.Errorf("io"), false), http.StatusInternalServerError, TypeInternal},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, TypeInternal},
	}

	h, _ := newTestHandler(t, false)
	r := httptest.NewRequest(http.MethodGet, "/api/operations/x", nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := h.ErrorToProblem(tt.err, r)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, "/api/operations/x", p.Instance)
		})
	}
}

func TestErrorHandler_ValidationFieldsListed(t *testing.T) {
	type request struct {
		OperationID string `validate:"required"`
	}
	h, _ := newTestHandler(t, false)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	p := h.ErrorToProblem(validator.New().Struct(request{}), r)
	fields, ok := p.Extensions["errors"].([]ValidationError)
	require.True(t, ok)
	require.Len(t, fields, 1)
	assert.Equal(t, "OperationID", fields[0].Field)
	assert.Equal(t, "failed required validation", fields[0].Message)
}

func TestErrorHandler_HandleError(t *testing.T) {
	h, logs := newTestHandler(t, false)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/operations/x/cancel", nil)

	h.HandleError(w, r, OperationNotFoundError("x"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeProblem(t, w)
	assert.Equal(t, TypeOperationNotFound, body["type"])
	assert.Equal(t, "OPERATION_NOT_FOUND", body["error_code"])
	assert.Contains(t, body, "request_id")
	assert.NotContains(t, body, "stack")
	assert.Contains(t, logs.String(), `"level":"WARN"`)
}

func TestErrorHandler_HandleErrorNil(t *testing.T) {
	h, _ := newTestHandler(t, false)
	w := httptest.NewRecorder()
	h.HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Zero(t, w.Body.Len())
}

func TestErrorHandler_StackOnlyForServerErrors(t *testing.T) {
	h, logs := newTestHandler(t, true)

	w := httptest.NewRecorder()
	h.HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("boom"))
	assert.Contains(t, decodeProblem(t, w), "stack")
	assert.Contains(t, logs.String(), `"level":"ERROR"`)

	w = httptest.NewRecorder()
	h.HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), ErrInvalidRequest)
	assert.NotContains(t, decodeProblem(t, w), "stack")
}

func TestErrorHandler_HandlePanic(t *testing.T) {
	h, logs := newTestHandler(t, true)
	w := httptest.NewRecorder()

	h.HandlePanic(w, httptest.NewRequest(http.MethodGet, "/boom", nil), "kaboom")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeProblem(t, w)
	assert.Equal(t, "kaboom", body["panic"])
	assert.Contains(t, logs.String(), "panic recovered")
}

func TestErrorHandler_NotFoundAndMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, false)

	w := httptest.NewRecorder()
	h.NotFound(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, TypeNotFound, decodeProblem(t, w)["type"])

	w = httptest.NewRecorder()
	h.MethodNotAllowed(w, httptest.NewRequest(http.MethodDelete, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	body := decodeProblem(t, w)
	assert.Equal(t, TypeMethodNotAllowed, body["type"])
	assert.Equal(t, "Method DELETE is not allowed for this endpoint", body["detail"])
}
