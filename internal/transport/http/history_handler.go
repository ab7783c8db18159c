package http

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "progresshub/internal/errors"
	"progresshub/internal/exporter"
	"progresshub/internal/infrastructure"
	appmw "progresshub/internal/middleware"
	"progresshub/internal/persistence"
	api "progresshub/pkg/contracts/api/v1"
	"progresshub/pkg/contracts/domain"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// HistoryHandler serves persisted progress from the SQLite store
type HistoryHandler struct {
	store        HistoryStore
	errorHandler *apperrors.ErrorHandler
	validator    *appmw.QueryParamValidator
	logger       *slog.Logger
}

// NewHistoryHandler creates a history handler. A nil store answers 503 on every route.
func NewHistoryHandler(store HistoryStore, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *HistoryHandler {
	logger = infrastructure.ComponentLogger(logger, "history_handler")
	return &HistoryHandler{
		store:        store,
		errorHandler: errorHandler,
		validator:    appmw.NewQueryParamValidator(logger, errorHandler),
		logger:       logger,
	}
}

// storedOperationsResponse is returned by GET /api/history
type storedOperationsResponse struct {
	Operations []persistence.StoredOperation `json:"operations"`
	Count      int                           `json:"count"`
}

// ListOperations handles GET /api/history
func (h *HistoryHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops, ok := h.storedOperations(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, storedOperationsResponse{Operations: ops, Count: len(ops)})
}

// ExportOperations handles GET /api/history/export
func (h *HistoryHandler) ExportOperations(w http.ResponseWriter, r *http.Request) {
	format, ok := h.exportFormat(w, r)
	if !ok {
		return
	}
	ops, ok := h.storedOperations(w, r)
	if !ok {
		return
	}

	name := "operations-" + time.Now().UTC().Format("20060102T150405")
	h.export(w, r, format, name, exporter.OperationsTable(ops))
}

// storedOperations reads the status, type and limit filters and queries the
// store. It writes the error response itself and reports false on failure.
func (h *HistoryHandler) storedOperations(w http.ResponseWriter, r *http.Request) ([]persistence.StoredOperation, bool) {
	if h.store == nil {
		h.errorHandler.HandleError(w, r, apperrors.ErrHistoryDisabled)
		return nil, false
	}

	req := api.ListOperationsRequest{
		Status: r.URL.Query().Get("status"),
		Type:   r.URL.Query().Get("type"),
	}
	if !h.validator.ValidateStruct(w, r, &req) {
		return nil, false
	}
	limit, ok := h.validator.ValidateInt(w, r, "limit", 1, maxHistoryLimit, defaultHistoryLimit)
	if !ok {
		return nil, false
	}

	ops, err := h.store.ListOperations(r.Context(), persistence.ListFilter{
		Status: domain.OperationStatus(req.Status),
		Type:   req.Type,
		Limit:  limit,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return nil, false
	}
	if ops == nil {
		ops = []persistence.StoredOperation{}
	}
	return ops, true
}

// OperationHistory handles GET /api/operations/{id}/history
func (h *HistoryHandler) OperationHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, ok := h.history(w, r, id)
	if !ok {
		return
	}

	h.logger.DebugContext(r.Context(), "history served",
		slog.String("operation_id", id),
		slog.Int("events", len(events)))

	render.JSON(w, r, api.HistoryResponse{OperationID: id, Events: events})
}

// ExportOperationHistory handles GET /api/operations/{id}/history/export
func (h *HistoryHandler) ExportOperationHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format, ok := h.exportFormat(w, r)
	if !ok {
		return
	}
	events, ok := h.history(w, r, id)
	if !ok {
		return
	}

	h.export(w, r, format, id+"-history", exporter.HistoryTable(id, events))
}

func (h *HistoryHandler) history(w http.ResponseWriter, r *http.Request, id string) ([]domain.ProgressData, bool) {
	if h.store == nil {
		h.errorHandler.HandleError(w, r, apperrors.ErrHistoryDisabled)
		return nil, false
	}

	limit, ok := h.validator.ValidateInt(w, r, "limit", 1, maxHistoryLimit, defaultHistoryLimit)
	if !ok {
		return nil, false
	}
	if !h.validator.ValidateStruct(w, r, &api.HistoryRequest{Limit: limit}) {
		return nil, false
	}

	if _, err := h.store.GetOperation(r.Context(), id); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return nil, false
	}

	events, err := h.store.History(r.Context(), id, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return nil, false
	}
	if events == nil {
		events = []domain.ProgressData{}
	}
	return events, true
}

func (h *HistoryHandler) exportFormat(w http.ResponseWriter, r *http.Request) (exporter.Format, bool) {
	value, ok := h.validator.ValidateEnum(w, r, "format", exporter.Formats, string(exporter.FormatCSV))
	if !ok {
		return "", false
	}
	format, err := exporter.ParseFormat(value)
	if err != nil {
		h.errorHandler.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return "", false
	}
	return format, true
}

// export buffers the whole document so an encoding failure still yields a problem response
func (h *HistoryHandler) export(w http.ResponseWriter, r *http.Request, format exporter.Format, name string, table exporter.Table) {
	var buf bytes.Buffer
	if err := exporter.Write(&buf, format, table); err != nil {
		h.errorHandler.HandleError(w, r, fmt.Errorf("export %s: %w", name, err))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"."+format.Extension()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.WarnContext(r.Context(), "export write failed",
			slog.String("file", name),
			slog.String("error", err.Error()))
		return
	}

	h.logger.InfoContext(r.Context(), "history exported",
		slog.String("file", name+"."+format.Extension()),
		slog.Int("rows", len(table.Rows)),
		slog.Int("bytes", buf.Len()))
}
