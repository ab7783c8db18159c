package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "progresshub/internal/errors"
	"progresshub/internal/infrastructure"
	appmw "progresshub/internal/middleware"
	api "progresshub/pkg/contracts/api/v1"
	"progresshub/pkg/contracts/domain"
)

// OperationsHandler handles operation-related HTTP requests
type OperationsHandler struct {
	service      OperationService
	errorHandler *apperrors.ErrorHandler
	validator    *appmw.QueryParamValidator
	tracer       trace.Tracer
	logger       *slog.Logger
}

// NewOperationsHandler creates a new operations handler
func NewOperationsHandler(service OperationService, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *OperationsHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	logger = infrastructure.ComponentLogger(logger, "operations_handler")

	return &OperationsHandler{
		service:      service,
		errorHandler: errorHandler,
		validator:    appmw.NewQueryParamValidator(logger, errorHandler),
		tracer:       otel.Tracer(infrastructure.InstrumentationName + "/http"),
		logger:       logger,
	}
}

// Routes returns a chi router for operations endpoints. history may be nil.
func (h *OperationsHandler) Routes(history *HistoryHandler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListOperations)
	r.Get("/{id}", h.GetOperation)
	r.Post("/{id}/cancel", h.CancelOperation)
	if history != nil {
		r.Get("/{id}/history", history.OperationHistory)
		r.Get("/{id}/history/export", history.ExportOperationHistory)
	}
	return r
}

// ListOperations handles GET /api/operations
func (h *OperationsHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	req := api.ListOperationsRequest{
		Status: r.URL.Query().Get("status"),
		Type:   r.URL.Query().Get("type"),
	}
	if !h.validator.ValidateStruct(w, r, &req) {
		return
	}

	all := h.service.ListOperations()
	ops := make([]domain.OperationSummary, 0, len(all))
	for _, op := range all {
		if req.Status != "" && string(op.Status) != req.Status {
			continue
		}
		if req.Type != "" && op.OperationType != req.Type {
			continue
		}
		ops = append(ops, op)
	}

	render.JSON(w, r, api.ListOperationsResponse{Operations: ops, Count: len(ops)})
}

// GetOperation handles GET /api/operations/{id}
func (h *OperationsHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	details, ok := h.service.OperationDetails(id)
	if !ok {
		h.errorHandler.HandleError(w, r, apperrors.OperationNotFoundError(id))
		return
	}

	render.JSON(w, r, api.OperationResponse{OperationID: id, Details: details})
}

// CancelOperation handles POST /api/operations/{id}/cancel. Unknown IDs are a
// 404; a known operation that already finished answers success=false.
func (h *OperationsHandler) CancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := h.tracer.Start(r.Context(), "operations_handler.cancel",
		trace.WithAttributes(
			attribute.String("operation.id", id),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		),
	)
	defer span.End()

	if _, ok := h.service.OperationDetails(id); !ok {
		h.errorHandler.HandleError(w, r, apperrors.OperationNotFoundError(id))
		return
	}

	success := h.service.CancelOperation(ctx, id)
	span.SetAttributes(attribute.Bool("operation.canceled", success))

	h.logger.InfoContext(ctx, "cancel requested over http",
		slog.String("operation_id", id),
		slog.Bool("success", success))

	render.JSON(w, r, api.CancelResponse{OperationID: id, Success: success})
}
