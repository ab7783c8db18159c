package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"progresshub/internal/infrastructure"
	"progresshub/pkg/contracts"
	api "progresshub/pkg/contracts/api/v1"
	"progresshub/pkg/contracts/domain"
)

// HealthHandler handles health and status requests
type HealthHandler struct {
	operations  OperationService
	hub         HubStats
	persistence bool
	startedAt   time.Time
	now         func() time.Time
	logger      *slog.Logger
}

// NewHealthHandler creates a new health handler. hub may be nil before the
// BroadcastServer is wired.
func NewHealthHandler(ops OperationService, hub HubStats, persistence bool, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		operations:  ops,
		hub:         hub,
		persistence: persistence,
		startedAt:   time.Now(),
		now:         time.Now,
		logger:      infrastructure.ComponentLogger(logger, "health_handler"),
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.HealthResponse{
		Status:  "ok",
		Version: contracts.Version,
		Uptime:  h.now().Sub(h.startedAt).Truncate(time.Second).String(),
	})
}

// Version handles GET /api/version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, contracts.GetVersionInfo())
}

// Status handles GET /api/status
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	stats := h.operations.Stats()
	resp := api.StatusResponse{
		Status:    "ok",
		StartedAt: domain.NewTimestamp(h.startedAt),
		Operations: api.OperationCounts{
			Total:    stats.Total,
			Active:   stats.Active,
			Terminal: stats.Terminal,
		},
		Persistence: h.persistence,
	}

	if h.hub != nil {
		hs := h.hub.Stats()
		resp.WebSocket = api.HubStatus{
			ActiveClients:    int(hs.ActiveClients),
			TotalConnections: hs.TotalConnections,
			MessagesSent:     hs.MessagesSent,
			MessagesReceived: hs.MessagesReceived,
			DroppedClients:   hs.DroppedClients,
		}
	}

	h.logger.DebugContext(r.Context(), "status served",
		slog.Int("operations", stats.Total),
		slog.Int("clients", resp.WebSocket.ActiveClients))

	render.JSON(w, r, resp)
}
