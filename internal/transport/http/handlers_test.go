package http

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "progresshub/internal/errors"
	"progresshub/internal/infrastructure"
	"progresshub/internal/operations"
	"progresshub/internal/persistence"
	"progresshub/internal/websocket"
	"progresshub/pkg/contracts"
	api "progresshub/pkg/contracts/api/v1"
	"progresshub/pkg/contracts/domain"
)

type fakeHub struct {
	stats websocket.Stats
}

func (f fakeHub) Stats() websocket.Stats { return f.stats }

type testAPI struct {
	registry *operations.Registry
	store    *persistence.Store
	router   chi.Router
}

// newTestAPI mounts every handler the way the application router does.
// withHistory controls whether a SQLite store backs the history routes.
func newTestAPI(t *testing.T, withHistory bool) *testAPI {
	t.Helper()

	logger := infrastructure.DiscardLogger()
	registry := operations.NewRegistry(operations.NewConfig(), logger)
	t.Cleanup(registry.Close)

	errorHandler := apperrors.NewErrorHandler(logger, false)
	env := &testAPI{registry: registry}

	var history HistoryStore
	if withHistory {
		store, err := persistence.NewStore(context.Background(), persistence.StoreConfig{
			DBPath: filepath.Join(t.TempDir(), "progress.db"),
			Logger: logger,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		env.store = store
		history = store
	}

	hub := fakeHub{stats: websocket.Stats{ActiveClients: 2, TotalConnections: 5, MessagesSent: 40, DroppedClients: 1}}
	health := NewHealthHandler(registry, hub, withHistory, logger)
	ops := NewOperationsHandler(registry, errorHandler, logger)
	hist := NewHistoryHandler(history, errorHandler, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.HealthCheck)
		r.Get("/version", health.Version)
		r.Get("/status", health.Status)
		r.Mount("/operations", ops.Routes(hist))
		r.Get("/history", hist.ListOperations)
		r.Get("/history/export", hist.ExportOperations)
	})
	env.router = r
	return env
}

func (e *testAPI) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthHandler(t *testing.T) {
	e := newTestAPI(t, false)

	rec := e.do(t, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[api.HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, contracts.Version, health.Version)

	rec = e.do(t, http.MethodGet, "/api/version")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[contracts.VersionInfo](t, rec)
	assert.Equal(t, contracts.Version, info.Version)
	assert.NotEmpty(t, info.ProtocolVersion)
}

func TestStatusHandler(t *testing.T) {
	e := newTestAPI(t, true)
	ctx := context.Background()

	running, err := e.registry.NewOperation(ctx, "import", "running one")
	require.NoError(t, err)
	running.ReportProgress(ctx, 10)
	done, err := e.registry.NewOperation(ctx, "import", "done one")
	require.NoError(t, err)
	done.ReportCompleted(ctx, nil)

	rec := e.do(t, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	status := decode[api.StatusResponse](t, rec)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, api.OperationCounts{Total: 2, Active: 1, Terminal: 1}, status.Operations)
	assert.Equal(t, 2, status.WebSocket.ActiveClients)
	assert.Equal(t, int64(5), status.WebSocket.TotalConnections)
	assert.Equal(t, int64(40), status.WebSocket.MessagesSent)
	assert.Equal(t, int64(1), status.WebSocket.DroppedClients)
	assert.True(t, status.Persistence)
	assert.False(t, status.StartedAt.IsZero())
}

func TestListOperations(t *testing.T) {
	e := newTestAPI(t, false)
	ctx := context.Background()

	a, err := e.registry.NewOperation(ctx, "import", "a")
	require.NoError(t, err)
	a.ReportProgress(ctx, 30)
	_, err = e.registry.NewOperation(ctx, "export", "b")
	require.NoError(t, err)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{"all", "", http.StatusOK, 2},
		{"by status", "?status=running", http.StatusOK, 1},
		{"by type", "?type=export", http.StatusOK, 1},
		{"no match", "?status=failed", http.StatusOK, 0},
		{"invalid status", "?status=lost", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, "/api/operations/"+tt.query)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				problem := decode[map[string]any](t, rec)
				assert.Equal(t, apperrors.TypeValidation, problem["type"])
				return
			}
			resp := decode[api.ListOperationsResponse](t, rec)
			assert.Equal(t, tt.wantCount, resp.Count)
			assert.Len(t, resp.Operations, tt.wantCount)
		})
	}
}

func TestGetOperation(t *testing.T) {
	e := newTestAPI(t, false)
	ctx := context.Background()

	op, err := e.registry.NewOperation(ctx, "import", "scrape")
	require.NoError(t, err)
	op.ReportProgress(ctx, 40, operations.WithStep("download"), operations.WithTotalSteps(3))

	rec := e.do(t, http.MethodGet, "/api/operations/"+op.ID())
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.OperationResponse](t, rec)
	assert.Equal(t, op.ID(), resp.OperationID)
	assert.Equal(t, domain.OperationStatusRunning, resp.Details.Status)
	assert.InDelta(t, 40, resp.Details.Progress, 0.001)
	require.NotNil(t, resp.Details.CurrentStep)
	assert.Equal(t, "download", *resp.Details.CurrentStep)

	rec = e.do(t, http.MethodGet, "/api/operations/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
	problem := decode[map[string]any](t, rec)
	assert.Equal(t, apperrors.TypeOperationNotFound, problem["type"])
	assert.Equal(t, "Operation not found: missing", problem["detail"])
}

func TestCancelOperation(t *testing.T) {
	e := newTestAPI(t, false)
	ctx := context.Background()

	op, err := e.registry.NewOperation(ctx, "import", "long")
	require.NoError(t, err)
	op.ReportProgress(ctx, 5)

	rec := e.do(t, http.MethodPost, "/api/operations/"+op.ID()+"/cancel")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, api.CancelResponse{OperationID: op.ID(), Success: true}, decode[api.CancelResponse](t, rec))
	assert.Equal(t, domain.OperationStatusCanceled, op.Status())

	// already terminal
	rec = e.do(t, http.MethodPost, "/api/operations/"+op.ID()+"/cancel")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[api.CancelResponse](t, rec).Success)

	rec = e.do(t, http.MethodPost, "/api/operations/missing/cancel")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/operations/"+op.ID()+"/cancel")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func recordLifecycle(t *testing.T, store *persistence.Store, id, opType string, status domain.OperationStatus, progress ...float64) {
	t.Helper()
	start := time.Now().Add(-time.Minute)
	for i, p := range progress {
		st := domain.OperationStatusRunning
		if i == len(progress)-1 {
			st = status
		}
		require.NoError(t, store.Record(context.Background(), domain.ProgressData{
			OperationID:   id,
			OperationType: opType,
			Name:          id,
			Timestamp:     domain.NewTimestamp(start.Add(time.Duration(i) * time.Second)),
			Progress:      p,
			Status:        st,
			StartTime:     domain.NewTimestamp(start),
		}))
	}
}

func TestOperationHistory(t *testing.T) {
	e := newTestAPI(t, true)
	recordLifecycle(t, e.store, "op-1", "import", domain.OperationStatusCompleted, 0, 25, 50, 75, 100)

	rec := e.do(t, http.MethodGet, "/api/operations/op-1/history")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.HistoryResponse](t, rec)
	assert.Equal(t, "op-1", resp.OperationID)
	require.Len(t, resp.Events, 5)
	assert.InDelta(t, 0, resp.Events[0].Progress, 0.001)
	assert.Equal(t, domain.OperationStatusCompleted, resp.Events[4].Status)

	rec = e.do(t, http.MethodGet, "/api/operations/op-1/history?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[api.HistoryResponse](t, rec)
	require.Len(t, resp.Events, 2)
	assert.InDelta(t, 75, resp.Events[0].Progress, 0.001)

	rec = e.do(t, http.MethodGet, "/api/operations/op-1/history?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/operations/ghost/history")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.TypeHistoryNotFound, decode[map[string]any](t, rec)["type"])
}

func TestHistoryList(t *testing.T) {
	e := newTestAPI(t, true)
	recordLifecycle(t, e.store, "op-1", "import", domain.OperationStatusCompleted, 0, 100)
	recordLifecycle(t, e.store, "op-2", "export", domain.OperationStatusFailed, 0, 40)

	rec := e.do(t, http.MethodGet, "/api/history")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[storedOperationsResponse](t, rec)
	assert.Equal(t, 2, all.Count)

	rec = e.do(t, http.MethodGet, "/api/history?status=failed")
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decode[storedOperationsResponse](t, rec)
	require.Equal(t, 1, failed.Count)
	assert.Equal(t, "op-2", failed.Operations[0].OperationID)
	assert.NotNil(t, failed.Operations[0].EndTime)

	rec = e.do(t, http.MethodGet, "/api/history?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryExport(t *testing.T) {
	e := newTestAPI(t, true)
	recordLifecycle(t, e.store, "op-1", "import", domain.OperationStatusCompleted, 0, 50, 100)
	recordLifecycle(t, e.store, "op-2", "export", domain.OperationStatusFailed, 0, 40)

	rec := e.do(t, http.MethodGet, "/api/history/export?type=import")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
	body := bytes.TrimPrefix(rec.Body.Bytes(), []byte{0xEF, 0xBB, 0xBF})
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "operation_id", records[0][0])
	assert.Equal(t, "op-1", records[1][0])

	rec = e.do(t, http.MethodGet, "/api/operations/op-1/history/export?format=xlsx")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename="op-1-history.xlsx"`, rec.Header().Get("Content-Disposition"))
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("History")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "completed", rows[3][2])

	rec = e.do(t, http.MethodGet, "/api/history/export?format=pdf")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/operations/ghost/history/export")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryDisabled(t *testing.T) {
	e := newTestAPI(t, false)

	for _, target := range []string{"/api/history", "/api/history/export", "/api/operations/op-1/history", "/api/operations/op-1/history/export"} {
		rec := e.do(t, http.MethodGet, target)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
		problem := decode[map[string]any](t, rec)
		assert.Equal(t, apperrors.TypeServiceDown, problem["type"])
		assert.Equal(t, "HISTORY_DISABLED", problem["error_code"])
	}
}
