package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"progresshub/internal/infrastructure"
)

type otelFixture struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	mw     *OTelMiddleware
}

func newOTelFixture(t *testing.T) *otelFixture {
	t.Helper()

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	mw, err := NewOTelMiddleware(&infrastructure.OTelProviders{
		TracerProvider: tp,
		MeterProvider:  mp,
		Tracer:         tp.Tracer(infrastructure.InstrumentationName),
		Meter:          mp.Meter(infrastructure.InstrumentationName),
		Logger:         infrastructure.DiscardLogger(),
	})
	require.NoError(t, err)

	return &otelFixture{spans: spans, reader: reader, mw: mw}
}

func (f *otelFixture) requestCount(t *testing.T) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http_requests_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value(attribute.Key("route"))
				counts[route.AsString()] += dp.Value
			}
		}
	}
	return counts
}

func TestOTelMiddleware(t *testing.T) {
	f := newOTelFixture(t)

	r := chi.NewRouter()
	r.Use(f.mw.Handler)
	r.Get("/api/operations/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, infrastructure.GetTraceID(r.Context()))
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/api/health", okHandler)

	for _, path := range []string{"/api/operations/a", "/api/operations/b", "/api/health"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	counts := f.requestCount(t)
	assert.Equal(t, int64(2), counts["/api/operations/{id}"])
	assert.Equal(t, int64(1), counts["/api/health"])

	ended := f.spans.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "GET /api/operations/{id}", ended[0].Name())

	var status attribute.Value
	for _, kv := range ended[0].Attributes() {
		if kv.Key == "http.response.status_code" {
			status = kv.Value
		}
	}
	assert.Equal(t, int64(http.StatusNotFound), status.AsInt64())
}

func TestOTelMiddlewareMarksServerErrors(t *testing.T) {
	f := newOTelFixture(t)

	h := f.mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/status", nil))

	ended := f.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "Service Unavailable", ended[0].Status().Description)
}

func TestResponseWriterUnwraps(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	assert.Same(t, rec, rw.Unwrap())

	_, _, err := rw.Hijack()
	assert.Error(t, err, "httptest.ResponseRecorder cannot be hijacked")

	rw.Flush()
	assert.True(t, rec.Flushed)
}

func TestWebSocketTraceMiddleware(t *testing.T) {
	called := false
	h := WebSocketTraceMiddleware(infrastructure.DiscardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://ui.test")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, called)
}
