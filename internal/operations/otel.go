package operations

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"progresshub/internal/infrastructure"
	"progresshub/pkg/contracts/domain"
)

// Metrics are the registry's OpenTelemetry instruments
type Metrics struct {
	created       metric.Int64Counter
	finished      metric.Int64Counter
	cancellations metric.Int64Counter
	active        metric.Int64UpDownCounter
	duration      metric.Float64Histogram
}

// NewMetrics creates the instruments on meter, or on the global meter when nil
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(infrastructure.InstrumentationName)
	}

	created, err := meter.Int64Counter(
		"operations_created_total",
		metric.WithDescription("Total number of registered operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("operations_created_total: %w", err)
	}

	finished, err := meter.Int64Counter(
		"operations_finished_total",
		metric.WithDescription("Total number of operations reaching a terminal status"),
	)
	if err != nil {
		return nil, fmt.Errorf("operations_finished_total: %w", err)
	}

	cancellations, err := meter.Int64Counter(
		"operations_cancellations_total",
		metric.WithDescription("Total number of cancellation requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("operations_cancellations_total: %w", err)
	}

	active, err := meter.Int64UpDownCounter(
		"operations_active",
		metric.WithDescription("Number of registered operations not yet finished"),
	)
	if err != nil {
		return nil, fmt.Errorf("operations_active: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"operations_duration_seconds",
		metric.WithDescription("Operation duration from creation to terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("operations_duration_seconds: %w", err)
	}

	return &Metrics{
		created:       created,
		finished:      finished,
		cancellations: cancellations,
		active:        active,
		duration:      duration,
	}, nil
}

func (m *Metrics) recordCreated(ctx context.Context, opType string) {
	attrs := metric.WithAttributes(attribute.String("operation_type", opType))
	m.created.Add(ctx, 1, attrs)
	m.active.Add(ctx, 1, attrs)
}

func (m *Metrics) recordFinished(ctx context.Context, data domain.ProgressData) {
	m.active.Add(ctx, -1, metric.WithAttributes(attribute.String("operation_type", data.OperationType)))
	m.finished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation_type", data.OperationType),
		attribute.String("status", string(data.Status)),
	))
	if ms, ok := data.Details[domain.DetailDurationMS].(int64); ok {
		m.duration.Record(ctx, float64(ms)/1000, metric.WithAttributes(
			attribute.String("status", string(data.Status)),
		))
	}
}

// recordRemovedActive balances the active gauge for operations removed before finishing
func (m *Metrics) recordRemovedActive(ctx context.Context, opType string) {
	m.active.Add(ctx, -1, metric.WithAttributes(attribute.String("operation_type", opType)))
}

func (m *Metrics) recordCancellation(ctx context.Context, success bool) {
	m.cancellations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
