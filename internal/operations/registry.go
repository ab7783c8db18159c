package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"progresshub/internal/infrastructure"
	"progresshub/pkg/contracts/domain"
)

type registryEntry struct {
	reporter *Reporter
	subID    CallbackID
	finished bool
	timer    *time.Timer
}

// RegistryStats is a point-in-time count of registered operations
type RegistryStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Terminal int `json:"terminal"`
}

// Registry is the process-wide set of live operations. Every update of every
// registered Reporter is forwarded to the registry's global callbacks, and
// terminal operations are removed after the retention period.
type Registry struct {
	mu         sync.RWMutex
	operations map[string]*registryEntry
	closed     bool

	callbacks callbackList
	cfg       Config
	clock     func() time.Time
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithMeter records registry metrics on meter
func WithMeter(meter metric.Meter) RegistryOption {
	return func(r *Registry) {
		if m, err := NewMetrics(meter); err == nil {
			r.metrics = m
		} else {
			r.logger.Warn("registry metrics disabled", slog.String("error", err.Error()))
		}
	}
}

// WithRegistryClock replaces time.Now for reporters created by NewOperation
func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRegistry creates an empty registry
func NewRegistry(cfg Config, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = DefaultRetentionPeriod
	}

	r := &Registry{
		operations: make(map[string]*registryEntry),
		cfg:        cfg,
		clock:      time.Now,
		logger:     infrastructure.ComponentLogger(logger, "operations.registry"),
		tracer:     otel.Tracer(infrastructure.InstrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		if m, err := NewMetrics(nil); err == nil {
			r.metrics = m
		}
	}
	return r
}

// AddOperation registers reporter and announces its current state to the
// global callbacks so subscribers learn about the creation.
func (r *Registry) AddOperation(ctx context.Context, reporter *Reporter) error {
	id := reporter.ID()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, exists := r.operations[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, id)
	}
	entry := &registryEntry{reporter: reporter}
	r.operations[id] = entry
	entry.subID = reporter.AddCallback(r.onUpdate)
	r.mu.Unlock()

	r.metrics.recordCreated(ctx, reporter.Type())
	r.logger.InfoContext(ctx, "operation registered",
		slog.String("operation_id", id),
		slog.String("operation_type", reporter.Type()),
		slog.String("name", reporter.Name()))

	return r.onUpdate(ctx, reporter.Snapshot())
}

// NewOperation creates a reporter and registers it
func (r *Registry) NewOperation(ctx context.Context, opType, name string, opts ...ReporterOption) (*Reporter, error) {
	base := []ReporterOption{WithReporterLogger(r.logger), WithClock(r.clock)}
	reporter := NewReporter(ctx, opType, name, append(base, opts...)...)
	if err := r.AddOperation(ctx, reporter); err != nil {
		return nil, err
	}
	return reporter, nil
}

// RemoveOperation drops an operation immediately. It reports whether id was registered.
func (r *Registry) RemoveOperation(id string) bool {
	r.mu.Lock()
	entry, ok := r.operations[id]
	if ok {
		delete(r.operations, id)
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	entry.reporter.RemoveCallback(entry.subID)
	if !entry.finished {
		r.metrics.recordRemovedActive(context.Background(), entry.reporter.Type())
	}
	r.logger.Debug("operation removed", slog.String("operation_id", id))
	return true
}

// GetOperation returns the reporter registered under id
func (r *Registry) GetOperation(id string) (*Reporter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.operations[id]
	if !ok {
		return nil, false
	}
	return entry.reporter, true
}

// ListOperations returns one summary per retained operation, oldest first
func (r *Registry) ListOperations() []domain.OperationSummary {
	r.mu.RLock()
	list := make([]domain.OperationSummary, 0, len(r.operations))
	for _, entry := range r.operations {
		list = append(list, entry.reporter.Summary())
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].StartTime.Equal(list[j].StartTime.Time) {
			return list[i].OperationID < list[j].OperationID
		}
		return list[i].StartTime.Before(list[j].StartTime.Time)
	})
	return list
}

// OperationDetails returns the full view of one operation
func (r *Registry) OperationDetails(id string) (domain.OperationDetails, bool) {
	reporter, ok := r.GetOperation(id)
	if !ok {
		return domain.OperationDetails{}, false
	}
	return reporter.Details(), true
}

// CancelOperation cancels a non-terminal operation. It returns false for unknown ids and finished operations.
func (r *Registry) CancelOperation(ctx context.Context, id string) bool {
	ctx, span := r.tracer.Start(ctx, "operations.cancel",
		trace.WithAttributes(attribute.String("operation.id", id)))
	defer span.End()

	reporter, ok := r.GetOperation(id)
	success := ok && reporter.ReportCanceled(ctx, nil)

	span.SetAttributes(attribute.Bool("operation.canceled", success))
	r.metrics.recordCancellation(ctx, success)
	r.logger.InfoContext(ctx, "cancel requested",
		slog.String("operation_id", id),
		slog.Bool("found", ok),
		slog.Bool("success", success))
	return success
}

// AddCallback subscribes fn to the updates of every registered operation
func (r *Registry) AddCallback(fn Callback) CallbackID {
	return r.callbacks.add(fn)
}

// RemoveCallback unsubscribes a global callback
func (r *Registry) RemoveCallback(id CallbackID) bool {
	return r.callbacks.remove(id)
}

// Stats counts retained operations by lifecycle
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{Total: len(r.operations)}
	for _, entry := range r.operations {
		if entry.reporter.IsFinished() {
			stats.Terminal++
		} else {
			stats.Active++
		}
	}
	return stats
}

// RetentionPeriod returns the configured delay before terminal operations are removed
func (r *Registry) RetentionPeriod() time.Duration {
	return r.cfg.RetentionPeriod
}

// Close stops pending cleanup timers and rejects further registrations.
// Registered operations stay queryable.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, entry := range r.operations {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
	}
}

// onUpdate is subscribed on every registered reporter
func (r *Registry) onUpdate(ctx context.Context, data domain.ProgressData) error {
	if data.IsTerminal() {
		r.markFinished(ctx, data)
	}
	r.callbacks.dispatch(ctx, r.logger, data)
	return nil
}

// markFinished schedules removal of a terminal operation without blocking the reporter
func (r *Registry) markFinished(ctx context.Context, data domain.ProgressData) {
	r.mu.Lock()
	entry, ok := r.operations[data.OperationID]
	if !ok || entry.finished {
		r.mu.Unlock()
		return
	}
	entry.finished = true
	if !r.closed {
		id := data.OperationID
		entry.timer = time.AfterFunc(r.cfg.RetentionPeriod, func() {
			r.RemoveOperation(id)
		})
	}
	r.mu.Unlock()

	r.metrics.recordFinished(ctx, data)
	r.logger.DebugContext(ctx, "operation scheduled for removal",
		slog.String("operation_id", data.OperationID),
		slog.Duration("retention", r.cfg.RetentionPeriod))
}
