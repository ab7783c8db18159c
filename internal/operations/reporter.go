package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"progresshub/internal/infrastructure"
	"progresshub/pkg/contracts/domain"
)

// Callback receives a snapshot after every applied update. Returned errors
// and panics are logged and never stop delivery to the remaining callbacks.
type Callback func(ctx context.Context, data domain.ProgressData) error

// CallbackID identifies a registered callback for removal
type CallbackID uint64

type callbackEntry struct {
	id CallbackID
	fn Callback
}

// callbackList is an ordered set of callbacks. The zero value is ready to use.
type callbackList struct {
	mu      sync.Mutex
	entries []callbackEntry
	nextID  CallbackID
}

func (l *callbackList) add(fn Callback) CallbackID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.entries = append(l.entries, callbackEntry{id: l.nextID, fn: fn})
	return l.nextID
}

func (l *callbackList) remove(id CallbackID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (l *callbackList) snapshot() []callbackEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]callbackEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// dispatch calls every callback in registration order outside any lock
func (l *callbackList) dispatch(ctx context.Context, logger *slog.Logger, data domain.ProgressData) {
	for _, e := range l.snapshot() {
		invokeCallback(ctx, logger, e, data)
	}
}

func invokeCallback(ctx context.Context, logger *slog.Logger, e callbackEntry, data domain.ProgressData) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "progress callback panicked",
				slog.Uint64("callback_id", uint64(e.id)),
				slog.String("operation_id", data.OperationID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := e.fn(ctx, data); err != nil {
		logger.WarnContext(ctx, "progress callback failed",
			slog.Uint64("callback_id", uint64(e.id)),
			slog.String("operation_id", data.OperationID),
			slog.String("error", err.Error()))
	}
}

// Reporter owns one Operation and pushes every change to its callbacks.
//
// State is guarded by a mutex so Snapshot and ShouldCancel are safe from any
// goroutine. Callbacks run after the lock is released, so two goroutines
// reporting on the same Reporter may interleave their deliveries.
type Reporter struct {
	mu        sync.Mutex
	op        *Operation
	callbacks callbackList
	clock     func() time.Time
	logger    *slog.Logger
}

// ReporterOption configures a Reporter
type ReporterOption func(*Reporter)

// WithReporterLogger sets the base logger
func WithReporterLogger(logger *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOperationID overrides the generated id
func WithOperationID(id string) ReporterOption {
	return func(r *Reporter) {
		if id != "" {
			r.op.ID = id
		}
	}
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) ReporterOption {
	return func(r *Reporter) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewReporter creates a Pending operation. An empty name defaults to <type>_<first 8 chars of id>.
func NewReporter(ctx context.Context, opType, name string, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		op:     &Operation{ID: uuid.NewString()},
		clock:  time.Now,
		logger: infrastructure.GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.op = newOperation(r.op.ID, opType, name, r.clock())
	r.logger = r.logger.With(
		slog.String("component", "operations.reporter"),
		slog.String("operation_id", r.op.ID),
		slog.String("operation_type", opType),
	)
	r.logger.DebugContext(ctx, "operation created", slog.String("name", r.op.Name))
	return r
}

func (r *Reporter) ID() string   { return r.op.ID }
func (r *Reporter) Type() string { return r.op.Type }
func (r *Reporter) Name() string { return r.op.Name }

// AddCallback subscribes fn to every future update
func (r *Reporter) AddCallback(fn Callback) CallbackID {
	return r.callbacks.add(fn)
}

// RemoveCallback unsubscribes a callback. It reports whether id was registered.
func (r *Reporter) RemoveCallback(id CallbackID) bool {
	return r.callbacks.remove(id)
}

// ProgressOption sets optional fields of a progress report
type ProgressOption func(*progressUpdate)

type progressUpdate struct {
	step         *string
	totalSteps   *int
	stepProgress *float64
	details      map[string]any
}

func WithStep(step string) ProgressOption {
	return func(u *progressUpdate) { u.step = &step }
}

func WithTotalSteps(n int) ProgressOption {
	return func(u *progressUpdate) { u.totalSteps = &n }
}

// WithStepProgress sets current_step_progress, clamped like overall progress
func WithStepProgress(p float64) ProgressOption {
	return func(u *progressUpdate) {
		p = clampProgress(p)
		u.stepProgress = &p
	}
}

// WithDetails merges details into the operation's details
func WithDetails(details map[string]any) ProgressOption {
	return func(u *progressUpdate) { u.details = details }
}

// ReportProgress records new progress and notifies callbacks. The first report
// moves a Pending (or Paused) operation to Running, and reaching 100 while
// Running completes the operation.
func (r *Reporter) ReportProgress(ctx context.Context, progress float64, opts ...ProgressOption) {
	var u progressUpdate
	for _, opt := range opts {
		opt(&u)
	}

	r.mu.Lock()
	if r.op.Finished {
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "progress ignored on finished operation", slog.Float64("progress", progress))
		return
	}

	now := r.clock()
	op := r.op
	op.Progress = clampProgress(progress)
	if u.step != nil {
		op.CurrentStep = u.step
	}
	if u.totalSteps != nil {
		op.TotalSteps = u.totalSteps
	}
	if u.stepProgress != nil {
		op.StepProgress = u.stepProgress
	}
	op.mergeDetails(u.details)
	if op.Status == domain.OperationStatusPending || op.Status == domain.OperationStatusPaused {
		op.Status = domain.OperationStatusRunning
	}
	op.touch(now)
	snap := op.Snapshot(now)
	autoComplete := op.Status == domain.OperationStatusRunning && op.Progress >= 100
	r.mu.Unlock()

	r.callbacks.dispatch(ctx, r.logger, snap)

	if autoComplete {
		r.ReportStatus(ctx, domain.OperationStatusCompleted, nil)
	}
}

// ReportStatus moves the operation to status and merges details. Illegal
// transitions and calls after a terminal status are ignored; the return value
// reports whether the transition was applied.
func (r *Reporter) ReportStatus(ctx context.Context, status domain.OperationStatus, details map[string]any) bool {
	return r.transition(ctx, status, details, nil)
}

func (r *Reporter) transition(ctx context.Context, status domain.OperationStatus, details map[string]any, mutate func(*Operation)) bool {
	r.mu.Lock()
	op := r.op
	if op.Finished || !CanTransition(op.Status, status) {
		from := op.Status
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "status transition ignored",
			slog.String("from", string(from)),
			slog.String("to", string(status)))
		return false
	}

	now := r.clock()
	op.Status = status
	op.touch(now)
	if status.IsTerminal() {
		op.Finished = true
		op.Details[domain.DetailDurationMS] = op.LastUpdateTime.Sub(op.StartTime).Milliseconds()
	}
	// caller details override the computed duration
	op.mergeDetails(details)
	if mutate != nil {
		mutate(op)
	}
	snap := op.Snapshot(now)
	r.mu.Unlock()

	if status.IsTerminal() {
		r.logger.InfoContext(ctx, "operation finished",
			slog.String("status", string(status)),
			slog.Any("duration_ms", snap.Details[domain.DetailDurationMS]))
	}

	r.callbacks.dispatch(ctx, r.logger, snap)
	return true
}

// ReportCompleted completes the operation with progress forced to 100
func (r *Reporter) ReportCompleted(ctx context.Context, details map[string]any) bool {
	return r.transition(ctx, domain.OperationStatusCompleted, details, func(op *Operation) {
		op.Progress = 100
	})
}

// ReportFailed fails the operation, recording message as error_message
func (r *Reporter) ReportFailed(ctx context.Context, message string, details map[string]any) bool {
	return r.transition(ctx, domain.OperationStatusFailed, details, func(op *Operation) {
		op.Details[domain.DetailErrorMessage] = message
	})
}

// ReportError fails the operation from err. An *OperationError anywhere in the
// chain also sets error_code.
func (r *Reporter) ReportError(ctx context.Context, err error) bool {
	if err == nil {
		err = errors.New("unknown error")
	}
	var details map[string]any
	var opErr *OperationError
	if errors.As(err, &opErr) {
		details = map[string]any{domain.DetailErrorCode: opErr.Code()}
		if opErr.Step != "" {
			details["error_step"] = opErr.Step
		}
	}
	return r.ReportFailed(ctx, err.Error(), details)
}

// ReportCanceled cancels the operation
func (r *Reporter) ReportCanceled(ctx context.Context, details map[string]any) bool {
	return r.transition(ctx, domain.OperationStatusCanceled, details, nil)
}

// Pause moves a Running operation to Paused
func (r *Reporter) Pause(ctx context.Context) bool {
	r.mu.Lock()
	running := r.op.Status == domain.OperationStatusRunning
	r.mu.Unlock()
	if !running {
		return false
	}
	return r.ReportStatus(ctx, domain.OperationStatusPaused, nil)
}

// Resume moves a Paused operation back to Running
func (r *Reporter) Resume(ctx context.Context) bool {
	r.mu.Lock()
	paused := r.op.Status == domain.OperationStatusPaused
	r.mu.Unlock()
	if !paused {
		return false
	}
	return r.ReportStatus(ctx, domain.OperationStatusRunning, nil)
}

// ShouldCancel is polled by long-running work; cancellation is cooperative
func (r *Reporter) ShouldCancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.op.Status == domain.OperationStatusCanceled
}

// IsFinished reports whether a terminal status has been reached
func (r *Reporter) IsFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.op.Finished
}

// Status returns the current status
func (r *Reporter) Status() domain.OperationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.op.Status
}

// Snapshot returns the current state without notifying anyone
func (r *Reporter) Snapshot() domain.ProgressData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.op.Snapshot(r.clock())
}

// Summary returns the operations_list row
func (r *Reporter) Summary() domain.OperationSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.op.Summary()
}

// Details returns the get_operation_details view
func (r *Reporter) Details() domain.OperationDetails {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.op.View()
}

func (r *Reporter) String() string {
	return fmt.Sprintf("%s(%s)", r.op.Name, r.op.ID)
}
