package operations

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresshub/internal/infrastructure"
	"progresshub/internal/shared/testutil"
	"progresshub/pkg/contracts/domain"
)

// recorder collects snapshots delivered to a callback
type recorder struct {
	mu    sync.Mutex
	snaps []domain.ProgressData
}

func (r *recorder) callback(_ context.Context, data domain.ProgressData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, data)
	return nil
}

func (r *recorder) all() []domain.ProgressData {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ProgressData, len(r.snaps))
	copy(out, r.snaps)
	return out
}

func (r *recorder) statuses() []domain.OperationStatus {
	var out []domain.OperationStatus
	for _, s := range r.all() {
		out = append(out, s.Status)
	}
	return out
}

// fakeClock advances by step on every call
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0), step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestReporter(opts ...ReporterOption) *Reporter {
	base := []ReporterOption{WithReporterLogger(infrastructure.DiscardLogger())}
	return NewReporter(context.Background(), "render", "R1", append(base, opts...)...)
}

func TestNewReporterDefaults(t *testing.T) {
	r := NewReporter(context.Background(), "render", "", WithOperationID("0123456789abcdef"))

	assert.Equal(t, "0123456789abcdef", r.ID())
	assert.Equal(t, "render_01234567", r.Name())
	assert.Equal(t, domain.OperationStatusPending, r.Status())
	assert.False(t, r.IsFinished())
	assert.False(t, r.ShouldCancel())

	snap := r.Snapshot()
	assert.Equal(t, float64(0), snap.Progress)
	assert.NotNil(t, snap.Details)
}

func TestReportProgressLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	r := newTestReporter(WithClock(newFakeClock(10 * time.Millisecond).Now))
	r.AddCallback(rec.callback)

	r.ReportProgress(ctx, 25, WithStep("step1"))
	r.ReportProgress(ctx, 100, WithStep("done"))

	assert.Equal(t, []domain.OperationStatus{
		domain.OperationStatusRunning,
		domain.OperationStatusRunning,
		domain.OperationStatusCompleted,
	}, rec.statuses())

	snaps := rec.all()
	assert.Equal(t, "step1", *snaps[0].CurrentStep)
	assert.Equal(t, "done", *snaps[2].CurrentStep)

	terminal := 0
	for _, s := range snaps {
		if s.IsTerminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)

	duration, ok := snaps[2].Details[domain.DetailDurationMS].(int64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, duration, int64(0))
	assert.True(t, r.IsFinished())
}

func TestReportProgressClampsAndMerges(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	r := newTestReporter()
	r.AddCallback(rec.callback)

	r.ReportProgress(ctx, -5, WithDetails(map[string]any{"a": 1}), WithTotalSteps(4), WithStepProgress(150))
	r.ReportProgress(ctx, 40, WithDetails(map[string]any{"b": 2}))

	snaps := rec.all()
	require.Len(t, snaps, 2)
	assert.Equal(t, float64(0), snaps[0].Progress)
	assert.Equal(t, float64(100), *snaps[0].StepProgress)
	assert.Equal(t, 4, *snaps[1].TotalSteps)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, snaps[1].Details)
}

func TestProgressOverHundredAutoCompletesOnce(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	r := newTestReporter()
	r.AddCallback(rec.callback)

	r.ReportProgress(ctx, 250)
	r.ReportProgress(ctx, 100)
	r.ReportStatus(ctx, domain.OperationStatusCompleted, nil)

	assert.Equal(t, []domain.OperationStatus{
		domain.OperationStatusRunning,
		domain.OperationStatusCompleted,
	}, rec.statuses())
	assert.Equal(t, float64(100), r.Snapshot().Progress)
}

func TestTerminalIsAbsorbing(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	r := newTestReporter()
	r.AddCallback(rec.callback)

	r.ReportProgress(ctx, 30)
	require.True(t, r.ReportFailed(ctx, "disk full", nil))

	r.ReportProgress(ctx, 80)
	assert.False(t, r.ReportStatus(ctx, domain.OperationStatusRunning, nil))
	assert.False(t, r.ReportCompleted(ctx, nil))
	assert.False(t, r.ReportCanceled(ctx, nil))

	snap := r.Snapshot()
	assert.Equal(t, domain.OperationStatusFailed, snap.Status)
	assert.Equal(t, float64(30), snap.Progress)
	assert.Equal(t, "disk full", snap.Details[domain.DetailErrorMessage])
	assert.Len(t, rec.all(), 2)
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	r := newTestReporter()

	assert.False(t, r.Pause(ctx), "pending cannot pause")

	r.ReportProgress(ctx, 10)
	require.True(t, r.Pause(ctx))
	assert.Equal(t, domain.OperationStatusPaused, r.Status())
	assert.False(t, r.Pause(ctx))

	require.True(t, r.Resume(ctx))
	assert.Equal(t, domain.OperationStatusRunning, r.Status())

	require.True(t, r.Pause(ctx))
	r.ReportProgress(ctx, 20)
	assert.Equal(t, domain.OperationStatusRunning, r.Status(), "progress resumes a paused operation")
}

func TestIllegalTransitionsIgnored(t *testing.T) {
	ctx := context.Background()
	r := newTestReporter()

	assert.False(t, r.ReportStatus(ctx, domain.OperationStatusPaused, nil))
	assert.False(t, r.ReportStatus(ctx, domain.OperationStatus("exploded"), nil))

	r.ReportProgress(ctx, 5)
	assert.False(t, r.ReportStatus(ctx, domain.OperationStatusPending, nil))
	assert.Equal(t, domain.OperationStatusRunning, r.Status())
}

func TestCancelBeforeStart(t *testing.T) {
	ctx := context.Background()
	r := newTestReporter()

	require.True(t, r.ReportCanceled(ctx, map[string]any{"reason": "user"}))
	assert.True(t, r.ShouldCancel())
	assert.True(t, r.IsFinished())
	assert.Equal(t, "user", r.Snapshot().Details["reason"])
}

func TestReportErrorAddsCode(t *testing.T) {
	ctx := context.Background()
	r := newTestReporter()
	r.ReportProgress(ctx, 50)

	err := NewExecutionError("parse", errors.New("bad header"), false)
	require.True(t, r.ReportError(ctx, err))

	details := r.Snapshot().Details
	assert.Equal(t, "execution", details[domain.DetailErrorCode])
	assert.Equal(t, "parse", details["error_step"])
	assert.Contains(t, details[domain.DetailErrorMessage], "bad header")
}

func TestCallerDurationOverridesComputed(t *testing.T) {
	ctx := context.Background()
	r := newTestReporter()
	r.ReportProgress(ctx, 10)

	require.True(t, r.ReportCompleted(ctx, map[string]any{domain.DetailDurationMS: 1234, "rows": 7}))

	details := r.Snapshot().Details
	assert.Equal(t, 1234, details[domain.DetailDurationMS])
	assert.Equal(t, 7, details["rows"])
	assert.True(t, r.IsFinished())
}

func TestCallbackFailuresDoNotStopDelivery(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	logger, logs := testutil.NewTestLogger(t)
	r := newTestReporter(WithReporterLogger(logger))

	r.AddCallback(func(context.Context, domain.ProgressData) error { return errors.New("boom") })
	r.AddCallback(func(context.Context, domain.ProgressData) error { panic("worse") })
	r.AddCallback(rec.callback)

	r.ReportProgress(ctx, 10)
	assert.Len(t, rec.all(), 1)

	failed := testutil.AssertLogged(t, logs, slog.LevelWarn, "progress callback failed")
	assert.Equal(t, "boom", failed.Attrs["error"])
	assert.Equal(t, r.ID(), failed.Attrs["operation_id"])
	panicked := testutil.AssertLogged(t, logs, slog.LevelError, "progress callback panicked")
	assert.Equal(t, "worse", panicked.Attrs["panic"])
}

func TestCallbackOrderAndRemoval(t *testing.T) {
	ctx := context.Background()
	r := newTestReporter()

	var order []int
	first := r.AddCallback(func(context.Context, domain.ProgressData) error { order = append(order, 1); return nil })
	r.AddCallback(func(context.Context, domain.ProgressData) error { order = append(order, 2); return nil })

	r.ReportProgress(ctx, 1)
	assert.Equal(t, []int{1, 2}, order)

	assert.True(t, r.RemoveCallback(first))
	assert.False(t, r.RemoveCallback(first))

	r.ReportProgress(ctx, 2)
	assert.Equal(t, []int{1, 2, 2}, order)
}

func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	r := newTestReporter()
	r.ReportProgress(ctx, 10, WithDetails(map[string]any{"k": "v"}))

	snap := r.Snapshot()
	snap.Details["k"] = "mutated"

	assert.Equal(t, "v", r.Snapshot().Details["k"])
}

func TestEstimatedTimeRemaining(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	r := newTestReporter(WithClock(newFakeClock(time.Second).Now))
	r.AddCallback(rec.callback)

	r.ReportProgress(ctx, 50)

	snap := rec.all()[0]
	require.NotNil(t, snap.EstimatedTimeRemainingMS)
	assert.Equal(t, int64(1000), *snap.EstimatedTimeRemainingMS)
}

func TestConcurrentReports(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	r := newTestReporter()
	r.AddCallback(rec.callback)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.ReportProgress(ctx, float64(i))
			_ = r.Snapshot()
		}(i)
	}
	wg.Wait()

	assert.Len(t, rec.all(), 20)
	assert.Equal(t, domain.OperationStatusRunning, r.Status())
}
