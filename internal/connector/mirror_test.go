package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresshub/pkg/contracts/domain"
	"progresshub/pkg/contracts/events"
)

func ptr[T any](v T) *T { return &v }

func progressMsg(id string, status domain.OperationStatus, progress float64, at time.Time) *events.ProgressUpdate {
	return &events.ProgressUpdate{
		Header: events.Header{Type: events.MessageTypeProgressUpdate, Timestamp: domain.NewTimestamp(at)},
		Data: domain.ProgressData{
			OperationID:   id,
			OperationType: "render",
			Name:          "R-" + id,
			Timestamp:     domain.NewTimestamp(at),
			Progress:      progress,
			Status:        status,
			StartTime:     domain.NewTimestamp(at.Add(-10 * time.Second)),
		},
	}
}

func TestMirrorProgressCreatesAndUpdates(t *testing.T) {
	m := newMirror()
	now := time.Unix(1700000000, 0)

	m.apply(progressMsg("a", domain.OperationStatusRunning, 20, now))
	op, ok := m.get("a")
	require.True(t, ok)
	assert.Equal(t, "render", op.OperationType)
	assert.Equal(t, "R-a", op.Name)
	assert.Equal(t, 20.0, op.Progress)
	assert.Equal(t, now.Add(-10*time.Second), op.StartTime)

	update := progressMsg("a", domain.OperationStatusRunning, 40, now.Add(time.Second))
	update.Data.CurrentStep = ptr("encode")
	update.Data.Details = map[string]any{"frames": float64(12)}
	m.apply(update)

	op, _ = m.get("a")
	assert.Equal(t, 40.0, op.Progress)
	assert.Equal(t, "encode", *op.CurrentStep)
	assert.Equal(t, float64(12), op.Details["frames"])
	assert.Equal(t, now.Add(time.Second), op.LastUpdateTime)
}

func TestMirrorListReplacesSetButKeepsKnownFields(t *testing.T) {
	m := newMirror()
	now := time.Unix(1700000000, 0)

	known := progressMsg("a", domain.OperationStatusRunning, 10, now)
	known.Data.CurrentStep = ptr("load")
	known.Data.Details = map[string]any{"k": "v"}
	m.apply(known)
	m.apply(progressMsg("gone", domain.OperationStatusRunning, 10, now))

	m.apply(&events.OperationsList{
		Header: events.Header{Type: events.MessageTypeOperationsList},
		Operations: []domain.OperationSummary{
			{OperationID: "a", OperationType: "render", Name: "R-a", Status: domain.OperationStatusRunning, Progress: 60},
			{OperationID: "b", OperationType: "export", Name: "E", Status: domain.OperationStatusPending},
		},
	})

	ops := m.list()
	require.Len(t, ops, 2)

	a, ok := m.get("a")
	require.True(t, ok)
	assert.Equal(t, 60.0, a.Progress)
	assert.Equal(t, "load", *a.CurrentStep)
	assert.Equal(t, "v", a.Details["k"])

	b, ok := m.get("b")
	require.True(t, ok)
	assert.Equal(t, "export", b.OperationType)

	_, ok = m.get("gone")
	assert.False(t, ok)
}

func TestMirrorListDoesNotRegress(t *testing.T) {
	m := newMirror()
	now := time.Unix(1700000000, 0)

	m.apply(progressMsg("done", domain.OperationStatusRunning, 40, now))
	m.apply(progressMsg("done", domain.OperationStatusCompleted, 100, now.Add(time.Second)))
	m.apply(progressMsg("ahead", domain.OperationStatusRunning, 70, now.Add(2*time.Second)))
	m.apply(progressMsg("behind", domain.OperationStatusRunning, 20, now))

	// a list taken before the latest updates arrives last
	m.apply(&events.OperationsList{
		Header: events.Header{Type: events.MessageTypeOperationsList},
		Operations: []domain.OperationSummary{
			{OperationID: "done", Status: domain.OperationStatusRunning, Progress: 40, LastUpdateTime: domain.NewTimestamp(now)},
			{OperationID: "ahead", Status: domain.OperationStatusRunning, Progress: 50, LastUpdateTime: domain.NewTimestamp(now.Add(time.Second))},
			{OperationID: "behind", Status: domain.OperationStatusPaused, Progress: 30, LastUpdateTime: domain.NewTimestamp(now.Add(time.Second))},
		},
	})

	done, ok := m.get("done")
	require.True(t, ok)
	assert.Equal(t, domain.OperationStatusCompleted, done.Status)
	assert.Equal(t, 100.0, done.Progress)

	ahead, _ := m.get("ahead")
	assert.Equal(t, 70.0, ahead.Progress)
	assert.Equal(t, now.Add(2*time.Second), ahead.LastUpdateTime)

	behind, _ := m.get("behind")
	assert.Equal(t, domain.OperationStatusPaused, behind.Status)
	assert.Equal(t, 30.0, behind.Progress)
	assert.Equal(t, now.Add(time.Second), behind.LastUpdateTime)
}

func TestMirrorLifecycleEvents(t *testing.T) {
	m := newMirror()

	m.apply(&events.OperationStarted{
		Header:    events.Header{Type: events.MessageTypeOperationStarted},
		Operation: events.StartedOperation{OperationID: "a", OperationType: "render", Name: "R"},
	})
	op, ok := m.get("a")
	require.True(t, ok)
	assert.Equal(t, domain.OperationStatusPending, op.Status)
	assert.False(t, op.StartTime.IsZero())

	m.apply(&events.OperationFinished{
		Header:      events.Header{Type: events.MessageTypeOperationCompleted},
		OperationID: "a",
		Details:     map[string]any{"duration_ms": float64(1500)},
	})
	op, _ = m.get("a")
	assert.Equal(t, domain.OperationStatusCompleted, op.Status)
	assert.Equal(t, 100.0, op.Progress)
	assert.Equal(t, float64(1500), op.Details["duration_ms"])
	assert.False(t, op.EndTime.IsZero())
	assert.False(t, op.IsActive())

	// lifecycle events for unknown ids are ignored
	m.apply(&events.OperationFinished{
		Header:      events.Header{Type: events.MessageTypeOperationFailed},
		OperationID: "unknown",
	})
	_, ok = m.get("unknown")
	assert.False(t, ok)
}

func TestMirrorDetailsReply(t *testing.T) {
	m := newMirror()
	now := time.Unix(1700000000, 0)
	m.apply(progressMsg("a", domain.OperationStatusRunning, 10, now))

	m.apply(&events.OperationDetails{
		Header:      events.Header{Type: events.MessageTypeOperationDetails},
		OperationID: "a",
		Details: domain.OperationDetails{
			Status:      domain.OperationStatusPaused,
			Progress:    35,
			CurrentStep: ptr("wait"),
			TotalSteps:  ptr(4),
			Details:     map[string]any{"queue": "gpu"},
		},
	})

	op, _ := m.get("a")
	assert.Equal(t, domain.OperationStatusPaused, op.Status)
	assert.Equal(t, 35.0, op.Progress)
	assert.Equal(t, 4, *op.TotalSteps)
	assert.Equal(t, "gpu", op.Details["queue"])
}

func TestMirrorReturnsCopies(t *testing.T) {
	m := newMirror()
	msg := progressMsg("a", domain.OperationStatusRunning, 10, time.Now())
	msg.Data.Details = map[string]any{"k": "v"}
	m.apply(msg)

	op, _ := m.get("a")
	op.Details["k"] = "changed"

	again, _ := m.get("a")
	assert.Equal(t, "v", again.Details["k"])
}

func TestOperationInfoHelpers(t *testing.T) {
	start := time.Now().Add(-10 * time.Second)

	running := OperationInfo{Status: domain.OperationStatusRunning, Progress: 50, StartTime: start}
	assert.True(t, running.IsActive())
	assert.InDelta(t, 10*time.Second, running.Elapsed(), float64(time.Second))
	eta, ok := running.EstimatedCompletion()
	assert.True(t, ok)
	assert.InDelta(t, 10*time.Second, eta, float64(time.Second))

	notStarted := OperationInfo{Status: domain.OperationStatusPending, StartTime: start}
	_, ok = notStarted.EstimatedCompletion()
	assert.False(t, ok)

	done := OperationInfo{
		Status:    domain.OperationStatusCompleted,
		Progress:  100,
		StartTime: start,
		EndTime:   start.Add(4 * time.Second),
	}
	assert.Equal(t, 4*time.Second, done.Elapsed())
	eta, ok = done.EstimatedCompletion()
	assert.True(t, ok)
	assert.Zero(t, eta)

	assert.Zero(t, OperationInfo{}.Elapsed())
}
