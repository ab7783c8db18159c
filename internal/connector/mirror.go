package connector

import (
	"maps"
	"sort"
	"sync"
	"time"

	"progresshub/internal/operations"
	"progresshub/pkg/contracts/domain"
	"progresshub/pkg/contracts/events"
)

// OperationInfo is the client's local view of one server-side operation
type OperationInfo struct {
	OperationID    string
	OperationType  string
	Name           string
	Status         domain.OperationStatus
	Progress       float64
	CurrentStep    *string
	TotalSteps     *int
	StepProgress   *float64
	StartTime      time.Time
	LastUpdateTime time.Time
	// Set once a lifecycle event reports a terminal status
	EndTime time.Time
	Details map[string]any
}

// IsActive reports whether the operation is pending, running or paused
func (o OperationInfo) IsActive() bool {
	return o.Status.IsActive()
}

// Elapsed is the time from start to end, or to now while active
func (o OperationInfo) Elapsed() time.Duration {
	return o.elapsedAt(time.Now())
}

func (o OperationInfo) elapsedAt(now time.Time) time.Duration {
	if o.StartTime.IsZero() {
		return 0
	}
	if !o.EndTime.IsZero() {
		return o.EndTime.Sub(o.StartTime)
	}
	return now.Sub(o.StartTime)
}

// EstimatedCompletion extrapolates the remaining time from the average rate so far.
// Finished operations report zero. The second result is false when no estimate is possible.
func (o OperationInfo) EstimatedCompletion() (time.Duration, bool) {
	if !o.IsActive() {
		return 0, true
	}
	return operations.EstimateRemaining(o.Progress, o.Elapsed())
}

func (o OperationInfo) clone() OperationInfo {
	o.Details = maps.Clone(o.Details)
	return o
}

// mirror holds OperationInfo per id. Only the receive loop writes to it.
type mirror struct {
	mu  sync.RWMutex
	ops map[string]*OperationInfo
	now func() time.Time
}

func newMirror() *mirror {
	return &mirror{ops: make(map[string]*OperationInfo), now: time.Now}
}

func (m *mirror) get(id string) (OperationInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[id]
	if !ok {
		return OperationInfo{}, false
	}
	return op.clone(), true
}

// list returns copies ordered by start time, then id
func (m *mirror) list() []OperationInfo {
	m.mu.RLock()
	out := make([]OperationInfo, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op.clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].OperationID < out[j].OperationID
	})
	return out
}

// apply folds one server message into the mirror
func (m *mirror) apply(msg events.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg := msg.(type) {
	case *events.ProgressUpdate:
		m.applyProgress(msg.Data)
	case *events.OperationsList:
		m.replace(msg.Operations)
	case *events.OperationStarted:
		m.applyStarted(msg)
	case *events.OperationFinished:
		m.applyFinished(msg)
	case *events.OperationDetails:
		m.applyDetails(msg)
	}
}

func (m *mirror) applyProgress(d domain.ProgressData) {
	if d.OperationID == "" {
		return
	}
	op, ok := m.ops[d.OperationID]
	if !ok {
		op = &OperationInfo{
			OperationID:   d.OperationID,
			OperationType: d.OperationType,
			Name:          d.Name,
			StartTime:     d.StartTime.Time,
		}
		m.ops[d.OperationID] = op
	}
	if d.OperationType != "" {
		op.OperationType = d.OperationType
	}
	if d.Name != "" {
		op.Name = d.Name
	}
	if op.StartTime.IsZero() {
		op.StartTime = d.StartTime.Time
	}
	op.Status = d.Status
	op.Progress = d.Progress
	if d.CurrentStep != nil {
		op.CurrentStep = d.CurrentStep
	}
	if d.TotalSteps != nil {
		op.TotalSteps = d.TotalSteps
	}
	if d.StepProgress != nil {
		op.StepProgress = d.StepProgress
	}
	op.LastUpdateTime = m.stamp(d.Timestamp)
	mergeInto(op, d.Details)
	if d.Status.IsTerminal() && op.EndTime.IsZero() {
		op.EndTime = op.LastUpdateTime
	}
}

// replace makes the listed operations the whole set. Entries already known keep
// the fields a summary does not carry, and keep their state entirely when they
// are terminal or were updated after the summary was taken.
func (m *mirror) replace(list []domain.OperationSummary) {
	next := make(map[string]*OperationInfo, len(list))
	for _, s := range list {
		if s.OperationID == "" {
			continue
		}
		op, ok := m.ops[s.OperationID]
		if !ok {
			op = &OperationInfo{
				OperationID:   s.OperationID,
				OperationType: s.OperationType,
				Name:          s.Name,
				StartTime:     s.StartTime.Time,
			}
		}
		next[s.OperationID] = op
		if ok && (op.Status.IsTerminal() || newerThan(op, s)) {
			continue
		}
		op.Status = s.Status
		op.Progress = s.Progress
		if !s.LastUpdateTime.IsZero() {
			op.LastUpdateTime = s.LastUpdateTime.Time
		}
	}
	m.ops = next
}

// newerThan reports whether op saw an update after summary s was taken.
// Summaries without a timestamp carry no ordering and never lose.
func newerThan(op *OperationInfo, s domain.OperationSummary) bool {
	return !s.LastUpdateTime.IsZero() && op.LastUpdateTime.After(s.LastUpdateTime.Time)
}

func (m *mirror) applyStarted(msg *events.OperationStarted) {
	id := msg.Operation.OperationID
	if id == "" {
		return
	}
	if _, ok := m.ops[id]; ok {
		return
	}
	at := m.stamp(msg.Timestamp)
	m.ops[id] = &OperationInfo{
		OperationID:    id,
		OperationType:  msg.Operation.OperationType,
		Name:           msg.Operation.Name,
		Status:         domain.OperationStatusPending,
		StartTime:      at,
		LastUpdateTime: at,
	}
}

// applyFinished only touches operations the mirror already knows
func (m *mirror) applyFinished(msg *events.OperationFinished) {
	op, ok := m.ops[msg.OperationID]
	if !ok {
		return
	}
	op.Status = msg.Status()
	if op.Status == domain.OperationStatusCompleted {
		op.Progress = 100
	}
	op.LastUpdateTime = m.stamp(msg.Timestamp)
	if op.EndTime.IsZero() {
		op.EndTime = op.LastUpdateTime
	}
	mergeInto(op, msg.Details)
}

func (m *mirror) applyDetails(msg *events.OperationDetails) {
	op, ok := m.ops[msg.OperationID]
	if !ok {
		return
	}
	d := msg.Details
	op.Status = d.Status
	op.Progress = d.Progress
	op.CurrentStep = d.CurrentStep
	op.TotalSteps = d.TotalSteps
	op.StepProgress = d.StepProgress
	if !d.LastUpdateTime.IsZero() {
		op.LastUpdateTime = d.LastUpdateTime.Time
	}
	mergeInto(op, d.Details)
}

func (m *mirror) stamp(ts domain.Timestamp) time.Time {
	if ts.IsZero() {
		return m.now()
	}
	return ts.Time
}

func mergeInto(op *OperationInfo, details map[string]any) {
	if len(details) == 0 {
		return
	}
	if op.Details == nil {
		op.Details = make(map[string]any, len(details))
	}
	maps.Copy(op.Details, details)
}
