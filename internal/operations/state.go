package operations

import (
	"maps"
	"time"

	"progresshub/pkg/contracts/domain"
)

// Operation is the mutable state behind a Reporter. It is not safe for
// concurrent use; the owning Reporter serializes access.
type Operation struct {
	ID             string
	Type           string
	Name           string
	Status         domain.OperationStatus
	Progress       float64
	CurrentStep    *string
	TotalSteps     *int
	StepProgress   *float64
	StartTime      time.Time
	LastUpdateTime time.Time
	Details        map[string]any
	Finished       bool
}

func newOperation(id, opType, name string, now time.Time) *Operation {
	if name == "" {
		name = defaultName(opType, id)
	}
	return &Operation{
		ID:             id,
		Type:           opType,
		Name:           name,
		Status:         domain.OperationStatusPending,
		StartTime:      now,
		LastUpdateTime: now,
		Details:        make(map[string]any),
	}
}

func defaultName(opType, id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return opType + "_" + short
}

// transitions lists the legal targets of every non-terminal status.
// Repeating the current status is accepted separately.
var transitions = map[domain.OperationStatus][]domain.OperationStatus{
	domain.OperationStatusPending: {
		domain.OperationStatusRunning,
		domain.OperationStatusCompleted,
		domain.OperationStatusFailed,
		domain.OperationStatusCanceled,
	},
	domain.OperationStatusRunning: {
		domain.OperationStatusPaused,
		domain.OperationStatusCompleted,
		domain.OperationStatusFailed,
		domain.OperationStatusCanceled,
	},
	domain.OperationStatusPaused: {
		domain.OperationStatusRunning,
		domain.OperationStatusCompleted,
		domain.OperationStatusFailed,
		domain.OperationStatusCanceled,
	},
}

// CanTransition reports whether an operation in status from may move to status to
func CanTransition(from, to domain.OperationStatus) bool {
	if from.IsTerminal() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func clampProgress(p float64) float64 {
	switch {
	case p != p: // NaN
		return 0
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func (o *Operation) mergeDetails(details map[string]any) {
	maps.Copy(o.Details, details)
}

// touch advances LastUpdateTime, never moving it backwards
func (o *Operation) touch(now time.Time) {
	if now.After(o.LastUpdateTime) {
		o.LastUpdateTime = now
	}
}

// Snapshot copies the state into the payload handed to callbacks
func (o *Operation) Snapshot(now time.Time) domain.ProgressData {
	data := domain.ProgressData{
		OperationID:   o.ID,
		OperationType: o.Type,
		Name:          o.Name,
		Timestamp:     domain.NewTimestamp(now),
		Progress:      o.Progress,
		Status:        o.Status,
		CurrentStep:   copyPtr(o.CurrentStep),
		TotalSteps:    copyPtr(o.TotalSteps),
		StepProgress:  copyPtr(o.StepProgress),
		StartTime:     domain.NewTimestamp(o.StartTime),
		Details:       maps.Clone(o.Details),
	}
	if o.Status == domain.OperationStatusRunning {
		if eta, ok := EstimateRemaining(o.Progress, now.Sub(o.StartTime)); ok {
			ms := eta.Milliseconds()
			data.EstimatedTimeRemainingMS = &ms
		}
	}
	return data
}

// Summary is the operations_list row for this operation
func (o *Operation) Summary() domain.OperationSummary {
	return domain.OperationSummary{
		OperationID:    o.ID,
		OperationType:  o.Type,
		Name:           o.Name,
		Status:         o.Status,
		Progress:       o.Progress,
		StartTime:      domain.NewTimestamp(o.StartTime),
		LastUpdateTime: domain.NewTimestamp(o.LastUpdateTime),
	}
}

// View is the full get_operation_details payload
func (o *Operation) View() domain.OperationDetails {
	return domain.OperationDetails{
		OperationType:  o.Type,
		Name:           o.Name,
		Status:         o.Status,
		Progress:       o.Progress,
		CurrentStep:    copyPtr(o.CurrentStep),
		TotalSteps:     copyPtr(o.TotalSteps),
		StepProgress:   copyPtr(o.StepProgress),
		StartTime:      domain.NewTimestamp(o.StartTime),
		LastUpdateTime: domain.NewTimestamp(o.LastUpdateTime),
		Details:        maps.Clone(o.Details),
	}
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
