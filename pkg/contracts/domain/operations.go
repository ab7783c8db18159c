package domain

import (
	"encoding/json"
	"math"
	"time"
)

// OperationStatus represents the status of a tracked operation
type OperationStatus string

const (
	OperationStatusPending   OperationStatus = "pending"
	OperationStatusRunning   OperationStatus = "running"
	OperationStatusPaused    OperationStatus = "paused"
	OperationStatusCompleted OperationStatus = "completed"
	OperationStatusFailed    OperationStatus = "failed"
	OperationStatusCanceled  OperationStatus = "canceled"
)

// IsTerminal reports whether no further transitions are possible from s
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case OperationStatusCompleted, OperationStatusFailed, OperationStatusCanceled:
		return true
	}
	return false
}

// IsActive reports whether the operation is still doing (or about to do) work
func (s OperationStatus) IsActive() bool {
	switch s {
	case OperationStatusPending, OperationStatusRunning, OperationStatusPaused:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses
func (s OperationStatus) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// Timestamp is a point in time encoded on the wire as float seconds since the Unix epoch.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// Now returns the current time as a Timestamp
func Now() Timestamp {
	return Timestamp{Time: time.Now()}
}

// Seconds returns the fractional Unix time
func (t Timestamp) Seconds() float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

// MarshalJSON encodes the timestamp as float seconds
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Seconds())
}

// UnmarshalJSON accepts float seconds. A JSON null leaves the zero value.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return err
	}
	if secs == 0 {
		t.Time = time.Time{}
		return nil
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(frac*float64(time.Second)))
	return nil
}

// ProgressData is the snapshot of one operation delivered to every subscriber
// after each update. It is also the payload of a progress_update envelope.
type ProgressData struct {
	OperationID   string          `json:"operation_id"`
	OperationType string          `json:"operation_type,omitempty"`
	Name          string          `json:"name,omitempty"`
	Timestamp     Timestamp       `json:"timestamp"`
	Progress      float64         `json:"progress"`
	Status        OperationStatus `json:"status"`
	CurrentStep   *string         `json:"current_step,omitempty"`
	TotalSteps    *int            `json:"total_steps,omitempty"`
	StepProgress  *float64        `json:"current_step_progress,omitempty"`
	// Only set while running with a measurable rate
	EstimatedTimeRemainingMS *int64         `json:"estimated_time_remaining_ms,omitempty"`
	StartTime                Timestamp      `json:"start_time"`
	Details                  map[string]any `json:"details,omitempty"`
}

// IsTerminal is a shortcut for Status.IsTerminal
func (p ProgressData) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// OperationSummary is one row of an operations_list snapshot
type OperationSummary struct {
	OperationID    string          `json:"operation_id"`
	OperationType  string          `json:"operation_type"`
	Name           string          `json:"name"`
	Status         OperationStatus `json:"status"`
	Progress       float64         `json:"progress"`
	StartTime      Timestamp       `json:"start_time"`
	LastUpdateTime Timestamp       `json:"last_update_time"`
}

// OperationDetails is the full view returned by get_operation_details
type OperationDetails struct {
	OperationType  string          `json:"operation_type"`
	Name           string          `json:"name"`
	Status         OperationStatus `json:"status"`
	Progress       float64         `json:"progress"`
	CurrentStep    *string         `json:"current_step,omitempty"`
	TotalSteps     *int            `json:"total_steps,omitempty"`
	StepProgress   *float64        `json:"current_step_progress,omitempty"`
	StartTime      Timestamp       `json:"start_time"`
	LastUpdateTime Timestamp       `json:"last_update_time"`
	Details        map[string]any  `json:"details,omitempty"`
}

// Detail keys merged by the reporter on terminal transitions
const (
	DetailDurationMS   = "duration_ms"
	DetailErrorMessage = "error_message"
	DetailErrorCode    = "error_code"
)
