package events

import (
	"fmt"

	"progresshub/pkg/contracts/domain"
)

// ProgressUpdate carries one operation snapshot
type ProgressUpdate struct {
	Header
	Data domain.ProgressData `json:"data"`
}

// NewProgressUpdate wraps a snapshot in a progress_update envelope
func NewProgressUpdate(data domain.ProgressData) *ProgressUpdate {
	return &ProgressUpdate{Header: newHeader(MessageTypeProgressUpdate), Data: data}
}

// OperationsList is the full list of retained operations
type OperationsList struct {
	Header
	Operations []domain.OperationSummary `json:"operations"`
}

// NewOperationsList builds an operations_list envelope. A nil slice is sent as [].
func NewOperationsList(ops []domain.OperationSummary) *OperationsList {
	if ops == nil {
		ops = []domain.OperationSummary{}
	}
	return &OperationsList{Header: newHeader(MessageTypeOperationsList), Operations: ops}
}

// StartedOperation identifies a newly created operation
type StartedOperation struct {
	OperationID   string `json:"operation_id"`
	OperationType string `json:"operation_type"`
	Name          string `json:"name"`
}

// OperationStarted announces a new operation
type OperationStarted struct {
	Header
	Operation StartedOperation `json:"operation"`
}

// NewOperationStarted builds an operation_started envelope from a creation snapshot
func NewOperationStarted(data domain.ProgressData) *OperationStarted {
	return &OperationStarted{
		Header: newHeader(MessageTypeOperationStarted),
		Operation: StartedOperation{
			OperationID:   data.OperationID,
			OperationType: data.OperationType,
			Name:          data.Name,
		},
	}
}

// OperationFinished is shared by operation_completed, operation_failed and operation_canceled
type OperationFinished struct {
	Header
	OperationID string         `json:"operation_id"`
	Details     map[string]any `json:"details,omitempty"`
}

// NewOperationFinished builds the lifecycle envelope matching a terminal snapshot.
func NewOperationFinished(data domain.ProgressData) (*OperationFinished, error) {
	var t MessageType
	switch data.Status {
	case domain.OperationStatusCompleted:
		t = MessageTypeOperationCompleted
	case domain.OperationStatusFailed:
		t = MessageTypeOperationFailed
	case domain.OperationStatusCanceled:
		t = MessageTypeOperationCanceled
	default:
		return nil, fmt.Errorf("status %q is not terminal", data.Status)
	}
	return &OperationFinished{Header: newHeader(t), OperationID: data.OperationID, Details: data.Details}, nil
}

// Status maps the envelope tag back to the terminal status it reports
func (m *OperationFinished) Status() domain.OperationStatus {
	switch m.Type {
	case MessageTypeOperationCompleted:
		return domain.OperationStatusCompleted
	case MessageTypeOperationFailed:
		return domain.OperationStatusFailed
	case MessageTypeOperationCanceled:
		return domain.OperationStatusCanceled
	}
	return ""
}

// CancelResult answers cancel_operation
type CancelResult struct {
	Header
	OperationID string `json:"operation_id"`
	Success     bool   `json:"success"`
}

func NewCancelResult(operationID string, success bool) *CancelResult {
	return &CancelResult{Header: newHeader(MessageTypeCancelResult), OperationID: operationID, Success: success}
}

// OperationDetails answers get_operation_details
type OperationDetails struct {
	Header
	OperationID string                  `json:"operation_id"`
	Details     domain.OperationDetails `json:"details"`
}

func NewOperationDetails(operationID string, details domain.OperationDetails) *OperationDetails {
	return &OperationDetails{Header: newHeader(MessageTypeOperationDetails), OperationID: operationID, Details: details}
}

// ErrorMessage reports a rejected request. Error and Message carry the same text.
type ErrorMessage struct {
	Header
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewError(format string, args ...any) *ErrorMessage {
	text := fmt.Sprintf(format, args...)
	return &ErrorMessage{Header: newHeader(MessageTypeError), Error: text, Message: text}
}

// Text returns whichever of the two fields the sender filled
func (m *ErrorMessage) Text() string {
	if m.Error != "" {
		return m.Error
	}
	return m.Message
}

type Ping struct {
	Header
}

func NewPing() *Ping { return &Ping{Header: newHeader(MessageTypePing)} }

type Pong struct {
	Header
}

func NewPong() *Pong { return &Pong{Header: newHeader(MessageTypePong)} }

type ListOperations struct {
	Header
}

func NewListOperations() *ListOperations {
	return &ListOperations{Header: newHeader(MessageTypeListOperations)}
}

// CancelOperation asks the server to cancel one operation
type CancelOperation struct {
	Header
	OperationID string `json:"operation_id" validate:"required"`
}

func NewCancelOperation(operationID string) *CancelOperation {
	return &CancelOperation{Header: newHeader(MessageTypeCancelOperation), OperationID: operationID}
}

// GetOperationDetails asks for the full view of one operation
type GetOperationDetails struct {
	Header
	OperationID string `json:"operation_id" validate:"required"`
}

func NewGetOperationDetails(operationID string) *GetOperationDetails {
	return &GetOperationDetails{Header: newHeader(MessageTypeGetOperationDetails), OperationID: operationID}
}
