// Package events contains the wire contract for the progress WebSocket protocol.
//
// Every frame is a JSON object with a "type" tag taken from a closed set and a
// "timestamp" in float seconds since the Unix epoch, followed by type-specific fields.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"progresshub/pkg/contracts/domain"
)

// Protocol version
const (
	ProtocolVersion = "1.0"
	ProtocolName    = "progresshub-websocket"
)

// MessageType is the "type" tag of an envelope
type MessageType string

const (
	// Server to client
	MessageTypeProgressUpdate     MessageType = "progress_update"
	MessageTypeOperationsList     MessageType = "operations_list"
	MessageTypeOperationStarted   MessageType = "operation_started"
	MessageTypeOperationCompleted MessageType = "operation_completed"
	MessageTypeOperationFailed    MessageType = "operation_failed"
	MessageTypeOperationCanceled  MessageType = "operation_canceled"
	MessageTypeCancelResult       MessageType = "cancel_result"
	MessageTypeOperationDetails   MessageType = "operation_details"
	MessageTypePong               MessageType = "pong"
	MessageTypeError              MessageType = "error"

	// Client to server
	MessageTypePing                MessageType = "ping"
	MessageTypeListOperations      MessageType = "list_operations"
	MessageTypeCancelOperation     MessageType = "cancel_operation"
	MessageTypeGetOperationDetails MessageType = "get_operation_details"
)

// IsRequest reports whether t is sent by clients
func (t MessageType) IsRequest() bool {
	switch t {
	case MessageTypePing, MessageTypeListOperations, MessageTypeCancelOperation, MessageTypeGetOperationDetails:
		return true
	}
	return false
}

// Valid reports whether t belongs to the protocol
func (t MessageType) Valid() bool {
	_, ok := decoders[t]
	return ok
}

// ConnectionState is the client-side view of its link to the server
type ConnectionState string

const (
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
)

var (
	// ErrMalformed is returned by Decode for frames that are not a JSON object
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned by Decode for well-formed frames with an unknown type tag
	ErrUnknownType = errors.New("unknown message type")
)

// UnknownTypeError carries the offending tag. It matches ErrUnknownType with errors.Is.
type UnknownTypeError struct {
	Type MessageType
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownType, string(e.Type))
}

func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}

// Header is embedded by every message
type Header struct {
	Type      MessageType      `json:"type"`
	Timestamp domain.Timestamp `json:"timestamp"`
}

// MessageType returns the envelope tag
func (h Header) MessageType() MessageType { return h.Type }

func (Header) sealed() {}

func newHeader(t MessageType) Header {
	return Header{Type: t, Timestamp: domain.Now()}
}

// Message is implemented only by the envelope types of this package
type Message interface {
	MessageType() MessageType
	sealed()
}

var decoders = map[MessageType]func() Message{
	MessageTypeProgressUpdate:      func() Message { return &ProgressUpdate{} },
	MessageTypeOperationsList:      func() Message { return &OperationsList{} },
	MessageTypeOperationStarted:    func() Message { return &OperationStarted{} },
	MessageTypeOperationCompleted:  func() Message { return &OperationFinished{} },
	MessageTypeOperationFailed:     func() Message { return &OperationFinished{} },
	MessageTypeOperationCanceled:   func() Message { return &OperationFinished{} },
	MessageTypeCancelResult:        func() Message { return &CancelResult{} },
	MessageTypeOperationDetails:    func() Message { return &OperationDetails{} },
	MessageTypePong:                func() Message { return &Pong{} },
	MessageTypeError:               func() Message { return &ErrorMessage{} },
	MessageTypePing:                func() Message { return &Ping{} },
	MessageTypeListOperations:      func() Message { return &ListOperations{} },
	MessageTypeCancelOperation:     func() Message { return &CancelOperation{} },
	MessageTypeGetOperationDetails: func() Message { return &GetOperationDetails{} },
}

// Decode parses one frame into its concrete message type.
func Decode(raw []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	newMsg, ok := decoders[head.Type]
	if !ok {
		return nil, &UnknownTypeError{Type: head.Type}
	}
	msg := newMsg()
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	return msg, nil
}

// Encode serializes a message
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	return data, nil
}
