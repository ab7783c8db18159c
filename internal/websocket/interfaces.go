package websocket

import (
	"context"
	"net"
	"time"

	"progresshub/internal/operations"
	"progresshub/pkg/contracts/domain"
)

// Connection is the subset of *websocket.Conn used by Client. Tests supply fakes.
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
}

// OperationDirectory is what the server needs from the operation registry.
// *operations.Registry implements it.
type OperationDirectory interface {
	ListOperations() []domain.OperationSummary
	OperationDetails(id string) (domain.OperationDetails, bool)
	CancelOperation(ctx context.Context, id string) bool
	AddCallback(fn operations.Callback) operations.CallbackID
	RemoveCallback(id operations.CallbackID) bool
}

var _ OperationDirectory = (*operations.Registry)(nil)
