package connector

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"progresshub/pkg/contracts/events"
)

// Subscription identifies a registered callback for RemoveCallback
type Subscription uint64

var nextSubscription atomic.Uint64

type handler[T any] struct {
	id Subscription
	fn func(T)
}

// handlerList is copied under its lock and invoked outside it
type handlerList[T any] struct {
	mu       sync.Mutex
	handlers []handler[T]
}

func (l *handlerList[T]) add(fn func(T)) Subscription {
	id := Subscription(nextSubscription.Add(1))
	l.mu.Lock()
	l.handlers = append(l.handlers, handler[T]{id: id, fn: fn})
	l.mu.Unlock()
	return id
}

func (l *handlerList[T]) remove(id Subscription) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.IndexFunc(l.handlers, func(h handler[T]) bool { return h.id == id })
	if i < 0 {
		return false
	}
	l.handlers = slices.Delete(l.handlers, i, i+1)
	return true
}

// dispatch calls every handler in registration order. A panicking handler is
// logged and does not stop the others.
func (l *handlerList[T]) dispatch(ctx context.Context, logger *slog.Logger, event string, v T) {
	l.mu.Lock()
	snapshot := slices.Clone(l.handlers)
	l.mu.Unlock()

	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "Callback panicked",
						slog.String("event", event),
						slog.String("panic", fmt.Sprint(r)),
						slog.String("stack", string(debug.Stack())))
				}
			}()
			h.fn(v)
		}()
	}
}

// ConnectionStatus is delivered to OnConnectionStatus callbacks on every state change
type ConnectionStatus struct {
	Status events.ConnectionState
	// Error is the reason for a disconnect, empty for a clean one
	Error   string
	Attempt int
}

type handlers struct {
	progress   handlerList[*events.ProgressUpdate]
	list       handlerList[*events.OperationsList]
	started    handlerList[*events.OperationStarted]
	completed  handlerList[*events.OperationFinished]
	failed     handlerList[*events.OperationFinished]
	canceled   handlerList[*events.OperationFinished]
	cancel     handlerList[*events.CancelResult]
	details    handlerList[*events.OperationDetails]
	errors     handlerList[*events.ErrorMessage]
	pong       handlerList[*events.Pong]
	connection handlerList[ConnectionStatus]
}

func (h *handlers) remove(id Subscription) bool {
	return h.progress.remove(id) ||
		h.list.remove(id) ||
		h.started.remove(id) ||
		h.completed.remove(id) ||
		h.failed.remove(id) ||
		h.canceled.remove(id) ||
		h.cancel.remove(id) ||
		h.details.remove(id) ||
		h.errors.remove(id) ||
		h.pong.remove(id) ||
		h.connection.remove(id)
}

func (h *handlers) dispatch(ctx context.Context, logger *slog.Logger, msg events.Message) {
	event := string(msg.MessageType())
	switch m := msg.(type) {
	case *events.ProgressUpdate:
		h.progress.dispatch(ctx, logger, event, m)
	case *events.OperationsList:
		h.list.dispatch(ctx, logger, event, m)
	case *events.OperationStarted:
		h.started.dispatch(ctx, logger, event, m)
	case *events.OperationFinished:
		switch m.Type {
		case events.MessageTypeOperationCompleted:
			h.completed.dispatch(ctx, logger, event, m)
		case events.MessageTypeOperationFailed:
			h.failed.dispatch(ctx, logger, event, m)
		case events.MessageTypeOperationCanceled:
			h.canceled.dispatch(ctx, logger, event, m)
		}
	case *events.CancelResult:
		h.cancel.dispatch(ctx, logger, event, m)
	case *events.OperationDetails:
		h.details.dispatch(ctx, logger, event, m)
	case *events.ErrorMessage:
		h.errors.dispatch(ctx, logger, event, m)
	case *events.Pong:
		h.pong.dispatch(ctx, logger, event, m)
	default:
		logger.DebugContext(ctx, "Ignoring message", slog.String("type", event))
	}
}

// OnProgressUpdate registers fn for progress_update messages
func (c *Connector) OnProgressUpdate(fn func(*events.ProgressUpdate)) Subscription {
	return c.handlers.progress.add(fn)
}

// OnOperationsList registers fn for operations_list messages
func (c *Connector) OnOperationsList(fn func(*events.OperationsList)) Subscription {
	return c.handlers.list.add(fn)
}

// OnOperationStarted registers fn for operation_started messages
func (c *Connector) OnOperationStarted(fn func(*events.OperationStarted)) Subscription {
	return c.handlers.started.add(fn)
}

func (c *Connector) OnOperationCompleted(fn func(*events.OperationFinished)) Subscription {
	return c.handlers.completed.add(fn)
}

func (c *Connector) OnOperationFailed(fn func(*events.OperationFinished)) Subscription {
	return c.handlers.failed.add(fn)
}

func (c *Connector) OnOperationCanceled(fn func(*events.OperationFinished)) Subscription {
	return c.handlers.canceled.add(fn)
}

// OnCancelResult registers fn for replies to CancelOperation
func (c *Connector) OnCancelResult(fn func(*events.CancelResult)) Subscription {
	return c.handlers.cancel.add(fn)
}

// OnOperationDetails registers fn for replies to GetOperationDetails
func (c *Connector) OnOperationDetails(fn func(*events.OperationDetails)) Subscription {
	return c.handlers.details.add(fn)
}

// OnError registers fn for error replies
func (c *Connector) OnError(fn func(*events.ErrorMessage)) Subscription {
	return c.handlers.errors.add(fn)
}

func (c *Connector) OnPong(fn func(*events.Pong)) Subscription {
	return c.handlers.pong.add(fn)
}

// OnConnectionStatus registers fn for connection state changes
func (c *Connector) OnConnectionStatus(fn func(ConnectionStatus)) Subscription {
	return c.handlers.connection.add(fn)
}

// RemoveCallback unregisters a callback added by any On* method
func (c *Connector) RemoveCallback(id Subscription) bool {
	return c.handlers.remove(id)
}
