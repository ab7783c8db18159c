package persistence

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"progresshub/internal/infrastructure"
	"progresshub/internal/operations"
	"progresshub/pkg/contracts/domain"
)

const (
	defaultBufferSize = 1024
	writeTimeout      = 5 * time.Second
)

// Recorder is the part of Store the listener writes through
type Recorder interface {
	Record(ctx context.Context, data domain.ProgressData) error
}

// Subscriber is what the listener attaches to. *operations.Registry implements it.
type Subscriber interface {
	AddCallback(fn operations.Callback) operations.CallbackID
	RemoveCallback(id operations.CallbackID) bool
}

// ListenerStats counts what happened to received snapshots
type ListenerStats struct {
	Received int64 `json:"received"`
	Written  int64 `json:"written"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
}

// Listener persists every registry snapshot from a single writer goroutine.
// Snapshots that do not fit in the buffer are dropped so reporters never block.
type Listener struct {
	store  Recorder
	queue  chan domain.ProgressData
	logger *slog.Logger

	received atomic.Int64
	written  atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64

	mu      sync.Mutex
	source  Subscriber
	subID   operations.CallbackID
	started bool
	closed  bool
	done    chan struct{}
}

// NewListener creates a listener writing to store
func NewListener(store Recorder, bufferSize int, logger *slog.Logger) *Listener {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Listener{
		store:  store,
		queue:  make(chan domain.ProgressData, bufferSize),
		logger: infrastructure.ComponentLogger(logger, "persistence.listener"),
		done:   make(chan struct{}),
	}
}

// Start subscribes to source and starts the writer
func (l *Listener) Start(source Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.closed {
		return
	}
	l.started = true
	l.source = source
	l.subID = source.AddCallback(l.enqueue)
	go l.writeLoop()

	l.logger.Info("Persistence listener started", slog.Int("buffer_size", cap(l.queue)))
}

// Stop unsubscribes, writes what is still buffered and waits for the writer.
// It gives up when ctx ends first.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started := l.started
	if started {
		l.source.RemoveCallback(l.subID)
	}
	// enqueue checks closed under mu, so nothing sends after this
	close(l.queue)
	l.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-l.done:
		s := l.Stats()
		l.logger.Info("Persistence listener stopped",
			slog.Int64("written", s.Written),
			slog.Int64("dropped", s.Dropped),
			slog.Int64("failed", s.Failed))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the listener counters
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Received: l.received.Load(),
		Written:  l.written.Load(),
		Dropped:  l.dropped.Load(),
		Failed:   l.failed.Load(),
	}
}

// enqueue is the registry callback
func (l *Listener) enqueue(ctx context.Context, data domain.ProgressData) error {
	l.received.Add(1)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	select {
	case l.queue <- data:
	default:
		n := l.dropped.Add(1)
		l.logger.WarnContext(ctx, "Persistence buffer full, dropping snapshot",
			slog.String("operation_id", data.OperationID),
			slog.String("status", string(data.Status)),
			slog.Int64("dropped_total", n))
	}
	return nil
}

func (l *Listener) writeLoop() {
	defer close(l.done)
	for data := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := l.store.Record(ctx, data)
		cancel()
		if err != nil {
			l.failed.Add(1)
			l.logger.Error("Failed to persist progress",
				slog.String("operation_id", data.OperationID),
				slog.String("error", err.Error()))
			continue
		}
		l.written.Add(1)
	}
}
