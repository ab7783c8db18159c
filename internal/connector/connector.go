// Package connector is the client side of the progress WebSocket protocol.
//
// A Connector keeps one connection to a progress server alive, reconnecting with
// exponential backoff. It mirrors the server's operations locally and fans each
// inbound message out to typed callbacks. Requests are queued onto the
// connection's writer and return immediately; replies arrive through callbacks.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"progresshub/internal/infrastructure"
	"progresshub/pkg/contracts/events"
)

var (
	// ErrNotConnected is returned by requests made while no connection is up
	ErrNotConnected = errors.New("not connected to progress server")
	// ErrQueueFull is returned when the outbound queue has no room
	ErrQueueFull = errors.New("outbound queue full")
	// ErrMissingOperationID is returned for requests without an operation id
	ErrMissingOperationID = errors.New("operation id is required")
	// ErrStopTimeout is returned by Stop when the run loop had to be abandoned
	ErrStopTimeout = errors.New("connector did not stop in time")
)

const closeGracePeriod = time.Second

type outbound struct {
	raw     []byte
	msgType string
}

// Connector maintains a connection to a progress server
type Connector struct {
	cfg    Config
	dialer *websocket.Dialer
	header http.Header
	logger *slog.Logger

	mirror   *mirror
	handlers handlers
	stats    *statsRecorder

	mu     sync.Mutex
	state  events.ConnectionState
	conn   *websocket.Conn
	out    chan outbound
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Connector
type Option func(*Connector)

// WithDialer replaces the default WebSocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Connector) { c.dialer = d }
}

// WithHeader adds headers to the handshake request
func WithHeader(h http.Header) Option {
	return func(c *Connector) { c.header = h.Clone() }
}

// New creates a stopped connector
func New(cfg Config, logger *slog.Logger, opts ...Option) *Connector {
	cfg = cfg.withDefaults()
	c := &Connector{
		cfg:    cfg,
		logger: infrastructure.ComponentLogger(logger, "connector").With(slog.String("url", cfg.URL)),
		mirror: newMirror(),
		stats:  newStatsRecorder(),
		state:  events.ConnectionStateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		}
	}
	return c
}

// Start launches the connection loop. It is a no-op while already running.
func (c *Connector) Start() error {
	if err := c.cfg.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)

	c.logger.Info("Connector started")
	return nil
}

// Stop closes the connection and waits up to StopTimeout for the loop to exit.
// Past the deadline the socket is force-closed and ErrStopTimeout returned.
func (c *Connector) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		c.logger.Info("Connector stopped")
		return nil
	case <-timer.C:
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	c.logger.Warn("Connector stop timed out, connection force-closed",
		slog.Duration("timeout", c.cfg.StopTimeout))
	return ErrStopTimeout
}

// Done is closed when the current run loop exits, after Stop or once
// MaxAttempts is exhausted. It is nil before the first Start.
func (c *Connector) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// State returns the current connection state
func (c *Connector) State() events.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a connection is up
func (c *Connector) IsConnected() bool {
	return c.State() == events.ConnectionStateConnected
}

// Operations returns the mirrored operations ordered by start time
func (c *Connector) Operations() []OperationInfo {
	return c.mirror.list()
}

// Operation returns one mirrored operation
func (c *Connector) Operation(id string) (OperationInfo, bool) {
	return c.mirror.get(id)
}

// ActiveOperations returns the mirrored operations that have not finished
func (c *Connector) ActiveOperations() []OperationInfo {
	all := c.mirror.list()
	active := all[:0]
	for _, op := range all {
		if op.IsActive() {
			active = append(active, op)
		}
	}
	return active
}

// Stats returns message counters
func (c *Connector) Stats() MessageStats {
	return c.stats.snapshot()
}

// ListOperations asks the server for an operations_list
func (c *Connector) ListOperations() error {
	return c.send(events.NewListOperations())
}

// CancelOperation asks the server to cancel id. The outcome arrives via OnCancelResult.
func (c *Connector) CancelOperation(id string) error {
	if id == "" {
		return ErrMissingOperationID
	}
	return c.send(events.NewCancelOperation(id))
}

// GetOperationDetails asks the server for id's details. The reply arrives via
// OnOperationDetails, or OnError when the id is unknown.
func (c *Connector) GetOperationDetails(id string) error {
	if id == "" {
		return ErrMissingOperationID
	}
	return c.send(events.NewGetOperationDetails(id))
}

// Ping sends a heartbeat outside the regular interval
func (c *Connector) Ping() error {
	return c.send(events.NewPing())
}

func (c *Connector) send(msg events.Message) error {
	raw, err := events.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != events.ConnectionStateConnected || c.out == nil {
		return ErrNotConnected
	}
	select {
	case c.out <- outbound{raw: raw, msgType: string(msg.MessageType())}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Connector) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	bo := newBackoff(c.cfg)
	connectedBefore := false
	for {
		if ctx.Err() != nil {
			c.setState(ctx, events.ConnectionStateDisconnected, nil, bo.Attempt())
			return
		}

		c.setState(ctx, events.ConnectionStateConnecting, nil, bo.Attempt())
		conn, err := c.dial(ctx)
		if err == nil {
			bo.Reset()
			if connectedBefore {
				c.stats.recordReconnect()
			}
			connectedBefore = true
			err = c.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			c.setState(ctx, events.ConnectionStateDisconnected, nil, bo.Attempt())
			return
		}
		c.setState(ctx, events.ConnectionStateDisconnected, err, bo.Attempt())

		delay, ok := bo.Next()
		if !ok {
			c.logger.ErrorContext(ctx, "Giving up on progress server",
				slog.Int("attempts", c.cfg.MaxAttempts),
				slog.String("error", errString(err)))
			c.mu.Lock()
			if c.cancel != nil {
				c.cancel()
				c.cancel = nil
			}
			c.mu.Unlock()
			return
		}
		c.logger.WarnContext(ctx, "Connection to progress server lost, retrying",
			slog.String("error", errString(err)),
			slog.Int("attempt", bo.Attempt()),
			slog.Duration("retry_in", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (c *Connector) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// serve runs the receive and write loops until either fails or ctx ends
func (c *Connector) serve(ctx context.Context, conn *websocket.Conn) error {
	out := make(chan outbound, c.cfg.OutboundQueue)
	c.mu.Lock()
	c.conn = conn
	c.out = out
	c.mu.Unlock()

	c.setState(ctx, events.ConnectionStateConnected, nil, 0)
	c.logger.InfoContext(ctx, "Connected to progress server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.receiveLoop(gctx, conn) })
	g.Go(func() error { return c.writeLoop(gctx, conn, out) })
	g.Go(func() error {
		<-gctx.Done()
		// unblocks ReadMessage
		return conn.Close()
	})
	err := g.Wait()

	c.mu.Lock()
	c.conn = nil
	c.out = nil
	c.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Connector) receiveLoop(ctx context.Context, conn *websocket.Conn) error {
	readWait := 2 * c.cfg.HeartbeatInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(closeGracePeriod))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		if msgType != websocket.TextMessage {
			continue
		}
		c.handle(ctx, raw)
	}
}

// handle updates the mirror, then runs the callbacks for one inbound frame
func (c *Connector) handle(ctx context.Context, raw []byte) {
	msg, err := events.Decode(raw)
	if err != nil {
		c.stats.recordReceived(len(raw), "")
		c.stats.recordError()
		c.logger.WarnContext(ctx, "Ignoring invalid message from server", slog.String("error", err.Error()))
		return
	}
	c.stats.recordReceived(len(raw), string(msg.MessageType()))

	c.mirror.apply(msg)
	c.handlers.dispatch(ctx, c.logger, msg)
}

func (c *Connector) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan outbound) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	write := func(raw []byte, msgType string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.DialTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			c.stats.recordError()
			return fmt.Errorf("write %s: %w", msgType, err)
		}
		c.stats.recordSent(len(raw), msgType)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGracePeriod))
			return nil

		case msg := <-out:
			if err := write(msg.raw, msg.msgType); err != nil {
				return err
			}

		case <-ticker.C:
			raw, err := events.Encode(events.NewPing())
			if err != nil {
				return err
			}
			if err := write(raw, string(events.MessageTypePing)); err != nil {
				return err
			}
		}
	}
}

func (c *Connector) setState(ctx context.Context, state events.ConnectionState, cause error, attempt int) {
	c.mu.Lock()
	prev := c.state
	c.state = state
	c.mu.Unlock()

	if prev == state && cause == nil {
		return
	}
	c.logger.DebugContext(ctx, "Connection state changed",
		slog.String("from", string(prev)),
		slog.String("to", string(state)))
	c.handlers.connection.dispatch(ctx, c.logger, "connection_status", ConnectionStatus{
		Status:  state,
		Error:   errString(cause),
		Attempt: attempt,
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
