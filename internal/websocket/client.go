package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"progresshub/internal/infrastructure"
)

// messageHandler processes one inbound text frame from c
type messageHandler func(ctx context.Context, c *Client, message []byte)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub  *Hub
	conn Connection

	// Buffered channel of outbound messages. Closed by the hub only.
	send chan []byte

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time

	cfg     ServerConfig
	handle  messageHandler
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newClient(hub *Hub, conn Connection, cfg ServerConfig, handle messageHandler, traceID string, logger *slog.Logger) *Client {
	id := uuid.NewString()
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	c := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBufferSize),
		id:          id,
		traceID:     traceID,
		remoteAddr:  remote,
		connectedAt: time.Now(),
		cfg:         cfg,
		handle:      handle,
		logger: infrastructure.ComponentLogger(logger, "websocket.client").With(
			slog.String("client_id", id)),
	}
	if cfg.ControlRate > 0 {
		burst := cfg.ControlBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.ControlRate), burst)
	}
	return c
}

// ID returns the client's generated id
func (c *Client) ID() string { return c.id }

func (c *Client) context() context.Context {
	if c.traceID == "" {
		return context.Background()
	}
	return infrastructure.WithTraceID(context.Background(), c.traceID)
}

// allow reports whether another control message fits in the rate budget
func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// ReadPump pumps messages from the websocket connection to the handler
func (c *Client) ReadPump() {
	ctx := c.context()
	var received int64
	defer func() {
		c.logger.InfoContext(ctx, "WebSocket client disconnected",
			slog.Duration("connection_duration", time.Since(c.connectedAt)),
			slog.Int64("messages_received", received))
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WarnContext(ctx, "Unexpected WebSocket close error", slog.String("error", err.Error()))
			}
			return
		}
		// Any inbound frame proves the peer is alive
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		if msgType != websocket.TextMessage {
			continue
		}
		received++
		c.hub.metrics.recordReceived(len(message))
		c.handle(ctx, c, message)
	}
}

// WritePump pumps messages from the hub to the websocket connection and pings the peer
func (c *Client) WritePump() {
	ctx := c.context()
	ticker := time.NewTicker(c.cfg.PingPeriod)
	var sent int64
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.logger.DebugContext(ctx, "WebSocket write pump stopped", slog.Int64("messages_sent", sent))
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.WarnContext(ctx, "Error writing message to WebSocket", slog.String("error", err.Error()))
				return
			}
			sent++
			c.hub.metrics.recordSent(len(message))

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(ctx, "Failed to send ping message", slog.String("error", err.Error()))
				return
			}
		}
	}
}
