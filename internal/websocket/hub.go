package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"progresshub/internal/infrastructure"
)

const (
	// broadcastQueueSize bounds the hand-off between reporters and the hub loop
	broadcastQueueSize = 1024

	metricsLogInterval = 30 * time.Second
)

type directMessage struct {
	client *Client
	data   []byte
}

// registration carries a client and the message it must see before any broadcast
type registration struct {
	client   *Client
	snapshot func() []byte
}

// Hub maintains the set of active clients and fans messages out to them.
// Only the Run goroutine mutates the client set or closes a client's send channel.
type Hub struct {
	clients map[*Client]struct{}

	broadcast  chan []byte
	direct     chan directMessage
	register   chan registration
	unregister chan *Client

	// guards clients for readers outside Run, and running
	mu sync.RWMutex

	logger  *slog.Logger
	metrics *Metrics
	otel    *OTelMetrics

	quit    chan struct{}
	done    chan struct{}
	running bool
	stopped bool
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger, metrics *Metrics, otelMetrics *OTelMetrics) *Hub {
	if metrics == nil {
		metrics = newMetrics()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastQueueSize),
		direct:     make(chan directMessage, broadcastQueueSize),
		register:   make(chan registration),
		unregister: make(chan *Client),
		logger:     infrastructure.ComponentLogger(logger, "websocket.hub"),
		metrics:    metrics,
		otel:       otelMetrics,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start starts the hub's goroutines. It is a no-op when already started or stopped.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running || h.stopped {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
	go h.reportMetrics()
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			return

		case reg := <-h.register:
			client := reg.client
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			ctx := client.context()
			h.metrics.recordConnection()
			h.otel.RecordConnection(ctx)
			h.logger.InfoContext(ctx, "Client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			// built here so no broadcast queued after it can overtake it
			if reg.snapshot != nil {
				if data := reg.snapshot(); data != nil {
					h.deliver(client, data)
				}
			}

		case client := <-h.unregister:
			if h.remove(client) {
				ctx := client.context()
				h.otel.RecordDisconnection(ctx, time.Since(client.connectedAt), "closed")
				h.logger.InfoContext(ctx, "Client unregistered",
					slog.Int("total_clients", h.ClientCount()),
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			}

		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; ok {
				h.deliver(msg.client, msg.data)
			}

		case message := <-h.broadcast:
			h.metrics.broadcasts.Add(1)
			delivered := 0
			for client := range h.clients {
				if h.deliver(client, message) {
					delivered++
				}
			}
			h.otel.RecordBroadcast(context.Background(), delivered)
			h.logger.Debug("Broadcast delivered",
				slog.Int("client_count", delivered),
				slog.Int("message_size", len(message)))
		}
	}
}

// deliver hands data to client without blocking. A client whose buffer is
// full is dropped so it cannot delay anyone else.
func (h *Hub) deliver(client *Client, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
	}

	h.remove(client)
	h.metrics.droppedClients.Add(1)
	ctx := client.context()
	h.otel.RecordDroppedClient(ctx)
	h.otel.RecordDisconnection(ctx, time.Since(client.connectedAt), "slow_consumer")
	h.logger.WarnContext(ctx, "Client send buffer full, disconnecting",
		slog.String("client_id", client.id))
	return false
}

// remove deletes client and closes its send channel. Must run on the hub goroutine or after it exited.
func (h *Hub) remove(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	close(client.send)
	h.metrics.recordDisconnection()
	return true
}

// Register adds a client. When snapshot is non-nil the hub calls it while
// registering and delivers the result ahead of every later broadcast. It
// returns false once the hub has stopped.
func (h *Hub) Register(client *Client, snapshot func() []byte) bool {
	select {
	case h.register <- registration{client: client, snapshot: snapshot}:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes a client; unknown or already removed clients are ignored
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Broadcast queues message for every connected client
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.quit:
	}
}

// SendTo queues message for one client. It is dropped if the client has left.
func (h *Hub) SendTo(client *Client, message []byte) {
	select {
	case h.direct <- directMessage{client: client, data: message}:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop stops the hub loop and closes every client's send channel, which makes
// each write pump send a close frame and close its connection.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	wasRunning := h.running
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	if wasRunning {
		<-h.done
	}

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.remove(client)
	}
	h.logger.Info("Hub stopped", slog.Int("closed_clients", len(clients)))
}

// reportMetrics periodically logs hub metrics
func (h *Hub) reportMetrics() {
	ticker := time.NewTicker(metricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.quit:
			return
		case <-ticker.C:
			s := h.metrics.Snapshot()
			h.logger.Debug("WebSocket hub metrics",
				slog.Int64("active_clients", s.ActiveClients),
				slog.Int64("total_connections", s.TotalConnections),
				slog.Int64("messages_sent", s.MessagesSent),
				slog.Int64("messages_received", s.MessagesReceived),
				slog.Int64("dropped_clients", s.DroppedClients),
				slog.Int("broadcast_queue", len(h.broadcast)))
		}
	}
}
