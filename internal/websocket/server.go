package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"progresshub/internal/config"
	"progresshub/internal/infrastructure"
	"progresshub/internal/operations"
	"progresshub/pkg/contracts/domain"
	"progresshub/pkg/contracts/events"
)

// ServerConfig tunes the broadcast server
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	// ControlRate limits inbound control messages per second per connection. 0 disables the limit.
	ControlRate  float64
	ControlBurst int
	// AllowedOrigins is matched against the Origin header; "*" or an empty list allows any origin.
	AllowedOrigins []string
}

// DefaultServerConfig returns the defaults of config.Default
func DefaultServerConfig() ServerConfig {
	d := config.Default()
	return ServerConfigFrom(d.WebSocket, d.Server.AllowedOrigins)
}

// ServerConfigFrom maps the application config
func ServerConfigFrom(ws config.WebSocketConfig, origins []string) ServerConfig {
	return ServerConfig{
		ReadBufferSize:  ws.ReadBufferSize,
		WriteBufferSize: ws.WriteBufferSize,
		SendBufferSize:  ws.SendBufferSize,
		MaxMessageSize:  ws.MaxMessageSize,
		WriteWait:       ws.WriteWait,
		PongWait:        ws.PongWait,
		PingPeriod:      ws.PingPeriod,
		ControlRate:     ws.ControlRate,
		ControlBurst:    ws.ControlBurst,
		AllowedOrigins:  origins,
	}
}

// Server pushes registry updates to every connected WebSocket client and
// answers their control messages.
type Server struct {
	dir      OperationDirectory
	hub      *Hub
	cfg      ServerConfig
	upgrader websocket.Upgrader
	validate *validator.Validate
	tracer   trace.Tracer
	metrics  *Metrics
	otel     *OTelMetrics
	logger   *slog.Logger
	meter    metric.Meter

	mu      sync.Mutex
	subID   operations.CallbackID
	started bool
	stopped bool
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerMeter records OpenTelemetry metrics on meter
func WithServerMeter(meter metric.Meter) ServerOption {
	return func(s *Server) { s.meter = meter }
}

// NewServer creates a server for dir. Call Start before serving connections.
func NewServer(dir OperationDirectory, cfg ServerConfig, logger *slog.Logger, opts ...ServerOption) *Server {
	cfg = withDefaults(cfg)
	s := &Server{
		dir:      dir,
		cfg:      cfg,
		validate: validator.New(),
		tracer:   otel.Tracer(infrastructure.InstrumentationName),
		metrics:  newMetrics(),
		logger:   infrastructure.ComponentLogger(logger, "websocket.server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if m, err := NewOTelMetrics(s.meter); err == nil {
		s.otel = m
	} else {
		s.logger.Warn("websocket metrics disabled", slog.String("error", err.Error()))
	}

	s.hub = NewHub(logger, s.metrics, s.otel)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			s.logger.WarnContext(r.Context(), "WebSocket upgrade failed",
				slog.Int("status", status),
				slog.String("error", reason.Error()))
			http.Error(w, reason.Error(), status)
		},
	}
	return s
}

func withDefaults(cfg ServerConfig) ServerConfig {
	d := config.Default().WebSocket
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = d.ReadBufferSize
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = d.WriteBufferSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = d.SendBufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = d.MaxMessageSize
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = d.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = d.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = (cfg.PongWait * 9) / 10
	}
	return cfg
}

// Start subscribes to the registry and starts the hub
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.hub.Start()
	s.subID = s.dir.AddCallback(s.onProgress)
	s.logger.Info("WebSocket server started")
}

// Stop unsubscribes from the registry and closes every connection
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.dir.RemoveCallback(s.subID)
	s.hub.Stop()
	s.logger.Info("WebSocket server stopped")
}

// Stats returns hub counters
func (s *Server) Stats() Stats {
	return s.metrics.Snapshot()
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// ServeHTTP upgrades the request and attaches the connection to the hub
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied through its Error callback
		return
	}
	s.Attach(r.Context(), conn)
}

// Attach registers an established connection and starts its pumps. The
// operations list is queued ahead of any later broadcast. It returns nil if the
// server is no longer running.
func (s *Server) Attach(ctx context.Context, conn Connection) *Client {
	s.mu.Lock()
	running := s.started && !s.stopped
	s.mu.Unlock()
	if !running {
		_ = conn.Close()
		return nil
	}

	traceID := infrastructure.GetTraceID(ctx)
	client := newClient(s.hub, conn, s.cfg, s.handleMessage, traceID, s.logger)

	snapshot := func() []byte {
		return s.encode(client.context(), events.NewOperationsList(s.dir.ListOperations()))
	}
	if !s.hub.Register(client, snapshot) {
		_ = conn.Close()
		return nil
	}

	go client.WritePump()
	go client.ReadPump()
	return client
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// onProgress is the registry subscription. It serializes each envelope once for all clients.
func (s *Server) onProgress(ctx context.Context, data domain.ProgressData) error {
	s.broadcast(ctx, events.NewProgressUpdate(data))

	switch {
	case data.Status == domain.OperationStatusPending:
		s.broadcast(ctx, events.NewOperationStarted(data))
	case data.IsTerminal():
		finished, err := events.NewOperationFinished(data)
		if err != nil {
			return err
		}
		s.broadcast(ctx, finished)
	}
	return nil
}

func (s *Server) broadcast(ctx context.Context, msg events.Message) {
	raw, err := events.Encode(msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to encode broadcast", slog.String("error", err.Error()))
		return
	}
	s.otel.RecordMessage(ctx, "out", string(msg.MessageType()), len(raw))
	s.hub.Broadcast(raw)
}

func (s *Server) reply(ctx context.Context, c *Client, msg events.Message) {
	if raw := s.encode(ctx, msg); raw != nil {
		s.hub.SendTo(c, raw)
	}
}

// encode serializes a message for one client and records it. It returns nil on failure.
func (s *Server) encode(ctx context.Context, msg events.Message) []byte {
	raw, err := events.Encode(msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to encode reply", slog.String("error", err.Error()))
		return nil
	}
	s.otel.RecordMessage(ctx, "out", string(msg.MessageType()), len(raw))
	return raw
}

func (s *Server) replyError(ctx context.Context, c *Client, format string, args ...any) {
	s.metrics.controlErrors.Add(1)
	s.reply(ctx, c, events.NewError(format, args...))
}

// handleMessage answers one inbound control message
func (s *Server) handleMessage(ctx context.Context, c *Client, raw []byte) {
	if !c.allow() {
		s.replyError(ctx, c, "Rate limit exceeded")
		return
	}

	msg, err := events.Decode(raw)
	if err != nil {
		var unknown *events.UnknownTypeError
		if errors.As(err, &unknown) {
			s.replyError(ctx, c, "Unknown message type: %s", unknown.Type)
			return
		}
		s.logger.WarnContext(ctx, "Ignoring malformed message",
			slog.String("client_id", c.id),
			slog.String("error", err.Error()))
		return
	}
	s.otel.RecordMessage(ctx, "in", string(msg.MessageType()), len(raw))

	ctx, span := s.tracer.Start(ctx, "websocket.control",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("websocket.message_type", string(msg.MessageType())),
			attribute.String("websocket.client_id", c.id),
		))
	defer span.End()

	switch m := msg.(type) {
	case *events.Ping:
		s.reply(ctx, c, events.NewPong())

	case *events.ListOperations:
		s.reply(ctx, c, events.NewOperationsList(s.dir.ListOperations()))

	case *events.CancelOperation:
		if err := s.validate.Struct(m); err != nil {
			s.replyError(ctx, c, "Missing operation_id")
			return
		}
		success := s.dir.CancelOperation(ctx, m.OperationID)
		span.SetAttributes(attribute.Bool("operation.canceled", success))
		s.reply(ctx, c, events.NewCancelResult(m.OperationID, success))

	case *events.GetOperationDetails:
		if err := s.validate.Struct(m); err != nil {
			s.replyError(ctx, c, "Missing operation_id")
			return
		}
		details, ok := s.dir.OperationDetails(m.OperationID)
		if !ok {
			s.replyError(ctx, c, "Operation not found: %s", m.OperationID)
			return
		}
		s.reply(ctx, c, events.NewOperationDetails(m.OperationID, details))

	default:
		s.replyError(ctx, c, "Unknown message type: %s", msg.MessageType())
	}
}
