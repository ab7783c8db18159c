package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"progresshub/internal/infrastructure"
)

// OTelMetrics provides OpenTelemetry metrics for the broadcast server
type OTelMetrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	messagesTotal      metric.Int64Counter
	messageBytes       metric.Int64Counter
	droppedClients     metric.Int64Counter
	broadcastClients   metric.Int64Histogram
}

// NewOTelMetrics creates the instruments on meter, or on the global meter when nil
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	if meter == nil {
		meter = otel.Meter(infrastructure.InstrumentationName)
	}

	connectionsTotal, err := meter.Int64Counter(
		"websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionsActive, err := meter.Int64UpDownCounter(
		"websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionDuration, err := meter.Float64Histogram(
		"websocket_connection_duration_seconds",
		metric.WithDescription("WebSocket connection lifetime"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	messagesTotal, err := meter.Int64Counter(
		"websocket_messages_total",
		metric.WithDescription("Total number of WebSocket messages by direction and type"),
	)
	if err != nil {
		return nil, err
	}

	messageBytes, err := meter.Int64Counter(
		"websocket_message_bytes_total",
		metric.WithDescription("Total WebSocket payload bytes by direction"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	droppedClients, err := meter.Int64Counter(
		"websocket_dropped_clients_total",
		metric.WithDescription("Clients disconnected because their send buffer was full"),
	)
	if err != nil {
		return nil, err
	}

	broadcastClients, err := meter.Int64Histogram(
		"websocket_broadcast_recipients",
		metric.WithDescription("Number of clients reached by each broadcast"),
	)
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		connectionsTotal:   connectionsTotal,
		connectionsActive:  connectionsActive,
		connectionDuration: connectionDuration,
		messagesTotal:      messagesTotal,
		messageBytes:       messageBytes,
		droppedClients:     droppedClients,
		broadcastClients:   broadcastClients,
	}, nil
}

func (m *OTelMetrics) RecordConnection(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

func (m *OTelMetrics) RecordDisconnection(ctx context.Context, duration time.Duration, reason string) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *OTelMetrics) RecordMessage(ctx context.Context, direction, messageType string, size int) {
	if m == nil {
		return
	}
	m.messagesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("message_type", messageType),
	))
	m.messageBytes.Add(ctx, int64(size), metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *OTelMetrics) RecordDroppedClient(ctx context.Context) {
	if m == nil {
		return
	}
	m.droppedClients.Add(ctx, 1)
}

func (m *OTelMetrics) RecordBroadcast(ctx context.Context, recipients int) {
	if m == nil {
		return
	}
	m.broadcastClients.Record(ctx, int64(recipients))
}
