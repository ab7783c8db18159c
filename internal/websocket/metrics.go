package websocket

import (
	"sync/atomic"
	"time"
)

// Metrics tracks hub counters for the status endpoint
type Metrics struct {
	totalConnections atomic.Int64
	activeClients    atomic.Int64
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	bytesSent        atomic.Int64
	bytesReceived    atomic.Int64
	broadcasts       atomic.Int64
	droppedClients   atomic.Int64
	controlErrors    atomic.Int64
	startedAt        time.Time
}

// Stats is a point-in-time copy of Metrics
type Stats struct {
	ActiveClients    int64         `json:"active_clients"`
	TotalConnections int64         `json:"total_connections"`
	MessagesSent     int64         `json:"messages_sent"`
	MessagesReceived int64         `json:"messages_received"`
	BytesSent        int64         `json:"bytes_sent"`
	BytesReceived    int64         `json:"bytes_received"`
	Broadcasts       int64         `json:"broadcasts"`
	DroppedClients   int64         `json:"dropped_clients"`
	ControlErrors    int64         `json:"control_errors"`
	Uptime           time.Duration `json:"uptime"`
}

func newMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

func (m *Metrics) recordConnection() {
	m.totalConnections.Add(1)
	m.activeClients.Add(1)
}

func (m *Metrics) recordDisconnection() {
	m.activeClients.Add(-1)
}

func (m *Metrics) recordSent(size int) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(int64(size))
}

func (m *Metrics) recordReceived(size int) {
	m.messagesReceived.Add(1)
	m.bytesReceived.Add(int64(size))
}

// Snapshot returns the current counters
func (m *Metrics) Snapshot() Stats {
	return Stats{
		ActiveClients:    m.activeClients.Load(),
		TotalConnections: m.totalConnections.Load(),
		MessagesSent:     m.messagesSent.Load(),
		MessagesReceived: m.messagesReceived.Load(),
		BytesSent:        m.bytesSent.Load(),
		BytesReceived:    m.bytesReceived.Load(),
		Broadcasts:       m.broadcasts.Load(),
		DroppedClients:   m.droppedClients.Load(),
		ControlErrors:    m.controlErrors.Load(),
		Uptime:           time.Since(m.startedAt),
	}
}
