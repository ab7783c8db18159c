package connector

import (
	"maps"
	"sync"
	"time"
)

// MessageStats counts traffic on the connector's connections
type MessageStats struct {
	ReceivedCount    int64
	SentCount        int64
	ReceivedBytes    int64
	SentBytes        int64
	Errors           int64
	Reconnects       int64
	LastReceivedTime time.Time
	LastSentTime     time.Time
	// Per message type, both directions
	MessageTypes map[string]int64
}

type statsRecorder struct {
	mu    sync.Mutex
	stats MessageStats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{stats: MessageStats{MessageTypes: make(map[string]int64)}}
}

func (r *statsRecorder) recordReceived(size int, msgType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.ReceivedCount++
	r.stats.ReceivedBytes += int64(size)
	r.stats.LastReceivedTime = time.Now()
	if msgType != "" {
		r.stats.MessageTypes[msgType]++
	}
}

func (r *statsRecorder) recordSent(size int, msgType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.SentCount++
	r.stats.SentBytes += int64(size)
	r.stats.LastSentTime = time.Now()
	if msgType != "" {
		r.stats.MessageTypes[msgType]++
	}
}

func (r *statsRecorder) recordError() {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}

func (r *statsRecorder) recordReconnect() {
	r.mu.Lock()
	r.stats.Reconnects++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() MessageStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.MessageTypes = maps.Clone(r.stats.MessageTypes)
	return s
}
