// Package api contains the REST contract of the progress server.
// Version v1 is served under /api.
package api

import (
	"progresshub/pkg/contracts/domain"
)

// ListOperationsRequest filters GET /api/operations
type ListOperationsRequest struct {
	Status string `json:"status" query:"status" validate:"omitempty,oneof=pending running paused completed failed canceled"`
	Type   string `json:"type" query:"type" validate:"omitempty,max=128"`
}

// HistoryRequest bounds GET /api/operations/{id}/history
type HistoryRequest struct {
	Limit int `json:"limit" query:"limit" validate:"omitempty,min=1,max=1000"`
}

// ListOperationsResponse is returned by GET /api/operations
type ListOperationsResponse struct {
	Operations []domain.OperationSummary `json:"operations"`
	Count      int                       `json:"count"`
}

// OperationResponse is returned by GET /api/operations/{id}
type OperationResponse struct {
	OperationID string                  `json:"operation_id"`
	Details     domain.OperationDetails `json:"details"`
}

// CancelResponse is returned by POST /api/operations/{id}/cancel
type CancelResponse struct {
	OperationID string `json:"operation_id"`
	Success     bool   `json:"success"`
}

// HistoryResponse lists persisted snapshots oldest first
type HistoryResponse struct {
	OperationID string                `json:"operation_id"`
	Events      []domain.ProgressData `json:"events"`
}

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// OperationCounts is the registry part of StatusResponse
type OperationCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Terminal int `json:"terminal"`
}

// HubStatus is the websocket part of StatusResponse
type HubStatus struct {
	ActiveClients    int   `json:"active_clients"`
	TotalConnections int64 `json:"total_connections"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	DroppedClients   int64 `json:"dropped_clients"`
}

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Status      string           `json:"status"`
	StartedAt   domain.Timestamp `json:"started_at"`
	Operations  OperationCounts  `json:"operations"`
	WebSocket   HubStatus        `json:"websocket"`
	Persistence bool             `json:"persistence"`
}
