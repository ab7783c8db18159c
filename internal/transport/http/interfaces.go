package http

import (
	"context"

	"progresshub/internal/operations"
	"progresshub/internal/persistence"
	"progresshub/internal/websocket"
	"progresshub/pkg/contracts/domain"
)

// OperationService is the slice of the operation registry served over REST
type OperationService interface {
	ListOperations() []domain.OperationSummary
	OperationDetails(id string) (domain.OperationDetails, bool)
	CancelOperation(ctx context.Context, id string) bool
	Stats() operations.RegistryStats
}

// HubStats reports BroadcastServer counters
type HubStats interface {
	Stats() websocket.Stats
}

// HistoryStore reads persisted progress. A nil store disables the history endpoints.
type HistoryStore interface {
	GetOperation(ctx context.Context, id string) (*persistence.StoredOperation, error)
	ListOperations(ctx context.Context, filter persistence.ListFilter) ([]persistence.StoredOperation, error)
	History(ctx context.Context, id string, limit int) ([]domain.ProgressData, error)
}
