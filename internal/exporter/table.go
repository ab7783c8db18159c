package exporter

import (
	"progresshub/internal/persistence"
	"progresshub/pkg/contracts/domain"
)

// Table is a header row plus data rows. Cells are nil, string, float64, int or int64.
type Table struct {
	Sheet   string
	Headers []string
	Rows    [][]any
}

var operationHeaders = []string{
	"operation_id", "operation_type", "name", "status", "progress",
	"current_step", "total_steps", "start_time", "last_update_time", "end_time", "details",
}

var historyHeaders = []string{
	"operation_id", "timestamp", "status", "progress",
	"current_step", "total_steps", "current_step_progress", "estimated_time_remaining_ms", "details",
}

// OperationsTable lays out the last stored state of each operation
func OperationsTable(ops []persistence.StoredOperation) Table {
	rows := make([][]any, 0, len(ops))
	for _, op := range ops {
		var end any
		if op.EndTime != nil {
			end = formatTimestamp(*op.EndTime)
		}
		rows = append(rows, []any{
			op.OperationID,
			op.OperationType,
			op.Name,
			string(op.Status),
			op.Progress,
			deref(op.CurrentStep),
			deref(op.TotalSteps),
			formatTimestamp(op.StartTime),
			formatTimestamp(op.LastUpdateTime),
			end,
			formatDetails(op.Details),
		})
	}
	return Table{Sheet: "Operations", Headers: operationHeaders, Rows: rows}
}

// HistoryTable lays out the recorded snapshots of one operation, oldest first
func HistoryTable(operationID string, events []domain.ProgressData) Table {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{
			operationID,
			formatTimestamp(e.Timestamp),
			string(e.Status),
			e.Progress,
			deref(e.CurrentStep),
			deref(e.TotalSteps),
			deref(e.StepProgress),
			deref(e.EstimatedTimeRemainingMS),
			formatDetails(e.Details),
		})
	}
	return Table{Sheet: "History", Headers: historyHeaders, Rows: rows}
}

// deref returns *p, or nil for an empty cell
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
