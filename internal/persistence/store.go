// Package persistence keeps a durable history of operation progress in SQLite.
package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"progresshub/internal/infrastructure"
	"progresshub/pkg/contracts/domain"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned for operations the store has never seen
var ErrNotFound = errors.New("operation not found in history")

// StoreConfig is the configuration for the SQLite store.
type StoreConfig struct {
	DBPath string
	Logger *slog.Logger
}

func (c *StoreConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	c.Logger = infrastructure.ComponentLogger(c.Logger, "persistence.store")
	return nil
}

// Store persists operations and their progress events
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// StoredOperation is the last persisted state of an operation
type StoredOperation struct {
	OperationID    string                 `json:"operation_id"`
	OperationType  string                 `json:"operation_type"`
	Name           string                 `json:"name"`
	Status         domain.OperationStatus `json:"status"`
	Progress       float64                `json:"progress"`
	CurrentStep    *string                `json:"current_step,omitempty"`
	TotalSteps     *int                   `json:"total_steps,omitempty"`
	StepProgress   *float64               `json:"current_step_progress,omitempty"`
	Details        map[string]any         `json:"details,omitempty"`
	StartTime      domain.Timestamp       `json:"start_time"`
	LastUpdateTime domain.Timestamp       `json:"last_update_time"`
	EndTime        *domain.Timestamp      `json:"end_time,omitempty"`
}

// ListFilter narrows ListOperations. Zero values match everything.
type ListFilter struct {
	Status domain.OperationStatus
	Type   string
	Limit  int
}

// NewStore opens (creating if needed) the database at cfg.DBPath
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// one writer; readers share the same connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not apply schema: %w", err)
	}

	cfg.Logger.Debug("SQLite store initialized", slog.String("path", cfg.DBPath))
	return &Store{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Record upserts the operation row and appends one progress event, atomically
func (s *Store) Record(ctx context.Context, data domain.ProgressData) error {
	if data.OperationID == "" {
		return fmt.Errorf("operation id is required")
	}
	details, err := encodeDetails(data.Details)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	at := stamp(data.Timestamp)
	var endTime *int64
	if data.Status.IsTerminal() {
		endTime = &at
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO operations (
			id, type, name, status, progress,
			current_step, total_steps, step_progress, details,
			start_time, last_update_time, end_time
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status           = excluded.status,
			progress         = excluded.progress,
			current_step     = COALESCE(excluded.current_step, operations.current_step),
			total_steps      = COALESCE(excluded.total_steps, operations.total_steps),
			step_progress    = COALESCE(excluded.step_progress, operations.step_progress),
			details          = COALESCE(excluded.details, operations.details),
			last_update_time = excluded.last_update_time,
			end_time         = COALESCE(operations.end_time, excluded.end_time)
	`,
		data.OperationID,
		data.OperationType,
		data.Name,
		string(data.Status),
		data.Progress,
		data.CurrentStep,
		data.TotalSteps,
		data.StepProgress,
		details,
		stamp(data.StartTime),
		at,
		endTime,
	)
	if err != nil {
		return fmt.Errorf("could not upsert operation %s: %w", data.OperationID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO progress_events (
			operation_id, status, progress,
			current_step, total_steps, step_progress, eta_ms, details,
			recorded_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		data.OperationID,
		string(data.Status),
		data.Progress,
		data.CurrentStep,
		data.TotalSteps,
		data.StepProgress,
		data.EstimatedTimeRemainingMS,
		details,
		at,
	)
	if err != nil {
		return fmt.Errorf("could not insert progress event for %s: %w", data.OperationID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit: %w", err)
	}
	return nil
}

// GetOperation returns the last persisted state of id
func (s *Store) GetOperation(ctx context.Context, id string) (*StoredOperation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, type, name, status, progress,
			current_step, total_steps, step_progress, details,
			start_time, last_update_time, end_time
		FROM operations
		WHERE id = ?
	`, id)

	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("could not query operation: %w", err)
	}
	return op, nil
}

// ListOperations returns persisted operations, newest first
func (s *Store) ListOperations(ctx context.Context, f ListFilter) ([]StoredOperation, error) {
	query := `
		SELECT
			id, type, name, status, progress,
			current_step, total_steps, step_progress, details,
			start_time, last_update_time, end_time
		FROM operations
		WHERE (? = '' OR status = ?) AND (? = '' OR type = ?)
		ORDER BY start_time DESC, id
	`
	args := []any{string(f.Status), string(f.Status), f.Type, f.Type}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query operations: %w", err)
	}
	defer rows.Close()

	ops := []StoredOperation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate operations: %w", err)
	}
	return ops, nil
}

// History returns the progress events of id in the order they were recorded.
// A positive limit keeps only the most recent events.
func (s *Store) History(ctx context.Context, id string, limit int) ([]domain.ProgressData, error) {
	op, err := s.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT status, progress, current_step, total_steps, step_progress, eta_ms, details, recorded_at
		FROM (
			SELECT * FROM progress_events
			WHERE operation_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("could not query history: %w", err)
	}
	defer rows.Close()

	events := []domain.ProgressData{}
	for rows.Next() {
		var (
			status     string
			details    sql.NullString
			recordedAt int64
			step       sql.NullString
			total      sql.NullInt64
			stepProg   sql.NullFloat64
			eta        sql.NullInt64
		)
		ev := domain.ProgressData{
			OperationID:   op.OperationID,
			OperationType: op.OperationType,
			Name:          op.Name,
			StartTime:     op.StartTime,
		}
		if err := rows.Scan(&status, &ev.Progress, &step, &total, &stepProg, &eta, &details, &recordedAt); err != nil {
			return nil, fmt.Errorf("could not scan progress event: %w", err)
		}
		ev.Status = domain.OperationStatus(status)
		ev.Timestamp = fromNanos(recordedAt)
		ev.CurrentStep = nullString(step)
		ev.TotalSteps = nullInt(total)
		ev.StepProgress = nullFloat(stepProg)
		if eta.Valid {
			ev.EstimatedTimeRemainingMS = &eta.Int64
		}
		if ev.Details, err = decodeDetails(details); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate history: %w", err)
	}
	return events, nil
}

// Prune deletes finished operations (and their events) that ended before cutoff
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM operations WHERE end_time IS NOT NULL AND end_time < ?`,
		cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("could not prune operations: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.InfoContext(ctx, "Pruned operation history", slog.Int64("operations", n))
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (*StoredOperation, error) {
	var (
		op         StoredOperation
		status     string
		step       sql.NullString
		total      sql.NullInt64
		stepProg   sql.NullFloat64
		details    sql.NullString
		startTime  int64
		lastUpdate int64
		endTime    sql.NullInt64
	)
	err := row.Scan(
		&op.OperationID, &op.OperationType, &op.Name, &status, &op.Progress,
		&step, &total, &stepProg, &details,
		&startTime, &lastUpdate, &endTime,
	)
	if err != nil {
		return nil, err
	}

	op.Status = domain.OperationStatus(status)
	op.CurrentStep = nullString(step)
	op.TotalSteps = nullInt(total)
	op.StepProgress = nullFloat(stepProg)
	op.StartTime = fromNanos(startTime)
	op.LastUpdateTime = fromNanos(lastUpdate)
	if endTime.Valid {
		ts := fromNanos(endTime.Int64)
		op.EndTime = &ts
	}
	if op.Details, err = decodeDetails(details); err != nil {
		return nil, err
	}
	return &op, nil
}

func encodeDetails(details map[string]any) (*string, error) {
	if len(details) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("could not encode details: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func decodeDetails(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var details map[string]any
	if err := json.Unmarshal([]byte(s.String), &details); err != nil {
		return nil, fmt.Errorf("could not decode details: %w", err)
	}
	return details, nil
}

func stamp(ts domain.Timestamp) int64 {
	if ts.IsZero() {
		return time.Now().UnixNano()
	}
	return ts.UnixNano()
}

func fromNanos(n int64) domain.Timestamp {
	return domain.NewTimestamp(time.Unix(0, n))
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
