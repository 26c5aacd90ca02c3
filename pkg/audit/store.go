package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store persists audit events in an append-only sqlite table so the trail
// survives the process. It implements Recorder; persistence failures are
// logged and swallowed, never surfaced to the governed operation.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewStore opens (or creates) the audit database at the given path
func NewStore(dbPath string, logger zerolog.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the events table
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			execution_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_execution ON audit_events(execution_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record appends the event. Fire and forget: failures are logged only.
func (s *Store) Record(ctx context.Context, event Event) {
	stamp(&event)

	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			s.logger.Warn().Err(err).Str("execution_id", event.ExecutionID).Msg("Failed to marshal audit details")
			details = nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Terminal events arrive with an already-canceled execution context;
	// the insert must not inherit that cancellation or the trail loses
	// exactly the interrupted executions
	_, err := s.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO audit_events (id, execution_id, event_type, timestamp, details) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.ExecutionID, event.Type, event.Timestamp.UnixMilli(), nullableString(details),
	)
	if err != nil {
		s.logger.Warn().Err(err).Str("execution_id", event.ExecutionID).Msg("Failed to persist audit event")
	}
}

// EventsForExecution returns the persisted events for one execution id in
// emission order
func (s *Store) EventsForExecution(ctx context.Context, executionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, event_type, timestamp, details FROM audit_events WHERE execution_id = ? ORDER BY seq`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Type, &ts, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Timestamp = millisToTime(ts)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				s.logger.Warn().Err(err).Str("audit_id", e.ID).Msg("Failed to decode audit details")
			}
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// Prune deletes events older than the given unix-millisecond timestamp and
// returns the number removed
func (s *Store) Prune(ctx context.Context, beforeMillis int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, beforeMillis)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullableString(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
