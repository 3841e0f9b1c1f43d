// Package analytics archives run results into the long-term analytical
// store. Writes are idempotent by id — re-inserting a row that already
// exists is a no-op — and always best-effort: an archival failure is
// logged by the caller, never fatal to the run that produced the data.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Row is one archived model result, denormalized for analytical
// queries. CorrelationID groups every result of one run.
type Row struct {
	ID            string
	RunID         string
	TaskID        string
	CorrelationID string
	ModelID       string
	Success       bool
	LatencyMs     int64
	InputTokens   int
	OutputTokens  int
	CostUSD       *float64
	Error         string
	RunAt         time.Time
}

// Store is the analytical-store boundary.
type Store interface {
	Insert(ctx context.Context, row Row) error
	Close() error
}

// SQLiteStore is a local analytical store. Production deployments point
// this interface at a columnar service instead; the semantics are the
// same: idempotent row inserts keyed by id.
type SQLiteStore struct {
	conn *sql.DB
}

func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create analytics directory: %w", err)
	}
	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics store: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS result_events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		success INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost_usd REAL,
		error TEXT NOT NULL DEFAULT '',
		run_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_result_events_correlation ON result_events(correlation_id);
	`
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate analytics store: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Insert archives one row. Duplicate ids are ignored, so redelivery is
// harmless.
func (s *SQLiteStore) Insert(ctx context.Context, row Row) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO result_events
			(id, run_id, task_id, correlation_id, model_id, success, latency_ms, input_tokens, output_tokens, cost_usd, error, run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.RunID, row.TaskID, row.CorrelationID, row.ModelID, row.Success,
		row.LatencyMs, row.InputTokens, row.OutputTokens, row.CostUSD, row.Error, row.RunAt.UTC())
	return err
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
