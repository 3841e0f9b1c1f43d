package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps concurrent claim attempts from tripping over the writer lock.
	_, _ = conn.Exec("PRAGMA journal_mode = WAL")

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		prompt_text TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		disabled INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_run_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS task_versions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		schedule_type TEXT NOT NULL DEFAULT 'none',
		cron_expression TEXT,
		is_paused INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (task_id, version),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS version_models (
		version_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		UNIQUE (version_id, model_id),
		FOREIGN KEY (version_id) REFERENCES task_versions(id) ON DELETE CASCADE
	);

	-- One row per (task, minute) that has been granted permission to
	-- execute. The primary key is the exactly-once linchpin: the insert
	-- either takes the row or loses the race, atomically.
	CREATE TABLE IF NOT EXISTS run_claims (
		task_id TEXT NOT NULL,
		scheduled_minute TEXT NOT NULL,
		claimed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (task_id, scheduled_minute)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		task_version INTEGER NOT NULL,
		run_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS run_results (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		response TEXT,
		error TEXT,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL,
		success INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS rate_limits (
		day TEXT NOT NULL,
		category TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (day, category)
	);

	CREATE INDEX IF NOT EXISTS idx_task_versions_task_id ON task_versions(task_id);
	CREATE INDEX IF NOT EXISTS idx_runs_task_id ON runs(task_id);
	CREATE INDEX IF NOT EXISTS idx_run_results_run_id ON run_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_run_claims_minute ON run_claims(scheduled_minute);
	`

	_, err := db.conn.Exec(schema)
	return err
}
