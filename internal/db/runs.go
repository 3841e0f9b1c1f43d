package db

import (
	"context"
	"database/sql"
	"time"
)

// InsertRun persists a run and all of its results as one transaction.
// The run is not durable until every result row is in; a half-written
// run must never be observable.
func (db *DB) InsertRun(ctx context.Context, run *Run, results []*RunResult) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, task_version, run_at) VALUES (?, ?, ?, ?)
	`, run.ID, run.TaskID, run.TaskVersion, run.RunAt.UTC())
	if err != nil {
		return err
	}

	for _, r := range results {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_results (id, run_id, model_id, response, error, latency_ms, input_tokens, output_tokens, cost_usd, success)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.RunID, r.ModelID, r.Response, r.Error, r.LatencyMs, r.InputTokens, r.OutputTokens, r.CostUSD, r.Success)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(id string) (*Run, error) {
	run := &Run{}
	err := db.conn.QueryRow(`
		SELECT id, task_id, task_version, run_at FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.TaskID, &run.TaskVersion, &run.RunAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetTaskRuns retrieves runs for a task, newest first.
func (db *DB) GetTaskRuns(taskID string, limit int) ([]*Run, error) {
	rows, err := db.conn.Query(`
		SELECT id, task_id, task_version, run_at
		FROM runs WHERE task_id = ? ORDER BY run_at DESC LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.TaskID, &run.TaskVersion, &run.RunAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRunResults retrieves the per-model results of a run.
func (db *DB) GetRunResults(runID string) ([]*RunResult, error) {
	rows, err := db.conn.Query(`
		SELECT id, run_id, model_id, response, error, latency_ms, input_tokens, output_tokens, cost_usd, success
		FROM run_results WHERE run_id = ? ORDER BY model_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*RunResult
	for rows.Next() {
		r := &RunResult{}
		var response, errMsg sql.NullString
		var cost sql.NullFloat64
		err := rows.Scan(&r.ID, &r.RunID, &r.ModelID, &response, &errMsg, &r.LatencyMs, &r.InputTokens, &r.OutputTokens, &cost, &r.Success)
		if err != nil {
			return nil, err
		}
		if response.Valid {
			s := response.String
			r.Response = &s
		}
		if errMsg.Valid {
			s := errMsg.String
			r.Error = &s
		}
		if cost.Valid {
			c := cost.Float64
			r.CostUSD = &c
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// InsertClaim attempts to take the (task, minute) claim row. The
// returned bool is false when another invoker already holds the claim;
// losing the race is an expected outcome, not an error. Atomicity comes
// from the storage layer's uniqueness guarantee, never from
// application-level locking.
func (db *DB) InsertClaim(ctx context.Context, taskID, scheduledMinute string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO run_claims (task_id, scheduled_minute, claimed_at)
		VALUES (?, ?, ?)
	`, taskID, scheduledMinute, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AdvanceLastRun conditionally moves the task's last_run_at marker
// forward to instant; it never moves backward. Returns false when the
// marker already is at or past the instant, meaning another invoker won
// the compare-and-swap.
func (db *DB) AdvanceLastRun(ctx context.Context, taskID string, instant time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET last_run_at = ?
		WHERE id = ? AND (last_run_at IS NULL OR last_run_at < ?)
	`, instant.UTC(), taskID, instant.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeClaims deletes claims whose scheduled minute is older than the
// cutoff. Safe because a claim only deduplicates within its own minute.
// The keys are RFC3339 UTC, so string order is chronological order.
func (db *DB) PurgeClaims(ctx context.Context, cutoff string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM run_claims WHERE scheduled_minute < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountClaims reports how many claims exist for a (task, minute) pair.
func (db *DB) CountClaims(ctx context.Context, taskID, scheduledMinute string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM run_claims WHERE task_id = ? AND scheduled_minute = ?
	`, taskID, scheduledMinute).Scan(&n)
	return n, err
}

// IncrementRateLimit adds n to the (day, category) counter. Incremented
// only after dispatch; the check happens before via RateLimitCount.
func (db *DB) IncrementRateLimit(ctx context.Context, day, category string, n int) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO rate_limits (day, category, count) VALUES (?, ?, ?)
		ON CONFLICT(day, category) DO UPDATE SET count = count + excluded.count
	`, day, category, n)
	return err
}

// RateLimitCount returns the current counter value, zero when no
// dispatches have happened yet today.
func (db *DB) RateLimitCount(ctx context.Context, day, category string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `
		SELECT count FROM rate_limits WHERE day = ? AND category = ?
	`, day, category).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}
