package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestInsertIsIdempotentByID(t *testing.T) {
	store, err := NewSQLite(filepath.Join(t.TempDir(), "analytics.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	row := Row{
		ID:            "res-1",
		RunID:         "run-1",
		TaskID:        "task-1",
		CorrelationID: "corr-1",
		ModelID:       "gpt-4o",
		Success:       true,
		LatencyMs:     500,
		InputTokens:   100,
		OutputTokens:  20,
		RunAt:         time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC),
	}

	if err := store.Insert(ctx, row); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// Redelivery of the same id must be a no-op, not an error.
	if err := store.Insert(ctx, row); err != nil {
		t.Fatalf("duplicate Insert: %v", err)
	}

	var n int
	if err := store.conn.QueryRow(`SELECT COUNT(*) FROM result_events WHERE id = ?`, row.ID).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d rows, want 1", n)
	}
}
