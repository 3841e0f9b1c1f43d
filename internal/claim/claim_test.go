package claim

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/modelwatch/modelwatch/internal/db"
	"github.com/modelwatch/modelwatch/internal/schedule"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}

func seedTask(t *testing.T, database *db.DB) *db.Task {
	t.Helper()
	task := &db.Task{PromptText: "hello"}
	if _, err := database.CreateTask(task, db.TaskConfig{ModelIDs: []string{"gpt-4o"}}); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	return task
}

// raceClaims fires n concurrent claim attempts for the same key and
// returns how many won.
func raceClaims(t *testing.T, s Strategy, taskID string, minute time.Time, n int) int {
	t.Helper()
	ctx := context.Background()

	var won atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.TryClaim(ctx, taskID, minute)
			if err != nil {
				t.Errorf("TryClaim: %v", err)
				return
			}
			if ok {
				won.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	return int(won.Load())
}

func TestUniqueInsertExactlyOnceUnderContention(t *testing.T) {
	database := newTestDB(t)
	task := seedTask(t, database)
	minute := time.Date(2026, 1, 19, 17, 25, 0, 0, time.UTC)

	s := &UniqueInsert{DB: database}
	if won := raceClaims(t, s, task.ID, minute, 16); won != 1 {
		t.Fatalf("%d claim attempts won, want exactly 1", won)
	}

	n, err := database.CountClaims(context.Background(), task.ID, schedule.MinuteKey(minute))
	if err != nil {
		t.Fatalf("CountClaims: %v", err)
	}
	if n != 1 {
		t.Fatalf("%d claim rows exist, want exactly 1", n)
	}

	// A different minute is an independent claim.
	ok, err := s.TryClaim(context.Background(), task.ID, minute.Add(time.Minute))
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if !ok {
		t.Fatal("next minute must be claimable")
	}
}

func TestUniqueInsertSecondsDoNotSplitTheMinute(t *testing.T) {
	database := newTestDB(t)
	task := seedTask(t, database)
	ctx := context.Background()
	s := &UniqueInsert{DB: database}

	ok, err := s.TryClaim(ctx, task.ID, time.Date(2026, 1, 19, 17, 25, 15, 0, time.UTC))
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if !ok {
		t.Fatal("first claim must win")
	}

	// Same minute observed 30 seconds later by another invoker.
	ok, err = s.TryClaim(ctx, task.ID, time.Date(2026, 1, 19, 17, 25, 45, 0, time.UTC))
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if ok {
		t.Fatal("sub-minute offsets must map to the same claim key")
	}
}

func TestMemoryExactlyOnceUnderContention(t *testing.T) {
	s := NewMemory(DefaultRetention)
	minute := time.Date(2026, 1, 19, 17, 25, 0, 0, time.UTC)
	if won := raceClaims(t, s, "task-1", minute, 32); won != 1 {
		t.Fatalf("%d claim attempts won, want exactly 1", won)
	}
	// Independent tasks do not contend.
	ok, err := s.TryClaim(context.Background(), "task-2", minute)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if !ok {
		t.Fatal("other task must be claimable")
	}
}

func TestMemoryPurgeFreesOldMinutes(t *testing.T) {
	s := NewMemory(time.Hour)
	ctx := context.Background()
	minute := time.Date(2026, 1, 19, 17, 25, 0, 0, time.UTC)

	if ok, _ := s.TryClaim(ctx, "task-1", minute); !ok {
		t.Fatal("first claim must win")
	}
	s.Purge(time.Now().Add(time.Second))
	if ok, _ := s.TryClaim(ctx, "task-1", minute); !ok {
		t.Fatal("claim must be reclaimable after purge")
	}
}

type stubStrategy struct {
	name  string
	grant bool
	err   error
	calls atomic.Int64
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) TryClaim(context.Context, string, time.Time) (bool, error) {
	s.calls.Add(1)
	return s.grant, s.err
}

func TestCoordinatorRequiresAllStrategies(t *testing.T) {
	t.Parallel()
	minute := time.Date(2026, 1, 19, 17, 25, 0, 0, time.UTC)
	ctx := context.Background()

	tests := []struct {
		name       string
		first      bool
		second     bool
		want       bool
		secondRuns bool
	}{
		{name: "both win", first: true, second: true, want: true, secondRuns: true},
		{name: "first loses short-circuits", first: false, second: true, want: false, secondRuns: false},
		{name: "second loses after first won", first: true, second: false, want: false, secondRuns: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &stubStrategy{name: "a", grant: tt.first}
			b := &stubStrategy{name: "b", grant: tt.second}
			c := NewCoordinator(zerolog.Nop(), a, b)

			got, err := c.TryClaim(ctx, "task-1", minute)
			if err != nil {
				t.Fatalf("TryClaim: %v", err)
			}
			if got != tt.want {
				t.Fatalf("TryClaim = %v, want %v", got, tt.want)
			}
			if ran := b.calls.Load() > 0; ran != tt.secondRuns {
				t.Fatalf("second strategy ran = %v, want %v", ran, tt.secondRuns)
			}
		})
	}
}

func TestCoordinatorPropagatesStorageErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("storage down")
	c := NewCoordinator(zerolog.Nop(), &stubStrategy{name: "a", err: boom})

	_, err := c.TryClaim(context.Background(), "task-1", time.Now())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestCombinedProtocolAgainstSQLite(t *testing.T) {
	database := newTestDB(t)
	task := seedTask(t, database)
	ctx := context.Background()
	minute := time.Date(2026, 1, 19, 17, 25, 0, 0, time.UTC)

	c := NewCoordinator(zerolog.Nop(),
		&UniqueInsert{DB: database},
		&LastRunCAS{DB: database},
	)

	ok, err := c.TryClaim(ctx, task.ID, minute)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if !ok {
		t.Fatal("uncontended claim must win")
	}

	// Replay of the same minute loses on the unique insert.
	ok, err = c.TryClaim(ctx, task.ID, minute)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if ok {
		t.Fatal("replayed minute must lose")
	}

	// The CAS leg advanced last_run_at to the claimed minute.
	got, err := database.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(minute) {
		t.Fatalf("last_run_at = %v, want %v", got.LastRunAt, minute)
	}

	// An older-code invoker that already advanced last_run_at blocks the
	// next minute even though the unique insert would win.
	next := minute.Add(time.Minute)
	if _, err := database.AdvanceLastRun(ctx, task.ID, next); err != nil {
		t.Fatalf("AdvanceLastRun: %v", err)
	}
	ok, err = c.TryClaim(ctx, task.ID, next)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if ok {
		t.Fatal("CAS loss must veto execution even when the insert wins")
	}
}

func TestJanitorPurgesOnlyExpiredClaims(t *testing.T) {
	database := newTestDB(t)
	task := seedTask(t, database)
	ctx := context.Background()

	old := time.Now().UTC().Add(-8 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)

	for _, minute := range []time.Time{old, recent} {
		if _, err := database.InsertClaim(ctx, task.ID, schedule.MinuteKey(minute)); err != nil {
			t.Fatalf("InsertClaim: %v", err)
		}
	}

	j := &Janitor{DB: database, Retention: 7 * 24 * time.Hour, Log: zerolog.Nop()}
	j.Purge(ctx)

	oldCount, err := database.CountClaims(ctx, task.ID, schedule.MinuteKey(old))
	if err != nil {
		t.Fatalf("CountClaims: %v", err)
	}
	if oldCount != 0 {
		t.Fatal("expired claim not purged")
	}

	recentCount, err := database.CountClaims(ctx, task.ID, schedule.MinuteKey(recent))
	if err != nil {
		t.Fatalf("CountClaims: %v", err)
	}
	if recentCount != 1 {
		t.Fatal("recent claim must survive the purge")
	}
}
