// Package claim arbitrates which of several redundant trigger firings
// is allowed to execute a task for a given minute.
//
// The trigger fires from multiple loosely synchronized invokers, so the
// same logical minute can be observed as "due" more than once. Every
// strategy here answers one question — may this invocation run the task
// for this minute? — and a Coordinator requires every configured
// strategy to agree before execution proceeds.
package claim

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/modelwatch/modelwatch/internal/db"
	"github.com/modelwatch/modelwatch/internal/schedule"
)

// DefaultRetention is how long claim rows are kept before the janitor
// purges them. A claim only deduplicates within its own minute, so any
// comfortably-past window is safe.
const DefaultRetention = 7 * 24 * time.Hour

// Strategy is one mechanism for claiming a (task, minute) pair. A false
// return means another invoker holds the claim — the expected losing
// side of the race, not an error. Errors are reserved for storage
// failures.
type Strategy interface {
	Name() string
	TryClaim(ctx context.Context, taskID string, minute time.Time) (bool, error)
}

// UniqueInsert is the authoritative strategy: insert a row keyed by
// (task_id, scheduled_minute) and let the storage layer's atomic
// uniqueness constraint decide the race. Robust even when invokers see
// each other's writes late.
type UniqueInsert struct {
	DB *db.DB
}

func (s *UniqueInsert) Name() string { return "unique-insert" }

func (s *UniqueInsert) TryClaim(ctx context.Context, taskID string, minute time.Time) (bool, error) {
	return s.DB.InsertClaim(ctx, taskID, schedule.MinuteKey(minute))
}

// LastRunCAS is the compatibility strategy: advance last_run_at only if
// it is still earlier than the scheduled instant. Older deployments
// coordinate solely through this field, so it runs alongside the
// unique-insert strategy during rollouts. It does not protect against
// replication lag on its own.
type LastRunCAS struct {
	DB *db.DB
}

func (s *LastRunCAS) Name() string { return "last-run-cas" }

func (s *LastRunCAS) TryClaim(ctx context.Context, taskID string, minute time.Time) (bool, error) {
	return s.DB.AdvanceLastRun(ctx, taskID, minute.UTC().Truncate(time.Minute))
}

// Coordinator runs the strategies in order and grants the claim only
// when all of them succeed. If a later strategy loses after an earlier
// one won, the firing is skipped anyway: both mechanisms must agree, a
// deliberate bias toward under-execution over duplicates. The skipped
// minute is logged because a stale invoker that never advances
// last_run_at correctly can starve a task this way.
type Coordinator struct {
	strategies []Strategy
	log        zerolog.Logger
}

func NewCoordinator(log zerolog.Logger, strategies ...Strategy) *Coordinator {
	return &Coordinator{strategies: strategies, log: log}
}

// TryClaim reports whether this invocation may execute the task for the
// given minute.
func (c *Coordinator) TryClaim(ctx context.Context, taskID string, minute time.Time) (bool, error) {
	for i, s := range c.strategies {
		ok, err := s.TryClaim(ctx, taskID, minute)
		if err != nil {
			return false, err
		}
		if !ok {
			if i > 0 {
				c.log.Warn().
					Str("task_id", taskID).
					Str("minute", schedule.MinuteKey(minute)).
					Str("strategy", s.Name()).
					Msg("claim lost after an earlier strategy won; skipping this minute")
			}
			return false, nil
		}
	}
	return true, nil
}

// Janitor bounds the claim table. Claims older than the retention
// window are deleted; without this the table grows one row per task per
// scheduled minute forever.
type Janitor struct {
	DB        *db.DB
	Retention time.Duration
	Log       zerolog.Logger
}

// Purge deletes expired claims. Intended to run on a coarse cadence
// (hourly is plenty).
func (j *Janitor) Purge(ctx context.Context) {
	retention := j.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := schedule.MinuteKey(time.Now().Add(-retention))
	n, err := j.DB.PurgeClaims(ctx, cutoff)
	if err != nil {
		j.Log.Error().Err(err).Msg("claim purge failed")
		return
	}
	if n > 0 {
		j.Log.Info().Int64("purged", n).Str("cutoff", cutoff).Msg("purged expired claims")
	}
}
