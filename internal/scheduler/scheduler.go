// Package scheduler is the engine's entry point: a once-a-minute sweep
// over every runnable task, gated by the claim coordinator so that
// redundant trigger firings execute each (task, minute) exactly once.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/modelwatch/modelwatch/internal/claim"
	"github.com/modelwatch/modelwatch/internal/db"
	"github.com/modelwatch/modelwatch/internal/executor"
	"github.com/modelwatch/modelwatch/internal/schedule"
)

// Scheduler evaluates task schedules against a trigger instant and
// executes the tasks that are due.
type Scheduler struct {
	db           *db.DB
	coordinator  *claim.Coordinator
	orchestrator *executor.Orchestrator
	janitor      *claim.Janitor
	log          zerolog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// New creates a scheduler. The janitor may be nil when claim purging is
// handled elsewhere.
func New(database *db.DB, coordinator *claim.Coordinator, orchestrator *executor.Orchestrator, janitor *claim.Janitor, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		db:           database,
		coordinator:  coordinator,
		orchestrator: orchestrator,
		janitor:      janitor,
		log:          log.With().Str("component", "scheduler").Logger(),
	}
}

// TaskOutcome is the per-task result of one sweep.
type TaskOutcome struct {
	TaskID    string
	Success   bool
	ModelsRan int
	Err       error
}

// Summary aggregates one sweep. Checked counts every enabled task
// examined; Ran counts the tasks this invocation actually executed.
type Summary struct {
	Checked  int
	Ran      int
	Outcomes []TaskOutcome
}

// RunScheduledTasks performs one sweep for the given trigger instant.
// Every enabled task is checked independently; one task's failure never
// blocks the others. Tasks whose claim is lost to a concurrent invoker
// are skipped silently — that is the protocol working, not a fault.
func (s *Scheduler) RunScheduledTasks(ctx context.Context, triggerInstant time.Time) (*Summary, error) {
	triggerInstant = triggerInstant.UTC().Truncate(time.Minute)

	tasks, err := s.db.ListTasks(false)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	summary := &Summary{}
	for _, task := range tasks {
		summary.Checked++
		outcome, ran := s.runOne(ctx, task, triggerInstant)
		if outcome != nil {
			summary.Outcomes = append(summary.Outcomes, *outcome)
		}
		if ran {
			summary.Ran++
		}
	}
	return summary, nil
}

// runOne evaluates a single task for the trigger instant. A nil outcome
// means the task was not due (or lost its claim); ran reports whether
// this invocation executed it.
func (s *Scheduler) runOne(ctx context.Context, task *db.Task, instant time.Time) (*TaskOutcome, bool) {
	version, err := s.db.CurrentVersion(task.ID)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to load task version")
		return &TaskOutcome{TaskID: task.ID, Err: err}, false
	}
	if version.IsPaused {
		return nil, false
	}

	var explicit string
	if version.CronExpression != nil {
		explicit = *version.CronExpression
	}
	expr := schedule.EffectiveCron(version.ScheduleType, explicit)
	if expr == "" {
		return nil, false
	}

	due, err := schedule.Matches(expr, instant)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID).Str("cron", expr).Msg("unschedulable cron expression")
		return &TaskOutcome{TaskID: task.ID, Err: fmt.Errorf("invalid cron %q: %w", expr, err)}, false
	}
	if !due {
		return nil, false
	}

	// Cheap pre-check before touching the claim store: if the task
	// already ran this minute, skip without contending.
	if task.LastRunAt != nil && schedule.SameMinute(*task.LastRunAt, instant) {
		return nil, false
	}

	won, err := s.coordinator.TryClaim(ctx, task.ID, instant)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID).Msg("claim attempt failed")
		return &TaskOutcome{TaskID: task.ID, Err: err}, false
	}
	if !won {
		return nil, false
	}

	report, err := s.orchestrator.Execute(ctx, task, instant)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID).Msg("task execution failed")
		return &TaskOutcome{TaskID: task.ID, Err: err}, true
	}
	return &TaskOutcome{
		TaskID:    task.ID,
		Success:   report.Failed == 0,
		ModelsRan: report.ModelsRan,
	}, true
}

// Start begins the minute trigger and the hourly claim janitor. The
// trigger instant is truncated to the minute so that every invoker of
// the same firing computes the same claim key.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc("* * * * *", func() {
		instant := time.Now().UTC().Truncate(time.Minute)
		summary, err := s.RunScheduledTasks(ctx, instant)
		if err != nil {
			s.log.Error().Err(err).Msg("sweep failed")
			return
		}
		if summary.Ran > 0 {
			s.log.Info().
				Int("checked", summary.Checked).
				Int("ran", summary.Ran).
				Str("minute", schedule.MinuteKey(instant)).
				Msg("sweep complete")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register minute trigger: %w", err)
	}

	if s.janitor != nil {
		if _, err := c.AddFunc("@hourly", func() { s.janitor.Purge(ctx) }); err != nil {
			return fmt.Errorf("failed to register claim janitor: %w", err)
		}
	}

	c.Start()
	s.cron = c
	s.running = true
	s.log.Info().Msg("scheduler started")
	return nil
}

// Stop halts the trigger and waits for in-flight sweeps to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info().Msg("scheduler stopped")
}
