package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/modelwatch/modelwatch/internal/analytics"
	"github.com/modelwatch/modelwatch/internal/db"
	"github.com/modelwatch/modelwatch/internal/provider"
	"github.com/modelwatch/modelwatch/internal/webhook"
)

// RateCategory is the rate-limit bucket charged for model completions.
const RateCategory = "completions"

const dayFormat = "2006-01-02"

// DefaultDispatchTimeout bounds a single model completion.
const DefaultDispatchTimeout = 5 * time.Minute

// ConfigError reports a task that cannot be run as configured.
type ConfigError struct {
	TaskID string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("task %s not runnable: %s", e.TaskID, e.Reason)
}

// RateLimitError reports a run refused because the daily budget
// cannot cover the requested dispatches.
type RateLimitError struct {
	Requested int
	Remaining int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("daily rate budget exhausted: requested %d, remaining %d", e.Requested, e.Remaining)
}

// Orchestrator fans a task's prompt out to its configured models and
// persists the results as a single run.
type Orchestrator struct {
	db        *db.DB
	providers *provider.Registry
	prices    provider.PriceTable
	analytics analytics.Store
	notifier  *webhook.Notifier
	log       zerolog.Logger

	// DailyBudget caps completions per UTC day. Zero means unlimited.
	DailyBudget int
	// DispatchTimeout bounds each model call.
	DispatchTimeout time.Duration
}

// New creates an orchestrator. The analytics store and notifier may be nil.
func New(database *db.DB, providers *provider.Registry, prices provider.PriceTable, store analytics.Store, notifier *webhook.Notifier, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		db:              database,
		providers:       providers,
		prices:          prices,
		analytics:       store,
		notifier:        notifier,
		log:             log.With().Str("component", "executor").Logger(),
		DispatchTimeout: DefaultDispatchTimeout,
	}
}

// Report summarizes a completed run.
type Report struct {
	RunID     string
	ModelsRan int
	Succeeded int
	Failed    int
}

// Execute runs the task's current version against every configured model
// concurrently and records the run. A partial failure is still a run:
// only an empty model set, an exhausted budget, or a persistence failure
// return an error.
func (o *Orchestrator) Execute(ctx context.Context, task *db.Task, runAt time.Time) (*Report, error) {
	version, err := o.db.CurrentVersion(task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load current version: %w", err)
	}
	models, err := o.db.VersionModels(version.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load version models: %w", err)
	}
	if len(models) == 0 {
		return nil, &ConfigError{TaskID: task.ID, Reason: "no models configured"}
	}

	runAt = runAt.UTC()
	day := runAt.Format(dayFormat)
	if o.DailyBudget > 0 {
		used, err := o.db.RateLimitCount(ctx, day, RateCategory)
		if err != nil {
			return nil, fmt.Errorf("failed to read rate budget: %w", err)
		}
		remaining := o.DailyBudget - used
		if remaining < len(models) {
			return nil, &RateLimitError{Requested: len(models), Remaining: remaining}
		}
	}

	runID := uuid.New().String()
	correlationID := uuid.New().String()
	log := o.log.With().
		Str("task_id", task.ID).
		Str("run_id", runID).
		Int("version", version.Version).
		Logger()
	log.Info().Int("models", len(models)).Msg("dispatching broadcast")

	results := o.fanOut(ctx, task, models)

	run := &db.Run{
		ID:          runID,
		TaskID:      task.ID,
		TaskVersion: version.Version,
		RunAt:       runAt,
	}
	dispatched := 0
	for _, r := range results {
		r.RunID = runID
		if r.dispatched {
			dispatched++
		}
	}
	rows := make([]*db.RunResult, len(results))
	for i, r := range results {
		rows[i] = &r.RunResult
	}
	if err := o.db.InsertRun(ctx, run, rows); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	if dispatched > 0 {
		if err := o.db.IncrementRateLimit(ctx, day, RateCategory, dispatched); err != nil {
			log.Warn().Err(err).Msg("failed to charge rate budget")
		}
	}
	if _, err := o.db.AdvanceLastRun(ctx, task.ID, runAt); err != nil {
		log.Warn().Err(err).Msg("failed to advance last run marker")
	}

	report := &Report{RunID: runID, ModelsRan: len(models)}
	for _, r := range results {
		if r.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	o.recordAnalytics(ctx, task, run, correlationID, results)
	o.notify(task, run, report, results)

	log.Info().
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("broadcast complete")
	return report, nil
}

type modelResult struct {
	db.RunResult
	dispatched bool
}

// fanOut dispatches the prompt to every model concurrently and collects
// one result per model, in model order.
func (o *Orchestrator) fanOut(ctx context.Context, task *db.Task, models []string) []*modelResult {
	results := make([]*modelResult, len(models))
	var wg sync.WaitGroup
	for i, modelID := range models {
		wg.Add(1)
		go func(i int, modelID string) {
			defer wg.Done()
			results[i] = o.dispatch(ctx, task, modelID)
		}(i, modelID)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) dispatch(ctx context.Context, task *db.Task, modelID string) *modelResult {
	res := &modelResult{RunResult: db.RunResult{
		ID:      uuid.New().String(),
		ModelID: modelID,
	}}

	p, ok := o.providers.Get(modelID)
	if !ok {
		msg := fmt.Sprintf("no provider registered for model %s", modelID)
		res.Error = &msg
		return res
	}
	res.dispatched = true

	timeout := o.DispatchTimeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	completion, err := p.Complete(ctx, provider.CompletionRequest{Prompt: task.PromptText})
	if err != nil {
		msg := err.Error()
		res.Error = &msg
		res.LatencyMs = time.Since(start).Milliseconds()
		return res
	}

	res.Success = true
	res.Response = &completion.Content
	res.LatencyMs = completion.LatencyMs
	if res.LatencyMs == 0 {
		res.LatencyMs = time.Since(start).Milliseconds()
	}
	res.InputTokens = completion.InputTokens
	res.OutputTokens = completion.OutputTokens
	res.CostUSD = provider.Cost(completion.InputTokens, completion.OutputTokens, o.prices.Lookup(modelID))
	return res
}

// recordAnalytics forwards per-model outcomes to the analytics store.
// Failures are logged and never affect the run.
func (o *Orchestrator) recordAnalytics(ctx context.Context, task *db.Task, run *db.Run, correlationID string, results []*modelResult) {
	if o.analytics == nil {
		return
	}
	for _, r := range results {
		row := analytics.Row{
			ID:            r.ID,
			RunID:         run.ID,
			TaskID:        task.ID,
			CorrelationID: correlationID,
			ModelID:       r.ModelID,
			Success:       r.Success,
			LatencyMs:     r.LatencyMs,
			InputTokens:   r.InputTokens,
			OutputTokens:  r.OutputTokens,
			CostUSD:       r.CostUSD,
			RunAt:         run.RunAt,
		}
		if r.Error != nil {
			row.Error = *r.Error
		}
		if err := o.analytics.Insert(ctx, row); err != nil {
			o.log.Warn().Err(err).Str("run_id", run.ID).Str("model", r.ModelID).Msg("failed to record analytics event")
		}
	}
}

// notify sends the run summary to configured webhooks. Best effort.
func (o *Orchestrator) notify(task *db.Task, run *db.Run, report *Report, results []*modelResult) {
	if o.notifier == nil || !o.notifier.Enabled() {
		return
	}

	name := task.DisplayName
	if name == "" {
		name = task.ID
	}
	wr := webhook.RunReport{
		TaskName:  name,
		RunID:     run.ID,
		RunAt:     run.RunAt,
		ModelsRan: report.ModelsRan,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
	}
	var total float64
	haveCost := false
	for _, r := range results {
		if r.CostUSD != nil {
			total += *r.CostUSD
			haveCost = true
		}
		if r.Error != nil {
			wr.Failures = append(wr.Failures, fmt.Sprintf("%s: %s", r.ModelID, *r.Error))
		}
	}
	if haveCost {
		wr.TotalCostUSD = &total
	}

	if err := o.notifier.SendRunReport(wr); err != nil {
		o.log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to deliver run report")
	}
}
