package db

import "time"

// Task is a named, schedulable prompt. Schedule and model membership
// live on TaskVersion; only display metadata mutates in place.
type Task struct {
	ID          string     `json:"id"`
	PromptText  string     `json:"prompt_text"`
	DisplayName string     `json:"display_name,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Disabled    bool       `json:"disabled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// TaskVersion is an immutable snapshot of a task's executable
// configuration. The version with the highest number is current;
// historical versions are retained so old runs stay attributable.
type TaskVersion struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	Version        int       `json:"version"`
	ScheduleType   string    `json:"schedule_type"`
	CronExpression *string   `json:"cron_expression,omitempty"`
	IsPaused       bool      `json:"is_paused"`
	CreatedAt      time.Time `json:"created_at"`
}

// Run is one execution attempt of a task at a point in time, pinned to
// the version that was current when it ran.
type Run struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	TaskVersion int       `json:"task_version"`
	RunAt       time.Time `json:"run_at"`
}

// RunResult is the outcome of one model dispatch within a Run. Exactly
// one of Response/Error is meaningful, per Success.
type RunResult struct {
	ID           string   `json:"id"`
	RunID        string   `json:"run_id"`
	ModelID      string   `json:"model_id"`
	Response     *string  `json:"response,omitempty"`
	Error        *string  `json:"error,omitempty"`
	LatencyMs    int64    `json:"latency_ms"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
	Success      bool     `json:"success"`
}

// TaskConfig carries the versioned part of a task's configuration for
// create and update-config calls. Nil fields mean "keep the current
// value"; on create they fall back to defaults.
type TaskConfig struct {
	ModelIDs       []string `json:"model_ids"`
	ScheduleType   *string  `json:"schedule_type,omitempty"`
	CronExpression *string  `json:"cron_expression,omitempty"`
	IsPaused       *bool    `json:"is_paused,omitempty"`
}
