package api

import "time"

// TaskRequest represents a task creation request
type TaskRequest struct {
	PromptText     string   `json:"prompt_text"`
	DisplayName    string   `json:"display_name"`
	Tags           []string `json:"tags,omitempty"`
	ModelIDs       []string `json:"model_ids"`
	ScheduleType   *string  `json:"schedule_type,omitempty"`
	CronExpression *string  `json:"cron_expression,omitempty"`
	IsPaused       *bool    `json:"is_paused,omitempty"`
}

// TaskMetaRequest updates display metadata without touching the
// versioned configuration
type TaskMetaRequest struct {
	DisplayName string   `json:"display_name"`
	Tags        []string `json:"tags,omitempty"`
}

// ConfigRequest updates the versioned configuration. Absent fields keep
// their current values.
type ConfigRequest struct {
	ModelIDs       []string `json:"model_ids,omitempty"`
	ScheduleType   *string  `json:"schedule_type,omitempty"`
	CronExpression *string  `json:"cron_expression,omitempty"`
	IsPaused       *bool    `json:"is_paused,omitempty"`
}

// TaskResponse represents a task in API responses
type TaskResponse struct {
	ID          string     `json:"id"`
	PromptText  string     `json:"prompt_text"`
	DisplayName string     `json:"display_name"`
	Tags        []string   `json:"tags,omitempty"`
	Disabled    bool       `json:"disabled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// TaskListResponse represents a list of tasks
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Total int            `json:"total"`
}

// VersionResponse represents one immutable configuration version
type VersionResponse struct {
	TaskID         string    `json:"task_id"`
	Version        int       `json:"version"`
	ModelIDs       []string  `json:"model_ids"`
	ScheduleType   string    `json:"schedule_type"`
	CronExpression *string   `json:"cron_expression,omitempty"`
	IsPaused       bool      `json:"is_paused"`
	CreatedAt      time.Time `json:"created_at"`
}

// VersionListResponse represents a task's version history
type VersionListResponse struct {
	Versions []VersionResponse `json:"versions"`
	Total    int               `json:"total"`
}

// ConfigUpdateResponse reports whether a config update produced a new
// version
type ConfigUpdateResponse struct {
	Version VersionResponse `json:"version"`
	Changed bool            `json:"changed"`
}

// RunResponse represents a run in API responses
type RunResponse struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	TaskVersion int       `json:"task_version"`
	RunAt       time.Time `json:"run_at"`
}

// RunListResponse represents a list of runs
type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Total int           `json:"total"`
}

// RunResultResponse represents one model's outcome within a run
type RunResultResponse struct {
	ID           string   `json:"id"`
	ModelID      string   `json:"model_id"`
	Success      bool     `json:"success"`
	Response     *string  `json:"response,omitempty"`
	Error        *string  `json:"error,omitempty"`
	LatencyMs    int64    `json:"latency_ms"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
}

// RunResultsResponse represents all per-model outcomes of a run
type RunResultsResponse struct {
	RunID   string              `json:"run_id"`
	Results []RunResultResponse `json:"results"`
	Total   int                 `json:"total"`
}

// FireResponse summarizes a manually triggered sweep
type FireResponse struct {
	Minute  string `json:"minute"`
	Checked int    `json:"checked"`
	Ran     int    `json:"ran"`
}

// RunReportResponse summarizes a manually executed task
type RunReportResponse struct {
	RunID     string `json:"run_id"`
	ModelsRan int    `json:"models_ran"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
