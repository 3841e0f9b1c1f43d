package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/modelwatch/modelwatch/internal/db"
	"github.com/modelwatch/modelwatch/internal/executor"
	"github.com/modelwatch/modelwatch/internal/schedule"
	"github.com/modelwatch/modelwatch/internal/version"
)

// HealthCheck handles GET /api/v1/health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.Version,
	})
}

// ListTasks handles GET /api/v1/tasks
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	includeDisabled := r.URL.Query().Get("include_disabled") == "true"
	tasks, err := s.db.ListTasks(includeDisabled)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch tasks", err)
		return
	}

	response := TaskListResponse{
		Tasks: make([]TaskResponse, len(tasks)),
		Total: len(tasks),
	}
	for i, task := range tasks {
		response.Tasks[i] = taskToResponse(task)
	}
	s.jsonResponse(w, http.StatusOK, response)
}

// CreateTask handles POST /api/v1/tasks
func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := validateConfig(req.PromptText, req.ScheduleType, req.CronExpression); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	task := &db.Task{
		PromptText:  req.PromptText,
		DisplayName: req.DisplayName,
		Tags:        req.Tags,
	}
	ver, err := s.db.CreateTask(task, db.TaskConfig{
		ModelIDs:       req.ModelIDs,
		ScheduleType:   req.ScheduleType,
		CronExpression: req.CronExpression,
		IsPaused:       req.IsPaused,
	})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to create task", err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, s.versionToResponse(ver))
}

// GetTask handles GET /api/v1/tasks/{id}
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.db.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "Task not found", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, taskToResponse(task))
}

// UpdateTaskMeta handles PUT /api/v1/tasks/{id}. Only display metadata
// changes here; it never creates a new configuration version.
func (s *Server) UpdateTaskMeta(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req TaskMetaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.db.UpdateTask(id, req.DisplayName, req.Tags); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to update task", err)
		return
	}
	task, err := s.db.GetTask(id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "Task not found", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, taskToResponse(task))
}

// DeleteTask handles DELETE /api/v1/tasks/{id}. Tasks are disabled, not
// removed, so their run history stays queryable.
func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.db.SoftDelete(chi.URLParam(r, "id")); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreTask handles POST /api/v1/tasks/{id}/restore
func (s *Server) RestoreTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.db.Restore(id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to restore task", err)
		return
	}
	task, err := s.db.GetTask(id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "Task not found", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, taskToResponse(task))
}

// UpdateTaskConfig handles PUT /api/v1/tasks/{id}/config
func (s *Server) UpdateTaskConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := validateConfig("-", req.ScheduleType, req.CronExpression); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	ver, changed, err := s.db.UpdateTaskConfig(id, db.TaskConfig{
		ModelIDs:       req.ModelIDs,
		ScheduleType:   req.ScheduleType,
		CronExpression: req.CronExpression,
		IsPaused:       req.IsPaused,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.errorResponse(w, http.StatusNotFound, "Task not found", err)
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "Failed to update config", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, ConfigUpdateResponse{
		Version: s.versionToResponse(ver),
		Changed: changed,
	})
}

// ListVersions handles GET /api/v1/tasks/{id}/versions
func (s *Server) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.db.ListVersions(chi.URLParam(r, "id"))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch versions", err)
		return
	}

	response := VersionListResponse{
		Versions: make([]VersionResponse, len(versions)),
		Total:    len(versions),
	}
	for i, ver := range versions {
		response.Versions[i] = s.versionToResponse(ver)
	}
	s.jsonResponse(w, http.StatusOK, response)
}

// GetVersion handles GET /api/v1/tasks/{id}/versions/{version}
func (s *Server) GetVersion(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid version number", err)
		return
	}
	ver, err := s.db.GetVersion(chi.URLParam(r, "id"), n)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "Version not found", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.versionToResponse(ver))
}

// GetTaskRuns handles GET /api/v1/tasks/{id}/runs
func (s *Server) GetTaskRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := s.db.GetTaskRuns(chi.URLParam(r, "id"), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch runs", err)
		return
	}

	response := RunListResponse{
		Runs:  make([]RunResponse, len(runs)),
		Total: len(runs),
	}
	for i, run := range runs {
		response.Runs[i] = runToResponse(run)
	}
	s.jsonResponse(w, http.StatusOK, response)
}

// RunTask handles POST /api/v1/tasks/{id}/run: execute immediately,
// bypassing the schedule and the claim protocol.
func (s *Server) RunTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.db.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "Task not found", err)
		return
	}

	report, err := s.orchestrator.Execute(r.Context(), task, time.Now().UTC())
	if err != nil {
		var cfgErr *executor.ConfigError
		var rateErr *executor.RateLimitError
		switch {
		case errors.As(err, &cfgErr):
			s.errorResponse(w, http.StatusBadRequest, cfgErr.Error(), nil)
		case errors.As(err, &rateErr):
			s.errorResponse(w, http.StatusTooManyRequests, rateErr.Error(), nil)
		default:
			s.errorResponse(w, http.StatusInternalServerError, "Failed to run task", err)
		}
		return
	}

	s.jsonResponse(w, http.StatusOK, RunReportResponse{
		RunID:     report.RunID,
		ModelsRan: report.ModelsRan,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
	})
}

// GetRun handles GET /api/v1/runs/{runId}
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetRun(chi.URLParam(r, "runId"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "Run not found", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, runToResponse(run))
}

// GetRunResults handles GET /api/v1/runs/{runId}/results
func (s *Server) GetRunResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if _, err := s.db.GetRun(runID); err != nil {
		s.errorResponse(w, http.StatusNotFound, "Run not found", err)
		return
	}
	results, err := s.db.GetRunResults(runID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch results", err)
		return
	}

	response := RunResultsResponse{
		RunID:   runID,
		Results: make([]RunResultResponse, len(results)),
		Total:   len(results),
	}
	for i, res := range results {
		response.Results[i] = RunResultResponse{
			ID:           res.ID,
			ModelID:      res.ModelID,
			Success:      res.Success,
			Response:     res.Response,
			Error:        res.Error,
			LatencyMs:    res.LatencyMs,
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
			CostUSD:      res.CostUSD,
		}
	}
	s.jsonResponse(w, http.StatusOK, response)
}

// FireScheduler handles POST /api/v1/scheduler/fire: run one sweep now,
// as if the minute trigger had fired. The claim protocol still applies,
// so a manual fire racing the timer executes each task at most once.
func (s *Server) FireScheduler(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Scheduler not running in this process", nil)
		return
	}

	instant := time.Now().UTC().Truncate(time.Minute)
	summary, err := s.scheduler.RunScheduledTasks(r.Context(), instant)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, FireResponse{
		Minute:  schedule.MinuteKey(instant),
		Checked: summary.Checked,
		Ran:     summary.Ran,
	})
}

func taskToResponse(task *db.Task) TaskResponse {
	return TaskResponse{
		ID:          task.ID,
		PromptText:  task.PromptText,
		DisplayName: task.DisplayName,
		Tags:        task.Tags,
		Disabled:    task.Disabled,
		CreatedAt:   task.CreatedAt,
		LastRunAt:   task.LastRunAt,
	}
}

func (s *Server) versionToResponse(ver *db.TaskVersion) VersionResponse {
	models, err := s.db.VersionModels(ver.ID)
	if err != nil {
		s.log.Error().Err(err).Str("version_id", ver.ID).Msg("failed to load version models")
	}
	return VersionResponse{
		TaskID:         ver.TaskID,
		Version:        ver.Version,
		ModelIDs:       models,
		ScheduleType:   ver.ScheduleType,
		CronExpression: ver.CronExpression,
		IsPaused:       ver.IsPaused,
		CreatedAt:      ver.CreatedAt,
	}
}

func runToResponse(run *db.Run) RunResponse {
	return RunResponse{
		ID:          run.ID,
		TaskID:      run.TaskID,
		TaskVersion: run.TaskVersion,
		RunAt:       run.RunAt,
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	s.jsonResponse(w, status, resp)
}

// Validation errors
type validationError string

func (e validationError) Error() string { return string(e) }

const (
	errEmptyPrompt     validationError = "Prompt text is required"
	errBadScheduleType validationError = "Unknown schedule type"
	errMissingCron     validationError = "Custom schedules require a cron expression"
)

// validateConfig checks the schedulable parts of a request. promptText
// is "-" for config-only updates where the prompt is immutable anyway.
func validateConfig(promptText string, scheduleType, cronExpr *string) error {
	if promptText == "" {
		return errEmptyPrompt
	}
	if scheduleType != nil {
		switch *scheduleType {
		case schedule.TypeDaily, schedule.TypeWeekly, schedule.TypeMonthly, schedule.TypeCustom, schedule.TypeNone:
		default:
			return errBadScheduleType
		}
		if *scheduleType == schedule.TypeCustom && (cronExpr == nil || *cronExpr == "") {
			return errMissingCron
		}
	}
	if cronExpr != nil && *cronExpr != "" {
		if err := schedule.Validate(*cronExpr); err != nil {
			return err
		}
	}
	return nil
}
