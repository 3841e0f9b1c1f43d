package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// CreateTask creates a new task together with version 1 of its
// configuration. Defaults: no schedule, not paused.
func (db *DB) CreateTask(task *Task, cfg TaskConfig) (*TaskVersion, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.CreatedAt = time.Now().UTC()

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO tasks (id, prompt_text, display_name, tags, disabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, task.ID, task.PromptText, task.DisplayName, encodeTags(task.Tags), task.Disabled, task.CreatedAt)
	if err != nil {
		return nil, err
	}

	version := &TaskVersion{
		ID:           uuid.NewString(),
		TaskID:       task.ID,
		Version:      1,
		ScheduleType: "none",
		CreatedAt:    task.CreatedAt,
	}
	if cfg.ScheduleType != nil {
		version.ScheduleType = *cfg.ScheduleType
	}
	if cfg.CronExpression != nil {
		version.CronExpression = cfg.CronExpression
	}
	if cfg.IsPaused != nil {
		version.IsPaused = *cfg.IsPaused
	}

	if err := insertVersion(tx, version, cfg.ModelIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return version, nil
}

// GetTask retrieves a task by ID
func (db *DB) GetTask(id string) (*Task, error) {
	row := db.conn.QueryRow(`
		SELECT id, prompt_text, display_name, tags, disabled, created_at, last_run_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

// ListTasks retrieves all tasks, optionally including soft-deleted ones.
func (db *DB) ListTasks(includeDisabled bool) ([]*Task, error) {
	query := `
		SELECT id, prompt_text, display_name, tags, disabled, created_at, last_run_at
		FROM tasks`
	if !includeDisabled {
		query += ` WHERE disabled = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask mutates display metadata in place. Display name and tags
// are cosmetic; changing them never creates a new version.
func (db *DB) UpdateTask(id, displayName string, tags []string) error {
	_, err := db.conn.Exec(`
		UPDATE tasks SET display_name = ?, tags = ? WHERE id = ?
	`, displayName, encodeTags(tags), id)
	return err
}

// SoftDelete marks a task as disabled without removing its history.
func (db *DB) SoftDelete(id string) error {
	_, err := db.conn.Exec(`UPDATE tasks SET disabled = 1 WHERE id = ?`, id)
	return err
}

// Restore clears the soft-delete flag.
func (db *DB) Restore(id string) error {
	_, err := db.conn.Exec(`UPDATE tasks SET disabled = 0 WHERE id = ?`, id)
	return err
}

// UpdateTaskConfig applies a model-set and/or schedule change. A new
// version is inserted only when the requested configuration actually
// differs from the current one; cosmetic re-submissions of unchanged
// configuration must not grow the version history. Fields not supplied
// are copied forward from the current version. The returned bool
// reports whether a new version was created.
func (db *DB) UpdateTaskConfig(taskID string, cfg TaskConfig) (*TaskVersion, bool, error) {
	current, err := db.CurrentVersion(taskID)
	if err != nil {
		return nil, false, err
	}
	currentModels, err := db.VersionModels(current.ID)
	if err != nil {
		return nil, false, err
	}

	next := &TaskVersion{
		TaskID:         taskID,
		ScheduleType:   current.ScheduleType,
		CronExpression: current.CronExpression,
		IsPaused:       current.IsPaused,
	}
	if cfg.ScheduleType != nil {
		next.ScheduleType = *cfg.ScheduleType
	}
	if cfg.CronExpression != nil {
		next.CronExpression = cfg.CronExpression
	}
	if cfg.IsPaused != nil {
		next.IsPaused = *cfg.IsPaused
	}

	models := currentModels
	if cfg.ModelIDs != nil {
		models = cfg.ModelIDs
	}

	scheduleChanged := next.ScheduleType != current.ScheduleType ||
		next.IsPaused != current.IsPaused ||
		!equalCron(next.CronExpression, current.CronExpression)
	if !scheduleChanged && sameModelSet(models, currentModels) {
		return current, false, nil
	}

	next.ID = uuid.NewString()
	next.Version = current.Version + 1
	next.CreatedAt = time.Now().UTC()

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if err := insertVersion(tx, next, models); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// CurrentVersion returns the version with the highest number for a task.
func (db *DB) CurrentVersion(taskID string) (*TaskVersion, error) {
	row := db.conn.QueryRow(`
		SELECT id, task_id, version, schedule_type, cron_expression, is_paused, created_at
		FROM task_versions WHERE task_id = ? ORDER BY version DESC LIMIT 1
	`, taskID)
	return scanVersion(row)
}

// GetVersion returns a specific version of a task.
func (db *DB) GetVersion(taskID string, version int) (*TaskVersion, error) {
	row := db.conn.QueryRow(`
		SELECT id, task_id, version, schedule_type, cron_expression, is_paused, created_at
		FROM task_versions WHERE task_id = ? AND version = ?
	`, taskID, version)
	return scanVersion(row)
}

// ListVersions returns a task's full version history, newest first.
func (db *DB) ListVersions(taskID string) ([]*TaskVersion, error) {
	rows, err := db.conn.Query(`
		SELECT id, task_id, version, schedule_type, cron_expression, is_paused, created_at
		FROM task_versions WHERE task_id = ? ORDER BY version DESC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*TaskVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// VersionModels returns the model-id membership of a version, sorted.
func (db *DB) VersionModels(versionID string) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT model_id FROM version_models WHERE version_id = ? ORDER BY model_id
	`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func insertVersion(tx *sql.Tx, v *TaskVersion, modelIDs []string) error {
	_, err := tx.Exec(`
		INSERT INTO task_versions (id, task_id, version, schedule_type, cron_expression, is_paused, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.TaskID, v.Version, v.ScheduleType, v.CronExpression, v.IsPaused, v.CreatedAt)
	if err != nil {
		return err
	}
	for _, modelID := range dedupe(modelIDs) {
		if _, err := tx.Exec(`
			INSERT INTO version_models (version_id, model_id) VALUES (?, ?)
		`, v.ID, modelID); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	task := &Task{}
	var tags string
	var lastRun sql.NullTime
	err := row.Scan(&task.ID, &task.PromptText, &task.DisplayName, &tags, &task.Disabled, &task.CreatedAt, &lastRun)
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		task.LastRunAt = &t
	}
	task.Tags, err = decodeTags(tags)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", task.ID, err)
	}
	return task, nil
}

func scanVersion(row rowScanner) (*TaskVersion, error) {
	v := &TaskVersion{}
	var cronExpr sql.NullString
	err := row.Scan(&v.ID, &v.TaskID, &v.Version, &v.ScheduleType, &cronExpr, &v.IsPaused, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if cronExpr.Valid {
		s := cronExpr.String
		v.CronExpression = &s
	}
	return v, nil
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("bad tags payload: %w", err)
	}
	return tags, nil
}

// sameModelSet compares two model-id slices as unordered sets.
func sameModelSet(a, b []string) bool {
	as, bs := dedupe(a), dedupe(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func equalCron(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
