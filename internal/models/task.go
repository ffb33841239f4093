// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zfonlyone/openlist2strm/internal/dbinterface"
)

// ErrTaskNotFound is returned for operations on unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

// TaskDefinition is one user-defined scan schedule.
type TaskDefinition struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Folder       string       `json:"folder"` // empty = all configured source folders
	ScheduleKind ScheduleKind `json:"scheduleKind"`
	ScheduleVal  string       `json:"scheduleValue"`
	Enabled      bool         `json:"enabled"`
	Paused       bool         `json:"paused"`
	OneTime      bool         `json:"oneTime"`
	LastRunAt    *time.Time   `json:"lastRunAt,omitempty"`
	NextRunAt    *time.Time   `json:"nextRunAt,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Spec re-parses the persisted schedule. Definitions only enter the store
// through ParseScheduleSpec, so a failure here means the row was edited by
// hand.
func (t *TaskDefinition) Spec() (*ScheduleSpec, error) {
	return ParseScheduleSpec(t.ScheduleKind, t.ScheduleVal)
}

// Due reports whether the task should fire at now.
func (t *TaskDefinition) Due(now time.Time) bool {
	return t.Enabled && !t.Paused && t.NextRunAt != nil && !t.NextRunAt.After(now)
}

// TaskStore handles database operations for task definitions.
type TaskStore struct {
	db dbinterface.Querier
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db dbinterface.Querier) *TaskStore {
	return &TaskStore{db: db}
}

// Create validates the schedule, assigns an ID and persists the task.
// Enabled tasks get an initial next_run_at.
func (s *TaskStore) Create(ctx context.Context, task *TaskDefinition) error {
	spec, err := ParseScheduleSpec(task.ScheduleKind, task.ScheduleVal)
	if err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Enabled {
		next := spec.Next(time.Now(), nil)
		task.NextRunAt = &next
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, folder, schedule_kind, schedule_value, enabled, paused, one_time, last_run_at, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Name, task.Folder, string(task.ScheduleKind), task.ScheduleVal,
		task.Enabled, task.Paused, task.OneTime, task.LastRunAt, task.NextRunAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing task. The schedule is
// re-validated and next_run_at recomputed when the task is enabled.
func (s *TaskStore) Update(ctx context.Context, task *TaskDefinition) error {
	spec, err := ParseScheduleSpec(task.ScheduleKind, task.ScheduleVal)
	if err != nil {
		return err
	}
	if task.Enabled && !task.Paused {
		next := spec.Next(time.Now(), task.LastRunAt)
		task.NextRunAt = &next
	}
	if !task.Enabled {
		task.NextRunAt = nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			name = ?, folder = ?, schedule_kind = ?, schedule_value = ?,
			enabled = ?, paused = ?, one_time = ?, last_run_at = ?, next_run_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, task.Name, task.Folder, string(task.ScheduleKind), task.ScheduleVal,
		task.Enabled, task.Paused, task.OneTime, task.LastRunAt, task.NextRunAt, task.ID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	return requireRow(res)
}

// Delete removes a task definition.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return requireRow(res)
}

// Get returns a task by ID.
func (s *TaskStore) Get(ctx context.Context, id string) (*TaskDefinition, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	task, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// List returns all tasks ordered by creation time.
func (s *TaskStore) List(ctx context.Context) ([]*TaskDefinition, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*TaskDefinition
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListDue returns enabled, unpaused tasks whose next_run_at has elapsed.
func (s *TaskStore) ListDue(ctx context.Context, now time.Time) ([]*TaskDefinition, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+`
		WHERE enabled = 1 AND paused = 0 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*TaskDefinition
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// SetRunTimes records a completed (or skipped) firing: last_run_at plus the
// recomputed next_run_at. Passing a nil next clears the schedule, which is how
// one-time tasks end up disabled.
func (s *TaskStore) SetRunTimes(ctx context.Context, id string, lastRun time.Time, next *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET last_run_at = ?, next_run_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, lastRun, next, id)
	if err != nil {
		return fmt.Errorf("set run times for task %s: %w", id, err)
	}
	return requireRow(res)
}

// SetState flips enabled/paused and rewrites next_run_at accordingly.
func (s *TaskStore) SetState(ctx context.Context, id string, enabled, paused bool, next *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET enabled = ?, paused = ?, next_run_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, enabled, paused, next, id)
	if err != nil {
		return fmt.Errorf("set state for task %s: %w", id, err)
	}
	return requireRow(res)
}

const taskSelect = `
	SELECT id, name, folder, schedule_kind, schedule_value, enabled, paused, one_time,
	       last_run_at, next_run_at, created_at, updated_at
	FROM tasks`

func scanTask(scan func(dest ...any) error) (*TaskDefinition, error) {
	var (
		task    TaskDefinition
		kind    string
		lastRun sql.NullTime
		nextRun sql.NullTime
	)
	err := scan(
		&task.ID,
		&task.Name,
		&task.Folder,
		&kind,
		&task.ScheduleVal,
		&task.Enabled,
		&task.Paused,
		&task.OneTime,
		&lastRun,
		&nextRun,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.ScheduleKind = ScheduleKind(kind)
	if lastRun.Valid {
		t := lastRun.Time
		task.LastRunAt = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		task.NextRunAt = &t
	}
	return &task, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}
