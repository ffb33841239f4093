// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zfonlyone/openlist2strm/internal/dbinterface"
)

// ScanRunStatus defines the status of a scan run.
type ScanRunStatus string

const (
	ScanRunStatusPending   ScanRunStatus = "pending"
	ScanRunStatusRunning   ScanRunStatus = "running"
	ScanRunStatusCompleted ScanRunStatus = "completed"
	ScanRunStatusCancelled ScanRunStatus = "cancelled"
	ScanRunStatusFailed    ScanRunStatus = "failed"
)

// Terminal reports whether the status is final. Terminal rows are never
// updated again.
func (s ScanRunStatus) Terminal() bool {
	switch s {
	case ScanRunStatusCompleted, ScanRunStatusCancelled, ScanRunStatusFailed:
		return true
	}
	return false
}

// ScanRun is one execution of the walker, persisted as run history.
type ScanRun struct {
	ID           string        `json:"id"`
	FolderSet    []string      `json:"folderSet"`
	TriggeredBy  string        `json:"triggeredBy"`
	Status       ScanRunStatus `json:"status"`
	FilesScanned int           `json:"filesScanned"`
	FilesCreated int           `json:"filesCreated"`
	FilesUpdated int           `json:"filesUpdated"`
	FilesDeleted int           `json:"filesDeleted"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
}

// ScanRunStore handles database operations for run history. The orchestrator
// is its only writer.
type ScanRunStore struct {
	db dbinterface.Querier
}

// NewScanRunStore creates a new ScanRunStore.
func NewScanRunStore(db dbinterface.Querier) *ScanRunStore {
	return &ScanRunStore{db: db}
}

// Create inserts a run in its initial status.
func (s *ScanRunStore) Create(ctx context.Context, run *ScanRun) error {
	folders, err := json.Marshal(run.FolderSet)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_runs (id, folder_set, triggered_by, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, string(folders), run.TriggeredBy, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("create scan run: %w", err)
	}
	return nil
}

// Finish writes the terminal state and counters for a run.
func (s *ScanRunStore) Finish(ctx context.Context, run *ScanRun) error {
	errList, err := json.Marshal(run.Errors)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE scan_runs SET
			status = ?, files_scanned = ?, files_created = ?, files_updated = ?, files_deleted = ?,
			error_message = ?, errors = ?, ended_at = ?
		WHERE id = ?
	`, string(run.Status), run.FilesScanned, run.FilesCreated, run.FilesUpdated, run.FilesDeleted,
		run.ErrorMessage, string(errList), run.EndedAt, run.ID)
	if err != nil {
		return fmt.Errorf("finish scan run %s: %w", run.ID, err)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (s *ScanRunStore) List(ctx context.Context, limit int) ([]*ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, folder_set, triggered_by, status, files_scanned, files_created, files_updated,
		       files_deleted, error_message, errors, started_at, ended_at
		FROM scan_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scan runs: %w", err)
	}
	defer rows.Close()

	var runs []*ScanRun
	for rows.Next() {
		run, err := scanScanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns a single run by ID, or nil when absent.
func (s *ScanRunStore) Get(ctx context.Context, id string) (*ScanRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, folder_set, triggered_by, status, files_scanned, files_created, files_updated,
		       files_deleted, error_message, errors, started_at, ended_at
		FROM scan_runs
		WHERE id = ?
	`, id)
	run, err := scanScanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// Prune keeps only the newest keep runs. History is append-only otherwise.
func (s *ScanRunStore) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM scan_runs WHERE id NOT IN (
			SELECT id FROM scan_runs ORDER BY started_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune scan runs: %w", err)
	}
	return nil
}

func scanScanRun(scan func(dest ...any) error) (*ScanRun, error) {
	var (
		run     ScanRun
		status  string
		folders string
		errList string
		ended   sql.NullTime
	)
	err := scan(
		&run.ID,
		&folders,
		&run.TriggeredBy,
		&status,
		&run.FilesScanned,
		&run.FilesCreated,
		&run.FilesUpdated,
		&run.FilesDeleted,
		&run.ErrorMessage,
		&errList,
		&run.StartedAt,
		&ended,
	)
	if err != nil {
		return nil, err
	}
	run.Status = ScanRunStatus(status)
	if ended.Valid {
		t := ended.Time
		run.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(folders), &run.FolderSet); err != nil {
		return nil, err
	}
	if errList != "" {
		if err := json.Unmarshal([]byte(errList), &run.Errors); err != nil {
			return nil, err
		}
	}
	return &run, nil
}
