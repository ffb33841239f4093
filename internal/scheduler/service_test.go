// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfonlyone/openlist2strm/internal/database"
	"github.com/zfonlyone/openlist2strm/internal/models"
	"github.com/zfonlyone/openlist2strm/internal/scanner"
)

type fakeRun struct {
	status models.ScanRunStatus
}

func (r fakeRun) Wait(ctx context.Context) (models.ScanRunStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return r.status, nil
}

type launchRecord struct {
	folder  string
	trigger string
}

// fakeLauncher records launches and lets tests inject busy errors and run
// outcomes.
type fakeLauncher struct {
	mu        sync.Mutex
	err       error
	runStatus models.ScanRunStatus
	launches  []launchRecord
}

func (l *fakeLauncher) Launch(ctx context.Context, folder, trigger string) (string, Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", nil, l.err
	}
	l.launches = append(l.launches, launchRecord{folder: folder, trigger: trigger})
	status := l.runStatus
	if status == "" {
		status = models.ScanRunStatusCompleted
	}
	return fmt.Sprintf("run-%d", len(l.launches)), fakeRun{status: status}, nil
}

func (l *fakeLauncher) recorded() []launchRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]launchRecord(nil), l.launches...)
}

func newTaskStore(t *testing.T) *models.TaskStore {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return models.NewTaskStore(db)
}

// createDueTask persists an enabled task whose next firing is already in the
// past.
func createDueTask(t *testing.T, tasks *models.TaskStore, def *models.TaskDefinition) *models.TaskDefinition {
	t.Helper()
	ctx := t.Context()
	require.NoError(t, tasks.Create(ctx, def))
	if def.ScheduleKind != models.ScheduleKindImmediate {
		past := time.Now().Add(-time.Hour)
		require.NoError(t, tasks.SetRunTimes(ctx, def.ID, past, &past))
	}
	task, err := tasks.Get(ctx, def.ID)
	require.NoError(t, err)
	return task
}

func settled(s *Service) func() bool {
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.firing) == 0
	}
}

func TestFireDueAdvancesScheduleAtLaunch(t *testing.T) {
	tasks := newTaskStore(t)
	launcher := &fakeLauncher{}
	s := NewService(tasks, launcher, time.Minute, false)
	ctx := t.Context()

	task := createDueTask(t, tasks, &models.TaskDefinition{
		Name:         "movies",
		Folder:       "/media/movies",
		ScheduleKind: models.ScheduleKindInterval,
		ScheduleVal:  "30",
		Enabled:      true,
	})

	now := time.Now()
	s.fireDue(ctx, now)
	require.Eventually(t, settled(s), 2*time.Second, 10*time.Millisecond)

	launches := launcher.recorded()
	require.Len(t, launches, 1)
	assert.Equal(t, "/media/movies", launches[0].folder)
	assert.Equal(t, "schedule:movies", launches[0].trigger)

	got, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(now), "next firing moves past launch time")
	require.NotNil(t, got.LastRunAt)
	assert.WithinDuration(t, now, *got.LastRunAt, 2*time.Second)
	assert.True(t, got.Enabled)

	// The advanced slot is no longer due.
	s.fireDue(ctx, time.Now())
	require.Eventually(t, settled(s), 2*time.Second, 10*time.Millisecond)
	assert.Len(t, launcher.recorded(), 1)
}

func TestFireDueDefersWhileEngineBusy(t *testing.T) {
	tasks := newTaskStore(t)
	launcher := &fakeLauncher{err: scanner.ErrScanActive}
	s := NewService(tasks, launcher, time.Minute, false)
	ctx := t.Context()

	task := createDueTask(t, tasks, &models.TaskDefinition{
		Name:         "movies",
		ScheduleKind: models.ScheduleKindInterval,
		ScheduleVal:  "30",
		Enabled:      true,
	})
	before, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)

	s.fireDue(ctx, time.Now())
	assert.Empty(t, launcher.recorded())

	after, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, after.NextRunAt)
	assert.True(t, after.NextRunAt.Equal(*before.NextRunAt), "a deferred firing keeps its slot")

	// Once the engine frees up the same slot fires.
	launcher.mu.Lock()
	launcher.err = nil
	launcher.mu.Unlock()
	s.fireDue(ctx, time.Now())
	require.Eventually(t, settled(s), 2*time.Second, 10*time.Millisecond)
	assert.Len(t, launcher.recorded(), 1)
}

func TestImmediateTaskFiresOnceAndDisables(t *testing.T) {
	tasks := newTaskStore(t)
	launcher := &fakeLauncher{runStatus: models.ScanRunStatusFailed}
	s := NewService(tasks, launcher, time.Minute, false)
	ctx := t.Context()

	task := createDueTask(t, tasks, &models.TaskDefinition{
		Name:         "once",
		ScheduleKind: models.ScheduleKindImmediate,
		Enabled:      true,
	})

	s.fireDue(ctx, time.Now().Add(time.Second))
	require.Eventually(t, settled(s), 2*time.Second, 10*time.Millisecond)
	require.Len(t, launcher.recorded(), 1)

	// Even a failed run retires the task; immediate work is never replayed.
	require.Eventually(t, func() bool {
		got, err := tasks.Get(ctx, task.ID)
		return err == nil && !got.Enabled && got.NextRunAt == nil
	}, 2*time.Second, 10*time.Millisecond)

	s.fireDue(ctx, time.Now().Add(time.Second))
	assert.Len(t, launcher.recorded(), 1)
}

func TestOneTimeTaskRetainsSlotOnFailure(t *testing.T) {
	tasks := newTaskStore(t)
	launcher := &fakeLauncher{runStatus: models.ScanRunStatusFailed}
	s := NewService(tasks, launcher, time.Minute, false)
	ctx := t.Context()

	task := createDueTask(t, tasks, &models.TaskDefinition{
		Name:         "nightly-once",
		ScheduleKind: models.ScheduleKindInterval,
		ScheduleVal:  "60",
		Enabled:      true,
		OneTime:      true,
	})

	s.fireDue(ctx, time.Now())
	require.Eventually(t, settled(s), 2*time.Second, 10*time.Millisecond)

	got, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled, "a failed one-time run keeps the task scheduled")
	assert.NotNil(t, got.NextRunAt)

	// A completed run retires it.
	launcher.mu.Lock()
	launcher.runStatus = models.ScanRunStatusCompleted
	launcher.mu.Unlock()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, tasks.SetRunTimes(ctx, task.ID, past, &past))

	s.fireDue(ctx, time.Now())
	require.Eventually(t, func() bool {
		got, err := tasks.Get(ctx, task.ID)
		return err == nil && !got.Enabled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartupSweep(t *testing.T) {
	tasks := newTaskStore(t)
	launcher := &fakeLauncher{}
	s := NewService(tasks, launcher, time.Minute, true)
	ctx := t.Context()

	active := createDueTask(t, tasks, &models.TaskDefinition{
		Name:         "active",
		Folder:       "/media/a",
		ScheduleKind: models.ScheduleKindInterval,
		ScheduleVal:  "30",
		Enabled:      true,
	})
	createDueTask(t, tasks, &models.TaskDefinition{
		Name:         "disabled",
		ScheduleKind: models.ScheduleKindInterval,
		ScheduleVal:  "30",
	})
	paused := createDueTask(t, tasks, &models.TaskDefinition{
		Name:         "paused",
		ScheduleKind: models.ScheduleKindInterval,
		ScheduleVal:  "30",
		Enabled:      true,
	})
	require.NoError(t, s.PauseTask(ctx, paused.ID))

	before, err := tasks.Get(ctx, active.ID)
	require.NoError(t, err)

	s.startupSweep(ctx)

	launches := launcher.recorded()
	require.Len(t, launches, 1)
	assert.Equal(t, "/media/a", launches[0].folder)
	assert.Equal(t, "startup:active", launches[0].trigger)

	after, err := tasks.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.True(t, after.NextRunAt.Equal(*before.NextRunAt), "the sweep does not consume scheduled slots")
}

func TestTaskStateTransitions(t *testing.T) {
	tasks := newTaskStore(t)
	s := NewService(tasks, &fakeLauncher{}, time.Minute, false)
	ctx := t.Context()

	task := &models.TaskDefinition{
		Name:         "movies",
		ScheduleKind: models.ScheduleKindInterval,
		ScheduleVal:  "30",
		Enabled:      true,
	}
	require.NoError(t, s.CreateTask(ctx, task))

	require.NoError(t, s.DisableTask(ctx, task.ID))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextRunAt)

	require.NoError(t, s.EnableTask(ctx, task.ID))
	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	require.NotNil(t, got.NextRunAt)

	slot := *got.NextRunAt
	require.NoError(t, s.PauseTask(ctx, task.ID))
	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Paused)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(slot), "pausing keeps the scheduled slot")

	require.NoError(t, s.ResumeTask(ctx, task.ID))
	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Paused)
	require.NotNil(t, got.NextRunAt)

	require.ErrorIs(t, s.EnableTask(ctx, "missing"), models.ErrTaskNotFound)
}

func TestRunTaskNow(t *testing.T) {
	tasks := newTaskStore(t)
	launcher := &fakeLauncher{}
	s := NewService(tasks, launcher, time.Minute, false)
	ctx := t.Context()

	task := &models.TaskDefinition{
		Name:         "movies",
		Folder:       "/media/movies",
		ScheduleKind: models.ScheduleKindDaily,
		ScheduleVal:  "03:00",
		Enabled:      true,
	}
	require.NoError(t, s.CreateTask(ctx, task))
	before, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)

	runID, err := s.RunTaskNow(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)

	launches := launcher.recorded()
	require.Len(t, launches, 1)
	assert.Equal(t, "manual:movies", launches[0].trigger)

	after, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, after.NextRunAt.Equal(*before.NextRunAt), "manual firings are out of band")

	launcher.mu.Lock()
	launcher.err = scanner.ErrScanActive
	launcher.mu.Unlock()
	_, err = s.RunTaskNow(ctx, task.ID)
	require.ErrorIs(t, err, scanner.ErrScanActive)

	_, err = s.RunTaskNow(ctx, "missing")
	require.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestStartStop(t *testing.T) {
	tasks := newTaskStore(t)
	launcher := &fakeLauncher{}
	s := NewService(tasks, launcher, 10*time.Millisecond, false)

	createDueTask(t, tasks, &models.TaskDefinition{
		Name:         "movies",
		ScheduleKind: models.ScheduleKindInterval,
		ScheduleVal:  "30",
		Enabled:      true,
	})

	s.Start(t.Context())
	require.Eventually(t, func() bool {
		return len(launcher.recorded()) >= 1
	}, 3*time.Second, 10*time.Millisecond)
	s.Stop()
}
