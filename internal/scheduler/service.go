// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/models"
	"github.com/zfonlyone/openlist2strm/internal/scanner"
)

const defaultTick = 5 * time.Second

// Run is a scan launched on behalf of a task. Wait blocks until the run
// reaches a terminal status.
type Run interface {
	Wait(ctx context.Context) (models.ScanRunStatus, error)
}

// ScanLauncher starts scan runs for the scheduler. An empty folder means
// all configured source folders.
type ScanLauncher interface {
	Launch(ctx context.Context, folder, trigger string) (runID string, run Run, err error)
}

type scannerLauncher struct {
	scans *scanner.Service
}

// NewScannerLauncher adapts the scan orchestrator to the ScanLauncher
// interface.
func NewScannerLauncher(scans *scanner.Service) ScanLauncher {
	return scannerLauncher{scans: scans}
}

func (l scannerLauncher) Launch(ctx context.Context, folder, trigger string) (string, Run, error) {
	var folders []string
	if folder != "" {
		folders = []string{folder}
	}
	handle, err := l.scans.StartRun(ctx, folders, false, trigger)
	if err != nil {
		return "", nil, err
	}
	return handle.ID, handle, nil
}

// Service fires scan tasks on their schedules. A coarse ticker polls the
// task store for due work; the scan engine's single-flight guarantee means
// a due task whose launch collides with a running scan simply stays due and
// fires on a later tick.
type Service struct {
	tasks        *models.TaskStore
	launcher     ScanLauncher
	tick         time.Duration
	runOnStartup bool

	mu     sync.Mutex
	firing map[string]struct{} // task IDs with a launched run still settling
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the scheduler.
func NewService(tasks *models.TaskStore, launcher ScanLauncher, tick time.Duration, runOnStartup bool) *Service {
	if tick <= 0 {
		tick = defaultTick
	}
	return &Service{
		tasks:        tasks,
		launcher:     launcher,
		tick:         tick,
		runOnStartup: runOnStartup,
		firing:       make(map[string]struct{}),
	}
}

// Start begins the tick loop. When run-on-startup is configured, enabled
// tasks are swept once, sequentially, before regular scheduling takes over.
func (s *Service) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if s.runOnStartup {
			s.startupSweep(loopCtx)
		}
		s.loop(loopCtx)
	}()

	log.Info().Dur("tick", s.tick).Bool("runOnStartup", s.runOnStartup).Msg("scheduler: started")
}

// Stop halts the tick loop and waits for it to exit.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	log.Debug().Msg("scheduler: stopped")
}

func (s *Service) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		}
	}
}

func (s *Service) fireDue(ctx context.Context, now time.Time) {
	due, err := s.tasks.ListDue(ctx, now)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduler: failed to list due tasks")
		}
		return
	}
	for _, task := range due {
		s.fire(ctx, task, now)
	}
}

func (s *Service) fire(ctx context.Context, task *models.TaskDefinition, now time.Time) {
	s.mu.Lock()
	if _, busy := s.firing[task.ID]; busy {
		s.mu.Unlock()
		return
	}
	s.firing[task.ID] = struct{}{}
	s.mu.Unlock()

	runID, run, err := s.launcher.Launch(ctx, task.Folder, "schedule:"+task.Name)
	if err != nil {
		s.clearFiring(task.ID)
		if errors.Is(err, scanner.ErrScanActive) {
			// The engine is busy. next_run_at stays in place, so the task
			// fires again on a later tick once the engine frees up.
			log.Debug().Str("task", task.Name).Msg("scheduler: scan engine busy, firing deferred")
			return
		}
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("task", task.Name).Msg("scheduler: failed to launch scan")
		}
		return
	}

	// Advance the schedule at launch, not at completion, so a scan that
	// outlives its interval cannot double-fire the same task.
	next := s.nextAfterLaunch(task, now)
	if err := s.tasks.SetRunTimes(ctx, task.ID, now, next); err != nil && !errors.Is(err, models.ErrTaskNotFound) {
		log.Error().Err(err).Str("task", task.Name).Msg("scheduler: failed to advance schedule")
	}

	log.Info().Str("task", task.Name).Str("runID", runID).Msg("scheduler: task fired")
	go s.settle(ctx, task, run)
}

func (s *Service) nextAfterLaunch(task *models.TaskDefinition, now time.Time) *time.Time {
	// Immediate schedules compute "now" forever; clearing next_run_at here
	// is what makes them one-shot even if the run ends up failing.
	if task.ScheduleKind == models.ScheduleKindImmediate {
		return nil
	}
	spec, err := task.Spec()
	if err != nil {
		// Only reachable when the row was edited behind the store's back.
		// Park the task rather than looping on a broken schedule.
		log.Error().Err(err).Str("task", task.Name).Msg("scheduler: stored schedule no longer parses")
		return nil
	}
	next := spec.Next(now, &now)
	return &next
}

// settle waits for the launched run and applies end-of-life transitions:
// immediate tasks disable after any terminal run, other one-time tasks only
// after a completed one, so a failed run keeps its next scheduled slot.
func (s *Service) settle(ctx context.Context, task *models.TaskDefinition, run Run) {
	defer s.clearFiring(task.ID)

	status, err := run.Wait(ctx)
	if err != nil {
		return // shutting down
	}

	switch {
	case task.ScheduleKind == models.ScheduleKindImmediate:
		s.disableAfterRun(task)
	case task.OneTime && status == models.ScanRunStatusCompleted:
		s.disableAfterRun(task)
	}
}

func (s *Service) disableAfterRun(task *models.TaskDefinition) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.tasks.SetState(ctx, task.ID, false, false, nil); err != nil && !errors.Is(err, models.ErrTaskNotFound) {
		log.Error().Err(err).Str("task", task.Name).Msg("scheduler: failed to disable one-time task")
		return
	}
	log.Info().Str("task", task.Name).Msg("scheduler: one-time task disabled")
}

// startupSweep scans each enabled task's folder once, one at a time. It is a
// warm-up pass over schedule state: last_run_at and next_run_at are left
// untouched.
func (s *Service) startupSweep(ctx context.Context) {
	tasks, err := s.tasks.List(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduler: startup sweep failed to list tasks")
		}
		return
	}

	for _, task := range tasks {
		if !task.Enabled || task.Paused {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		runID, run, err := s.launcher.Launch(ctx, task.Folder, "startup:"+task.Name)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("task", task.Name).Msg("scheduler: startup scan failed to launch")
			}
			continue
		}
		log.Info().Str("task", task.Name).Str("runID", runID).Msg("scheduler: startup scan launched")
		if _, err := run.Wait(ctx); err != nil {
			return
		}
	}
}

func (s *Service) clearFiring(id string) {
	s.mu.Lock()
	delete(s.firing, id)
	s.mu.Unlock()
}

// CreateTask validates and persists a new task definition.
func (s *Service) CreateTask(ctx context.Context, task *models.TaskDefinition) error {
	return s.tasks.Create(ctx, task)
}

// UpdateTask rewrites an existing task definition.
func (s *Service) UpdateTask(ctx context.Context, task *models.TaskDefinition) error {
	return s.tasks.Update(ctx, task)
}

// DeleteTask removes a task definition.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	return s.tasks.Delete(ctx, id)
}

// GetTask returns a task by ID.
func (s *Service) GetTask(ctx context.Context, id string) (*models.TaskDefinition, error) {
	return s.tasks.Get(ctx, id)
}

// ListTasks returns all task definitions.
func (s *Service) ListTasks(ctx context.Context) ([]*models.TaskDefinition, error) {
	return s.tasks.List(ctx)
}

// EnableTask re-enables a task and schedules its next firing from now.
// Re-enabling an immediate task makes it fire once on the next tick.
func (s *Service) EnableTask(ctx context.Context, id string) error {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	spec, err := task.Spec()
	if err != nil {
		return err
	}
	next := spec.Next(time.Now(), task.LastRunAt)
	return s.tasks.SetState(ctx, id, true, false, &next)
}

// DisableTask turns a task off and clears its schedule.
func (s *Service) DisableTask(ctx context.Context, id string) error {
	if _, err := s.tasks.Get(ctx, id); err != nil {
		return err
	}
	return s.tasks.SetState(ctx, id, false, false, nil)
}

// PauseTask suspends firing without losing the task's scheduled slot.
func (s *Service) PauseTask(ctx context.Context, id string) error {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.tasks.SetState(ctx, id, task.Enabled, true, task.NextRunAt)
}

// ResumeTask lifts a pause. The next firing is recomputed from now so a
// slot missed while paused is not replayed.
func (s *Service) ResumeTask(ctx context.Context, id string) error {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	if !task.Enabled {
		return s.tasks.SetState(ctx, id, false, false, nil)
	}
	spec, err := task.Spec()
	if err != nil {
		return err
	}
	next := spec.Next(time.Now(), task.LastRunAt)
	return s.tasks.SetState(ctx, id, true, false, &next)
}

// RunTaskNow launches the task's scan immediately with a manual trigger.
// The task's schedule is not advanced; the firing is out of band. Returns
// scanner.ErrScanActive while another run holds the engine.
func (s *Service) RunTaskNow(ctx context.Context, id string) (string, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return "", err
	}
	runID, _, err := s.launcher.Launch(ctx, task.Folder, "manual:"+task.Name)
	if err != nil {
		return "", err
	}
	log.Info().Str("task", task.Name).Str("runID", runID).Msg("scheduler: manual run launched")
	return runID, nil
}
