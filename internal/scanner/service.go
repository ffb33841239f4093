// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/metrics"
	"github.com/zfonlyone/openlist2strm/internal/models"
	"github.com/zfonlyone/openlist2strm/internal/strm"
)

// ErrScanActive is the Busy condition: a run was requested while another one
// holds the single-flight slot.
var ErrScanActive = errors.New("a scan is already running")

// ErrRunNotFound is returned by Cancel for unknown run IDs.
var ErrRunNotFound = errors.New("scan run not found")

// maxTrackedErrors caps the per-run error list exposed through progress.
const maxTrackedErrors = 50

// Summary is the payload of the scan-completed notification.
type Summary struct {
	RunID        string
	Folders      []string
	FilesCreated int
	FilesUpdated int
	FilesDeleted int
}

// Notifier receives fire-and-forget scan-completed events.
type Notifier interface {
	ScanCompleted(ctx context.Context, summary Summary)
}

// Progress is a point-in-time view of a run, polled by external callers.
type Progress struct {
	RunID        string               `json:"runId"`
	Folders      []string             `json:"folders"`
	Status       models.ScanRunStatus `json:"status"`
	CurrentPath  string               `json:"currentPath,omitempty"`
	FilesScanned int                  `json:"filesScanned"`
	FilesCreated int                  `json:"filesCreated"`
	FilesUpdated int                  `json:"filesUpdated"`
	FilesDeleted int                  `json:"filesDeleted"`
	ErrorCount   int                  `json:"errorCount"`
	Errors       []string             `json:"errors,omitempty"`
	StartedAt    time.Time            `json:"startedAt"`
	EndedAt      *time.Time           `json:"endedAt,omitempty"`
}

// activeRun is the single-slot current-run registry entry.
type activeRun struct {
	mu       sync.Mutex
	run      *models.ScanRun
	cancel   context.CancelFunc
	done     chan struct{}
	current  string
	errs     []string
	errCount int
}

// RunHandle identifies a started run and lets callers await its completion.
type RunHandle struct {
	ID     string
	active *activeRun
}

// Wait blocks until the run reaches a terminal status or ctx is done.
func (h *RunHandle) Wait(ctx context.Context) (models.ScanRunStatus, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.active.done:
	}
	h.active.mu.Lock()
	defer h.active.mu.Unlock()
	return h.active.run.Status, nil
}

// Service is the scan orchestrator: it owns ScanRun lifecycle, enforces the
// system-wide single-flight invariant and is the only writer of run history.
type Service struct {
	walker       *Walker
	gen          *strm.Generator
	runs         *models.ScanRunStore
	notifier     Notifier
	collector    *metrics.Collector
	roots        []string
	historyLimit int

	baseCtx context.Context

	mu      sync.Mutex
	current *activeRun
	last    *activeRun
}

// NewService wires the orchestrator. roots is the configured folder set used
// when a run does not name folders; notifier and collector may be nil.
func NewService(walker *Walker, gen *strm.Generator, runs *models.ScanRunStore, notifier Notifier, collector *metrics.Collector, roots []string, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Service{
		walker:       walker,
		gen:          gen,
		runs:         runs,
		notifier:     notifier,
		collector:    collector,
		roots:        roots,
		historyLimit: historyLimit,
		baseCtx:      context.Background(),
	}
}

// Start binds the lifetime of background runs to ctx.
func (s *Service) Start(ctx context.Context) {
	s.baseCtx = ctx
}

// StartRun begins a scan over folders (or all configured roots when empty)
// and returns a handle immediately. Returns ErrScanActive while another run
// is in flight.
func (s *Service) StartRun(ctx context.Context, folders []string, force bool, trigger string) (*RunHandle, error) {
	if len(folders) == 0 {
		folders = s.roots
	}

	run := &models.ScanRun{
		ID:          uuid.NewString(),
		FolderSet:   folders,
		TriggeredBy: trigger,
		Status:      models.ScanRunStatusRunning,
		StartedAt:   time.Now(),
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return nil, ErrScanActive
	}
	runCtx, cancel := context.WithCancel(s.baseCtx)
	active := &activeRun{run: run, cancel: cancel, done: make(chan struct{})}
	s.current = active
	s.mu.Unlock()

	if err := s.runs.Create(ctx, run); err != nil {
		s.release(active)
		cancel()
		close(active.done)
		return nil, err
	}

	log.Info().Str("runID", run.ID).Strs("folders", folders).Bool("force", force).Str("trigger", trigger).Msg("scanner: run started")

	go s.execute(runCtx, active, force)
	return &RunHandle{ID: run.ID, active: active}, nil
}

// Cancel requests cooperative cancellation of a running scan. In-flight
// listings finish; no further directories are entered and partially written
// state is left as-is.
func (s *Service) Cancel(runID string) error {
	s.mu.Lock()
	active := s.current
	s.mu.Unlock()

	if active == nil || active.run.ID != runID {
		return ErrRunNotFound
	}

	active.mu.Lock()
	active.run.Status = models.ScanRunStatusCancelled
	active.mu.Unlock()
	active.cancel()

	log.Info().Str("runID", runID).Msg("scanner: cancellation requested")
	return nil
}

// Progress returns the live progress of the current run, or the final
// progress of the most recent one.
func (s *Service) Progress() (Progress, bool) {
	s.mu.Lock()
	active := s.current
	if active == nil {
		active = s.last
	}
	s.mu.Unlock()

	if active == nil {
		return Progress{}, false
	}
	return active.snapshot(), true
}

// History returns the most recent run records.
func (s *Service) History(ctx context.Context, limit int) ([]*models.ScanRun, error) {
	return s.runs.List(ctx, limit)
}

// Running reports whether a run currently holds the single-flight slot.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Service) execute(ctx context.Context, active *activeRun, force bool) {
	run := active.run

	decisions := make(chan Decision, 64)
	events := WalkEvents{
		OnDirectory: func(path string) {
			active.mu.Lock()
			active.current = path
			active.mu.Unlock()
		},
		OnDirError: func(path string, err error) {
			active.recordError("list " + path + ": " + err.Error())
		},
	}

	walkErr := make(chan error, 1)
	go func() {
		walkErr <- s.walker.Walk(ctx, run.FolderSet, force, decisions, events)
	}()

	for decision := range decisions {
		s.apply(ctx, active, decision)
	}
	fatal := <-walkErr

	s.finish(active, fatal)
}

// apply materializes one decision and folds it into the progress counters.
func (s *Service) apply(ctx context.Context, active *activeRun, d Decision) {
	run := active.run

	switch d.Op {
	case OpSkip:
		active.mu.Lock()
		run.FilesScanned++
		active.mu.Unlock()

	case OpCreate, OpUpdate:
		_, err := s.gen.Write(ctx, d.RemotePath, d.Size, d.MTime)
		active.mu.Lock()
		run.FilesScanned++
		if err != nil {
			active.mu.Unlock()
			// Isolated write failure: the cache entry was not touched, so
			// the next walk retries this file.
			active.recordError("write " + d.RemotePath + ": " + err.Error())
			return
		}
		if d.Op == OpCreate {
			run.FilesCreated++
		} else {
			run.FilesUpdated++
		}
		active.mu.Unlock()

	case OpDelete:
		err := s.gen.Delete(ctx, d.RemotePath, d.PointerPath)
		if err != nil {
			active.recordError("delete " + d.RemotePath + ": " + err.Error())
			return
		}
		active.mu.Lock()
		run.FilesDeleted++
		active.mu.Unlock()
	}
}

func (s *Service) finish(active *activeRun, fatal error) {
	run := active.run
	now := time.Now()

	active.mu.Lock()
	run.EndedAt = &now
	run.Errors = active.errs
	switch {
	case run.Status == models.ScanRunStatusCancelled:
		// Cancel already set the status.
	case fatal != nil:
		run.Status = models.ScanRunStatusFailed
		run.ErrorMessage = fatal.Error()
	default:
		// Partial per-directory and per-file errors still complete the run;
		// they are visible in the error list.
		run.Status = models.ScanRunStatusCompleted
	}
	summary := Summary{
		RunID:        run.ID,
		Folders:      run.FolderSet,
		FilesCreated: run.FilesCreated,
		FilesUpdated: run.FilesUpdated,
		FilesDeleted: run.FilesDeleted,
	}
	status := run.Status
	active.mu.Unlock()

	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.runs.Finish(finishCtx, run); err != nil {
		log.Error().Err(err).Str("runID", run.ID).Msg("scanner: failed to record run")
	}
	if err := s.runs.Prune(finishCtx, s.historyLimit); err != nil {
		log.Error().Err(err).Msg("scanner: failed to prune run history")
	}

	s.collector.ObserveRun(string(status), summary.FilesCreated, summary.FilesUpdated, summary.FilesDeleted)

	s.release(active)
	close(active.done)

	log.Info().
		Str("runID", run.ID).
		Str("status", string(status)).
		Int("scanned", run.FilesScanned).
		Int("created", summary.FilesCreated).
		Int("updated", summary.FilesUpdated).
		Int("deleted", summary.FilesDeleted).
		Int("errors", active.errCount).
		Msg("scanner: run finished")

	if s.notifier != nil && status == models.ScanRunStatusCompleted {
		s.notifier.ScanCompleted(finishCtx, summary)
	}
}

func (s *Service) release(active *activeRun) {
	s.mu.Lock()
	if s.current == active {
		s.current = nil
		s.last = active
	}
	s.mu.Unlock()
}

func (a *activeRun) recordError(msg string) {
	a.mu.Lock()
	a.errCount++
	if len(a.errs) < maxTrackedErrors {
		a.errs = append(a.errs, msg)
	}
	a.mu.Unlock()
}

func (a *activeRun) snapshot() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()

	errs := make([]string, len(a.errs))
	copy(errs, a.errs)

	return Progress{
		RunID:        a.run.ID,
		Folders:      a.run.FolderSet,
		Status:       a.run.Status,
		CurrentPath:  a.current,
		FilesScanned: a.run.FilesScanned,
		FilesCreated: a.run.FilesCreated,
		FilesUpdated: a.run.FilesUpdated,
		FilesDeleted: a.run.FilesDeleted,
		ErrorCount:   a.errCount,
		Errors:       errs,
		StartedAt:    a.run.StartedAt,
		EndedAt:      a.run.EndedAt,
	}
}
