// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cleanup reconciles the pointer tree on disk with the remote cache.
// It finds pointer files nothing in the cache claims, cache rows whose
// pointer file vanished, broken symlinks, and directories left empty once
// the orphans are gone.
package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/models"
)

// Report lists what a reconciliation pass found. Paths under the output
// root are absolute; StaleEntries holds remote paths.
type Report struct {
	OrphanPointers []string `json:"orphanPointers"`
	BrokenSymlinks []string `json:"brokenSymlinks"`
	StaleEntries   []string `json:"staleEntries"`
	EmptyDirs      []string `json:"emptyDirs"`
	Executed       bool     `json:"executed"`
}

// Total returns the number of findings across all categories.
func (r *Report) Total() int {
	return len(r.OrphanPointers) + len(r.BrokenSymlinks) + len(r.StaleEntries) + len(r.EmptyDirs)
}

// Reconciler compares the output tree against the cache.
type Reconciler struct {
	cache      *models.CacheStore
	outputRoot string
}

// NewReconciler creates a reconciler over the given output root.
func NewReconciler(cache *models.CacheStore, outputRoot string) *Reconciler {
	return &Reconciler{cache: cache, outputRoot: filepath.Clean(outputRoot)}
}

// Preview runs a reconciliation pass without touching anything.
func (r *Reconciler) Preview(ctx context.Context) (*Report, error) {
	return r.reconcile(ctx, true)
}

// Execute runs a reconciliation pass and, unless dryRun is set, removes the
// orphans it found: pointer files and broken symlinks are deleted, stale
// cache rows dropped, and emptied directories pruned deepest-first. The
// output root itself is never removed.
func (r *Reconciler) Execute(ctx context.Context, dryRun bool) (*Report, error) {
	return r.reconcile(ctx, dryRun)
}

func (r *Reconciler) reconcile(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{}

	// Child counts per directory let the empty-dir pass work off the single
	// walk: a removal decrements its parent, then dirs are folded bottom-up.
	childCount := make(map[string]int)
	var dirs []string
	doomed := make(map[string]struct{})

	err := filepath.WalkDir(r.outputRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == r.outputRoot && errors.Is(err, os.ErrNotExist) {
				return filepath.SkipAll
			}
			log.Warn().Err(err).Str("path", path).Msg("cleanup: walk error")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path != r.outputRoot {
			childCount[filepath.Dir(path)]++
		}

		switch {
		case d.IsDir():
			if path != r.outputRoot {
				dirs = append(dirs, path)
			}

		case d.Type()&fs.ModeSymlink != 0:
			if _, serr := os.Stat(path); errors.Is(serr, os.ErrNotExist) {
				report.BrokenSymlinks = append(report.BrokenSymlinks, path)
				doomed[path] = struct{}{}
			}

		case strings.EqualFold(filepath.Ext(path), ".strm"):
			entry, gerr := r.cache.GetByPointerPath(ctx, path)
			if gerr != nil {
				return gerr
			}
			if entry == nil {
				report.OrphanPointers = append(report.OrphanPointers, path)
				doomed[path] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries, err := r.cache.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.Kind != models.EntryKindFile || entry.LocalPointerPath == "" {
			continue
		}
		if _, serr := os.Lstat(entry.LocalPointerPath); errors.Is(serr, os.ErrNotExist) {
			report.StaleEntries = append(report.StaleEntries, entry.RemotePath)
		}
	}

	report.EmptyDirs = emptyAfterRemovals(dirs, childCount, doomed)

	sort.Strings(report.OrphanPointers)
	sort.Strings(report.BrokenSymlinks)
	sort.Strings(report.StaleEntries)

	if dryRun {
		return report, nil
	}
	if err := r.apply(ctx, report); err != nil {
		return report, err
	}
	report.Executed = true
	return report, nil
}

// emptyAfterRemovals returns the directories that end up empty once the
// doomed files are gone, deepest-first so they can be removed in order.
func emptyAfterRemovals(dirs []string, childCount map[string]int, doomed map[string]struct{}) []string {
	for path := range doomed {
		childCount[filepath.Dir(path)]--
	}

	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})

	var empty []string
	for _, dir := range dirs {
		if childCount[dir] == 0 {
			empty = append(empty, dir)
			childCount[filepath.Dir(dir)]--
		}
	}
	return empty
}

func (r *Reconciler) apply(ctx context.Context, report *Report) error {
	for _, path := range report.OrphanPointers {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Str("path", path).Msg("cleanup: failed to remove orphan pointer")
		}
	}
	for _, path := range report.BrokenSymlinks {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Str("path", path).Msg("cleanup: failed to remove broken symlink")
		}
	}
	for _, remotePath := range report.StaleEntries {
		if err := r.cache.Delete(ctx, remotePath); err != nil {
			return err
		}
	}
	// EmptyDirs is already ordered deepest-first.
	for _, dir := range report.EmptyDirs {
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Str("path", dir).Msg("cleanup: failed to remove empty directory")
		}
	}

	log.Info().
		Int("orphanPointers", len(report.OrphanPointers)).
		Int("brokenSymlinks", len(report.BrokenSymlinks)).
		Int("staleEntries", len(report.StaleEntries)).
		Int("emptyDirs", len(report.EmptyDirs)).
		Msg("cleanup: reconciliation applied")
	return nil
}
