// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scanner

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/zfonlyone/openlist2strm/internal/models"
	"github.com/zfonlyone/openlist2strm/internal/openlist"
	"github.com/zfonlyone/openlist2strm/internal/qos"
)

// remoteLister is the slice of the OpenList client the walker needs.
type remoteLister interface {
	ListChildren(ctx context.Context, remotePath string) ([]openlist.Entry, error)
}

// mediaMatcher decides which filenames get pointer files.
type mediaMatcher interface {
	IsMediaFile(name string) bool
}

// WalkEvents receives side-band notifications during a walk. Callbacks may be
// invoked from multiple workers concurrently.
type WalkEvents struct {
	// OnDirectory fires when a directory listing begins.
	OnDirectory func(remotePath string)
	// OnDirError fires when a directory listing fails; the subtree below it
	// is abandoned but siblings continue.
	OnDirError func(remotePath string, err error)
}

// Walker streams diff decisions for a remote subtree. One Walker is stateless
// across walks; all incremental state lives in the cache store.
type Walker struct {
	client remoteLister
	cache  *models.CacheStore
	match  mediaMatcher
	gov    *qos.Governor
}

// NewWalker wires the walker's collaborators.
func NewWalker(client remoteLister, cache *models.CacheStore, match mediaMatcher, gov *qos.Governor) *Walker {
	return &Walker{client: client, cache: cache, match: match, gov: gov}
}

// walkState is the shared bookkeeping of one Walk call.
type walkState struct {
	ctx     context.Context
	cancel  context.CancelFunc
	force   bool
	out     chan<- Decision
	events  WalkEvents
	spawn   *semaphore.Weighted // extra workers beyond the caller's goroutine
	wg      sync.WaitGroup
	fatalMu sync.Mutex
	fatal   error
}

// Walk traverses roots depth-first and sends one Decision per remote entry on
// out, closing it when the walk ends. Sibling directories may be processed in
// parallel up to the governor's worker limit; in single threading mode the
// traversal is fully serialized. A directory listing failure abandons that
// subtree only; ErrUnauthorized aborts the whole walk and is returned.
func (w *Walker) Walk(ctx context.Context, roots []string, force bool, out chan<- Decision, events WalkEvents) error {
	defer close(out)

	workers := w.gov.WorkerLimit()
	if workers < 1 {
		workers = 1
	}

	st := &walkState{
		force:  force,
		out:    out,
		events: events,
		spawn:  semaphore.NewWeighted(int64(workers - 1)),
	}
	st.ctx, st.cancel = context.WithCancel(ctx)
	defer st.cancel()

	for _, root := range roots {
		if st.ctx.Err() != nil {
			break
		}
		w.walkDir(st, normalizeRemotePath(root))
	}
	st.wg.Wait()

	st.fatalMu.Lock()
	defer st.fatalMu.Unlock()
	return st.fatal
}

// walkDir lists one directory, emits file decisions, computes directory-scoped
// deletions, then descends into subdirectories.
func (w *Walker) walkDir(st *walkState, dir string) {
	if st.ctx.Err() != nil {
		return
	}
	if st.events.OnDirectory != nil {
		st.events.OnDirectory(dir)
	}

	entries, err := w.client.ListChildren(st.ctx, dir)
	if err != nil {
		w.handleDirError(st, dir, err)
		return
	}

	known, err := w.cache.ListSubtree(st.ctx, dir)
	if err != nil {
		w.handleDirError(st, dir, err)
		return
	}

	observedFiles := make(map[string]struct{}, len(entries))
	observedDirs := make(map[string]struct{})
	var subdirs []string

	for _, entry := range entries {
		if st.ctx.Err() != nil {
			return
		}
		childPath := joinRemote(dir, entry.Name)
		if entry.IsDir {
			observedDirs[entry.Name] = struct{}{}
			subdirs = append(subdirs, childPath)
			continue
		}
		observedFiles[childPath] = struct{}{}
		w.emit(st, w.diffFile(st, childPath, entry))
	}

	// Remote removal detection, emitted only after the whole listing was
	// consumed (read-then-decide). Two cases: a cached file directly in this
	// directory that the listing no longer contains, and a cached file in a
	// subdirectory that is itself gone from the listing. Files under
	// still-present subdirectories are left for the recursion into them.
	for _, cached := range known {
		if cached.Parent == dir {
			if _, ok := observedFiles[cached.RemotePath]; ok {
				continue
			}
		} else {
			if _, ok := observedDirs[firstSegmentUnder(dir, cached.RemotePath)]; ok {
				continue
			}
		}
		w.emit(st, Decision{
			Op:          OpDelete,
			RemotePath:  cached.RemotePath,
			PointerPath: cached.LocalPointerPath,
		})
	}

	for _, sub := range subdirs {
		if st.ctx.Err() != nil {
			return
		}
		if st.spawn.TryAcquire(1) {
			st.wg.Add(1)
			go func(dir string) {
				defer st.wg.Done()
				defer st.spawn.Release(1)
				w.walkDir(st, dir)
			}(sub)
		} else {
			w.walkDir(st, sub)
		}
	}
}

// diffFile classifies one remote file against the cache.
func (w *Walker) diffFile(st *walkState, remotePath string, entry openlist.Entry) Decision {
	d := Decision{RemotePath: remotePath, Size: entry.Size, MTime: entry.Modified}

	if !w.match.IsMediaFile(entry.Name) {
		d.Op = OpSkip
		return d
	}

	cached, err := w.cache.Get(st.ctx, remotePath)
	if err != nil {
		// A cache read fault degrades to a rewrite; the upsert is atomic
		// either way.
		log.Warn().Err(err).Str("path", remotePath).Msg("walker: cache lookup failed")
		d.Op = OpUpdate
		return d
	}

	switch {
	case cached == nil:
		d.Op = OpCreate
	case !st.force && cached.Unchanged(entry.Size, entry.Modified):
		d.Op = OpSkip
	default:
		d.Op = OpUpdate
	}
	return d
}

func (w *Walker) emit(st *walkState, d Decision) {
	select {
	case st.out <- d:
	case <-st.ctx.Done():
	}
}

// handleDirError isolates failures to the failing subtree, except for
// authorization failures which invalidate every remaining call.
func (w *Walker) handleDirError(st *walkState, dir string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, openlist.ErrUnauthorized) {
		st.fatalMu.Lock()
		if st.fatal == nil {
			st.fatal = err
		}
		st.fatalMu.Unlock()
		st.cancel()
		return
	}
	log.Warn().Err(err).Str("dir", dir).Msg("walker: directory listing failed")
	if st.events.OnDirError != nil {
		st.events.OnDirError(dir, err)
	}
}

func normalizeRemotePath(p string) string {
	p = "/" + strings.Trim(strings.TrimSpace(p), "/")
	if p == "/" {
		return "/"
	}
	return p
}

func joinRemote(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// firstSegmentUnder returns the immediate child name of dir on the way to
// path, e.g. dir=/media, path=/media/shows/e1.mkv -> "shows".
func firstSegmentUnder(dir, path string) string {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	rest := strings.TrimPrefix(path, prefix)
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
