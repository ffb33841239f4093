// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zfonlyone/openlist2strm/internal/dbinterface"
	"github.com/zfonlyone/openlist2strm/internal/domain"
)

// EntryKind distinguishes files from directories in the cache.
type EntryKind string

const (
	EntryKindFile EntryKind = "file"
	EntryKindDir  EntryKind = "dir"
)

// CacheEntry is the last known remote metadata for a materialized path.
// An entry for a file exists iff its pointer file exists on disk; the writer
// upserts both together and the cleanup reconciler repairs any drift.
type CacheEntry struct {
	RemotePath       string             `json:"remotePath"`
	Parent           string             `json:"parent"`
	Kind             EntryKind          `json:"kind"`
	Size             int64              `json:"size"`
	RemoteMTime      time.Time          `json:"remoteMtime"`
	LocalPointerPath string             `json:"localPointerPath"`
	ContentMode      domain.ContentMode `json:"contentMode"`
	LastSeenAt       time.Time          `json:"lastSeenAt"`
}

// Unchanged reports whether the cached (size, mtime) tuple matches the remote
// metadata. This is the incremental short-circuit check.
func (e *CacheEntry) Unchanged(size int64, mtime time.Time) bool {
	return e.Size == size && e.RemoteMTime.Equal(mtime)
}

// CacheStats summarizes the cache for the settings/status API.
type CacheStats struct {
	TotalFiles int   `json:"totalFiles"`
	TotalDirs  int   `json:"totalDirs"`
	TotalSize  int64 `json:"totalSize"`
	TotalSTRM  int   `json:"totalStrm"`
}

// CacheStore handles database operations for cache entries.
type CacheStore struct {
	db dbinterface.Querier
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(db dbinterface.Querier) *CacheStore {
	return &CacheStore{db: db}
}

// ParentDir returns the remote directory a remote path lives in, with the
// root's parent being "/". Remote paths always use forward slashes.
func ParentDir(remotePath string) string {
	idx := strings.LastIndex(remotePath, "/")
	if idx <= 0 {
		return "/"
	}
	return remotePath[:idx]
}

// Get returns the entry for a remote path, or nil when absent.
func (s *CacheStore) Get(ctx context.Context, remotePath string) (*CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT remote_path, parent, kind, size, remote_mtime, local_pointer_path, content_mode, last_seen_at
		FROM cache_entries
		WHERE remote_path = ?
	`, remotePath)

	entry, err := scanCacheEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Upsert inserts or replaces the entry for entry.RemotePath in a single
// statement. Last writer wins at remote_path granularity.
func (s *CacheStore) Upsert(ctx context.Context, entry *CacheEntry) error {
	if entry.Parent == "" {
		entry.Parent = ParentDir(entry.RemotePath)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (remote_path, parent, kind, size, remote_mtime, local_pointer_path, content_mode, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (remote_path) DO UPDATE SET
			parent = excluded.parent,
			kind = excluded.kind,
			size = excluded.size,
			remote_mtime = excluded.remote_mtime,
			local_pointer_path = excluded.local_pointer_path,
			content_mode = excluded.content_mode,
			last_seen_at = CURRENT_TIMESTAMP
	`, entry.RemotePath, entry.Parent, string(entry.Kind), entry.Size, entry.RemoteMTime,
		entry.LocalPointerPath, string(entry.ContentMode))
	if err != nil {
		return fmt.Errorf("upsert cache entry %s: %w", entry.RemotePath, err)
	}
	return nil
}

// Delete removes the entry for a remote path. Deleting an absent entry is not
// an error.
func (s *CacheStore) Delete(ctx context.Context, remotePath string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE remote_path = ?`, remotePath); err != nil {
		return fmt.Errorf("delete cache entry %s: %w", remotePath, err)
	}
	return nil
}

// ListSubtree returns the cached file entries living under dir (directly or
// at any depth). The walker diffs this against fresh listings to detect
// remote deletions at directory granularity, so partial scans never touch
// entries outside their scope.
func (s *CacheStore) ListSubtree(ctx context.Context, dir string) ([]*CacheEntry, error) {
	likePrefix := dir
	if likePrefix != "/" {
		likePrefix += "/"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote_path, parent, kind, size, remote_mtime, local_pointer_path, content_mode, last_seen_at
		FROM cache_entries
		WHERE kind = 'file' AND (parent = ? OR parent LIKE ? ESCAPE '\')
	`, dir, escapeLike(likePrefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("list cache entries under %s: %w", dir, err)
	}
	defer rows.Close()

	return collectCacheEntries(rows)
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

// GetByPointerPath returns the entry whose pointer file lives at localPath,
// or nil when no entry claims it.
func (s *CacheStore) GetByPointerPath(ctx context.Context, localPath string) (*CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT remote_path, parent, kind, size, remote_mtime, local_pointer_path, content_mode, last_seen_at
		FROM cache_entries
		WHERE local_pointer_path = ?
		LIMIT 1
	`, localPath)

	entry, err := scanCacheEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListAll returns every file entry, used by the cleanup reconciler to find
// cache entries whose pointer file has gone missing.
func (s *CacheStore) ListAll(ctx context.Context) ([]*CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote_path, parent, kind, size, remote_mtime, local_pointer_path, content_mode, last_seen_at
		FROM cache_entries
		WHERE kind = 'file'
		ORDER BY remote_path
	`)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	return collectCacheEntries(rows)
}

// Stats returns aggregate cache counters.
func (s *CacheStore) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN kind = 'file' THEN 1 END),
			COUNT(CASE WHEN kind = 'dir' THEN 1 END),
			COALESCE(SUM(CASE WHEN kind = 'file' THEN size END), 0),
			COUNT(CASE WHEN local_pointer_path != '' THEN 1 END)
		FROM cache_entries
	`)
	if err := row.Scan(&stats.TotalFiles, &stats.TotalDirs, &stats.TotalSize, &stats.TotalSTRM); err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

func scanCacheEntry(scan func(dest ...any) error) (*CacheEntry, error) {
	var (
		entry CacheEntry
		kind  string
		mode  string
		mtime sql.NullTime
	)
	err := scan(
		&entry.RemotePath,
		&entry.Parent,
		&kind,
		&entry.Size,
		&mtime,
		&entry.LocalPointerPath,
		&mode,
		&entry.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Kind = EntryKind(kind)
	entry.ContentMode = domain.ContentMode(mode)
	if mtime.Valid {
		entry.RemoteMTime = mtime.Time
	}
	return &entry, nil
}

func collectCacheEntries(rows *sql.Rows) ([]*CacheEntry, error) {
	var entries []*CacheEntry
	for rows.Next() {
		entry, err := scanCacheEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
