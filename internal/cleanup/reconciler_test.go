// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleanup_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfonlyone/openlist2strm/internal/cleanup"
	"github.com/zfonlyone/openlist2strm/internal/database"
	"github.com/zfonlyone/openlist2strm/internal/domain"
	"github.com/zfonlyone/openlist2strm/internal/models"
)

type fixture struct {
	cache *models.CacheStore
	rec   *cleanup.Reconciler
	root  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	root := t.TempDir()
	cache := models.NewCacheStore(db)
	return &fixture{cache: cache, rec: cleanup.NewReconciler(cache, root), root: root}
}

// addTracked writes a pointer file and its matching cache row.
func (f *fixture) addTracked(t *testing.T, remotePath string, rel ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{f.root}, rel...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(remotePath+"\n"), 0o644))
	require.NoError(t, f.cache.Upsert(t.Context(), &models.CacheEntry{
		RemotePath:       remotePath,
		Kind:             models.EntryKindFile,
		Size:             1,
		RemoteMTime:      time.Now().UTC(),
		LocalPointerPath: path,
		ContentMode:      domain.ContentModePath,
	}))
	return path
}

func (f *fixture) writeFile(t *testing.T, rel ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{f.root}, rel...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestPreviewFindsOrphansAndStaleEntries(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	tracked := f.addTracked(t, "/media/movies/a.mkv", "media", "movies", "a.strm")
	orphan := f.writeFile(t, "media", "movies", "orphan.strm")
	notPointer := f.writeFile(t, "media", "movies", "cover.jpg")

	// Cache row whose pointer file is gone.
	require.NoError(t, f.cache.Upsert(ctx, &models.CacheEntry{
		RemotePath:       "/media/movies/vanished.mkv",
		Kind:             models.EntryKindFile,
		Size:             1,
		RemoteMTime:      time.Now().UTC(),
		LocalPointerPath: filepath.Join(f.root, "media", "movies", "vanished.strm"),
		ContentMode:      domain.ContentModePath,
	}))

	report, err := f.rec.Preview(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{orphan}, report.OrphanPointers)
	assert.Equal(t, []string{"/media/movies/vanished.mkv"}, report.StaleEntries)
	assert.Empty(t, report.BrokenSymlinks)
	assert.Empty(t, report.EmptyDirs)
	assert.False(t, report.Executed)
	assert.Equal(t, 2, report.Total())

	// Preview touches nothing.
	_, err = os.Stat(orphan)
	assert.NoError(t, err)
	_, err = os.Stat(tracked)
	assert.NoError(t, err)
	_, err = os.Stat(notPointer)
	assert.NoError(t, err)
}

func TestExecuteRemovesOrphansAndEmptyDirs(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	kept := f.addTracked(t, "/media/movies/a.mkv", "media", "movies", "a.strm")
	orphan := f.writeFile(t, "media", "shows", "s1", "orphan.strm")

	report, err := f.rec.Execute(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Executed)
	assert.Equal(t, []string{orphan}, report.OrphanPointers)
	assert.Equal(t, []string{
		filepath.Join(f.root, "media", "shows", "s1"),
		filepath.Join(f.root, "media", "shows"),
	}, report.EmptyDirs, "emptied directories fold bottom-up")

	_, err = os.Stat(orphan)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(f.root, "media", "shows"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(kept)
	assert.NoError(t, err, "tracked pointers survive")
	_, err = os.Stat(f.root)
	assert.NoError(t, err, "the output root is never removed")
}

func TestExecuteDryRun(t *testing.T) {
	f := newFixture(t)
	orphan := f.writeFile(t, "orphan.strm")

	report, err := f.rec.Execute(t.Context(), true)
	require.NoError(t, err)
	assert.False(t, report.Executed)
	assert.Equal(t, []string{orphan}, report.OrphanPointers)

	_, err = os.Stat(orphan)
	assert.NoError(t, err)
}

func TestExecuteDropsStaleCacheRows(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	require.NoError(t, f.cache.Upsert(ctx, &models.CacheEntry{
		RemotePath:       "/media/gone.mkv",
		Kind:             models.EntryKindFile,
		Size:             1,
		RemoteMTime:      time.Now().UTC(),
		LocalPointerPath: filepath.Join(f.root, "gone.strm"),
		ContentMode:      domain.ContentModePath,
	}))

	report, err := f.rec.Execute(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/gone.mkv"}, report.StaleEntries)

	entry, err := f.cache.Get(ctx, "/media/gone.mkv")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestBrokenSymlinks(t *testing.T) {
	f := newFixture(t)

	target := f.writeFile(t, "media", "real.mkv")
	good := filepath.Join(f.root, "media", "good.mkv")
	require.NoError(t, os.Symlink(target, good))
	broken := filepath.Join(f.root, "media", "broken.mkv")
	require.NoError(t, os.Symlink(filepath.Join(f.root, "media", "missing.mkv"), broken))

	report, err := f.rec.Execute(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{broken}, report.BrokenSymlinks)

	_, err = os.Lstat(broken)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Lstat(good)
	assert.NoError(t, err)
}

func TestMissingOutputRoot(t *testing.T) {
	f := newFixture(t)
	rec := cleanup.NewReconciler(f.cache, filepath.Join(f.root, "does-not-exist"))

	report, err := rec.Preview(t.Context())
	require.NoError(t, err)
	assert.Zero(t, report.Total())
}
