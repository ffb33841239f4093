// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesSchemaAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	db, err := New(path)
	require.NoError(t, err, "missing parent directories are created")

	ctx := t.Context()
	for _, table := range []string{"cache_entries", "tasks", "scan_runs"} {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist after migration", table)
	}

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Positive(t, applied)
	require.NoError(t, db.Close())

	// Reopening the same file replays nothing.
	db, err = New(path)
	require.NoError(t, err)
	var again int
	require.NoError(t, db.QueryRowContext(t.Context(), `SELECT COUNT(*) FROM schema_migrations`).Scan(&again))
	assert.Equal(t, applied, again)
	require.NoError(t, db.Close())
}

func TestMigrationVersion(t *testing.T) {
	v, err := migrationVersion("migrations/0001_init.sql")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = migrationVersion("migrations/init.sql")
	require.Error(t, err)
}
