// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfonlyone/openlist2strm/internal/domain"
)

func testConfig() domain.QoSConfig {
	return domain.QoSConfig{
		QPS:            1000,
		MaxConcurrent:  2,
		ThreadingMode:  domain.ThreadingModeMulti,
		ThreadPoolSize: 4,
	}
}

func TestGovernorAcquireRelease(t *testing.T) {
	ctx := t.Context()
	g := New(testConfig())

	release1, err := g.Acquire(ctx)
	require.NoError(t, err)
	release2, err := g.Acquire(ctx)
	require.NoError(t, err)

	// Both slots held: a third acquire must block until one is released.
	acquired := make(chan struct{})
	go func() {
		release3, err := g.Acquire(ctx)
		if err == nil {
			release3()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should block while both slots are held")
	case <-time.After(50 * time.Millisecond):
	}

	release1()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("third acquire did not proceed after a release")
	}

	release2()
	assert.GreaterOrEqual(t, g.Stats().TotalAcquired, int64(3))
}

func TestGovernorReleaseIsIdempotent(t *testing.T) {
	g := New(testConfig())

	release, err := g.Acquire(t.Context())
	require.NoError(t, err)
	release()
	release() // double release must not free a second slot

	r1, err := g.Acquire(t.Context())
	require.NoError(t, err)
	defer r1()
	r2, err := g.Acquire(t.Context())
	require.NoError(t, err)
	defer r2()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGovernorSingleModeForcesOneSlot(t *testing.T) {
	cfg := testConfig()
	cfg.ThreadingMode = domain.ThreadingModeSingle
	g := New(cfg)

	assert.Equal(t, 1, g.WorkerLimit())

	release, err := g.Acquire(t.Context())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGovernorAcquireCancelled(t *testing.T) {
	g := New(testConfig())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGovernorUpdate(t *testing.T) {
	g := New(testConfig())

	next := domain.QoSConfig{
		QPS:            1,
		MaxConcurrent:  8,
		ThreadingMode:  domain.ThreadingModeMulti,
		ThreadPoolSize: 8,
	}
	g.Update(next)

	assert.Equal(t, next, g.Config())
	assert.Equal(t, 8, g.WorkerLimit())
	assert.Equal(t, float64(1), g.Stats().QPS)
}

func TestGovernorRateLimiting(t *testing.T) {
	cfg := testConfig()
	cfg.QPS = 50
	cfg.MaxConcurrent = 10
	g := New(cfg)

	ctx := t.Context()
	start := time.Now()
	for range 6 {
		release, err := g.Acquire(ctx)
		require.NoError(t, err)
		release()
	}
	// 6 permits at 50 QPS with burst 1 needs roughly 100ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
