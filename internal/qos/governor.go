// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qos implements the shared request budget for all OpenList calls:
// a continuously refilling token bucket plus a bounded concurrency gate.
package qos

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/zfonlyone/openlist2strm/internal/domain"
)

// Governor applies backpressure to every remote listing call. Acquire blocks
// until both the rate limiter and a concurrency slot admit the request; it is
// the only suspension point for remote I/O.
type Governor struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	slots   *semaphore.Weighted
	cfg     domain.QoSConfig

	acquired atomic.Int64
	waiting  atomic.Int64
}

// Stats is a point-in-time snapshot for the settings/status API.
type Stats struct {
	QPS           float64 `json:"qps"`
	MaxConcurrent int     `json:"maxConcurrent"`
	TotalAcquired int64   `json:"totalAcquired"`
	Waiting       int64   `json:"waiting"`
}

// New builds a governor from config. In single threading mode the concurrency
// gate is forced to one slot regardless of maxConcurrent.
func New(cfg domain.QoSConfig) *Governor {
	g := &Governor{}
	g.apply(cfg)
	return g
}

func (g *Governor) apply(cfg domain.QoSConfig) {
	concurrent := cfg.MaxConcurrent
	if cfg.ThreadingMode == domain.ThreadingModeSingle {
		concurrent = 1
	}
	g.cfg = cfg
	g.limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	g.slots = semaphore.NewWeighted(int64(concurrent))
}

// Acquire blocks until a request may proceed, returning the release func for
// the concurrency slot. On cancellation it returns ctx's error and no permit.
func (g *Governor) Acquire(ctx context.Context) (func(), error) {
	g.waiting.Add(1)
	defer g.waiting.Add(-1)

	g.mu.RLock()
	limiter, slots := g.limiter, g.slots
	g.mu.RUnlock()

	if err := slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := limiter.Wait(ctx); err != nil {
		slots.Release(1)
		return nil, err
	}

	g.acquired.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { slots.Release(1) })
	}, nil
}

// Update swaps in new limits. In-flight permits keep the slots they hold; new
// acquires see the new budget.
func (g *Governor) Update(cfg domain.QoSConfig) {
	g.mu.Lock()
	g.apply(cfg)
	g.mu.Unlock()
	log.Info().
		Float64("qps", cfg.QPS).
		Int("maxConcurrent", cfg.MaxConcurrent).
		Str("threadingMode", string(cfg.ThreadingMode)).
		Msg("qos: limits updated")
}

// Config returns the active configuration.
func (g *Governor) Config() domain.QoSConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// WorkerLimit returns how many directory workers a walk may run.
func (g *Governor) WorkerLimit() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.cfg.ThreadingMode == domain.ThreadingModeSingle {
		return 1
	}
	return g.cfg.ThreadPoolSize
}

// Stats returns a snapshot of governor counters.
func (g *Governor) Stats() Stats {
	g.mu.RLock()
	cfg := g.cfg
	g.mu.RUnlock()
	return Stats{
		QPS:           cfg.QPS,
		MaxConcurrent: cfg.MaxConcurrent,
		TotalAcquired: g.acquired.Load(),
		Waiting:       g.waiting.Load(),
	}
}
