// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes Prometheus counters for scan activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates scan counters. A nil Collector is a no-op so callers
// never need to branch on metrics being enabled.
type Collector struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	filesCreated prometheus.Counter
	filesUpdated prometheus.Counter
	filesDeleted prometheus.Counter
}

// NewCollector registers the scan metrics on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openlist2strm_scan_runs_total",
			Help: "Scan runs by terminal status.",
		}, []string{"status"}),
		filesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openlist2strm_files_created_total",
			Help: "Pointer files created across all runs.",
		}),
		filesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openlist2strm_files_updated_total",
			Help: "Pointer files updated across all runs.",
		}),
		filesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openlist2strm_files_deleted_total",
			Help: "Pointer files deleted across all runs.",
		}),
	}
	c.registry.MustRegister(c.runsTotal, c.filesCreated, c.filesUpdated, c.filesDeleted)
	return c
}

// ObserveRun records a finished run's terminal status and counters.
func (c *Collector) ObserveRun(status string, created, updated, deleted int) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(status).Inc()
	c.filesCreated.Add(float64(created))
	c.filesUpdated.Add(float64(updated))
	c.filesDeleted.Add(float64(deleted))
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
