// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api serves the HTTP control surface: scan triggering, task
// management, cleanup, settings and health probes.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/api/handlers"
	"github.com/zfonlyone/openlist2strm/internal/api/middleware"
	"github.com/zfonlyone/openlist2strm/internal/cleanup"
	"github.com/zfonlyone/openlist2strm/internal/config"
	"github.com/zfonlyone/openlist2strm/internal/dbinterface"
	"github.com/zfonlyone/openlist2strm/internal/emby"
	"github.com/zfonlyone/openlist2strm/internal/metrics"
	"github.com/zfonlyone/openlist2strm/internal/models"
	"github.com/zfonlyone/openlist2strm/internal/qos"
	"github.com/zfonlyone/openlist2strm/internal/scanner"
	"github.com/zfonlyone/openlist2strm/internal/scheduler"
)

// Deps are the services the HTTP layer fronts.
type Deps struct {
	AppConfig  *config.AppConfig
	DB         dbinterface.Querier
	Scans      *scanner.Service
	Runs       *models.ScanRunStore
	Cache      *models.CacheStore
	Scheduler  *scheduler.Service
	Reconciler *cleanup.Reconciler
	Governor   *qos.Governor
	Emby       *emby.Client
	Collector  *metrics.Collector
}

// Server is the HTTP API server.
type Server struct {
	deps       Deps
	httpServer *http.Server
}

// NewServer creates the HTTP server bound to the configured host and port.
func NewServer(deps Deps) *Server {
	cfg := deps.AppConfig.Config
	s := &Server{deps: deps}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler assembles the router. Exposed for tests.
func (s *Server) Handler() http.Handler {
	cfg := s.deps.AppConfig.Config

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)

	healthHandler := handlers.NewHealthHandler(s.deps.DB)
	scanHandler := handlers.NewScanHandler(s.deps.Scans, s.deps.Runs)
	taskHandler := handlers.NewTaskHandler(s.deps.Scheduler)
	cleanupHandler := handlers.NewCleanupHandler(s.deps.Reconciler)
	settingsHandler := handlers.NewSettingsHandler(s.deps.AppConfig, s.deps.Governor, s.deps.Emby)
	cacheHandler := handlers.NewCacheHandler(s.deps.Cache)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health/liveness", healthHandler.Liveness)
		r.Get("/health/readiness", healthHandler.Readiness)

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyFromQuery("apikey"))
			r.Use(middleware.RequireToken(cfg.APIToken))

			r.Route("/scans", func(r chi.Router) {
				r.Post("/", scanHandler.Trigger)
				r.Get("/", scanHandler.History)
				r.Get("/active", scanHandler.Progress)
				r.Get("/{runID}", scanHandler.GetRun)
				r.Post("/{runID}/cancel", scanHandler.Cancel)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", taskHandler.List)
				r.Post("/", taskHandler.Create)
				r.Route("/{taskID}", func(r chi.Router) {
					r.Get("/", taskHandler.Get)
					r.Put("/", taskHandler.Update)
					r.Delete("/", taskHandler.Delete)
					r.Post("/enable", taskHandler.Enable)
					r.Post("/disable", taskHandler.Disable)
					r.Post("/pause", taskHandler.Pause)
					r.Post("/resume", taskHandler.Resume)
					r.Post("/run", taskHandler.RunNow)
				})
			})

			r.Route("/cleanup", func(r chi.Router) {
				r.Get("/preview", cleanupHandler.Preview)
				r.Post("/execute", cleanupHandler.Execute)
			})

			r.Route("/settings", func(r chi.Router) {
				r.Get("/", settingsHandler.Get)
				r.Patch("/qos", settingsHandler.UpdateQoS)
				r.Patch("/strm", settingsHandler.UpdateSTRM)
			})

			r.Get("/cache/stats", cacheHandler.Stats)
			r.Post("/emby/test", settingsHandler.TestEmby)
		})
	})

	if cfg.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", s.deps.Collector.Handler())
	}

	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		outer := chi.NewRouter()
		outer.Mount(base, r)
		return outer
	}
	return r
}

// Start runs the server until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("api: listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
