// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zfonlyone/openlist2strm/internal/api"
)

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scan engine with its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	a, err := buildApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.scans.Start(runCtx)
	a.sched.Start(runCtx)

	server := api.NewServer(api.Deps{
		AppConfig:  a.cfg,
		DB:         a.db,
		Scans:      a.scans,
		Runs:       a.runs,
		Cache:      a.cache,
		Scheduler:  a.sched,
		Reconciler: a.reconciler,
		Governor:   a.governor,
		Emby:       a.embyClient,
		Collector:  a.collector,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	a.sched.Stop()
	cancel() // stops any in-flight scan

	return nil
}
