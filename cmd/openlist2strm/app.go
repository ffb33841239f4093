// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zfonlyone/openlist2strm/internal/cleanup"
	"github.com/zfonlyone/openlist2strm/internal/config"
	"github.com/zfonlyone/openlist2strm/internal/database"
	"github.com/zfonlyone/openlist2strm/internal/domain"
	"github.com/zfonlyone/openlist2strm/internal/emby"
	"github.com/zfonlyone/openlist2strm/internal/metrics"
	"github.com/zfonlyone/openlist2strm/internal/models"
	"github.com/zfonlyone/openlist2strm/internal/openlist"
	"github.com/zfonlyone/openlist2strm/internal/qos"
	"github.com/zfonlyone/openlist2strm/internal/scanner"
	"github.com/zfonlyone/openlist2strm/internal/scheduler"
	"github.com/zfonlyone/openlist2strm/internal/strm"
)

// app holds the wired service graph shared by the serve, scan and cleanup
// commands.
type app struct {
	cfg *config.AppConfig
	db  *database.DB

	cache *models.CacheStore
	tasks *models.TaskStore
	runs  *models.ScanRunStore

	governor   *qos.Governor
	client     *openlist.Client
	generator  *strm.Generator
	embyClient *emby.Client
	collector  *metrics.Collector
	scans      *scanner.Service
	sched      *scheduler.Service
	reconciler *cleanup.Reconciler
}

func buildApp(configPath string) (*app, error) {
	appCfg, err := config.New(configPath)
	if err != nil {
		return nil, err
	}
	cfg := appCfg.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Version = version

	setupLogger(cfg, appCfg.GetLogPath())

	db, err := database.New(appCfg.GetDatabasePath())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: appCfg, db: db}
	a.cache = models.NewCacheStore(db)
	a.tasks = models.NewTaskStore(db)
	a.runs = models.NewScanRunStore(db)

	a.governor = qos.New(cfg.QoS)
	a.client = openlist.NewClient(cfg.OpenList, a.governor)
	a.generator = strm.NewGenerator(cfg.STRM, cfg.OpenList.Host, a.cache)
	a.embyClient = emby.NewClient(cfg.Emby)
	a.collector = metrics.NewCollector()

	walker := scanner.NewWalker(a.client, a.cache, a.generator, a.governor)
	a.scans = scanner.NewService(walker, a.generator, a.runs, a.embyClient, a.collector,
		cfg.OpenList.SourceFolders, cfg.Schedule.HistoryLimit)

	tick := time.Duration(cfg.Schedule.TickSeconds) * time.Second
	a.sched = scheduler.NewService(a.tasks, scheduler.NewScannerLauncher(a.scans), tick, cfg.Schedule.RunOnStartup)

	a.reconciler = cleanup.NewReconciler(a.cache, cfg.STRM.OutputPath)

	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
}

func setupLogger(cfg *domain.Config, logPath string) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}
	if logPath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
		})
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}
