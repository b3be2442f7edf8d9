package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"integration-report-bot/internal/authz"
	"integration-report-bot/internal/config"
	"integration-report-bot/internal/integration"
	"integration-report-bot/internal/jobs"
	"integration-report-bot/internal/logging"
	"integration-report-bot/internal/messenger"
	"integration-report-bot/internal/report"
	"integration-report-bot/internal/scheduler"
	"integration-report-bot/internal/settings"
	"integration-report-bot/internal/sqlitedb"
	"integration-report-bot/internal/subscribers"
)

// app holds the components shared by every subcommand
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *sql.DB
	authz       *authz.SQLiteStore
	settings    *settings.SQLiteStore
	subscribers *subscribers.Service

	client    *integration.Client
	renderer  *report.Renderer
	reports   *jobs.ReportBuilder
	scheduler *scheduler.Scheduler
}

func newApp(ctx context.Context, opts *rootOptions) (a *app, err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = sqlitedb.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}

	if a.authz, err = authz.NewSQLiteStore(a.db); err != nil {
		return nil, err
	}
	if a.settings, err = settings.NewSQLiteStore(a.db); err != nil {
		return nil, err
	}

	subStore, err := subscribers.NewSQLiteStore(a.db)
	if err != nil {
		return nil, err
	}
	a.subscribers = subscribers.NewService(subStore, logger)
	if err := a.subscribers.Reload(ctx); err != nil {
		return nil, err
	}

	a.client, err = integration.NewClient(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	a.renderer, err = report.NewRenderer(time.Local)
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	a.reports = jobs.NewReportBuilder(a.client, a.renderer, cfg.Report)
	a.scheduler = scheduler.New(a.settings, logger)

	return a, nil
}

// registerJobs adds the scheduled jobs, broadcasting through m
func (a *app) registerJobs(m messenger.Messenger) error {
	broadcaster := jobs.NewBroadcaster(m, a.subscribers, a.cfg.Jobs.BroadcastConcurrency, a.logger)

	return jobs.Register(a.scheduler, a.cfg.Jobs,
		jobs.NewReportJob(a.reports, broadcaster, a.logger),
		jobs.NewArchiveJob(a.client, a.renderer, broadcaster, a.logger),
		jobs.NewMonitoringJob(a.client, a.renderer, broadcaster, a.logger),
	)
}

func (a *app) Close() {
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn("failed to close integration database", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close sqlite database", "error", err)
		}
	}
}
