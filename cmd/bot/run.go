package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"integration-report-bot/internal/telegram"
)

const shutdownTimeout = 30 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll Telegram for commands and run the scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), opts)
		},
	}
}

func runBot(ctx context.Context, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, logger := a.cfg, a.logger

	// The bot still answers access and admin commands while SQL Server is down
	if err := a.client.Ping(ctx); err != nil {
		logger.Warn("integration database unreachable at startup", "error", err)
	}

	api, err := telegram.NewAPI(cfg.Telegram)
	if err != nil {
		return err
	}
	sender := telegram.NewSender(api, logger)

	if err := a.registerJobs(sender); err != nil {
		return err
	}

	access := telegram.NewAccessControl(cfg.Telegram.AdminUserIDs, a.authz, logger)
	registry := telegram.NewRegistry()

	handler := telegram.NewHandler(telegram.HandlerDeps{
		Access:        access,
		Authz:         a.authz,
		BotState:      a.settings,
		Subscriptions: a.subscribers,
		Jobs:          a.scheduler,
		Reports:       a.reports,
		Procedures:    a.client,
		Renderer:      a.renderer,
		Messenger:     sender,
		TempDir:       cfg.Report.TempDir,
		Logger:        logger,
	})
	if err := handler.RegisterAll(registry); err != nil {
		return err
	}

	dispatcher := telegram.NewDispatcher(registry, access, a.settings, sender, telegram.DispatcherConfig{
		MaintenanceMessage:  cfg.Bot.MaintenanceMessage,
		UnauthorizedMessage: cfg.Bot.UnauthorizedMessage,
		StaleAfter:          cfg.Bot.StaleAfter,
		BotUsername:         api.Self.UserName,
	}, logger)

	bot := telegram.NewBot(api, dispatcher, cfg.Telegram, logger)

	a.scheduler.Start(ctx)

	logger.Info("integration report bot started",
		"username", bot.Username(),
		"admins", len(cfg.Telegram.AdminUserIDs),
		"subscribers", a.subscribers.Count(),
	)

	runErr := bot.Run(ctx)
	logger.Info("shutting down", "reason", runErr)

	// Running jobs see the cancelled context; give them time to clean up
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown timeout exceeded, forcing exit", "error", err)
	} else {
		logger.Info("graceful shutdown complete")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
