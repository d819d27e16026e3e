package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/api"
	"github.com/lalithlochan/autopilot/internal/app"
	"github.com/lalithlochan/autopilot/internal/config"
	"github.com/lalithlochan/autopilot/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting autopilot gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("ai_enabled", cfg.AIEnabled),
	)

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.CronSecret == "" {
		logger.Warn("CRON_SECRET not set, cron endpoints are locked")
	}

	// In-process draining is optional; the cron endpoint is the default trigger.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.OutboxPollInterval > 0 {
		go a.Processor.Start(workerCtx)
		logger.Info("background outbox processor started", zap.Duration("interval", cfg.OutboxPollInterval))
	}

	r := api.NewRouter(a.Handler(), api.RouterConfig{
		CronSecret: cfg.CronSecret,
		Limiter:    a.APILimiter,
		RateLimit:  cfg.APIRateLimit,
		Health:     a.Health,
	}, logger)

	// Setup HTTP server. Automation ticks can take a while, so writes get
	// more room than the router timeout.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		workerCancel()

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
