package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pizza-pantry/pizza-pantry/internal/account"
	"github.com/pizza-pantry/pizza-pantry/internal/app"
	"github.com/pizza-pantry/pizza-pantry/internal/inventory"
	"github.com/pizza-pantry/pizza-pantry/internal/observability"
	"github.com/pizza-pantry/pizza-pantry/internal/platform/cache"
	"github.com/pizza-pantry/pizza-pantry/internal/preferences"
	"github.com/pizza-pantry/pizza-pantry/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	storage, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer storage.Close()

	metrics := observability.NewMetrics()

	// Repairs run without the query cache; the API instances bump their own
	// versions on the next mutation and entries expire after CACHE_TTL.
	inventoryService := inventory.NewService(storage.Items, storage.Adjustments, inventory.Dependencies{
		Observer: metrics.Ledger(),
		Logger:   logger,
	}, inventory.ServiceConfig{
		StorageTimeout:  cfg.StorageTimeout,
		MaxReasonLength: cfg.LedgerMaxReasonLength,
		HistoryLimit:    cfg.LedgerHistoryLimit,
	})
	preferencesService := preferences.NewService(storage.Preferences, logger)
	accountService := account.NewService(inventoryService, preferencesService, nil, logger)

	ledgerHandlers := jobs.NewLedgerHandlers(inventoryService, accountService, metrics.Jobs(), logger)

	redisOpts, err := cache.Options(cfg.RedisAddr)
	if err != nil {
		logger.Error("redis config", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    ledgerHandlers.TaskHandlers(),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency), slog.String("storage", storage.Driver))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
