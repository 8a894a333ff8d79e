package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pizza-pantry/pizza-pantry/internal/account"
	"github.com/pizza-pantry/pizza-pantry/internal/app"
	"github.com/pizza-pantry/pizza-pantry/internal/auth"
	"github.com/pizza-pantry/pizza-pantry/internal/inventory"
	"github.com/pizza-pantry/pizza-pantry/internal/observability"
	"github.com/pizza-pantry/pizza-pantry/internal/platform/cache"
	"github.com/pizza-pantry/pizza-pantry/internal/platform/ratelimit"
	"github.com/pizza-pantry/pizza-pantry/internal/preferences"
	"github.com/pizza-pantry/pizza-pantry/internal/querycache"
	"github.com/pizza-pantry/pizza-pantry/internal/shared"
	"github.com/pizza-pantry/pizza-pantry/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if redisClient == nil {
		logger.Error("redis config", slog.Any("error", err))
		os.Exit(1)
	}
	if err != nil {
		// Reads bypass the cache and idempotency claims degrade until Redis is back.
		logger.Warn("redis ping", slog.Any("error", err))
	}
	redisOpts := redisClient.Options()
	queueOpts := asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	queryCache := querycache.New(redisClient, cfg.CacheTTL, logger)
	if err := queryCache.ListenForInvalidation(ctx, querycache.BumpChannel); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	deps := inventory.Dependencies{
		Idempotency: shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL),
		Cache:       queryCache,
		Observer:    metrics.Ledger(),
		Logger:      logger,
	}
	var purgeScheduler account.PurgeScheduler
	if cfg.WorkerEnabled {
		jobClient := jobs.NewClient(queueOpts, logger)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		deps.Scheduler = jobClient
		purgeScheduler = jobClient
	}

	inventoryService := inventory.NewService(storage.Items, storage.Adjustments, deps, inventory.ServiceConfig{
		StorageTimeout:  cfg.StorageTimeout,
		MaxReasonLength: cfg.LedgerMaxReasonLength,
		HistoryLimit:    cfg.LedgerHistoryLimit,
	})
	preferencesService := preferences.NewService(storage.Preferences, logger)
	accountService := account.NewService(inventoryService, preferencesService, purgeScheduler, logger)

	verifier, err := auth.NewVerifier(cfg.ClerkJWTKey, cfg.ClerkAuthorizedParties)
	if err != nil {
		logger.Error("init session verifier", slog.Any("error", err))
		os.Exit(1)
	}
	revocations := auth.NewRevocationList(redisClient, cfg.SessionRevocationTTL)
	webhookHandler, err := auth.NewWebhookHandler(cfg.ClerkWebhookSecret, accountService, revocations, logger)
	if err != nil {
		logger.Error("init webhook handler", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.ClerkWebhookSecret == "" {
		logger.Warn("CLERK_WEBHOOK_SECRET not set, webhooks will be rejected")
	}

	inspector := asynq.NewInspector(queueOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Auth:               auth.NewMiddleware(verifier, revocations, logger),
		SessionHandler:     auth.NewHandler(logger),
		UserHandler:        account.NewHandler(inventoryService, logger),
		WebhookHandler:     webhookHandler,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, time.Second),
		PreferencesHandler: preferences.NewHandler(preferencesService, logger),
		JobHandler:         jobs.NewHandler(inspector, logger),
		UserLimiter:        ratelimit.New(cfg.UserRateLimitPerMin, 0, 0),
		Database:           storage,
		Cache: app.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
		Metrics: metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("storage", storage.Driver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
