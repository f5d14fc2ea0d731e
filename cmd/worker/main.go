package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/tresoria-erp/tresoria/internal/app"
	"github.com/tresoria-erp/tresoria/internal/closing"
	"github.com/tresoria-erp/tresoria/internal/denomination"
	"github.com/tresoria-erp/tresoria/internal/ledger"
	"github.com/tresoria-erp/tresoria/internal/platform/cache"
	"github.com/tresoria-erp/tresoria/internal/platform/db"
	"github.com/tresoria-erp/tresoria/internal/proof"
	"github.com/tresoria-erp/tresoria/internal/shared"
	"github.com/tresoria-erp/tresoria/jobs"
	"github.com/tresoria-erp/tresoria/report"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, continuing degraded", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	ledgerClient := ledger.NewClient(cfg.LedgerBaseURL)
	balanceService := ledger.NewService(ledgerClient, redisClient, logger, cfg.BalanceTTL)

	denominationRepo := denomination.NewRepository(pool)
	denominationService := denomination.NewService(denominationRepo, redisClient, logger)

	closingRepo := closing.NewRepository(pool)
	closingService := closing.NewService(closingRepo, balanceService, denominationService, idempotencyStore, auditLogger, nil, logger)

	pdfClient := report.NewClient(cfg.GotenbergURL)
	generator := proof.NewGenerator(pdfClient)
	archiver := jobs.NewProofArchiver(closingService, generator, logger)
	cleaner := jobs.NewIdempotencyCleaner(idempotencyStore, logger)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskProofArchive, Handler: archiver.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleaner.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
