package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/obralink/obralink/internal/app"
	"github.com/obralink/obralink/internal/inventory"
	"github.com/obralink/obralink/internal/masterdata/suppliers"
	"github.com/obralink/obralink/internal/platform/cache"
	"github.com/obralink/obralink/internal/platform/db"
	"github.com/obralink/obralink/internal/procurement"
	"github.com/obralink/obralink/internal/shared"
	"github.com/obralink/obralink/jobs"
)

type supplierPort struct {
	service *suppliers.Service
}

func (p supplierPort) Get(ctx context.Context, id int64) (suppliers.Supplier, error) {
	return p.service.Get(ctx, id)
}

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
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	boardCache := procurement.NewCache(redisClient, cfg.CacheTTL)

	supplierService := suppliers.NewService(suppliers.NewRepository(pool))
	inventoryRepo := inventory.NewRepository(pool)

	procurementRepo := procurement.NewRepository(pool, inventoryRepo)
	procurementService := procurement.NewService(
		procurementRepo,
		supplierPort{service: supplierService},
		auditLogger,
		nil,
		boardCache,
		idempotencyStore,
		procurement.ServiceConfig{CancelReturnStatus: procurement.RequestStatus(cfg.OrderCancelReturnStatus)},
	)

	lotSweeper := jobs.NewLotSweeper(procurementService, logger, cfg.LotStaleAge)
	boardWarmer := jobs.NewBoardWarmer(procurementService, logger)
	idempotencyCleaner := jobs.NewIdempotencyCleaner(idempotencyStore, logger, cfg.IdempotencyTTL)

	sweepTask, err := jobs.NewLotSweepTask(0)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewBoardWarmupTask()
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(0)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLotSweep, Handler: lotSweeper.Handle},
			{Type: jobs.TaskBoardWarmup, Handler: boardWarmer.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: idempotencyCleaner.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 1 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "15 1 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
