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

	"github.com/obralink/obralink/internal/app"
	"github.com/obralink/obralink/internal/inventory"
	"github.com/obralink/obralink/internal/masterdata/suppliers"
	"github.com/obralink/obralink/internal/observability"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	metrics := observability.NewMetrics()

	bus := procurement.NewBus()
	events := procurement.NewBusSubscription(bus, logger, metrics)
	events.Start(ctx)

	boardCache := procurement.NewCache(redisClient, cfg.CacheTTL)
	if err := boardCache.ListenForInvalidation(ctx, ""); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	supplierRepo := suppliers.NewRepository(pool)
	supplierService := suppliers.NewService(supplierRepo)
	supplierHandler := suppliers.NewHandler(logger, supplierService)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	procurementRepo := procurement.NewRepository(pool, inventoryRepo)
	procurementService := procurement.NewService(
		procurementRepo,
		supplierPort{service: supplierService},
		auditLogger,
		bus,
		boardCache,
		idempotencyStore,
		procurement.ServiceConfig{CancelReturnStatus: procurement.RequestStatus(cfg.OrderCancelReturnStatus)},
	)
	procurementHandler := procurement.NewHandler(logger, procurementService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ProcurementHandler: procurementHandler,
		InventoryHandler:   inventoryHandler,
		SuppliersHandler:   supplierHandler,
		JobsHandler:        jobsHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
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
