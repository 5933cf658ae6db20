// Package main provides the sync worker entry point for the market sync service.
// It consumes the shared job queue and runs the order and history schedules.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/market-sync/internal/adapter"
	"github.com/market-sync/internal/circuitbreaker"
	"github.com/market-sync/internal/config"
	"github.com/market-sync/internal/job"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/ratelimit"
	"github.com/market-sync/internal/retry"
	"github.com/market-sync/internal/service"
	"github.com/market-sync/internal/storage"
	"github.com/market-sync/internal/worker"
)

func main() {
	fmt.Println("Market Sync Worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("process", "worker")

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redisStore, err := storage.NewRedisStore(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisStore.Close()

	logger.Info("Database connections established")

	// Initialize repositories
	catalogRepo := storage.NewCatalogRepository(postgres)
	orderRepo := storage.NewOrderRepository(postgres)
	validatorRepo := storage.NewValidatorRepository(postgres)
	statusRepo := storage.NewFetchStatusRepository(postgres)
	historyRepo := storage.NewHistoryRepository(clickhouse)

	// Feed client. The shared budget is optional; without it each process
	// only paces itself.
	esiCfg := adapter.ESIClientConfig{
		BaseURL:        cfg.ESI.BaseURL,
		Datasource:     cfg.ESI.Datasource,
		UserAgent:      cfg.ESI.UserAgent,
		Timeout:        cfg.ESI.RequestTimeout,
		RequestsPerSec: cfg.ESI.RequestsPerSec,
		Burst:          cfg.ESI.Burst,
		Breaker:        circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("esi")),
	}
	if cfg.ESI.SharedBudget > 0 {
		budget, err := ratelimit.NewSharedBudget(&ratelimit.BudgetConfig{
			Redis:    redisStore.Client(),
			Total:    cfg.ESI.SharedBudget,
			Reserved: cfg.ESI.SharedBudget / 2,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to create shared request budget, continuing with local pacing only")
		} else {
			esiCfg.Budget = budget
			logger.WithField("requests_per_sec", cfg.ESI.SharedBudget).Info("Shared request budget enabled")
		}
	}
	esi, err := adapter.NewESIClient(esiCfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create ESI client")
	}

	// Initialize services
	syncService := service.NewMarketSyncService(esi, validatorRepo, statusRepo, orderRepo)

	retryCfg := retry.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.History.MaxAttempts
	historyService := service.NewHistoryService(esi, historyRepo, service.HistoryOptions{
		RetentionDays: cfg.History.RetentionDays,
		Concurrency:   cfg.History.Concurrency,
		Retry:         retryCfg,
	})

	queue := job.NewRedisQueue(redisStore.Client(), cfg.Queue.Key)
	orchestrator := service.NewFetchOrchestrator(service.OrchestratorConfig{
		FanOutLockKey:  cfg.Sync.FanOutLockKey,
		FanOutLockTTL:  cfg.Sync.FanOutLockTTL,
		HistoryLockKey: cfg.History.LockKey,
		HistoryLockTTL: cfg.History.LockTTL,
		RegionLockTTL:  cfg.Sync.RegionLockTTL,
		Regions:        cfg.Sync.Regions,
	}, redisStore, queue, catalogRepo, syncService, historyService)

	scheduler, err := worker.NewScheduler(worker.SchedulerConfig{
		OrdersInterval: cfg.Sync.OrdersInterval,
		HistoryHourUTC: cfg.History.RunHourUTC,
		RunOnStart:     true,
	}, orchestrator)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scheduler")
	}

	pool := job.NewPool(queue, orchestrator, cfg.Queue.Workers, cfg.Queue.PollTimeout)

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start job pool")
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}

	logger.WithFields(map[string]interface{}{
		"workers":         cfg.Queue.Workers,
		"orders_interval": cfg.Sync.OrdersInterval.String(),
		"history_hour":    cfg.History.RunHourUTC,
	}).Info("Worker started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")

	st := scheduler.Status()
	logger.WithFields(map[string]interface{}{
		"orders_dispatched": st.OrdersDispatched,
		"orders_skipped":    st.OrdersSkipped,
		"in_flight_jobs":    len(pool.Active()),
	}).Info("Stopping scheduler and draining jobs")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Scheduler did not stop cleanly")
	}

	// Let in-flight jobs finish before cancelling their context.
	pool.Stop()
	cancel()

	logger.WithFields(postgres.Stats()).Info("Postgres pool at shutdown")
	if st := esi.Breaker(); st != nil {
		logger.WithField("breaker_state", string(st.GetState())).Info("Feed client state at shutdown")
	}
	logger.Info("Worker exited")
}
