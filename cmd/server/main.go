// Package main provides the API server entry point for the market sync service.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/market-sync/internal/api"
	"github.com/market-sync/internal/config"
	"github.com/market-sync/internal/job"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/service"
	"github.com/market-sync/internal/storage"
)

func main() {
	fmt.Println("Market Sync API Server")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("process", "server")
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

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
	statusRepo := storage.NewFetchStatusRepository(postgres)
	historyRepo := storage.NewHistoryRepository(clickhouse)

	// The server only enqueues; workers run the jobs.
	queue := job.NewRedisQueue(redisStore.Client(), cfg.Queue.Key)
	orchestrator := service.NewFetchOrchestrator(service.OrchestratorConfig{
		FanOutLockKey:  cfg.Sync.FanOutLockKey,
		FanOutLockTTL:  cfg.Sync.FanOutLockTTL,
		HistoryLockKey: cfg.History.LockKey,
		HistoryLockTTL: cfg.History.LockTTL,
		RegionLockTTL:  cfg.Sync.RegionLockTTL,
		Regions:        cfg.Sync.Regions,
	}, redisStore, queue, catalogRepo, nil, nil)

	routeService := service.NewRouteService(catalogRepo, orderRepo)

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		HistoryMaxDays:    cfg.History.RetentionDays,
	}

	server := api.NewServer(serverConfig, api.Dependencies{
		Dispatcher: orchestrator,
		Status:     statusRepo,
		History:    historyRepo,
		Routes:     routeService,
		Orders:     orderRepo,
		Queue:      queue,
		Checks: map[string]api.Pinger{
			"postgres":   postgres,
			"clickhouse": clickhouse,
			"redis":      redisStore,
		},
	})

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
