package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/modules/exports"
	"github.com/tracklight/backend/internal/shared/config"
	"github.com/tracklight/backend/internal/shared/database"
	"github.com/tracklight/backend/internal/shared/logging"
	"github.com/tracklight/backend/internal/shared/metrics"
	"github.com/tracklight/backend/internal/shared/storage"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Tracklight Render Worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	// Initialize database
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize storage
	storageService, err := storage.NewService(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	// Initialize metrics
	m := metrics.New()

	// The worker publishes progress through redis; a WebSocket hub is not
	// wired here, the API process owns client connections.
	exportQueue := exports.NewQueueClient(cfg.RedisURL, logger)
	defer exportQueue.Close()
	exportsModule := exports.NewModule(db, redisClient, storageService, exportQueue, nil, m, logger)

	// Create export handler
	exportHandler := exports.NewHandler(exports.HandlerConfig{
		Module:  exportsModule,
		Storage: storageService,
		Render:  cfg.Render,
		Metrics: m,
		Logger:  logger,
	})

	// Configure Asynq server
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisURL},
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(exports.TypeExportRender, exportHandler.HandleExportRender)
	mux.HandleFunc(exports.TypeCleanupFiles, exportHandler.HandleCleanupFiles)

	// Periodic zone cleanup
	scheduler, err := exports.ScheduleCleanup(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to configure cleanup schedule", zap.Error(err))
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("Cleanup scheduler stopped", zap.Error(err))
		}
	}()

	// Start worker
	go func() {
		logger.Info("Worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
		if err := srv.Run(mux); err != nil {
			logger.Fatal("Worker failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info("Worker stopped")
}
