package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"podqueued/api"
	"podqueued/config"
	"podqueued/dlq"
	"podqueued/stageproc"
	"podqueued/task"
)

func main() {
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *isDebug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(logger)

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Dead letter store: redis when configured, in-memory otherwise
	var store dlq.Store
	if cfg.RedisURL != "" {
		redisStore, err := dlq.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Error("Failed to connect dead letter store", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		store = redisStore
		logger.Info("Dead letter queue backed by redis")
	} else {
		store = dlq.NewMemoryStore()
		logger.Warn("Dead letter queue is in-memory; entries will not survive restarts")
	}

	// 3. Queue, dead letter queue, stage runner, scheduler
	queue := task.NewQueue(store, cfg.CompletedShown)
	deadLetter := dlq.NewQueue(store, queue, logger)

	runner, err := stageproc.NewRunner(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize stage runner", "error", err)
		os.Exit(1)
	}

	scheduler := task.NewScheduler(queue, runner, deadLetter, task.SchedulerOptions{
		Policy: task.RetryPolicy{
			InitialDelay:    cfg.RetryInitialDelay,
			MaxDelay:        cfg.RetryMaxDelay,
			BackoffMultiple: cfg.RetryBackoffMultiple,
		},
		PollInterval: cfg.PollInterval,
		StageTimeout: cfg.StageTimeout,
		Logger:       logger,
	})

	// 4. Set up router and server
	router := api.SetupRouter(queue, scheduler, deadLetter, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 5. Start the scheduler loop and HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Run(ctx)

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()
	stop()
	logger.Info("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exiting")
}
