package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/transcript-relay/internal/app"
	"github.com/cuongbtq/transcript-relay/internal/config"
	"github.com/cuongbtq/transcript-relay/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	configPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/worker-service/config.yaml"
	}
	flag.StringVar(&configPath, "config", configPath, "Path to configuration file")
	flag.Parse()

	if err := run(configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, appLogger, err := app.Setup(configPath, (*config.Config).ValidateWorkerConfig)
	if err != nil {
		return err
	}
	defer appLogger.Close()
	logger := appLogger.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	queue, err := app.OpenQueue(ctx, &cfg.RabbitMQ, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	w := worker.NewWorker(&worker.Config{
		Logger:        logger,
		Queue:         queue,
		Store:         components.Store,
		Submitter:     components.Submitter,
		Publisher:     components.Publisher,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:    cfg.Worker.JobTimeout,
		SweepInterval: cfg.Worker.SweepInterval,
		SweepMinAge:   cfg.Worker.SweepMinAge,
		SweepBatch:    cfg.Worker.SweepBatch,
	})

	// Start blocks until ctx ends or the delivery channel closes
	runErr := w.Start(ctx)
	if runErr != nil {
		logger.Error("Worker stopped consuming", slog.Any("error", runErr))
	} else {
		logger.Info("Shutdown requested, waiting for in-flight uploads")
	}
	stop()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	select {
	case <-done:
		logger.Info("Worker service stopped")
	case <-shutdownCtx.Done():
		logger.Warn("Worker shutdown timeout exceeded, abandoning in-flight uploads")
	}
	return runErr
}
