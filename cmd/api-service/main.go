package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/transcript-relay/internal/api/handler"
	"github.com/cuongbtq/transcript-relay/internal/api/router"
	"github.com/cuongbtq/transcript-relay/internal/app"
	"github.com/cuongbtq/transcript-relay/internal/callback"
	"github.com/cuongbtq/transcript-relay/internal/config"
	"github.com/cuongbtq/transcript-relay/internal/signature"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	configPath := flag.String("config", envOr("API_SERVICE_CONFIG_PATH", "configs/api-service/config.yaml"), "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(configPath string) error {
	cfg, appLogger, err := app.Setup(configPath, (*config.Config).ValidateAPIConfig)
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

	// Without a queue /api/v1/uploads answers 503
	var uploads handler.UploadQueue
	if cfg.RabbitMQ.Host != "" {
		queue, err := app.OpenQueue(ctx, &cfg.RabbitMQ, logger)
		if err != nil {
			return err
		}
		defer queue.Close()
		uploads = queue
	}

	callbacks := callback.NewHandler(
		signature.NewVerifier([]byte(cfg.Webhook.Secret)),
		components.Store,
		components.Publisher,
		logger,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newRouter(cfg, logger, components, callbacks, uploads),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Listening for requests and provider callbacks",
			slog.String("address", srv.Addr),
			slog.String("callback_path", cfg.Webhook.CallbackPath),
			slog.Bool("upload_queue", uploads != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested, draining HTTP server")
	case err := <-serverErr:
		logger.Error("HTTP server failed", slog.Any("error", err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server did not drain in time", slog.Any("error", err))
		return err
	}

	logger.Info("API service stopped")
	return nil
}

func newRouter(cfg *config.Config, logger *slog.Logger, components *app.Components, callbacks *callback.Handler, uploads handler.UploadQueue) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	checks := make(map[string]handler.HealthCheck, len(components.HealthChecks))
	for name, check := range components.HealthChecks {
		checks[name] = handler.HealthCheck(check)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:          logger,
		Store:           components.Store,
		Submitter:       components.Submitter,
		Callbacks:       callbacks,
		Publisher:       components.Publisher,
		Uploads:         uploads,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		CallbackPath:    cfg.Webhook.CallbackPath,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		ServiceName:     cfg.App.Name,
		HealthChecks:    checks,
	})
}
