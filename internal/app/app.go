// Package app assembles the job pipeline shared by the API and worker services
// from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transcript-relay/internal/config"
	"github.com/cuongbtq/transcript-relay/internal/jobstore"
	"github.com/cuongbtq/transcript-relay/internal/provider"
	"github.com/cuongbtq/transcript-relay/internal/publisher"
	"github.com/cuongbtq/transcript-relay/internal/submitter"
	"github.com/cuongbtq/transcript-relay/shared/kafka"
	"github.com/cuongbtq/transcript-relay/shared/logger"
	"github.com/cuongbtq/transcript-relay/shared/objectstore"
	"github.com/cuongbtq/transcript-relay/shared/postgresql"
	"github.com/cuongbtq/transcript-relay/shared/redis"
)

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Components holds the wired pipeline and the clients it owns
type Components struct {
	Store        jobstore.Store
	Submitter    *submitter.Submitter
	Publisher    *publisher.Publisher
	HealthChecks map[string]HealthCheck

	logger  *slog.Logger
	objects *objectstore.Client
	closers []func() error
}

// NewLogger builds the process logger from the logging section
func NewLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		TimeFormat: time.RFC3339,
	})
}

// Setup loads the config file, validates it for one service and builds the logger
func Setup(path string, validate func(*config.Config) error) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	log, err := NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Info("Configuration loaded",
		slog.String("path", path),
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("job_store", cfg.JobStore.Driver),
	)
	return cfg, log, nil
}

// Build connects the configured backends and wires the submitter and publisher.
// On error every client opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Components, error) {
	c := &Components{
		HealthChecks: make(map[string]HealthCheck),
		logger:       log,
	}

	if err := c.initStore(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}

	dest, err := c.initDestination(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Publisher = publisher.New(c.Store, dest, log).WithLease(cfg.Publisher.Lease)

	locator, err := c.initLocator(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	client := provider.NewClient(provider.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout,
	}, log)

	c.Submitter = submitter.New(client, locator, c.Store, submitter.Config{
		CallbackURL:     submitter.CallbackURL(cfg.Webhook.CallbackBaseURL, cfg.Webhook.CallbackPath),
		AuthHeaderName:  cfg.Webhook.AuthHeaderName,
		AuthHeaderValue: cfg.Webhook.AuthHeaderValue,
		Retry: submitter.RetryPolicy{
			MaxAttempts:     cfg.Provider.Retry.MaxAttempts,
			InitialInterval: cfg.Provider.Retry.InitialInterval,
			MaxInterval:     cfg.Provider.Retry.MaxInterval,
			Multiplier:      cfg.Provider.Retry.Multiplier,
		},
	}, log)

	return c, nil
}

// Close releases every client in reverse order of opening
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Error("Failed to close client", slog.Any("error", err))
		}
	}
	c.closers = nil
}

func (c *Components) initStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.JobStore.Driver {
	case config.DriverPostgres:
		db, err := postgresql.NewClient(ctx, &postgresql.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
			ConnectInterval: cfg.Database.ConnectInterval,
		}, c.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		c.closers = append(c.closers, db.Close)
		c.HealthChecks["database"] = db.HealthCheck

		store := jobstore.NewPostgresStore(db.GetDB(), c.logger)
		if cfg.JobStore.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("failed to ensure job schema: %w", err)
			}
		}
		c.Store = store

	case config.DriverRedis:
		rdb, err := redis.NewClient(&redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, c.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		c.closers = append(c.closers, rdb.Close)
		c.HealthChecks["redis"] = rdb.HealthCheck
		c.Store = jobstore.NewRedisStore(rdb.GetClient(), cfg.Redis.KeyPrefix, c.logger)

	case config.DriverMemory:
		c.logger.Warn("Using in-memory job store; jobs are lost on restart")
		c.Store = jobstore.NewMemoryStore()

	default:
		return fmt.Errorf("unknown job store driver: %q", cfg.JobStore.Driver)
	}

	c.logger.Info("Job store ready", slog.String("driver", cfg.JobStore.Driver))
	return nil
}

// objectStore opens the S3 client once for the locator and the destination
func (c *Components) objectStore(ctx context.Context, cfg *config.Config) (*objectstore.Client, error) {
	if c.objects != nil {
		return c.objects, nil
	}

	client, err := objectstore.NewClient(ctx, &objectstore.Config{
		Bucket:         cfg.ObjectStore.Bucket,
		Region:         cfg.ObjectStore.Region,
		Endpoint:       cfg.ObjectStore.Endpoint,
		AccessKey:      cfg.ObjectStore.AccessKey,
		SecretKey:      cfg.ObjectStore.SecretKey,
		ForcePathStyle: cfg.ObjectStore.ForcePathStyle,
		PresignExpiry:  cfg.ObjectStore.PresignExpiry,
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}

	c.objects = client
	c.HealthChecks["object_store"] = client.HealthCheck
	return client, nil
}

func (c *Components) initDestination(ctx context.Context, cfg *config.Config) (publisher.Destination, error) {
	switch cfg.Publisher.Destination {
	case config.DestinationS3:
		client, err := c.objectStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return publisher.NewObjectDestination(client, cfg.Publisher.Prefix, cfg.Publisher.Formats), nil

	case config.DestinationKafka:
		producer, err := kafka.NewProducer(&kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			RequiredAcks: cfg.Kafka.RequiredAcks,
			Retries:      cfg.Kafka.Retries,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize kafka producer: %w", err)
		}
		c.closers = append(c.closers, producer.Close)
		return publisher.NewStreamDestination(producer), nil

	default:
		return nil, fmt.Errorf("unknown publisher destination: %q", cfg.Publisher.Destination)
	}
}

func (c *Components) initLocator(ctx context.Context, cfg *config.Config) (submitter.Locator, error) {
	switch cfg.Source.Locator {
	case config.LocatorS3:
		client, err := c.objectStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return submitter.NewPresignLocator(client), nil

	case config.LocatorStatic:
		return submitter.NewStaticLocator(cfg.Source.BaseURL)

	default:
		return nil, fmt.Errorf("unknown source locator: %q", cfg.Source.Locator)
	}
}
