package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transcript-relay/internal/config"
	"github.com/cuongbtq/transcript-relay/shared/rabbitmq"
)

// QueueConfig maps the rabbitmq section onto the client settings
func QueueConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		VHost:    cfg.VHost,
		Exchange: rabbitmq.ExchangeConfig{
			Name:       cfg.Exchange.Name,
			Kind:       cfg.Exchange.Type,
			Durable:    cfg.Exchange.Durable,
			AutoDelete: cfg.Exchange.AutoDelete,
		},
		Queue: rabbitmq.QueueConfig{
			Name:       cfg.Queue.Name,
			Durable:    cfg.Queue.Durable,
			AutoDelete: cfg.Queue.AutoDelete,
			Exclusive:  cfg.Queue.Exclusive,
		},
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetterExchange,
		Dial: rabbitmq.DialConfig{
			Attempts:  cfg.Connection.RetryAttempts,
			Interval:  cfg.Connection.RetryInterval,
			Heartbeat: cfg.Connection.Heartbeat,
			Timeout:   cfg.Connection.ConnectionTimeout,
		},
		Publish: rabbitmq.PublishConfig{
			Attempts:        cfg.Publish.RetryAttempts,
			InitialInterval: cfg.Publish.RetryInterval,
			Multiplier:      cfg.Publish.BackoffMultiplier,
		},
	}
}

// OpenQueue connects to the upload event queue
func OpenQueue(ctx context.Context, cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	client, err := rabbitmq.NewClient(ctx, QueueConfig(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	return client, nil
}
