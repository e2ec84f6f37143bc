// Package rabbitmq carries upload events between the API and the worker.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection and topology settings
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	Exchange   ExchangeConfig
	Queue      QueueConfig
	RoutingKey string

	// DeadLetterExchange receives rejected upload events. When set, a
	// "<queue>.dead" queue is declared and bound to it.
	DeadLetterExchange string

	Dial    DialConfig
	Publish PublishConfig
}

type ExchangeConfig struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
}

type QueueConfig struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
}

// DialConfig bounds the initial connection attempts
type DialConfig struct {
	Attempts  int
	Interval  time.Duration
	Heartbeat time.Duration
	Timeout   time.Duration
}

// PublishConfig shapes the exponential backoff between publish attempts
type PublishConfig struct {
	Attempts        int
	InitialInterval time.Duration
	Multiplier      float64
}

// URI renders the broker address; credentials are escaped by amqp.URI
func (c *Config) URI() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    vhost,
	}.String()
}

func (c *Config) deadLetterQueue() string {
	return c.Queue.Name + ".dead"
}

// Client owns one connection and one channel
type Client struct {
	config    *Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *slog.Logger
	connected atomic.Bool
}

// NewClient dials the broker, declares the upload topology and starts watching for channel loss
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		config: config,
		logger: logger.With(slog.String("queue", config.Queue.Name)),
	}

	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	if err := c.declare(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return nil, fmt.Errorf("failed to declare upload topology: %w", err)
	}

	closed := c.channel.NotifyClose(make(chan *amqp.Error, 1))
	c.connected.Store(true)
	go c.watch(closed)

	c.logger.Info("RabbitMQ client ready",
		slog.String("exchange", config.Exchange.Name),
		slog.String("routing_key", config.RoutingKey),
		slog.String("dead_letter_exchange", config.DeadLetterExchange),
	)
	return c, nil
}

func (c *Client) dial(ctx context.Context) error {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Dial.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.Dial.Timeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.Dial.Timeout)
	}

	attempts := max(c.config.Dial.Attempts, 1)
	interval := c.config.Dial.Interval
	if interval <= 0 {
		interval = time.Second
	}

	attempt := 0
	conn, err := backoff.Retry(ctx, func() (*amqp.Connection, error) {
		attempt++
		return amqp.DialConfig(c.config.URI(), amqpConfig)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("RabbitMQ dial failed, retrying...",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", attempts),
				slog.Duration("retry_after", next),
				slog.Any("error", err),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempt, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	c.conn = conn
	c.channel = ch
	return nil
}

// declare sets up exchange -> queue, plus the dead-letter pair when configured
func (c *Client) declare() error {
	ex := c.config.Exchange
	if err := c.channel.ExchangeDeclare(ex.Name, ex.Kind, ex.Durable, ex.AutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("exchange %s: %w", ex.Name, err)
	}

	var args amqp.Table
	if dlx := c.config.DeadLetterExchange; dlx != "" {
		if err := c.channel.ExchangeDeclare(dlx, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("dead-letter exchange %s: %w", dlx, err)
		}
		if _, err := c.channel.QueueDeclare(c.config.deadLetterQueue(), true, false, false, false, nil); err != nil {
			return fmt.Errorf("dead-letter queue: %w", err)
		}
		if err := c.channel.QueueBind(c.config.deadLetterQueue(), "", dlx, false, nil); err != nil {
			return fmt.Errorf("dead-letter binding: %w", err)
		}
		args = amqp.Table{"x-dead-letter-exchange": dlx}
	}

	q := c.config.Queue
	if _, err := c.channel.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, args); err != nil {
		return fmt.Errorf("queue %s: %w", q.Name, err)
	}
	if err := c.channel.QueueBind(q.Name, c.config.RoutingKey, ex.Name, false, nil); err != nil {
		return fmt.Errorf("binding %s -> %s: %w", ex.Name, q.Name, err)
	}
	return nil
}

// watch flips the client to disconnected once the broker closes the channel
func (c *Client) watch(closed <-chan *amqp.Error) {
	err, ok := <-closed
	wasConnected := c.connected.Swap(false)
	if ok && err != nil && wasConnected {
		c.logger.Error("RabbitMQ channel closed by broker",
			slog.Int("code", err.Code),
			slog.String("reason", err.Reason),
		)
	}
}

// IsConnected reports whether the channel is still usable
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.conn != nil && !c.conn.IsClosed()
}

// Qos limits unacknowledged deliveries per consumer on this channel
func (c *Client) Qos(prefetchCount int) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.channel.Qos(prefetchCount, 0, false)
}

// Consume starts a manual-ack consumer on the upload queue
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	deliveries, err := c.channel.Consume(c.config.Queue.Name, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume upload events: %w", err)
	}

	c.logger.Info("Consuming upload events", slog.String("consumer_tag", consumerTag))
	return deliveries, nil
}

// PublishWithRetry publishes one persistent message, backing off exponentially between attempts.
// A closed channel is not retried.
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	msg := amqp.Publishing{
		ContentType:  contentType,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
	}
	attempts := c.config.Publish.attempts()

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := c.channel.PublishWithContext(ctx, c.config.Exchange.Name, c.config.RoutingKey, false, false, msg)
		if errors.Is(err, amqp.ErrClosed) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.config.Publish.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("Upload event publish failed, retrying...",
				slog.String("message_id", msg.MessageId),
				slog.Int("attempt", attempt),
				slog.Duration("retry_after", next),
				slog.Any("error", err),
			)
		}),
	)
	if err != nil {
		c.logger.Error("Upload event publish failed",
			slog.String("message_id", msg.MessageId),
			slog.Int("attempts", attempt),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to publish message after %d attempts: %w", attempt, err)
	}

	c.logger.Debug("Upload event published",
		slog.String("message_id", msg.MessageId),
		slog.Int("body_size", len(body)),
		slog.Int("attempts", attempt),
	)
	return nil
}

func (p PublishConfig) attempts() int {
	if p.Attempts <= 0 {
		return 4
	}
	return p.Attempts
}

func (p PublishConfig) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0
	b.InitialInterval = 100 * time.Millisecond
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	b.Multiplier = 2
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// Close tears down the channel and then the connection
func (c *Client) Close() error {
	c.connected.Store(false)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Error("Failed to close RabbitMQ client", slog.Any("error", err))
		return err
	}
	c.logger.Info("RabbitMQ connection closed")
	return nil
}
