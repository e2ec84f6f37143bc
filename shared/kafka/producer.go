package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Config holds Kafka producer configuration
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int
	Retries      int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer writes keyed messages to a single topic
type Producer struct {
	writer messageWriter
	config *Config
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// NewProducer creates a producer for config.Topic
func NewProducer(config *Config, logger *slog.Logger) (*Producer, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if config.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if config.Retries <= 0 {
		config.Retries = 3
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 10 * time.Millisecond
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           config.BatchTimeout,
		WriteTimeout:           config.WriteTimeout,
		RequiredAcks:           kafkago.RequiredAcks(config.RequiredAcks),
		AllowAutoTopicCreation: false,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("Kafka writer error", slog.String("detail", fmt.Sprintf(msg, args...)))
		}),
	}

	logger.Info("Kafka producer initialized",
		slog.Any("brokers", config.Brokers),
		slog.String("topic", config.Topic),
	)

	return newProducer(writer, config, logger), nil
}

func newProducer(writer messageWriter, config *Config, logger *slog.Logger) *Producer {
	return &Producer{writer: writer, config: config, logger: logger}
}

// Topic returns the topic messages are written to
func (p *Producer) Topic() string {
	return p.config.Topic
}

// Send writes one message, retrying with a linear delay between attempts
func (p *Producer) Send(ctx context.Context, key string, value []byte, headers map[string]string) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return errors.New("producer is closed")
	}

	msg := kafkago.Message{
		Key:   []byte(key),
		Value: value,
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.Retries; attempt++ {
		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			p.logger.Debug("Message written to Kafka",
				slog.String("topic", p.config.Topic),
				slog.String("key", key),
				slog.Int("size", len(value)),
			)
			return nil
		}
		lastErr = err

		if attempt < p.config.Retries {
			p.logger.Warn("Failed to write message to Kafka, retrying...",
				slog.Int("attempt", attempt),
				slog.String("key", key),
				slog.Any("error", err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
	}
	return fmt.Errorf("kafka write after %d attempts: %w", p.config.Retries, lastErr)
}

// Close flushes pending messages and shuts the writer down
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.logger.Info("Closing Kafka producer")
	return p.writer.Close()
}
