package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/transcript-relay/internal/config"
	"github.com/cuongbtq/transcript-relay/internal/domain"
	"github.com/cuongbtq/transcript-relay/internal/jobstore"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.JobStore.Driver = config.DriverMemory
	cfg.Source.Locator = config.LocatorStatic
	cfg.Source.BaseURL = "https://media.example.com/audio"
	cfg.Publisher.Destination = config.DestinationKafka
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Topic = "transcripts"
	cfg.Provider.BaseURL = "https://api.assemblyai.com"
	cfg.Webhook.CallbackBaseURL = "https://relay.example.com"
	cfg.Webhook.CallbackPath = "/api/v1/callbacks/transcripts"
	return cfg
}

func TestBuild(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name       string
		mutate     func(cfg *config.Config)
		wantChecks []string
		wantErr    string
	}{
		{
			name: "memory store with kafka destination",
		},
		{
			name: "s3 locator and destination",
			mutate: func(cfg *config.Config) {
				cfg.Source.Locator = config.LocatorS3
				cfg.Publisher.Destination = config.DestinationS3
				cfg.Publisher.Prefix = "transcripts"
				cfg.Publisher.Formats = []string{"json"}
				cfg.ObjectStore.Bucket = "media"
				cfg.ObjectStore.Endpoint = "http://localhost:9000"
				cfg.ObjectStore.AccessKey = "minio"
				cfg.ObjectStore.SecretKey = "minio123"
			},
			wantChecks: []string{"object_store"},
		},
		{
			name: "redis store",
			mutate: func(cfg *config.Config) {
				cfg.JobStore.Driver = config.DriverRedis
				cfg.Redis.Addr = mr.Addr()
				cfg.Redis.KeyPrefix = "relay-test"
			},
			wantChecks: []string{"redis"},
		},
		{
			name:    "unknown driver",
			mutate:  func(cfg *config.Config) { cfg.JobStore.Driver = "sqlite" },
			wantErr: "unknown job store driver",
		},
		{
			name:    "unknown destination",
			mutate:  func(cfg *config.Config) { cfg.Publisher.Destination = "ftp" },
			wantErr: "unknown publisher destination",
		},
		{
			name:    "kafka without brokers",
			mutate:  func(cfg *config.Config) { cfg.Kafka.Brokers = nil },
			wantErr: "kafka brokers are required",
		},
		{
			name:    "static locator without base url",
			mutate:  func(cfg *config.Config) { cfg.Source.BaseURL = "" },
			wantErr: "base",
		},
		{
			name:    "unknown locator",
			mutate:  func(cfg *config.Config) { cfg.Source.Locator = "ftp" },
			wantErr: "unknown source locator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			c, err := Build(context.Background(), cfg, slog.New(slog.DiscardHandler))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer c.Close()

			assert.NotNil(t, c.Store)
			assert.NotNil(t, c.Submitter)
			assert.NotNil(t, c.Publisher)
			for _, name := range tt.wantChecks {
				assert.Contains(t, c.HealthChecks, name)
			}
		})
	}
}

func TestBuild_RedisStoreIsUsable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.JobStore.Driver = config.DriverRedis
	cfg.Redis.Addr = mr.Addr()

	c, err := Build(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Store.(*jobstore.RedisStore)
	require.True(t, ok)

	ctx := context.Background()
	_, err = c.Store.Create(ctx, "abc123", domain.SourceRef{Container: "audio", Path: "room12.m4a"}, "staff-7")
	require.NoError(t, err)
	job, err := c.Store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSubmitted, job.State)

	require.NoError(t, c.HealthChecks["redis"](ctx))
}

func TestQueueConfig(t *testing.T) {
	cfg := &config.RabbitMQConfig{
		Host:               "mq",
		Port:               5672,
		User:               "relay",
		Password:           "pw",
		VHost:              "/",
		Exchange:           config.ExchangeConfig{Name: "uploads_exchange", Type: "direct", Durable: true},
		Queue:              config.QueueConfig{Name: "uploads_queue", Durable: true},
		RoutingKey:         "upload.created",
		DeadLetterExchange: "uploads_dlx",
		Connection:         config.ConnectionConfig{RetryAttempts: 5, RetryInterval: 2 * time.Second, Heartbeat: 10 * time.Second},
		Publish:            config.PublishConfig{RetryAttempts: 3, RetryInterval: 100 * time.Millisecond, BackoffMultiplier: 2},
	}

	got := QueueConfig(cfg)

	assert.Equal(t, "direct", got.Exchange.Kind)
	assert.True(t, got.Exchange.Durable)
	assert.Equal(t, "uploads_queue", got.Queue.Name)
	assert.Equal(t, "uploads_dlx", got.DeadLetterExchange)
	assert.Equal(t, 5, got.Dial.Attempts)
	assert.Equal(t, 2*time.Second, got.Dial.Interval)
	assert.Equal(t, 3, got.Publish.Attempts)
	assert.Equal(t, 100*time.Millisecond, got.Publish.InitialInterval)
	assert.Equal(t, 2.0, got.Publish.Multiplier)
}
