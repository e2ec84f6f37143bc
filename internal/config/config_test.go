package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearSecretEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvWebhookSecret, "")
	t.Setenv(EnvProviderAPIKey, "")
	t.Setenv(EnvDatabasePassword, "")
}

func TestLoad(t *testing.T) {
	clearSecretEnv(t)

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "transcribe_db", cfg.Database.Database)
				assert.Equal(t, "uploads_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "uploads_dlx", cfg.RabbitMQ.DeadLetterExchange)
				assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
				assert.Equal(t, time.Hour, cfg.ObjectStore.PresignExpiry)
				assert.Equal(t, 4, cfg.Provider.Retry.MaxAttempts)
				assert.Equal(t, 500*time.Millisecond, cfg.Provider.Retry.InitialInterval)
				assert.Equal(t, "file-webhook-secret", cfg.Webhook.Secret)
				assert.Equal(t, "transcript-relay", cfg.App.Name)
				assert.Equal(t, time.Minute, cfg.Worker.SweepInterval)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearSecretEnv(t)

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "X-Transcript-Signature", cfg.Webhook.SignatureHeader)
	assert.Equal(t, "/api/v1/callbacks/transcripts", cfg.Webhook.CallbackPath)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 5*time.Minute, cfg.Publisher.Lease)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvWebhookSecret, "env-webhook-secret")
	t.Setenv(EnvProviderAPIKey, "env-api-key")
	t.Setenv(EnvDatabasePassword, "env-db-password")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "env-webhook-secret", cfg.Webhook.Secret)
	assert.Equal(t, "env-api-key", cfg.Provider.APIKey)
	assert.Equal(t, "env-db-password", cfg.Database.Password)
}

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "transcribe_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "uploads_exchange"},
			Queue:    QueueConfig{Name: "uploads_queue"},
		},
		ObjectStore: ObjectStoreConfig{Bucket: "transcribe-media"},
		Provider: ProviderConfig{
			BaseURL: "https://api.assemblyai.com",
			APIKey:  "key",
		},
		Webhook: WebhookConfig{
			Secret:          "secret",
			CallbackBaseURL: "https://relay.example.com",
		},
		Worker: WorkerConfig{
			Concurrency:     2,
			JobTimeout:      time.Minute,
			ShutdownTimeout: time.Minute,
			SweepInterval:   time.Minute,
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name:      "missing webhook secret",
			mutate:    func(c *Config) { c.Webhook.Secret = "" },
			errString: "webhook secret is required",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 0 },
			errString: "invalid database port",
		},
		{
			name: "memory store needs no database",
			mutate: func(c *Config) {
				c.JobStore.Driver = DriverMemory
				c.Database = DatabaseConfig{}
			},
		},
		{
			name: "redis store needs addr",
			mutate: func(c *Config) {
				c.JobStore.Driver = DriverRedis
			},
			errString: "redis addr is required",
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.JobStore.Driver = "mongo" },
			errString: "unknown job store driver",
		},
		{
			name:      "s3 destination needs bucket",
			mutate:    func(c *Config) { c.ObjectStore.Bucket = "" },
			errString: "object store bucket is required",
		},
		{
			name:      "unknown format",
			mutate:    func(c *Config) { c.Publisher.Formats = []string{"docx"} },
			errString: "unknown publisher format",
		},
		{
			name:      "kafka destination needs brokers",
			mutate:    func(c *Config) { c.Publisher.Destination = DestinationKafka },
			errString: "kafka brokers are required",
		},
		{
			name: "kafka destination needs topic",
			mutate: func(c *Config) {
				c.Publisher.Destination = DestinationKafka
				c.Kafka.Brokers = []string{"localhost:9092"}
			},
			errString: "kafka topic is required",
		},
		{
			name:      "unknown destination",
			mutate:    func(c *Config) { c.Publisher.Destination = "ftp" },
			errString: "unknown publisher destination",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "missing provider key",
			mutate:    func(c *Config) { c.Provider.APIKey = "" },
			errString: "provider api_key is required",
		},
		{
			name:      "missing callback base url",
			mutate:    func(c *Config) { c.Webhook.CallbackBaseURL = "" },
			errString: "webhook callback_base_url is required",
		},
		{
			name:      "static locator needs base url",
			mutate:    func(c *Config) { c.Source.Locator = LocatorStatic },
			errString: "source base_url is required",
		},
		{
			name:   "rabbitmq is optional for the api",
			mutate: func(c *Config) { c.RabbitMQ = RabbitMQConfig{} },
		},
		{
			name:      "configured rabbitmq must be complete",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name:      "rabbitmq required",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero sweep interval",
			mutate:    func(c *Config) { c.Worker.SweepInterval = 0 },
			errString: "worker sweep_interval must be greater than 0",
		},
		{
			name:      "server port not required",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	clearSecretEnv(t)

	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
