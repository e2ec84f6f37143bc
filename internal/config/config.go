package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Environment variables that override secrets from the config file
const (
	EnvWebhookSecret    = "TRANSCRIBE_WEBHOOK_SECRET"
	EnvProviderAPIKey   = "TRANSCRIBE_PROVIDER_API_KEY"
	EnvDatabasePassword = "TRANSCRIBE_DATABASE_PASSWORD"
)

// Job store drivers
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Publish destinations
const (
	DestinationS3    = "s3"
	DestinationKafka = "kafka"
)

// Source locators
const (
	LocatorS3     = "s3"
	LocatorStatic = "static"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Provider    ProviderConfig    `yaml:"provider"`
	Source      SourceConfig      `yaml:"source"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	JobStore    JobStoreConfig    `yaml:"job_store"`
	Publisher   PublisherConfig   `yaml:"publisher"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectInterval time.Duration `yaml:"connect_interval"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	KeyPrefix    string        `yaml:"key_prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host               string           `yaml:"host"`
	Port               int              `yaml:"port"`
	User               string           `yaml:"user"`
	Password           string           `yaml:"password"`
	VHost              string           `yaml:"vhost"`
	Exchange           ExchangeConfig   `yaml:"exchange"`
	Queue              QueueConfig      `yaml:"queue"`
	RoutingKey         string           `yaml:"routing_key"`
	DeadLetterExchange string           `yaml:"dead_letter_exchange"`
	Connection         ConnectionConfig `yaml:"connection"`
	Publish            PublishConfig    `yaml:"publish"`
	Consumer           ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// KafkaConfig holds the transcript topic producer settings
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Retries      int           `yaml:"retries"`
}

// ObjectStoreConfig holds S3 settings shared by the source locator and the s3 destination
type ObjectStoreConfig struct {
	Bucket         string        `yaml:"bucket"`
	Region         string        `yaml:"region"`
	Endpoint       string        `yaml:"endpoint"`
	AccessKey      string        `yaml:"access_key"`
	SecretKey      string        `yaml:"secret_key"`
	ForcePathStyle bool          `yaml:"force_path_style"`
	PresignExpiry  time.Duration `yaml:"presign_expiry"`
}

// ProviderConfig holds the speech-to-text provider endpoint and retry policy
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

// RetryConfig is a bounded exponential backoff policy
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// SourceConfig selects how stored audio is exposed to the provider
type SourceConfig struct {
	Locator string `yaml:"locator"`
	BaseURL string `yaml:"base_url"`
}

// WebhookConfig holds callback signing and addressing
type WebhookConfig struct {
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	CallbackBaseURL string `yaml:"callback_base_url"`
	CallbackPath    string `yaml:"callback_path"`
	AuthHeaderName  string `yaml:"auth_header_name"`
	AuthHeaderValue string `yaml:"auth_header_value"`
}

// JobStoreConfig selects the job store backend
type JobStoreConfig struct {
	Driver       string `yaml:"driver"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

// PublisherConfig holds the transcript destination settings
type PublisherConfig struct {
	Destination string   `yaml:"destination"`
	Prefix      string   `yaml:"prefix"`
	Formats     []string `yaml:"formats"`
	// Lease bounds how long one replica owns a job's publish
	Lease time.Duration `yaml:"lease"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SweepMinAge     time.Duration `yaml:"sweep_min_age"`
	SweepBatch      int           `yaml:"sweep_batch"`
}

// Load reads and parses the configuration file, then applies defaults and environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnv(os.Getenv)

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.JobStore.Driver == "" {
		c.JobStore.Driver = DriverPostgres
	}
	if c.Webhook.SignatureHeader == "" {
		c.Webhook.SignatureHeader = "X-Transcript-Signature"
	}
	if c.Webhook.CallbackPath == "" {
		c.Webhook.CallbackPath = "/api/v1/callbacks/transcripts"
	}
	if c.Source.Locator == "" {
		c.Source.Locator = LocatorS3
	}
	if c.Publisher.Destination == "" {
		c.Publisher.Destination = DestinationS3
	}
	if c.Publisher.Prefix == "" {
		c.Publisher.Prefix = "transcripts"
	}
	if len(c.Publisher.Formats) == 0 {
		c.Publisher.Formats = []string{"json", "txt", "xlsx"}
	}
	if c.Publisher.Lease <= 0 {
		c.Publisher.Lease = 5 * time.Minute
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Provider.Retry.MaxAttempts <= 0 {
		c.Provider.Retry.MaxAttempts = 3
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 10 << 20
	}
}

// applyEnv overrides secrets from the environment; lookup is os.Getenv outside tests
func (c *Config) applyEnv(lookup func(string) string) {
	if v := lookup(EnvWebhookSecret); v != "" {
		c.Webhook.Secret = v
	}
	if v := lookup(EnvProviderAPIKey); v != "" {
		c.Provider.APIKey = v
	}
	if v := lookup(EnvDatabasePassword); v != "" {
		c.Database.Password = v
	}
}

// Validate checks the settings shared by both services
func (c *Config) Validate() error {
	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required (set %s)", EnvWebhookSecret)
	}

	switch c.JobStore.Driver {
	case DriverPostgres:
		if err := c.validateDatabase(); err != nil {
			return err
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis job store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown job store driver: %q", c.JobStore.Driver)
	}

	switch c.Publisher.Destination {
	case DestinationS3:
		if c.ObjectStore.Bucket == "" {
			return fmt.Errorf("object store bucket is required for the s3 destination")
		}
		for _, f := range c.Publisher.Formats {
			switch strings.ToLower(f) {
			case "json", "txt", "xlsx":
			default:
				return fmt.Errorf("unknown publisher format: %q", f)
			}
		}
	case DestinationKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required for the kafka destination")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required for the kafka destination")
		}
	default:
		return fmt.Errorf("unknown publisher destination: %q", c.Publisher.Destination)
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateSubmission(); err != nil {
		return err
	}

	if c.RabbitMQ.Host != "" {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.validateSubmission(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.SweepInterval <= 0 {
		return fmt.Errorf("worker sweep_interval must be greater than 0")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateSubmission() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base_url is required")
	}

	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider api_key is required (set %s)", EnvProviderAPIKey)
	}

	if c.Webhook.CallbackBaseURL == "" {
		return fmt.Errorf("webhook callback_base_url is required")
	}

	switch c.Source.Locator {
	case LocatorS3:
	case LocatorStatic:
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source base_url is required for the static locator")
		}
	default:
		return fmt.Errorf("unknown source locator: %q", c.Source.Locator)
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
