package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	defaultRegion        = "us-east-1"
	defaultPresignExpiry = 15 * time.Minute
)

// Config holds S3 (or S3-compatible) connection configuration
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
	PresignExpiry  time.Duration
}

// Client wraps the S3 API and its presigner
type Client struct {
	s3      *s3.Client
	presign *s3.PresignClient
	config  *Config
	logger  *slog.Logger
}

// NewClient creates a new S3 client. No request is sent until the first call.
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	if config.Region == "" {
		config.Region = defaultRegion
	}
	if config.PresignExpiry <= 0 {
		config.PresignExpiry = defaultPresignExpiry
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKey != "" && config.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		})
	} else if config.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	api := s3.NewFromConfig(awsCfg, s3Opts...)

	logger.Info("S3 client initialized",
		slog.String("bucket", config.Bucket),
		slog.String("region", config.Region),
		slog.String("endpoint", config.Endpoint),
	)

	return &Client{
		s3:      api,
		presign: s3.NewPresignClient(api),
		config:  config,
		logger:  logger,
	}, nil
}

// Bucket returns the default bucket
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// PutObject writes body under key in the default bucket
func (c *Client) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.config.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}

	c.logger.Debug("Object written",
		slog.String("bucket", c.config.Bucket),
		slog.String("key", key),
		slog.Int("size", len(body)),
	)
	return nil
}

// PresignGet returns a time-limited GET URL for bucket/key.
// An empty bucket falls back to the default bucket.
func (c *Client) PresignGet(ctx context.Context, bucket, key string) (string, error) {
	if bucket == "" {
		bucket = c.config.Bucket
	}
	if bucket == "" || key == "" {
		return "", errors.New("bucket and key are required")
	}

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	}, s3.WithPresignExpires(c.config.PresignExpiry))
	if err != nil {
		return "", fmt.Errorf("s3 presign %s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

// HealthCheck verifies the default bucket is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.config.Bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Ref renders an s3:// reference for a key prefix in the default bucket
func (c *Client) Ref(prefix string) string {
	return fmt.Sprintf("s3://%s/%s", c.config.Bucket, strings.TrimPrefix(prefix, "/"))
}
