// Package submitter hands stored audio to the transcription provider and records the job.
package submitter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cuongbtq/transcript-relay/internal/domain"
	"github.com/cuongbtq/transcript-relay/internal/jobstore"
	"github.com/cuongbtq/transcript-relay/internal/provider"
)

// Provider queues transcripts at the speech-to-text service
type Provider interface {
	CreateTranscript(ctx context.Context, req provider.TranscriptRequest) (*provider.TranscriptJob, error)
}

// RetryPolicy bounds the exponential backoff used for provider calls
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Config holds the callback address and retry policy
type Config struct {
	CallbackURL     string
	AuthHeaderName  string
	AuthHeaderValue string
	Retry           RetryPolicy
}

// Submitter submits one source per call
type Submitter struct {
	provider Provider
	locator  Locator
	store    jobstore.Store
	config   Config
	logger   *slog.Logger
}

// New creates a Submitter
func New(p Provider, locator Locator, store jobstore.Store, config Config, logger *slog.Logger) *Submitter {
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = 3
	}
	return &Submitter{
		provider: p,
		locator:  locator,
		store:    store,
		config:   config,
		logger:   logger,
	}
}

// Submit sends source to the provider and records a SUBMITTED job under the provider's id.
// Nothing is recorded unless the provider accepted the request.
func (s *Submitter) Submit(ctx context.Context, source domain.SourceRef, requester string) (string, error) {
	if err := source.Validate(); err != nil {
		return "", err
	}

	audioURL, err := s.locator.Locate(ctx, source)
	if err != nil {
		return "", domain.NewUpstreamError("locate source", 0, err)
	}

	req := provider.TranscriptRequest{
		AudioURL:               audioURL,
		SpeakerLabels:          true,
		WebhookURL:             s.config.CallbackURL,
		WebhookAuthHeaderName:  s.config.AuthHeaderName,
		WebhookAuthHeaderValue: s.config.AuthHeaderValue,
	}

	attempt := 0
	job, err := backoff.Retry(ctx, func() (*provider.TranscriptJob, error) {
		attempt++
		job, err := s.provider.CreateTranscript(ctx, req)
		if err != nil && !temporary(err) {
			return nil, backoff.Permanent(err)
		}
		return job, err
	},
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(uint(s.config.Retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("Provider submission failed, retrying...",
				slog.String("source", source.String()),
				slog.Int("attempt", attempt),
				slog.Duration("retry_after", next),
				slog.Any("error", err),
			)
		}),
	)
	if err != nil {
		s.logger.Error("Provider submission failed",
			slog.String("source", source.String()),
			slog.Int("attempts", attempt),
			slog.Any("error", err),
		)
		return "", domain.NewUpstreamError("create transcript", statusCode(err), err)
	}

	if _, err := s.store.Create(ctx, job.ID, source, requester); err != nil {
		s.logger.Error("Failed to record submitted job",
			slog.String("job_id", job.ID),
			slog.String("source", source.String()),
			slog.String("kind", string(domain.KindOf(err))),
			slog.Any("error", err),
		)
		return "", err
	}

	s.logger.Info("Job submitted",
		slog.String("job_id", job.ID),
		slog.String("source", source.String()),
		slog.String("requester", requester),
		slog.Int("attempts", attempt),
	)
	return job.ID, nil
}

func (s *Submitter) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if s.config.Retry.InitialInterval > 0 {
		b.InitialInterval = s.config.Retry.InitialInterval
	}
	if s.config.Retry.MaxInterval > 0 {
		b.MaxInterval = s.config.Retry.MaxInterval
	}
	if s.config.Retry.Multiplier > 0 {
		b.Multiplier = s.config.Retry.Multiplier
	}
	return b
}

// temporary reports whether a provider call is worth repeating
func temporary(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pErr *provider.Error
	if errors.As(err, &pErr) {
		return pErr.Temporary()
	}
	return true
}

func statusCode(err error) int {
	var pErr *provider.Error
	if errors.As(err, &pErr) {
		return pErr.StatusCode
	}
	return 0
}

// CallbackURL joins the public base URL and the callback route
func CallbackURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
