// Package publisher delivers processed transcripts and marks their jobs PUBLISHED.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/transcript-relay/internal/domain"
	"github.com/cuongbtq/transcript-relay/internal/jobstore"
	"github.com/cuongbtq/transcript-relay/internal/transcript"
)

// DefaultLease bounds how long one publisher may hold a job before others may retry it
const DefaultLease = 5 * time.Minute

// Publisher writes a transcript once per job. It leases the job in the store
// before writing, so concurrent publishers of one job cannot both write.
type Publisher struct {
	store  jobstore.Store
	dest   Destination
	logger *slog.Logger
	lease  time.Duration
	now    func() time.Time
}

// New creates a Publisher
func New(store jobstore.Store, dest Destination, logger *slog.Logger) *Publisher {
	return &Publisher{
		store:  store,
		dest:   dest,
		logger: logger,
		lease:  DefaultLease,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithLease sets the publish lease; it must exceed the slowest destination write.
func (p *Publisher) WithLease(d time.Duration) *Publisher {
	if d > 0 {
		p.lease = d
	}
	return p
}

// Publish writes t for a COMPLETED job and moves it to PUBLISHED.
// An already published job returns its stored reference without writing again.
// While another publisher holds the job it fails with domain.ErrPublishInProgress.
// On a write failure the job stays COMPLETED.
func (p *Publisher) Publish(ctx context.Context, jobID string, t *domain.Transcript) (string, error) {
	return p.publish(ctx, jobID, func(*domain.Job) (*domain.Transcript, error) { return t, nil })
}

// Replay publishes a job from the provider payload stored when it completed.
// It serves manual retries and the publish sweep.
func (p *Publisher) Replay(ctx context.Context, jobID string) (string, error) {
	return p.publish(ctx, jobID, func(job *domain.Job) (*domain.Transcript, error) {
		if len(job.ResultPayload) == 0 {
			return nil, fmt.Errorf("replay job %s: no stored result: %w", jobID, domain.ErrInvalidPayload)
		}
		t, err := transcript.Process(job.ResultPayload)
		if err != nil {
			return nil, fmt.Errorf("replay job %s: %w", jobID, err)
		}
		return t, nil
	})
}

func (p *Publisher) publish(ctx context.Context, jobID string, transcriptFor func(*domain.Job) (*domain.Transcript, error)) (string, error) {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.State == domain.StatePublished {
		p.logger.Debug("Job already published",
			slog.String("job_id", jobID),
			slog.String("published_ref", job.PublishedRef),
		)
		return job.PublishedRef, nil
	}

	owner := uuid.NewString()
	job, err = p.store.Claim(ctx, jobID, owner, p.lease)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Published between the read and the claim.
			if current, getErr := p.store.Get(ctx, jobID); getErr == nil && current.State == domain.StatePublished {
				return current.PublishedRef, nil
			}
		}
		return "", err
	}

	ref, err := p.write(ctx, job, transcriptFor)
	if err != nil {
		if relErr := p.store.Release(ctx, jobID, owner); relErr != nil {
			p.logger.Warn("Failed to release publish lease",
				slog.String("job_id", jobID),
				slog.Any("error", relErr),
			)
		}
		return "", err
	}

	published, err := p.store.Transition(ctx, jobID, domain.StatePublished, domain.TransitionFields{
		PublishedRef: ref,
		At:           p.now(),
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Our lease expired mid-write and another publisher finished first.
		if current, getErr := p.store.Get(ctx, jobID); getErr == nil && current.State == domain.StatePublished {
			return current.PublishedRef, nil
		}
	}
	if err != nil {
		return "", err
	}

	p.logger.Info("Transcript published",
		slog.String("job_id", jobID),
		slog.String("published_ref", published.PublishedRef),
	)
	return published.PublishedRef, nil
}

func (p *Publisher) write(ctx context.Context, job *domain.Job, transcriptFor func(*domain.Job) (*domain.Transcript, error)) (string, error) {
	t, err := transcriptFor(job)
	if err != nil {
		return "", err
	}

	doc := NewDocument(job, t, p.now())
	ref, err := p.dest.Write(ctx, doc)
	if err != nil {
		p.logger.Error("Failed to write transcript",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return "", domain.NewUpstreamError("publish transcript", 0, err)
	}

	p.logger.Debug("Transcript written",
		slog.String("job_id", job.JobID),
		slog.String("title", doc.Title),
		slog.Int("utterances", len(t.Utterances)),
	)
	return ref, nil
}
