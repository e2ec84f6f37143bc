// Package callback reconciles signed provider notifications with stored jobs.
//
// Handle is transport-free: the HTTP layer reads the raw body and signature header
// and maps the returned Outcome onto a status code.
package callback

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/transcript-relay/internal/domain"
	"github.com/cuongbtq/transcript-relay/internal/jobstore"
	"github.com/cuongbtq/transcript-relay/internal/transcript"
)

// Result is what happened to a callback
type Result string

// Callback results
const (
	// Accepted: this delivery moved the job to a terminal state
	Accepted Result = "accepted"
	// Duplicate: the job was already terminal; nothing changed
	Duplicate Result = "duplicate"
	// Progress: a non-terminal status notification
	Progress Result = "progress"
	// Rejected: see Outcome.Err
	Rejected Result = "rejected"
)

// Outcome is the result of handling one callback delivery
type Outcome struct {
	Result Result
	JobID  string
	State  domain.State
	Err    error
}

// Verifier checks a signature over the raw body
type Verifier interface {
	Verify(raw []byte, signature string) bool
}

// Publisher delivers a processed transcript
type Publisher interface {
	Publish(ctx context.Context, jobID string, t *domain.Transcript) (string, error)
}

// Handler processes callback deliveries
type Handler struct {
	verifier  Verifier
	store     jobstore.Store
	publisher Publisher
	logger    *slog.Logger
}

// NewHandler creates a Handler
func NewHandler(verifier Verifier, store jobstore.Store, publisher Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		verifier:  verifier,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Handle verifies, parses and applies one delivery. Any number of duplicate or
// concurrent deliveries of the same notification produce at most one transition.
func (h *Handler) Handle(ctx context.Context, raw []byte, signature string) Outcome {
	if !h.verifier.Verify(raw, signature) {
		return h.reject(ctx, "", domain.ErrInvalidSignature)
	}

	event, err := transcript.ParseEvent(raw, signature)
	if err != nil {
		return h.reject(ctx, event.JobID, err)
	}

	job, err := h.store.Get(ctx, event.JobID)
	if err != nil {
		return h.reject(ctx, event.JobID, err)
	}

	if job.State.IsTerminal() {
		return h.duplicate(job, event)
	}

	if event.Status == domain.CallbackProcessing {
		return h.progress(ctx, job)
	}

	to, fields := domain.StateCompleted, domain.TransitionFields{ResultPayload: raw}
	if event.Status == domain.CallbackFailed {
		to, fields = domain.StateFailed, domain.TransitionFields{LastError: event.Error}
	}

	updated, err := h.store.Transition(ctx, job.JobID, to, fields)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Lost the race to a concurrent delivery.
		current, getErr := h.store.Get(ctx, job.JobID)
		if getErr == nil && current.State.IsTerminal() {
			return h.duplicate(current, event)
		}
	}
	if err != nil {
		return h.reject(ctx, job.JobID, err)
	}

	h.logger.Info("Callback accepted",
		slog.String("job_id", updated.JobID),
		slog.String("from", string(job.State)),
		slog.String("to", string(updated.State)),
	)

	if updated.State == domain.StateCompleted {
		h.deliver(ctx, updated.JobID, raw)
	}

	return Outcome{Result: Accepted, JobID: updated.JobID, State: updated.State}
}

// deliver processes and publishes a newly completed job. Failures leave the job
// COMPLETED for the publish sweep and do not change the outcome.
func (h *Handler) deliver(ctx context.Context, jobID string, raw []byte) {
	t, err := transcript.Process(raw)
	if err != nil {
		h.logger.Error("Failed to process transcript",
			slog.String("job_id", jobID),
			slog.String("kind", string(domain.KindOf(err))),
			slog.Any("error", err),
		)
		return
	}

	_, err = h.publisher.Publish(ctx, jobID, t)
	if errors.Is(err, domain.ErrPublishInProgress) {
		h.logger.Info("Transcript already being published",
			slog.String("job_id", jobID),
		)
		return
	}
	if err != nil {
		h.logger.Error("Failed to publish transcript",
			slog.String("job_id", jobID),
			slog.String("kind", string(domain.KindOf(err))),
			slog.Any("error", err),
		)
	}
}

func (h *Handler) progress(ctx context.Context, job *domain.Job) Outcome {
	if job.State != domain.StateSubmitted {
		return Outcome{Result: Progress, JobID: job.JobID, State: job.State}
	}

	updated, err := h.store.Transition(ctx, job.JobID, domain.StateProcessing, domain.TransitionFields{})
	switch {
	case err == nil:
		h.logger.Info("Job processing",
			slog.String("job_id", job.JobID),
		)
		return Outcome{Result: Progress, JobID: job.JobID, State: updated.State}
	case errors.Is(err, domain.ErrInvalidTransition):
		// Another delivery moved it on; a progress note has nothing left to do.
		return Outcome{Result: Progress, JobID: job.JobID, State: job.State}
	default:
		return h.reject(ctx, job.JobID, err)
	}
}

func (h *Handler) duplicate(job *domain.Job, event domain.CallbackEvent) Outcome {
	h.logger.Info("Duplicate callback ignored",
		slog.String("job_id", job.JobID),
		slog.String("state", string(job.State)),
		slog.String("status", string(event.Status)),
	)
	return Outcome{Result: Duplicate, JobID: job.JobID, State: job.State}
}

func (h *Handler) reject(ctx context.Context, jobID string, err error) Outcome {
	kind := domain.KindOf(err)
	level := slog.LevelWarn
	if kind == domain.KindStorage || kind == domain.KindInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "Callback rejected",
		slog.String("job_id", jobID),
		slog.String("kind", string(kind)),
		slog.Any("error", err),
	)
	return Outcome{Result: Rejected, JobID: jobID, Err: err}
}
