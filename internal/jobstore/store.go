// Package jobstore persists transcription jobs and enforces their state machine.
//
// Every backend implements Transition as a single conditional write at the storage
// layer, so two instances racing on the same job cannot both move it forward.
package jobstore

import (
	"context"
	"time"

	"github.com/cuongbtq/transcript-relay/internal/domain"
)

// Store is the durable mapping from job id to job state.
type Store interface {
	// Create records a new SUBMITTED job. Fails with domain.ErrJobExists if the id is taken.
	Create(ctx context.Context, jobID string, source domain.SourceRef, requester string) (*domain.Job, error)

	// Get returns the job or domain.ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// Transition atomically moves the job to "to" if the move is legal from its current state.
	// Fails with domain.ErrJobNotFound or domain.ErrInvalidTransition.
	Transition(ctx context.Context, jobID string, to domain.State, fields domain.TransitionFields) (*domain.Job, error)

	// Claim leases the publication of a COMPLETED job to owner for lease. Fails with
	// domain.ErrPublishInProgress while another owner's lease is live, or with
	// domain.ErrInvalidTransition when the job is not COMPLETED.
	Claim(ctx context.Context, jobID, owner string, lease time.Duration) (*domain.Job, error)

	// Release gives up owner's lease after a failed publish and bumps updated_at.
	// Releasing a lease that was lost is not an error.
	Release(ctx context.Context, jobID, owner string) error

	// List returns up to PageSize+1 jobs ordered by (submitted_at, job_id) descending,
	// or ascending with OldestFirst, so callers can tell whether another page exists.
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, error)
}

// JobFilter narrows List results
type JobFilter struct {
	Requester     string
	State         domain.State
	UpdatedBefore time.Time
	PageSize      int
	Cursor        *JobCursor
	OldestFirst   bool
}

// JobCursor marks the last row of the previous page
type JobCursor struct {
	SubmittedAt time.Time
	JobID       string
}

const defaultPageSize = 20

func (f JobFilter) limit() int {
	if f.PageSize <= 0 {
		return defaultPageSize + 1
	}
	return f.PageSize + 1
}

// matches applies the non-cursor filter fields to job.
func (f JobFilter) matches(job *domain.Job) bool {
	if f.Requester != "" && job.Requester != f.Requester {
		return false
	}
	if f.State != "" && job.State != f.State {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !job.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

// after reports whether job sorts after the cursor in the filter's order.
func (f JobFilter) after(job *domain.Job) bool {
	if f.Cursor == nil {
		return true
	}
	pos := &domain.Job{SubmittedAt: f.Cursor.SubmittedAt, JobID: f.Cursor.JobID}
	return f.less(pos, job)
}

// less orders jobs by (submitted_at, job_id), descending unless OldestFirst.
func (f JobFilter) less(a, b *domain.Job) bool {
	if f.OldestFirst {
		return less(b, a)
	}
	return less(a, b)
}

// less orders jobs by (submitted_at, job_id) descending.
func less(a, b *domain.Job) bool {
	if a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.JobID > b.JobID
	}
	return a.SubmittedAt.After(b.SubmittedAt)
}

func newJob(jobID string, source domain.SourceRef, requester string, now time.Time) domain.Job {
	return domain.Job{
		JobID:       jobID,
		Source:      source,
		State:       domain.StateSubmitted,
		Requester:   requester,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

func clone(job domain.Job) *domain.Job {
	c := job
	if job.ResultPayload != nil {
		c.ResultPayload = append([]byte(nil), job.ResultPayload...)
	}
	if job.PublishLease != nil {
		lease := *job.PublishLease
		c.PublishLease = &lease
	}
	return &c
}
