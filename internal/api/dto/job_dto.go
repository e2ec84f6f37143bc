package dto

import (
	"time"

	"github.com/cuongbtq/transcript-relay/internal/domain"
)

// SubmitJobRequest is the body of POST /api/v1/jobs and POST /api/v1/uploads
type SubmitJobRequest struct {
	Container string `json:"container"`
	Path      string `json:"path" binding:"required"`
	Requester string `json:"requester" binding:"required"`
}

type SubmitJobResponse struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

type ListJobsRequest struct {
	Requester string `form:"requester"`
	State     string `form:"state"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID        string `json:"job_id"`
	Container    string `json:"container"`
	Path         string `json:"path"`
	State        string `json:"state"`
	Requester    string `json:"requester"`
	LastError    string `json:"last_error,omitempty"`
	PublishedRef string `json:"published_ref,omitempty"`
	SubmittedAt  string `json:"submitted_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
	PublishedAt  string `json:"published_at,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

type PublishJobResponse struct {
	JobID        string `json:"job_id"`
	PublishedRef string `json:"published_ref"`
}

type CallbackResponse struct {
	Result string `json:"result"`
	JobID  string `json:"job_id,omitempty"`
	State  string `json:"state,omitempty"`
}

// NewJobDTO converts a domain job for responses
func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:        job.JobID,
		Container:    job.Source.Container,
		Path:         job.Source.Path,
		State:        job.State.String(),
		Requester:    job.Requester,
		LastError:    job.LastError,
		PublishedRef: job.PublishedRef,
		SubmittedAt:  job.SubmittedAt.Format(time.RFC3339),
		CompletedAt:  formatOptional(job.CompletedAt),
		PublishedAt:  formatOptional(job.PublishedAt),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
