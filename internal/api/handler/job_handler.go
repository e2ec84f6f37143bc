package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/transcript-relay/internal/api/dto"
	"github.com/cuongbtq/transcript-relay/internal/domain"
	"github.com/cuongbtq/transcript-relay/internal/jobstore"
)

const maxPageSize = 100

// SubmitJob handles POST /api/v1/jobs
// Submits a stored audio object to the provider synchronously
func (h *JobHandler) SubmitJob(c *gin.Context) {
	h.logger.Info("SubmitJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	source := domain.SourceRef{Container: req.Container, Path: req.Path}
	jobID, err := h.submitter.Submit(c.Request.Context(), source, req.Requester)
	if err != nil {
		h.logger.Error("Failed to submit job",
			slog.String("source", source.String()),
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		respondError(c, err, "Failed to submit job")
		return
	}

	c.JSON(http.StatusCreated, dto.SubmitJobResponse{
		JobID: jobID,
		State: domain.StateSubmitted.String(),
	})
}

// EnqueueUpload handles POST /api/v1/uploads
// Queues an upload event for the worker instead of submitting inline
func (h *JobHandler) EnqueueUpload(c *gin.Context) {
	h.logger.Info("EnqueueUpload called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	if h.uploads == nil || !h.uploads.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Upload queue unavailable",
		})
		return
	}

	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	event := domain.UploadEvent{Container: req.Container, Path: req.Path, Requester: req.Requester}
	if err := event.Source().Validate(); err != nil {
		respondError(c, err, "Invalid upload")
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal upload event", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue upload",
		})
		return
	}

	if err := h.uploads.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to enqueue upload",
			slog.String("source", event.Source().String()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to enqueue upload",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "queued",
		"source": event.Source().String(),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("GetJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	job, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		if domain.KindOf(err) != domain.KindNotFound {
			h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
		respondError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	state := domain.State(req.State)
	if req.State != "" && !state.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid state",
		})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := jobstore.JobFilter{
		Requester: req.Requester,
		State:     state,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	}

	jobs, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = dto.NewJobDTO(job)
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&jobstore.JobCursor{
			SubmittedAt: lastJob.SubmittedAt,
			JobID:       lastJob.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// PublishJob handles POST /api/v1/jobs/:job_id/publish
// Retries publishing a completed job; a published job returns its reference
func (h *JobHandler) PublishJob(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("PublishJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	ref, err := h.publisher.Replay(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error("Failed to publish job",
			slog.String("job_id", jobID),
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		respondError(c, err, "Failed to publish job")
		return
	}

	c.JSON(http.StatusOK, dto.PublishJobResponse{
		JobID:        jobID,
		PublishedRef: ref,
	})
}
