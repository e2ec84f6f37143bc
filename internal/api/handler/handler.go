package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/transcript-relay/internal/callback"
	"github.com/cuongbtq/transcript-relay/internal/domain"
	"github.com/cuongbtq/transcript-relay/internal/jobstore"
)

// Submitter sends a stored object to the provider
type Submitter interface {
	Submit(ctx context.Context, source domain.SourceRef, requester string) (string, error)
}

// CallbackProcessor applies one raw callback delivery
type CallbackProcessor interface {
	Handle(ctx context.Context, raw []byte, signature string) callback.Outcome
}

// Replayer publishes a completed job from its stored result
type Replayer interface {
	Replay(ctx context.Context, jobID string) (string, error)
}

// UploadQueue enqueues upload events for the worker
type UploadQueue interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	IsConnected() bool
}

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger          *slog.Logger
	Store           jobstore.Store
	Submitter       Submitter
	Callbacks       CallbackProcessor
	Publisher       Replayer
	Uploads         UploadQueue
	SignatureHeader string
	CallbackPath    string
	MaxBodyBytes    int64
	ServiceName     string
	HealthChecks    map[string]HealthCheck
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     jobstore.Store
	submitter Submitter
	publisher Replayer
	uploads   UploadQueue
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		submitter: deps.Submitter,
		publisher: deps.Publisher,
		uploads:   deps.Uploads,
	}
}

// CallbackHandler receives provider webhooks
type CallbackHandler struct {
	logger          *slog.Logger
	callbacks       CallbackProcessor
	signatureHeader string
	maxBodyBytes    int64
}

// NewCallbackHandler creates a new CallbackHandler instance
func NewCallbackHandler(deps *Dependencies) *CallbackHandler {
	header := deps.SignatureHeader
	if header == "" {
		header = "X-Transcript-Signature"
	}
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	return &CallbackHandler{
		logger:          deps.Logger,
		callbacks:       deps.Callbacks,
		signatureHeader: header,
		maxBodyBytes:    maxBody,
	}
}

// statusFor maps an error kind onto an HTTP status
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindAuthentication:
		return http.StatusUnauthorized
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindInvalidTransition:
		return http.StatusConflict
	case domain.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error", "kind"}; internal details stay in the log
func respondError(c *gin.Context, err error, message string) {
	status := statusFor(err)
	body := gin.H{
		"error": message,
		"kind":  string(domain.KindOf(err)),
	}
	if status < http.StatusInternalServerError {
		body["detail"] = err.Error()
	}
	c.JSON(status, body)
}
