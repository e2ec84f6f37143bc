package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/transcript-relay/internal/api/handler"
)

// DefaultCallbackPath is where provider webhooks arrive unless configured otherwise
const DefaultCallbackPath = "/api/v1/callbacks/transcripts"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggerMiddleware(deps.Logger))

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	jobHandler := handler.NewJobHandler(deps)
	callbackHandler := handler.NewCallbackHandler(deps)

	// POST /api/v1/callbacks/transcripts (or the configured path) - Provider webhook
	callbackPath := deps.CallbackPath
	if callbackPath == "" {
		callbackPath = DefaultCallbackPath
	}
	r.POST(callbackPath, callbackHandler.ReceiveTranscript)

	// API v1 routes
	v1 := r.Group("/api/v1", CORSMiddleware())
	{
		// Preflight requests are answered by CORSMiddleware
		v1.OPTIONS("/*path", func(*gin.Context) {})

		// POST /api/v1/uploads - Queue an upload event for the worker
		v1.POST("/uploads", jobHandler.EnqueueUpload)

		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a stored object for transcription
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/publish - Retry publishing a completed job
			jobs.POST("/:job_id/publish", jobHandler.PublishJob)
		}
	}

	return r
}
