// Package provider is a minimal client for an AssemblyAI-style asynchronous transcription API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	transcriptPath = "/v2/transcript"
	maxErrorBody   = 4 << 10
)

// Config holds the provider endpoint and credentials
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// HTTPClient is optional and defaults to a client with Timeout
	HTTPClient *http.Client
}

// TranscriptRequest is the body of a transcript creation call
type TranscriptRequest struct {
	AudioURL               string `json:"audio_url"`
	SpeakerLabels          bool   `json:"speaker_labels"`
	WebhookURL             string `json:"webhook_url,omitempty"`
	WebhookAuthHeaderName  string `json:"webhook_auth_header_name,omitempty"`
	WebhookAuthHeaderValue string `json:"webhook_auth_header_value,omitempty"`
}

// TranscriptJob is the provider's acknowledgement of a queued transcript
type TranscriptJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Error is a non-2xx provider response
type Error struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: status=%d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the same request may succeed later
func (e *Error) Temporary() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// Client calls the provider's REST API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a provider client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		logger:     logger,
	}
}

// CreateTranscript queues audio for transcription. The result arrives later on the webhook.
func (c *Client) CreateTranscript(ctx context.Context, req TranscriptRequest) (*TranscriptJob, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transcriptPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build transcript request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.apiKey)

	var job TranscriptJob
	if err := c.do(httpReq, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, errors.New("provider: response has no transcript id")
	}

	c.logger.Debug("Transcript queued at provider",
		slog.String("job_id", job.ID),
		slog.String("status", job.Status),
	)
	return &job, nil
}

func (c *Client) do(req *http.Request, v interface{}) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		resBody, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		pErr := &Error{}
		if err := json.Unmarshal(resBody, pErr); err != nil || pErr.Message == "" {
			pErr.Message = strings.TrimSpace(string(resBody))
		}
		pErr.StatusCode = res.StatusCode
		return pErr
	}

	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
