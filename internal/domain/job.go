package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// SourceRef points at a stored audio object.
type SourceRef struct {
	Container string `json:"container"`
	Path      string `json:"path"`
}

// String renders the reference as "container/path".
func (r SourceRef) String() string {
	if r.Container == "" {
		return r.Path
	}
	return r.Container + "/" + strings.TrimPrefix(r.Path, "/")
}

// FileName returns the base name of the object, without extension.
func (r SourceRef) FileName() string {
	base := path.Base(r.Path)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// Validate checks that the reference names an object.
func (r SourceRef) Validate() error {
	if strings.TrimSpace(r.Path) == "" {
		return fmt.Errorf("%w: source path is required", ErrInvalidPayload)
	}
	return nil
}

// Job is one audio-to-transcript task tracked from submission to publication.
type Job struct {
	JobID         string     `json:"job_id"`
	Source        SourceRef  `json:"source"`
	State         State      `json:"state"`
	Requester     string     `json:"requester"`
	LastError     string     `json:"last_error,omitempty"`
	ResultPayload []byte     `json:"result_payload,omitempty"`
	PublishedRef  string     `json:"published_ref,omitempty"`
	PublishOwner  string     `json:"publish_owner,omitempty"`
	PublishLease  *time.Time `json:"publish_lease,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TransitionFields carries the optional columns written together with a state change.
type TransitionFields struct {
	LastError     string
	ResultPayload []byte
	PublishedRef  string
	At            time.Time
}

// Apply returns a copy of job moved to state "to" with fields applied.
// It does not check legality; stores do that atomically.
func (j Job) Apply(to State, f TransitionFields) Job {
	at := f.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	next := j
	next.State = to
	next.UpdatedAt = at

	switch to {
	case StateCompleted:
		next.CompletedAt = &at
		if f.ResultPayload != nil {
			next.ResultPayload = f.ResultPayload
		}
	case StateFailed:
		next.CompletedAt = &at
		next.LastError = f.LastError
	case StatePublished:
		next.PublishedAt = &at
		next.PublishedRef = f.PublishedRef
		next.PublishOwner = ""
		next.PublishLease = nil
	}

	return next
}

// Claim returns a copy of a COMPLETED job leased to owner until "until". A lease
// held by someone else blocks the claim until it expires at now.
func (j Job) Claim(owner string, now, until time.Time) (Job, error) {
	if j.State != StateCompleted {
		return Job{}, fmt.Errorf("claim job %s in state %s: %w", j.JobID, j.State, ErrInvalidTransition)
	}
	if j.PublishOwner != "" && j.PublishOwner != owner && j.PublishLease != nil && j.PublishLease.After(now) {
		return Job{}, fmt.Errorf("claim job %s: %w", j.JobID, ErrPublishInProgress)
	}

	next := j
	next.PublishOwner = owner
	next.PublishLease = &until
	return next, nil
}

// Release drops owner's lease and stamps the failed attempt at "at". It reports
// false when owner no longer holds the lease.
func (j Job) Release(owner string, at time.Time) (Job, bool) {
	if j.State != StateCompleted || j.PublishOwner != owner {
		return j, false
	}

	next := j
	next.PublishOwner = ""
	next.PublishLease = nil
	next.UpdatedAt = at
	return next, true
}

// CallbackEvent is an inbound provider notification, consumed once.
type CallbackEvent struct {
	JobID      string
	Status     CallbackStatus
	Error      string
	RawPayload []byte
	Signature  string
}

// CallbackStatus is the normalized status carried by a callback.
type CallbackStatus string

// Callback status constants
const (
	CallbackCompleted  CallbackStatus = "completed"
	CallbackFailed     CallbackStatus = "failed"
	CallbackProcessing CallbackStatus = "processing"
)

// ParseCallbackStatus maps provider spellings onto CallbackStatus.
func ParseCallbackStatus(s string) (CallbackStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed":
		return CallbackCompleted, nil
	case "failed", "error":
		return CallbackFailed, nil
	case "processing", "queued":
		return CallbackProcessing, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, s)
	}
}

// UploadEvent announces a new audio object from the storage collaborator.
type UploadEvent struct {
	Container string `json:"container"`
	Path      string `json:"path"`
	Requester string `json:"requester"`
}

// Source returns the event's object reference.
func (e UploadEvent) Source() SourceRef {
	return SourceRef{Container: e.Container, Path: e.Path}
}
