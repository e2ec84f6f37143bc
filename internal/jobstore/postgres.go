package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transcript-relay/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS transcription_jobs (
	job_id           TEXT PRIMARY KEY,
	source_container TEXT NOT NULL DEFAULT '',
	source_path      TEXT NOT NULL,
	state            TEXT NOT NULL,
	requester        TEXT NOT NULL DEFAULT '',
	last_error       TEXT NOT NULL DEFAULT '',
	result_payload   BYTEA,
	published_ref    TEXT NOT NULL DEFAULT '',
	publish_owner    TEXT NOT NULL DEFAULT '',
	publish_lease    TIMESTAMPTZ,
	submitted_at     TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	published_at     TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ NOT NULL
);
ALTER TABLE transcription_jobs ADD COLUMN IF NOT EXISTS publish_owner TEXT NOT NULL DEFAULT '';
ALTER TABLE transcription_jobs ADD COLUMN IF NOT EXISTS publish_lease TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS idx_transcription_jobs_state_updated
	ON transcription_jobs (state, updated_at);
CREATE INDEX IF NOT EXISTS idx_transcription_jobs_submitted
	ON transcription_jobs (submitted_at DESC, job_id DESC);
`

const jobColumns = `
	job_id, source_container, source_path, state, requester, last_error,
	result_payload, published_ref, publish_owner, publish_lease,
	submitted_at, completed_at, published_at, updated_at
`

// jobRow is the transcription_jobs row
type jobRow struct {
	JobID           string       `db:"job_id"`
	SourceContainer string       `db:"source_container"`
	SourcePath      string       `db:"source_path"`
	State           string       `db:"state"`
	Requester       string       `db:"requester"`
	LastError       string       `db:"last_error"`
	ResultPayload   []byte       `db:"result_payload"`
	PublishedRef    string       `db:"published_ref"`
	PublishOwner    string       `db:"publish_owner"`
	PublishLease    sql.NullTime `db:"publish_lease"`
	SubmittedAt     time.Time    `db:"submitted_at"`
	CompletedAt     sql.NullTime `db:"completed_at"`
	PublishedAt     sql.NullTime `db:"published_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func (r *jobRow) toDomain() *domain.Job {
	job := &domain.Job{
		JobID:         r.JobID,
		Source:        domain.SourceRef{Container: r.SourceContainer, Path: r.SourcePath},
		State:         domain.State(r.State),
		Requester:     r.Requester,
		LastError:     r.LastError,
		ResultPayload: r.ResultPayload,
		PublishedRef:  r.PublishedRef,
		PublishOwner:  r.PublishOwner,
		SubmittedAt:   r.SubmittedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		job.CompletedAt = &t
	}
	if r.PublishedAt.Valid {
		t := r.PublishedAt.Time.UTC()
		job.PublishedAt = &t
	}
	if r.PublishLease.Valid {
		t := r.PublishLease.Time.UTC()
		job.PublishLease = &t
	}
	return job
}

// PostgresStore handles job persistence in PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the jobs table and its indexes if missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return domain.NewStorageError("ensure schema", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, jobID string, source domain.SourceRef, requester string) (*domain.Job, error) {
	query := `
		INSERT INTO transcription_jobs (
			job_id, source_container, source_path, state, requester,
			submitted_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $6
		)
		RETURNING ` + jobColumns

	now := time.Now().UTC()

	var row jobRow
	err := s.db.QueryRowxContext(ctx, query,
		jobID,
		source.Container,
		source.Path,
		domain.StateSubmitted,
		requester,
		now,
	).StructScan(&row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("create job %s: %w", jobID, domain.ErrJobExists)
		}
		return nil, domain.NewStorageError("create job", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", jobID),
		slog.String("source", source.String()),
	)

	return row.toDomain(), nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE job_id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get job %s: %w", jobID, domain.ErrJobNotFound)
		}
		return nil, domain.NewStorageError("get job", err)
	}

	return row.toDomain(), nil
}

// Transition moves the job with one conditional UPDATE guarded by the allowed
// source states. When no row matches, the job is re-read to tell a missing job
// from an illegal move.
func (s *PostgresStore) Transition(ctx context.Context, jobID string, to domain.State, fields domain.TransitionFields) (*domain.Job, error) {
	query := `
		UPDATE transcription_jobs
		SET state = $2::text,
			last_error = CASE WHEN $2::text = $8::text THEN $3::text ELSE last_error END,
			result_payload = COALESCE($4::bytea, result_payload),
			published_ref = CASE WHEN $2::text = $9::text THEN $5::text ELSE published_ref END,
			completed_at = CASE WHEN $2::text IN ($10::text, $8::text) THEN $6::timestamptz ELSE completed_at END,
			published_at = CASE WHEN $2::text = $9::text THEN $6::timestamptz ELSE published_at END,
			publish_owner = CASE WHEN $2::text = $9::text THEN '' ELSE publish_owner END,
			publish_lease = CASE WHEN $2::text = $9::text THEN NULL ELSE publish_lease END,
			updated_at = $6::timestamptz
		WHERE job_id = $1
		  AND state = ANY($7::text[])
		RETURNING ` + jobColumns

	at := fields.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	from := domain.AllowedFrom(to)
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	var row jobRow
	err := s.db.QueryRowxContext(ctx, query,
		jobID,
		string(to),
		fields.LastError,
		nullableBytes(fields.ResultPayload),
		fields.PublishedRef,
		at,
		pq.Array(allowed),
		string(domain.StateFailed),
		string(domain.StatePublished),
		string(domain.StateCompleted),
	).StructScan(&row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewStorageError("transition job", err)
		}

		current, getErr := s.Get(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}

		s.logger.Warn("Job transition rejected",
			slog.String("job_id", jobID),
			slog.String("from", current.State.String()),
			slog.String("to", to.String()),
		)
		return nil, fmt.Errorf("transition job %s from %s to %s: %w", jobID, current.State, to, domain.ErrInvalidTransition)
	}

	s.logger.Info("Job state updated",
		slog.String("job_id", jobID),
		slog.String("state", to.String()),
	)

	return row.toDomain(), nil
}

// nullableBytes sends SQL NULL for an empty payload; lib/pq encodes a nil []byte
// as an empty bytea, which COALESCE would keep.
func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Claim sets the lease with one conditional UPDATE that only matches a COMPLETED
// job whose lease is free, expired, or already owner's.
func (s *PostgresStore) Claim(ctx context.Context, jobID, owner string, lease time.Duration) (*domain.Job, error) {
	query := `
		UPDATE transcription_jobs
		SET publish_owner = $2, publish_lease = $3
		WHERE job_id = $1
		  AND state = $5
		  AND (publish_owner = '' OR publish_owner = $2 OR publish_lease IS NULL OR publish_lease <= $4)
		RETURNING ` + jobColumns

	now := time.Now().UTC()

	var row jobRow
	err := s.db.QueryRowxContext(ctx, query, jobID, owner, now.Add(lease), now, string(domain.StateCompleted)).StructScan(&row)
	if err == nil {
		return row.toDomain(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewStorageError("claim job", err)
	}

	current, getErr := s.Get(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	// Re-run the check on the row as it is now to report why the claim lost.
	if _, claimErr := current.Claim(owner, now, now.Add(lease)); claimErr != nil {
		return nil, claimErr
	}
	return nil, fmt.Errorf("claim job %s: %w", jobID, domain.ErrPublishInProgress)
}

func (s *PostgresStore) Release(ctx context.Context, jobID, owner string) error {
	query := `
		UPDATE transcription_jobs
		SET publish_owner = '', publish_lease = NULL, updated_at = $3
		WHERE job_id = $1 AND publish_owner = $2 AND state = $4`

	if _, err := s.db.ExecContext(ctx, query, jobID, owner, time.Now().UTC(), string(domain.StateCompleted)); err != nil {
		return domain.NewStorageError("release job", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Requester != "" {
		query += fmt.Sprintf(" AND requester = $%d", argIdx)
		args = append(args, filter.Requester)
		argIdx++
	}

	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}

	if !filter.UpdatedBefore.IsZero() {
		query += fmt.Sprintf(" AND updated_at < $%d", argIdx)
		args = append(args, filter.UpdatedBefore)
		argIdx++
	}

	cmp, order := "<", "DESC"
	if filter.OldestFirst {
		cmp, order = ">", "ASC"
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (submitted_at, job_id) %s ($%d, $%d)", cmp, argIdx, argIdx+1)
		args = append(args, filter.Cursor.SubmittedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += fmt.Sprintf(" ORDER BY submitted_at %s, job_id %s", order, order)

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.limit())

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, domain.NewStorageError("list jobs", err)
	}

	jobs := make([]*domain.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}
	return jobs, nil
}
