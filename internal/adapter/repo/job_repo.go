package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository over PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by the given executor.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job in pending state.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	status := job.Status
	if status == "" {
		status = domain.JobStatusPending
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.OwnerID,
		string(job.Feature),
		string(status),
		job.RequestJSON,
	)
	return err
}

// Claim atomically moves the oldest pending job to processing. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never grab the same row.
func (r *JobRepositoryPG) Claim(ctx context.Context) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QClaimJob)
	var (
		job     domain.Job
		ownerID *string
		feature string
		status  string
	)
	if err := row.Scan(
		&job.ID,
		&ownerID,
		&feature,
		&status,
		&job.RequestJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, err
	}
	if ownerID != nil {
		job.OwnerID = *ownerID
	}
	job.Feature = domain.Feature(feature)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

// MarkCompleted finalizes a successful job with the winning backend and the
// serialized attempt log.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID string, backend string, attemptsJSON []byte) error {
	_, err := r.sql.Exec(ctx, sqlinline.QMarkJobCompleted, jobID, backend, nullableBytes(attemptsJSON))
	return err
}

// MarkFailed finalizes a failed job with its error classification.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID string, kind domain.ErrorKind, message string, attemptsJSON []byte) error {
	_, err := r.sql.Exec(ctx, sqlinline.QMarkJobFailed, jobID, string(kind), message, nullableBytes(attemptsJSON))
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, jobID)
	var (
		job          domain.Job
		ownerID      *string
		feature      string
		status       string
		backend      *string
		errorKind    *string
		errorMessage *string
	)
	if err := row.Scan(
		&job.ID,
		&ownerID,
		&feature,
		&status,
		&job.RequestJSON,
		&job.AttemptsJSON,
		&backend,
		&errorKind,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if ownerID != nil {
		job.OwnerID = *ownerID
	}
	if backend != nil {
		job.Backend = *backend
	}
	if errorKind != nil {
		job.ErrorKind = domain.ErrorKind(*errorKind)
	}
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}
	job.Feature = domain.Feature(feature)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
