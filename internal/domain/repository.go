package domain

import "context"

// JobRepository defines persistence for job entities.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	// Claim atomically moves the oldest pending job to processing and
	// returns it, or ErrNoJobAvailable when the queue is empty.
	Claim(ctx context.Context) (*Job, error)
	MarkCompleted(ctx context.Context, jobID string, backend string, attemptsJSON []byte) error
	MarkFailed(ctx context.Context, jobID string, kind ErrorKind, message string, attemptsJSON []byte) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
}

// AssetRepository handles persistence for generated assets.
type AssetRepository interface {
	ListByJobID(ctx context.Context, jobID string) ([]Asset, error)
	SaveAll(ctx context.Context, jobID string, assets []Asset) error
}
