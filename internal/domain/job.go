package domain

import "time"

// JobStatus enumerates job lifecycle states. A job mirrors the generation
// statuses so API consumers see one vocabulary.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job encapsulates one queued generation request from submission to outcome.
type Job struct {
	ID           string
	OwnerID      string
	Feature      Feature
	Status       JobStatus
	RequestJSON  []byte
	AttemptsJSON []byte
	Backend      string
	ErrorKind    ErrorKind
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
