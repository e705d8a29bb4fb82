package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a job or batch does not exist.
var ErrNotFound = errors.New("not found")

// JobStatus represents the final status of a job
type JobStatus string

const (
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one recorded document operation. Passwords are never stored.
type Job struct {
	ID          string    `json:"id"`
	BatchID     *string   `json:"batch_id,omitempty"`
	Operation   string    `json:"operation"`
	InputName   string    `json:"input_name"`
	Status      JobStatus `json:"status"`
	FailureKind *string   `json:"failure_kind,omitempty"`
	Message     *string   `json:"message,omitempty"`
	InputBytes  int64     `json:"input_bytes"`
	OutputBytes int64     `json:"output_bytes"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Duration returns how long the job ran.
func (j *Job) Duration() time.Duration {
	return j.CompletedAt.Sub(j.StartedAt)
}

// Batch is one recorded batch run.
type Batch struct {
	ID           string    `json:"id"`
	Operation    string    `json:"operation"`
	Total        int       `json:"total"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	ArchiveBytes int64     `json:"archive_bytes"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// JobFilter narrows ListJobs. Empty fields match everything.
type JobFilter struct {
	Operation string
	Status    JobStatus
	BatchID   string
	Since     time.Time
	Limit     int
	Offset    int
}

// OperationStats aggregates jobs per operation.
type OperationStats struct {
	Operation string `json:"operation"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Store defines the interface for the history store
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Job operations
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
	DeleteJobsBefore(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) ([]OperationStats, error)

	// Batch operations
	CreateBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*Batch, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
