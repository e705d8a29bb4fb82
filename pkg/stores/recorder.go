package stores

import (
	"context"

	"github.com/docstage/docstage/pkg/engine"
)

// Recorder adapts a Store to engine.JobRecorder.
type Recorder struct {
	store Store
}

// NewRecorder wraps store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// RecordJob stores one execution.
func (r *Recorder) RecordJob(ctx context.Context, rec engine.JobRecord) error {
	return r.store.CreateJob(ctx, JobFromRecord(rec))
}

// RecordBatch stores one batch summary.
func (r *Recorder) RecordBatch(ctx context.Context, rec engine.BatchRecord) error {
	return r.store.CreateBatch(ctx, &Batch{
		ID:           rec.ID,
		Operation:    string(rec.Operation),
		Total:        rec.Total,
		SuccessCount: rec.SuccessCount,
		FailureCount: rec.FailureCount,
		ArchiveBytes: int64(rec.ArchiveBytes),
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
	})
}

// JobFromRecord converts an engine record into a row.
func JobFromRecord(rec engine.JobRecord) *Job {
	job := &Job{
		ID:          rec.ID,
		Operation:   string(rec.Operation),
		InputName:   rec.InputName,
		Status:      JobStatus(rec.Status),
		InputBytes:  int64(rec.InputBytes),
		OutputBytes: int64(rec.OutputBytes),
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if rec.BatchID != "" {
		job.BatchID = optional(rec.BatchID)
	}
	if rec.FailureKind != "" {
		job.FailureKind = optional(string(rec.FailureKind))
	}
	if rec.Message != "" {
		job.Message = optional(rec.Message)
	}
	return job
}

func optional(s string) *string {
	return &s
}
