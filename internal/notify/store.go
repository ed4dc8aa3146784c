package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// JobWriter persists job history rows.
type JobWriter interface {
	UpsertJob(ctx context.Context, job *models.JobRecord) error
}

// StoreReporter records each job transition as a history row of its batch.
type StoreReporter struct {
	batchID uuid.UUID
	jobs    JobWriter
	timeout time.Duration
}

func NewStoreReporter(batchID uuid.UUID, jobs JobWriter, timeout time.Duration) *StoreReporter {
	return &StoreReporter{batchID: batchID, jobs: jobs, timeout: timeout}
}

func (r *StoreReporter) OnStarted(job models.Job) { r.write(job, nil, nil) }

func (r *StoreReporter) OnCompleted(job models.Job, res models.Result) { r.write(job, &res, nil) }

func (r *StoreReporter) OnFailed(job models.Job, err error) { r.write(job, nil, err) }

func (r *StoreReporter) OnCheckpoint(models.CheckpointStats) {}

func (r *StoreReporter) write(job models.Job, res *models.Result, jobErr error) {
	rec := JobRecordFor(r.batchID, job, res, jobErr)
	ctx, cancel := sendContext(r.timeout)
	defer cancel()
	if err := r.jobs.UpsertJob(ctx, rec); err != nil {
		slog.Warn("recording job history failed", "batch_id", r.batchID, "job_id", job.ID, "error", err)
	}
}

// JobRecordFor builds the history row for a job snapshot.
func JobRecordFor(batchID uuid.UUID, job models.Job, res *models.Result, jobErr error) *models.JobRecord {
	rec := &models.JobRecord{
		ID:          job.ID,
		BatchID:     batchID,
		Status:      job.Status,
		Topic:       job.Spec.Topic,
		Platform:    job.Spec.Platform,
		Attempts:    job.Attempts,
		UpdatedAt:   time.Now().UTC(),
		CompletedAt: job.CompletedAt,
	}
	if res == nil {
		res = job.Result
	}
	if res != nil {
		score := res.Score
		rec.Score = &score
		if res.ExternalRef != "" {
			ref := res.ExternalRef
			rec.ExternalRef = &ref
		}
	}
	switch {
	case job.Error != "":
		msg := job.Error
		rec.Error = &msg
	case jobErr != nil:
		msg := jobErr.Error()
		rec.Error = &msg
	}
	return rec
}

var _ models.ProgressReporter = (*StoreReporter)(nil)
