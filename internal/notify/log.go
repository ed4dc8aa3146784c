package notify

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// LogReporter writes every event to the default slog logger.
type LogReporter struct {
	batchID uuid.UUID
}

func NewLogReporter(batchID uuid.UUID) *LogReporter {
	return &LogReporter{batchID: batchID}
}

func (r *LogReporter) OnStarted(job models.Job) {
	slog.Debug("job started",
		"batch_id", r.batchID,
		"job_id", job.ID,
		"attempt", job.Attempts,
		"topic", job.Spec.Topic,
	)
}

func (r *LogReporter) OnCompleted(job models.Job, res models.Result) {
	slog.Info("job completed",
		"batch_id", r.batchID,
		"job_id", job.ID,
		"attempts", job.Attempts,
		"score", res.Score,
		"external_ref", res.ExternalRef,
		"duration_ms", job.Duration.Milliseconds(),
	)
}

func (r *LogReporter) OnFailed(job models.Job, err error) {
	slog.Warn("job failed",
		"batch_id", r.batchID,
		"job_id", job.ID,
		"status", job.Status,
		"error_kind", job.ErrorKind,
		"attempts", job.Attempts,
		"error", err,
	)
}

func (r *LogReporter) OnCheckpoint(stats models.CheckpointStats) {
	slog.Info("batch checkpoint",
		"batch_id", stats.BatchID,
		"processed", stats.Processed,
		"total_planned", stats.TotalPlanned,
		"failed", stats.Failed,
		"pending", stats.Conversation.Pending,
		"avg_score", stats.Learning.AvgScore,
	)
}

var _ models.ProgressReporter = (*LogReporter)(nil)
