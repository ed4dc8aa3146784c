package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// JobCache is the subset of cache.Cache the live status sink needs.
type JobCache interface {
	SetJob(ctx context.Context, job models.Job, ttl time.Duration) error
	SetCheckpoint(ctx context.Context, stats models.CheckpointStats, ttl time.Duration) error
}

// CacheReporter keeps a live snapshot of every job and the latest checkpoint in Redis.
type CacheReporter struct {
	cache   JobCache
	timeout time.Duration
}

func NewCacheReporter(c JobCache, timeout time.Duration) *CacheReporter {
	return &CacheReporter{cache: c, timeout: timeout}
}

func (r *CacheReporter) OnStarted(job models.Job) { r.setJob(job) }

func (r *CacheReporter) OnCompleted(job models.Job, res models.Result) {
	if job.Result == nil {
		job.Result = &res
	}
	r.setJob(job)
}

func (r *CacheReporter) OnFailed(job models.Job, _ error) { r.setJob(job) }

func (r *CacheReporter) OnCheckpoint(stats models.CheckpointStats) {
	ctx, cancel := sendContext(r.timeout)
	defer cancel()
	if err := r.cache.SetCheckpoint(ctx, stats, jobSnapshotTTL); err != nil {
		slog.Warn("caching checkpoint failed", "batch_id", stats.BatchID, "error", err)
	}
}

func (r *CacheReporter) setJob(job models.Job) {
	ctx, cancel := sendContext(r.timeout)
	defer cancel()
	if err := r.cache.SetJob(ctx, job, jobSnapshotTTL); err != nil {
		slog.Warn("caching job status failed", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

var _ models.ProgressReporter = (*CacheReporter)(nil)
