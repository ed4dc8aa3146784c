package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/kiranshivaraju/copyforge/internal/batch"
	"github.com/kiranshivaraju/copyforge/internal/cache"
	"github.com/kiranshivaraju/copyforge/internal/config"
	"github.com/kiranshivaraju/copyforge/internal/learning"
	"github.com/kiranshivaraju/copyforge/internal/queue"
	"github.com/kiranshivaraju/copyforge/internal/store"
	"github.com/kiranshivaraju/copyforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── logger ─────────────────────────────────────────────────────────────────

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()

	assert.True(t, newLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("warn").Enabled(ctx, slog.LevelInfo))
	assert.True(t, newLogger("error").Enabled(ctx, slog.LevelError))

	fallback := newLogger("loud")
	assert.True(t, fallback.Enabled(ctx, slog.LevelInfo))
	assert.False(t, fallback.Enabled(ctx, slog.LevelDebug))
}

// ─── batch options ──────────────────────────────────────────────────────────

func TestBatchOptions_MapsConfig(t *testing.T) {
	cfg := config.BatchConfig{
		Concurrency:            4,
		MaxQueueDepth:          50,
		AttemptTimeout:         90 * time.Second,
		MaxAttempts:            3,
		RetryDelay:             2 * time.Second,
		ExhaustedDelay:         10 * time.Second,
		SequentialThreshold:    8,
		CheckpointEvery:        5,
		CompactEvery:           7,
		MaxConsecutiveFailures: 2,
		CheckpointWait:         time.Second,
		RequireResume:          true,
		ContextMaxBytes:        2000,
	}
	summarizer := learning.DigestSummarizer{}

	opts := batchOptions(cfg, summarizer)

	assert.Equal(t, models.BatchModeAuto, opts.Mode)
	assert.Equal(t, 4, opts.Concurrency)
	assert.Equal(t, 50, opts.MaxQueueDepth)
	assert.Equal(t, 90*time.Second, opts.AttemptTimeout)
	assert.Equal(t, queue.FixedRetryPolicy{MaxAttempts: 3, Delay: 2 * time.Second, ExhaustedDelay: 10 * time.Second}, opts.Retry)
	assert.Equal(t, 8, opts.SequentialThreshold)
	assert.Equal(t, 5, opts.CheckpointEvery)
	assert.Equal(t, 2, opts.MaxConsecutiveFailures)
	assert.Equal(t, time.Second, opts.CheckpointWait)
	assert.True(t, opts.RequireResume)
	assert.Equal(t, 7, opts.Learning.CompactEvery)
	assert.Equal(t, 2000, opts.Learning.MaxContextBytes)
	assert.Equal(t, summarizer, opts.Summarizer)
}

// ─── dependencies ───────────────────────────────────────────────────────────

func TestBuildDependencies_WiresEveryRoute(t *testing.T) {
	svc := batch.NewService(context.Background(),
		models.ExecutorFunc(func(context.Context, models.JobSpec) (models.Result, error) { return models.Result{}, nil }),
		batch.Options{}, nil, nil)

	var s store.Store = (*store.PostgresStore)(nil)
	var c cache.Cache = (*cache.RedisCache)(nil)
	deps := buildDependencies(svc, s, c)

	assert.NotNil(t, deps.Auth)
	assert.NotNil(t, deps.RateLimit)
	assert.NotNil(t, deps.HealthHandler)
	assert.NotNil(t, deps.SubmitBatch)
	assert.NotNil(t, deps.GetBatch)
	assert.NotNil(t, deps.CancelBatch)
	assert.NotNil(t, deps.ResumeBatch)
	assert.NotNil(t, deps.ReplaceItem)
	assert.NotNil(t, deps.ArchiveItem)
	assert.NotNil(t, deps.GetJob)
	assert.NotNil(t, deps.GetRecord)
	assert.NotNil(t, deps.CreateKeyHandler)
	assert.NotNil(t, deps.ListKeysHandler)
	assert.NotNil(t, deps.RevokeKeyHandler)
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "AI_PROVIDER"} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("AI_PROVIDER", "mock")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
