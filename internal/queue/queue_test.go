package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/internal/queue"
	"github.com/kiranshivaraju/copyforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func fastRetry(max int) queue.FixedRetryPolicy {
	return queue.FixedRetryPolicy{MaxAttempts: max, Delay: time.Millisecond, ExhaustedDelay: 2 * time.Millisecond}
}

func spec(topic string) models.JobSpec {
	return models.JobSpec{Topic: topic, Platform: "linkedin"}
}

type recordingReporter struct {
	mu        sync.Mutex
	started   int
	completed int
	failed    []error
}

func (r *recordingReporter) OnStarted(models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingReporter) OnCompleted(models.Job, models.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
}

func (r *recordingReporter) OnFailed(_ models.Job, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *recordingReporter) OnCheckpoint(models.CheckpointStats) {}

func newQueue(t *testing.T, cfg queue.Config, exec models.Executor) *queue.JobQueue {
	t.Helper()
	q := queue.New(context.Background(), cfg, exec)
	t.Cleanup(q.Close)
	return q
}

// --- tests ---

func TestJobQueue_CompletesAllJobs(t *testing.T) {
	exec := models.ExecutorFunc(func(_ context.Context, s models.JobSpec) (models.Result, error) {
		return models.Result{Content: "post about " + s.Topic, Score: 8}, nil
	})
	q := newQueue(t, queue.Config{Concurrency: 2, Retry: fastRetry(2)}, exec)

	for _, topic := range []string{"a", "b", "c"} {
		_, err := q.Admit(spec(topic))
		require.NoError(t, err)
	}

	res, err := q.AwaitAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Completed, 3)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 3, res.Stats.Completed)
	assert.Equal(t, 0, res.Stats.Retries)
	for _, job := range res.Completed {
		require.NotNil(t, job.Result)
		assert.Equal(t, "post about "+job.Spec.Topic, job.Result.Content)
		assert.Equal(t, 1, job.Attempts)
		assert.NotNil(t, job.CompletedAt)
	}
}

func TestJobQueue_ConcurrencyBound(t *testing.T) {
	var inFlight, peak int32
	exec := models.ExecutorFunc(func(_ context.Context, _ models.JobSpec) (models.Result, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return models.Result{Content: "ok"}, nil
	})
	q := newQueue(t, queue.Config{Concurrency: 3}, exec)

	for i := 0; i < 12; i++ {
		_, err := q.Admit(spec("t"))
		require.NoError(t, err)
	}
	res, err := q.AwaitAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Completed, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestJobQueue_TransientFailureRetriedUpToMaxAttempts(t *testing.T) {
	var calls int32
	exec := models.ExecutorFunc(func(_ context.Context, _ models.JobSpec) (models.Result, error) {
		atomic.AddInt32(&calls, 1)
		return models.Result{}, queue.Transient(errors.New("connection reset"))
	})
	q := newQueue(t, queue.Config{Concurrency: 1, Retry: fastRetry(3)}, exec)

	id, err := q.Admit(spec("t"))
	require.NoError(t, err)
	job, err := q.Await(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, string(queue.KindTransient), job.ErrorKind)
	assert.Contains(t, job.Error, "connection reset")
	assert.Equal(t, 2, q.Stats().Retries)
}

func TestJobQueue_PermanentFailureNotRetried(t *testing.T) {
	var calls int32
	exec := models.ExecutorFunc(func(_ context.Context, _ models.JobSpec) (models.Result, error) {
		atomic.AddInt32(&calls, 1)
		return models.Result{}, queue.Permanent(errors.New("topic is required"))
	})
	q := newQueue(t, queue.Config{Concurrency: 1, Retry: fastRetry(5)}, exec)

	id, err := q.Admit(spec(""))
	require.NoError(t, err)
	job, err := q.Await(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, string(queue.KindPermanent), job.ErrorKind)
}

func TestJobQueue_FlakyJobsCountRetries(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	exec := models.ExecutorFunc(func(_ context.Context, s models.JobSpec) (models.Result, error) {
		mu.Lock()
		seen[s.Topic]++
		n := seen[s.Topic]
		mu.Unlock()
		if (s.Topic == "2" || s.Topic == "4") && n == 1 {
			return models.Result{}, queue.Transient(errors.New("flaky"))
		}
		return models.Result{Content: s.Topic}, nil
	})
	q := newQueue(t, queue.Config{Concurrency: 2, Retry: fastRetry(2)}, exec)

	for _, topic := range []string{"1", "2", "3", "4", "5"} {
		_, err := q.Admit(spec(topic))
		require.NoError(t, err)
	}
	res, err := q.AwaitAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Completed, 5)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 2, res.Stats.Retries)
}

func TestJobQueue_UnclassifiedErrorIsRetried(t *testing.T) {
	var calls int32
	exec := models.ExecutorFunc(func(_ context.Context, _ models.JobSpec) (models.Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return models.Result{}, errors.New("something odd")
		}
		return models.Result{Content: "ok"}, nil
	})
	q := newQueue(t, queue.Config{Concurrency: 1, Retry: fastRetry(2)}, exec)

	id, err := q.Admit(spec("t"))
	require.NoError(t, err)
	job, err := q.Await(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestJobQueue_AttemptTimeout(t *testing.T) {
	exec := models.ExecutorFunc(func(ctx context.Context, _ models.JobSpec) (models.Result, error) {
		<-ctx.Done()
		return models.Result{}, ctx.Err()
	})
	q := newQueue(t, queue.Config{
		Concurrency:    1,
		AttemptTimeout: 20 * time.Millisecond,
		Retry:          fastRetry(2),
	}, exec)

	id, err := q.Admit(spec("slow"))
	require.NoError(t, err)
	job, err := q.Await(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Contains(t, job.Error, "deadline exceeded")
}

func TestJobQueue_CancelQueuedJob(t *testing.T) {
	release := make(chan struct{})
	exec := models.ExecutorFunc(func(_ context.Context, _ models.JobSpec) (models.Result, error) {
		<-release
		return models.Result{Content: "ok"}, nil
	})
	rep := &recordingReporter{}
	q := newQueue(t, queue.Config{Concurrency: 1, Reporter: rep}, exec)

	first, err := q.Admit(spec("first"))
	require.NoError(t, err)
	second, err := q.Admit(spec("second"))
	require.NoError(t, err)

	assert.True(t, q.Cancel(second))
	close(release)

	res, err := q.AwaitAll(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Completed, 1)
	assert.Equal(t, first, res.Completed[0].ID)
	require.Len(t, res.Cancelled, 1)
	assert.Equal(t, second, res.Cancelled[0].ID)
	assert.Equal(t, 0, res.Cancelled[0].Attempts)
	assert.False(t, q.Cancel(second), "terminal job cannot be cancelled again")
}

func TestJobQueue_CancelProcessingJobStopsBeforeRetry(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	exec := models.ExecutorFunc(func(_ context.Context, _ models.JobSpec) (models.Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return models.Result{}, queue.Transient(errors.New("busy"))
	})
	q := newQueue(t, queue.Config{
		Concurrency: 1,
		Retry:       queue.FixedRetryPolicy{MaxAttempts: 3, Delay: time.Hour},
	}, exec)

	id, err := q.Admit(spec("t"))
	require.NoError(t, err)
	<-started
	assert.True(t, q.Cancel(id))
	close(release)

	job, err := q.Await(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Equal(t, string(queue.KindCancelled), job.ErrorKind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestJobQueue_CancelUnknownJob(t *testing.T) {
	q := newQueue(t, queue.Config{}, models.ExecutorFunc(func(context.Context, models.JobSpec) (models.Result, error) {
		return models.Result{}, nil
	}))
	assert.False(t, q.Cancel(uuid.New()))
}

func TestJobQueue_MaxQueueDepth(t *testing.T) {
	release := make(chan struct{})
	exec := models.ExecutorFunc(func(_ context.Context, _ models.JobSpec) (models.Result, error) {
		<-release
		return models.Result{Content: "ok"}, nil
	})
	q := newQueue(t, queue.Config{Concurrency: 1, MaxQueueDepth: 2}, exec)
	defer close(release)

	_, err := q.Admit(spec("1"))
	require.NoError(t, err)
	_, err = q.Admit(spec("2"))
	require.NoError(t, err)

	_, err = q.Admit(spec("3"))
	if err == nil {
		// The first job may already have left the queue for a worker.
		_, err = q.Admit(spec("4"))
	}
	assert.ErrorIs(t, err, queue.ErrCapacity)
}

func TestJobQueue_AdmitAfterClose(t *testing.T) {
	q := queue.New(context.Background(), queue.Config{}, models.ExecutorFunc(func(context.Context, models.JobSpec) (models.Result, error) {
		return models.Result{}, nil
	}))
	q.Close()

	_, err := q.Admit(spec("late"))
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestJobQueue_AwaitUnknownJob(t *testing.T) {
	q := newQueue(t, queue.Config{}, models.ExecutorFunc(func(context.Context, models.JobSpec) (models.Result, error) {
		return models.Result{}, nil
	}))
	_, err := q.Await(context.Background(), uuid.New())
	assert.ErrorIs(t, err, queue.ErrUnknownJob)
}

func TestJobQueue_ContextCancelStopsPendingJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := models.ExecutorFunc(func(ctx context.Context, _ models.JobSpec) (models.Result, error) {
		<-ctx.Done()
		return models.Result{}, ctx.Err()
	})
	q := queue.New(ctx, queue.Config{Concurrency: 1}, exec)
	defer q.Close()

	for i := 0; i < 3; i++ {
		_, err := q.Admit(spec("t"))
		require.NoError(t, err)
	}
	cancel()

	res, err := q.AwaitAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Cancelled, 3)
	assert.Empty(t, res.Completed)
}

func TestJobQueue_ReporterReceivesEvents(t *testing.T) {
	exec := models.ExecutorFunc(func(_ context.Context, s models.JobSpec) (models.Result, error) {
		if s.Topic == "bad" {
			return models.Result{}, queue.Permanent(errors.New("invalid"))
		}
		return models.Result{Content: "ok"}, nil
	})
	rep := &recordingReporter{}
	q := queue.New(context.Background(), queue.Config{Concurrency: 2, Reporter: rep}, exec)

	_, err := q.Admit(spec("good"))
	require.NoError(t, err)
	_, err = q.Admit(spec("bad"))
	require.NoError(t, err)
	_, err = q.AwaitAll(context.Background())
	require.NoError(t, err)
	q.Close()

	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.Equal(t, 2, rep.started)
	assert.Equal(t, 1, rep.completed)
	require.Len(t, rep.failed, 1)
	assert.Equal(t, queue.KindPermanent, queue.KindOf(rep.failed[0]))
}

func TestJobQueue_PanickingReporterDoesNotAffectJobs(t *testing.T) {
	exec := models.ExecutorFunc(func(_ context.Context, _ models.JobSpec) (models.Result, error) {
		return models.Result{Content: "ok"}, nil
	})
	q := newQueue(t, queue.Config{Concurrency: 2, Reporter: panicReporter{}}, exec)

	for i := 0; i < 4; i++ {
		_, err := q.Admit(spec("t"))
		require.NoError(t, err)
	}
	res, err := q.AwaitAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Completed, 4)
}

type panicReporter struct{ models.NopReporter }

func (panicReporter) OnCompleted(models.Job, models.Result) { panic("sink exploded") }

func TestJobQueue_JobSnapshot(t *testing.T) {
	exec := models.ExecutorFunc(func(_ context.Context, _ models.JobSpec) (models.Result, error) {
		return models.Result{Content: "ok", Score: 7.5}, nil
	})
	q := newQueue(t, queue.Config{}, exec)

	id, err := q.Admit(spec("t"))
	require.NoError(t, err)
	_, err = q.Await(context.Background(), id)
	require.NoError(t, err)

	job, ok := q.Job(id)
	require.True(t, ok)
	job.Result.Content = "mutated"

	again, ok := q.Job(id)
	require.True(t, ok)
	assert.Equal(t, "ok", again.Result.Content)

	_, ok = q.Job(uuid.New())
	assert.False(t, ok)
}
