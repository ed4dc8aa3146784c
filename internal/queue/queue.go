// Package queue runs content-generation jobs under bounded concurrency with
// per-attempt timeouts, classified retries and cooperative cancellation.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/pkg/models"
	"golang.org/x/sync/semaphore"
)

const defaultConcurrency = 3

// Config controls a JobQueue. Zero values fall back to the defaults.
type Config struct {
	Concurrency    int
	MaxQueueDepth  int // 0 means unbounded
	AttemptTimeout time.Duration
	Retry          RetryPolicy
	// Reporter receives lifecycle events. Anything other than an
	// *AsyncReporter is wrapped in one owned by the queue.
	Reporter models.ProgressReporter
}

type entry struct {
	job             models.Job
	cancelRequested bool
	cancelCh        chan struct{}
	done            chan struct{}
}

// JobQueue admits jobs in FIFO order and runs up to Concurrency of them at once.
type JobQueue struct {
	executor      models.Executor
	retry         RetryPolicy
	guard         TimeoutGuard
	reporter      models.ProgressReporter
	ownedReporter *AsyncReporter
	maxDepth      int
	sem           *semaphore.Weighted
	ctx           context.Context

	mu       sync.Mutex
	jobs     map[uuid.UUID]*entry
	order    []uuid.UUID
	pending  []*entry
	queued   int
	retries  int
	totalDur time.Duration
	timed    int
	closed   bool

	wake chan struct{}
	wg   sync.WaitGroup
}

// New starts a queue bound to ctx. Cancelling ctx cancels queued jobs and
// abandons in-flight attempts.
func New(ctx context.Context, cfg Config, executor models.Executor) *JobQueue {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	var retry RetryPolicy = DefaultRetryPolicy()
	if cfg.Retry != nil {
		retry = cfg.Retry
	}

	q := &JobQueue{
		executor: executor,
		retry:    retry,
		guard:    TimeoutGuard{Timeout: cfg.AttemptTimeout},
		maxDepth: cfg.MaxQueueDepth,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		ctx:      ctx,
		jobs:     make(map[uuid.UUID]*entry),
		wake:     make(chan struct{}, 1),
	}

	if ar, ok := cfg.Reporter.(*AsyncReporter); ok {
		q.reporter = ar
	} else {
		q.ownedReporter = NewAsyncReporter(cfg.Reporter, 0)
		q.reporter = q.ownedReporter
	}

	q.wg.Add(1)
	go q.dispatch()
	return q
}

// Admit enqueues spec and returns the generated job id.
func (q *JobQueue) Admit(spec models.JobSpec) (uuid.UUID, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return uuid.Nil, ErrClosed
	}
	if q.maxDepth > 0 && q.queued >= q.maxDepth {
		q.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: %d jobs waiting", ErrCapacity, q.queued)
	}

	e := &entry{
		job: models.Job{
			ID:        uuid.New(),
			Spec:      spec,
			Status:    models.JobStatusQueued,
			CreatedAt: time.Now().UTC(),
		},
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	q.jobs[e.job.ID] = e
	q.order = append(q.order, e.job.ID)
	q.pending = append(q.pending, e)
	q.queued++
	id := e.job.ID
	q.mu.Unlock()

	q.signal()
	slog.Debug("job admitted", "job_id", id, "platform", spec.Platform)
	return id, nil
}

// Cancel cancels a queued job immediately or flags a processing job so it
// stops at its next attempt boundary. It returns false for unknown or
// already terminal jobs.
func (q *JobQueue) Cancel(id uuid.UUID) bool {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok || e.job.Status.Terminal() {
		q.mu.Unlock()
		return false
	}

	if e.job.Status == models.JobStatusQueued {
		err := Cancellation(ErrCancelled)
		snap := q.finishLocked(e, nil, err)
		q.mu.Unlock()
		q.reporter.OnFailed(snap, err)
		return true
	}

	if !e.cancelRequested {
		e.cancelRequested = true
		close(e.cancelCh)
	}
	q.mu.Unlock()
	return true
}

// Await blocks until the job is terminal and returns a copy of it.
func (q *JobQueue) Await(ctx context.Context, id uuid.UUID) (models.Job, error) {
	q.mu.Lock()
	e, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return models.Job{}, ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return snapshot(e.job), nil
}

// AwaitAll blocks until every admitted job, including ones admitted while
// waiting, is terminal.
func (q *JobQueue) AwaitAll(ctx context.Context) (*models.BatchResult, error) {
	for {
		q.mu.Lock()
		waiting := make([]*entry, 0, len(q.order))
		for _, id := range q.order {
			waiting = append(waiting, q.jobs[id])
		}
		q.mu.Unlock()

		for _, e := range waiting {
			select {
			case <-e.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		q.mu.Lock()
		if len(q.order) == len(waiting) {
			res := q.resultLocked()
			q.mu.Unlock()
			return res, nil
		}
		q.mu.Unlock()
	}
}

// Job returns a copy of the job with the given id.
func (q *JobQueue) Job(id uuid.UUID) (models.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return snapshot(e.job), true
}

// Stats returns current counters.
func (q *JobQueue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

// Close stops admission, waits for admitted jobs to finish and drains the
// owned reporter.
func (q *JobQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	q.wg.Wait()

	if q.ownedReporter != nil {
		q.ownedReporter.Close(DefaultDrainTimeout)
	}
}

func (q *JobQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch hands queued jobs to workers in admission order.
func (q *JobQueue) dispatch() {
	defer q.wg.Done()
	for {
		e, ok := q.next()
		if !ok {
			return
		}
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			q.abortPending(e)
			return
		}
		q.wg.Add(1)
		go q.work(e)
	}
}

func (q *JobQueue) next() (*entry, bool) {
	for {
		q.mu.Lock()
		for len(q.pending) > 0 {
			e := q.pending[0]
			q.pending = q.pending[1:]
			if e.job.Status == models.JobStatusQueued {
				q.mu.Unlock()
				return e, true
			}
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			q.abortPending(nil)
			return nil, false
		}
	}
}

// abortPending cancels e (if any) and every job still waiting for a slot.
func (q *JobQueue) abortPending(e *entry) {
	err := Cancellation(fmt.Errorf("%w: queue stopped", ErrCancelled))

	q.mu.Lock()
	q.closed = true
	waiting := q.pending
	q.pending = nil
	if e != nil {
		waiting = append([]*entry{e}, waiting...)
	}
	var snaps []models.Job
	for _, w := range waiting {
		if w.job.Status == models.JobStatusQueued {
			snaps = append(snaps, q.finishLocked(w, nil, err))
		}
	}
	q.mu.Unlock()

	for _, s := range snaps {
		q.reporter.OnFailed(s, err)
	}
}

func (q *JobQueue) work(e *entry) {
	defer q.wg.Done()
	defer q.sem.Release(1)

	q.mu.Lock()
	if e.job.Status != models.JobStatusQueued {
		q.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	e.job.Status = models.JobStatusProcessing
	e.job.StartedAt = &now
	q.queued--
	started := snapshot(e.job)
	spec := e.job.Spec
	q.mu.Unlock()

	q.reporter.OnStarted(started)

	for attempt := 1; ; attempt++ {
		if q.cancelRequested(e) {
			q.finish(e, nil, Cancellation(ErrCancelled))
			return
		}

		q.mu.Lock()
		e.job.Attempts = attempt
		q.mu.Unlock()

		res, err := q.guard.Run(q.ctx, func(ctx context.Context) (models.Result, error) {
			return q.executor.Execute(ctx, spec)
		})
		if err == nil {
			q.finish(e, &res, nil)
			return
		}

		kind := KindOf(err)
		if kind == KindCancelled || !q.retry.ShouldRetry(attempt, kind) {
			slog.Warn("job failed",
				"job_id", e.job.ID,
				"attempt", attempt,
				"kind", kind,
				"error", err,
			)
			q.finish(e, nil, err)
			return
		}

		delay := q.retry.BackoffDelay(attempt, kind)
		slog.Warn("job attempt failed, retrying",
			"job_id", e.job.ID,
			"attempt", attempt,
			"kind", kind,
			"next_retry_ms", delay.Milliseconds(),
			"error", err,
		)
		if !q.backoff(e, delay) {
			q.finish(e, nil, Cancellation(ErrCancelled))
			return
		}
		q.mu.Lock()
		q.retries++
		q.mu.Unlock()
	}
}

// backoff sleeps for d; it returns false when the job was cancelled or the
// queue stopped in the meantime.
func (q *JobQueue) backoff(e *entry, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.cancelCh:
		return false
	case <-q.ctx.Done():
		return false
	}
}

func (q *JobQueue) cancelRequested(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return e.cancelRequested
}

func (q *JobQueue) finish(e *entry, res *models.Result, err error) {
	q.mu.Lock()
	snap := q.finishLocked(e, res, err)
	q.mu.Unlock()

	if err == nil {
		q.reporter.OnCompleted(snap, *snap.Result)
		return
	}
	q.reporter.OnFailed(snap, err)
}

// finishLocked moves e to its terminal state. Callers hold q.mu.
func (q *JobQueue) finishLocked(e *entry, res *models.Result, err error) models.Job {
	now := time.Now().UTC()
	if e.job.Status == models.JobStatusQueued {
		q.queued--
	}
	e.job.CompletedAt = &now
	if e.job.StartedAt != nil {
		e.job.Duration = now.Sub(*e.job.StartedAt)
		q.totalDur += e.job.Duration
		q.timed++
	}

	if err == nil {
		r := *res
		e.job.Status = models.JobStatusCompleted
		e.job.Result = &r
	} else {
		kind := KindOf(err)
		e.job.Status = models.JobStatusFailed
		if kind == KindCancelled {
			e.job.Status = models.JobStatusCancelled
		}
		e.job.Error = err.Error()
		e.job.ErrorKind = string(kind)
	}
	close(e.done)
	return snapshot(e.job)
}

func (q *JobQueue) statsLocked() models.QueueStats {
	var st models.QueueStats
	for _, e := range q.jobs {
		switch e.job.Status {
		case models.JobStatusQueued:
			st.Queued++
		case models.JobStatusProcessing:
			st.Processing++
		case models.JobStatusCompleted:
			st.Completed++
		case models.JobStatusFailed:
			st.Failed++
		case models.JobStatusCancelled:
			st.Cancelled++
		}
	}
	st.Retries = q.retries
	if q.timed > 0 {
		st.AvgDuration = q.totalDur / time.Duration(q.timed)
	}
	return st
}

func (q *JobQueue) resultLocked() *models.BatchResult {
	res := &models.BatchResult{
		Completed: []models.Job{},
		Failed:    []models.Job{},
		Cancelled: []models.Job{},
		Stats:     q.statsLocked(),
	}
	for _, id := range q.order {
		job := snapshot(q.jobs[id].job)
		switch job.Status {
		case models.JobStatusCompleted:
			res.Completed = append(res.Completed, job)
		case models.JobStatusFailed:
			res.Failed = append(res.Failed, job)
		case models.JobStatusCancelled:
			res.Cancelled = append(res.Cancelled, job)
		}
	}
	return res
}

// snapshot copies j so callers never share pointers with the job table.
func snapshot(j models.Job) models.Job {
	out := j
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
