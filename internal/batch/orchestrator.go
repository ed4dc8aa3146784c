// Package batch drives a BatchPlan through a job queue, either all at once
// or one item at a time with learnings fed forward and periodic checkpoints.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/internal/conversation"
	"github.com/kiranshivaraju/copyforge/internal/learning"
	"github.com/kiranshivaraju/copyforge/internal/queue"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

const (
	DefaultSequentialThreshold    = 10
	DefaultCheckpointEvery        = 10
	DefaultMaxConsecutiveFailures = 3
)

var (
	// ErrEmptyPlan is returned for a plan without specs.
	ErrEmptyPlan = errors.New("batch plan has no items")
	// ErrInvalidPlan is returned when TotalPlanned disagrees with the specs.
	ErrInvalidPlan = errors.New("invalid batch plan")
	// ErrNotAtCheckpoint is returned by Resume outside a checkpoint pause.
	ErrNotAtCheckpoint = errors.New("batch is not paused at a checkpoint")
	// ErrBatchFinished is returned for changes requested after the batch ended.
	ErrBatchFinished = errors.New("batch already finished")
	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("batch already started")
)

// AbortedError reports that a run of permanent failures stopped the batch.
// The partial result is still returned alongside it.
type AbortedError struct {
	BatchID uuid.UUID
	Reason  string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("batch %s aborted: %s", e.BatchID, e.Reason)
}

// Options configures one batch run. Zero values fall back to the defaults.
type Options struct {
	Mode                   models.BatchMode
	Concurrency            int
	MaxQueueDepth          int
	AttemptTimeout         time.Duration
	Retry                  queue.RetryPolicy
	SequentialThreshold    int
	CheckpointEvery        int
	MaxConsecutiveFailures int
	// CheckpointWait is how long a checkpoint pauses before continuing on
	// its own. Ignored when RequireResume is set.
	CheckpointWait time.Duration
	RequireResume  bool
	Learning       learning.Config
	Summarizer     learning.Summarizer
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = models.BatchModeAuto
	}
	if o.SequentialThreshold <= 0 {
		o.SequentialThreshold = DefaultSequentialThreshold
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = DefaultCheckpointEvery
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if o.Learning.CompactEvery <= 0 {
		o.Learning.CompactEvery = o.CheckpointEvery
	}
	return o
}

// ResolveMode picks the execution mode for a plan of n items.
func (o Options) ResolveMode(n int) models.BatchMode {
	o = o.withDefaults()
	switch o.Mode {
	case models.BatchModeParallel, models.BatchModeSequential:
		return o.Mode
	}
	if n < o.SequentialThreshold {
		return models.BatchModeParallel
	}
	return models.BatchModeSequential
}

// Orchestrator owns all state for one batch.
type Orchestrator struct {
	plan     models.BatchPlan
	opts     Options
	mode     models.BatchMode
	executor models.Executor
	reporter *queue.AsyncReporter
	tracker  *conversation.Tracker
	manager  *learning.Manager

	mu          sync.Mutex
	state       models.BatchState
	started     bool
	abortReason string
	q           *queue.JobQueue

	cancelOnce sync.Once
	cancelCh   chan struct{}
	resumeCh   chan struct{}
}

// NewOrchestrator validates plan and prepares the tracker. The batch does
// not start until Run.
func NewOrchestrator(plan models.BatchPlan, opts Options, executor models.Executor, reporter models.ProgressReporter) (*Orchestrator, error) {
	if len(plan.Specs) == 0 {
		return nil, ErrEmptyPlan
	}
	if plan.TotalPlanned != len(plan.Specs) {
		return nil, fmt.Errorf("%w: total_planned %d but %d specs", ErrInvalidPlan, plan.TotalPlanned, len(plan.Specs))
	}
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	opts = opts.withDefaults()

	o := &Orchestrator{
		plan:     plan,
		opts:     opts,
		mode:     opts.ResolveMode(plan.TotalPlanned),
		executor: executor,
		reporter: queue.NewAsyncReporter(reporter, 0),
		tracker:  conversation.NewTracker(),
		manager:  learning.NewManager(opts.Summarizer, opts.Learning),
		state:    models.BatchStatePlanning,
		cancelCh: make(chan struct{}),
		resumeCh: make(chan struct{}, 1),
	}
	o.tracker.Plan(plan.Specs)
	return o, nil
}

// ID returns the batch id.
func (o *Orchestrator) ID() uuid.UUID { return o.plan.ID }

// TenantID returns the tenant that owns the plan.
func (o *Orchestrator) TenantID() uuid.UUID { return o.plan.TenantID }

// Mode returns the resolved execution mode.
func (o *Orchestrator) Mode() models.BatchMode { return o.mode }

// State returns the current state machine position.
func (o *Orchestrator) State() models.BatchState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Tracker exposes the conversation tracker for read access and revisions.
func (o *Orchestrator) Tracker() *conversation.Tracker { return o.tracker }

// Learning exposes the learning manager.
func (o *Orchestrator) Learning() *learning.Manager { return o.manager }

// Cancel stops the batch. The executing item is allowed to finish.
func (o *Orchestrator) Cancel() {
	o.cancelOnce.Do(func() {
		close(o.cancelCh)
		slog.Info("batch cancellation requested", "batch_id", o.plan.ID)
	})
}

// Resume continues a batch paused at a checkpoint.
func (o *Orchestrator) Resume() error {
	if o.State() != models.BatchStateCheckpoint {
		return ErrNotAtCheckpoint
	}
	select {
	case o.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Replace revises a pending item.
func (o *Orchestrator) Replace(index int, spec models.JobSpec, reason string) error {
	if o.State().Terminal() {
		return ErrBatchFinished
	}
	return o.tracker.Replace(index, spec, reason)
}

// Archive returns a completed item to planned so it runs again.
func (o *Orchestrator) Archive(index int, reason string) error {
	if o.State().Terminal() {
		return ErrBatchFinished
	}
	return o.tracker.Archive(index, reason)
}

// Job returns a live snapshot of a job run by this batch.
func (o *Orchestrator) Job(id uuid.UUID) (models.Job, bool) {
	o.mu.Lock()
	q := o.q
	o.mu.Unlock()
	if q == nil {
		return models.Job{}, false
	}
	return q.Job(id)
}

// Run executes the batch and always returns the result. The error is an
// *AbortedError after a permanent-failure streak, or ctx.Err() if ctx ended.
func (o *Orchestrator) Run(ctx context.Context) (*models.BatchResult, error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	o.started = true
	o.mu.Unlock()
	defer o.reporter.Close(queue.DefaultDrainTimeout)

	concurrency := o.opts.Concurrency
	if o.mode == models.BatchModeSequential {
		concurrency = 1
	}
	q := queue.New(ctx, queue.Config{
		Concurrency:    concurrency,
		MaxQueueDepth:  o.opts.MaxQueueDepth,
		AttemptTimeout: o.opts.AttemptTimeout,
		Retry:          o.opts.Retry,
		Reporter:       o.reporter,
	}, o.executor)
	defer q.Close()

	o.mu.Lock()
	o.q = q
	o.mu.Unlock()

	o.setState(models.BatchStateExecuting)
	slog.Info("batch started",
		"batch_id", o.plan.ID,
		"mode", o.mode,
		"total_planned", o.plan.TotalPlanned,
		"concurrency", concurrency,
	)

	var runErr error
	if o.mode == models.BatchModeParallel {
		runErr = o.runParallel(ctx, q)
	} else {
		runErr = o.runSequential(ctx, q)
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	res, err := q.AwaitAll(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}

	final := models.BatchStateCompleted
	switch {
	case errors.As(runErr, new(*AbortedError)):
		final = models.BatchStateFailed
	case runErr != nil || o.cancelled():
		final = models.BatchStateCancelled
	}
	o.setState(final)

	res.BatchID = o.plan.ID
	res.State = final
	res.Mode = o.mode
	res.Conversation = o.tracker.Summary()
	res.Learning = o.manager.Stats()
	o.mu.Lock()
	res.AbortReason = o.abortReason
	o.mu.Unlock()

	slog.Info("batch finished",
		"batch_id", o.plan.ID,
		"state", final,
		"completed", len(res.Completed),
		"failed", len(res.Failed),
		"cancelled", len(res.Cancelled),
		"retries", res.Stats.Retries,
	)
	return res, runErr
}

func (o *Orchestrator) runParallel(ctx context.Context, q *queue.JobQueue) error {
	indexOf := make(map[uuid.UUID]int)
	var admitted []uuid.UUID
	waitNext := 0

	for _, idx := range o.tracker.Pending() {
		if o.cancelled() {
			break
		}
		spec, err := o.tracker.Begin(idx)
		if err != nil {
			continue
		}
		for {
			id, err := q.Admit(spec)
			if err == nil {
				indexOf[id] = idx
				admitted = append(admitted, id)
				break
			}
			if !errors.Is(err, queue.ErrCapacity) || waitNext >= len(admitted) {
				o.tracker.Release(idx)
				slog.Error("admitting batch item failed", "batch_id", o.plan.ID, "index", idx, "error", err)
				break
			}
			// Back-pressure: wait for the oldest admitted job before retrying.
			if _, err := q.Await(ctx, admitted[waitNext]); err != nil {
				o.tracker.Release(idx)
				return err
			}
			waitNext++
		}
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-o.cancelCh:
			for _, id := range admitted {
				q.Cancel(id)
			}
		case <-stop:
		}
	}()
	defer close(stop)

	// The failure streak is counted in admission order, not finish order.
	streak := 0
	for i, id := range admitted {
		job, err := q.Await(ctx, id)
		if err != nil {
			return err
		}
		o.settleParallel(ctx, indexOf[id], job)
		if job.Status == models.JobStatusCompleted {
			streak = 0
			continue
		}
		if job.ErrorKind != string(queue.KindPermanent) {
			streak = 0
			continue
		}
		streak++
		if streak < o.opts.MaxConsecutiveFailures {
			continue
		}
		rest := admitted[i+1:]
		for _, id := range rest {
			q.Cancel(id)
		}
		for _, id := range rest {
			job, err := q.Await(ctx, id)
			if err != nil {
				o.tracker.Release(indexOf[id])
				continue
			}
			o.settleParallel(ctx, indexOf[id], job)
		}
		return o.abort(streak, job)
	}
	return nil
}

// settleParallel records a finished job against its item. Anything short of
// completion leaves the item planned.
func (o *Orchestrator) settleParallel(ctx context.Context, idx int, job models.Job) {
	if job.Status != models.JobStatusCompleted {
		o.tracker.Release(idx)
		return
	}
	if err := o.tracker.MarkComplete(idx, job.ID); err != nil {
		slog.Warn("marking item complete failed", "batch_id", o.plan.ID, "index", idx, "error", err)
	}
	o.manager.AddResult(ctx, o.summaryOf(idx, job))
}

func (o *Orchestrator) abort(streak int, last models.Job) error {
	reason := fmt.Sprintf("%d consecutive permanent failures, last: %s", streak, last.Error)
	o.mu.Lock()
	o.abortReason = reason
	o.mu.Unlock()
	slog.Error("batch aborted", "batch_id", o.plan.ID, "reason", reason)
	return &AbortedError{BatchID: o.plan.ID, Reason: reason}
}

type attemptKey struct {
	index    int
	revision int
}

func (o *Orchestrator) runSequential(ctx context.Context, q *queue.JobQueue) error {
	attempted := make(map[attemptKey]bool)
	skip := func(item models.ConversationItem) bool {
		return attempted[attemptKey{item.Index, item.Revision}]
	}
	processed, failedCount, streak := 0, 0, 0

	for {
		if o.cancelled() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		item, ok := o.tracker.NextPending(skip)
		if !ok {
			return nil
		}
		spec, err := o.tracker.Begin(item.Index)
		if err != nil {
			// Revised between NextPending and Begin; pick again.
			continue
		}
		current, _ := o.tracker.Item(item.Index)
		attempted[attemptKey{item.Index, current.Revision}] = true

		id, err := q.Admit(spec.WithLearnings(o.manager.Context()))
		if err != nil {
			o.tracker.Release(item.Index)
			return fmt.Errorf("admitting item %d: %w", item.Index, err)
		}
		job, err := q.Await(ctx, id)
		if err != nil {
			o.tracker.Release(item.Index)
			return err
		}
		processed++

		switch job.Status {
		case models.JobStatusCompleted:
			streak = 0
			o.manager.AddResult(ctx, o.summaryOf(item.Index, job))
			if err := o.tracker.MarkComplete(item.Index, id); err != nil {
				slog.Warn("marking item complete failed", "batch_id", o.plan.ID, "index", item.Index, "error", err)
			}
		case models.JobStatusCancelled:
			o.tracker.Release(item.Index)
			return nil
		default:
			failedCount++
			o.tracker.Release(item.Index)
			if job.ErrorKind == string(queue.KindPermanent) {
				streak++
			} else {
				streak = 0
			}
			if streak >= o.opts.MaxConsecutiveFailures {
				return o.abort(streak, job)
			}
		}

		if processed%o.opts.CheckpointEvery != 0 {
			continue
		}
		if _, more := o.tracker.NextPending(skip); !more {
			continue
		}
		if !o.checkpoint(ctx, processed, failedCount) {
			return ctx.Err()
		}
	}
}

// checkpoint pauses the batch. It returns false if ctx ended while paused;
// a cancel during the pause is picked up by the caller's loop.
func (o *Orchestrator) checkpoint(ctx context.Context, processed, failed int) bool {
	// Drop a resume that arrived before this pause.
	select {
	case <-o.resumeCh:
	default:
	}

	o.setState(models.BatchStateCheckpoint)
	defer o.setState(models.BatchStateExecuting)

	stats := models.CheckpointStats{
		BatchID:      o.plan.ID,
		Processed:    processed,
		TotalPlanned: o.plan.TotalPlanned,
		Failed:       failed,
		Conversation: o.tracker.Summary(),
		Learning:     o.manager.Stats(),
		At:           time.Now().UTC(),
	}
	o.reporter.OnCheckpoint(stats)
	slog.Info("batch checkpoint",
		"batch_id", o.plan.ID,
		"processed", processed,
		"total_planned", o.plan.TotalPlanned,
		"avg_score", stats.Learning.AvgScore,
	)

	var timeout <-chan time.Time
	if !o.opts.RequireResume {
		if o.opts.CheckpointWait <= 0 {
			return true
		}
		timer := time.NewTimer(o.opts.CheckpointWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-timeout:
	case <-o.resumeCh:
	case <-o.cancelCh:
	case <-ctx.Done():
		return false
	}
	return true
}

func (o *Orchestrator) summaryOf(index int, job models.Job) models.JobSummary {
	s := models.JobSummary{JobNum: index + 1, Platform: job.Spec.Platform}
	if job.Result != nil {
		s.Score = job.Result.Score
		s.Excerpt = job.Result.Content
		s.Ref = job.Result.ExternalRef
	}
	return s
}

func (o *Orchestrator) cancelled() bool {
	select {
	case <-o.cancelCh:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) setState(s models.BatchState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() {
		return
	}
	o.state = s
}
