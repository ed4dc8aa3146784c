package queue

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kiranshivaraju/copyforge/pkg/models"
)

const (
	defaultReporterBuffer = 256
	// DefaultDrainTimeout bounds how long Close waits for queued events.
	DefaultDrainTimeout = 5 * time.Second
)

type eventKind int

const (
	eventStarted eventKind = iota
	eventCompleted
	eventFailed
	eventCheckpoint
)

type progressEvent struct {
	kind   eventKind
	job    models.Job
	result models.Result
	err    error
	stats  models.CheckpointStats
}

// AsyncReporter decouples a ProgressReporter from its callers. Events are
// delivered in order by one goroutine; a panicking sink is logged and
// skipped, and a full buffer drops events instead of blocking.
type AsyncReporter struct {
	next   models.ProgressReporter
	events chan progressEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncReporter starts delivering to next. buffer <= 0 uses the default size.
func NewAsyncReporter(next models.ProgressReporter, buffer int) *AsyncReporter {
	if next == nil {
		next = models.NopReporter{}
	}
	if buffer <= 0 {
		buffer = defaultReporterBuffer
	}
	r := &AsyncReporter{
		next:   next,
		events: make(chan progressEvent, buffer),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *AsyncReporter) OnStarted(job models.Job) {
	r.enqueue(progressEvent{kind: eventStarted, job: job})
}

func (r *AsyncReporter) OnCompleted(job models.Job, result models.Result) {
	r.enqueue(progressEvent{kind: eventCompleted, job: job, result: result})
}

func (r *AsyncReporter) OnFailed(job models.Job, err error) {
	r.enqueue(progressEvent{kind: eventFailed, job: job, err: err})
}

func (r *AsyncReporter) OnCheckpoint(stats models.CheckpointStats) {
	r.enqueue(progressEvent{kind: eventCheckpoint, stats: stats})
}

// Close stops accepting events and waits up to timeout for the backlog to
// drain. It reports whether the backlog drained in time.
func (r *AsyncReporter) Close(timeout time.Duration) bool {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return true
	case <-timer.C:
		slog.Warn("progress reporter did not drain in time", "timeout", timeout)
		return false
	}
}

func (r *AsyncReporter) enqueue(ev progressEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		slog.Warn("progress reporter backlog full, dropping event", "job_id", ev.job.ID, "kind", ev.kind)
	}
}

func (r *AsyncReporter) loop() {
	defer close(r.done)
	for ev := range r.events {
		r.deliver(ev)
	}
}

func (r *AsyncReporter) deliver(ev progressEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in progress reporter",
				"error", rec,
				"job_id", ev.job.ID,
				"stack", string(debug.Stack()),
			)
		}
	}()

	switch ev.kind {
	case eventStarted:
		r.next.OnStarted(ev.job)
	case eventCompleted:
		r.next.OnCompleted(ev.job, ev.result)
	case eventFailed:
		r.next.OnFailed(ev.job, ev.err)
	case eventCheckpoint:
		r.next.OnCheckpoint(ev.stats)
	}
}

var _ models.ProgressReporter = (*AsyncReporter)(nil)
