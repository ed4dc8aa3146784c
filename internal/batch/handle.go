package batch

import (
	"context"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// Handle is the caller's view of a running batch.
type Handle struct {
	orch *Orchestrator
	done chan struct{}
	res  *models.BatchResult
	err  error
}

// Submit validates plan and starts it in the background.
func Submit(ctx context.Context, plan models.BatchPlan, opts Options, executor models.Executor, reporter models.ProgressReporter) (*Handle, error) {
	orch, err := NewOrchestrator(plan, opts, executor, reporter)
	if err != nil {
		return nil, err
	}
	h := &Handle{orch: orch, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.res, h.err = orch.Run(ctx)
	}()
	return h, nil
}

// ID returns the batch id.
func (h *Handle) ID() uuid.UUID { return h.orch.ID() }

// Mode returns the resolved execution mode.
func (h *Handle) Mode() models.BatchMode { return h.orch.Mode() }

// TenantID returns the tenant that submitted the batch.
func (h *Handle) TenantID() uuid.UUID { return h.orch.TenantID() }

// AwaitResult blocks until the batch finishes. The result is non-nil even
// when the error is an *AbortedError.
func (h *Handle) AwaitResult(ctx context.Context) (*models.BatchResult, error) {
	select {
	case <-h.done:
		return h.res, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the batch finishes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the result once the batch has finished.
func (h *Handle) Result() (*models.BatchResult, bool) {
	select {
	case <-h.done:
		return h.res, h.res != nil
	default:
		return nil, false
	}
}

func (h *Handle) Cancel() { h.orch.Cancel() }

func (h *Handle) Resume() error { return h.orch.Resume() }

func (h *Handle) Replace(index int, spec models.JobSpec, reason string) error {
	return h.orch.Replace(index, spec, reason)
}

func (h *Handle) Archive(index int, reason string) error {
	return h.orch.Archive(index, reason)
}

func (h *Handle) State() models.BatchState { return h.orch.State() }

// Conversation returns the current tracker state.
func (h *Handle) Conversation() models.ConversationState { return h.orch.Tracker().State() }

// Summary returns the current tracker counts.
func (h *Handle) Summary() models.ConversationSummary { return h.orch.Tracker().Summary() }

// Learning returns the current learning statistics.
func (h *Handle) Learning() models.LearningStats { return h.orch.Learning().Stats() }

// Job returns a live snapshot of a job run by this batch.
func (h *Handle) Job(id uuid.UUID) (models.Job, bool) { return h.orch.Job(id) }
