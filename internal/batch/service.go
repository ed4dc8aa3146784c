package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// ErrBatchNotFound is returned for an id the service never started.
var ErrBatchNotFound = errors.New("batch not found")

const (
	recordTimeout = 5 * time.Second

	// DefaultRetention is how long a finished batch stays live before the
	// service forgets it and reads fall through to the recorded history.
	DefaultRetention = 5 * time.Minute
)

// Recorder persists batch lifecycle rows. Failures are logged, never fatal.
type Recorder interface {
	CreateBatch(ctx context.Context, rec *models.BatchRecord) error
	UpdateBatchState(ctx context.Context, id uuid.UUID, state models.BatchState, abortReason *string) error
	CreateReplacement(ctx context.Context, batchID uuid.UUID, r models.Replacement) error
}

// ReporterFactory builds the progress sink for one batch.
type ReporterFactory func(batchID uuid.UUID) models.ProgressReporter

// Request carries the per-batch overrides accepted from callers.
type Request struct {
	TenantID        uuid.UUID
	Specs           []models.JobSpec
	Mode            models.BatchMode
	Concurrency     int
	CheckpointEvery int
	RequireResume   *bool
}

// Service owns the live batches of one process.
type Service struct {
	ctx       context.Context
	executor  models.Executor
	defaults  Options
	reporters ReporterFactory
	recorder  Recorder
	retention time.Duration

	mu      sync.RWMutex
	handles map[uuid.UUID]*Handle
	wg      sync.WaitGroup
}

// NewService creates a Service. Batches run under ctx, not under the
// context of the request that submitted them. recorder and reporters may be nil.
func NewService(ctx context.Context, executor models.Executor, defaults Options, reporters ReporterFactory, recorder Recorder) *Service {
	return &Service{
		ctx:       ctx,
		executor:  executor,
		defaults:  defaults,
		reporters: reporters,
		recorder:  recorder,
		retention: DefaultRetention,
		handles:   make(map[uuid.UUID]*Handle),
	}
}

// SetRetention changes how long finished batches stay live. Zero forgets
// them as soon as their final state is recorded. Call before Submit.
func (s *Service) SetRetention(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.retention = d
}

// Submit starts a batch for req.
func (s *Service) Submit(ctx context.Context, req Request) (*Handle, error) {
	opts := s.defaults
	if req.Mode != "" {
		opts.Mode = req.Mode
	}
	if req.Concurrency > 0 {
		opts.Concurrency = req.Concurrency
	}
	if req.CheckpointEvery > 0 {
		opts.CheckpointEvery = req.CheckpointEvery
	}
	if req.RequireResume != nil {
		opts.RequireResume = *req.RequireResume
	}

	plan := models.NewBatchPlan(req.TenantID, req.Specs)
	for i := range plan.Specs {
		plan.Specs[i] = stampSpec(plan.Specs[i], plan.TenantID, plan.ID)
	}
	var reporter models.ProgressReporter
	if s.reporters != nil {
		reporter = s.reporters(plan.ID)
	}

	orch, err := NewOrchestrator(plan, opts, s.executor, reporter)
	if err != nil {
		return nil, err
	}

	if s.recorder != nil {
		now := time.Now().UTC()
		rec := &models.BatchRecord{
			ID:           plan.ID,
			TenantID:     plan.TenantID,
			Mode:         orch.Mode(),
			State:        models.BatchStateExecuting,
			TotalPlanned: plan.TotalPlanned,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.recorder.CreateBatch(ctx, rec); err != nil {
			return nil, fmt.Errorf("recording batch: %w", err)
		}
	}

	h := &Handle{orch: orch, done: make(chan struct{})}
	s.mu.Lock()
	s.handles[plan.ID] = h
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		h.res, h.err = orch.Run(s.ctx)
		s.recordFinish(h)
		s.scheduleForget(plan.ID, h)
	}()
	return h, nil
}

func (s *Service) scheduleForget(id uuid.UUID, h *Handle) {
	if s.retention == 0 {
		s.forget(id, h)
		return
	}
	time.AfterFunc(s.retention, func() { s.forget(id, h) })
}

func (s *Service) forget(id uuid.UUID, h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles[id] == h {
		delete(s.handles, id)
	}
}

func (s *Service) recordFinish(h *Handle) {
	if s.recorder == nil || h.res == nil {
		return
	}
	var reason *string
	if h.res.AbortReason != "" {
		r := h.res.AbortReason
		reason = &r
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), recordTimeout)
	defer cancel()
	if err := s.recorder.UpdateBatchState(ctx, h.ID(), h.res.State, reason); err != nil {
		slog.Error("recording batch state failed", "batch_id", h.ID(), "error", err)
	}
}

func stampSpec(spec models.JobSpec, tenantID, batchID uuid.UUID) models.JobSpec {
	return spec.WithExtra(models.ExtraTenantID, tenantID.String()).
		WithExtra(models.ExtraBatchID, batchID.String())
}

// Get returns the handle of a batch.
func (s *Service) Get(id uuid.UUID) (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return h, nil
}

// Cancel requests cancellation of a batch. A batch that already reached a
// terminal state returns ErrBatchFinished.
func (s *Service) Cancel(id uuid.UUID) error {
	h, err := s.Get(id)
	if err != nil {
		return err
	}
	if h.State().Terminal() {
		return ErrBatchFinished
	}
	h.Cancel()
	return nil
}

// Resume continues a batch paused at a checkpoint.
func (s *Service) Resume(id uuid.UUID) error {
	h, err := s.Get(id)
	if err != nil {
		return err
	}
	return h.Resume()
}

// Replace revises a pending item and records the audit entry.
func (s *Service) Replace(ctx context.Context, id uuid.UUID, index int, spec models.JobSpec, reason string) (models.ConversationItem, error) {
	h, err := s.Get(id)
	if err != nil {
		return models.ConversationItem{}, err
	}
	if err := h.Replace(index, stampSpec(spec, h.TenantID(), id), reason); err != nil {
		return models.ConversationItem{}, err
	}

	st := h.Conversation()
	if s.recorder != nil && len(st.Replacements) > 0 {
		last := st.Replacements[len(st.Replacements)-1]
		if err := s.recorder.CreateReplacement(ctx, id, last); err != nil {
			slog.Error("recording replacement failed", "batch_id", id, "index", index, "error", err)
		}
	}
	return st.Items[index], nil
}

// Archive returns a completed item to planned.
func (s *Service) Archive(id uuid.UUID, index int, reason string) (models.ConversationItem, error) {
	h, err := s.Get(id)
	if err != nil {
		return models.ConversationItem{}, err
	}
	if err := h.Archive(index, reason); err != nil {
		return models.ConversationItem{}, err
	}
	return h.orch.Tracker().Item(index)
}

// Shutdown cancels every live batch and waits for them to finish or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, h := range s.handles {
		h.Cancel()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
