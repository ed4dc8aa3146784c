package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/internal/api/handler"
	"github.com/kiranshivaraju/copyforge/internal/batch"
	"github.com/kiranshivaraju/copyforge/internal/queue"
	"github.com/kiranshivaraju/copyforge/internal/store"
	"github.com/kiranshivaraju/copyforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tenantA = uuid.MustParse("00000000-0000-0000-0000-00000000000a")

func specs(n int) []models.JobSpec {
	out := make([]models.JobSpec, n)
	for i := range out {
		out[i] = models.JobSpec{Topic: fmt.Sprintf("topic-%d", i), Platform: "linkedin"}
	}
	return out
}

func echoExecutor() models.Executor {
	return models.ExecutorFunc(func(_ context.Context, spec models.JobSpec) (models.Result, error) {
		return models.Result{Content: "draft " + spec.Topic, Score: 7}, nil
	})
}

// gatedExecutor blocks every job until release is closed.
func gatedExecutor(release <-chan struct{}) models.Executor {
	return models.ExecutorFunc(func(ctx context.Context, spec models.JobSpec) (models.Result, error) {
		select {
		case <-release:
			return models.Result{Content: "draft " + spec.Topic}, nil
		case <-ctx.Done():
			return models.Result{}, ctx.Err()
		}
	})
}

func newService(t *testing.T, exec models.Executor, opts batch.Options) *batch.Service {
	t.Helper()
	if opts.Retry == nil {
		opts.Retry = queue.FixedRetryPolicy{MaxAttempts: 1}
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 2
	}
	svc := batch.NewService(context.Background(), exec, opts, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func submit(t *testing.T, svc *batch.Service, req batch.Request) *batch.Handle {
	t.Helper()
	req.TenantID = tenantA
	h, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	return h
}

func await(t *testing.T, h *batch.Handle) *models.BatchResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.AwaitResult(ctx)
	require.NoError(t, err)
	return res
}

func batchPath(h *batch.Handle, suffix string) string {
	return "/batches/" + h.ID().String() + suffix
}

type stubHistory struct {
	rec  *models.BatchRecord
	jobs []*models.JobRecord
	err  error
}

func (s *stubHistory) GetBatch(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.BatchRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.rec == nil || s.rec.ID != id || s.rec.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return s.rec, nil
}

func (s *stubHistory) ListBatchJobs(_ context.Context, _ uuid.UUID) ([]*models.JobRecord, error) {
	return s.jobs, nil
}

// ─── POST /batches ───────────────────────────────────────────────────────────

func TestSubmitBatch_202(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{})

	rec := serve(t, tenantA, http.MethodPost, "/batches", "/batches", handler.NewSubmitBatchHandler(svc), map[string]any{
		"mode":  "parallel",
		"items": specs(2),
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	d := data(t, rec)
	id, err := uuid.Parse(d["batch_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, float64(2), d["total_planned"])
	assert.Equal(t, "parallel", d["mode"])

	h, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tenantA, h.TenantID())
	res := await(t, h)
	assert.Len(t, res.Completed, 2)
}

func TestSubmitBatch_400(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{})

	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{not json"},
		{"no items", map[string]any{"items": []models.JobSpec{}}},
		{"unknown mode", map[string]any{"mode": "turbo", "items": specs(1)}},
		{"concurrency too high", map[string]any{"concurrency": 500, "items": specs(1)}},
		{"negative checkpoint", map[string]any{"checkpoint_every": -1, "items": specs(1)}},
		{"missing topic", map[string]any{"items": []models.JobSpec{{Platform: "x"}}}},
		{"missing platform", map[string]any{"items": []models.JobSpec{{Topic: "go"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tenantA, http.MethodPost, "/batches", "/batches", handler.NewSubmitBatchHandler(svc), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))
		})
	}
}

func TestSubmitBatch_401_NoTenant(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{})
	rec := serve(t, uuid.Nil, http.MethodPost, "/batches", "/batches", handler.NewSubmitBatchHandler(svc), map[string]any{"items": specs(1)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ─── GET /batches/{batchID} ──────────────────────────────────────────────────

func TestGetBatch_200_LiveWithResult(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{})
	h := submit(t, svc, batch.Request{Specs: specs(3)})
	await(t, h)

	rec := serve(t, tenantA, http.MethodGet, "/batches/{batchID}", batchPath(h, ""), handler.NewGetBatchHandler(svc, nil), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	d := data(t, rec)
	assert.Equal(t, string(models.BatchStateCompleted), d["state"])
	conv := d["conversation"].(map[string]any)
	assert.Equal(t, float64(3), conv["completed"])
	assert.Equal(t, float64(0), conv["pending"])
	assert.Len(t, d["items"], 3)
	assert.NotNil(t, d["result"])
}

func TestGetBatch_404_OtherTenant(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{})
	h := submit(t, svc, batch.Request{Specs: specs(1)})

	rec := serve(t, uuid.New(), http.MethodGet, "/batches/{batchID}", batchPath(h, ""), handler.NewGetBatchHandler(svc, nil), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "BATCH_NOT_FOUND", errorCode(t, rec))
}

func TestGetBatch_200_FromHistory(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{})
	id := uuid.New()
	history := &stubHistory{
		rec:  &models.BatchRecord{ID: id, TenantID: tenantA, State: models.BatchStateFailed, TotalPlanned: 4},
		jobs: []*models.JobRecord{{ID: uuid.New(), BatchID: id, Status: models.JobStatusFailed}},
	}

	rec := serve(t, tenantA, http.MethodGet, "/batches/{batchID}", "/batches/"+id.String(), handler.NewGetBatchHandler(svc, history), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	d := data(t, rec)
	b := d["batch"].(map[string]any)
	assert.Equal(t, string(models.BatchStateFailed), b["state"])
	assert.Len(t, d["jobs"], 1)
}

func TestGetBatch_HistoryErrors(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{})
	path := "/batches/" + uuid.NewString()

	rec := serve(t, tenantA, http.MethodGet, "/batches/{batchID}", path, handler.NewGetBatchHandler(svc, &stubHistory{}), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, tenantA, http.MethodGet, "/batches/{batchID}", path, handler.NewGetBatchHandler(svc, &stubHistory{err: errors.New("db down")}), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetBatch_400_InvalidID(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{})
	rec := serve(t, tenantA, http.MethodGet, "/batches/{batchID}", "/batches/nope", handler.NewGetBatchHandler(svc, nil), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_BATCH_ID", errorCode(t, rec))
}

// ─── control endpoints ───────────────────────────────────────────────────────

func TestResumeBatch_409_NotAtCheckpoint(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{})
	h := submit(t, svc, batch.Request{Specs: specs(1)})
	await(t, h)

	rec := serve(t, tenantA, http.MethodPost, "/batches/{batchID}/resume", batchPath(h, "/resume"), handler.NewResumeBatchHandler(svc), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_AT_CHECKPOINT", errorCode(t, rec))
}

func TestResumeBatch_202_AtCheckpoint(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{Mode: models.BatchModeSequential})
	requireResume := true
	h := submit(t, svc, batch.Request{Specs: specs(2), CheckpointEvery: 1, RequireResume: &requireResume})

	require.Eventually(t, func() bool {
		return h.State() == models.BatchStateCheckpoint
	}, 2*time.Second, time.Millisecond)

	rec := serve(t, tenantA, http.MethodPost, "/batches/{batchID}/resume", batchPath(h, "/resume"), handler.NewResumeBatchHandler(svc), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	res := await(t, h)
	assert.Len(t, res.Completed, 2)
}

func TestArchiveItem_AtCheckpoint(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{Mode: models.BatchModeSequential})
	requireResume := true
	h := submit(t, svc, batch.Request{Specs: specs(3), CheckpointEvery: 1, RequireResume: &requireResume})

	require.Eventually(t, func() bool {
		return h.State() == models.BatchStateCheckpoint
	}, 2*time.Second, time.Millisecond)

	rec := serve(t, tenantA, http.MethodPost, "/batches/{batchID}/items/{index}/archive", batchPath(h, "/items/0/archive"),
		handler.NewArchiveItemHandler(svc), map[string]string{"reason": "off brand"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.ItemStatusPlanned), data(t, rec)["status"])

	rec = serve(t, tenantA, http.MethodPost, "/batches/{batchID}/items/{index}/archive", batchPath(h, "/items/2/archive"),
		handler.NewArchiveItemHandler(svc), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_ITEM_STATE", errorCode(t, rec))
}

func TestReplaceItem(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	svc := newService(t, gatedExecutor(release), batch.Options{Mode: models.BatchModeSequential})
	h := submit(t, svc, batch.Request{Specs: specs(3)})
	put := handler.NewReplaceItemHandler(svc)
	pattern := "/batches/{batchID}/items/{index}"

	body := map[string]any{
		"spec":   models.JobSpec{Topic: "revised", Platform: "x"},
		"reason": "new angle",
	}

	t.Run("pending item", func(t *testing.T) {
		rec := serve(t, tenantA, http.MethodPut, pattern, batchPath(h, "/items/2"), put, body)
		require.Equal(t, http.StatusOK, rec.Code)
		d := data(t, rec)
		assert.Equal(t, string(models.ItemStatusReplaced), d["status"])
		assert.Equal(t, float64(1), d["revision"])
	})
	t.Run("out of range", func(t *testing.T) {
		rec := serve(t, tenantA, http.MethodPut, pattern, batchPath(h, "/items/99"), put, body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "ITEM_NOT_FOUND", errorCode(t, rec))
	})
	t.Run("bad index", func(t *testing.T) {
		rec := serve(t, tenantA, http.MethodPut, pattern, batchPath(h, "/items/x"), put, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INDEX", errorCode(t, rec))
	})
	t.Run("invalid spec", func(t *testing.T) {
		rec := serve(t, tenantA, http.MethodPut, pattern, batchPath(h, "/items/1"), put, map[string]any{"spec": models.JobSpec{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("other tenant", func(t *testing.T) {
		rec := serve(t, uuid.New(), http.MethodPut, pattern, batchPath(h, "/items/1"), put, body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "BATCH_NOT_FOUND", errorCode(t, rec))
	})
}

func TestReplaceItem_409_Finished(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{})
	h := submit(t, svc, batch.Request{Specs: specs(1)})
	await(t, h)

	rec := serve(t, tenantA, http.MethodPut, "/batches/{batchID}/items/{index}", batchPath(h, "/items/0"),
		handler.NewReplaceItemHandler(svc), map[string]any{"spec": models.JobSpec{Topic: "t", Platform: "p"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BATCH_FINISHED", errorCode(t, rec))
}

func TestCancelBatch_202(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	svc := newService(t, gatedExecutor(release), batch.Options{Mode: models.BatchModeSequential})
	h := submit(t, svc, batch.Request{Specs: specs(3)})

	rec := serve(t, tenantA, http.MethodPost, "/batches/{batchID}/cancel", batchPath(h, "/cancel"), handler.NewCancelBatchHandler(svc), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not stop after cancel")
	}
	assert.Equal(t, models.BatchStateCancelled, h.State())
}

func TestCancelBatch_409_Finished(t *testing.T) {
	svc := newService(t, echoExecutor(), batch.Options{})
	h := submit(t, svc, batch.Request{Specs: specs(1)})
	await(t, h)

	rec := serve(t, tenantA, http.MethodPost, "/batches/{batchID}/cancel", batchPath(h, "/cancel"), handler.NewCancelBatchHandler(svc), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BATCH_FINISHED", errorCode(t, rec))
	assert.Equal(t, models.BatchStateCompleted, h.State())
}
