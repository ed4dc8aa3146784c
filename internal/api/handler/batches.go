package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/copyforge/internal/api/middleware"
	"github.com/kiranshivaraju/copyforge/internal/api/response"
	"github.com/kiranshivaraju/copyforge/internal/batch"
	"github.com/kiranshivaraju/copyforge/internal/conversation"
	"github.com/kiranshivaraju/copyforge/internal/store"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

const (
	maxBatchItems  = 1000
	maxConcurrency = 32
	maxBodyBytes   = 1 << 20
)

// BatchService defines the batch operations the handlers depend on.
type BatchService interface {
	Submit(ctx context.Context, req batch.Request) (*batch.Handle, error)
	Get(id uuid.UUID) (*batch.Handle, error)
	Cancel(id uuid.UUID) error
	Resume(id uuid.UUID) error
	Replace(ctx context.Context, id uuid.UUID, index int, spec models.JobSpec, reason string) (models.ConversationItem, error)
	Archive(id uuid.UUID, index int, reason string) (models.ConversationItem, error)
}

// BatchHistory reads persisted batches that are no longer live in this process.
type BatchHistory interface {
	GetBatch(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.BatchRecord, error)
	ListBatchJobs(ctx context.Context, batchID uuid.UUID) ([]*models.JobRecord, error)
}

type submitBatchRequest struct {
	Mode            models.BatchMode `json:"mode"`
	Concurrency     int              `json:"concurrency"`
	CheckpointEvery int              `json:"checkpoint_every"`
	RequireResume   *bool            `json:"require_resume"`
	Items           []models.JobSpec `json:"items"`
}

type submitBatchResponse struct {
	BatchID      uuid.UUID         `json:"batch_id"`
	TotalPlanned int               `json:"total_planned"`
	Mode         models.BatchMode  `json:"mode"`
	State        models.BatchState `json:"state"`
}

type batchView struct {
	BatchID      uuid.UUID                  `json:"batch_id"`
	State        models.BatchState          `json:"state"`
	Mode         models.BatchMode           `json:"mode"`
	Conversation models.ConversationSummary `json:"conversation"`
	Learning     models.LearningStats       `json:"learning"`
	Items        []models.ConversationItem  `json:"items"`
	Replacements []models.Replacement       `json:"replacements"`
	Result       *models.BatchResult        `json:"result,omitempty"`
}

type batchHistoryView struct {
	Batch *models.BatchRecord `json:"batch"`
	Jobs  []*models.JobRecord `json:"jobs"`
}

type itemChangeRequest struct {
	Spec   models.JobSpec `json:"spec"`
	Reason string         `json:"reason"`
}

// NewSubmitBatchHandler returns an http.HandlerFunc for POST /api/v1/batches.
func NewSubmitBatchHandler(svc BatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req submitBatchRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if len(req.Items) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "items must not be empty", nil)
			return
		}
		if len(req.Items) > maxBatchItems {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				fmt.Sprintf("items must not exceed %d", maxBatchItems), nil)
			return
		}
		switch req.Mode {
		case "", models.BatchModeAuto, models.BatchModeParallel, models.BatchModeSequential:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"mode must be one of auto, parallel, sequential", nil)
			return
		}
		if req.Concurrency < 0 || req.Concurrency > maxConcurrency {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				fmt.Sprintf("concurrency must be between 1 and %d", maxConcurrency), nil)
			return
		}
		if req.CheckpointEvery < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "checkpoint_every must be positive", nil)
			return
		}
		if bad := invalidItems(req.Items); len(bad) > 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"every item needs a topic and a platform", map[string]any{"invalid_items": bad})
			return
		}

		h, err := svc.Submit(r.Context(), batch.Request{
			TenantID:        tenantID,
			Specs:           req.Items,
			Mode:            req.Mode,
			Concurrency:     req.Concurrency,
			CheckpointEvery: req.CheckpointEvery,
			RequireResume:   req.RequireResume,
		})
		if err != nil {
			writeBatchError(w, err)
			return
		}

		response.Accepted(w, submitBatchResponse{
			BatchID:      h.ID(),
			TotalPlanned: len(req.Items),
			Mode:         h.Mode(),
			State:        h.State(),
		})
	}
}

// NewGetBatchHandler returns an http.HandlerFunc for GET /api/v1/batches/{batchID}.
// Batches not live in this process are served from history when it is set.
func NewGetBatchHandler(svc BatchService, history BatchHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_BATCH_ID", "Invalid batch ID", nil)
			return
		}

		h, err := svc.Get(batchID)
		if err == nil && h.TenantID() == tenantID {
			response.JSON(w, liveView(h))
			return
		}
		if history == nil {
			response.Error(w, http.StatusNotFound, "BATCH_NOT_FOUND", "Batch not found", nil)
			return
		}

		rec, err := history.GetBatch(r.Context(), batchID, tenantID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "BATCH_NOT_FOUND", "Batch not found", nil)
			return
		}
		if err != nil {
			slog.Error("loading batch history failed", "batch_id", batchID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load batch", nil)
			return
		}
		jobs, err := history.ListBatchJobs(r.Context(), batchID)
		if err != nil {
			slog.Error("loading batch jobs failed", "batch_id", batchID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load batch", nil)
			return
		}
		response.JSON(w, batchHistoryView{Batch: rec, Jobs: jobs})
	}
}

// NewCancelBatchHandler returns an http.HandlerFunc for POST /api/v1/batches/{batchID}/cancel.
func NewCancelBatchHandler(svc BatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := ownedBatch(w, r, svc)
		if !ok {
			return
		}
		if err := svc.Cancel(h.ID()); err != nil {
			writeBatchError(w, err)
			return
		}
		response.Accepted(w, map[string]any{"batch_id": h.ID(), "state": h.State()})
	}
}

// NewResumeBatchHandler returns an http.HandlerFunc for POST /api/v1/batches/{batchID}/resume.
func NewResumeBatchHandler(svc BatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := ownedBatch(w, r, svc)
		if !ok {
			return
		}
		if err := svc.Resume(h.ID()); err != nil {
			writeBatchError(w, err)
			return
		}
		response.Accepted(w, map[string]any{"batch_id": h.ID(), "state": h.State()})
	}
}

// NewReplaceItemHandler returns an http.HandlerFunc for PUT /api/v1/batches/{batchID}/items/{index}.
func NewReplaceItemHandler(svc BatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := ownedBatch(w, r, svc)
		if !ok {
			return
		}
		index, ok := itemIndex(w, r)
		if !ok {
			return
		}

		var req itemChangeRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(invalidItems([]models.JobSpec{req.Spec})) > 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "spec needs a topic and a platform", nil)
			return
		}

		item, err := svc.Replace(r.Context(), h.ID(), index, req.Spec, req.Reason)
		if err != nil {
			writeBatchError(w, err)
			return
		}
		response.JSON(w, item)
	}
}

// NewArchiveItemHandler returns an http.HandlerFunc for POST /api/v1/batches/{batchID}/items/{index}/archive.
func NewArchiveItemHandler(svc BatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := ownedBatch(w, r, svc)
		if !ok {
			return
		}
		index, ok := itemIndex(w, r)
		if !ok {
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		if r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		item, err := svc.Archive(h.ID(), index, req.Reason)
		if err != nil {
			writeBatchError(w, err)
			return
		}
		response.JSON(w, item)
	}
}

// ownedBatch resolves the live batch in the path. Batches of other tenants
// are reported as not found.
func ownedBatch(w http.ResponseWriter, r *http.Request, svc BatchService) (*batch.Handle, bool) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
		return nil, false
	}
	batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_BATCH_ID", "Invalid batch ID", nil)
		return nil, false
	}
	h, err := svc.Get(batchID)
	if err != nil || h.TenantID() != tenantID {
		response.Error(w, http.StatusNotFound, "BATCH_NOT_FOUND", "Batch not found", nil)
		return nil, false
	}
	return h, true
}

func itemIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_INDEX", "Item index must be a non-negative integer", nil)
		return 0, false
	}
	return index, true
}

func invalidItems(specs []models.JobSpec) []int {
	var bad []int
	for i, s := range specs {
		if strings.TrimSpace(s.Topic) == "" || strings.TrimSpace(s.Platform) == "" {
			bad = append(bad, i)
		}
	}
	return bad
}

func liveView(h *batch.Handle) batchView {
	st := h.Conversation()
	v := batchView{
		BatchID:      h.ID(),
		State:        h.State(),
		Mode:         h.Mode(),
		Conversation: h.Summary(),
		Learning:     h.Learning(),
		Items:        st.Items,
		Replacements: st.Replacements,
	}
	if res, done := h.Result(); done {
		v.Result = res
	}
	return v
}

func writeBatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, batch.ErrEmptyPlan), errors.Is(err, batch.ErrInvalidPlan):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, batch.ErrBatchNotFound):
		response.Error(w, http.StatusNotFound, "BATCH_NOT_FOUND", "Batch not found", nil)
	case errors.Is(err, conversation.ErrIndexOutOfRange):
		response.Error(w, http.StatusNotFound, "ITEM_NOT_FOUND", "Item index out of range", nil)
	case errors.Is(err, batch.ErrNotAtCheckpoint):
		response.Error(w, http.StatusConflict, "NOT_AT_CHECKPOINT", "Batch is not paused at a checkpoint", nil)
	case errors.Is(err, batch.ErrBatchFinished):
		response.Error(w, http.StatusConflict, "BATCH_FINISHED", "Batch already finished", nil)
	case errors.Is(err, conversation.ErrInvalidState):
		response.Error(w, http.StatusConflict, "INVALID_ITEM_STATE", err.Error(), nil)
	default:
		slog.Error("batch request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
