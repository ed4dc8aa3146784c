package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/copyforge/internal/api/middleware"
	"github.com/kiranshivaraju/copyforge/internal/api/response"
	"github.com/kiranshivaraju/copyforge/internal/store"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

type RecordReader interface {
	GetContentRecord(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ContentRecord, error)
}

// NewGetRecordHandler returns an http.HandlerFunc for GET /api/v1/records/{recordID}.
func NewGetRecordHandler(records RecordReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		recordID, err := uuid.Parse(chi.URLParam(r, "recordID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_RECORD_ID", "Invalid record ID", nil)
			return
		}

		rec, err := records.GetContentRecord(r.Context(), recordID, tenantID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RECORD_NOT_FOUND", "Record not found", nil)
			return
		}
		if err != nil {
			slog.Error("reading content record failed", "record_id", recordID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load record", nil)
			return
		}

		response.JSON(w, rec)
	}
}
