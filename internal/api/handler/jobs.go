package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/copyforge/internal/api/middleware"
	"github.com/kiranshivaraju/copyforge/internal/api/response"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// JobReader reads job snapshots written by the progress reporters.
type JobReader interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (models.Job, bool, error)
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// Jobs stamped with another tenant are reported as not found.
func NewGetJobHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Invalid job ID", nil)
			return
		}

		job, found, err := jobs.GetJob(r.Context(), jobID)
		if err != nil {
			slog.Error("reading job snapshot failed", "job_id", jobID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}
		if !found || job.Spec.Extra[models.ExtraTenantID] != tenantID.String() {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}

		response.JSON(w, job)
	}
}
