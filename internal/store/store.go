package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateContentRecord(ctx context.Context, rec *models.ContentRecord) error
	GetContentRecord(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ContentRecord, error)

	CreateBatch(ctx context.Context, rec *models.BatchRecord) error
	GetBatch(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.BatchRecord, error)
	UpdateBatchState(ctx context.Context, id uuid.UUID, state models.BatchState, abortReason *string) error

	UpsertJob(ctx context.Context, job *models.JobRecord) error
	ListBatchJobs(ctx context.Context, batchID uuid.UUID) ([]*models.JobRecord, error)

	CreateReplacement(ctx context.Context, batchID uuid.UUID, r models.Replacement) error
	ListReplacements(ctx context.Context, batchID uuid.UUID) ([]models.Replacement, error)
}
