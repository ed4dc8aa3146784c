package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Content Records ---

func (s *PostgresStore) CreateContentRecord(ctx context.Context, rec *models.ContentRecord) error {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO content_records (id, tenant_id, batch_id, topic, platform, content, score, provider, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.TenantID, rec.BatchID, rec.Topic, rec.Platform, rec.Content, rec.Score, rec.Provider, meta, rec.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create content record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetContentRecord(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ContentRecord, error) {
	var r models.ContentRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, batch_id, topic, platform, content, score, provider, metadata, created_at
		 FROM content_records WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&r.ID, &r.TenantID, &r.BatchID, &r.Topic, &r.Platform, &r.Content, &r.Score, &r.Provider, &r.Metadata, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content record: %w", err)
	}
	return &r, nil
}

// --- Batches ---

func (s *PostgresStore) CreateBatch(ctx context.Context, rec *models.BatchRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batches (id, tenant_id, mode, state, total_planned, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.TenantID, rec.Mode, rec.State, rec.TotalPlanned, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.BatchRecord, error) {
	var b models.BatchRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, mode, state, total_planned, abort_reason, created_at, updated_at, finished_at
		 FROM batches WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&b.ID, &b.TenantID, &b.Mode, &b.State, &b.TotalPlanned, &b.AbortReason,
		&b.CreatedAt, &b.UpdatedAt, &b.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return &b, nil
}

// UpdateBatchState moves a batch to state. Terminal states also set finished_at.
func (s *PostgresStore) UpdateBatchState(ctx context.Context, id uuid.UUID, state models.BatchState, abortReason *string) error {
	now := time.Now().UTC()
	var finishedAt *time.Time
	if state.Terminal() {
		finishedAt = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches
		 SET state = $2, abort_reason = COALESCE($3, abort_reason), finished_at = COALESCE($4, finished_at), updated_at = $5
		 WHERE id = $1`,
		id, state, abortReason, finishedAt, now)
	if err != nil {
		return fmt.Errorf("update batch state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Batch Jobs ---

// UpsertJob writes the latest snapshot of a job's history row.
func (s *PostgresStore) UpsertJob(ctx context.Context, job *models.JobRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batch_jobs (id, batch_id, status, topic, platform, attempts, score, external_ref, error, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   status       = EXCLUDED.status,
		   attempts     = EXCLUDED.attempts,
		   score        = EXCLUDED.score,
		   external_ref = EXCLUDED.external_ref,
		   error        = EXCLUDED.error,
		   updated_at   = EXCLUDED.updated_at,
		   completed_at = EXCLUDED.completed_at`,
		job.ID, job.BatchID, job.Status, job.Topic, job.Platform, job.Attempts,
		job.Score, job.ExternalRef, job.Error, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBatchJobs(ctx context.Context, batchID uuid.UUID) ([]*models.JobRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, batch_id, status, topic, platform, attempts, score, external_ref, error, updated_at, completed_at
		 FROM batch_jobs WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.JobRecord
	for rows.Next() {
		var j models.JobRecord
		if err := rows.Scan(&j.ID, &j.BatchID, &j.Status, &j.Topic, &j.Platform, &j.Attempts,
			&j.Score, &j.ExternalRef, &j.Error, &j.UpdatedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan batch job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// --- Replacements ---

func (s *PostgresStore) CreateReplacement(ctx context.Context, batchID uuid.UUID, r models.Replacement) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO replacements (batch_id, item_index, old_job_id, old_spec, new_spec, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		batchID, r.Index, r.OldJobID, r.OldSpec, r.NewSpec, r.Reason, r.Timestamp)
	if err != nil {
		return fmt.Errorf("create replacement: %w", err)
	}
	return nil
}

// ListReplacements returns the audit trail of a batch in insertion order.
func (s *PostgresStore) ListReplacements(ctx context.Context, batchID uuid.UUID) ([]models.Replacement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item_index, old_job_id, old_spec, new_spec, reason, created_at
		 FROM replacements WHERE batch_id = $1 ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list replacements: %w", err)
	}
	defer rows.Close()

	var out []models.Replacement
	for rows.Next() {
		var r models.Replacement
		if err := rows.Scan(&r.Index, &r.OldJobID, &r.OldSpec, &r.NewSpec, &r.Reason, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan replacement: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
