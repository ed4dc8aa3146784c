package models

import (
	"time"

	"github.com/google/uuid"
)

// ContentRecord is a persisted piece of generated copy. Its URL becomes the
// ExternalRef carried on the job result.
type ContentRecord struct {
	ID        uuid.UUID         `db:"id"         json:"id"`
	TenantID  uuid.UUID         `db:"tenant_id"  json:"tenant_id"`
	BatchID   *uuid.UUID        `db:"batch_id"   json:"batch_id,omitempty"`
	Topic     string            `db:"topic"      json:"topic"`
	Platform  string            `db:"platform"   json:"platform"`
	Content   string            `db:"content"    json:"content"`
	Score     float64           `db:"score"      json:"score"`
	Provider  string            `db:"provider"   json:"provider"`
	Metadata  map[string]string `db:"metadata"   json:"metadata,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}

// BatchRecord is the persisted history row of one batch run.
type BatchRecord struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	TenantID     uuid.UUID  `db:"tenant_id"     json:"tenant_id"`
	Mode         BatchMode  `db:"mode"          json:"mode"`
	State        BatchState `db:"state"         json:"state"`
	TotalPlanned int        `db:"total_planned" json:"total_planned"`
	AbortReason  *string    `db:"abort_reason"  json:"abort_reason,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
	FinishedAt   *time.Time `db:"finished_at"   json:"finished_at,omitempty"`
}

// JobRecord is the persisted history row of one job.
type JobRecord struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	BatchID     uuid.UUID  `db:"batch_id"     json:"batch_id"`
	Status      JobStatus  `db:"status"       json:"status"`
	Topic       string     `db:"topic"        json:"topic"`
	Platform    string     `db:"platform"     json:"platform"`
	Attempts    int        `db:"attempts"     json:"attempts"`
	Score       *float64   `db:"score"        json:"score,omitempty"`
	ExternalRef *string    `db:"external_ref" json:"external_ref,omitempty"`
	Error       *string    `db:"error"        json:"error,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
