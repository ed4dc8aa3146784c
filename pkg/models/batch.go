package models

import (
	"time"

	"github.com/google/uuid"
)

// BatchMode selects how a plan is executed.
type BatchMode string

const (
	BatchModeAuto       BatchMode = "auto"
	BatchModeParallel   BatchMode = "parallel"
	BatchModeSequential BatchMode = "sequential"
)

// BatchState is the orchestrator state machine position.
type BatchState string

const (
	BatchStatePlanning   BatchState = "planning"
	BatchStateExecuting  BatchState = "executing"
	BatchStateCheckpoint BatchState = "checkpoint"
	BatchStateCompleted  BatchState = "completed"
	BatchStateCancelled  BatchState = "cancelled"
	BatchStateFailed     BatchState = "failed"
)

// Terminal reports whether the batch has finished.
func (s BatchState) Terminal() bool {
	return s == BatchStateCompleted || s == BatchStateCancelled || s == BatchStateFailed
}

// BatchPlan is the fixed list of specs making up one batch request.
type BatchPlan struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Specs        []JobSpec `json:"specs"`
	TotalPlanned int       `json:"total_planned"`
}

// NewBatchPlan creates a plan with a fresh id; TotalPlanned is fixed here.
func NewBatchPlan(tenantID uuid.UUID, specs []JobSpec) BatchPlan {
	cp := make([]JobSpec, len(specs))
	copy(cp, specs)
	return BatchPlan{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Specs:        cp,
		TotalPlanned: len(cp),
	}
}

// QueueStats is a point-in-time view of a job queue.
type QueueStats struct {
	Queued      int           `json:"queued"`
	Processing  int           `json:"processing"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Cancelled   int           `json:"cancelled"`
	Retries     int           `json:"retries"`
	AvgDuration time.Duration `json:"avg_duration_ns"`
}

// BatchResult enumerates every admitted job by outcome. Orchestrator-level
// fields are empty when the result comes straight from a job queue.
type BatchResult struct {
	BatchID      uuid.UUID           `json:"batch_id"`
	State        BatchState          `json:"state,omitempty"`
	Mode         BatchMode           `json:"mode,omitempty"`
	Completed    []Job               `json:"completed"`
	Failed       []Job               `json:"failed"`
	Cancelled    []Job               `json:"cancelled"`
	Stats        QueueStats          `json:"stats"`
	Conversation ConversationSummary `json:"conversation"`
	Learning     LearningStats       `json:"learning"`
	AbortReason  string              `json:"abort_reason,omitempty"`
}

// CheckpointStats is reported at each sequential checkpoint.
type CheckpointStats struct {
	BatchID      uuid.UUID           `json:"batch_id"`
	Processed    int                 `json:"processed"`
	TotalPlanned int                 `json:"total_planned"`
	Failed       int                 `json:"failed"`
	Conversation ConversationSummary `json:"conversation"`
	Learning     LearningStats       `json:"learning"`
	At           time.Time           `json:"at"`
}
