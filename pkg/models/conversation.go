package models

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the bookkeeping state of one planned item.
type ItemStatus string

const (
	ItemStatusPlanned   ItemStatus = "planned"
	ItemStatusCompleted ItemStatus = "completed"
	// ItemStatusReplaced marks a pending item whose spec was revised.
	ItemStatusReplaced ItemStatus = "replaced"
)

// ConversationItem is one slot of a plan. Revision counts replacements.
type ConversationItem struct {
	Index    int        `json:"index"`
	Spec     JobSpec    `json:"spec"`
	Status   ItemStatus `json:"status"`
	JobID    *uuid.UUID `json:"job_id,omitempty"`
	Revision int        `json:"revision"`
}

// Replacement is the audit record of one replace call.
type Replacement struct {
	Index     int        `json:"index"`
	OldJobID  *uuid.UUID `json:"old_job_id,omitempty"`
	OldSpec   JobSpec    `json:"old_spec"`
	NewSpec   JobSpec    `json:"new_spec"`
	Reason    string     `json:"reason"`
	Timestamp time.Time  `json:"timestamp"`
}

// ConversationState is a snapshot of a tracker.
type ConversationState struct {
	TotalPlanned int                `json:"total_planned"`
	Items        []ConversationItem `json:"items"`
	Replacements []Replacement      `json:"replacements"`
}

// ConversationSummary counts items; Completed + Pending == TotalPlanned.
type ConversationSummary struct {
	TotalPlanned int `json:"total_planned"`
	Completed    int `json:"completed"`
	Pending      int `json:"pending"`
	Replaced     int `json:"replaced"`
}
