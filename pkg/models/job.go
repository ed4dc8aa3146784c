package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a content-generation job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobSpec is the request handed to the executor. The scheduler never looks inside it.
type JobSpec struct {
	Topic    string            `json:"topic"`
	Platform string            `json:"platform"`
	Style    string            `json:"style,omitempty"`
	Context  string            `json:"context,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Extra keys stamped on every spec by the batch service.
const (
	ExtraTenantID = "tenant_id"
	ExtraBatchID  = "batch_id"
)

// WithExtra returns a copy of the spec with key set in Extra.
func (s JobSpec) WithExtra(key, value string) JobSpec {
	out := s
	out.Extra = make(map[string]string, len(s.Extra)+1)
	for k, v := range s.Extra {
		out.Extra[k] = v
	}
	out.Extra[key] = value
	return out
}

// WithLearnings returns a copy of the spec whose Context carries the given
// accumulated learnings after any caller-supplied context.
func (s JobSpec) WithLearnings(learnings string) JobSpec {
	if learnings == "" {
		return s
	}
	out := s
	if out.Extra != nil {
		out.Extra = make(map[string]string, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	if out.Context == "" {
		out.Context = "Learnings from earlier items:\n" + learnings
	} else {
		out.Context = out.Context + "\n\nLearnings from earlier items:\n" + learnings
	}
	return out
}

// Result is the executor output for one completed job.
type Result struct {
	Content     string            `json:"content"`
	Score       float64           `json:"score"`
	ExternalRef string            `json:"external_ref,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Job is one unit of work tracked by the scheduler. Result is set only when
// Status is completed; Error and ErrorKind only when failed or cancelled.
type Job struct {
	ID          uuid.UUID     `json:"id"`
	Spec        JobSpec       `json:"spec"`
	Status      JobStatus     `json:"status"`
	Attempts    int           `json:"attempts"`
	Result      *Result       `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration_ns,omitempty"`
}
