// Package conversation tracks planned, completed and revised items of a
// batch so that mid-batch revisions replace items instead of appending new ones.
package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

var (
	// ErrInvalidState is returned when an operation does not apply to the
	// item's current status.
	ErrInvalidState = errors.New("invalid item state")
	// ErrIndexOutOfRange is returned for an index outside the plan.
	ErrIndexOutOfRange = errors.New("item index out of range")
)

// Tracker is safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	totalPlanned int
	items        []models.ConversationItem
	replacements []models.Replacement
	inFlight     map[int]bool
	now          func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		inFlight: make(map[int]bool),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Plan sets the plan, replacing any previous one. Every item starts planned.
func (t *Tracker) Plan(specs []models.JobSpec) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalPlanned = len(specs)
	t.items = make([]models.ConversationItem, len(specs))
	for i, s := range specs {
		t.items[i] = models.ConversationItem{Index: i, Spec: s, Status: models.ItemStatusPlanned}
	}
	t.replacements = nil
	t.inFlight = make(map[int]bool)
}

// Begin marks a pending item as executing and returns the spec to run.
// An executing item cannot be replaced or archived.
func (t *Tracker) Begin(index int) (models.JobSpec, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, err := t.itemLocked(index)
	if err != nil {
		return models.JobSpec{}, err
	}
	if item.Status == models.ItemStatusCompleted || t.inFlight[index] {
		return models.JobSpec{}, fmt.Errorf("%w: item %d is %s", ErrInvalidState, index, t.statusLocked(index))
	}
	t.inFlight[index] = true
	return item.Spec, nil
}

// Release clears the executing mark without completing the item, leaving it pending.
func (t *Tracker) Release(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, index)
}

// MarkComplete records that jobID produced the item at index.
func (t *Tracker) MarkComplete(index int, jobID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, err := t.itemLocked(index)
	if err != nil {
		return err
	}
	if item.Status == models.ItemStatusCompleted {
		return fmt.Errorf("%w: item %d already completed", ErrInvalidState, index)
	}
	id := jobID
	item.Status = models.ItemStatusCompleted
	item.JobID = &id
	delete(t.inFlight, index)
	return nil
}

// Replace overwrites a pending item's spec in place. Completed items must
// be archived first; executing items cannot be replaced.
func (t *Tracker) Replace(index int, spec models.JobSpec, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, err := t.itemLocked(index)
	if err != nil {
		return err
	}
	if item.Status == models.ItemStatusCompleted || t.inFlight[index] {
		return fmt.Errorf("%w: cannot replace item %d while %s", ErrInvalidState, index, t.statusLocked(index))
	}

	t.replacements = append(t.replacements, models.Replacement{
		Index:     index,
		OldJobID:  item.JobID,
		OldSpec:   item.Spec,
		NewSpec:   spec,
		Reason:    reason,
		Timestamp: t.now(),
	})
	item.Spec = spec
	item.Status = models.ItemStatusReplaced
	item.JobID = nil
	item.Revision++
	return nil
}

// Archive returns a completed item to planned so it can be replaced and
// run again. The previous job id stays on the item until the next Replace
// moves it into the audit trail.
func (t *Tracker) Archive(index int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, err := t.itemLocked(index)
	if err != nil {
		return err
	}
	if item.Status != models.ItemStatusCompleted {
		return fmt.Errorf("%w: only completed items can be archived, item %d is %s", ErrInvalidState, index, item.Status)
	}
	item.Status = models.ItemStatusPlanned
	slog.Info("conversation item archived", "index", index, "job_id", item.JobID, "reason", reason)
	return nil
}

// Summary counts items. Replaced counts items revised at least once, even
// after they complete. Completed + Pending always equals TotalPlanned.
func (t *Tracker) Summary() models.ConversationSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := models.ConversationSummary{TotalPlanned: t.totalPlanned}
	for _, item := range t.items {
		if item.Status == models.ItemStatusCompleted {
			s.Completed++
		} else {
			s.Pending++
		}
		if item.Revision > 0 {
			s.Replaced++
		}
	}
	return s
}

// Item returns a copy of the item at index.
func (t *Tracker) Item(index int) (models.ConversationItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, err := t.itemLocked(index)
	if err != nil {
		return models.ConversationItem{}, err
	}
	return copyItem(*item), nil
}

// State returns a copy of the full tracker state.
func (t *Tracker) State() models.ConversationState {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := models.ConversationState{
		TotalPlanned: t.totalPlanned,
		Items:        make([]models.ConversationItem, len(t.items)),
		Replacements: append([]models.Replacement{}, t.replacements...),
	}
	for i, item := range t.items {
		st.Items[i] = copyItem(item)
	}
	return st
}

// NextPending returns the lowest-index pending item that is not executing
// and not rejected by skip (which may be nil).
func (t *Tracker) NextPending(skip func(models.ConversationItem) bool) (models.ConversationItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, item := range t.items {
		if item.Status == models.ItemStatusCompleted || t.inFlight[item.Index] {
			continue
		}
		c := copyItem(item)
		if skip != nil && skip(c) {
			continue
		}
		return c, true
	}
	return models.ConversationItem{}, false
}

// Pending returns the indexes of all pending items in order.
func (t *Tracker) Pending() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []int
	for _, item := range t.items {
		if item.Status != models.ItemStatusCompleted {
			out = append(out, item.Index)
		}
	}
	return out
}

func (t *Tracker) itemLocked(index int) (*models.ConversationItem, error) {
	if index < 0 || index >= len(t.items) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, len(t.items))
	}
	return &t.items[index], nil
}

func (t *Tracker) statusLocked(index int) string {
	if t.inFlight[index] {
		return "executing"
	}
	return string(t.items[index].Status)
}

func copyItem(item models.ConversationItem) models.ConversationItem {
	if item.JobID != nil {
		id := *item.JobID
		item.JobID = &id
	}
	return item
}
