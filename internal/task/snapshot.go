package task

import (
	"fmt"
	"time"

	"taskassistant/internal/recurrence"
)

// Snapshot is the externally visible projection of a task's schedule state,
// used both for display and for persistence across restarts.
type Snapshot struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	StartDate     time.Time  `json:"start_date"`
	LastCompleted time.Time  `json:"last_completed"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	DaysRemaining *int       `json:"days_remaining,omitempty"`
	Overdue       bool       `json:"overdue"`
	OverdueDays   *int       `json:"overdue_days,omitempty"`
}

// Snapshot returns a copy of the current state.
func (t *Task) Snapshot() Snapshot {
	return Snapshot{
		ID:            t.id,
		Name:          t.name,
		StartDate:     t.startDate,
		LastCompleted: t.lastCompleted,
		LastUpdated:   copyTime(t.lastUpdated),
		DueDate:       copyTime(t.dueDate),
		DaysRemaining: copyInt(t.daysRemaining),
		Overdue:       t.overdue,
		OverdueDays:   copyInt(t.overdueDays),
	}
}

// Restore rebuilds a task from a persisted snapshot.
//
// Fallbacks for missing snapshot fields:
//   - zero LastCompleted  -> startDate
//   - zero StartDate      -> the configured startDate (config is authoritative
//     for the anchor; the snapshot value is only used when config carries none)
//   - derived fields      -> carried over for display, but LastUpdated is
//     always cleared so the first refresh recomputes them
//
// The cleared LastUpdated means a restored task is stale by definition, which
// also unblocks recomputation after an options change.
func Restore(id, name string, rule recurrence.Rule, startDate time.Time, snap Snapshot) (*Task, error) {
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	start := startDate
	if start.IsZero() {
		start = snap.StartDate
	}
	if start.IsZero() {
		return nil, fmt.Errorf("task %s: %w", id, ErrMissingStartDate)
	}

	last := snap.LastCompleted
	if last.IsZero() {
		last = start
	}

	t := &Task{
		id:            id,
		name:          name,
		rule:          rule,
		startDate:     start,
		lastCompleted: last,
		dueDate:       copyTime(snap.DueDate),
		daysRemaining: copyInt(snap.DaysRemaining),
		overdue:       snap.Overdue,
		overdueDays:   copyInt(snap.OverdueDays),
	}
	return t, nil
}
