// Package task holds the per-task schedule state machine.
//
// A Task owns one TaskScheduleState: the completion anchors plus the derived
// due-date metrics. Derived fields are recomputed only by Refresh; Complete
// records a completion and nothing else. A task is either stale (LastUpdated
// unset — initial, or after Invalidate) or fresh (after a successful Refresh).
//
// Tasks are not safe for concurrent use. The owner (the registry service)
// serializes Complete/Refresh per task; accessors are read-only projections.
package task

import (
	"errors"
	"fmt"
	"time"

	"taskassistant/internal/recurrence"
)

// ErrMissingStartDate is returned when a task is constructed without an anchor.
var ErrMissingStartDate = errors.New("task start date is required")

// Task is a single recurring task: an immutable recurrence rule plus the
// mutable schedule state derived from it.
type Task struct {
	id   string
	name string
	rule recurrence.Rule

	startDate     time.Time
	lastCompleted time.Time

	lastUpdated   *time.Time
	dueDate       *time.Time
	daysRemaining *int
	overdue       bool
	overdueDays   *int
}

// New creates a task in the stale state. lastCompleted defaults to startDate
// until the first completion is recorded.
func New(id, name string, rule recurrence.Rule, startDate time.Time) (*Task, error) {
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	if startDate.IsZero() {
		return nil, fmt.Errorf("task %s: %w", id, ErrMissingStartDate)
	}
	return &Task{
		id:            id,
		name:          name,
		rule:          rule,
		startDate:     startDate,
		lastCompleted: startDate,
	}, nil
}

func (t *Task) ID() string   { return t.id }
func (t *Task) Name() string { return t.name }

func (t *Task) Rule() recurrence.Rule { return t.rule }

func (t *Task) StartDate() time.Time { return t.startDate }

func (t *Task) LastCompleted() time.Time { return t.lastCompleted }

// LastUpdated returns when the last successful refresh ran, or nil while the
// task is stale.
func (t *Task) LastUpdated() *time.Time { return copyTime(t.lastUpdated) }

// DueDate returns the computed next occurrence, or nil when none could be
// resolved (or the task has never been refreshed).
func (t *Task) DueDate() *time.Time { return copyTime(t.dueDate) }

// DaysRemaining returns whole days until the due date as of the last refresh;
// negative when overdue, nil when there is no due date.
func (t *Task) DaysRemaining() *int { return copyInt(t.daysRemaining) }

func (t *Task) Overdue() bool { return t.overdue }

// OverdueDays returns how many whole days overdue the task is; zero when not
// overdue, nil when there is no due date.
func (t *Task) OverdueDays() *int { return copyInt(t.overdueDays) }

// Fresh reports whether the derived fields reflect a successful refresh.
func (t *Task) Fresh() bool { return t.lastUpdated != nil }

// Complete records a completion at now. It deliberately does not recompute the
// derived fields: callers follow up with Refresh (the registry's complete
// action does both in sequence).
func (t *Task) Complete(now time.Time) {
	t.lastCompleted = now
}

// Invalidate marks the task stale so the next refresh recomputes everything.
// Used after the task's definition changed externally.
func (t *Task) Invalidate() {
	t.lastUpdated = nil
}

// Refresh recomputes the due date and the overdue metrics as of now.
//
// On an evaluator error the state is left untouched and the error is returned;
// there is no partial mutation. An unresolvable schedule is not an error: it
// clears the derived fields ("no upcoming occurrence") and still marks the
// task fresh.
func (t *Task) Refresh(now time.Time) error {
	due, err := recurrence.NextDue(t.rule, t.startDate, t.lastCompleted, now)
	if err != nil && !errors.Is(err, recurrence.ErrUnresolvableSchedule) {
		return fmt.Errorf("task %s: %w", t.id, err)
	}

	updated := now
	t.lastUpdated = &updated

	if err != nil {
		// Bounded search found nothing: no due date.
		t.dueDate = nil
		t.daysRemaining = nil
		t.overdue = false
		t.overdueDays = nil
		return nil
	}

	days := recurrence.DaysBetween(due, now)
	over := days < 0
	overDays := 0
	if over {
		overDays = -days
	}

	t.dueDate = &due
	t.daysRemaining = &days
	t.overdue = over
	t.overdueDays = &overDays
	return nil
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
