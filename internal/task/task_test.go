package task

import (
	"errors"
	"testing"
	"time"

	"taskassistant/internal/recurrence"
)

func weeklyAfter() recurrence.Rule {
	return recurrence.Rule{Kind: recurrence.KindAfterCompletion, Frequency: recurrence.FreqDays, Period: 7}
}

func mustNew(t *testing.T, rule recurrence.Rule, start time.Time) *Task {
	t.Helper()
	tk, err := New("dishes", "Do the dishes", rule, start)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tk
}

func TestRefreshOverdueDerivation(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	tk := mustNew(t, weeklyAfter(), start)

	// End to end: completed Jan 1, rule "after 7 days", refreshed Jan 10.
	now := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	if err := tk.Refresh(now); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	due := tk.DueDate()
	if due == nil || !due.Equal(time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("DueDate = %v, want 2024-01-08", due)
	}
	if d := tk.DaysRemaining(); d == nil || *d != -2 {
		t.Fatalf("DaysRemaining = %v, want -2", d)
	}
	if !tk.Overdue() {
		t.Fatal("expected task to be overdue")
	}
	if od := tk.OverdueDays(); od == nil || *od != 2 {
		t.Fatalf("OverdueDays = %v, want 2", od)
	}
	if lu := tk.LastUpdated(); lu == nil || !lu.Equal(now) {
		t.Fatalf("LastUpdated = %v, want %v", lu, now)
	}
}

func TestRefreshNotOverdue(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	tk := mustNew(t, weeklyAfter(), start)

	now := time.Date(2024, time.January, 6, 0, 0, 0, 0, time.UTC)
	if err := tk.Refresh(now); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if d := tk.DaysRemaining(); d == nil || *d != 2 {
		t.Fatalf("DaysRemaining = %v, want 2", d)
	}
	if tk.Overdue() {
		t.Fatal("task must not be overdue")
	}
	if od := tk.OverdueDays(); od == nil || *od != 0 {
		t.Fatalf("OverdueDays = %v, want 0", od)
	}
}

func TestRefreshDueExactlyNow(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	tk := mustNew(t, weeklyAfter(), start)

	// Due date lands exactly on now: zero days remaining, not overdue.
	now := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	if err := tk.Refresh(now); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if d := tk.DaysRemaining(); d == nil || *d != 0 {
		t.Fatalf("DaysRemaining = %v, want 0", d)
	}
	if tk.Overdue() {
		t.Fatal("task due exactly now must not be overdue")
	}
}

func TestCompleteDoesNotRefresh(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	tk := mustNew(t, weeklyAfter(), start)

	now := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	if err := tk.Refresh(now); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	dueBefore := tk.DueDate()

	tk.Complete(now)
	if !tk.LastCompleted().Equal(now) {
		t.Fatalf("LastCompleted = %v, want %v", tk.LastCompleted(), now)
	}
	// Derived fields are untouched until the follow-up refresh.
	if due := tk.DueDate(); due == nil || !due.Equal(*dueBefore) {
		t.Fatalf("DueDate changed on Complete: %v", due)
	}
	if !tk.Fresh() {
		t.Fatal("Complete must not change freshness")
	}

	if err := tk.Refresh(now); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if due := tk.DueDate(); due == nil || !due.Equal(now.AddDate(0, 0, 7)) {
		t.Fatalf("DueDate after completion = %v, want %v", due, now.AddDate(0, 0, 7))
	}
	if tk.Overdue() {
		t.Fatal("freshly completed task must not be overdue")
	}
}

func TestInvalidateMakesStale(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	tk := mustNew(t, weeklyAfter(), start)

	if tk.Fresh() {
		t.Fatal("new task must start stale")
	}
	if err := tk.Refresh(start.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !tk.Fresh() {
		t.Fatal("refreshed task must be fresh")
	}
	tk.Invalidate()
	if tk.Fresh() {
		t.Fatal("invalidated task must be stale")
	}
}

func TestRefreshErrorLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	tk := mustNew(t, weeklyAfter(), start)

	now := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)
	if err := tk.Refresh(now); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	before := tk.Snapshot()

	// Corrupt the rule behind the constructor's back to simulate a definition
	// that went bad after construction.
	tk.rule.Frequency = "fortnights"
	err := tk.Refresh(now.AddDate(0, 0, 1))
	if !errors.Is(err, recurrence.ErrInvalidRule) {
		t.Fatalf("Refresh error = %v, want ErrInvalidRule", err)
	}

	after := tk.Snapshot()
	if after.LastUpdated == nil || !after.LastUpdated.Equal(*before.LastUpdated) {
		t.Fatalf("LastUpdated mutated on failed refresh: %v", after.LastUpdated)
	}
	if after.DueDate == nil || !after.DueDate.Equal(*before.DueDate) {
		t.Fatalf("DueDate mutated on failed refresh: %v", after.DueDate)
	}
	if after.Overdue != before.Overdue {
		t.Fatal("Overdue mutated on failed refresh")
	}
}

func TestRefreshUnresolvableScheduleClearsDerived(t *testing.T) {
	t.Parallel()
	rule := recurrence.Rule{
		Kind:            recurrence.KindScheduledWeekday,
		Frequency:       recurrence.FreqMonths,
		Period:          1,
		ScheduleOrdinal: 5,
		ScheduleWeekday: time.Monday,
	}
	start := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	tk, err := New("report", "Monthly report", rule, start)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// now is 10 years past lastCompleted: every candidate within the bounded
	// month search is in the past.
	now := time.Date(2034, time.January, 1, 0, 0, 0, 0, time.UTC)
	if err := tk.Refresh(now); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if tk.DueDate() != nil {
		t.Fatalf("DueDate = %v, want nil", tk.DueDate())
	}
	if tk.DaysRemaining() != nil {
		t.Fatal("DaysRemaining must be nil without a due date")
	}
	if tk.Overdue() {
		t.Fatal("Overdue must be false without a due date")
	}
	if tk.OverdueDays() != nil {
		t.Fatal("OverdueDays must be nil without a due date")
	}
	if !tk.Fresh() {
		t.Fatal("unresolvable schedule still counts as a completed refresh")
	}
}

func TestNewRejectsInvalidRule(t *testing.T) {
	t.Parallel()
	_, err := New("x", "x", recurrence.Rule{Kind: recurrence.KindAfterCompletion, Frequency: "eons", Period: 1}, time.Now())
	if !errors.Is(err, recurrence.ErrInvalidRule) {
		t.Fatalf("New error = %v, want ErrInvalidRule", err)
	}
	_, err = New("x", "x", weeklyAfter(), time.Time{})
	if !errors.Is(err, ErrMissingStartDate) {
		t.Fatalf("New error = %v, want ErrMissingStartDate", err)
	}
}
