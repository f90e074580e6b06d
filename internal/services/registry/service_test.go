package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskassistant/internal/eventbus"
	"taskassistant/internal/recurrence"
	"taskassistant/internal/storage"
	logx "taskassistant/pkg/logx"
)

func weeklyRule() recurrence.Rule {
	return recurrence.Rule{
		Kind:          recurrence.KindAfterCompletion,
		Frequency:     recurrence.FreqDays,
		Period:        7,
		AfterFinished: true,
	}
}

func testDefs() []Definition {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []Definition{
		{ID: "water_plants", Name: "Water Plants", Rule: weeklyRule(), StartDate: start},
		{ID: "clean_fridge", Name: "Clean Fridge", Rule: recurrence.Rule{
			Kind:      recurrence.KindFixedInterval,
			Frequency: recurrence.FreqWeeks,
			Period:    2,
		}, StartDate: start},
	}
}

func newTestService(t *testing.T, store storage.Store) *Service {
	t.Helper()
	s := New(Config{RefreshEvery: time.Minute}, logx.Nop(), nil, store, nil)
	s.now = func() time.Time { return time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestApplyLoadsAndLists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestService(t, nil)
	if err := s.Apply(ctx, testDefs()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	if list[0].ID != "water_plants" || list[1].ID != "clean_fridge" {
		t.Errorf("listing order = %s, %s; want definition order", list[0].ID, list[1].ID)
	}
	if list[0].State.Fresh() {
		t.Error("freshly applied task should be stale until a refresh")
	}
	if !list[0].State.LastCompleted.Equal(list[0].StartDate) {
		t.Errorf("cold start last_completed = %v, want start date", list[0].State.LastCompleted)
	}
}

func TestApplyRejectsBadDefinitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestService(t, nil)

	defs := testDefs()
	defs[1].ID = defs[0].ID
	if err := s.Apply(ctx, defs); err == nil {
		t.Error("duplicate ids should be rejected")
	}

	defs = testDefs()
	defs[0].ID = " "
	if err := s.Apply(ctx, defs); err == nil {
		t.Error("empty id should be rejected")
	}

	defs = testDefs()
	defs[0].Rule.Frequency = "eons"
	if err := s.Apply(ctx, defs); err == nil {
		t.Error("invalid rule should be rejected")
	}
}

func TestApplyRemovesDroppedDefinitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{}, logx.Nop(), bus, nil, nil)
	if err := s.Apply(ctx, testDefs()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Apply(ctx, testDefs()[:1]); err != nil {
		t.Fatalf("Apply (shrink): %v", err)
	}

	if got := s.List(); len(got) != 1 || got[0].ID != "water_plants" {
		t.Fatalf("after shrink: %v, want only water_plants", got)
	}

	var removed bool
	deadline := time.After(2 * time.Second)
	for !removed {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TaskRemoved && ev.TaskID == "clean_fridge" {
				removed = true
			}
		case <-deadline:
			t.Fatal("no TaskRemoved event for clean_fridge")
		}
	}
}

func TestApplyChangeMarksStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestService(t, nil)
	if err := s.Apply(ctx, testDefs()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s.RefreshAll(ctx)

	info, _ := s.Get("water_plants")
	if !info.State.Fresh() {
		t.Fatal("task should be fresh after sweep")
	}
	firstDue := info.State.DueDate

	defs := testDefs()
	defs[0].Rule.Period = 3
	if err := s.Apply(ctx, defs); err != nil {
		t.Fatalf("Apply (change): %v", err)
	}

	info, _ = s.Get("water_plants")
	if info.State.Fresh() {
		t.Fatal("changed task should be stale until the next sweep")
	}
	if !info.State.LastCompleted.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("completion history lost on option change: %v", info.State.LastCompleted)
	}

	s.RefreshAll(ctx)
	info, _ = s.Get("water_plants")
	if info.State.DueDate == nil || firstDue == nil {
		t.Fatal("due date missing after sweeps")
	}
	want := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	if !info.State.DueDate.Equal(want) {
		t.Errorf("due after period change = %v, want %v", info.State.DueDate, want)
	}
}

func TestCompleteRecomputesImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestService(t, nil)
	if err := s.Apply(ctx, testDefs()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := s.Complete(ctx, "water_plants"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	info, ok := s.Get("water_plants")
	if !ok {
		t.Fatal("task should exist")
	}
	now := s.now()
	if !info.State.LastCompleted.Equal(now) {
		t.Errorf("last_completed = %v, want %v", info.State.LastCompleted, now)
	}
	want := now.AddDate(0, 0, 7)
	if info.State.DueDate == nil || !info.State.DueDate.Equal(want) {
		t.Errorf("due after complete = %v, want %v", info.State.DueDate, want)
	}
	if !info.State.Fresh() {
		t.Error("complete should refresh immediately")
	}

	if err := s.Complete(ctx, "nope"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Complete(nope) = %v, want ErrUnknownTask", err)
	}
}

func TestRefreshAllComputesOverdue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestService(t, nil)
	if err := s.Apply(ctx, testDefs()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s.RefreshAll(ctx)

	// Last completed Jan 1, weekly: due Jan 8, now Jan 10 -> 2 days overdue.
	info, _ := s.Get("water_plants")
	if !info.State.Overdue {
		t.Fatal("water_plants should be overdue")
	}
	if info.State.OverdueDays == nil || *info.State.OverdueDays != 2 {
		t.Errorf("overdue_days = %v, want 2", info.State.OverdueDays)
	}
	if info.State.DaysRemaining == nil || *info.State.DaysRemaining != -2 {
		t.Errorf("days_remaining = %v, want -2", info.State.DaysRemaining)
	}
}

func TestInvalidateAndRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestService(t, nil)
	if err := s.Apply(ctx, testDefs()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s.RefreshAll(ctx)

	if err := s.Invalidate(ctx, "water_plants"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	info, _ := s.Get("water_plants")
	if info.State.Fresh() {
		t.Fatal("invalidated task should be stale")
	}

	if err := s.Refresh(ctx, "water_plants"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	info, _ = s.Get("water_plants")
	if !info.State.Fresh() {
		t.Fatal("refreshed task should be fresh")
	}

	if err := s.Refresh(ctx, "nope"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Refresh(nope) = %v, want ErrUnknownTask", err)
	}
}

func TestStateSurvivesRestartViaStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "store"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	s := newTestService(t, store)
	if err := s.Apply(ctx, testDefs()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Complete(ctx, "water_plants"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	completedAt := s.now()

	// New service instance over the same store, as after a restart.
	s2 := newTestService(t, store)
	s2.now = func() time.Time { return completedAt.Add(24 * time.Hour) }
	if err := s2.Apply(ctx, testDefs()); err != nil {
		t.Fatalf("Apply (restart): %v", err)
	}

	info, _ := s2.Get("water_plants")
	if info.State.Fresh() {
		t.Error("restored task should be stale before the first sweep")
	}
	if !info.State.LastCompleted.Equal(completedAt) {
		t.Errorf("restored last_completed = %v, want %v", info.State.LastCompleted, completedAt)
	}

	s2.RefreshAll(ctx)
	info, _ = s2.Get("water_plants")
	want := completedAt.AddDate(0, 0, 7)
	if info.State.DueDate == nil || !info.State.DueDate.Equal(want) {
		t.Errorf("due after restore = %v, want %v", info.State.DueDate, want)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := New(Config{RefreshEvery: 45 * time.Second, Timezone: "UTC"}, logx.Nop(), nil, nil, nil)
	if err := s.Apply(ctx, testDefs()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	snap := s.Snapshot()
	if snap.RefreshEvery != 45*time.Second {
		t.Errorf("RefreshEvery = %v, want 45s", snap.RefreshEvery)
	}
	if snap.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", snap.Timezone)
	}
	if len(snap.Tasks) != 2 {
		t.Errorf("len(Tasks) = %d, want 2", len(snap.Tasks))
	}
	if !snap.NextSweep.IsZero() {
		t.Error("NextSweep should be zero before Start")
	}
}

func TestStartStopSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := New(Config{RefreshEvery: time.Hour}, logx.Nop(), nil, nil, nil)
	s.now = func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) }
	if err := s.Apply(ctx, testDefs()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Start runs an immediate sweep.
	info, _ := s.Get("water_plants")
	if !info.State.Fresh() {
		t.Error("initial sweep should have refreshed tasks")
	}
	if s.Snapshot().NextSweep.IsZero() {
		t.Error("NextSweep should be set while running")
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	s.Stop(stopCtx)
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "Mars/Olympus"}, logx.Nop(), nil, nil, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("bad timezone should fail Start")
	}
}
