package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskassistant/internal/eventbus"
	"taskassistant/internal/metrics"
	"taskassistant/internal/notify"
	"taskassistant/internal/storage"
	"taskassistant/internal/task"
	logx "taskassistant/pkg/logx"
)

// Complete records a completion for the task and immediately recomputes its
// due date, so callers observe the new schedule without waiting for a sweep.
func (s *Service) Complete(ctx context.Context, id string) error {
	return s.complete(ctx, id, "api")
}

func (s *Service) complete(ctx context.Context, id, source string) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	now := s.now()
	prev := e.tk.Snapshot()
	e.tk.Complete(now)
	err := e.tk.Refresh(now)
	snap := e.tk.Snapshot()
	s.mu.Unlock()

	metrics.RecordCompletion(source)
	metrics.RecordRefresh(err)

	entry := storage.CompletionEntry{At: now, TaskID: id, TaskName: snap.Name, Source: source}
	if prev.DueDate != nil {
		entry.DueWas = prev.DueDate.Format(time.RFC3339)
	}
	if prev.OverdueDays != nil {
		entry.OverdueDays = *prev.OverdueDays
	}
	s.recordCompletion(ctx, entry)
	s.persist(ctx, snap)

	if s.alerts != nil {
		s.alerts.ClearDedup(id)
	}
	s.publish(eventbus.TaskCompleted, id, snap)

	if err != nil {
		return fmt.Errorf("task %s: %w", id, err)
	}
	return nil
}

// Refresh recomputes one task's due date and derived fields.
func (s *Service) Refresh(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	err := e.tk.Refresh(s.now())
	snap := e.tk.Snapshot()
	s.mu.Unlock()

	metrics.RecordRefresh(err)
	if err != nil {
		return fmt.Errorf("task %s: %w", id, err)
	}
	s.persist(ctx, snap)
	s.publish(eventbus.TaskRefreshed, id, snap)
	return nil
}

// Invalidate marks one task stale; the next sweep recomputes it.
func (s *Service) Invalidate(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	e.tk.Invalidate()
	snap := e.tk.Snapshot()
	s.mu.Unlock()

	s.persist(ctx, snap)
	return nil
}

// RefreshAll sweeps every task. Failures are logged per task and do not stop
// the sweep.
func (s *Service) RefreshAll(ctx context.Context) {
	sweep := uuid.NewString()[:8]
	started := time.Now()

	s.mu.Lock()
	now := s.now()
	ids := append([]string(nil), s.order...)

	var (
		snaps   = make([]task.Snapshot, 0, len(ids))
		alerts  []notify.Alert
		overdue int
		maxDays int
	)
	for _, id := range ids {
		e := s.tasks[id]
		prev := e.tk.Snapshot()
		err := e.tk.Refresh(now)
		metrics.RecordRefresh(err)
		if err != nil {
			s.log.Warn("refresh failed",
				logx.String("sweep", sweep), logx.String("task", id), logx.Err(err))
			continue
		}
		snap := e.tk.Snapshot()
		snaps = append(snaps, snap)

		if snap.Overdue {
			overdue++
			if !prev.Overdue {
				s.publish(eventbus.TaskOverdue, id, snap)
			}
			days := 0
			if snap.OverdueDays != nil {
				days = *snap.OverdueDays
			}
			if days > maxDays {
				maxDays = days
			}
			a := notify.Alert{TaskID: id, TaskName: snap.Name, OverdueDays: days, At: now}
			if snap.DueDate != nil {
				a.DueDate = *snap.DueDate
			}
			alerts = append(alerts, a)
		}
		if derivedChanged(prev, snap) {
			s.publish(eventbus.TaskRefreshed, id, snap)
		}
	}
	total := len(s.tasks)
	s.mu.Unlock()

	for _, snap := range snaps {
		s.persist(ctx, snap)
	}
	for _, a := range alerts {
		s.alert(ctx, a)
	}

	metrics.UpdateTaskGauges(total, overdue, maxDays)
	metrics.RecordSweep(time.Since(started))
	s.log.Debug("sweep finished",
		logx.String("sweep", sweep), logx.Int("tasks", total),
		logx.Int("overdue", overdue), logx.Duration("took", time.Since(started)))
}

func derivedChanged(a, b task.Snapshot) bool {
	// A stale task becoming fresh counts as a change even if the recomputed
	// values match the carried-over display state.
	if a.LastUpdated == nil && b.LastUpdated != nil {
		return true
	}
	return !timePtrEqual(a.DueDate, b.DueDate) ||
		!intPtrEqual(a.DaysRemaining, b.DaysRemaining) ||
		a.Overdue != b.Overdue
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Get returns one task's definition and current state.
func (s *Service) Get(id string) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return infoLocked(e), true
}

// List returns every task in definition order.
func (s *Service) List() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, infoLocked(s.tasks[id]))
	}
	return out
}

func infoLocked(e *entry) TaskInfo {
	return TaskInfo{
		ID:        e.def.ID,
		Name:      e.def.Name,
		Rule:      e.def.Rule,
		StartDate: e.def.StartDate,
		State:     e.tk.Snapshot(),
	}
}
