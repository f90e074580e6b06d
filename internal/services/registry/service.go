package registry

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"taskassistant/internal/eventbus"
	"taskassistant/internal/notify"
	"taskassistant/internal/storage"
	"taskassistant/internal/task"
	logx "taskassistant/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, alerts *notify.Service) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = 30 * time.Second
	}
	return &Service{
		log:    log,
		cfg:    cfg,
		bus:    bus,
		store:  store,
		alerts: alerts,
		tasks:  map[string]*entry{},
		now:    time.Now,
	}
}

// Apply reconciles the live task set against defs: new definitions are added
// (restoring persisted state when available), changed ones are rebuilt and
// marked stale, and definitions no longer present are removed.
func (s *Service) Apply(ctx context.Context, defs []Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]Definition, len(defs))
	for _, d := range defs {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return fmt.Errorf("definition %q: empty id", d.Name)
		}
		if _, dup := want[id]; dup {
			return fmt.Errorf("definition %q: duplicate id %q", d.Name, id)
		}
		want[id] = d
	}

	// Remove tasks whose definition is gone.
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := want[id]; ok {
			kept = append(kept, id)
			continue
		}
		delete(s.tasks, id)
		if s.store != nil {
			if err := s.store.DeleteTaskState(ctx, id); err != nil {
				s.log.Warn("task state delete failed", logx.String("task", id), logx.Err(err))
			}
		}
		s.publish(eventbus.TaskRemoved, id, nil)
		s.log.Info("task removed", logx.String("task", id))
	}
	s.order = kept

	for _, d := range defs {
		id := strings.TrimSpace(d.ID)
		if cur, ok := s.tasks[id]; ok {
			if sameDefinition(cur.def, d) {
				continue
			}
			// Options changed: rebuild on the old state; Restore leaves the
			// task stale so the next sweep recomputes its due date.
			tk, err := task.Restore(id, d.Name, d.Rule, d.StartDate, cur.tk.Snapshot())
			if err != nil {
				return fmt.Errorf("task %s: %w", id, err)
			}
			cur.def = d
			cur.tk = tk
			s.log.Info("task updated", logx.String("task", id))
			continue
		}

		tk, err := s.buildLocked(ctx, id, d)
		if err != nil {
			return err
		}
		s.tasks[id] = &entry{def: d, tk: tk}
		s.order = append(s.order, id)
		s.publish(eventbus.TaskLoaded, id, tk.Snapshot())
		s.log.Info("task loaded",
			logx.String("task", id), logx.String("kind", string(d.Rule.EffectiveKind())))
	}
	return nil
}

// buildLocked creates the runtime task for a new definition, preferring
// persisted state over a cold start.
func (s *Service) buildLocked(ctx context.Context, id string, d Definition) (*task.Task, error) {
	if s.store != nil {
		snap, ok, err := s.store.GetTaskState(ctx, id)
		if err != nil {
			s.log.Warn("task state load failed", logx.String("task", id), logx.Err(err))
		} else if ok {
			tk, err := task.Restore(id, d.Name, d.Rule, d.StartDate, snap)
			if err == nil {
				return tk, nil
			}
			s.log.Warn("task state restore failed", logx.String("task", id), logx.Err(err))
		}
	}
	tk, err := task.New(id, d.Name, d.Rule, d.StartDate)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	return tk, nil
}

func sameDefinition(a, b Definition) bool {
	return a.Name == b.Name && a.Rule == b.Rule && a.StartDate.Equal(b.StartDate)
}

// Start launches the periodic refresh sweep. An immediate sweep runs first so
// restored tasks don't show stale state until the first tick.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("registry timezone %q: %w", tz, err)
		}
		loc = l
	}
	s.loc = loc
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	c := cron.New(cron.WithLocation(loc))
	spec := fmt.Sprintf("@every %s", s.cfg.RefreshEvery)
	id, err := c.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in refresh sweep",
					logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.RefreshAll(runCtx)
	})
	if err != nil {
		s.runCancel()
		s.mu.Unlock()
		return fmt.Errorf("sweep schedule %q: %w", spec, err)
	}
	s.c = c
	s.entryID = id
	s.mu.Unlock()

	s.RefreshAll(runCtx)
	c.Start()
	s.log.Info("registry started",
		logx.Duration("refresh_every", s.cfg.RefreshEvery), logx.String("tz", loc.String()))
	return nil
}

// Stop halts the sweep. Pending sweep runs are waited for until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.entryID = 0
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("registry stopped")
}

func (s *Service) publish(typ eventbus.Type, id string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), TaskID: id, Data: data})
}

func (s *Service) persist(ctx context.Context, snap task.Snapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.PutTaskState(ctx, snap); err != nil {
		s.log.Warn("task state persist failed", logx.String("task", snap.ID), logx.Err(err))
	}
}

func (s *Service) recordCompletion(ctx context.Context, e storage.CompletionEntry) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendCompletion(ctx, e); err != nil {
		s.log.Warn("completion log append failed", logx.String("task", e.TaskID), logx.Err(err))
	}
}

func (s *Service) alert(ctx context.Context, a notify.Alert) {
	if s.alerts == nil || !s.alerts.Enabled() {
		return
	}
	if err := s.alerts.Publish(ctx, a); err != nil {
		s.log.Debug("alert publish failed", logx.String("task", a.TaskID), logx.Err(err))
	}
}
