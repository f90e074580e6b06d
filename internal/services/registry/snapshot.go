package registry

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tz := s.cfg.Timezone
	if tz == "" && s.loc != nil {
		tz = s.loc.String()
	}

	var next time.Time
	if s.c != nil && s.entryID != 0 {
		next = s.c.Entry(s.entryID).Next
	}

	tasks := make([]TaskInfo, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, infoLocked(s.tasks[id]))
	}

	return Snapshot{
		Timezone:     tz,
		RefreshEvery: s.cfg.RefreshEvery,
		NextSweep:    next,
		Tasks:        tasks,
	}
}
