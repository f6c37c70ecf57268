package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled: s.cfg.Enabled,
		Running: s.stopCh != nil,
		Workers: s.cfg.Workers,
		Skipped: s.skipped.Load(),
		Dropped: s.dropped.Load(),
	}
	if snap.Workers <= 0 {
		snap.Workers = DefaultWorkers
	}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	} else {
		snap.Timezone = s.cfg.Timezone
	}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
	}
	snap.Schedules = make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, Running: d.running.Load()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
