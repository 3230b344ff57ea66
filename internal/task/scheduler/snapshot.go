package scheduler

import "sort"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.started && !s.stopped
	hs := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		hs = append(hs, h)
	}
	c := s.c
	s.mu.Unlock()

	items := make([]TaskInfo, 0, len(hs))
	for _, h := range hs {
		it := TaskInfo{
			Label:        h.label.String(),
			Interval:     h.interval,
			Leading:      h.opt.Leading,
			Edging:       h.opt.Edging,
			Timeout:      h.opt.Timeout,
			RegisteredAt: h.registeredAt,
			Runs:         h.runs.Load(),
			Failures:     h.failures.Load(),
		}
		if c != nil && h.entryID != 0 {
			e := c.Entry(h.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })

	return Snapshot{Running: running, Tasks: items}
}
