package scheduler

import (
	"context"
	"errors"
	"time"

	logx "patrolsync/pkg/logx"
)

const actionWarnThrottle = 5 * time.Second

func (s *Service) reportActionError(label Label, kind string, err error) {
	if err == nil {
		return
	}
	// Cancellation during shutdown is expected.
	if errors.Is(err, context.Canceled) {
		s.log.Debug("task action canceled", logx.String("label", label.String()), logx.String("run", kind))
		return
	}

	now := time.Now()
	s.warnMu.Lock()
	if s.lastWarn == nil {
		s.lastWarn = make(map[Label]time.Time)
	}
	last := s.lastWarn[label]
	if !last.IsZero() && now.Sub(last) < actionWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[label] = now
	s.warnMu.Unlock()

	// Fetch failures in a polling task can repeat every tick; warn at most once per window.
	s.log.Warn("task action failed", logx.String("label", label.String()), logx.String("run", kind), logx.Err(err))
}
