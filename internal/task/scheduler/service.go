package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	logx "patrolsync/pkg/logx"
)

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cl := logx.CronLogger(log)
	return &Service{
		log: log,
		// Recover keeps a panicking tick from taking down the cron goroutine; later ticks still fire.
		c:        cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		handles:  map[Label]*handle{},
		reserved: map[Label]struct{}{},
		lastWarn: map[Label]time.Time{},
	}
}

// Start starts firing ticks. Tasks registered before Start keep their registration and
// get their first tick one interval after Start.
//
// Actions receive a context derived from ctx; it is canceled by Stop.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.c.Start()
	s.log.Info("service started", logx.Int("tasks", len(s.handles)))
}

// Stop stops every live task (honoring Edging), stops the cron loop and waits for in-flight
// ticks until ctx is done. The service cannot be restarted.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	labels := make([]Label, 0, len(s.handles))
	for l := range s.handles {
		labels = append(labels, l)
	}
	s.mu.Unlock()

	for _, l := range labels {
		s.StopTask(l)
	}

	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for in-flight ticks", logx.Err(ctx.Err()))
	}

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Int("tasks", len(labels)), logx.Duration("took", time.Since(start)))
}

// runCtxLocked returns the context handed to actions. Call with s.mu held.
func (s *Service) runCtxLocked() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}
