package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	logx "patrolsync/pkg/logx"
)

// StartTask registers action under label and runs it every interval.
//
// It fails with *DuplicateLabelError while another live task holds label; an existing task is
// never replaced. With Leading, action runs once synchronously before StartTask returns. With a
// Timeout, the task is stopped automatically (same path as StopTask, so Edging applies) and
// OnTimeout is called afterwards.
func (s *Service) StartTask(label Label, action Action, interval time.Duration, opts ...Option) error {
	if !label.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidLabel, label)
	}
	if action == nil {
		return ErrNilAction
	}
	if interval <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidInterval, interval)
	}
	var opt Options
	for _, o := range opts {
		if o != nil {
			o(&opt)
		}
	}
	if opt.Timeout < 0 {
		opt.Timeout = 0
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if _, ok := s.handles[label]; ok {
		s.mu.Unlock()
		return &DuplicateLabelError{Label: label}
	}
	if _, ok := s.reserved[label]; ok {
		s.mu.Unlock()
		return &DuplicateLabelError{Label: label}
	}
	// Reserve the label so a concurrent StartTask can't slip in while the leading run is outside the lock.
	s.reserved[label] = struct{}{}
	ctx := s.runCtxLocked()
	s.mu.Unlock()

	h := &handle{label: label, action: action, interval: interval, opt: opt}

	if opt.Leading {
		s.runSync(ctx, h, "leading")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, label)
	if s.stopped {
		return ErrStopped
	}

	s.gen++
	h.gen = s.gen
	h.registeredAt = time.Now()
	h.entryID = s.c.Schedule(fixedRate{every: interval}, cron.FuncJob(func() { s.tick(h) }))
	if opt.Timeout > 0 {
		gen := h.gen
		// The callback takes s.mu, so it can't observe the registry before this critical section ends.
		h.timeout = time.AfterFunc(opt.Timeout, func() { s.expire(label, gen) })
	}
	s.handles[label] = h

	args := []logx.Field{logx.String("label", label.String()), logx.Duration("interval", interval)}
	if opt.Timeout > 0 {
		args = append(args, logx.Duration("timeout", opt.Timeout))
	}
	if opt.Leading || opt.Edging {
		args = append(args, logx.Bool("leading", opt.Leading), logx.Bool("edging", opt.Edging))
	}
	s.log.Debug("task started", args...)
	return nil
}

// StopTask stops the task registered under label. It reports whether a task was stopped;
// unknown labels (including tasks already stopped by their timeout) are a no-op.
//
// Order: the repeating timer is canceled, the edge run (if Edging) happens, then the label is
// released. Once StopTask returns, the label can be registered again.
func (s *Service) StopTask(label Label) bool {
	return s.stop(label, 0)
}

// stop stops the live handle under label. gen != 0 restricts the stop to that registration.
func (s *Service) stop(label Label, gen uint64) bool {
	s.mu.Lock()
	h, ok := s.handles[label]
	if !ok || h.stopping || (gen != 0 && h.gen != gen) {
		s.mu.Unlock()
		return false
	}
	h.stopping = true
	s.c.Remove(h.entryID)
	if h.timeout != nil {
		h.timeout.Stop()
	}
	ctx := s.runCtxLocked()
	s.mu.Unlock()

	if h.opt.Edging {
		s.runSync(ctx, h, "edge")
	}

	s.mu.Lock()
	if cur, ok := s.handles[label]; ok && cur == h {
		delete(s.handles, label)
	}
	s.mu.Unlock()

	s.log.Debug("task stopped", logx.String("label", label.String()), logx.Uint64("runs", h.runs.Load()))
	return true
}

func (s *Service) expire(label Label, gen uint64) {
	s.mu.Lock()
	h, ok := s.handles[label]
	if !ok || h.gen != gen {
		s.mu.Unlock()
		return
	}
	onTimeout := h.opt.OnTimeout
	timeout := h.opt.Timeout
	s.mu.Unlock()

	if !s.stop(label, gen) {
		return
	}
	s.log.Debug("task timed out", logx.String("label", label.String()), logx.Duration("timeout", timeout))
	if onTimeout == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("timeout callback panicked", logx.String("label", label.String()), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	onTimeout()
}

// tick runs on a cron job goroutine. Panics propagate to the cron Recover wrapper.
func (s *Service) tick(h *handle) {
	s.mu.Lock()
	ctx := s.runCtxLocked()
	s.mu.Unlock()

	h.runs.Add(1)
	if err := h.action(ctx); err != nil {
		h.failures.Add(1)
		s.reportActionError(h.label, "tick", err)
	}
}

// runSync runs a leading or edge invocation on the caller's goroutine.
// A panic is recovered and reported like a returned error.
func (s *Service) runSync(ctx context.Context, h *handle, kind string) {
	h.runs.Add(1)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanicked, r)
			}
		}()
		return h.action(ctx)
	}()
	if err != nil {
		h.failures.Add(1)
		s.reportActionError(h.label, kind, err)
	}
}

// Has reports whether a task holds label. A task whose edge run is in progress still holds it.
func (s *Service) Has(label Label) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[label]
	return ok
}

// Labels returns the registered labels sorted by their string form.
func (s *Service) Labels() []Label {
	s.mu.Lock()
	out := make([]Label, 0, len(s.handles))
	for l := range s.handles {
		out = append(out, l)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
