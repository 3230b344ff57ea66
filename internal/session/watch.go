package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"patrolsync/internal/eventbus"
	"patrolsync/internal/patrol"
	"patrolsync/internal/task/scheduler"
	logx "patrolsync/pkg/logx"
)

// RefreshLabel names the session-wide event list refresh.
var RefreshLabel = scheduler.StringLabel("refresh-event")

// PollLabel names the telemetry poll of one flight task.
func PollLabel(taskID int64) scheduler.Label {
	return scheduler.StringLabel("flight-poll:" + strconv.FormatInt(taskID, 10))
}

// TaskChange is the payload of a task.changed bus event.
type TaskChange struct {
	Previous *patrol.Task
	Next     *patrol.Task
}

// mutate applies fn to the state and reacts to the resulting current task.
func (s *Store) mutate(fn func(st *state) error) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.mu.Lock()
	if err := fn(&s.st); err != nil {
		s.mu.Unlock()
		return err
	}
	next := s.currentTaskLocked()
	s.mu.Unlock()

	prev := s.observed
	if prev == nil && next == nil {
		return nil
	}
	s.observed = next
	s.onCurrentTaskChanged(prev, next)
	return nil
}

// OnCurrentTaskChanged starts or stops telemetry polling for a change of the current task
// from previous to next. The store calls it after every mutation that may change the
// current task; hosts driving their own state can call it directly.
func (s *Store) OnCurrentTaskChanged(previous, next *patrol.Task) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.observed = next
	s.onCurrentTaskChanged(previous, next)
}

// onCurrentTaskChanged runs with watchMu held.
func (s *Store) onCurrentTaskChanged(previous, next *patrol.Task) {
	if patrol.IsSameInstance(previous, next) {
		return
	}
	s.publish(eventbus.TypeTaskChanged, TaskChange{Previous: previous, Next: next})

	if previous.IsFlight() {
		s.stopPolling(PollLabel(previous.ID))
		s.SetVideoURL("")
	}

	switch {
	case next.IsFlight():
		if next.IsLiveFlight() {
			s.startPolling(*next)
		}
	case next != nil:
		s.stopPolling(PollLabel(next.ID))
	}
}

func (s *Store) startPolling(task patrol.Task) {
	if s.isClosed() {
		return
	}
	label := PollLabel(task.ID)
	err := s.sched.StartTask(label, s.pollFlight(task.ID), s.cfg.FlightPoll)
	switch {
	case errors.Is(err, scheduler.ErrDuplicateLabel):
		s.log.Warn("flight poll already running", logx.String("label", label.String()))
		return
	case err != nil:
		s.log.Error("start flight poll failed", logx.String("label", label.String()), logx.Err(err))
		return
	}
	s.log.Info("flight poll started",
		logx.String("label", label.String()),
		logx.Int64("task_id", task.ID),
		logx.Duration("every", s.cfg.FlightPoll),
	)
	s.publish(eventbus.TypePollingStarted, label.String())
}

func (s *Store) stopPolling(label scheduler.Label) {
	if !s.sched.StopTask(label) {
		return
	}
	s.log.Info("flight poll stopped", logx.String("label", label.String()))
	s.publish(eventbus.TypePollingStopped, label.String())
}

// pollFlight fetches the points after the highlight's cursor and republishes the extended
// highlight. Completions are not sequenced: an older fetch finishing last wins.
func (s *Store) pollFlight(taskID int64) scheduler.Action {
	return func(ctx context.Context) error {
		h, ok := s.Highlight().(patrol.FlightTraceHighlight)
		if !ok || h.Task.ID != taskID {
			return nil
		}
		batch, err := s.src.FetchTracesSince(ctx, taskID, h.Cursor(), s.cfg.TraceBatch)
		if err != nil {
			return fmt.Errorf("fetch traces for task %d: %w", taskID, err)
		}
		s.publishHighlight(h.Extend(batch))
		if len(batch) > 0 {
			s.log.Trace("trace batch", logx.Int64("task_id", taskID), logx.Int("points", len(batch)))
		}
		return nil
	}
}
