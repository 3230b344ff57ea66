package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"patrolsync/internal/patrol"
	logx "patrolsync/pkg/logx"
)

// Init loads the grids and the configured event, runs a first search and registers the
// periodic event refresh. The refresh runs until Close.
func (s *Store) Init(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	grids, err := s.src.FetchGrids(ctx)
	if err != nil {
		return fmt.Errorf("fetch grids: %w", err)
	}
	s.mu.Lock()
	s.st.grids = grids
	eventID := s.st.eventID
	s.mu.Unlock()

	if eventID != 0 {
		if err := s.LoadEvent(ctx, eventID); err != nil {
			return err
		}
	}
	if err := s.SearchPatrolEvents(ctx, s.SearchParams()); err != nil {
		s.log.Warn("initial search failed", logx.Err(err))
	}

	if err := s.sched.StartTask(RefreshLabel, s.refresh, s.cfg.EventRefresh); err != nil {
		return fmt.Errorf("start event refresh: %w", err)
	}
	s.log.Info("session initialized",
		logx.Int64("event_id", eventID),
		logx.Int("grids", len(grids)),
		logx.Duration("refresh", s.cfg.EventRefresh),
	)
	return nil
}

// refresh is the refresh-event action: search with the current params and reload the
// tasks of the loaded event.
func (s *Store) refresh(ctx context.Context) error {
	var errs []error
	if err := s.SearchPatrolEvents(ctx, s.SearchParams()); err != nil {
		errs = append(errs, err)
	}
	s.mu.RLock()
	eventID := s.st.eventID
	s.mu.RUnlock()
	if eventID != 0 {
		if err := s.LoadTasks(ctx, eventID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the refresh and any flight poll started by the store.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.sched.StopTask(RefreshLabel)

	s.watchMu.Lock()
	prev := s.observed
	s.observed = nil
	if prev.IsFlight() {
		s.stopPolling(PollLabel(prev.ID))
	}
	s.watchMu.Unlock()
	s.log.Info("session closed")
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// LoadEvent fetches the event and its tasks and makes it the selected event.
func (s *Store) LoadEvent(ctx context.Context, id int64) error {
	ev, err := s.src.FetchEvent(ctx, id)
	if err != nil {
		return fmt.Errorf("load event %d: %w", id, err)
	}
	tasks, err := s.src.FetchEventTasks(ctx, id)
	if err != nil {
		return fmt.Errorf("load tasks of event %d: %w", id, err)
	}
	return s.mutate(func(st *state) error {
		grids := make([]patrol.Grid, 0, 4)
		for _, g := range st.grids {
			if g.DistrictCode == ev.Location.DistrictCode {
				grids = append(grids, g)
			}
		}
		st.eventID = id
		st.eventInfo = &EventInfo{Event: ev, Tasks: tasks, Grids: grids}
		cur := ev.Clone()
		st.currentEvent = &cur
		return nil
	})
}

// LoadTasks replaces the task list of the loaded event.
func (s *Store) LoadTasks(ctx context.Context, eventID int64) error {
	tasks, err := s.src.FetchEventTasks(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load tasks of event %d: %w", eventID, err)
	}
	return s.mutate(func(st *state) error {
		if st.eventInfo == nil {
			return ErrNoEvent
		}
		st.eventInfo.Tasks = tasks
		return nil
	})
}

// SearchPatrolEvents fetches the open events in the params' time range and stores both.
// Without a selected patrol event the filtered list is published as the highlight.
func (s *Store) SearchPatrolEvents(ctx context.Context, params patrol.SearchParams) error {
	events, err := s.src.FetchEvents(ctx, patrol.OpenEvents(params.From, params.To))
	if err != nil {
		return fmt.Errorf("search events: %w", err)
	}
	s.mu.Lock()
	s.st.params = params
	s.st.events = events
	publish := s.st.currentEvent == nil
	h := patrol.EventsHighlight{
		Events: patrol.FilterEvents(events, params, s.cfg.RootDistrictCode),
		Grids:  slices.Clone(s.st.grids),
	}
	s.mu.Unlock()

	if publish {
		s.publishHighlight(h)
	}
	return nil
}

// SelectTask makes task the current task. For a flight task the full trace is loaded and
// published as a fresh highlight.
func (s *Store) SelectTask(ctx context.Context, task patrol.Task) error {
	s.SetVideoURL("")

	s.mu.RLock()
	eventID := s.st.eventID
	s.mu.RUnlock()
	if eventID == 0 {
		return ErrNoEvent
	}
	if err := s.LoadEvent(ctx, eventID); err != nil {
		return err
	}
	id := task.ID
	if err := s.mutate(func(st *state) error {
		st.currentTaskID = &id
		return nil
	}); err != nil {
		return err
	}

	if !task.IsFlight() {
		return nil
	}
	traces, err := s.src.FetchTracesSince(ctx, task.ID, nil, s.cfg.InitialTraceLimit)
	if err != nil {
		return fmt.Errorf("load trace of task %d: %w", task.ID, err)
	}
	s.publishHighlight(patrol.NewFlightTrace(task, traces))
	s.log.Debug("flight trace loaded", logx.Int64("task_id", task.ID), logx.Int("points", len(traces)))
	return nil
}

// ClearCurrentTask deselects the current task.
func (s *Store) ClearCurrentTask() {
	_ = s.mutate(func(st *state) error {
		st.currentTaskID = nil
		return nil
	})
}

// BeginProcess moves event to PROCESSING and stores the saved result as the loaded event.
func (s *Store) BeginProcess(ctx context.Context, event patrol.Event) (patrol.Event, error) {
	return s.saveEvent(ctx, event, func(e *patrol.Event, now time.Time) {
		e.State = patrol.StateProcessing
		e.StartProcessTime = &now
	})
}

// CompleteEvent moves event to COMPLETE with the given conclusion.
func (s *Store) CompleteEvent(ctx context.Context, event patrol.Event, conclusion string) (patrol.Event, error) {
	return s.saveEvent(ctx, event, func(e *patrol.Event, now time.Time) {
		e.State = patrol.StateComplete
		e.CompleteTime = &now
		e.Conclusion = conclusion
	})
}

func (s *Store) saveEvent(ctx context.Context, event patrol.Event, edit func(*patrol.Event, time.Time)) (patrol.Event, error) {
	if s.EventInfo() == nil {
		return patrol.Event{}, ErrNoEvent
	}
	cloned := event.Clone()
	edit(&cloned, time.Now())
	saved, err := s.src.SaveEvent(ctx, cloned)
	if err != nil {
		return patrol.Event{}, fmt.Errorf("save event %d: %w", event.ID, err)
	}
	err = s.mutate(func(st *state) error {
		if st.eventInfo == nil {
			return ErrNoEvent
		}
		st.eventInfo.Event = saved
		return nil
	})
	return saved, err
}

// DispatchTask saves task and appends it to the loaded event's tasks.
func (s *Store) DispatchTask(ctx context.Context, task patrol.Task) (patrol.Task, error) {
	if s.EventInfo() == nil {
		return patrol.Task{}, ErrNoEvent
	}
	saved, err := s.src.SaveTask(ctx, task)
	if err != nil {
		return patrol.Task{}, fmt.Errorf("dispatch task: %w", err)
	}
	err = s.mutate(func(st *state) error {
		if st.eventInfo == nil {
			return ErrNoEvent
		}
		st.eventInfo.Tasks = append(slices.Clone(st.eventInfo.Tasks), saved)
		return nil
	})
	return saved, err
}
