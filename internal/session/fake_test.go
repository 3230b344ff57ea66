package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"patrolsync/internal/patrol"
	"patrolsync/internal/source"
	"patrolsync/internal/task/scheduler"
)

type traceCall struct {
	taskID int64
	since  *time.Time
	max    int
}

type fakeSource struct {
	mu         sync.Mutex
	grids      []patrol.Grid
	events     map[int64]patrol.Event
	tasks      map[int64]patrol.Task
	traces     map[int64][]patrol.TracePoint
	traceCalls []traceCall
	traceErr   error
}

var _ source.Source = (*fakeSource)(nil)

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: map[int64]patrol.Event{},
		tasks:  map[int64]patrol.Task{},
		traces: map[int64][]patrol.TracePoint{},
	}
}

func (f *fakeSource) putTask(t patrol.Task) {
	f.mu.Lock()
	f.tasks[t.ID] = t
	f.mu.Unlock()
}

func (f *fakeSource) addTraces(taskID int64, pts ...patrol.TracePoint) {
	f.mu.Lock()
	f.traces[taskID] = append(f.traces[taskID], pts...)
	f.mu.Unlock()
}

func (f *fakeSource) calls() []traceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]traceCall(nil), f.traceCalls...)
}

func (f *fakeSource) FetchGrids(context.Context) ([]patrol.Grid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patrol.Grid(nil), f.grids...), nil
}

func (f *fakeSource) FetchEvent(_ context.Context, id int64) (patrol.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return patrol.Event{}, fmt.Errorf("event %d: %w", id, source.ErrNotFound)
	}
	return e, nil
}

func (f *fakeSource) FetchEvents(_ context.Context, q patrol.EventQuery) ([]patrol.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []patrol.Event
	for _, e := range f.events {
		if q.Match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSource) FetchEventTasks(_ context.Context, eventID int64) ([]patrol.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []patrol.Task
	for _, t := range f.tasks {
		if t.EventID == eventID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSource) FetchTracesSince(_ context.Context, taskID int64, since *time.Time, max int) ([]patrol.TracePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cp *time.Time
	if since != nil {
		t := *since
		cp = &t
	}
	f.traceCalls = append(f.traceCalls, traceCall{taskID: taskID, since: cp, max: max})
	if f.traceErr != nil {
		return nil, f.traceErr
	}
	var out []patrol.TracePoint
	for _, p := range f.traces[taskID] {
		if since == nil || p.Timestamp.After(*since) {
			out = append(out, p)
		}
	}
	if max > 0 && len(out) > max {
		if since == nil {
			out = out[len(out)-max:]
		} else {
			out = out[:max]
		}
	}
	return out, nil
}

func (f *fakeSource) SaveEvent(_ context.Context, e patrol.Event) (patrol.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[e.ID] = e
	return e, nil
}

func (f *fakeSource) SaveTask(_ context.Context, t patrol.Task) (patrol.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == 0 {
		t.ID = int64(1000 + len(f.tasks))
	}
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeSource) Close() error { return nil }

// recordingScheduler wraps the real scheduler and records every call the store makes.
type recordingScheduler struct {
	*scheduler.Service

	mu    sync.Mutex
	calls []string
	errs  []error
}

func (r *recordingScheduler) StartTask(label scheduler.Label, action scheduler.Action, interval time.Duration, opts ...scheduler.Option) error {
	err := r.Service.StartTask(label, action, interval, opts...)
	r.mu.Lock()
	r.calls = append(r.calls, "start "+label.String())
	if err != nil {
		r.errs = append(r.errs, err)
	}
	r.mu.Unlock()
	return err
}

func (r *recordingScheduler) StopTask(label scheduler.Label) bool {
	ok := r.Service.StopTask(label)
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf("stop %s %v", label, ok))
	r.mu.Unlock()
	return ok
}

func (r *recordingScheduler) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.calls
	r.calls = nil
	return out
}

func (r *recordingScheduler) duplicateErrors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, err := range r.errs {
		if errors.Is(err, scheduler.ErrDuplicateLabel) {
			n++
		}
	}
	return n
}
