// Package session owns the in-memory state of one patrol dashboard session and keeps the
// background polling in step with the selected task.
package session

import (
	"errors"
	"slices"
	"sync"
	"time"

	"patrolsync/internal/eventbus"
	"patrolsync/internal/patrol"
	"patrolsync/internal/source"
	"patrolsync/internal/task/scheduler"
	logx "patrolsync/pkg/logx"
)

var (
	ErrNoEvent = errors.New("no event loaded")
	ErrClosed  = errors.New("session closed")
)

// Scheduler is the part of the labeled interval scheduler the store drives.
type Scheduler interface {
	StartTask(label scheduler.Label, action scheduler.Action, interval time.Duration, opts ...scheduler.Option) error
	StopTask(label scheduler.Label) bool
}

type Config struct {
	// EventID is the event the session is opened on; 0 starts without one.
	EventID          int64
	RootDistrictCode string
	Search           patrol.SearchParams

	EventRefresh      time.Duration
	FlightPoll        time.Duration
	TraceBatch        int
	InitialTraceLimit int
}

const (
	DefaultRefreshInterval   = 1500 * time.Millisecond
	DefaultTraceBatch        = 100
	DefaultInitialTraceLimit = 1000000
)

func (c Config) withDefaults() Config {
	if c.EventRefresh <= 0 {
		c.EventRefresh = DefaultRefreshInterval
	}
	if c.FlightPoll <= 0 {
		c.FlightPoll = DefaultRefreshInterval
	}
	if c.TraceBatch <= 0 {
		c.TraceBatch = DefaultTraceBatch
	}
	if c.InitialTraceLimit <= 0 {
		c.InitialTraceLimit = DefaultInitialTraceLimit
	}
	if c.Search.EventType == "" {
		c.Search.EventType = patrol.AllEventTypes
	}
	if c.Search.DistrictCode == "" {
		c.Search.DistrictCode = c.RootDistrictCode
	}
	return c
}

// EventInfo is the loaded event together with its tasks and the grids of its district.
type EventInfo struct {
	Event patrol.Event
	Tasks []patrol.Task
	Grids []patrol.Grid
}

func (i *EventInfo) clone() *EventInfo {
	if i == nil {
		return nil
	}
	return &EventInfo{Event: i.Event.Clone(), Tasks: slices.Clone(i.Tasks), Grids: slices.Clone(i.Grids)}
}

type state struct {
	eventID       int64
	events        []patrol.Event
	params        patrol.SearchParams
	grids         []patrol.Grid
	eventInfo     *EventInfo
	currentTaskID *int64
	currentEvent  *patrol.Event
	highlight     patrol.Highlight
	videoURL      string
}

// Store holds the session state. Mutations that can change the current task are serialized
// together with the reaction they trigger.
type Store struct {
	cfg   Config
	src   source.Source
	sched Scheduler
	bus   eventbus.Bus
	log   logx.Logger

	// watchMu serializes task-affecting mutations and their OnCurrentTaskChanged reaction.
	watchMu  sync.Mutex
	observed *patrol.Task

	mu     sync.RWMutex
	st     state
	closed bool
}

func New(cfg Config, src source.Source, sched Scheduler, bus eventbus.Bus, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Store{
		cfg:   cfg,
		src:   src,
		sched: sched,
		bus:   bus,
		log:   log.With(logx.String("comp", "session")),
		st:    state{eventID: cfg.EventID, params: cfg.Search},
	}
}

// PatrolEventList returns the fetched events filtered by the current search parameters.
func (s *Store) PatrolEventList() []patrol.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return patrol.FilterEvents(s.st.events, s.st.params, s.cfg.RootDistrictCode)
}

// CurrentTask returns a copy of the selected task as found in the loaded event's task list,
// or nil.
func (s *Store) CurrentTask() *patrol.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTaskLocked()
}

func (s *Store) currentTaskLocked() *patrol.Task {
	if s.st.currentTaskID == nil || s.st.eventInfo == nil {
		return nil
	}
	for _, t := range s.st.eventInfo.Tasks {
		if t.ID == *s.st.currentTaskID {
			cp := t
			return &cp
		}
	}
	return nil
}

func (s *Store) Highlight() patrol.Highlight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.highlight
}

func (s *Store) VideoURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.videoURL
}

func (s *Store) SearchParams() patrol.SearchParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.params
}

func (s *Store) EventInfo() *EventInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.eventInfo.clone()
}

func (s *Store) CurrentPatrolEvent() *patrol.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st.currentEvent == nil {
		return nil
	}
	e := s.st.currentEvent.Clone()
	return &e
}

// Snapshot is a summary of the session used for status logging.
type Snapshot struct {
	EventID       int64  `json:"event_id"`
	Events        int    `json:"events"`
	Listed        int    `json:"listed"`
	CurrentTaskID int64  `json:"current_task_id,omitempty"`
	HighlightType string `json:"highlight_type,omitempty"`
	TracePoints   int    `json:"trace_points,omitempty"`
	VideoURL      string `json:"video_url,omitempty"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		EventID:  s.st.eventID,
		Events:   len(s.st.events),
		Listed:   len(patrol.FilterEvents(s.st.events, s.st.params, s.cfg.RootDistrictCode)),
		VideoURL: s.st.videoURL,
	}
	if t := s.currentTaskLocked(); t != nil {
		snap.CurrentTaskID = t.ID
	}
	if s.st.highlight != nil {
		snap.HighlightType = s.st.highlight.HighlightType()
		if fh, ok := s.st.highlight.(patrol.FlightTraceHighlight); ok {
			snap.TracePoints = len(fh.AllTraces)
		}
	}
	return snap
}

// SetVideoURL replaces the published video stream URL. An empty url clears it.
func (s *Store) SetVideoURL(url string) {
	s.mu.Lock()
	changed := s.st.videoURL != url
	s.st.videoURL = url
	s.mu.Unlock()
	if changed {
		s.publish(eventbus.TypeVideoChanged, url)
	}
}

// SetSearchParams replaces the search parameters used by the next refresh.
func (s *Store) SetSearchParams(p patrol.SearchParams) {
	if p.EventType == "" {
		p.EventType = patrol.AllEventTypes
	}
	if p.DistrictCode == "" {
		p.DistrictCode = s.cfg.RootDistrictCode
	}
	s.mu.Lock()
	s.st.params = p
	s.mu.Unlock()
}

// publishHighlight replaces the highlight slot wholesale.
func (s *Store) publishHighlight(h patrol.Highlight) {
	s.mu.Lock()
	s.st.highlight = h
	s.mu.Unlock()
	s.publish(eventbus.TypeHighlightPublished, h)
}

func (s *Store) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
