package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"patrolsync/internal/patrol"
	"patrolsync/pkg/docfmt"
	logx "patrolsync/pkg/logx"
)

const compactEvery = 1000

// fileSource serves a dataset document from memory.
//
// Files:
//   - <path>                    (dataset: grids, events, tasks, traces)
//   - <prefix>.snapshot.json    (saved events/tasks at the last compaction)
//   - <prefix>.journal.jsonl    (append-only saves since the snapshot)
//
// The dataset itself is never rewritten.
type fileSource struct {
	log logx.Logger

	mu sync.RWMutex

	grids  []patrol.Grid
	events map[int64]patrol.Event
	tasks  map[int64]patrol.Task
	traces map[int64][]patrol.TracePoint

	savedEvents map[int64]struct{}
	savedTasks  map[int64]struct{}

	snapshotPath string
	journal      *os.File
	writes       int
}

type dataset struct {
	Grids  []patrol.Grid                 `json:"grids"`
	Events []patrol.Event                `json:"events"`
	Tasks  []patrol.Task                 `json:"tasks"`
	Traces map[int64][]patrol.TracePoint `json:"traces"`
}

type journalRecord struct {
	Event *patrol.Event `json:"event,omitempty"`
	Task  *patrol.Task  `json:"task,omitempty"`
}

type savedSnapshot struct {
	Events []patrol.Event `json:"events"`
	Tasks  []patrol.Task  `json:"tasks"`
}

func openFile(cfg Config, log logx.Logger) (Source, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("source.path is required for file driver")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var ds dataset
	if _, err := docfmt.Decode(path, b, &ds); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	s := &fileSource{
		log:          log,
		grids:        ds.Grids,
		events:       make(map[int64]patrol.Event, len(ds.Events)),
		tasks:        make(map[int64]patrol.Task, len(ds.Tasks)),
		traces:       make(map[int64][]patrol.TracePoint, len(ds.Traces)),
		savedEvents:  map[int64]struct{}{},
		savedTasks:   map[int64]struct{}{},
		snapshotPath: prefix + ".snapshot.json",
	}
	for _, e := range ds.Events {
		s.events[e.ID] = e
	}
	for _, t := range ds.Tasks {
		s.tasks[t.ID] = t
	}
	for id, pts := range ds.Traces {
		sortTraces(pts)
		s.traces[id] = pts
	}

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot unreadable; ignoring", logx.String("path", s.snapshotPath), logx.Err(err))
	}
	journalPath := prefix + ".journal.jsonl"
	replayed, err := s.replayJournal(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("journal replay incomplete", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf

	log.Info("dataset loaded",
		logx.String("path", path),
		logx.Int("events", len(s.events)),
		logx.Int("tasks", len(s.tasks)),
		logx.Int("trace_tasks", len(s.traces)),
		logx.Int("replayed", replayed),
	)
	return s, nil
}

func (s *fileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileSource) FetchGrids(ctx context.Context) ([]patrol.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]patrol.Grid, len(s.grids))
	copy(out, s.grids)
	return out, nil
}

func (s *fileSource) FetchEvent(ctx context.Context, id int64) (patrol.Event, error) {
	if err := ctx.Err(); err != nil {
		return patrol.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return patrol.Event{}, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *fileSource) FetchEvents(ctx context.Context, q patrol.EventQuery) ([]patrol.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]patrol.Event, 0, len(s.events))
	for _, e := range s.events {
		if q.Match(e) {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileSource) FetchEventTasks(ctx context.Context, eventID int64) ([]patrol.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]patrol.Task, 0, 4)
	for _, t := range s.tasks {
		if t.EventID == eventID {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileSource) FetchTracesSince(ctx context.Context, taskID int64, since *time.Time, max int) ([]patrol.TracePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sliceTraces(s.traces[taskID], since, max), nil
}

func (s *fileSource) SaveEvent(ctx context.Context, e patrol.Event) (patrol.Event, error) {
	if err := ctx.Err(); err != nil {
		return patrol.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = nextID(s.events)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := s.appendLocked(journalRecord{Event: &e}); err != nil {
		return patrol.Event{}, err
	}
	s.events[e.ID] = e
	s.savedEvents[e.ID] = struct{}{}
	return e.Clone(), nil
}

func (s *fileSource) SaveTask(ctx context.Context, t patrol.Task) (patrol.Task, error) {
	if err := ctx.Err(); err != nil {
		return patrol.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = nextID(s.tasks)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if err := s.appendLocked(journalRecord{Task: &t}); err != nil {
		return patrol.Task{}, err
	}
	s.tasks[t.ID] = t
	s.savedTasks[t.ID] = struct{}{}
	return t, nil
}

func (s *fileSource) appendLocked(rec journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort; the journal stays authoritative if this fails.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileSource) compactLocked() error {
	snap := savedSnapshot{
		Events: make([]patrol.Event, 0, len(s.savedEvents)),
		Tasks:  make([]patrol.Task, 0, len(s.savedTasks)),
	}
	for id := range s.savedEvents {
		snap.Events = append(snap.Events, s.events[id])
	}
	for id := range s.savedTasks {
		snap.Tasks = append(snap.Tasks, s.tasks[id])
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileSource) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return err
	}
	var snap savedSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	for _, e := range snap.Events {
		s.events[e.ID] = e
		s.savedEvents[e.ID] = struct{}{}
	}
	for _, t := range snap.Tasks {
		s.tasks[t.ID] = t
		s.savedTasks[t.ID] = struct{}{}
	}
	return nil
}

func (s *fileSource) replayJournal(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Event != nil {
			s.events[r.Event.ID] = *r.Event
			s.savedEvents[r.Event.ID] = struct{}{}
			n++
		}
		if r.Task != nil {
			s.tasks[r.Task.ID] = *r.Task
			s.savedTasks[r.Task.ID] = struct{}{}
			n++
		}
	}
	return n, sc.Err()
}

func nextID[V any](m map[int64]V) int64 {
	var top int64
	for id := range m {
		top = max(top, id)
	}
	return top + 1
}
