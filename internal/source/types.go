package source

import (
	"context"
	"errors"
	"time"

	"patrolsync/internal/patrol"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnknownDriver = errors.New("unknown source driver")
	ErrNoDriver      = errors.New("source driver is required")
	ErrClosed        = errors.New("source closed")
)

// Config configures the data source.
//
// Driver values:
//   - "file": dataset document (.json, .yaml, .yml) plus a JSON Lines journal of saves
//   - "sqlite": SQLite database shared with the telemetry ingest
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Source is everything the session needs from the backend.
type Source interface {
	FetchGrids(ctx context.Context) ([]patrol.Grid, error)
	FetchEvent(ctx context.Context, id int64) (patrol.Event, error)
	FetchEvents(ctx context.Context, q patrol.EventQuery) ([]patrol.Event, error)
	FetchEventTasks(ctx context.Context, eventID int64) ([]patrol.Task, error)

	// FetchTracesSince returns points of taskID in ascending time order. With since set, it
	// returns the first max points strictly after since; with since nil, the max most recent
	// points. max <= 0 means no limit.
	FetchTracesSince(ctx context.Context, taskID int64, since *time.Time, max int) ([]patrol.TracePoint, error)

	// SaveEvent and SaveTask upsert by id; a zero id allocates a new one.
	SaveEvent(ctx context.Context, e patrol.Event) (patrol.Event, error)
	SaveTask(ctx context.Context, t patrol.Task) (patrol.Task, error)

	Close() error
}
