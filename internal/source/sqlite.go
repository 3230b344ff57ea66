package source

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"patrolsync/internal/patrol"
	logx "patrolsync/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteSource reads a database that an ingest process keeps appending telemetry to.
// Times are stored as unix milliseconds.
type sqliteSource struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Source, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("source.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteSource{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("database opened", logx.String("path", path))
	return s, nil
}

func (s *sqliteSource) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteSource) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteSource) FetchGrids(ctx context.Context) ([]patrol.Grid, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, district_code FROM grids ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []patrol.Grid
	for rows.Next() {
		var g patrol.Grid
		if err := rows.Scan(&g.ID, &g.Name, &g.DistrictCode); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const eventColumns = `id, state, severity, district_code, longitude, latitude, address, source_type,
	start_process_at, complete_at, conclusion, created_at`

func (s *sqliteSource) FetchEvent(ctx context.Context, id int64) (patrol.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return patrol.Event{}, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return e, err
}

func (s *sqliteSource) FetchEvents(ctx context.Context, q patrol.EventQuery) ([]patrol.Event, error) {
	var (
		where []string
		args  []any
	)
	if len(q.States) > 0 {
		ph := make([]string, len(q.States))
		for i, st := range q.States {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(ph, ",")+")")
	}
	if !q.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, q.To.UnixMilli())
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []patrol.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteSource) FetchEventTasks(ctx context.Context, eventID int64) ([]patrol.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, type, state, flight_state, title, created_at FROM tasks WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []patrol.Task
	for rows.Next() {
		var (
			t            patrol.Task
			flight, name sql.NullString
			created      int64
		)
		if err := rows.Scan(&t.ID, &t.EventID, &t.Type, &t.State, &flight, &name, &created); err != nil {
			return nil, err
		}
		t.FlightState = patrol.FlightState(flight.String)
		t.Title = name.String
		t.CreatedAt = fromMilli(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteSource) FetchTracesSince(ctx context.Context, taskID int64, since *time.Time, max int) ([]patrol.TracePoint, error) {
	limit := max
	if limit <= 0 {
		limit = -1
	}
	const cols = `ts, longitude, latitude, altitude, speed, heading, readings`
	var (
		rows *sql.Rows
		err  error
	)
	if since != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM traces WHERE task_id = ? AND ts > ? ORDER BY ts ASC LIMIT ?`,
			taskID, since.UnixMilli(), limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM (SELECT `+cols+` FROM traces WHERE task_id = ? ORDER BY ts DESC LIMIT ?) ORDER BY ts ASC`,
			taskID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []patrol.TracePoint{}
	for rows.Next() {
		var (
			p        patrol.TracePoint
			ts       int64
			readings sql.NullString
		)
		if err := rows.Scan(&ts, &p.Longitude, &p.Latitude, &p.Altitude, &p.Speed, &p.Heading, &readings); err != nil {
			return nil, err
		}
		p.Timestamp = fromMilli(ts)
		if readings.Valid && readings.String != "" {
			if err := json.Unmarshal([]byte(readings.String), &p.Readings); err != nil {
				s.log.Debug("bad trace readings", logx.Int64("task_id", taskID), logx.Err(err))
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteSource) SaveEvent(ctx context.Context, e patrol.Event) (patrol.Event, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	args := []any{
		string(e.State), e.Severity, e.Location.DistrictCode, e.Location.Longitude, e.Location.Latitude,
		nullStr(e.Location.Address), string(e.Source.Type), nullMilli(e.StartProcessTime), nullMilli(e.CompleteTime),
		nullStr(e.Conclusion), e.CreatedAt.UnixMilli(),
	}
	if e.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO events(state, severity, district_code, longitude, latitude, address, source_type,
			 start_process_at, complete_at, conclusion, created_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`, args...)
		if err != nil {
			return patrol.Event{}, err
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return patrol.Event{}, err
		}
		return e, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, state, severity, district_code, longitude, latitude, address, source_type,
		 start_process_at, complete_at, conclusion, created_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET state=excluded.state, severity=excluded.severity,
		 district_code=excluded.district_code, longitude=excluded.longitude, latitude=excluded.latitude,
		 address=excluded.address, source_type=excluded.source_type, start_process_at=excluded.start_process_at,
		 complete_at=excluded.complete_at, conclusion=excluded.conclusion`,
		append([]any{e.ID}, args...)...)
	if err != nil {
		return patrol.Event{}, err
	}
	return e, nil
}

func (s *sqliteSource) SaveTask(ctx context.Context, t patrol.Task) (patrol.Task, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	args := []any{t.EventID, string(t.Type), string(t.State), nullStr(string(t.FlightState)), nullStr(t.Title), t.CreatedAt.UnixMilli()}
	if t.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO tasks(event_id, type, state, flight_state, title, created_at) VALUES(?,?,?,?,?,?)`, args...)
		if err != nil {
			return patrol.Task{}, err
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return patrol.Task{}, err
		}
		return t, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, event_id, type, state, flight_state, title, created_at) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET event_id=excluded.event_id, type=excluded.type, state=excluded.state,
		 flight_state=excluded.flight_state, title=excluded.title`,
		append([]any{t.ID}, args...)...)
	if err != nil {
		return patrol.Task{}, err
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (patrol.Event, error) {
	var (
		e                     patrol.Event
		address, conclusion   sql.NullString
		startedAt, completeAt sql.NullInt64
		created               int64
	)
	err := r.Scan(&e.ID, &e.State, &e.Severity, &e.Location.DistrictCode, &e.Location.Longitude, &e.Location.Latitude,
		&address, &e.Source.Type, &startedAt, &completeAt, &conclusion, &created)
	if err != nil {
		return patrol.Event{}, err
	}
	e.Location.Address = address.String
	e.Conclusion = conclusion.String
	e.CreatedAt = fromMilli(created)
	if startedAt.Valid {
		t := fromMilli(startedAt.Int64)
		e.StartProcessTime = &t
	}
	if completeAt.Valid {
		t := fromMilli(completeAt.Int64)
		e.CompleteTime = &t
	}
	return e, nil
}

func fromMilli(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMilli(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
