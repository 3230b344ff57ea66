package logx

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AlertConfig controls the alert sink. Records at or above MinLevel (default warn) are
// forwarded to the alert handler, at most RatePerSec per second (default 1).
type AlertConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// Alert is one forwarded log record.
type Alert struct {
	Level   string
	Message string
	Time    time.Time
	Fields  map[string]any
}

// alertSink is a zerolog.LevelWriter that hands matching records to a handler on its own
// goroutine. Writes never block; over-rate and overflow records are dropped.
type alertSink struct {
	mu       sync.Mutex
	handler  func(Alert)
	limiter  *rate.Limiter
	minLevel zerolog.Level

	queue     chan Alert
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newAlertSink() *alertSink {
	a := &alertSink{
		queue:    make(chan Alert, 256),
		done:     make(chan struct{}),
		limiter:  rate.NewLimiter(1, 1),
		minLevel: zerolog.WarnLevel,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *alertSink) configure(cfg AlertConfig) {
	rps := max(1, cfg.RatePerSec)
	a.mu.Lock()
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()
}

func (a *alertSink) setHandler(fn func(Alert)) {
	a.mu.Lock()
	a.handler = fn
	a.mu.Unlock()
}

func (a *alertSink) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case rec := <-a.queue:
			a.mu.Lock()
			fn := a.handler
			a.mu.Unlock()
			if fn != nil {
				fn(rec)
			}
		}
	}
}

func (a *alertSink) close() {
	a.closeOnce.Do(func() { close(a.done) })
	a.wg.Wait()
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.NoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	pass := a.handler != nil && level != zerolog.NoLevel && level >= a.minLevel && a.limiter.Allow()
	a.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	rec, ok := parseAlert(p)
	if !ok {
		return len(p), nil
	}
	select {
	case a.queue <- rec:
	case <-a.done:
	default:
	}
	return len(p), nil
}

// parseAlert splits a zerolog JSON record into level, message, time and the other fields.
func parseAlert(p []byte) (Alert, bool) {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return Alert{}, false
	}
	rec := Alert{Fields: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case zerolog.LevelFieldName:
			rec.Level, _ = v.(string)
		case zerolog.MessageFieldName:
			rec.Message, _ = v.(string)
		case zerolog.TimestampFieldName:
			if s, ok := v.(string); ok {
				rec.Time, _ = time.Parse(zerolog.TimeFieldFormat, s)
			}
		default:
			rec.Fields[k] = v
		}
	}
	return rec, true
}
