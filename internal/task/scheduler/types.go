package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	logx "patrolsync/pkg/logx"
)

// Action is the unit of work a task repeats. A returned error is logged; it never stops later ticks.
type Action func(ctx context.Context) error

// Options configures a task.
//
// Defaults (zero value): no leading run, no edge run, no timeout.
type Options struct {
	// Leading runs the action once synchronously inside StartTask, before the first tick.
	Leading bool
	// Edging runs the action once synchronously when the task is stopped (explicitly or by timeout).
	Edging bool
	// Timeout stops the task automatically this long after registration. 0 disables it.
	Timeout time.Duration
	// OnTimeout is called once after a timeout stop completes (after any edge run).
	OnTimeout func()
}

type Option func(*Options)

func WithLeading() Option { return func(o *Options) { o.Leading = true } }

func WithEdging() Option { return func(o *Options) { o.Edging = true } }

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

func OnTimeout(fn func()) Option { return func(o *Options) { o.OnTimeout = fn } }

// WithOptions copies a whole Options value.
func WithOptions(opt Options) Option { return func(o *Options) { *o = opt } }

// handle is one registered task.
type handle struct {
	label    Label
	gen      uint64
	action   Action
	interval time.Duration
	opt      Options

	entryID      cron.EntryID
	timeout      *time.Timer
	registeredAt time.Time

	// stopping is set (under Service.mu) once a stop has claimed the handle.
	stopping bool

	runs     atomic.Uint64
	failures atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	c   *cron.Cron

	handles  map[Label]*handle
	reserved map[Label]struct{} // labels whose StartTask is running its leading action
	gen      uint64

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool

	// Action error throttling: key is the label.
	warnMu   sync.Mutex
	lastWarn map[Label]time.Time
}

// TaskInfo describes one live task.
type TaskInfo struct {
	Label        string
	Interval     time.Duration
	Leading      bool
	Edging       bool
	Timeout      time.Duration
	RegisteredAt time.Time
	Next         time.Time
	Prev         time.Time
	Runs         uint64
	Failures     uint64
}

type Snapshot struct {
	Running bool
	Tasks   []TaskInfo
}
