package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"patrolsync/internal/config"
	"patrolsync/internal/eventbus"
	"patrolsync/internal/runtime/supervisor"
	"patrolsync/internal/session"
	"patrolsync/internal/source"
	"patrolsync/internal/task/scheduler"
	logx "patrolsync/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	src   source.Source
	sched *scheduler.Service
	sess  *session.Store
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	sessCfg, err := cfg.SessionSettings()
	if err != nil {
		return nil, err
	}
	srcCfg, err := cfg.SourceSettings()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogConfig())
	bus := eventbus.New()
	logSvc.SetAlertHandler(func(a logx.Alert) {
		bus.Publish(eventbus.Event{Type: eventbus.TypeLogAlert, Data: a})
	})

	src, err := source.Open(srcCfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("source opened", logx.String("driver", srcCfg.Driver))

	sched := scheduler.New(log.With(logx.String("comp", "scheduler")))
	sess := session.New(sessCfg, src, sched, bus, log.With(logx.String("comp", "session")))

	return &App{
		cfgm:  cfgm,
		log:   log.With(logx.String("comp", "app")),
		logs:  logSvc,
		bus:   bus,
		src:   src,
		sched: sched,
		sess:  sess,
	}, nil
}

func (a *App) Session() *session.Store { return a.sess }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	a.sched.Start(a.sup.Context())
	if err := a.sess.Init(a.sup.Context()); err != nil {
		return fmt.Errorf("session init: %w", err)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", 250*time.Millisecond, 30*time.Second, func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig applies the live-reloadable sections and warns about the rest.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	if err := a.logs.Apply(newCfg.LogConfig()); err != nil {
		a.log.Warn("log sink unavailable", logx.Err(err))
	}

	if params, err := newCfg.SearchParams(); err != nil {
		a.log.Warn("invalid session search; keeping previous", logx.Err(err))
	} else {
		a.sess.SetSearchParams(params)
	}

	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeLogAlert:
		// Logging these would feed the alert sink again.
		return
	case eventbus.TypePollingStarted, eventbus.TypePollingStopped:
		a.log.Info("event", logx.String("type", e.Type), logx.Any("data", e.Data))
	default:
		// Keep this debug-level; refreshes publish every tick.
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step runs one shutdown step bounded by max, never extending the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("session", time.Second, func(context.Context) error { a.sess.Close(); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("source", time.Second, func(context.Context) error { return a.src.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) closeResources() {
	a.sess.Close()
	a.sched.Stop(context.Background())
	_ = a.src.Close()
	_ = a.logs.Close()
}

// Check loads and validates the config at path and verifies the source opens and serves
// its grids.
func Check(ctx context.Context, path string) error {
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	srcCfg, err := cfg.SourceSettings()
	if err != nil {
		return err
	}
	src, err := source.Open(srcCfg, logx.Nop())
	if err != nil {
		return err
	}
	defer src.Close()
	if _, err := src.FetchGrids(ctx); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	return nil
}
