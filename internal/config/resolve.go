package config

import (
	"errors"
	"fmt"
	"strings"

	"patrolsync/internal/patrol"
	"patrolsync/internal/session"
	"patrolsync/internal/source"
	logx "patrolsync/pkg/logx"
)

const DefaultRootDistrictCode = "350400"

// LogConfig maps the logging section to the log service config.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    c.Logging.Alerts.Enabled,
			MinLevel:   c.Logging.Alerts.MinLevel,
			RatePerSec: c.Logging.Alerts.RatePerSec,
		},
	}
}

func (c *Config) SourceSettings() (source.Config, error) {
	busy, err := ParseDurationField("source.busy_timeout", c.Source.BusyTimeout)
	if err != nil {
		return source.Config{}, err
	}
	return source.Config{
		Driver:      strings.TrimSpace(c.Source.Driver),
		Path:        strings.TrimSpace(c.Source.Path),
		BusyTimeout: busy,
	}, nil
}

// SearchParams returns the configured search with defaults applied.
func (c *Config) SearchParams() (patrol.SearchParams, error) {
	root := c.RootDistrictCode()
	p := patrol.SearchParams{
		DistrictCode: strings.TrimSpace(c.Session.DistrictCode),
		EventType:    strings.TrimSpace(c.Session.EventType),
	}
	if p.DistrictCode == "" {
		p.DistrictCode = root
	}
	if p.EventType == "" {
		p.EventType = patrol.AllEventTypes
	}
	var err error
	if p.From, err = parseTimeField("session.from", c.Session.From); err != nil {
		return patrol.SearchParams{}, err
	}
	if p.To, err = parseTimeField("session.to", c.Session.To); err != nil {
		return patrol.SearchParams{}, err
	}
	if !p.From.IsZero() && !p.To.IsZero() && p.To.Before(p.From) {
		return patrol.SearchParams{}, fmt.Errorf("session.to must not be before session.from")
	}
	return p, nil
}

func (c *Config) RootDistrictCode() string {
	if root := strings.TrimSpace(c.Session.RootDistrictCode); root != "" {
		return root
	}
	return DefaultRootDistrictCode
}

// SessionSettings maps the session and polling sections to the session store config.
func (c *Config) SessionSettings() (session.Config, error) {
	params, err := c.SearchParams()
	if err != nil {
		return session.Config{}, err
	}
	refresh, err := ParseDurationOrDefault("polling.event_refresh", c.Polling.EventRefresh, session.DefaultRefreshInterval)
	if err != nil {
		return session.Config{}, err
	}
	poll, err := ParseDurationOrDefault("polling.flight_poll", c.Polling.FlightPoll, session.DefaultRefreshInterval)
	if err != nil {
		return session.Config{}, err
	}
	if c.Polling.TraceBatch < 0 || c.Polling.InitialTraceLimit < 0 {
		return session.Config{}, errors.New("polling.trace_batch and polling.initial_trace_limit must be >= 0")
	}
	out := session.Config{
		EventID:           c.Session.EventID,
		RootDistrictCode:  c.RootDistrictCode(),
		Search:            params,
		EventRefresh:      refresh,
		FlightPoll:        poll,
		TraceBatch:        c.Polling.TraceBatch,
		InitialTraceLimit: c.Polling.InitialTraceLimit,
	}
	if out.TraceBatch == 0 {
		out.TraceBatch = session.DefaultTraceBatch
	}
	if out.InitialTraceLimit == 0 {
		out.InitialTraceLimit = session.DefaultInitialTraceLimit
	}
	return out, nil
}

// Validate checks every section and reports all problems at once.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if !logx.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.Alerts.Enabled && !logx.ValidLevel(c.Logging.Alerts.MinLevel) {
		errs = append(errs, fmt.Errorf("logging.alerts.min_level: unknown level %q", c.Logging.Alerts.MinLevel))
	}
	if c.Session.EventID < 0 {
		errs = append(errs, errors.New("session.event_id must be >= 0"))
	}
	if _, err := c.SessionSettings(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SourceSettings(); err != nil {
		errs = append(errs, err)
	}
	driver := strings.TrimSpace(c.Source.Driver)
	switch strings.ToLower(driver) {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Source.Path) == "" {
			errs = append(errs, errors.New("source.path is required"))
		}
	case "":
		errs = append(errs, errors.New("source.driver is required"))
	default:
		errs = append(errs, fmt.Errorf("source.driver: %w: %s", source.ErrUnknownDriver, driver))
	}
	return errors.Join(errs...)
}
