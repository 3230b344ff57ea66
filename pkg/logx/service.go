package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alerts  AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sink set. Apply rebuilds it; Loggers from the service pick up the new
// root on their next record.
type Service struct {
	mu   sync.Mutex // serializes Apply/Close
	file *os.File

	root   atomic.Pointer[zerolog.Logger]
	alerts *alertSink
}

// New builds the service from cfg and returns it with a root Logger. A log file that can't
// be opened is reported through that logger; the other sinks still work.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{alerts: newAlertSink()}
	l := Logger{svc: s}
	if err := s.Apply(cfg); err != nil {
		l.Warn("log sink unavailable", Err(err))
	}
	return s, l
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetAlertHandler installs the callback of the alert sink. It runs on the sink's worker,
// never on the goroutine that logged.
func (s *Service) SetAlertHandler(fn func(Alert)) { s.alerts.setHandler(fn) }

// Apply swaps level and sinks. With no console or file sink, console is used. It returns
// the file open error, if any, after installing the remaining sinks.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		writers []io.Writer
		fileErr error
	)
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if cfg.File.Enabled {
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			fileErr = err
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	s.alerts.configure(cfg.Alerts)
	if cfg.Alerts.Enabled {
		writers = append(writers, s.alerts)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
	return fileErr
}

// Close stops the alert worker and closes the log file. Loggers keep working on the
// remaining sinks.
func (s *Service) Close() error {
	s.alerts.close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("logging.file.path is required when the file sink is enabled")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}
