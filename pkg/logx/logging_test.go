package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestLoggerWritesFieldsAndCaller(t *testing.T) {
	var buf bytes.Buffer
	l := NewFrom(zerolog.New(&buf)).With(String("component", "session"))

	l.Info("task selected", Int64("task_id", 7), Err(errors.New("x")))

	m := decodeLine(t, &buf)
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "task selected", m["message"])
	assert.Equal(t, "session", m["component"])
	assert.EqualValues(t, 7, m["task_id"])
	assert.Equal(t, "x", m["err"])
	assert.Contains(t, m["caller"], "logging_test.go:")
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	assert.NotPanics(t, func() { l.Error("dropped", String("k", "v")) })
	assert.False(t, Nop().IsZero())
}

func TestCronLoggerDemotesInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewFrom(zerolog.New(&buf).Level(zerolog.DebugLevel))
	cl := CronLogger(l)

	cl.Info("wake", "now", "t")
	assert.Zero(t, buf.Len(), "cron info is trace level")

	cl.Error(errors.New("panic"), "recovered", "stack", "...", "odd")
	m := decodeLine(t, &buf)
	assert.Equal(t, "error", m["level"])
	assert.Equal(t, "recovered", m["message"])
	assert.Equal(t, "panic", m["err"])
	assert.Equal(t, "...", m["stack"])
	assert.Equal(t, "odd", m["extra"])
}

func TestAlertSinkForwardsWarnings(t *testing.T) {
	svc, l := New(Config{
		Level:  "debug",
		File:   FileConfig{Enabled: true, Path: t.TempDir() + "/test.log"},
		Alerts: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 50},
	})
	t.Cleanup(func() { _ = svc.Close() })

	got := make(chan Alert, 4)
	svc.SetAlertHandler(func(a Alert) { got <- a })

	l.Info("not forwarded")
	l.Warn("poll failed", String("label", "flight-poll:3"))

	select {
	case a := <-got:
		assert.Equal(t, "warn", a.Level)
		assert.Equal(t, "poll failed", a.Message)
		assert.Equal(t, "flight-poll:3", a.Fields["label"])
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}

	select {
	case a := <-got:
		t.Fatalf("unexpected alert %q", a.Message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApplyChangesLevel(t *testing.T) {
	svc, l := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: t.TempDir() + "/a.log"}})
	t.Cleanup(func() { _ = svc.Close() })

	assert.False(t, l.Enabled(zerolog.DebugLevel))
	require.NoError(t, svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: t.TempDir() + "/b.log"}}))
	assert.True(t, l.Enabled(zerolog.DebugLevel))
}

func TestApplyReportsUnopenableFile(t *testing.T) {
	svc, l := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: t.TempDir() + "/a.log"}})
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.Apply(Config{Level: "warn", File: FileConfig{Enabled: true, Path: t.TempDir() + "/missing/dir/x.log"}})
	assert.ErrorContains(t, err, "open log file")
	assert.False(t, l.Enabled(zerolog.InfoLevel), "level still applied")

	assert.Error(t, svc.Apply(Config{File: FileConfig{Enabled: true}}))
}

func TestAlertSinkRespectsRateAndClose(t *testing.T) {
	svc, l := New(Config{
		Level:  "debug",
		File:   FileConfig{Enabled: true, Path: t.TempDir() + "/test.log"},
		Alerts: AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 1},
	})
	got := make(chan Alert, 8)
	svc.SetAlertHandler(func(a Alert) { got <- a })

	l.Warn("below min level")
	l.Error("first")
	l.Error("over rate")

	select {
	case a := <-got:
		assert.Equal(t, "first", a.Message)
		assert.False(t, a.Time.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}
	require.NoError(t, svc.Close())
	assert.NotPanics(t, func() { l.Error("after close") })
	assert.Empty(t, got)
}

func TestValidLevel(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want bool
	}{
		{"", true},
		{"debug", true},
		{"WARNING", true},
		{"verbose", false},
		{"fatal", false},
		{"disabled", false},
	} {
		assert.Equal(t, tc.want, ValidLevel(tc.in), tc.in)
	}
}
