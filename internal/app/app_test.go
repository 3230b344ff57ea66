package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"patrolsync/internal/config"
	"patrolsync/internal/session"
)

const dataset = `
grids:
  - {id: 1, name: North, districtCode: "350402"}
events:
  - id: 10
    state: PROCESSING
    location: {districtCode: "350402"}
    source: {type: GridChief}
    createdAt: "2024-05-01T08:00:00Z"
tasks:
  - {id: 100, eventId: 10, type: GridChiefIdentificationTask, state: NEW, createdAt: "2024-05-01T08:06:00Z"}
`

func writeFixture(t *testing.T, cfgBody string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrol.yaml"), []byte(dataset), 0o600))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfgBody), 0o600))
	return path
}

func fixtureConfig(dir string) string {
	return `
logging: {level: error}
session: {event_id: 10}
polling: {event_refresh: 50ms}
source: {driver: file, path: "` + filepath.Join(dir, "patrol.yaml") + `"}
`
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrol.yaml"), []byte(dataset), 0o600))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureConfig(dir)), 0o600))

	a, err := NewApp(path)
	require.NoError(t, err)
	return a
}

func TestAppStartLoadsSessionAndStops(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx))
	info := a.Session().EventInfo()
	require.NotNil(t, info)
	assert.Equal(t, int64(10), info.Event.ID)
	assert.Len(t, info.Tasks, 1)
	assert.Len(t, info.Grids, 1)
	assert.True(t, a.sched.Has(session.RefreshLabel))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.False(t, a.sched.Has(session.RefreshLabel))
	assert.NoError(t, a.Err())

	select {
	case <-a.Done():
	default:
		t.Fatal("supervisor context still live after Stop")
	}
}

func TestApplyConfigUpdatesSearch(t *testing.T) {
	a := newTestApp(t)
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	oldCfg := a.cfgm.Get()
	next := *oldCfg
	next.Session.DistrictCode = "350403"
	next.Session.EventType = "Fire"
	a.applyConfig(oldCfg, &next)

	params := a.Session().SearchParams()
	assert.Equal(t, "350403", params.DistrictCode)
	assert.Equal(t, "Fire", params.EventType)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	path := writeFixture(t, "logging: {level: loud}\nsource: {driver: file, path: x.yaml}\n")
	_, err := NewApp(path)
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrol.yaml"), []byte(dataset), 0o600))
	good := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(good, []byte(fixtureConfig(dir)), 0o600))
	assert.NoError(t, Check(context.Background(), good))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("source: {driver: file, path: "+filepath.Join(dir, "missing.yaml")+"}\n"), 0o600))
	assert.Error(t, Check(context.Background(), bad))

	cfg, err := config.NewConfigManager(good).Load()
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Source.Driver)
}
