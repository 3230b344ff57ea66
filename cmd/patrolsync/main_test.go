package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func writeConfig(t *testing.T, sourcePath string) string {
	t.Helper()
	dir := t.TempDir()
	if sourcePath == "" {
		sourcePath = filepath.Join(dir, "patrol.yaml")
		require.NoError(t, os.WriteFile(sourcePath, []byte(dataset), 0o600))
	}
	cfg := `
logging: {level: error}
session: {event_id: 10}
polling: {event_refresh: 50ms}
source: {driver: file, path: "` + sourcePath + `"}
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t, ""), "check")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(out))
}

func TestCheckCommandFailsOnMissingSource(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	out, err := execute(t, "-c", writeConfig(t, missing), "check")
	assert.Error(t, err)
	assert.NotContains(t, out, "ok")
}

func TestCheckCommandFailsOnMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "check")
	assert.Error(t, err)
}

func TestStatusCommandPrintsSnapshot(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t, ""), "status")
	require.NoError(t, err)

	var snap struct {
		EventID int64 `json:"event_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snap), out)
	assert.Equal(t, int64(10), snap.EventID)
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, ""), "bogus")
	assert.Error(t, err)
}
