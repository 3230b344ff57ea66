package config

// Config is the on-disk configuration (JSON, YAML or TOML).
//
// Example (YAML):
//
//	logging: {level: info, console: true}
//	session: {event_id: 42, root_district_code: "350400"}
//	polling: {event_refresh: 1500ms, flight_poll: 1500ms}
//	source:  {driver: sqlite, path: ./data/patrol.db, busy_timeout: 2s}
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Session SessionConfig `json:"session"`
	Polling PollingConfig `json:"polling"`
	Source  SourceConfig  `json:"source"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards records at or above MinLevel to the event bus as log.alert events.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SessionConfig selects the event the session opens on and the initial search.
//
// From/To are RFC 3339 timestamps; empty leaves that side of the range open.
// Everything except event_id is applied on reload.
type SessionConfig struct {
	EventID          int64  `json:"event_id"`
	RootDistrictCode string `json:"root_district_code,omitempty"` // default: "350400"
	DistrictCode     string `json:"district_code,omitempty"`      // default: root district
	EventType        string `json:"event_type,omitempty"`         // default: "All"
	From             string `json:"from,omitempty"`
	To               string `json:"to,omitempty"`
}

// PollingConfig controls the background refreshes. Durations are Go duration strings.
//
// Defaults:
//   - event_refresh: "1500ms"
//   - flight_poll: "1500ms"
//   - trace_batch: 100
//   - initial_trace_limit: 1000000
type PollingConfig struct {
	EventRefresh      string `json:"event_refresh,omitempty"`
	FlightPoll        string `json:"flight_poll,omitempty"`
	TraceBatch        int    `json:"trace_batch,omitempty"`
	InitialTraceLimit int    `json:"initial_trace_limit,omitempty"`
}

// SourceConfig selects the data source.
//
//	"source": { "driver": "file", "path": "./data/patrol.yaml" }
type SourceConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
