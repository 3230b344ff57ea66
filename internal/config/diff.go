package config

import (
	"sort"
	"strings"

	logx "patrolsync/pkg/logx"
)

// SummarizeConfigChange returns the changed sections (sorted) and structured fields for
// logging the new values. Paths are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	oSess, nSess := trimSession(oldCfg.Session), trimSession(newCfg.Session)
	if oSess != nSess {
		changed = append(changed, "session")
		attrs = append(attrs,
			logx.Int64("session.event_id", nSess.EventID),
			logx.String("session.district_code", nSess.DistrictCode),
			logx.String("session.event_type", nSess.EventType),
			logx.String("session.from", nSess.From),
			logx.String("session.to", nSess.To),
		)
	}

	op, np := trimPolling(oldCfg.Polling), trimPolling(newCfg.Polling)
	if op != np {
		changed = append(changed, "polling")
		attrs = append(attrs,
			logx.String("polling.event_refresh", np.EventRefresh),
			logx.String("polling.flight_poll", np.FlightPoll),
			logx.Int("polling.trace_batch", np.TraceBatch),
			logx.Int("polling.initial_trace_limit", np.InitialTraceLimit),
		)
	}

	oDriver, nDriver := strings.TrimSpace(oldCfg.Source.Driver), strings.TrimSpace(newCfg.Source.Driver)
	oPath, nPath := strings.TrimSpace(oldCfg.Source.Path), strings.TrimSpace(newCfg.Source.Path)
	oBusy, nBusy := strings.TrimSpace(oldCfg.Source.BusyTimeout), strings.TrimSpace(newCfg.Source.BusyTimeout)
	if oDriver != nDriver || oPath != nPath || oBusy != nBusy {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.driver", nDriver),
			logx.Bool("source.path_set", nPath != ""),
			logx.String("source.busy_timeout", nBusy),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports the changed sections that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Session.EventID != newCfg.Session.EventID {
		out = append(out, "session.event_id")
	}
	if trimPolling(oldCfg.Polling) != trimPolling(newCfg.Polling) {
		out = append(out, "polling")
	}
	if oldCfg.Source != newCfg.Source {
		out = append(out, "source")
	}
	return out
}

func trimSession(s SessionConfig) SessionConfig {
	s.RootDistrictCode = strings.TrimSpace(s.RootDistrictCode)
	s.DistrictCode = strings.TrimSpace(s.DistrictCode)
	s.EventType = strings.TrimSpace(s.EventType)
	s.From = strings.TrimSpace(s.From)
	s.To = strings.TrimSpace(s.To)
	return s
}

func trimPolling(p PollingConfig) PollingConfig {
	p.EventRefresh = strings.TrimSpace(p.EventRefresh)
	p.FlightPoll = strings.TrimSpace(p.FlightPoll)
	return p
}
