package patrol

import "time"

const (
	HighlightPatrolEvents   = "patrol-events"
	HighlightFlightAirTrace = "flight-air-trace"
)

// Highlight is what the map emphasizes. Implementations are values; publishing one replaces
// the previous highlight wholesale.
type Highlight interface {
	HighlightType() string
}

// EventsHighlight shows the filtered event list together with the patrol grids.
type EventsHighlight struct {
	Events []Event `json:"patrolEvents"`
	Grids  []Grid  `json:"grids"`
}

func (EventsHighlight) HighlightType() string { return HighlightPatrolEvents }

// FlightTraceHighlight accumulates the telemetry of one flight task. Traces is the most recent
// batch, AllTraces everything received so far. Continue is false for the initial full load and
// true for incremental refreshes.
type FlightTraceHighlight struct {
	Task      Task         `json:"task"`
	Continue  bool         `json:"continue"`
	Traces    []TracePoint `json:"traces"`
	AllTraces []TracePoint `json:"allTraces"`
}

func (FlightTraceHighlight) HighlightType() string { return HighlightFlightAirTrace }

// NewFlightTrace builds the initial highlight from a full trace load.
func NewFlightTrace(task Task, traces []TracePoint) FlightTraceHighlight {
	all := make([]TracePoint, len(traces))
	copy(all, traces)
	return FlightTraceHighlight{Task: task, Continue: false, Traces: traces, AllTraces: all}
}

// Extend returns a new highlight with batch appended. The receiver is left untouched and the
// result never shares a backing array with it.
func (h FlightTraceHighlight) Extend(batch []TracePoint) FlightTraceHighlight {
	all := make([]TracePoint, 0, len(h.AllTraces)+len(batch))
	all = append(all, h.AllTraces...)
	all = append(all, batch...)
	return FlightTraceHighlight{Task: h.Task, Continue: true, Traces: batch, AllTraces: all}
}

// Cursor returns the timestamp of the last known point, or nil when nothing was received yet.
func (h FlightTraceHighlight) Cursor() *time.Time {
	var last *TracePoint
	switch {
	case len(h.Traces) > 0:
		last = &h.Traces[len(h.Traces)-1]
	case len(h.AllTraces) > 0:
		last = &h.AllTraces[len(h.AllTraces)-1]
	default:
		return nil
	}
	ts := last.Timestamp
	return &ts
}
