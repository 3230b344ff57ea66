// Package patrol holds the domain model shared by the source drivers and the session store:
// patrol events, their dispatched tasks, grids, flight telemetry and map highlights.
package patrol

import (
	"slices"
	"strings"
	"time"
)

// State is the lifecycle state of an event or a task.
type State string

const (
	StateNew        State = "NEW"
	StateProcessing State = "PROCESSING"
	StateComplete   State = "COMPLETE"
)

// Open reports whether s is NEW or PROCESSING.
func (s State) Open() bool { return s == StateNew || s == StateProcessing }

// TaskType is the variant tag of a task.
type TaskType string

const (
	TaskGridChiefIdentification TaskType = "GridChiefIdentificationTask"
	TaskFlightAirTrace          TaskType = "FlightAirTraceTask"
	TaskFlightWaterSampling     TaskType = "FlightWaterSamplingTask"
)

// IsFlight reports whether t collects live aerial or water telemetry.
func (t TaskType) IsFlight() bool {
	return t == TaskFlightAirTrace || t == TaskFlightWaterSampling
}

type FlightState string

const (
	FlightPending   FlightState = "Pending"
	FlightTakingOff FlightState = "TakingOff"
	FlightFlying    FlightState = "Flying"
	FlightReturning FlightState = "Returning"
	FlightLanded    FlightState = "Landed"
)

type Location struct {
	DistrictCode string  `json:"districtCode"`
	Longitude    float64 `json:"longitude"`
	Latitude     float64 `json:"latitude"`
	Address      string  `json:"address,omitempty"`
}

// SourceType is how an event was reported (e.g. "GridChief", "Camera").
type SourceType string

type EventSource struct {
	Type SourceType `json:"type"`
}

// Event is a patrol event (incident).
type Event struct {
	ID               int64       `json:"id"`
	State            State       `json:"state"`
	Severity         int         `json:"severity"`
	Location         Location    `json:"location"`
	Source           EventSource `json:"source"`
	StartProcessTime *time.Time  `json:"startProcessTime,omitempty"`
	CompleteTime     *time.Time  `json:"completeTime,omitempty"`
	Conclusion       string      `json:"conclusion,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	out := e
	if e.StartProcessTime != nil {
		t := *e.StartProcessTime
		out.StartProcessTime = &t
	}
	if e.CompleteTime != nil {
		t := *e.CompleteTime
		out.CompleteTime = &t
	}
	return out
}

// Task is a unit of work dispatched for an event. FlightState is only meaningful for flight
// variants.
type Task struct {
	ID          int64       `json:"id"`
	EventID     int64       `json:"eventId"`
	Type        TaskType    `json:"type"`
	State       State       `json:"state"`
	FlightState FlightState `json:"flightState,omitempty"`
	Title       string      `json:"title,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func (t *Task) IsFlight() bool { return t != nil && t.Type.IsFlight() }

// IsLiveFlight reports whether t is a flight task that is airborne and not yet complete.
func (t *Task) IsLiveFlight() bool {
	return t.IsFlight() && t.State.Open() && t.FlightState == FlightFlying
}

type Grid struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	DistrictCode string `json:"districtCode"`
}

// TracePoint is one telemetry sample of a flight task.
type TracePoint struct {
	Timestamp time.Time          `json:"timestamp"`
	Longitude float64            `json:"longitude"`
	Latitude  float64            `json:"latitude"`
	Altitude  float64            `json:"altitude,omitempty"`
	Speed     float64            `json:"speed,omitempty"`
	Heading   float64            `json:"heading,omitempty"`
	Readings  map[string]float64 `json:"readings,omitempty"`
}

// EventQuery selects events by state and creation time. Empty States matches every state;
// zero From/To leave that side unbounded.
type EventQuery struct {
	States []State
	From   time.Time
	To     time.Time
}

// OpenEvents is the query used by the event list refresh.
func OpenEvents(from, to time.Time) EventQuery {
	return EventQuery{States: []State{StateNew, StateProcessing}, From: from, To: to}
}

func (q EventQuery) Match(e Event) bool {
	if len(q.States) > 0 && !slices.Contains(q.States, e.State) {
		return false
	}
	if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.CreatedAt.After(q.To) {
		return false
	}
	return true
}

// AllEventTypes disables the source type filter.
const AllEventTypes = "All"

// SearchParams drives the event list shown next to the map.
type SearchParams struct {
	DistrictCode string    `json:"districtCode"`
	EventType    string    `json:"eventType"`
	From         time.Time `json:"from,omitzero"`
	To           time.Time `json:"to,omitzero"`
}

// FilterEvents keeps the events matching params. The district filter is skipped when params
// target rootDistrict; the type filter is skipped for AllEventTypes (or empty).
func FilterEvents(events []Event, params SearchParams, rootDistrict string) []Event {
	out := make([]Event, 0, len(events))
	byDistrict := params.DistrictCode != rootDistrict
	eventType := strings.TrimSpace(params.EventType)
	byType := eventType != "" && eventType != AllEventTypes
	for _, e := range events {
		if byDistrict && e.Location.DistrictCode != params.DistrictCode {
			continue
		}
		if byType && string(e.Source.Type) != eventType {
			continue
		}
		out = append(out, e)
	}
	return out
}
