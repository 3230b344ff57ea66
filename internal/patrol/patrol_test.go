package patrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSameInstance(t *testing.T) {
	gridChief := &Task{ID: 1, State: StateNew, Type: TaskGridChiefIdentification}
	flying := &Task{ID: 1, State: StateNew, Type: TaskFlightAirTrace, FlightState: FlightFlying}
	landed := &Task{ID: 1, State: StateNew, Type: TaskFlightAirTrace, FlightState: FlightLanded}
	pending := &Task{ID: 1, State: StateNew, Type: TaskFlightWaterSampling, FlightState: FlightPending}

	cases := []struct {
		name       string
		prev, next *Task
		want       bool
	}{
		{"both nil", nil, nil, true},
		{"prev nil", nil, flying, false},
		{"next nil", flying, nil, false},
		{"id differs", flying, &Task{ID: 2, State: StateNew, Type: TaskFlightAirTrace, FlightState: FlightFlying}, false},
		{"state differs", gridChief, &Task{ID: 1, State: StateProcessing, Type: TaskGridChiefIdentification}, false},
		{"grid chief to flying flight", gridChief, flying, true},
		{"grid chief to landed flight", gridChief, landed, false},
		{"flight same flight state", flying, &Task{ID: 1, State: StateNew, Type: TaskFlightAirTrace, FlightState: FlightFlying, Title: "refetched"}, true},
		{"flight state changes", pending, &Task{ID: 1, State: StateNew, Type: TaskFlightWaterSampling, FlightState: FlightFlying}, false},
		{"flight to non-flight", flying, gridChief, true},
		{"non-flight unchanged", gridChief, &Task{ID: 1, State: StateNew, Type: TaskGridChiefIdentification}, true},
		{"identical pointer", flying, flying, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsSameInstance(tc.prev, tc.next))
		})
	}
}

func TestIsSameInstanceIsSymmetricForNil(t *testing.T) {
	x := &Task{ID: 5, State: StateProcessing, Type: TaskGridChiefIdentification}
	assert.Equal(t, IsSameInstance(nil, x), IsSameInstance(x, nil))
}

func TestIsLiveFlight(t *testing.T) {
	var none *Task
	assert.False(t, none.IsLiveFlight())
	assert.False(t, (&Task{Type: TaskGridChiefIdentification, State: StateNew, FlightState: FlightFlying}).IsLiveFlight())
	assert.False(t, (&Task{Type: TaskFlightAirTrace, State: StateComplete, FlightState: FlightFlying}).IsLiveFlight())
	assert.False(t, (&Task{Type: TaskFlightAirTrace, State: StateProcessing, FlightState: FlightReturning}).IsLiveFlight())
	assert.True(t, (&Task{Type: TaskFlightWaterSampling, State: StateProcessing, FlightState: FlightFlying}).IsLiveFlight())
}

func point(sec int) TracePoint {
	return TracePoint{Timestamp: time.Unix(int64(sec), 0).UTC()}
}

func TestFlightTraceExtendDoesNotAlias(t *testing.T) {
	base := NewFlightTrace(Task{ID: 3}, []TracePoint{point(1), point(2)})
	require.False(t, base.Continue)

	a := base.Extend([]TracePoint{point(3)})
	b := base.Extend([]TracePoint{point(4)})

	assert.True(t, a.Continue)
	assert.Len(t, base.AllTraces, 2)
	require.Len(t, a.AllTraces, 3)
	require.Len(t, b.AllTraces, 3)
	assert.Equal(t, point(3), a.AllTraces[2])
	assert.Equal(t, point(4), b.AllTraces[2])
	assert.Equal(t, []TracePoint{point(3)}, a.Traces)
}

func TestFlightTraceCursor(t *testing.T) {
	assert.Nil(t, FlightTraceHighlight{}.Cursor())

	h := NewFlightTrace(Task{ID: 3}, []TracePoint{point(1), point(2)})
	require.NotNil(t, h.Cursor())
	assert.Equal(t, point(2).Timestamp, *h.Cursor())

	empty := h.Extend(nil)
	require.NotNil(t, empty.Cursor(), "an empty batch falls back to the accumulated trace")
	assert.Equal(t, point(2).Timestamp, *empty.Cursor())

	next := empty.Extend([]TracePoint{point(9)})
	assert.Equal(t, point(9).Timestamp, *next.Cursor())
}

func TestFilterEvents(t *testing.T) {
	events := []Event{
		{ID: 1, Location: Location{DistrictCode: "350402"}, Source: EventSource{Type: "GridChief"}},
		{ID: 2, Location: Location{DistrictCode: "350403"}, Source: EventSource{Type: "Camera"}},
		{ID: 3, Location: Location{DistrictCode: "350402"}, Source: EventSource{Type: "Camera"}},
	}
	ids := func(es []Event) []int64 {
		out := []int64{}
		for _, e := range es {
			out = append(out, e.ID)
		}
		return out
	}

	assert.Equal(t, []int64{1, 2, 3}, ids(FilterEvents(events, SearchParams{DistrictCode: "350400", EventType: AllEventTypes}, "350400")))
	assert.Equal(t, []int64{1, 3}, ids(FilterEvents(events, SearchParams{DistrictCode: "350402", EventType: AllEventTypes}, "350400")))
	assert.Equal(t, []int64{2, 3}, ids(FilterEvents(events, SearchParams{DistrictCode: "350400", EventType: "Camera"}, "350400")))
	assert.Equal(t, []int64{3}, ids(FilterEvents(events, SearchParams{DistrictCode: "350402", EventType: "Camera"}, "350400")))
}

func TestEventQueryMatch(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	q := OpenEvents(t0, t0.Add(24*time.Hour))

	assert.True(t, q.Match(Event{State: StateNew, CreatedAt: t0.Add(time.Hour)}))
	assert.False(t, q.Match(Event{State: StateComplete, CreatedAt: t0.Add(time.Hour)}))
	assert.False(t, q.Match(Event{State: StateProcessing, CreatedAt: t0.Add(-time.Hour)}))
	assert.True(t, EventQuery{}.Match(Event{State: StateComplete}))
}

func TestEventCloneCopiesTimes(t *testing.T) {
	now := time.Now()
	e := Event{ID: 1, StartProcessTime: &now}
	c := e.Clone()
	*c.StartProcessTime = now.Add(time.Hour)
	assert.Equal(t, now, *e.StartProcessTime)
}
