package patrol

// IsSameInstance reports whether previous and next describe the same live task instance, i.e.
// whether telemetry polling started for previous is still valid for next.
//
// Two nils are the same; a nil and a non-nil are not. A changed id or state is always a new
// instance. For a flight next with unchanged id and state, the flight state decides: a grid
// chief task that turns into a flight task is the same only if it is already flying, otherwise
// the flight states must match. A non-flight next with unchanged id and state is the same,
// whatever previous was.
func IsSameInstance(previous, next *Task) bool {
	switch {
	case previous == nil && next == nil:
		return true
	case previous == nil || next == nil:
		return false
	case previous.ID != next.ID || previous.State != next.State:
		return false
	case !next.Type.IsFlight():
		return true
	case previous.Type == TaskGridChiefIdentification:
		return next.FlightState == FlightFlying
	default:
		return next.FlightState == previous.FlightState
	}
}
