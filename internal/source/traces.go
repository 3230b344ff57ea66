package source

import (
	"sort"
	"time"

	"patrolsync/internal/patrol"
)

func sortTraces(points []patrol.TracePoint) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
}

// sliceTraces applies FetchTracesSince semantics to points sorted ascending.
// The result is a fresh slice.
func sliceTraces(points []patrol.TracePoint, since *time.Time, max int) []patrol.TracePoint {
	var window []patrol.TracePoint
	if since != nil {
		i := sort.Search(len(points), func(i int) bool { return points[i].Timestamp.After(*since) })
		window = points[i:]
		if max > 0 && len(window) > max {
			window = window[:max]
		}
	} else {
		window = points
		if max > 0 && len(window) > max {
			window = window[len(window)-max:]
		}
	}
	out := make([]patrol.TracePoint, len(window))
	copy(out, window)
	return out
}
