package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// fixedRate is a cron.Schedule with sub-second resolution.
// cron.Every truncates to whole seconds, which would turn 1500ms into 1s.
type fixedRate struct {
	every time.Duration
}

var _ cron.Schedule = fixedRate{}

func (f fixedRate) Next(t time.Time) time.Time {
	return t.Add(f.every)
}
