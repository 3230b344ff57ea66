package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateLabel  = errors.New("scheduler: duplicate label")
	ErrInvalidLabel    = errors.New("scheduler: invalid label")
	ErrInvalidInterval = errors.New("scheduler: interval must be > 0")
	ErrNilAction       = errors.New("scheduler: nil action")
	ErrStopped         = errors.New("scheduler: stopped")
	ErrPanicked        = errors.New("scheduler: action panicked")
)

// DuplicateLabelError is returned by StartTask when a live task already holds Label.
// It matches ErrDuplicateLabel with errors.Is.
type DuplicateLabelError struct {
	Label Label
}

func (e *DuplicateLabelError) Error() string {
	return fmt.Sprintf("scheduler: duplicate label %q", e.Label.String())
}

func (e *DuplicateLabelError) Is(target error) bool { return target == ErrDuplicateLabel }
