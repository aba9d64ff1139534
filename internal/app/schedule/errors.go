package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent is returned when an operation names an event that is not
	// in the current snapshot.
	ErrUnknownEvent = errors.New("event is not in the schedule")
	ErrClosed       = errors.New("schedule store is closed")
)

// StoreError wraps a failure of the backing event store. The operation that
// raised it failed as a whole; nothing else is affected.
type StoreError struct {
	Op      string
	EventID string
	Err     error
}

func (e *StoreError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("schedule: %s event %s: %v", e.Op, e.EventID, e.Err)
	}
	return fmt.Sprintf("schedule: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
