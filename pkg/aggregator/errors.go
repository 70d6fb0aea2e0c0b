package aggregator

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument reports a programmer error such as a non-positive
// window count or an inverted time range. Match with errors.Is.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrInconsistentState reports a state that should be unreachable, e.g.
// an entity judged covered by the completeness pass failing to resolve
// a value moments later. It indicates a defect in the engine, never bad
// input.
var ErrInconsistentState = errors.New("inconsistent aggregator state")

// NotEnoughValidWindowsError is returned by Aggregate when the queried
// range holds fewer valid windows than the options require. No partial
// result is returned alongside it.
type NotEnoughValidWindowsError struct {
	Available int
	Required  int
}

func (e *NotEnoughValidWindowsError) Error() string {
	return fmt.Sprintf("there are only %d valid windows available, which is less than the required %d",
		e.Available, e.Required)
}

func invalidArgumentf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
