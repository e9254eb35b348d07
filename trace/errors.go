package trace

import (
	"fmt"
	"time"
)

// TimeoutError is raised (as a panic) by CheckTimer when an evaluation runs
// past its budget. Example wrappers record it through Error, like any other
// execution error. The host learns about it from Tracker.Timeout.
type TimeoutError struct {
	Budget  time.Duration
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout reached after %v (budget %v): maybe there is an infinite loop?",
		e.Elapsed.Round(time.Millisecond), e.Budget)
}
