package command

import (
	"errors"
	"fmt"
)

// ErrInvalidState is matched by every error returned for a lifecycle call
// that is not legal in the command's current state.
var ErrInvalidState = errors.New("invalid command state")

// StateError describes a rejected lifecycle call.
type StateError struct {
	Command string
	Op      string
	State   State
	Err     error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("command %s: cannot %s while %s", e.Command, e.Op, e.State)
}

func (e *StateError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidState}
	}
	return []error{ErrInvalidState, e.Err}
}
