// Package fsm holds small adapters around github.com/looplab/fsm.
package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent turns an error returning handler into an fsm.Callback. A returned
// error is stored on the event so that fsm.Event reports it to the caller.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Notify adapts a handler that cannot fail.
func Notify(fn func(ctx context.Context, event *fsm.Event)) fsm.Callback {
	return WrapEvent(func(ctx context.Context, event *fsm.Event) error {
		fn(ctx, event)
		return nil
	})
}

// IsRejected reports whether err means the machine refused the event in its
// current state, as opposed to a failure raised by a callback.
func IsRejected(err error) bool {
	var invalid fsm.InvalidEventError
	var unknown fsm.UnknownEventError
	var inTransition fsm.InTransitionError
	var noTransition fsm.NoTransitionError
	return errors.As(err, &invalid) ||
		errors.As(err, &unknown) ||
		errors.As(err, &inTransition) ||
		errors.As(err, &noTransition)
}
