package command

import (
	"context"
	"time"
)

// Action is the work a command performs on every tick while running.
// An error is handed back to the caller of Execute or Tick untouched.
type Action interface {
	Execute(ctx context.Context, c *Command) error
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(ctx context.Context, c *Command) error

func (f ActionFunc) Execute(ctx context.Context, c *Command) error {
	return f(ctx, c)
}

// Noop is the default action.
var Noop Action = ActionFunc(func(context.Context, *Command) error { return nil })

// Callback is invoked once when a command ends or is interrupted.
type Callback func(c *Command)

func noopCallback(*Command) {}

// Continuation decides, once per tick, whether a running command should keep
// going. It receives the live command so it can read RunTime or Ticks.
type Continuation interface {
	Continue(c *Command) bool
}

// ContinuationFunc adapts a plain predicate to Continuation.
type ContinuationFunc func(c *Command) bool

func (f ContinuationFunc) Continue(c *Command) bool {
	return f(c)
}

// Always keeps a command running until it is interrupted or times out.
func Always() Continuation {
	return ContinuationFunc(func(*Command) bool { return true })
}

// Never stops a command on its first check. It is the default.
func Never() Continuation {
	return ContinuationFunc(func(*Command) bool { return false })
}

// For keeps a command running while its run time is below d.
func For(d time.Duration) Continuation {
	return ContinuationFunc(func(c *Command) bool { return c.RunTime() < d })
}

// While keeps a command running while cond holds. cond does not see the command.
func While(cond func() bool) Continuation {
	return ContinuationFunc(func(*Command) bool { return cond() })
}

// Not inverts a continuation.
func Not(k Continuation) Continuation {
	return ContinuationFunc(func(c *Command) bool { return !k.Continue(c) })
}

// And continues while every continuation does. Evaluation stops at the first false.
func And(ks ...Continuation) Continuation {
	return ContinuationFunc(func(c *Command) bool {
		for _, k := range ks {
			if !k.Continue(c) {
				return false
			}
		}
		return true
	})
}

// Or continues while any continuation does.
func Or(ks ...Continuation) Continuation {
	return ContinuationFunc(func(c *Command) bool {
		for _, k := range ks {
			if k.Continue(c) {
				return true
			}
		}
		return false
	})
}
