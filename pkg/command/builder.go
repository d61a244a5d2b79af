package command

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/cmdkit/pkg/log"
)

// Factory produces a fresh command each time. Commands are single use, so
// anything that needs to run the same work repeatedly (default commands,
// trigger bindings) holds a Factory rather than a Command. *Builder is a
// Factory.
type Factory interface {
	Build() *Command
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func() *Command

func (f FactoryFunc) Build() *Command { return f() }

// Builder assembles a Config through chained calls. Every setter overwrites
// its slot except Require, which accumulates. A Builder is not safe for
// concurrent use.
type Builder struct {
	cfg Config
}

var _ Factory = (*Builder)(nil)

// Option configures a Builder at creation.
type Option func(*Builder)

// WithName sets the name reported in logs and errors.
func WithName(name string) Option {
	return func(b *Builder) { b.cfg.Name = name }
}

// WithClock sets the time source used for run time and timeouts.
func WithClock(c clock.PassiveClock) Option {
	return func(b *Builder) { b.cfg.Clock = c }
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l log.Logger) Option {
	return func(b *Builder) { b.cfg.Logger = l }
}

// Create returns a builder holding only defaults.
func Create() *Builder {
	return NewBuilder()
}

// NewBuilder returns a builder holding defaults plus whatever opts set.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Named sets the command name.
func (b *Builder) Named(name string) *Builder {
	b.cfg.Name = name
	return b
}

// Task sets the per-tick action. A nil action restores the no-op.
func (b *Builder) Task(a Action) *Builder {
	b.cfg.Action = a
	return b
}

// TaskFunc is Task for a plain function.
func (b *Builder) TaskFunc(fn func(ctx context.Context, c *Command) error) *Builder {
	if fn == nil {
		return b.Task(nil)
	}
	return b.Task(ActionFunc(fn))
}

// RunForTime replaces the continuation with one that holds while run time
// is below d. A non-positive d yields a command that never runs.
func (b *Builder) RunForTime(d time.Duration) *Builder {
	b.cfg.Continuation = For(d)
	return b
}

// RunWhile replaces the continuation. A nil continuation restores Never.
func (b *Builder) RunWhile(k Continuation) *Builder {
	b.cfg.Continuation = k
	return b
}

// RunWhileFunc is RunWhile for a plain predicate.
func (b *Builder) RunWhileFunc(fn func(c *Command) bool) *Builder {
	if fn == nil {
		return b.RunWhile(nil)
	}
	return b.RunWhile(ContinuationFunc(fn))
}

// WithTimeout sets a hard cap on run time that applies on top of the
// continuation. Zero or negative disables it.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	b.cfg.Timeout = d
	return b
}

// AtEnd sets the callback run when the command finishes on its own.
func (b *Builder) AtEnd(cb Callback) *Builder {
	b.cfg.OnEnd = cb
	return b
}

// OnInterrupt sets the callback run when the command is stopped externally.
func (b *Builder) OnInterrupt(cb Callback) *Builder {
	b.cfg.OnInterrupt = cb
	return b
}

// Require appends subsystems to the requirement list. Nil entries are
// ignored.
func (b *Builder) Require(subsystems ...Subsystem) *Builder {
	for _, sub := range subsystems {
		if sub != nil {
			b.cfg.Requires = append(b.cfg.Requires, sub)
		}
	}
	return b
}

// Config returns a copy of the current configuration.
func (b *Builder) Config() Config {
	cfg := b.cfg
	cfg.Requires = append(Requirements(nil), b.cfg.Requires...)
	return cfg
}

// Build returns a new command from a snapshot of the configuration. Later
// changes to the builder do not reach commands already built.
func (b *Builder) Build() *Command {
	return New(b.cfg)
}
