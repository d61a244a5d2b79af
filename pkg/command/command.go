// Package command defines the schedulable unit of work of the robot control
// loop: a Builder assembles a Config, Build freezes it into a Command, and
// whoever schedules the Command drives it through Start, Tick and then End
// or Interrupt.
package command

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap/zapcore"
	"k8s.io/utils/clock"

	fsmutil "github.com/autopeer-io/cmdkit/internal/pkg/util/fsm"
	"github.com/autopeer-io/cmdkit/pkg/log"
)

// State is the lifecycle phase of a command.
type State string

const (
	StateCreated     State = "created"
	StateRunning     State = "running"
	StateEnded       State = "ended"
	StateInterrupted State = "interrupted"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateInterrupted
}

const (
	// EventStart moves a created command to running.
	EventStart = "start"
	// EventEnd finishes a running command normally.
	EventEnd = "end"
	// EventInterrupt stops a running command from outside.
	EventInterrupt = "interrupt"
)

var lastID atomic.Uint64

// Command is an immutable unit of work plus the runtime state needed to
// evaluate its own stop condition. Only run time, tick count and lifecycle
// state change after construction.
type Command struct {
	id           uint64
	name         string
	action       Action
	continuation Continuation
	timeout      time.Duration
	requires     Requirements
	onEnd        Callback
	onInterrupt  Callback

	clock  clock.PassiveClock
	logger log.Logger

	machine *fsm.FSM

	mu        sync.Mutex
	startedAt time.Time
	stoppedAt time.Time
	ticks     int
}

func newCommand(cfg Config) *Command {
	c := &Command{
		id:           lastID.Add(1),
		name:         cfg.Name,
		action:       cfg.Action,
		continuation: cfg.Continuation,
		timeout:      cfg.Timeout,
		requires:     cfg.Requires,
		onEnd:        cfg.OnEnd,
		onInterrupt:  cfg.OnInterrupt,
		clock:        cfg.Clock,
	}
	c.logger = cfg.Logger.WithValues("command", c.name, "id", c.id)

	events := fsm.Events{
		{Name: EventStart, Src: []string{string(StateCreated)}, Dst: string(StateRunning)},
		{Name: EventEnd, Src: []string{string(StateRunning)}, Dst: string(StateEnded)},
		{Name: EventInterrupt, Src: []string{string(StateRunning)}, Dst: string(StateInterrupted)},
	}

	callbacks := fsm.Callbacks{
		"enter_" + string(StateRunning):     fsmutil.Notify(c.enterRunning),
		"enter_" + string(StateEnded):       fsmutil.Notify(c.enterEnded),
		"enter_" + string(StateInterrupted): fsmutil.Notify(c.enterInterrupted),
	}

	c.machine = fsm.NewFSM(string(StateCreated), events, callbacks)
	return c
}

func (c *Command) enterRunning(ctx context.Context, e *fsm.Event) {
	c.mu.Lock()
	c.startedAt = c.clock.Now()
	c.mu.Unlock()

	c.logger.Debug("Command started", "requires", c.requires.Names())
}

func (c *Command) enterEnded(ctx context.Context, e *fsm.Event) {
	c.stop()
	c.logger.Debug("Command ended", "runTime", c.RunTime(), "ticks", c.Ticks())
	c.onEnd(c)
}

func (c *Command) enterInterrupted(ctx context.Context, e *fsm.Event) {
	c.stop()
	c.logger.Debug("Command interrupted", "runTime", c.RunTime(), "ticks", c.Ticks())
	c.onInterrupt(c)
}

func (c *Command) stop() {
	c.mu.Lock()
	c.stoppedAt = c.clock.Now()
	c.mu.Unlock()
}

// ID is unique among commands built by this process.
func (c *Command) ID() uint64 { return c.id }

func (c *Command) Name() string { return c.name }

// Timeout returns the hard cap on run time, zero when none was set.
func (c *Command) Timeout() time.Duration { return c.timeout }

// Requirements returns a copy of the declared subsystems, duplicates included.
func (c *Command) Requirements() Requirements {
	return append(Requirements(nil), c.requires...)
}

// Requires reports whether s is among the declared subsystems.
func (c *Command) Requires(s Subsystem) bool {
	return c.requires.Contains(s)
}

func (c *Command) State() State {
	return State(c.machine.Current())
}

func (c *Command) IsRunning() bool { return c.State() == StateRunning }

// IsFinished reports whether the command ended or was interrupted.
func (c *Command) IsFinished() bool { return c.State().Terminal() }

// RunTime is the time elapsed since Start. It is zero before Start and
// frozen once the command reaches a terminal state.
func (c *Command) RunTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.startedAt.IsZero():
		return 0
	case !c.stoppedAt.IsZero():
		return c.stoppedAt.Sub(c.startedAt)
	default:
		return c.clock.Since(c.startedAt)
	}
}

// RunTimeMillis is RunTime in whole milliseconds.
func (c *Command) RunTimeMillis() int64 {
	return c.RunTime().Milliseconds()
}

// Ticks is the number of times the action has been invoked.
func (c *Command) Ticks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Start begins tracking run time. It is legal once, on a created command.
func (c *Command) Start(ctx context.Context) error {
	return c.fire(ctx, EventStart)
}

// End finishes a running command and runs its end callback.
func (c *Command) End(ctx context.Context) error {
	return c.fire(ctx, EventEnd)
}

// Interrupt stops a running command and runs its interrupt callback. The end
// callback is never run afterwards.
func (c *Command) Interrupt(ctx context.Context) error {
	return c.fire(ctx, EventInterrupt)
}

// ShouldContinue evaluates the stop condition: the command keeps going only
// while the timeout, if any, has not been reached and the continuation holds.
// It fails on a finished command.
func (c *Command) ShouldContinue() (bool, error) {
	if st := c.State(); st.Terminal() {
		return false, c.stateError("check", st)
	}
	if c.timeout > 0 && c.RunTime() >= c.timeout {
		return false, nil
	}
	return c.continuation.Continue(c), nil
}

// Execute invokes the action once. The action's error is returned as is.
func (c *Command) Execute(ctx context.Context) error {
	if st := c.State(); st != StateRunning {
		return c.stateError("execute", st)
	}

	c.mu.Lock()
	c.ticks++
	c.mu.Unlock()

	return c.action.Execute(ctx, c)
}

// Tick runs one scheduling step: when the stop condition says so the command
// ends, otherwise the action runs once. It returns the state after the step.
// An action error leaves the command running; the caller decides whether to
// interrupt it.
func (c *Command) Tick(ctx context.Context) (State, error) {
	if st := c.State(); st != StateRunning {
		return st, c.stateError("tick", st)
	}

	ok, err := c.ShouldContinue()
	if err != nil {
		return c.State(), err
	}
	if !ok {
		if err := c.End(ctx); err != nil {
			return c.State(), err
		}
		return StateEnded, nil
	}

	if err := c.Execute(ctx); err != nil {
		return c.State(), fmt.Errorf("command %s: action failed: %w", c, err)
	}
	return c.State(), nil
}

// fire runs a lifecycle event. Transitions must not be skipped because the
// caller's context was cancelled, so cancellation is stripped.
func (c *Command) fire(ctx context.Context, event string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.machine.Event(context.WithoutCancel(ctx), event)
	if err == nil {
		return nil
	}
	if fsmutil.IsRejected(err) {
		return &StateError{Command: c.String(), Op: event, State: c.State(), Err: err}
	}
	return err
}

func (c *Command) stateError(op string, st State) error {
	return &StateError{Command: c.String(), Op: op, State: st}
}

func (c *Command) String() string {
	return fmt.Sprintf("%s#%d", c.name, c.id)
}

// MarshalLogObject lets the command be logged as a structured value.
func (c *Command) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", c.name)
	enc.AddUint64("id", c.id)
	enc.AddString("state", string(c.State()))
	enc.AddDuration("runTime", c.RunTime())
	enc.AddInt("ticks", c.Ticks())
	if c.timeout > 0 {
		enc.AddDuration("timeout", c.timeout)
	}
	return enc.AddArray("requires", zapcore.ArrayMarshalerFunc(func(ae zapcore.ArrayEncoder) error {
		for _, s := range c.requires {
			ae.AppendString(s.Name())
		}
		return nil
	}))
}
