// Package trigger binds boolean inputs, such as joystick buttons or limit
// switches, to commands. A Trigger samples its source on every Poll and
// schedules or cancels commands on press, hold and release edges.
package trigger

import (
	"context"
	"errors"
	"sync"

	"github.com/autopeer-io/cmdkit/pkg/command"
)

// Scheduler is the part of the scheduler a trigger drives.
type Scheduler interface {
	Schedule(ctx context.Context, cmd *command.Command) error
	Cancel(ctx context.Context, cmd *command.Command) error
}

// binding remembers the last command built for a slot so it can be cancelled
// or restarted.
type binding struct {
	factory command.Factory
	current *command.Command
}

func (b *binding) start(ctx context.Context, s Scheduler) error {
	if b.factory == nil {
		return nil
	}
	b.current = b.factory.Build()
	return s.Schedule(ctx, b.current)
}

func (b *binding) running() bool {
	return b.current != nil && b.current.IsRunning()
}

func (b *binding) cancel(ctx context.Context, s Scheduler) error {
	if !b.running() {
		return nil
	}
	return s.Cancel(ctx, b.current)
}

// Trigger is not safe for concurrent use; poll it from the control loop.
type Trigger struct {
	source func() bool
	sched  Scheduler

	prev        bool
	holdStarted bool
	toggled     bool

	press   binding
	release binding
	hold    binding
	toggle  binding
	cancel  *command.Command
}

func New(source func() bool, sched Scheduler) *Trigger {
	return &Trigger{source: source, sched: sched}
}

// Get samples the source.
func (t *Trigger) Get() bool { return t.source() }

// WhenPressed schedules a new command each time the input goes high.
func (t *Trigger) WhenPressed(f command.Factory) *Trigger {
	t.press.factory = f
	return t
}

// WhenReleased schedules a new command each time the input goes low.
func (t *Trigger) WhenReleased(f command.Factory) *Trigger {
	t.release.factory = f
	return t
}

// WhileHeld keeps a command running while the input stays high, restarting
// it if it finishes, and cancels it on release.
func (t *Trigger) WhileHeld(f command.Factory) *Trigger {
	t.hold.factory = f
	return t
}

// ToggleWhenPressed starts a command on one press and cancels it on the next.
func (t *Trigger) ToggleWhenPressed(f command.Factory) *Trigger {
	t.toggle.factory = f
	return t
}

// CancelWhenPressed cancels cmd, if it is running, when the input goes high.
// Like the other bindings it holds a single command; a later call replaces
// the earlier one and nil clears it.
func (t *Trigger) CancelWhenPressed(cmd *command.Command) *Trigger {
	t.cancel = cmd
	return t
}

// Poll samples the input once and acts on the edge it sees.
func (t *Trigger) Poll(ctx context.Context) error {
	cur := t.source()
	defer func() { t.prev = cur }()

	var errs []error
	switch {
	case cur && t.prev:
		if !t.holdStarted || !t.hold.running() {
			t.holdStarted = true
			errs = append(errs, t.hold.start(ctx, t.sched))
		}
	case cur && !t.prev:
		errs = append(errs, t.press.start(ctx, t.sched))
		if t.toggled {
			errs = append(errs, t.toggle.cancel(ctx, t.sched))
		} else {
			errs = append(errs, t.toggle.start(ctx, t.sched))
		}
		t.toggled = !t.toggled
		if t.cancel != nil && t.cancel.IsRunning() {
			errs = append(errs, t.sched.Cancel(ctx, t.cancel))
		}
	case !cur && t.prev:
		t.holdStarted = false
		errs = append(errs, t.hold.cancel(ctx, t.sched))
		errs = append(errs, t.release.start(ctx, t.sched))
	}
	return errors.Join(errs...)
}

// Set polls a group of triggers together and can disable them all at once,
// e.g. while the robot is in autonomous mode.
type Set struct {
	mu       sync.Mutex
	triggers []*Trigger
	disabled bool
}

func (s *Set) Add(t ...*Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, t...)
}

func (s *Set) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = !enabled
}

// Poll polls every trigger in the order added. Nothing happens while disabled.
func (s *Set) Poll(ctx context.Context) error {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return nil
	}
	triggers := append([]*Trigger(nil), s.triggers...)
	s.mu.Unlock()

	var errs []error
	for _, t := range triggers {
		errs = append(errs, t.Poll(ctx))
	}
	return errors.Join(errs...)
}
