// Package scheduler is a reference driver for commands. It starts commands,
// ticks them at a fixed period, preempts the current owner when a newly
// scheduled command needs the same subsystem, and runs default commands on
// idle subsystems.
//
// Schedule, Cancel, Step and Run are meant to be called from the goroutine
// that owns the control loop. Other goroutines hand work to the loop with
// Submit and RequestCancel, which take effect at the start of the next Step.
// Active, Owner, HasCommands and SetPeriod may be called from anywhere.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/cmdkit/internal/pkg/metrics"
	"github.com/autopeer-io/cmdkit/pkg/command"
	"github.com/autopeer-io/cmdkit/pkg/log"
)

// ErrNotScheduled is returned by Cancel for a command the scheduler does not run.
var ErrNotScheduled = errors.New("command is not scheduled")

type request struct {
	cmd    *command.Command
	cancel bool
}

type Scheduler struct {
	logger log.Logger
	clock  clock.WithTicker
	period atomic.Int64

	// periodC wakes Run after SetPeriod stored a new period.
	periodC chan struct{}

	mu       sync.RWMutex
	pending  []request
	// inflight counts drained submissions that Step has not finished scheduling.
	inflight int
	active   []*command.Command
	owners   map[command.Subsystem]*command.Command
	defaults map[command.Subsystem]command.Factory
	// order in which default commands are considered
	defaultOrder []command.Subsystem
	// subsystems whose periodic hook runs on every step, in registration order
	registered []command.Subsystem
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   log.WithName("scheduler"),
		clock:    clock.RealClock{},
		periodC:  make(chan struct{}, 1),
		owners:   map[command.Subsystem]*command.Command{},
		defaults: map[command.Subsystem]command.Factory{},
	}
	s.period.Store(int64(DefaultPeriod))
	for _, o := range opts {
		o(s)
	}
	return s
}

// Period returns the current tick interval.
func (s *Scheduler) Period() time.Duration {
	return time.Duration(s.period.Load())
}

// SetPeriod changes the tick interval. A running loop resets its ticker on
// its next wake-up. Non-positive values are ignored.
func (s *Scheduler) SetPeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	s.period.Store(int64(d))
	select {
	case s.periodC <- struct{}{}:
	default:
		// A wake-up is already pending and will read the latest period.
	}
}

// Register adds subsystems whose Periodic hook, when they implement
// command.Periodic, runs at the start of every Step. Registering twice is a
// no-op. SetDefault registers its subsystem too.
func (s *Scheduler) Register(subs ...command.Subsystem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		s.registerLocked(sub)
	}
}

func (s *Scheduler) registerLocked(sub command.Subsystem) {
	if sub == nil || slices.Contains(s.registered, sub) {
		return
	}
	s.registered = append(s.registered, sub)
}

// SetDefault registers the factory whose commands run on sub whenever no
// other command holds it. Built commands must require sub. A nil factory
// removes the default.
func (s *Scheduler) SetDefault(sub command.Subsystem, f command.Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f == nil {
		delete(s.defaults, sub)
		s.defaultOrder = slices.DeleteFunc(s.defaultOrder, func(x command.Subsystem) bool { return x == sub })
		return
	}
	if _, ok := s.defaults[sub]; !ok {
		s.defaultOrder = append(s.defaultOrder, sub)
	}
	s.defaults[sub] = f
	s.registerLocked(sub)
}

// Schedule starts cmd after interrupting every running command that holds
// one of its subsystems. Only commands that were never started are accepted.
func (s *Scheduler) Schedule(ctx context.Context, cmd *command.Command) error {
	if cmd == nil {
		return errors.New("schedule: nil command")
	}
	if st := cmd.State(); st != command.StateCreated {
		return &command.StateError{Command: cmd.String(), Op: "schedule", State: st}
	}

	type conflict struct {
		owner *command.Command
		sub   command.Subsystem
	}

	s.mu.Lock()
	var conflicts []conflict
	for _, sub := range cmd.Requirements().Unique() {
		owner, ok := s.owners[sub]
		if !ok || owner == cmd {
			continue
		}
		conflicts = append(conflicts, conflict{owner: owner, sub: sub})
		s.releaseLocked(owner)
	}
	s.mu.Unlock()

	var errs []error
	interrupted := map[*command.Command]bool{}
	for _, c := range conflicts {
		metrics.SubsystemConflictsTotal.WithLabelValues(c.sub.Name()).Inc()
		if interrupted[c.owner] {
			continue
		}
		interrupted[c.owner] = true
		s.logger.Info("Preempting command", "preempted", c.owner, "by", cmd, "subsystem", c.sub.Name())
		if err := s.interrupt(ctx, c.owner, metrics.ReasonConflict); err != nil {
			errs = append(errs, err)
		}
	}

	if err := cmd.Start(ctx); err != nil {
		return errors.Join(append(errs, err)...)
	}

	s.mu.Lock()
	s.active = append(s.active, cmd)
	for _, sub := range cmd.Requirements().Unique() {
		s.owners[sub] = cmd
	}
	n := len(s.active)
	s.mu.Unlock()

	metrics.CommandsScheduledTotal.Inc()
	metrics.ActiveCommands.Set(float64(n))
	s.logger.Debug("Command scheduled", "command", cmd)

	return errors.Join(errs...)
}

// Cancel interrupts a command this scheduler is running.
func (s *Scheduler) Cancel(ctx context.Context, cmd *command.Command) error {
	s.mu.Lock()
	ok := s.releaseLocked(cmd)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("cancel %s: %w", cmd, ErrNotScheduled)
	}
	return s.interrupt(ctx, cmd, metrics.ReasonCancel)
}

// Step runs the periodic hook of every registered subsystem, applies queued
// requests, fills idle subsystems with their default commands and then gives
// every active command one tick. Commands whose stop condition holds end and
// free their subsystems. A command whose action fails is interrupted; the
// failures are returned together once all commands ticked.
func (s *Scheduler) Step(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.StepDuration.Observe(time.Since(start).Seconds()) }()

	s.runPeriodic(ctx)

	var errs []error
	if err := s.drainPending(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.scheduleDefaults(ctx); err != nil {
		errs = append(errs, err)
	}

	for _, cmd := range s.Active() {
		if !cmd.IsRunning() {
			// Stopped behind the scheduler's back, e.g. from a callback.
			s.forget(cmd)
			continue
		}

		st, err := cmd.Tick(ctx)
		switch {
		case err != nil && st == command.StateRunning:
			s.logger.Error(err, "Command action failed, interrupting", "command", cmd)
			errs = append(errs, err)
			s.mu.Lock()
			s.releaseLocked(cmd)
			s.mu.Unlock()
			if ierr := s.interrupt(ctx, cmd, metrics.ReasonFailure); ierr != nil {
				errs = append(errs, ierr)
			}
		case err != nil:
			errs = append(errs, err)
			s.forget(cmd)
		case st == command.StateEnded:
			s.mu.Lock()
			released := s.releaseLocked(cmd)
			s.mu.Unlock()
			if released {
				metrics.CommandsFinishedTotal.WithLabelValues(metrics.OutcomeEnded, "").Inc()
			}
		}
	}

	metrics.ActiveCommands.Set(float64(len(s.Active())))
	return errors.Join(errs...)
}

// Run ticks until ctx is done, then interrupts whatever is still running.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.Period())
	defer func() { ticker.Stop() }()

	s.logger.Info("Scheduler loop started", "period", s.Period())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler loop stopping", "active", len(s.Active()))
			return s.InterruptAll(context.WithoutCancel(ctx))
		case <-s.periodC:
			d := s.Period()
			ticker.Stop()
			ticker = s.clock.NewTicker(d)
			s.logger.Info("Scheduler period changed", "period", d)
		case <-ticker.C():
			if err := s.Step(ctx); err != nil {
				s.logger.Error(err, "Scheduler step reported failures")
			}
		}
	}
}

// InterruptAll interrupts every active command.
func (s *Scheduler) InterruptAll(ctx context.Context) error {
	s.mu.Lock()
	cmds := s.active
	s.active = nil
	s.owners = map[command.Subsystem]*command.Command{}
	s.mu.Unlock()

	var errs []error
	for _, cmd := range cmds {
		if !cmd.IsRunning() {
			continue
		}
		if err := s.interrupt(ctx, cmd, metrics.ReasonShutdown); err != nil {
			errs = append(errs, err)
		}
	}
	metrics.ActiveCommands.Set(0)
	return errors.Join(errs...)
}

// Active returns the running commands in the order they were scheduled.
func (s *Scheduler) Active() []*command.Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.active)
}

// Owner returns the command currently holding sub, if any.
func (s *Scheduler) Owner(sub command.Subsystem) (*command.Command, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.owners[sub]
	return c, ok
}

// HasCommands reports whether commands are running, queued, or being
// scheduled by the current Step.
func (s *Scheduler) HasCommands() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inflight > 0 || len(s.active) > 0 {
		return true
	}
	for _, r := range s.pending {
		if !r.cancel {
			return true
		}
	}
	return false
}

// Submit queues cmd to be scheduled at the start of the next Step. It is
// safe to call from any goroutine.
func (s *Scheduler) Submit(cmd *command.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, request{cmd: cmd})
}

// RequestCancel queues the cancellation of the active command with the given
// ID and reports whether such a command exists right now.
func (s *Scheduler) RequestCancel(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.active {
		if c.ID() == id {
			s.pending = append(s.pending, request{cmd: c, cancel: true})
			return true
		}
	}
	return false
}

func (s *Scheduler) drainPending(ctx context.Context) error {
	s.mu.Lock()
	reqs := s.pending
	s.pending = nil
	for _, r := range reqs {
		if !r.cancel {
			s.inflight++
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, r := range reqs {
		var err error
		if r.cancel {
			err = s.Cancel(ctx, r.cmd)
			if errors.Is(err, ErrNotScheduled) {
				// Finished before the request was served.
				err = nil
			}
		} else {
			err = s.Schedule(ctx, r.cmd)
			s.mu.Lock()
			s.inflight--
			s.mu.Unlock()
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) runPeriodic(ctx context.Context) {
	s.mu.RLock()
	subs := slices.Clone(s.registered)
	s.mu.RUnlock()

	for _, sub := range subs {
		if p, ok := sub.(command.Periodic); ok {
			p.Periodic(ctx)
		}
	}
}

func (s *Scheduler) scheduleDefaults(ctx context.Context) error {
	type pending struct {
		sub     command.Subsystem
		factory command.Factory
	}

	s.mu.RLock()
	var idle []pending
	for _, sub := range s.defaultOrder {
		if _, held := s.owners[sub]; !held {
			idle = append(idle, pending{sub: sub, factory: s.defaults[sub]})
		}
	}
	s.mu.RUnlock()

	var errs []error
	for _, p := range idle {
		if _, held := s.Owner(p.sub); held {
			// An earlier default in this pass took it.
			continue
		}
		cmd := p.factory.Build()
		if !cmd.Requires(p.sub) {
			s.logger.Warn("Default command does not require its subsystem, dropping it",
				"subsystem", p.sub.Name(), "command", cmd)
			s.SetDefault(p.sub, nil)
			continue
		}
		if err := s.Schedule(ctx, cmd); err != nil {
			errs = append(errs, fmt.Errorf("default command for %s: %w", p.sub.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) interrupt(ctx context.Context, cmd *command.Command, reason string) error {
	if err := cmd.Interrupt(ctx); err != nil {
		return err
	}
	metrics.CommandsFinishedTotal.WithLabelValues(metrics.OutcomeInterrupted, reason).Inc()
	return nil
}

func (s *Scheduler) forget(cmd *command.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(cmd)
}

// releaseLocked drops cmd from the registry and reports whether it was there.
func (s *Scheduler) releaseLocked(cmd *command.Command) bool {
	i := slices.Index(s.active, cmd)
	if i < 0 {
		return false
	}
	s.active = slices.Delete(s.active, i, i+1)
	for sub, owner := range s.owners {
		if owner == cmd {
			delete(s.owners, sub)
		}
	}
	return true
}
