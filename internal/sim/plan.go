package sim

import (
	"context"
	"fmt"
	"slices"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/cmdkit/pkg/command"
	"github.com/autopeer-io/cmdkit/pkg/log"
)

// Routine modes.
const (
	// ModeTimed runs for RunFor.
	ModeTimed = "timed"
	// ModeOnce runs a single tick.
	ModeOnce = "once"
	// ModeHold runs until preempted or timed out.
	ModeHold = "hold"
)

// RoutineSpec describes one simulated command in the plan.
type RoutineSpec struct {
	Name     string        `json:"name" mapstructure:"name"`
	Mode     string        `json:"mode" mapstructure:"mode"`
	Requires []string      `json:"requires" mapstructure:"requires"`
	RunFor   time.Duration `json:"run-for" mapstructure:"run-for"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
	StartAt  time.Duration `json:"start-at" mapstructure:"start-at"`
}

// DefaultPlan drives forward, lets a turn preempt the drive, and runs the
// intake alongside.
func DefaultPlan() []RoutineSpec {
	return []RoutineSpec{
		{Name: "drive-forward", Mode: ModeTimed, Requires: []string{"drivetrain"}, RunFor: 2 * time.Second},
		{Name: "spin-intake", Mode: ModeHold, Requires: []string{"intake"}, Timeout: 1500 * time.Millisecond, StartAt: 250 * time.Millisecond},
		{Name: "turn-left", Mode: ModeTimed, Requires: []string{"drivetrain"}, RunFor: 500 * time.Millisecond, StartAt: time.Second},
		{Name: "raise-arm", Mode: ModeOnce, Requires: []string{"arm"}, StartAt: 1200 * time.Millisecond},
	}
}

// ValidatePlan reports every malformed routine.
func ValidatePlan(plan []RoutineSpec) []error {
	var errs []error
	seen := map[string]bool{}
	for i, r := range plan {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("routine %d: name is required", i))
		} else if seen[r.Name] {
			errs = append(errs, fmt.Errorf("routine %q: duplicate name", r.Name))
		}
		seen[r.Name] = true

		switch r.Mode {
		case "", ModeTimed:
			if r.RunFor <= 0 {
				errs = append(errs, fmt.Errorf("routine %q: timed routine needs a positive run-for", r.Name))
			}
		case ModeOnce:
		case ModeHold:
			if r.Timeout <= 0 {
				errs = append(errs, fmt.Errorf("routine %q: hold routine needs a positive timeout", r.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("routine %q: unknown mode %q", r.Name, r.Mode))
		}
		if r.StartAt < 0 {
			errs = append(errs, fmt.Errorf("routine %q: start-at must not be negative", r.Name))
		}
	}
	return errs
}

// Subsystems hands out one Resource per name so that routines naming the
// same subsystem conflict.
type Subsystems struct {
	byName map[string]*command.Resource
}

func NewSubsystems() *Subsystems {
	return &Subsystems{byName: map[string]*command.Resource{}}
}

func (s *Subsystems) Get(name string) *command.Resource {
	r, ok := s.byName[name]
	if !ok {
		r = command.NewResource(name)
		s.byName[name] = r
	}
	return r
}

// Names returns the known subsystem names, sorted.
func (s *Subsystems) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Builder turns a routine into a command builder whose action logs its
// progress instead of driving hardware. Run time is measured on clk; nil
// means the real clock.
func (r RoutineSpec) Builder(subs *Subsystems, clk clock.PassiveClock, logger log.Logger) *command.Builder {
	b := command.NewBuilder(command.WithClock(clk), command.WithLogger(logger))
	switch r.Mode {
	case ModeOnce:
		b.RunWhileFunc(func(c *command.Command) bool { return c.Ticks() < 1 })
	case ModeHold:
		b.RunWhile(command.Always())
	default:
		b.RunForTime(r.RunFor)
	}

	for _, name := range r.Requires {
		b.Require(subs.Get(name))
	}

	return b.Named(r.Name).
		WithTimeout(r.Timeout).
		TaskFunc(func(ctx context.Context, c *command.Command) error {
			logger.Debug("Routine tick", "routine", r.Name, "tick", c.Ticks(), "runTime", c.RunTime())
			return nil
		})
}
