package sim

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/cmdkit/pkg/command"
	"github.com/autopeer-io/cmdkit/pkg/log"
	"github.com/autopeer-io/cmdkit/pkg/scheduler"
)

// Result is the terminal record of one routine.
type Result struct {
	Name    string
	State   command.State
	RunTime time.Duration
	Ticks   int
}

type Simulator struct {
	plan       []RoutineSpec
	serve      bool
	clock      clock.WithTicker
	logger     log.Logger
	scheduler  *scheduler.Scheduler
	subsystems *Subsystems
	server     *Server

	mu      sync.Mutex
	results map[string]Result
}

// Scheduler exposes the underlying scheduler, e.g. for config reloads.
func (s *Simulator) Scheduler() *scheduler.Scheduler { return s.scheduler }

// Run plays the plan. Without Serve it returns once every routine finished;
// otherwise it runs until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.scheduler.Run(ctx)
	})

	if s.server != nil {
		g.Go(func() error {
			return s.server.Start(ctx)
		})
	}

	g.Go(func() error {
		if err := s.launch(ctx); err != nil {
			return err
		}
		if s.serve {
			return nil
		}
		s.waitDrained(ctx)
		s.logger.Info("Plan drained, stopping")
		cancel()
		return nil
	})

	s.logger.Info("Simulation starting", "routines", len(s.plan), "period", s.scheduler.Period())
	return g.Wait()
}

// launch submits every routine at its start offset, in offset order.
func (s *Simulator) launch(ctx context.Context) error {
	plan := slices.Clone(s.plan)
	slices.SortStableFunc(plan, func(a, b RoutineSpec) int {
		return cmp.Compare(a.StartAt, b.StartAt)
	})

	start := s.clock.Now()
	for _, r := range plan {
		if wait := r.StartAt - s.clock.Since(start); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-s.clock.After(wait):
			}
		}
		cmd := s.record(r.Builder(s.subsystems, s.clock, s.logger)).Build()
		s.logger.Info("Submitting routine", "routine", r.Name, "requires", r.Requires)
		s.scheduler.Submit(cmd)
	}
	return nil
}

func (s *Simulator) waitDrained(ctx context.Context) {
	ticker := s.clock.NewTicker(s.scheduler.Period())
	defer ticker.Stop()
	for s.scheduler.HasCommands() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

func (s *Simulator) record(b *command.Builder) *command.Builder {
	store := func(c *command.Command) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.results[c.Name()] = Result{Name: c.Name(), State: c.State(), RunTime: c.RunTime(), Ticks: c.Ticks()}
	}
	return b.AtEnd(store).OnInterrupt(store)
}

// Results returns the recorded outcomes in plan order. Routines that never
// finished are absent.
func (s *Simulator) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, 0, len(s.results))
	for _, r := range s.plan {
		if res, ok := s.results[r.Name]; ok {
			out = append(out, res)
		}
	}
	return out
}
