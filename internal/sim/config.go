package sim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/cmdkit/internal/pkg/metrics"
	"github.com/autopeer-io/cmdkit/pkg/log"
	"github.com/autopeer-io/cmdkit/pkg/options"
	"github.com/autopeer-io/cmdkit/pkg/scheduler"
)

type Config struct {
	SchedulerOptions *options.SchedulerOptions
	HttpOptions      *options.HttpOptions
	Plan             []RoutineSpec
	// Serve keeps the process alive after the plan drains.
	Serve bool

	// Clock drives start offsets, scheduler ticks and command run times.
	// Defaults to the real clock.
	Clock clock.WithTicker
}

// NewSimulator wires the scheduler, the metrics registry and, when enabled,
// the status server.
func (cfg *Config) NewSimulator() (*Simulator, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	logger := log.WithName("sim")

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sched := scheduler.New(
		scheduler.WithPeriod(cfg.SchedulerOptions.Period),
		scheduler.WithLogger(log.WithName("scheduler")),
		scheduler.WithClock(clk),
	)

	sim := &Simulator{
		plan:       cfg.Plan,
		serve:      cfg.Serve,
		clock:      clk,
		logger:     logger,
		scheduler:  sched,
		subsystems: NewSubsystems(),
		results:    map[string]Result{},
	}

	if cfg.HttpOptions != nil && cfg.HttpOptions.Enabled {
		sim.server = NewServer(cfg.HttpOptions, sched, reg)
	}

	return sim, nil
}
