package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for CommandsFinishedTotal.
const (
	OutcomeEnded       = "ended"
	OutcomeInterrupted = "interrupted"
)

// Reason labels for interrupts.
const (
	ReasonConflict = "conflict"
	ReasonCancel   = "cancel"
	ReasonFailure  = "failure"
	ReasonShutdown = "shutdown"
)

var (
	// CommandsScheduledTotal counts commands accepted by the scheduler.
	CommandsScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cmdkit_commands_scheduled_total",
			Help: "Total number of commands started by the scheduler.",
		},
	)

	// CommandsFinishedTotal counts terminal transitions.
	CommandsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmdkit_commands_finished_total",
			Help: "Total number of commands that reached a terminal state.",
		},
		[]string{"outcome", "reason"}, // reason is empty for ended commands
	)

	// SubsystemConflictsTotal counts preemptions caused by overlapping requirements.
	SubsystemConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmdkit_subsystem_conflicts_total",
			Help: "Total number of running commands preempted for a subsystem.",
		},
		[]string{"subsystem"},
	)

	// ActiveCommands is the number of running commands after the last change.
	ActiveCommands = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cmdkit_active_commands",
			Help: "Number of commands currently running.",
		},
	)

	// StepDuration observes the wall time of one scheduler step.
	StepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cmdkit_step_duration_seconds",
			Help:    "Wall time spent ticking every active command once.",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .02, .05},
		},
	)
)

// Collectors returns every collector defined by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CommandsScheduledTotal,
		CommandsFinishedTotal,
		SubsystemConflictsTotal,
		ActiveCommands,
		StepDuration,
	}
}

// Register adds the collectors to reg. Collectors already registered on reg
// are skipped so that repeated calls are harmless.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
