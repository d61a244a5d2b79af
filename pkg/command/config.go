package command

import (
	"slices"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/cmdkit/pkg/log"
)

const defaultName = "command"

// Config is the full description of a command. Zero fields fall back to the
// safe defaults: a no-op action, a continuation that never runs, no timeout,
// no requirements, no-op callbacks, the real clock and the global logger.
type Config struct {
	Name         string
	Action       Action
	Continuation Continuation
	// Timeout stops the command once its run time reaches it, whatever the
	// continuation says. Zero or negative means no timeout.
	Timeout     time.Duration
	Requires    Requirements
	OnEnd       Callback
	OnInterrupt Callback

	Clock  clock.PassiveClock
	Logger log.Logger
}

// New builds a command from cfg. The command keeps its own copy of the
// requirement list.
func New(cfg Config) *Command {
	return newCommand(cfg.normalize())
}

func (cfg Config) normalize() Config {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.Action == nil {
		cfg.Action = Noop
	}
	if cfg.Continuation == nil {
		cfg.Continuation = Never()
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	cfg.Requires = slices.Clone(cfg.Requires)
	if cfg.OnEnd == nil {
		cfg.OnEnd = noopCallback
	}
	if cfg.OnInterrupt == nil {
		cfg.OnInterrupt = noopCallback
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Std()
	}
	return cfg
}
