package scheduler

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/cmdkit/pkg/log"
)

// DefaultPeriod matches the 50Hz robot control loop.
const DefaultPeriod = 20 * time.Millisecond

type Option func(*Scheduler)

// WithPeriod sets the interval between ticks used by Run. Non-positive
// values are ignored.
func WithPeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.period.Store(int64(d))
		}
	}
}

func WithLogger(l log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock sets the clock driving Run's ticker.
func WithClock(c clock.WithTicker) Option {
	return func(s *Scheduler) { s.clock = c }
}
