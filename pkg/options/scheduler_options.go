package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SchedulerOptions)(nil)

// SchedulerOptions configures the reference tick loop.
type SchedulerOptions struct {
	// Period between two ticks. The robot control loop runs at 50Hz.
	Period time.Duration `json:"period" mapstructure:"period"`
}

func NewSchedulerOptions() *SchedulerOptions {
	return &SchedulerOptions{
		Period: 20 * time.Millisecond,
	}
}

func (o *SchedulerOptions) Validate() []error {
	if o == nil {
		return nil
	}
	if o.Period <= 0 {
		return []error{fmt.Errorf("scheduler period must be positive, got %s", o.Period)}
	}
	return nil
}

func (o *SchedulerOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Period, prefixed("scheduler.period", prefixes), o.Period, "Interval between two scheduler ticks.")
}
