package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/cmdkit/internal/sim"
	"github.com/autopeer-io/cmdkit/pkg/log"
	"github.com/autopeer-io/cmdkit/pkg/options"
)

type SimOptions struct {
	SchedulerOptions *options.SchedulerOptions `json:"scheduler" mapstructure:"scheduler"`
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	Log              *log.Options              `json:"log" mapstructure:"log"`
	Plan             []sim.RoutineSpec         `json:"plan" mapstructure:"plan"`
	Serve            bool                      `json:"serve" mapstructure:"serve"`
}

func NewSimOptions() *SimOptions {
	return &SimOptions{
		SchedulerOptions: options.NewSchedulerOptions(),
		HttpOptions:      options.NewHttpOptions(),
		Log:              log.NewOptions(),
	}
}

func (o *SimOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("Simulation")
	fs.BoolVar(&o.Serve, "serve", o.Serve, "Keep running after the plan drains, e.g. to scrape metrics.")

	o.SchedulerOptions.AddFlags(fss.FlagSet("Scheduler"))
	o.HttpOptions.AddFlags(fss.FlagSet("HTTP"))
	o.Log.AddFlags(fss.FlagSet("Log"))

	return fss
}

// Complete fills in the built-in plan when the configuration has none.
func (o *SimOptions) Complete() error {
	if len(o.Plan) == 0 {
		o.Plan = sim.DefaultPlan()
	}
	return nil
}

func (o *SimOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.SchedulerOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	errs = append(errs, sim.ValidatePlan(o.Plan)...)
	return utilerrors.NewAggregate(errs)
}

func (o *SimOptions) Config() (*sim.Config, error) {
	return &sim.Config{
		SchedulerOptions: o.SchedulerOptions,
		HttpOptions:      o.HttpOptions,
		Plan:             o.Plan,
		Serve:            o.Serve,
	}, nil
}
