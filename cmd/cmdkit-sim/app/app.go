package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"

	"github.com/autopeer-io/cmdkit/cmd/cmdkit-sim/app/options"
	"github.com/autopeer-io/cmdkit/internal/sim"
	"github.com/autopeer-io/cmdkit/pkg/log"
)

const envPrefix = "CMDKIT"

// NewSimCommand builds the cmdkit-sim root command. Settings come from flags,
// CMDKIT_* environment variables and an optional config file, in that order
// of precedence.
func NewSimCommand(ctx context.Context) *cobra.Command {
	opts := options.NewSimOptions()
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:          "cmdkit-sim",
		Short:        "Drive simulated robot routines through the command scheduler",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v, configFile, opts); err != nil {
				return err
			}
			if err := opts.Complete(); err != nil {
				return err
			}
			return opts.Validate()
		},
	}

	namedfs := opts.Flags()
	globalflag.AddGlobalFlags(namedfs.FlagSet("global"), cmd.Name())
	namedfs.FlagSet("global").StringVarP(&configFile, "config", "c", "", "Path to a YAML config file.")
	for _, f := range namedfs.FlagSets {
		cmd.PersistentFlags().AddFlagSet(f)
	}
	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedfs, cols)

	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(err)
	}

	cmd.AddCommand(
		newRunCommand(ctx, v, opts),
		newDescribeCommand(opts),
	)
	return cmd
}

func newRunCommand(ctx context.Context, v *viper.Viper, opts *options.SimOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Play the plan and print how each routine finished",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Init(opts.Log)
			defer log.Sync()

			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			s, err := cfg.NewSimulator()
			if err != nil {
				log.Error(err, "Failed to create simulator")
				return err
			}

			watchConfig(v, s)

			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(err, "Simulation failed")
				return err
			}

			printResults(cmd.OutOrStdout(), s.Results())
			return nil
		},
	}
}

func newDescribeCommand(opts *options.SimOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the plan without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printPlan(cmd.OutOrStdout(), opts.Plan)
			return nil
		},
	}
}

func loadConfig(v *viper.Viper, file string, opts *options.SimOptions) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// watchConfig reloads the config file, if one was read, whenever it changes.
func watchConfig(v *viper.Viper, s *sim.Simulator) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) { reload(v, s, e) })
	v.WatchConfig()
}

// reload applies the settings that can change without a restart: the log
// level and the scheduler period.
func reload(v *viper.Viper, s *sim.Simulator, e fsnotify.Event) {
	log.Info("Config file changed", "file", e.Name, "op", e.Op.String())

	if lvl := v.GetString("log.level"); lvl != "" && !log.SetLevel(lvl) {
		log.Warn("Ignoring invalid log level", "level", lvl)
	}
	if d := v.GetDuration("scheduler.period"); d > 0 {
		s.Scheduler().SetPeriod(d)
	}
}

func printResults(w io.Writer, results []sim.Result) {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("ROUTINE", "STATE", "RUN TIME", "TICKS")
	for _, r := range results {
		table.AddRow(r.Name, r.State, r.RunTime, r.Ticks)
	}
	fmt.Fprintln(w, table)
}

func printPlan(w io.Writer, plan []sim.RoutineSpec) {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("ROUTINE", "MODE", "REQUIRES", "START AT", "RUN FOR", "TIMEOUT")
	for _, r := range plan {
		mode := r.Mode
		if mode == "" {
			mode = sim.ModeTimed
		}
		table.AddRow(r.Name, mode, strings.Join(r.Requires, ","), r.StartAt, r.RunFor, r.Timeout)
	}
	fmt.Fprintln(w, table)
}
