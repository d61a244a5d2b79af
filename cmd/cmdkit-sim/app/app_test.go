package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/autopeer-io/cmdkit/cmd/cmdkit-sim/app/options"
	"github.com/autopeer-io/cmdkit/internal/sim"
	"github.com/autopeer-io/cmdkit/pkg/log"
	genericoptions "github.com/autopeer-io/cmdkit/pkg/options"
)

const testConfig = `
log:
  level: error
  output-paths: [stderr]
scheduler:
  period: 5ms
plan:
  - name: drive
    mode: timed
    requires: [drivetrain]
    run-for: 60ms
  - name: turn
    mode: once
    requires: [drivetrain]
    start-at: 20ms
  - name: intake
    mode: hold
    requires: [intake]
    timeout: 30ms
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := NewSimCommand(ctx)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDescribePrintsConfiguredPlan(t *testing.T) {
	out, err := execute(t, "describe", "--config", writeConfig(t, testConfig))
	require.NoError(t, err)
	require.Contains(t, out, "ROUTINE")
	for _, name := range []string{"drive", "turn", "intake", "drivetrain"} {
		require.Contains(t, out, name)
	}
}

func TestDescribeFallsBackToDefaultPlan(t *testing.T) {
	out, err := execute(t, "describe")
	require.NoError(t, err)
	require.Contains(t, out, "drive-forward")
	require.Contains(t, out, "raise-arm")
}

func TestRunPrintsResults(t *testing.T) {
	out, err := execute(t, "run", "--config", writeConfig(t, testConfig))
	require.NoError(t, err)
	require.Contains(t, out, "STATE")
	require.Contains(t, out, "interrupted") // drive is preempted by turn
	require.Contains(t, out, "ended")
}

func TestInvalidPlanIsRejected(t *testing.T) {
	bad := `
plan:
  - name: spin
    mode: hold
`
	_, err := execute(t, "describe", "--config", writeConfig(t, bad))
	require.ErrorContains(t, err, "positive timeout")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "describe", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("CMDKIT_SCHEDULER_PERIOD", "7ms")
	t.Setenv("CMDKIT_LOG_LEVEL", "debug")

	opts := options.NewSimOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	for _, f := range opts.Flags().FlagSets {
		fs.AddFlagSet(f)
	}
	v := viper.New()
	require.NoError(t, v.BindPFlags(fs))

	require.NoError(t, loadConfig(v, "", opts))
	require.Equal(t, 7*time.Millisecond, opts.SchedulerOptions.Period)
	require.Equal(t, "debug", opts.Log.Level)
}

func newTestSimulator(t *testing.T, v *viper.Viper, file string) *sim.Simulator {
	t.Helper()
	opts := options.NewSimOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	for _, f := range opts.Flags().FlagSets {
		fs.AddFlagSet(f)
	}
	require.NoError(t, v.BindPFlags(fs))
	require.NoError(t, loadConfig(v, file, opts))
	require.NoError(t, opts.Complete())

	cfg, err := opts.Config()
	require.NoError(t, err)
	s, err := cfg.NewSimulator()
	require.NoError(t, err)
	return s
}

func restoreLogLevel(t *testing.T) {
	prev := log.Level()
	t.Cleanup(func() { log.SetLevel(prev.String()) })
}

func TestReloadAppliesLevelAndPeriod(t *testing.T) {
	restoreLogLevel(t)
	v := viper.New()
	s := newTestSimulator(t, v, "")
	require.Equal(t, genericoptions.NewSchedulerOptions().Period, s.Scheduler().Period())

	v.Set("log.level", "debug")
	v.Set("scheduler.period", "35ms")
	reload(v, s, fsnotify.Event{Name: "sim.yaml", Op: fsnotify.Write})
	require.Equal(t, 35*time.Millisecond, s.Scheduler().Period())
	require.Equal(t, zapcore.DebugLevel, log.Level())

	// Bad values leave the running settings alone.
	v.Set("log.level", "loud")
	v.Set("scheduler.period", "-1s")
	reload(v, s, fsnotify.Event{Name: "sim.yaml", Op: fsnotify.Write})
	require.Equal(t, 35*time.Millisecond, s.Scheduler().Period())
	require.Equal(t, zapcore.DebugLevel, log.Level())
}

func TestConfigFileChangesAreWatched(t *testing.T) {
	restoreLogLevel(t)
	path := writeConfig(t, "log:\n  level: info\nscheduler:\n  period: 10ms\n")
	v := viper.New()
	s := newTestSimulator(t, v, path)
	require.Equal(t, 10*time.Millisecond, s.Scheduler().Period())

	watchConfig(v, s)
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\nscheduler:\n  period: 25ms\n"), 0o600))

	require.Eventually(t, func() bool {
		return s.Scheduler().Period() == 25*time.Millisecond && log.Level() == zapcore.WarnLevel
	}, 5*time.Second, 10*time.Millisecond)
}
