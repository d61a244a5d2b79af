package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/cmdkit/pkg/log"
)

func newFakeClock() *testingclock.FakeClock {
	return testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func mustStart(t *testing.T, c *Command) {
	t.Helper()
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, StateRunning, c.State())
}

func TestDefaultCommandNeverRuns(t *testing.T) {
	for name, c := range map[string]*Command{
		"builder": Create().Build(),
		"config":  New(Config{}),
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, StateCreated, c.State())
			require.Equal(t, "command", c.Name())
			require.Zero(t, c.Timeout())
			require.Empty(t, c.Requirements())

			ok, err := c.ShouldContinue()
			require.NoError(t, err)
			require.False(t, ok)

			mustStart(t, c)
			st, err := c.Tick(context.Background())
			require.NoError(t, err)
			require.Equal(t, StateEnded, st)
			require.Zero(t, c.Ticks())
		})
	}
}

func TestDefaultActionAndCallbacksAreNoops(t *testing.T) {
	c := Create().RunWhile(Always()).Build()
	mustStart(t, c)

	require.NoError(t, c.Execute(context.Background()))
	require.Equal(t, 1, c.Ticks())
	require.NoError(t, c.Interrupt(context.Background()))
	require.Equal(t, StateInterrupted, c.State())
}

func TestRunForTime(t *testing.T) {
	clk := newFakeClock()
	c := NewBuilder(WithClock(clk)).RunForTime(1000 * time.Millisecond).Build()
	mustStart(t, c)

	clk.Step(999 * time.Millisecond)
	ok, err := c.ShouldContinue()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 999, c.RunTimeMillis())

	clk.Step(time.Millisecond)
	ok, err = c.ShouldContinue()
	require.NoError(t, err)
	require.False(t, ok)

	clk.Step(time.Second)
	ok, _ = c.ShouldContinue()
	require.False(t, ok)
}

func TestRunForTimeNonPositiveNeverRuns(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		c := Create().RunForTime(d).Build()
		mustStart(t, c)
		st, err := c.Tick(context.Background())
		require.NoError(t, err)
		require.Equal(t, StateEnded, st)
	}
}

func TestTimeoutCapsContinuation(t *testing.T) {
	clk := newFakeClock()
	var ticks int
	c := NewBuilder(WithClock(clk)).
		TaskFunc(func(context.Context, *Command) error { ticks++; return nil }).
		RunWhile(Always()).
		WithTimeout(500 * time.Millisecond).
		Build()
	mustStart(t, c)

	for i := 0; i < 5; i++ {
		st, err := c.Tick(context.Background())
		require.NoError(t, err)
		require.Equal(t, StateRunning, st)
		clk.Step(100 * time.Millisecond)
	}
	require.Equal(t, 5, ticks)

	st, err := c.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateEnded, st)
	require.Equal(t, 5, ticks)
	require.Equal(t, 500*time.Millisecond, c.RunTime())
}

func TestNegativeTimeoutMeansNoTimeout(t *testing.T) {
	clk := newFakeClock()
	c := NewBuilder(WithClock(clk)).RunWhile(Always()).WithTimeout(-time.Second).Build()
	require.Zero(t, c.Timeout())
	mustStart(t, c)

	clk.Step(time.Hour)
	ok, err := c.ShouldContinue()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRequireAccumulates(t *testing.T) {
	a, b, cc, d := NewResource("a"), NewResource("b"), NewResource("c"), NewResource("d")

	cmd := Create().Require(a).Require(b, cc).Build()
	reqs := cmd.Requirements()

	require.ElementsMatch(t, Requirements{a, b, cc}, reqs)
	require.True(t, cmd.Requires(b))
	require.False(t, cmd.Requires(d))
	require.True(t, reqs.Overlaps(Requirements{d, cc}))
	require.False(t, reqs.Overlaps(Requirements{d}))
	require.Equal(t, Requirements{cc}, reqs.Shared(Requirements{cc, d}))
}

func TestRequireKeepsDuplicatesButUniqueDedupes(t *testing.T) {
	a, b := NewResource("a"), NewResource("b")
	reqs := Create().Require(a, b, a, nil).Build().Requirements()

	require.Len(t, reqs, 3)
	require.Equal(t, Requirements{a, b}, reqs.Unique())
	require.Equal(t, []string{"a", "b", "a"}, reqs.Names())
}

func TestResourcesCompareByIdentity(t *testing.T) {
	first, second := NewResource("arm"), NewResource("arm")
	reqs := Requirements{first}
	require.True(t, reqs.Contains(first))
	require.False(t, reqs.Contains(second))
}

func TestExactlyOneTerminalCallback(t *testing.T) {
	tests := []struct {
		name        string
		finish      func(*Command, context.Context) error
		other       func(*Command, context.Context) error
		wantState   State
		wantEnd     int
		wantInterru int
	}{
		{"end", (*Command).End, (*Command).Interrupt, StateEnded, 1, 0},
		{"interrupt", (*Command).Interrupt, (*Command).End, StateInterrupted, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ends, interrupts int
			c := Create().
				RunWhile(Always()).
				AtEnd(func(*Command) { ends++ }).
				OnInterrupt(func(*Command) { interrupts++ }).
				Build()
			mustStart(t, c)

			ctx := context.Background()
			require.NoError(t, tt.finish(c, ctx))
			require.Equal(t, tt.wantState, c.State())
			require.True(t, c.IsFinished())

			err := tt.other(c, ctx)
			require.ErrorIs(t, err, ErrInvalidState)
			err = tt.finish(c, ctx)
			require.ErrorIs(t, err, ErrInvalidState)

			require.Equal(t, tt.wantEnd, ends)
			require.Equal(t, tt.wantInterru, interrupts)
			require.Equal(t, tt.wantState, c.State())
		})
	}
}

func TestInvalidSequencingIsRejected(t *testing.T) {
	ctx := context.Background()
	c := Create().RunWhile(Always()).Build()

	_, err := c.Tick(ctx)
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, c.Execute(ctx), ErrInvalidState)
	require.ErrorIs(t, c.End(ctx), ErrInvalidState)
	require.ErrorIs(t, c.Interrupt(ctx), ErrInvalidState)

	mustStart(t, c)
	err = c.Start(ctx)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, EventStart, stateErr.Op)
	require.Equal(t, StateRunning, stateErr.State)

	require.NoError(t, c.End(ctx))

	st, err := c.Tick(ctx)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, StateEnded, st)
	require.ErrorIs(t, c.Execute(ctx), ErrInvalidState)
	_, err = c.ShouldContinue()
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, c.Start(ctx), ErrInvalidState)
}

func TestActionErrorPropagates(t *testing.T) {
	boom := errors.New("motor stalled")
	c := Create().
		TaskFunc(func(context.Context, *Command) error { return boom }).
		RunWhile(Always()).
		Build()
	mustStart(t, c)

	st, err := c.Tick(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateRunning, st)
	require.Equal(t, 1, c.Ticks())
}

func TestBuildSnapshotsConfiguration(t *testing.T) {
	clk := newFakeClock()
	a, b := NewResource("a"), NewResource("b")
	var ends []string

	builder := NewBuilder(WithClock(clk)).
		Named("first").
		RunForTime(time.Second).
		Require(a).
		AtEnd(func(*Command) { ends = append(ends, "first") })

	first := builder.Build()
	second := builder.Build()

	builder.Named("later").
		Require(b).
		RunWhile(Always()).
		AtEnd(func(*Command) { ends = append(ends, "later") })

	require.Equal(t, "first", first.Name())
	require.Equal(t, Requirements{a}, first.Requirements())
	require.NotEqual(t, first.ID(), second.ID())

	mustStart(t, first)
	clk.Step(600 * time.Millisecond)
	mustStart(t, second)
	clk.Step(600 * time.Millisecond)

	require.Equal(t, 1200*time.Millisecond, first.RunTime())
	require.Equal(t, 600*time.Millisecond, second.RunTime())

	st, err := first.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateEnded, st)

	st, err = second.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateRunning, st)
	require.Equal(t, StateCreated, builder.Build().State())
	require.Equal(t, []string{"first"}, ends)
}

func TestLastContinuationWins(t *testing.T) {
	clk := newFakeClock()
	var calls int
	p := ContinuationFunc(func(*Command) bool { calls++; return true })

	c := NewBuilder(WithClock(clk)).RunForTime(100 * time.Millisecond).RunWhile(p).Build()
	mustStart(t, c)
	clk.Step(time.Second)

	ok, err := c.ShouldContinue()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, calls)

	c = NewBuilder(WithClock(clk)).RunWhile(Always()).RunForTime(100 * time.Millisecond).Build()
	mustStart(t, c)
	clk.Step(time.Second)
	ok, _ = c.ShouldContinue()
	require.False(t, ok)
}

func TestNilBehavioursFallBackToDefaults(t *testing.T) {
	c := Create().
		Task(nil).
		TaskFunc(nil).
		RunWhile(Always()).
		RunWhileFunc(nil).
		AtEnd(nil).
		OnInterrupt(nil).
		Build()
	mustStart(t, c)

	st, err := c.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateEnded, st)
}

func TestCallbacksSeeFrozenRunTime(t *testing.T) {
	clk := newFakeClock()
	var seen time.Duration
	var seenState State
	c := NewBuilder(WithClock(clk)).
		RunWhile(Always()).
		OnInterrupt(func(c *Command) {
			seen = c.RunTime()
			seenState = c.State()
		}).
		Build()
	mustStart(t, c)

	clk.Step(250 * time.Millisecond)
	require.NoError(t, c.Interrupt(context.Background()))
	clk.Step(time.Second)

	require.Equal(t, 250*time.Millisecond, seen)
	require.Equal(t, StateInterrupted, seenState)
	require.Equal(t, 250*time.Millisecond, c.RunTime())
}

func TestCancelledContextStillTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var interrupted bool
	c := Create().RunWhile(Always()).OnInterrupt(func(*Command) { interrupted = true }).Build()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Interrupt(ctx))
	require.True(t, interrupted)
}

func TestLifecycleIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := NewBuilder(WithLogger(log.FromZap(zap.New(core)))).
		Named("intake").
		Require(NewResource("roller")).
		Build()

	mustStart(t, c)
	_, err := c.Tick(context.Background())
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "Command started", entries[0].Message)
	require.Equal(t, "intake", entries[0].ContextMap()["command"])
	require.Equal(t, "Command ended", entries[1].Message)
}

func TestMarshalLogObject(t *testing.T) {
	enc := zapcore.NewMapObjectEncoder()
	c := Create().Named("arm").Require(NewResource("shoulder")).WithTimeout(time.Second).Build()

	require.NoError(t, c.MarshalLogObject(enc))
	require.Equal(t, "arm", enc.Fields["name"])
	require.Equal(t, "created", enc.Fields["state"])
	require.Equal(t, time.Second, enc.Fields["timeout"])
	require.Equal(t, []any{"shoulder"}, enc.Fields["requires"])
	require.Equal(t, "arm#", c.String()[:4])
}

func TestBuilderConfigIsACopy(t *testing.T) {
	drive, arm := NewResource("drive"), NewResource("arm")
	b := NewBuilder(WithName("lift")).WithTimeout(time.Second).Require(drive)

	cfg := b.Config()
	require.Equal(t, "lift", cfg.Name)
	require.Equal(t, time.Second, cfg.Timeout)
	require.Equal(t, Requirements{drive}, cfg.Requires)

	cfg.Requires[0] = arm
	cfg.Name = "other"
	c := b.Build()
	require.Equal(t, "lift", c.Name())
	require.True(t, c.Requires(drive))
	require.False(t, c.Requires(arm))
}
