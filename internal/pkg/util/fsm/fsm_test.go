package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
	"github.com/stretchr/testify/require"
)

func TestWrapEventSurfacesCallbackError(t *testing.T) {
	boom := errors.New("boom")
	m := fsm.NewFSM("idle",
		fsm.Events{{Name: "go", Src: []string{"idle"}, Dst: "busy"}},
		fsm.Callbacks{
			"enter_busy": WrapEvent(func(ctx context.Context, e *fsm.Event) error { return boom }),
		},
	)

	err := m.Event(context.Background(), "go")
	require.ErrorIs(t, err, boom)
	require.False(t, IsRejected(err))
	require.Equal(t, "busy", m.Current())
}

func TestIsRejected(t *testing.T) {
	var entered int
	m := fsm.NewFSM("idle",
		fsm.Events{{Name: "go", Src: []string{"idle"}, Dst: "busy"}},
		fsm.Callbacks{
			"enter_busy": Notify(func(ctx context.Context, e *fsm.Event) { entered++ }),
		},
	)

	require.NoError(t, m.Event(context.Background(), "go"))
	require.Equal(t, 1, entered)

	err := m.Event(context.Background(), "go")
	require.Error(t, err)
	require.True(t, IsRejected(err))

	require.True(t, IsRejected(m.Event(context.Background(), "missing")))
	require.Equal(t, 1, entered)
}
