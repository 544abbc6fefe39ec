package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/docqueue/types"
)

func TestNewNop(t *testing.T) {
	hooks := NewNop()

	require.NotNil(t, hooks.OnJobStateChanged)
	require.NotNil(t, hooks.OnError)
}

func TestNopHooks_OnJobStateChanged(t *testing.T) {
	hooks := NewNop()

	err := hooks.OnJobStateChanged(t.Context(), "b1", types.JobProcessing, types.JobPublishing)
	require.NoError(t, err)
}

func TestNopHooks_OnError(t *testing.T) {
	hooks := NewNop()

	err := hooks.OnError(t.Context(), "b1", context.Canceled)
	require.NoError(t, err)
}

func TestFill(t *testing.T) {
	var seen []types.JobState
	h := Fill(types.Hooks{
		OnJobStateChanged: func(_ context.Context, _ string, _, to types.JobState) error {
			seen = append(seen, to)
			return nil
		},
	})

	require.NotNil(t, h.OnError)
	require.NoError(t, h.OnError(t.Context(), "b1", context.Canceled))
	require.NoError(t, h.OnJobStateChanged(t.Context(), "b1", types.JobFetched, types.JobHeartbeating))
	require.Equal(t, []types.JobState{types.JobHeartbeating}, seen)
}
