package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgrid/fluxgrid/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func noopHandleCheckpoint(ctx context.Context, epoch uint64) error { return nil }

func fixedSnapshot(data string) SnapshotFunc {
	return func(ctx context.Context, watermark time.Time) ([]byte, error) {
		return []byte(data), nil
	}
}

func TestCoordinatorCompletesOnLastBarrier(t *testing.T) {
	store := newTestStore(t)
	c := NewCoordinator(2, store, nil, "job-1", 1, "op-a", 0)

	var broadcast []types.MessageFrame
	collect := func(f types.MessageFrame) { broadcast = append(broadcast, f) }

	err := c.HandleBarrier(context.Background(), 0, types.MessageFrame{Kind: types.MessageBarrier, Epoch: 1}, noopHandleCheckpoint, fixedSnapshot("state-1"), collect, time.Now())
	require.NoError(t, err)
	assert.Empty(t, broadcast, "barrier must not be broadcast until every input has aligned")

	err = c.HandleBarrier(context.Background(), 1, types.MessageFrame{Kind: types.MessageBarrier, Epoch: 1}, noopHandleCheckpoint, fixedSnapshot("state-1"), collect, time.Now())
	require.NoError(t, err)
	require.Len(t, broadcast, 1)
	assert.Equal(t, uint64(1), broadcast[0].Epoch)

	meta, ok, err := store.LatestFor("job-1", 1, "op-a", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("state-1"), meta.State)
}

func TestCoordinatorThenStopSignalsErrStopAfterBarrier(t *testing.T) {
	store := newTestStore(t)
	c := NewCoordinator(1, store, nil, "job-1", 1, "op-a", 0)

	err := c.HandleBarrier(context.Background(), 0, types.MessageFrame{Kind: types.MessageBarrier, Epoch: 1, ThenStop: true}, noopHandleCheckpoint, fixedSnapshot("final"), func(types.MessageFrame) {}, time.Now())

	require.ErrorIs(t, err, ErrStopAfterBarrier)
}

func TestCoordinatorRetirementCompletesEpoch(t *testing.T) {
	store := newTestStore(t)
	c := NewCoordinator(2, store, nil, "job-1", 1, "op-a", 0)

	err := c.HandleBarrier(context.Background(), 0, types.MessageFrame{Kind: types.MessageBarrier, Epoch: 1}, noopHandleCheckpoint, fixedSnapshot("state-1"), func(types.MessageFrame) {}, time.Now())
	require.NoError(t, err)
	assert.True(t, c.IsBlocked(0))

	var broadcast []types.MessageFrame
	err = c.HandleRetirement(context.Background(), 1, 1, noopHandleCheckpoint, fixedSnapshot("state-1"), func(f types.MessageFrame) { broadcast = append(broadcast, f) }, time.Now())

	require.NoError(t, err)
	require.Len(t, broadcast, 1)
	assert.True(t, c.AllClear())
}

func TestCoordinatorHandleCheckpointFailureStopsBeforeSnapshot(t *testing.T) {
	store := newTestStore(t)
	c := NewCoordinator(1, store, nil, "job-1", 1, "op-a", 0)

	failing := func(ctx context.Context, epoch uint64) error { return errors.New("boom") }
	called := false
	snapshot := func(ctx context.Context, watermark time.Time) ([]byte, error) {
		called = true
		return nil, nil
	}

	err := c.HandleBarrier(context.Background(), 0, types.MessageFrame{Kind: types.MessageBarrier, Epoch: 1}, failing, snapshot, func(types.MessageFrame) {}, time.Now())

	require.Error(t, err)
	assert.False(t, called, "snapshot must not run if handle_checkpoint fails")
	_, ok, err := store.LatestFor("job-1", 1, "op-a", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinatorLatestForTracksHighestEpochAcrossManyDigits(t *testing.T) {
	store := newTestStore(t)
	c := NewCoordinator(1, store, nil, "job-1", 1, "op-a", 0)

	for epoch := uint64(1); epoch <= 11; epoch++ {
		err := c.HandleBarrier(context.Background(), 0, types.MessageFrame{Kind: types.MessageBarrier, Epoch: epoch}, noopHandleCheckpoint, fixedSnapshot("s"), func(types.MessageFrame) {}, time.Now())
		require.NoError(t, err)
	}

	meta, ok, err := store.LatestFor("job-1", 1, "op-a", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(11), meta.Epoch)
}
