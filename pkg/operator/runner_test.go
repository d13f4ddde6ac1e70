package operator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxgrid/fluxgrid/pkg/checkpoint"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

const testTimeout = 2 * time.Second

func recv(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func TestRunnerSingleInputProcessesRecordsAndStops(t *testing.T) {
	in := make(chan Frame, 4)
	processed := make(chan string, 4)
	broadcast := make(chan types.MessageFrame, 4)

	cfg := Config{
		Context: Context{OperatorID: "op-a", OperatorName: "map", TaskIndex: 0, InPartitions: 1, NumLogicalInputs: 1},
		Methods: Methods{
			ProcessElement: func(ctx context.Context, frame types.MessageFrame) error {
				processed <- string(frame.Value)
				return nil
			},
		},
		Partitions: []*Partition{NewPartition(0, 0, in)},
		Control:    make(chan []byte),
		Broadcast:  func(f types.MessageFrame) { broadcast <- f },
	}
	r := NewRunner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	in <- Frame{Native: &types.MessageFrame{Kind: types.MessageRecord, Value: []byte("r1")}}
	recv(t, processed, "r1")

	in <- Frame{Native: &types.MessageFrame{Kind: types.MessageEndOfData}}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("runner did not stop after EndOfData on its only input")
	}

	select {
	case f := <-broadcast:
		require.Equal(t, types.MessageEndOfData, f.Kind)
	default:
		t.Fatal("expected EndOfData to be broadcast downstream")
	}
}

func TestRunnerAlignedBarrierBlocksFastInputUntilSlowInputCatchesUp(t *testing.T) {
	left := make(chan Frame, 4)
	right := make(chan Frame, 4)
	processed := make(chan string, 8)
	broadcast := make(chan types.MessageFrame, 8)

	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	coordinator := checkpoint.NewCoordinator(2, store, nil, "job-1", 1, "op-a", 0)

	cfg := Config{
		Context: Context{OperatorID: "op-a", OperatorName: "join", TaskIndex: 0, InPartitions: 2, NumLogicalInputs: 2},
		Methods: Methods{
			ProcessLeft: func(ctx context.Context, frame types.MessageFrame) error {
				processed <- "left:" + string(frame.Value)
				return nil
			},
			ProcessRight: func(ctx context.Context, frame types.MessageFrame) error {
				processed <- "right:" + string(frame.Value)
				return nil
			},
			HandleCheckpoint: func(ctx context.Context, epoch uint64) error {
				processed <- "checkpoint"
				return nil
			},
		},
		Partitions:  []*Partition{NewPartition(0, 0, left), NewPartition(1, 1, right)},
		Control:     make(chan []byte),
		Broadcast:   func(f types.MessageFrame) { broadcast <- f },
		Coordinator: coordinator,
		Snapshot: func(ctx context.Context, watermark time.Time) ([]byte, error) {
			return []byte("state"), nil
		},
	}
	r := NewRunner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	left <- Frame{Native: &types.MessageFrame{Kind: types.MessageRecord, Value: []byte("r1")}}
	recv(t, processed, "left:r1")

	left <- Frame{Native: &types.MessageFrame{Kind: types.MessageRecord, Value: []byte("r2")}}
	recv(t, processed, "left:r2")

	left <- Frame{Native: &types.MessageFrame{Kind: types.MessageBarrier, Epoch: 1}}
	// r3 arrives on the now-blocked left partition; it must not be
	// processed until the right partition contributes its own barrier.
	left <- Frame{Native: &types.MessageFrame{Kind: types.MessageRecord, Value: []byte("r3")}}

	right <- Frame{Native: &types.MessageFrame{Kind: types.MessageRecord, Value: []byte("r4")}}
	recv(t, processed, "right:r4")

	right <- Frame{Native: &types.MessageFrame{Kind: types.MessageRecord, Value: []byte("r5")}}
	recv(t, processed, "right:r5")

	select {
	case got := <-processed:
		t.Fatalf("left partition must stay blocked until alignment completes, got %q", got)
	case <-time.After(100 * time.Millisecond):
	}

	right <- Frame{Native: &types.MessageFrame{Kind: types.MessageBarrier, Epoch: 1}}

	recv(t, processed, "checkpoint")
	recv(t, processed, "left:r3")

	select {
	case f := <-broadcast:
		require.Equal(t, types.MessageBarrier, f.Kind)
		require.Equal(t, uint64(1), f.Epoch)
	case <-time.After(testTimeout):
		t.Fatal("expected the aligned barrier to be broadcast downstream")
	}
}

func TestRunnerDefaultHandleWatermarkForwardsDownstream(t *testing.T) {
	in := make(chan Frame, 2)
	broadcast := make(chan types.MessageFrame, 2)

	cfg := Config{
		Context:    Context{OperatorID: "op-a", TaskIndex: 0, InPartitions: 1, NumLogicalInputs: 1},
		Methods:    Methods{ProcessElement: func(context.Context, types.MessageFrame) error { return nil }},
		Partitions: []*Partition{NewPartition(0, 0, in)},
		Control:    make(chan []byte),
		Broadcast:  func(f types.MessageFrame) { broadcast <- f },
	}
	r := NewRunner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	wm := time.Unix(100, 0)
	in <- Frame{Native: &types.MessageFrame{Kind: types.MessageWatermark, Watermark: wm}}

	select {
	case f := <-broadcast:
		require.Equal(t, types.MessageWatermark, f.Kind)
		require.True(t, f.Watermark.Equal(wm))
	case <-time.After(testTimeout):
		t.Fatal("expected the default handle_watermark to forward downstream")
	}
}
