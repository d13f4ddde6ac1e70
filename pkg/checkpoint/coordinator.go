package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxgrid/fluxgrid/pkg/events"
	"github.com/fluxgrid/fluxgrid/pkg/log"
	"github.com/fluxgrid/fluxgrid/pkg/metrics"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// ErrStopAfterBarrier is returned by Coordinator.HandleBarrier when the
// completed barrier carried ThenStop: the caller must stop the subtask
// after the barrier has been broadcast downstream.
var ErrStopAfterBarrier = errors.New("checkpoint: operator stops after this barrier")

// SnapshotFunc invokes the state backend's async snapshot, returning the
// operator's opaque serialized state as of watermark.
type SnapshotFunc func(ctx context.Context, watermark time.Time) ([]byte, error)

// HandleCheckpointFunc invokes the user operator's handle_checkpoint
// method, run once alignment completes and before the snapshot.
type HandleCheckpointFunc func(ctx context.Context, epoch uint64) error

// BroadcastFunc emits a frame on every output channel.
type BroadcastFunc func(frame types.MessageFrame)

// Coordinator drives the six-step checkpoint lifecycle for one operator
// subtask, on top of a Counter tracking barrier alignment.
type Coordinator struct {
	counter *Counter
	store   *Store
	broker  *events.Broker

	job   types.JobID
	run   types.RunID
	op    types.OperatorID
	index types.TaskIndex

	alignmentStart time.Time
	log            zerolog.Logger
}

// NewCoordinator builds a Coordinator for a subtask with totalInputs
// physical input partitions.
func NewCoordinator(totalInputs int, store *Store, broker *events.Broker, job types.JobID, run types.RunID, op types.OperatorID, index types.TaskIndex) *Coordinator {
	return &Coordinator{
		counter: NewCounter(totalInputs),
		store:   store,
		broker:  broker,
		job:     job,
		run:     run,
		op:      op,
		index:   index,
		log:     log.WithOperatorID(string(op), int(index)),
	}
}

// IsBlocked reports whether idx has already contributed its barrier for
// the in-flight epoch.
func (c *Coordinator) IsBlocked(idx int) bool {
	return c.counter.IsBlocked(idx)
}

// AllClear reports whether no epoch is currently in flight.
func (c *Coordinator) AllClear() bool {
	return c.counter.AllClear()
}

// HandleBarrier marks idx as having delivered its barrier for the given
// epoch and, once every partition has done so, runs the remaining
// checkpoint steps: handle_checkpoint, async snapshot, persistence, and
// downstream broadcast. Returns ErrStopAfterBarrier if the completed
// barrier's ThenStop flag is set.
func (c *Coordinator) HandleBarrier(ctx context.Context, idx int, barrier types.MessageFrame, handleCheckpoint HandleCheckpointFunc, snapshot SnapshotFunc, broadcast BroadcastFunc, watermark time.Time) error {
	first, complete := c.counter.Mark(idx, barrier.Epoch)
	if first {
		c.alignmentStart = time.Now()
		c.publish(events.EventCheckpointStartedAlignment, barrier.Epoch)
	}
	if !complete {
		return nil
	}

	metrics.CheckpointAlignmentDuration.WithLabelValues(string(c.op)).Observe(time.Since(c.alignmentStart).Seconds())
	return c.complete(ctx, barrier, handleCheckpoint, snapshot, broadcast, watermark)
}

// HandleRetirement marks idx as permanently retired from future epochs
// (it has received Stop or EndOfData before contributing its barrier for
// the in-flight epoch, if any). If retirement completes the in-flight
// epoch, the remaining checkpoint steps run exactly as in HandleBarrier
// for a barrier carrying the caller-supplied epoch; that barrier never
// has ThenStop set.
func (c *Coordinator) HandleRetirement(ctx context.Context, idx int, epoch uint64, handleCheckpoint HandleCheckpointFunc, snapshot SnapshotFunc, broadcast BroadcastFunc, watermark time.Time) error {
	if complete := c.counter.Retire(idx); complete {
		metrics.CheckpointAlignmentDuration.WithLabelValues(string(c.op)).Observe(time.Since(c.alignmentStart).Seconds())
		return c.complete(ctx, types.MessageFrame{Kind: types.MessageBarrier, Epoch: epoch}, handleCheckpoint, snapshot, broadcast, watermark)
	}
	return nil
}

func (c *Coordinator) complete(ctx context.Context, barrier types.MessageFrame, handleCheckpoint HandleCheckpointFunc, snapshot SnapshotFunc, broadcast BroadcastFunc, watermark time.Time) error {
	c.publish(events.EventCheckpointStartedSnapshot, barrier.Epoch)

	if err := handleCheckpoint(ctx, barrier.Epoch); err != nil {
		return fmt.Errorf("checkpoint: handle_checkpoint: %w", err)
	}
	c.publish(events.EventCheckpointFinishedOperator, barrier.Epoch)

	timer := metrics.NewTimer()
	state, err := snapshot(ctx, watermark)
	timer.ObserveDurationVec(metrics.CheckpointSnapshotDuration, string(c.op))
	if err != nil {
		return fmt.Errorf("checkpoint: state backend snapshot: %w", err)
	}

	if err := c.store.Put(types.CheckpointMetadata{
		JobID:      c.job,
		RunID:      c.run,
		OperatorID: c.op,
		TaskIndex:  c.index,
		Epoch:      barrier.Epoch,
		Watermark:  watermark,
		State:      state,
		CreatedAt:  time.Now(),
	}); err != nil {
		return fmt.Errorf("checkpoint: persisting metadata: %w", err)
	}
	c.publish(events.EventCheckpointFinishedSync, barrier.Epoch)

	broadcast(types.MessageFrame{Kind: types.MessageBarrier, Epoch: barrier.Epoch, ThenStop: barrier.ThenStop})
	metrics.CheckpointsCompleted.WithLabelValues(string(c.op)).Inc()

	if barrier.ThenStop {
		return ErrStopAfterBarrier
	}
	return nil
}

func (c *Coordinator) publish(t events.EventType, epoch uint64) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		Type:    t,
		Message: fmt.Sprintf("operator %s/%d epoch %d", c.op, c.index, epoch),
		Metadata: map[string]string{
			"job_id":      string(c.job),
			"operator_id": string(c.op),
			"epoch":       fmt.Sprint(epoch),
		},
	})
}
