package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNode(capacity int) *NodeState {
	return &NodeState{
		ID:             1,
		Capacity:       capacity,
		FreeSlots:      capacity,
		ScheduledSlots: make(map[WorkerID]int),
		Addr:           "10.0.0.1:7000",
		LastHeartbeat:  time.Now(),
	}
}

func TestTakeSlots(t *testing.T) {
	n := newNode(16)

	n.TakeSlots(WorkerID(1), 4)

	assert.Equal(t, 12, n.FreeSlots)
	assert.Equal(t, 4, n.ScheduledSlots[WorkerID(1)])
	assert.Equal(t, n.Capacity, n.FreeSlots+sumScheduled(n))
}

func TestTakeSlotsPanicsOnOverAllocation(t *testing.T) {
	n := newNode(4)

	assert.Panics(t, func() {
		n.TakeSlots(WorkerID(1), 5)
	})
}

func TestReleaseSlotsKnownWorker(t *testing.T) {
	n := newNode(16)
	n.TakeSlots(WorkerID(1), 4)

	known := n.ReleaseSlots(WorkerID(1), 4)

	require.True(t, known)
	assert.Equal(t, 16, n.FreeSlots)
	assert.Empty(t, n.ScheduledSlots)
}

func TestReleaseSlotsUnknownWorkerIsNotFatal(t *testing.T) {
	n := newNode(16)

	known := n.ReleaseSlots(WorkerID(99), 4)

	assert.False(t, known)
	assert.Equal(t, 16, n.FreeSlots)
}

func TestReleaseSlotsPanicsOnCountMismatch(t *testing.T) {
	n := newNode(16)
	n.TakeSlots(WorkerID(1), 4)

	assert.Panics(t, func() {
		n.ReleaseSlots(WorkerID(1), 3)
	})
}

func sumScheduled(n *NodeState) int {
	total := 0
	for _, count := range n.ScheduledSlots {
		total += count
	}
	return total
}
