// Package checkpoint implements aligned-barrier checkpointing for a
// worker subtask: tracking barrier contributions across physical input
// partitions, driving the six-step checkpoint lifecycle, and persisting
// CheckpointMetadata for restart recovery.
package checkpoint

import "sync"

// Counter tracks barrier alignment across an operator's physical input
// partitions. A partition contributes at most one barrier per epoch; the
// epoch is complete once every non-retired partition has contributed.
//
// Retire is used for the Stop-before-Barrier case: a partition that
// receives Stop or EndOfData before delivering its barrier for the
// in-flight epoch implicitly contributes it and is permanently excluded
// from future epochs.
type Counter struct {
	mu          sync.Mutex
	totalInputs int
	retired     map[int]bool
	active      bool
	epoch       uint64
	marked      map[int]bool
}

// NewCounter creates a Counter sized to totalInputs physical input
// partitions.
func NewCounter(totalInputs int) *Counter {
	return &Counter{
		totalInputs: totalInputs,
		retired:     make(map[int]bool),
	}
}

// Mark records that partition idx has delivered its barrier for epoch.
// firstOfEpoch reports whether this is the first barrier seen for a new
// epoch (the caller should emit StartedAlignment exactly then). complete
// reports whether every non-retired partition has now marked this epoch.
// A mark from an already-retired partition is ignored: it has nothing
// further to contribute.
func (c *Counter) Mark(idx int, epoch uint64) (firstOfEpoch, complete bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retired[idx] {
		return false, false
	}
	if !c.active {
		c.active = true
		c.epoch = epoch
		c.marked = make(map[int]bool)
		firstOfEpoch = true
	}
	c.marked[idx] = true
	complete = c.isCompleteLocked()
	if complete {
		c.active = false
	}
	return firstOfEpoch, complete
}

// Retire permanently excludes idx from future epochs and, if an epoch is
// currently in flight, counts it as having contributed that epoch's
// barrier. complete reports whether this retirement completed the
// in-flight epoch.
func (c *Counter) Retire(idx int) (complete bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retired[idx] {
		return false
	}
	c.retired[idx] = true
	if !c.active {
		return false
	}
	c.marked[idx] = true
	complete = c.isCompleteLocked()
	if complete {
		c.active = false
	}
	return complete
}

func (c *Counter) isCompleteLocked() bool {
	contributed := 0
	for idx := range c.marked {
		if !c.retired[idx] {
			contributed++
		}
	}
	return contributed >= c.totalInputs-len(c.retired)
}

// IsBlocked reports whether idx has already contributed its barrier for
// the in-flight epoch and must not be read from until the epoch
// completes.
func (c *Counter) IsBlocked(idx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && c.marked[idx]
}

// AllClear reports whether no epoch is currently in flight: every
// previously blocked partition may be re-admitted to the ready set.
func (c *Counter) AllClear() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.active
}
