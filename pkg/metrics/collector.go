package metrics

import (
	"time"

	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// Collector periodically refreshes cluster-level gauges from a Scheduler's
// observable state. Scheduler calls themselves update counters/histograms
// inline; this loop only needs to set the point-in-time gauges.
type Collector struct {
	sched  any
	stopCh chan struct{}
}

// stateSnapshotter has the method set of scheduler.StateSnapshotter; it is
// declared here because pkg/scheduler imports this package.
type stateSnapshotter interface {
	Snapshot() (nodes []*types.NodeState, workers []*types.WorkerState)
}

// NewCollector creates a new metrics collector for sched, a
// scheduler.Scheduler; collect does nothing unless sched also has a
// Snapshot method.
func NewCollector(sched any) *Collector {
	return &Collector{
		sched:  sched,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap, ok := c.sched.(stateSnapshotter)
	if !ok {
		return
	}

	nodes, workers := snap.Snapshot()

	nodeCounts := make(map[string]int)
	var free, total float64
	for _, n := range nodes {
		nodeCounts["alive"]++
		free += float64(n.FreeSlots)
		total += float64(n.Capacity)
	}
	for status, count := range nodeCounts {
		NodesTotal.WithLabelValues(status).Set(float64(count))
	}
	FreeSlots.Set(free)
	RegisteredSlots.Set(total)

	workerCounts := make(map[string]int)
	for _, w := range workers {
		if w.Phase == types.WorkerRunning {
			workerCounts["running"]++
		} else {
			workerCounts["stopping"]++
		}
	}
	for state, count := range workerCounts {
		WorkersTotal.WithLabelValues(state).Set(float64(count))
	}
}
