// Package scheduler places stateful worker processes across a fleet of
// nodes and tracks their lifecycle. Three concrete implementations satisfy
// the same Scheduler contract: Process (single host, bare child processes),
// Node (fleet, RPC to remote node agents), and Container (single host,
// containerd-isolated processes). Exactly one variant is active per
// controller process.
package scheduler

import (
	"context"

	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// Scheduler is the narrow interface every placement strategy implements.
// Callers interact with a Scheduler without knowing which variant backs it.
type Scheduler interface {
	// StartWorkers places req.Slots slots for a job run across one or more
	// nodes, returning the ids of the workers it created. The call is
	// all-or-nothing: on any failure, every slot taken during this call is
	// released before the error is returned.
	StartWorkers(ctx context.Context, req types.StartPipelineReq) ([]types.WorkerID, error)

	// StopWorkers stops every worker for (job, run). If run is nil, all
	// runs of job are targeted. With force=false, a single NotFound peer
	// aborts the whole call; with force=true, NotFound is treated as
	// already-stopped.
	StopWorkers(ctx context.Context, job types.JobID, run *types.RunID, force bool) error

	// RegisterNode registers or re-registers a node's capacity. Idempotent
	// on NodeID.
	RegisterNode(req types.RegisterNodeReq)

	// HeartbeatNode refreshes a node's liveness timestamp. Returns
	// ErrNodeNotFound if the node was never registered or has already
	// been evicted.
	HeartbeatNode(req types.HeartbeatNodeReq) error

	// WorkerFinished releases the slots held by a worker that has exited.
	WorkerFinished(req types.WorkerFinishedReq)

	// WorkersForJob lists the workers currently tracked for (job, run). If
	// run is nil, workers across all runs of job are returned.
	WorkersForJob(job types.JobID, run *types.RunID) []types.WorkerID
}

// StateSnapshotter is implemented by schedulers willing to expose their
// controller-local state for observability (pkg/metrics.Collector). It is
// a separate interface from Scheduler because snapshotting is a read-only
// side channel, not part of the placement contract spec callers rely on.
type StateSnapshotter interface {
	Snapshot() (nodes []*types.NodeState, workers []*types.WorkerState)
}
