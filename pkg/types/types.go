// Package types defines the identifiers and controller-local state shared
// between the scheduler, the node agent, and the operator runtime.
package types

import "time"

// NodeID identifies a physical or virtual host running a slot-supplier.
type NodeID uint64

// WorkerID identifies one worker process, unique within the lifetime of
// the controller that allocated it.
type WorkerID uint64

// JobID identifies a logical pipeline.
type JobID string

// RunID is a monotonically increasing restart counter within a job.
type RunID uint64

// OperatorID identifies one operator within a run's dataflow graph.
type OperatorID string

// TaskIndex is the subtask index of an operator within a run, in
// [0, parallelism).
type TaskIndex int

// NodeState is the controller-local bookkeeping for one registered node.
//
// Invariant: FreeSlots + sum(ScheduledSlots) == Capacity at all times a
// caller can observe the struct; the scheduler mutates FreeSlots and
// ScheduledSlots together under its single mutex.
type NodeState struct {
	ID             NodeID
	Capacity       int
	FreeSlots      int
	ScheduledSlots map[WorkerID]int
	Addr           string
	LastHeartbeat  time.Time
}

// TakeSlots reserves n slots against the worker w. It panics if n exceeds
// FreeSlots: a scheduler that calls TakeSlots without first checking free
// capacity has a placement bug, not a recoverable runtime condition.
func (n *NodeState) TakeSlots(w WorkerID, count int) {
	if count > n.FreeSlots {
		panic("types: TakeSlots requested more slots than are free")
	}
	n.FreeSlots -= count
	n.ScheduledSlots[w] += count
}

// ReleaseSlots returns count slots previously taken by worker w. Per
// invariant 2, count must match the value recorded by TakeSlots exactly;
// a mismatch on a known worker is a protocol violation and panics. An
// unknown worker is logged by the caller and ignored here, since a
// worker_finished report for a worker the controller never scheduled is
// a stale or duplicate message, not a slot-accounting corruption.
func (n *NodeState) ReleaseSlots(w WorkerID, count int) (known bool) {
	recorded, ok := n.ScheduledSlots[w]
	if !ok {
		return false
	}
	if recorded != count {
		panic("types: ReleaseSlots count does not match the recorded allocation")
	}
	delete(n.ScheduledSlots, w)
	n.FreeSlots += count
	return true
}

// WorkerPhase is the lifecycle state of a worker as tracked by the
// controller's worker table.
type WorkerPhase string

const (
	WorkerScheduled WorkerPhase = "scheduled"
	WorkerRunning   WorkerPhase = "running"
	WorkerStopping  WorkerPhase = "stopping"
)

// WorkerState is the controller-local assignment record for one worker.
type WorkerState struct {
	ID      WorkerID
	Job     JobID
	Run     RunID
	Node    NodeID
	Phase   WorkerPhase
	Running bool
}

// StartPipelineReq is the input to Scheduler.StartWorkers.
type StartPipelineReq struct {
	JobName       string
	JobID         JobID
	RunID         RunID
	PipelineURL   string
	WasmURL       string
	ContentHash   string
	Slots         int
	EnvOverrides  map[string]string
}

// RegisterNodeReq registers a node's task-slot capacity with the
// controller. Registration is idempotent on NodeID: re-registering an
// already-known node updates its addr/capacity rather than erroring.
type RegisterNodeReq struct {
	NodeID    NodeID
	TaskSlots int
	Addr      string
}

// HeartbeatNodeReq refreshes a node's liveness timestamp.
type HeartbeatNodeReq struct {
	NodeID NodeID
}

// WorkerFinishedReq reports that a worker process has exited and its
// slots should be released.
type WorkerFinishedReq struct {
	NodeID   NodeID
	WorkerID WorkerID
	Slots    int
}

// MessageKind tags the variant carried by MessageFrame.
type MessageKind int

const (
	MessageRecord MessageKind = iota
	MessageWatermark
	MessageBarrier
	MessageStop
	MessageEndOfData
)

// MessageFrame is the tagged variant carried on a logical channel between
// two subtasks. Exactly one of the typed fields is meaningful for a given
// Kind; the others are left at their zero value.
type MessageFrame struct {
	Kind MessageKind

	// MessageRecord
	Key       []byte
	Value     []byte
	Timestamp time.Time

	// MessageWatermark
	Watermark time.Time

	// MessageBarrier
	Epoch    uint64
	ThenStop bool
}

// CheckpointMetadata is the durable record of one operator subtask's
// state as of a completed checkpoint epoch. It is written by the
// checkpoint coordinator's async snapshot step and read back by a
// restarted task to seed its in-memory state before on_start runs.
type CheckpointMetadata struct {
	JobID      JobID
	RunID      RunID
	OperatorID OperatorID
	TaskIndex  TaskIndex
	Epoch      uint64
	Watermark  time.Time
	State      []byte
	CreatedAt  time.Time
}
