// Package operator implements the worker-side per-subtask event loop: a
// single generic runner parameterized by an operator's input arity and a
// method table, multiplexing records, watermarks, barriers, control
// messages and timers over an operator's physical input partitions.
package operator

import "github.com/fluxgrid/fluxgrid/pkg/types"

// Context identifies one operator subtask for logging, tracing and
// metrics labeling.
type Context struct {
	OperatorID       types.OperatorID
	OperatorName     string
	TaskIndex        types.TaskIndex
	InPartitions     int
	NumLogicalInputs int
}

// LogicalInputFor maps a physical partition index to its logical input,
// per the fixed partitioning scheme: each of NumLogicalInputs logical
// inputs owns an equal, contiguous share of InPartitions.
func (c Context) LogicalInputFor(idx int) int {
	return idx / c.partitionsPerInput()
}

// LocalIndexFor returns idx's position within its logical input's own
// partition range, given the logical input it was already routed to.
func (c Context) LocalIndexFor(idx, logicalIdx int) int {
	return idx - c.partitionsPerInput()*logicalIdx
}

func (c Context) partitionsPerInput() int {
	return c.InPartitions / c.NumLogicalInputs
}
