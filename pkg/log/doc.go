/*
Package log provides structured logging for fluxgrid using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support
filtering by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all fluxgrid packages

Context Loggers:
  - WithComponent: tag logs with a component name ("scheduler", "operator")
  - WithNodeID: tag logs with a node identifier
  - WithJobID / WithRunID: tag logs with the job and run a message belongs to
  - WithWorkerID: tag logs with a worker process identifier
  - WithOperatorID: tag logs with an operator_id and subtask_idx, mirroring
    the tracing span attributes set in pkg/operator around dispatch

# Usage

	import "github.com/fluxgrid/fluxgrid/pkg/log"

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Str("job_id", jobID).Msg("placed workers")

	opLog := log.WithOperatorID(task.OperatorID, task.TaskIndex)
	opLog.Debug().Msg("checkpoint barrier aligned")

# Integration Points

  - pkg/scheduler: logs node eviction and ignored worker_finished reports
  - pkg/nodeagent: logs worker process lifecycle
  - pkg/operator: per-subtask logger via WithOperatorID
  - pkg/checkpoint: holds a per-subtask logger; it writes no log lines

# Design Patterns

Global Logger Pattern: a single package-level zerolog.Logger initialized
once at process start, with child loggers built via With* helpers rather
than threading a logger instance through every function signature.
*/
package log
