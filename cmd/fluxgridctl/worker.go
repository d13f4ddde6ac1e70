package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fluxgrid/fluxgrid/pkg/log"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker process operations",
}

// workerRunCmd is the entry point a spawned pipeline binary's main()
// embeds: it reads the slot/identity contract a scheduler sets on spawn
// and blocks until told to stop. The operator task loops themselves are
// wired by the pipeline program via pkg/operator, not by this binary.
var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Host a worker process using its scheduler-provided environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		slots, err := strconv.Atoi(os.Getenv("TASK_SLOTS"))
		if err != nil {
			return fmt.Errorf("reading TASK_SLOTS: %w", err)
		}
		workerID := os.Getenv("WORKER_ID")
		jobID := os.Getenv("JOB_ID")
		nodeID := os.Getenv("NODE_ID")
		runID := os.Getenv("RUN_ID")
		if workerID == "" || jobID == "" {
			return fmt.Errorf("WORKER_ID and JOB_ID must be set by the scheduler that spawned this process")
		}

		logger := log.WithWorkerID(workerID)
		logger.Info().
			Str("job_id", jobID).
			Str("node_id", nodeID).
			Str("run_id", runID).
			Int("task_slots", slots).
			Msg("worker ready")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("worker stopping")
		return nil
	},
}

func init() {
	workerCmd.AddCommand(workerRunCmd)
}
