package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fluxgrid/fluxgrid/pkg/rpc"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Submit, stop, and inspect pipeline runs",
}

// pipelineManifest is the YAML shape accepted by "pipeline submit -f".
type pipelineManifest struct {
	Name        string            `yaml:"name"`
	PipelineURL string            `yaml:"pipelineUrl"`
	WasmURL     string            `yaml:"wasmUrl"`
	ContentHash string            `yaml:"contentHash"`
	Slots       int               `yaml:"slots"`
	Env         map[string]string `yaml:"env"`
}

var pipelineSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a pipeline run from a YAML manifest",
	Long: `Submit a new pipeline run.

Examples:
  fluxgridctl pipeline submit -f pipeline.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		controllerAddr, _ := cmd.Flags().GetString("controller")

		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("reading manifest: %w", err)
		}

		var manifest pipelineManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("parsing manifest: %w", err)
		}
		if manifest.Name == "" {
			return fmt.Errorf("manifest is missing name")
		}
		if manifest.PipelineURL == "" {
			return fmt.Errorf("manifest is missing pipelineUrl")
		}
		if manifest.Slots <= 0 {
			manifest.Slots = 1
		}

		jobID := types.JobID(uuid.New().String())

		client, err := rpc.DialScheduler(controllerAddr)
		if err != nil {
			return fmt.Errorf("connecting to controller: %w", err)
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := client.StartPipeline(ctx, types.StartPipelineReq{
			JobName:      manifest.Name,
			JobID:        jobID,
			RunID:        1,
			PipelineURL:  manifest.PipelineURL,
			WasmURL:      manifest.WasmURL,
			ContentHash:  manifest.ContentHash,
			Slots:        manifest.Slots,
			EnvOverrides: manifest.Env,
		})
		if err != nil {
			return fmt.Errorf("submitting pipeline: %w", err)
		}

		fmt.Printf("submitted %s (job %s)\n", manifest.Name, jobID)
		fmt.Printf("  workers: %s\n", formatWorkerIDs(resp.WorkerIDs))
		return nil
	},
}

var pipelineStopCmd = &cobra.Command{
	Use:   "stop JOB_ID",
	Short: "Stop every worker for a job run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		controllerAddr, _ := cmd.Flags().GetString("controller")
		force, _ := cmd.Flags().GetBool("force")
		run, _ := cmd.Flags().GetUint64("run")

		var runID *types.RunID
		if run != 0 {
			r := types.RunID(run)
			runID = &r
		}

		client, err := rpc.DialScheduler(controllerAddr)
		if err != nil {
			return fmt.Errorf("connecting to controller: %w", err)
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := client.StopPipeline(ctx, rpc.StopPipelineReq{
			JobID: types.JobID(args[0]),
			RunID: runID,
			Force: force,
		}); err != nil {
			return fmt.Errorf("stopping pipeline: %w", err)
		}

		fmt.Printf("stopped job %s\n", args[0])
		return nil
	},
}

var pipelinePsCmd = &cobra.Command{
	Use:   "ps JOB_ID",
	Short: "List the workers currently tracked for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		controllerAddr, _ := cmd.Flags().GetString("controller")

		client, err := rpc.DialScheduler(controllerAddr)
		if err != nil {
			return fmt.Errorf("connecting to controller: %w", err)
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := client.WorkersForJob(ctx, rpc.WorkersForJobReq{JobID: types.JobID(args[0])})
		if err != nil {
			return fmt.Errorf("listing workers: %w", err)
		}

		if len(resp.WorkerIDs) == 0 {
			fmt.Println("no workers found")
			return nil
		}
		fmt.Printf("%-10s\n", "WORKER_ID")
		for _, id := range resp.WorkerIDs {
			fmt.Printf("%-10d\n", id)
		}
		return nil
	},
}

func formatWorkerIDs(ids []types.WorkerID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}

func init() {
	pipelineCmd.AddCommand(pipelineSubmitCmd)
	pipelineCmd.AddCommand(pipelineStopCmd)
	pipelineCmd.AddCommand(pipelinePsCmd)

	for _, cmd := range []*cobra.Command{pipelineSubmitCmd, pipelineStopCmd, pipelinePsCmd} {
		cmd.Flags().String("controller", "127.0.0.1:7000", "Controller RPC address")
	}

	pipelineSubmitCmd.Flags().StringP("file", "f", "", "Pipeline manifest YAML file (required)")
	_ = pipelineSubmitCmd.MarkFlagRequired("file")

	pipelineStopCmd.Flags().Bool("force", false, "Treat an already-stopped worker as success")
	pipelineStopCmd.Flags().Uint64("run", 0, "Target a specific run id (default: all runs)")
}
