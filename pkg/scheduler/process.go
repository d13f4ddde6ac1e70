package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fluxgrid/fluxgrid/pkg/log"
	"github.com/fluxgrid/fluxgrid/pkg/metrics"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// slotsPerProcess is the default bucket size a single child process is
// given; a start_workers request for more slots than this is split
// across several processes.
const slotsPerProcess = 16

// firstProcessWorkerID offsets process-scheduler worker ids away from
// low integers so they read distinctly from node ids in local logs.
const firstProcessWorkerID = 100

// localNodeID is the single virtual node the process scheduler reports
// for observability; there is only ever one host.
const localNodeID types.NodeID = 1

// processDataDirFormat is the filesystem root for materialized pipeline
// artifacts, matching the layout spec.md fixes for the process scheduler.
const processDataDirFormat = "/tmp/fluxgrid-process/%s"

// processWorker is the controller-local handle on one spawned child
// process.
type processWorker struct {
	state    types.WorkerState
	cmd      *exec.Cmd
	shutdown chan struct{}
}

// ProcessScheduler is the single-host Scheduler variant: it spawns one
// child process per bucketed group of slotsPerProcess requested slots on
// the local machine, with no RPC involved.
type ProcessScheduler struct {
	mu      sync.Mutex
	node    *types.NodeState
	workers map[types.WorkerID]*processWorker

	nextWorkerID types.WorkerID
	log          zerolog.Logger
}

// NewProcessScheduler creates a ProcessScheduler. capacity bounds the
// total slots the local host can host concurrently.
func NewProcessScheduler(capacity int) *ProcessScheduler {
	return &ProcessScheduler{
		node: &types.NodeState{
			ID:             localNodeID,
			Capacity:       capacity,
			FreeSlots:      capacity,
			ScheduledSlots: make(map[types.WorkerID]int),
			Addr:           "localhost",
		},
		workers:      make(map[types.WorkerID]*processWorker),
		nextWorkerID: firstProcessWorkerID,
		log:          log.WithComponent("scheduler.process"),
	}
}

// RegisterNode is a no-op: the process scheduler has exactly one implicit
// local node.
func (s *ProcessScheduler) RegisterNode(types.RegisterNodeReq) {}

// HeartbeatNode always succeeds for the local node.
func (s *ProcessScheduler) HeartbeatNode(req types.HeartbeatNodeReq) error {
	if req.NodeID != localNodeID {
		return ErrNodeNotFound
	}
	return nil
}

// StartWorkers spawns ceil(req.Slots/slotsPerProcess) child processes,
// each a pipeline binary bucketed with min(slotsPerProcess, remaining)
// slots. All-or-nothing: a spawn failure kills every process already
// started in this call and releases their slots before returning.
func (s *ProcessScheduler) StartWorkers(ctx context.Context, req types.StartPipelineReq) ([]types.WorkerID, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	binaryPath, err := s.materialize(req)
	if err != nil {
		metrics.WorkersFailed.Inc()
		return nil, &Other{Msg: "materializing pipeline artifacts", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.node.FreeSlots < req.Slots {
		metrics.WorkersFailed.Inc()
		return nil, &NotEnoughSlots{Missing: req.Slots - s.node.FreeSlots}
	}

	var placed []types.WorkerID
	remaining := req.Slots
	for remaining > 0 {
		take := slotsPerProcess
		if take > remaining {
			take = remaining
		}

		workerID := s.nextWorkerID
		cmd := exec.CommandContext(ctx, binaryPath)
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("TASK_SLOTS=%d", take),
			fmt.Sprintf("WORKER_ID=%d", workerID),
			fmt.Sprintf("JOB_ID=%s", req.JobID),
			fmt.Sprintf("NODE_ID=%d", localNodeID),
			fmt.Sprintf("RUN_ID=%d", req.RunID),
		)
		for k, v := range req.EnvOverrides {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			s.killAndReleaseLocked(placed)
			metrics.WorkersFailed.Inc()
			return nil, &Other{Msg: "spawning pipeline process", Err: err}
		}

		s.node.TakeSlots(workerID, take)
		w := &processWorker{
			state: types.WorkerState{
				ID:      workerID,
				Job:     req.JobID,
				Run:     req.RunID,
				Node:    localNodeID,
				Phase:   types.WorkerRunning,
				Running: true,
			},
			cmd:      cmd,
			shutdown: make(chan struct{}),
		}
		s.workers[workerID] = w
		go s.awaitExit(w)

		placed = append(placed, workerID)
		s.nextWorkerID++
		remaining -= take
	}

	metrics.WorkersScheduled.Add(float64(len(placed)))
	return placed, nil
}

// killAndReleaseLocked tears down every worker spawned earlier in an
// in-progress StartWorkers call. Must be called with s.mu held.
func (s *ProcessScheduler) killAndReleaseLocked(placed []types.WorkerID) {
	for _, id := range placed {
		w, ok := s.workers[id]
		if !ok {
			continue
		}
		_ = w.cmd.Process.Kill()
		s.node.ReleaseSlots(id, s.node.ScheduledSlots[id])
		delete(s.workers, id)
	}
}

// awaitExit watches a spawned process and reports it finished once the
// process exits on its own, mirroring the worker_finished path a remote
// node agent would otherwise report over RPC.
func (s *ProcessScheduler) awaitExit(w *processWorker) {
	_ = w.cmd.Wait()
	s.mu.Lock()
	slots := s.node.ScheduledSlots[w.state.ID]
	s.mu.Unlock()
	s.WorkerFinished(types.WorkerFinishedReq{NodeID: localNodeID, WorkerID: w.state.ID, Slots: slots})
}

// materialize writes the pipeline binary and WASM artifact into the
// job's working directory if not already present, matching spec.md's
// "pre-existing files are not overwritten" warm-restart contract.
func (s *ProcessScheduler) materialize(req types.StartPipelineReq) (string, error) {
	dir := fmt.Sprintf(processDataDirFormat, req.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating job directory: %w", err)
	}

	binaryPath := filepath.Join(dir, "pipeline")
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		// The actual byte content comes from the caller's binary source
		// in the node/fleet variant; the process variant assumes the
		// artifact has already been staged to PipelineURL as a local
		// path by an external build step, and simply copies permissions.
		if err := copyExecutable(req.PipelineURL, binaryPath); err != nil {
			return "", err
		}
	}

	wasmPath := filepath.Join(dir, "wasm_fns_bg.wasm")
	if _, err := os.Stat(wasmPath); os.IsNotExist(err) {
		if err := copyFile(req.WasmURL, wasmPath); err != nil {
			return "", err
		}
	}

	return binaryPath, nil
}

func copyExecutable(src, dst string) error {
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Chmod(dst, 0o776)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}

// StopWorkers sends each matching worker its shutdown signal and waits
// for nothing further: final removal awaits the process exiting, which
// awaitExit reports via WorkerFinished.
func (s *ProcessScheduler) StopWorkers(ctx context.Context, job types.JobID, run *types.RunID, force bool) error {
	s.mu.Lock()
	var targets []*processWorker
	for _, w := range s.workers {
		if w.state.Job != job {
			continue
		}
		if run != nil && w.state.Run != *run {
			continue
		}
		targets = append(targets, w)
	}
	s.mu.Unlock()

	for _, w := range targets {
		close(w.shutdown)
		if err := w.cmd.Process.Signal(os.Interrupt); err != nil && !force {
			return &Other{Msg: fmt.Sprintf("signaling worker %d", w.state.ID), Err: err}
		}
		s.mu.Lock()
		w.state.Phase = types.WorkerStopping
		w.state.Running = false
		s.mu.Unlock()
	}
	return nil
}

// WorkerFinished releases a finished worker's slots and removes it from
// the table.
func (s *ProcessScheduler) WorkerFinished(req types.WorkerFinishedReq) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.NodeID != localNodeID {
		s.log.Warn().Uint64("node_id", uint64(req.NodeID)).Msg("worker_finished for unknown node")
		return
	}
	if known := s.node.ReleaseSlots(req.WorkerID, req.Slots); !known {
		s.log.Warn().Uint64("worker_id", uint64(req.WorkerID)).Msg("worker_finished for unknown worker, ignoring")
		return
	}
	delete(s.workers, req.WorkerID)
}

// WorkersForJob lists the workers tracked for (job, run).
func (s *ProcessScheduler) WorkersForJob(job types.JobID, run *types.RunID) []types.WorkerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.WorkerID
	for id, w := range s.workers {
		if w.state.Job != job {
			continue
		}
		if run != nil && w.state.Run != *run {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Snapshot implements StateSnapshotter.
func (s *ProcessScheduler) Snapshot() ([]*types.NodeState, []*types.WorkerState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	workers := make([]*types.WorkerState, 0, len(s.workers))
	for _, w := range s.workers {
		st := w.state
		workers = append(workers, &st)
	}
	return []*types.NodeState{s.node}, workers
}
