// Package nodeagent is the per-node binary receiver: it terminates the
// controller's StartWorker/StopWorker RPCs, materializes a streamed
// pipeline binary to disk, spawns the worker process, and reports its
// exit back to the controller.
package nodeagent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/fluxgrid/fluxgrid/pkg/log"
	"github.com/fluxgrid/fluxgrid/pkg/rpc"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// ControllerReporter is the subset of the controller client an Agent
// needs; satisfied by *rpc.ControllerClient, faked in tests.
type ControllerReporter interface {
	WorkerFinished(ctx context.Context, req types.WorkerFinishedReq) error
}

type agentWorker struct {
	cmd   *exec.Cmd
	job   types.JobID
	slots int
}

// Agent implements rpc.NodeAgentServer.
type Agent struct {
	mu       sync.Mutex
	nodeID   types.NodeID
	dataDir  string
	workers  map[types.WorkerID]*agentWorker
	nextID   atomic.Uint64
	reporter ControllerReporter
	log      zerolog.Logger
}

// NewAgent creates an Agent rooted at dataDir, reporting worker exits to
// reporter. Worker ids are allocated from a local counter seeded at 1;
// the controller disambiguates by (node_id, worker_id) pair.
func NewAgent(nodeID types.NodeID, dataDir string, reporter ControllerReporter) *Agent {
	return &Agent{
		nodeID:   nodeID,
		dataDir:  dataDir,
		workers:  make(map[types.WorkerID]*agentWorker),
		reporter: reporter,
		log:      log.WithNodeID(fmt.Sprintf("%d", nodeID)),
	}
}

// StartWorker receives a Header frame followed by NodePartSize-chunked
// Data frames, writes the assembled binary to dataDir/<job_id>/pipeline,
// and spawns it once the final chunk (has_more=false) has landed.
func (a *Agent) StartWorker(stream rpc.NodeAgentStartWorkerStream) error {
	first, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("nodeagent: receiving start_worker header: %w", err)
	}
	if first.Header == nil {
		return fmt.Errorf("nodeagent: start_worker stream did not open with a header frame")
	}
	header := first.Header

	dir := filepath.Join(a.dataDir, string(header.JobID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("nodeagent: creating job directory: %w", err)
	}

	binaryPath := filepath.Join(dir, "pipeline")
	f, err := os.OpenFile(binaryPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o776)
	if err != nil {
		return fmt.Errorf("nodeagent: opening pipeline binary for write: %w", err)
	}

	var written int64
	for {
		frame, err := stream.Recv()
		if err != nil {
			f.Close()
			return fmt.Errorf("nodeagent: receiving start_worker chunk: %w", err)
		}
		if frame.Data == nil {
			continue
		}
		n, err := f.Write(frame.Data.Data)
		if err != nil {
			f.Close()
			return fmt.Errorf("nodeagent: writing pipeline binary: %w", err)
		}
		written += int64(n)
		if !frame.Data.HasMore {
			break
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("nodeagent: closing pipeline binary: %w", err)
	}

	if len(header.Wasm) > 0 {
		wasmPath := filepath.Join(dir, "wasm_fns_bg.wasm")
		if _, err := os.Stat(wasmPath); os.IsNotExist(err) {
			if err := os.WriteFile(wasmPath, header.Wasm, 0o644); err != nil {
				return fmt.Errorf("nodeagent: writing wasm artifact: %w", err)
			}
		}
	}

	workerID := types.WorkerID(a.nextID.Add(1))
	cmd := exec.Command(binaryPath)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("TASK_SLOTS=%d", header.Slots),
		fmt.Sprintf("WORKER_ID=%d", workerID),
		fmt.Sprintf("JOB_ID=%s", header.JobID),
		fmt.Sprintf("NODE_ID=%d", a.nodeID),
		fmt.Sprintf("RUN_ID=%d", header.RunID),
	)
	for k, v := range header.EnvVars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("nodeagent: spawning worker %d: %w", workerID, err)
	}

	a.mu.Lock()
	a.workers[workerID] = &agentWorker{cmd: cmd, job: header.JobID, slots: header.Slots}
	a.mu.Unlock()

	go a.awaitExit(workerID)

	a.log.Info().Str("job_id", string(header.JobID)).Uint64("worker_id", uint64(workerID)).Int64("bytes", written).Msg("worker started")
	return stream.SendAndClose(&rpc.StartWorkerResp{WorkerID: workerID})
}

func (a *Agent) awaitExit(id types.WorkerID) {
	a.mu.Lock()
	w, ok := a.workers[id]
	a.mu.Unlock()
	if !ok {
		return
	}

	_ = w.cmd.Wait()

	a.mu.Lock()
	delete(a.workers, id)
	a.mu.Unlock()

	if err := a.reporter.WorkerFinished(context.Background(), types.WorkerFinishedReq{
		NodeID:   a.nodeID,
		WorkerID: id,
		Slots:    w.slots,
	}); err != nil {
		a.log.Warn().Err(err).Uint64("worker_id", uint64(id)).Msg("reporting worker_finished failed")
	}
}

// StopWorker signals the worker's process. A normal stop sends
// os.Interrupt; force kills it outright. A worker id the agent doesn't
// know about is reported not_found rather than an error, since the
// controller may be retrying a stop the agent already completed.
func (a *Agent) StopWorker(ctx context.Context, req *rpc.StopWorkerReq) (*rpc.StopWorkerResp, error) {
	a.mu.Lock()
	w, ok := a.workers[req.WorkerID]
	a.mu.Unlock()
	if !ok {
		return &rpc.StopWorkerResp{Status: rpc.StopStatusNotFound}, nil
	}

	if req.Force {
		if err := w.cmd.Process.Kill(); err != nil {
			return &rpc.StopWorkerResp{Status: rpc.StopStatusStopFailed}, nil
		}
		return &rpc.StopWorkerResp{Status: rpc.StopStatusOk}, nil
	}

	if err := w.cmd.Process.Signal(os.Interrupt); err != nil {
		return &rpc.StopWorkerResp{Status: rpc.StopStatusStopFailed}, nil
	}
	return &rpc.StopWorkerResp{Status: rpc.StopStatusOk}, nil
}
