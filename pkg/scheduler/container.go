package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/fluxgrid/fluxgrid/pkg/log"
	"github.com/fluxgrid/fluxgrid/pkg/metrics"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// fluxgridNamespace is the containerd namespace the container-orchestrator
// scheduler variant operates in, isolating its containers from anything
// else sharing the host's containerd daemon.
const fluxgridNamespace = "fluxgrid"

// DefaultContainerdSocket is the default containerd socket path.
const DefaultContainerdSocket = "/run/containerd/containerd.sock"

// containerWorker is the controller-local handle on one worker running
// inside a containerd container.
type containerWorker struct {
	state     types.WorkerState
	container containerd.Container
	task      containerd.Task
}

// ContainerScheduler places one worker per containerd container on the
// local host, with the container's own init process being the pipeline
// binary itself. It satisfies the same all-or-nothing start/stop
// semantics as ProcessScheduler; one container is the unit of isolation
// in place of one bare OS process.
type ContainerScheduler struct {
	mu      sync.Mutex
	client  *containerd.Client
	node    *types.NodeState
	workers map[types.WorkerID]*containerWorker

	nextWorkerID types.WorkerID
	rootfsImage  string
	log          zerolog.Logger
}

// NewContainerScheduler connects to the containerd socket at socketPath
// (DefaultContainerdSocket if empty) and returns a scheduler with the
// given slot capacity. rootfsImage names the OCI image whose rootfs hosts
// the bind-mounted pipeline binary; a minimal static image (distroless or
// scratch plus libc) is typical.
func NewContainerScheduler(socketPath, rootfsImage string, capacity int) (*ContainerScheduler, error) {
	if socketPath == "" {
		socketPath = DefaultContainerdSocket
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd: %w", err)
	}

	return &ContainerScheduler{
		client: client,
		node: &types.NodeState{
			ID:             localNodeID,
			Capacity:       capacity,
			FreeSlots:      capacity,
			ScheduledSlots: make(map[types.WorkerID]int),
			Addr:           "localhost",
		},
		workers:      make(map[types.WorkerID]*containerWorker),
		nextWorkerID: firstProcessWorkerID,
		rootfsImage:  rootfsImage,
		log:          log.WithComponent("scheduler.container"),
	}, nil
}

// Close releases the underlying containerd client connection.
func (s *ContainerScheduler) Close() error {
	return s.client.Close()
}

// RegisterNode is a no-op: there is exactly one implicit local node.
func (s *ContainerScheduler) RegisterNode(types.RegisterNodeReq) {}

// HeartbeatNode always succeeds for the local node.
func (s *ContainerScheduler) HeartbeatNode(req types.HeartbeatNodeReq) error {
	if req.NodeID != localNodeID {
		return ErrNodeNotFound
	}
	return nil
}

// StartWorkers creates one containerd container per bucketed group of
// slotsPerProcess slots, bind-mounting the pipeline binary read-only as
// the container's entrypoint. All-or-nothing: any per-container failure
// tears down every container already created in this call.
func (s *ContainerScheduler) StartWorkers(ctx context.Context, req types.StartPipelineReq) ([]types.WorkerID, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	ctx = namespaces.WithNamespace(ctx, fluxgridNamespace)

	image, err := s.client.GetImage(ctx, s.rootfsImage)
	if err != nil {
		metrics.WorkersFailed.Inc()
		return nil, &Other{Msg: fmt.Sprintf("resolving rootfs image %s", s.rootfsImage), Err: err}
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
		name := fmt.Sprintf("fluxgrid-worker-%d", workerID)

		env := []string{
			"TASK_SLOTS=" + strconv.Itoa(take),
			"WORKER_ID=" + strconv.FormatUint(uint64(workerID), 10),
			"JOB_ID=" + string(req.JobID),
			"NODE_ID=" + strconv.FormatUint(uint64(localNodeID), 10),
			"RUN_ID=" + strconv.FormatUint(uint64(req.RunID), 10),
		}
		for k, v := range req.EnvOverrides {
			env = append(env, k+"="+v)
		}

		opts := []oci.SpecOpts{
			oci.WithImageConfig(image),
			oci.WithEnv(env),
			oci.WithProcessArgs("/pipeline"),
			oci.WithMounts([]specs.Mount{{
				Destination: "/pipeline",
				Type:        "bind",
				Source:      req.PipelineURL,
				Options:     []string{"rbind", "ro"},
			}}),
		}

		c, err := s.client.NewContainer(ctx, name,
			containerd.WithImage(image),
			containerd.WithNewSnapshot(name+"-snapshot", image),
			containerd.WithNewSpec(opts...),
		)
		if err != nil {
			s.teardownLocked(ctx, placed)
			metrics.WorkersFailed.Inc()
			return nil, &Other{Msg: "creating container", Err: err}
		}

		task, err := c.NewTask(ctx, cio.NewCreator(cio.WithStdio))
		if err != nil {
			_ = c.Delete(ctx, containerd.WithSnapshotCleanup)
			s.teardownLocked(ctx, placed)
			metrics.WorkersFailed.Inc()
			return nil, &Other{Msg: "creating task", Err: err}
		}
		if err := task.Start(ctx); err != nil {
			_, _ = task.Delete(ctx)
			_ = c.Delete(ctx, containerd.WithSnapshotCleanup)
			s.teardownLocked(ctx, placed)
			metrics.WorkersFailed.Inc()
			return nil, &Other{Msg: "starting task", Err: err}
		}

		s.node.TakeSlots(workerID, take)
		s.workers[workerID] = &containerWorker{
			state: types.WorkerState{
				ID:      workerID,
				Job:     req.JobID,
				Run:     req.RunID,
				Node:    localNodeID,
				Phase:   types.WorkerRunning,
				Running: true,
			},
			container: c,
			task:      task,
		}
		placed = append(placed, workerID)
		s.nextWorkerID++
		remaining -= take
	}

	metrics.WorkersScheduled.Add(float64(len(placed)))
	return placed, nil
}

// teardownLocked kills and deletes every container placed earlier in an
// in-progress StartWorkers call, releasing their slots. Must be called
// with s.mu held.
func (s *ContainerScheduler) teardownLocked(ctx context.Context, placed []types.WorkerID) {
	for _, id := range placed {
		w, ok := s.workers[id]
		if !ok {
			continue
		}
		_, _ = w.task.Delete(ctx, containerd.WithProcessKill)
		_ = w.container.Delete(ctx, containerd.WithSnapshotCleanup)
		s.node.ReleaseSlots(id, s.node.ScheduledSlots[id])
		delete(s.workers, id)
	}
}

// StopWorkers signals SIGTERM to each matching container's task and
// marks it stopping; final removal awaits worker_finished.
func (s *ContainerScheduler) StopWorkers(ctx context.Context, job types.JobID, run *types.RunID, force bool) error {
	ctx = namespaces.WithNamespace(ctx, fluxgridNamespace)

	s.mu.Lock()
	var targets []*containerWorker
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
		if err := w.task.Kill(ctx, 15); err != nil && !force {
			return &Other{Msg: fmt.Sprintf("signaling worker %d", w.state.ID), Err: err}
		}
		s.mu.Lock()
		w.state.Phase = types.WorkerStopping
		w.state.Running = false
		s.mu.Unlock()
	}
	return nil
}

// WorkerFinished releases a finished worker's slots, deletes its
// container, and removes it from the table.
func (s *ContainerScheduler) WorkerFinished(req types.WorkerFinishedReq) {
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
func (s *ContainerScheduler) WorkersForJob(job types.JobID, run *types.RunID) []types.WorkerID {
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
func (s *ContainerScheduler) Snapshot() ([]*types.NodeState, []*types.WorkerState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	workers := make([]*types.WorkerState, 0, len(s.workers))
	for _, w := range s.workers {
		st := w.state
		workers = append(workers, &st)
	}
	return []*types.NodeState{s.node}, workers
}
