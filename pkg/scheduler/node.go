package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fluxgrid/fluxgrid/pkg/log"
	"github.com/fluxgrid/fluxgrid/pkg/metrics"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// livenessWindow is how long a node may go without a heartbeat before it
// is evicted from the fleet.
const livenessWindow = 30 * time.Second

// StopStatus is a node agent's response to a StopWorker RPC.
type StopStatus int

const (
	StopOk StopStatus = iota
	StopNotFound
	StopFailed
)

// StartWorkerHeader is the first frame of the StartWorker client stream,
// carried ahead of the chunked pipeline binary.
type StartWorkerHeader struct {
	Name       string
	JobID      types.JobID
	RunID      types.RunID
	Wasm       []byte
	Slots      int
	NodeID     types.NodeID
	EnvVars    map[string]string
	BinarySize int64
}

// NodeAgentClient is the controller's view of the RPC surface a remote
// node agent exposes. pkg/rpc provides the gRPC-backed implementation;
// tests supply a fake.
type NodeAgentClient interface {
	StartWorker(ctx context.Context, addr string, header StartWorkerHeader, binary io.Reader) (types.WorkerID, error)
	StopWorker(ctx context.Context, addr string, job types.JobID, worker types.WorkerID, force bool) (StopStatus, error)
}

// BinarySource resolves a StartPipelineReq's artifact URLs into readable
// streams, typically by fetching them from object storage
// (pkg/distributor).
type BinarySource interface {
	OpenPipelineBinary(ctx context.Context, url string) (r io.ReadCloser, size int64, err error)
	ReadWasm(ctx context.Context, url string) ([]byte, error)
}

// NodeScheduler is the fleet variant of Scheduler: it places workers on
// remote nodes over RPC, tracking node capacity and worker assignment
// behind a single mutex per spec.md §5.
type NodeScheduler struct {
	mu      sync.Mutex
	nodes   map[types.NodeID]*types.NodeState
	workers map[types.WorkerID]*types.WorkerState

	client  NodeAgentClient
	sources BinarySource

	workerSeq types.WorkerID
	log       zerolog.Logger
}

// NewNodeScheduler builds a NodeScheduler backed by client for node-agent
// RPC and sources for artifact retrieval.
func NewNodeScheduler(client NodeAgentClient, sources BinarySource) *NodeScheduler {
	return &NodeScheduler{
		nodes:   make(map[types.NodeID]*types.NodeState),
		workers: make(map[types.WorkerID]*types.WorkerState),
		client:  client,
		sources: sources,
		log:     log.WithComponent("scheduler.node"),
	}
}

// RegisterNode registers or re-registers a node's capacity. Idempotent on
// NodeID.
func (s *NodeScheduler) RegisterNode(req types.RegisterNodeReq) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[req.NodeID]; ok {
		n.Capacity = req.TaskSlots
		n.Addr = req.Addr
		n.LastHeartbeat = time.Now()
		return
	}

	s.nodes[req.NodeID] = &types.NodeState{
		ID:             req.NodeID,
		Capacity:       req.TaskSlots,
		FreeSlots:      req.TaskSlots,
		ScheduledSlots: make(map[types.WorkerID]int),
		Addr:           req.Addr,
		LastHeartbeat:  time.Now(),
	}
}

// HeartbeatNode refreshes a node's liveness timestamp.
func (s *NodeScheduler) HeartbeatNode(req types.HeartbeatNodeReq) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[req.NodeID]
	if !ok {
		return ErrNodeNotFound
	}
	n.LastHeartbeat = time.Now()
	return nil
}

// expireStaleNodesLocked evicts nodes that have not heartbeated within
// livenessWindow. Must be called with s.mu held. Workers scheduled on an
// evicted node remain in the worker table marked running — the controller
// infers nothing about their liveness, per invariant 3.
func (s *NodeScheduler) expireStaleNodesLocked(now time.Time) {
	for id, n := range s.nodes {
		if now.Sub(n.LastHeartbeat) > livenessWindow {
			delete(s.nodes, id)
			metrics.NodesEvicted.Inc()
			s.log.Warn().Uint64("node_id", uint64(id)).Msg("evicted node for missed heartbeat window")
		}
	}
}

// placement is one planned (node, slot-count) assignment, computed
// without mutating any node state so a failed batch never needs undoing.
type placement struct {
	node *types.NodeState
	take int
}

// planPlacementLocked computes a best-fit placement for slots: repeatedly
// takes from the node with the most remaining capacity (after
// previously-planned takes in this call) until slots is satisfied or no
// eligible node remains. It mutates nothing; the second return value is
// any shortfall. Must be called with s.mu held.
func (s *NodeScheduler) planPlacementLocked(slots int) ([]placement, int) {
	remaining := make(map[types.NodeID]int, len(s.nodes))
	for id, n := range s.nodes {
		remaining[id] = n.FreeSlots
	}

	var plan []placement
	for slots > 0 {
		var bestID types.NodeID
		bestFree := 0
		found := false
		for id, free := range remaining {
			if free > bestFree {
				bestID, bestFree, found = id, free, true
			}
		}
		if !found {
			break
		}
		take := bestFree
		if take > slots {
			take = slots
		}
		plan = append(plan, placement{node: s.nodes[bestID], take: take})
		remaining[bestID] -= take
		slots -= take
	}
	return plan, slots
}

// StartWorkers implements the greedy best-fit placement: repeatedly take
// from the node with the most free slots among those heartbeating within
// the liveness window, until the request is satisfied or exhausted. The
// plan is computed up front and then carried out with one StartWorker RPC
// per node fanned out concurrently via fanOutStartWorkers, so node state
// is only mutated once every node in the plan has confirmed.
func (s *NodeScheduler) StartWorkers(ctx context.Context, req types.StartPipelineReq) ([]types.WorkerID, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireStaleNodesLocked(time.Now())

	var totalFree int
	for _, n := range s.nodes {
		totalFree += n.FreeSlots
	}
	if totalFree < req.Slots {
		metrics.WorkersFailed.Inc()
		return nil, &NotEnoughSlots{Missing: req.Slots - totalFree}
	}

	plan, unmet := s.planPlacementLocked(req.Slots)
	if unmet > 0 {
		metrics.WorkersFailed.Inc()
		return nil, &NotEnoughSlots{Missing: unmet}
	}

	pipelineBinary, binarySize, err := s.sources.OpenPipelineBinary(ctx, req.PipelineURL)
	if err != nil {
		metrics.WorkersFailed.Inc()
		return nil, &Other{Msg: "fetching pipeline binary", Err: err}
	}
	defer pipelineBinary.Close()

	// Buffered once: the same binary is streamed to every node in the
	// plan concurrently, and an io.ReadCloser can only be drained once.
	binaryBytes, err := io.ReadAll(pipelineBinary)
	if err != nil {
		metrics.WorkersFailed.Inc()
		return nil, &Other{Msg: "reading pipeline binary", Err: err}
	}

	wasm, err := s.sources.ReadWasm(ctx, req.WasmURL)
	if err != nil {
		metrics.WorkersFailed.Inc()
		return nil, &Other{Msg: "fetching wasm artifact", Err: err}
	}

	assigned, err := fanOutStartWorkers(ctx, s.client, req, wasm, binaryBytes, binarySize, plan)
	if err != nil {
		metrics.WorkersFailed.Inc()
		return nil, &Other{Msg: "starting workers", Err: err}
	}

	placed := make([]types.WorkerID, 0, len(plan))
	for _, p := range plan {
		workerID := assigned[p.node.ID]
		p.node.TakeSlots(workerID, p.take)
		s.workers[workerID] = &types.WorkerState{
			ID:      workerID,
			Job:     req.JobID,
			Run:     req.RunID,
			Node:    p.node.ID,
			Phase:   types.WorkerRunning,
			Running: true,
		}
		placed = append(placed, workerID)
	}

	metrics.WorkersScheduled.Add(float64(len(placed)))
	return placed, nil
}

// fanOutStartWorkers issues one StartWorker RPC per planned node
// concurrently and collects the worker ids each node agent assigns.
// Nothing in the caller's state is touched until every node has
// answered: on any failure the whole batch is discarded and the caller
// retries with a fresh call rather than unwinding partial local state.
func fanOutStartWorkers(ctx context.Context, client NodeAgentClient, req types.StartPipelineReq, wasm, binaryBytes []byte, binarySize int64, plan []placement) (map[types.NodeID]types.WorkerID, error) {
	results := make(map[types.NodeID]types.WorkerID, len(plan))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range plan {
		p := p
		g.Go(func() error {
			header := StartWorkerHeader{
				Name:       req.JobName,
				JobID:      req.JobID,
				RunID:      req.RunID,
				Wasm:       wasm,
				Slots:      p.take,
				NodeID:     p.node.ID,
				EnvVars:    req.EnvOverrides,
				BinarySize: binarySize,
			}

			workerID, err := client.StartWorker(gctx, p.node.Addr, header, bytes.NewReader(binaryBytes))
			if err != nil {
				return fmt.Errorf("starting worker on node %d: %w", p.node.ID, err)
			}

			mu.Lock()
			results[p.node.ID] = workerID
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// StopWorkers fans stop RPCs out to every worker matching (job, run) in
// parallel. An unreachable peer is treated as already stopped. A
// StopFailed response is fatal to the whole call. A NotFound response is
// fatal unless force is set.
func (s *NodeScheduler) StopWorkers(ctx context.Context, job types.JobID, run *types.RunID, force bool) error {
	s.mu.Lock()
	var targets []*types.WorkerState
	for _, w := range s.workers {
		if w.Job != job {
			continue
		}
		if run != nil && w.Run != *run {
			continue
		}
		targets = append(targets, w)
	}
	addrs := make(map[types.WorkerID]string, len(targets))
	for _, w := range targets {
		if n, ok := s.nodes[w.Node]; ok {
			addrs[w.ID] = n.Addr
		}
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range targets {
		w := w
		addr := addrs[w.ID]
		g.Go(func() error {
			status, err := s.client.StopWorker(gctx, addr, job, w.ID, force)
			if err != nil {
				// peer unreachable: treat as stopped
				s.markStoppedLocked(w.ID)
				return nil
			}
			switch status {
			case StopOk:
				s.markStoppedLocked(w.ID)
				return nil
			case StopFailed:
				return fmt.Errorf("scheduler: worker %d: %w", w.ID, ErrStopFailed)
			case StopNotFound:
				if force {
					s.markStoppedLocked(w.ID)
					return nil
				}
				return fmt.Errorf("scheduler: worker %d not found on its node", w.ID)
			default:
				return fmt.Errorf("scheduler: worker %d: unrecognized stop status", w.ID)
			}
		})
	}
	return g.Wait()
}

func (s *NodeScheduler) markStoppedLocked(id types.WorkerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[id]; ok {
		w.Phase = types.WorkerStopping
		w.Running = false
	}
}

// WorkerFinished releases the slots held by worker req.WorkerID and
// removes it from the worker table. A WorkerFinished for a worker id the
// controller never scheduled on that node is logged and ignored, per the
// distinction between "unknown worker" and "count mismatch" failures.
func (s *NodeScheduler) WorkerFinished(req types.WorkerFinishedReq) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[req.NodeID]
	if !ok {
		s.log.Warn().Uint64("node_id", uint64(req.NodeID)).Msg("worker_finished for unknown node")
		return
	}
	if known := n.ReleaseSlots(req.WorkerID, req.Slots); !known {
		s.log.Warn().Uint64("worker_id", uint64(req.WorkerID)).Msg("worker_finished for unknown worker, ignoring")
		return
	}
	delete(s.workers, req.WorkerID)
}

// WorkersForJob lists the workers tracked for (job, run).
func (s *NodeScheduler) WorkersForJob(job types.JobID, run *types.RunID) []types.WorkerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.WorkerID
	for id, w := range s.workers {
		if w.Job != job {
			continue
		}
		if run != nil && w.Run != *run {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Snapshot implements StateSnapshotter.
func (s *NodeScheduler) Snapshot() ([]*types.NodeState, []*types.WorkerState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make([]*types.NodeState, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	workers := make([]*types.WorkerState, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	return nodes, workers
}
