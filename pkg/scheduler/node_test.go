package scheduler

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// fakeBinarySource satisfies BinarySource with a fixed in-memory payload.
type fakeBinarySource struct{}

func (fakeBinarySource) OpenPipelineBinary(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	data := []byte("pipeline-binary")
	return io.NopCloser(strings.NewReader(string(data))), int64(len(data)), nil
}

func (fakeBinarySource) ReadWasm(ctx context.Context, url string) ([]byte, error) {
	return []byte("wasm-bytes"), nil
}

// fakeAgentClient is a NodeAgentClient whose behavior per node address is
// scripted by the test.
type fakeAgentClient struct {
	failStartOn map[string]bool
	nextWorker  uint64
	stopStatus  map[string]StopStatus
	stopErr     map[string]error
}

func newFakeAgentClient() *fakeAgentClient {
	return &fakeAgentClient{
		failStartOn: make(map[string]bool),
		stopStatus:  make(map[string]StopStatus),
		stopErr:     make(map[string]error),
	}
}

func (f *fakeAgentClient) StartWorker(ctx context.Context, addr string, header StartWorkerHeader, binary io.Reader) (types.WorkerID, error) {
	if f.failStartOn[addr] {
		return 0, errors.New("simulated RPC failure")
	}
	id := atomic.AddUint64(&f.nextWorker, 1)
	return types.WorkerID(id), nil
}

func (f *fakeAgentClient) StopWorker(ctx context.Context, addr string, job types.JobID, worker types.WorkerID, force bool) (StopStatus, error) {
	if err, ok := f.stopErr[addr]; ok {
		return 0, err
	}
	if status, ok := f.stopStatus[addr]; ok {
		return status, nil
	}
	return StopOk, nil
}

func registerNode(s *NodeScheduler, id types.NodeID, slots int, addr string) {
	s.RegisterNode(types.RegisterNodeReq{NodeID: id, TaskSlots: slots, Addr: addr})
}

func freeSlots(s *NodeScheduler, id types.NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id].FreeSlots
}

func nodeExists(s *NodeScheduler, id types.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[id]
	return ok
}

func TestPlacementFitsOneNode(t *testing.T) {
	s := NewNodeScheduler(newFakeAgentClient(), fakeBinarySource{})
	registerNode(s, 1, 16, "n1:7000")

	ids, err := s.StartWorkers(context.Background(), types.StartPipelineReq{JobID: "job-1", Slots: 4})

	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, 12, freeSlots(s, 1))
}

func TestBestFitAcrossTwoNodes(t *testing.T) {
	s := NewNodeScheduler(newFakeAgentClient(), fakeBinarySource{})
	registerNode(s, 1, 16, "n1:7000")
	registerNode(s, 2, 8, "n2:7000")

	ids, err := s.StartWorkers(context.Background(), types.StartPipelineReq{JobID: "job-1", Slots: 20})

	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, 0, freeSlots(s, 1))
	assert.Equal(t, 4, freeSlots(s, 2))
}

func TestInsufficientCapacity(t *testing.T) {
	s := NewNodeScheduler(newFakeAgentClient(), fakeBinarySource{})
	registerNode(s, 1, 16, "n1:7000")
	registerNode(s, 2, 8, "n2:7000")

	_, err := s.StartWorkers(context.Background(), types.StartPipelineReq{JobID: "job-1", Slots: 32})

	var notEnough *NotEnoughSlots
	require.ErrorAs(t, err, &notEnough)
	assert.Equal(t, 8, notEnough.Missing)
	assert.Equal(t, 16, freeSlots(s, 1))
	assert.Equal(t, 8, freeSlots(s, 2))
}

func TestMidPlacementFailureRollback(t *testing.T) {
	client := newFakeAgentClient()
	client.failStartOn["n2:7000"] = true
	s := NewNodeScheduler(client, fakeBinarySource{})
	registerNode(s, 1, 16, "n1:7000")
	registerNode(s, 2, 16, "n2:7000")

	_, err := s.StartWorkers(context.Background(), types.StartPipelineReq{JobID: "job-1", Slots: 24})

	var other *Other
	require.ErrorAs(t, err, &other)
	assert.Equal(t, 16, freeSlots(s, 1))
	assert.Equal(t, 16, freeSlots(s, 2))
}

func TestStaleNodeEviction(t *testing.T) {
	s := NewNodeScheduler(newFakeAgentClient(), fakeBinarySource{})
	registerNode(s, 1, 16, "n1:7000")
	s.nodes[1].LastHeartbeat = time.Now().Add(-31 * time.Second)

	_, err := s.StartWorkers(context.Background(), types.StartPipelineReq{JobID: "job-1", Slots: 1})

	var notEnough *NotEnoughSlots
	require.ErrorAs(t, err, &notEnough)
	assert.False(t, nodeExists(s, 1))
}

func TestStopWorkersUnreachablePeerTreatedAsStopped(t *testing.T) {
	client := newFakeAgentClient()
	client.stopErr["n1:7000"] = errors.New("connection refused")
	s := NewNodeScheduler(client, fakeBinarySource{})
	registerNode(s, 1, 16, "n1:7000")
	ids, err := s.StartWorkers(context.Background(), types.StartPipelineReq{JobID: "job-1", Slots: 4})
	require.NoError(t, err)

	err = s.StopWorkers(context.Background(), "job-1", nil, false)

	require.NoError(t, err)
	s.mu.Lock()
	assert.False(t, s.workers[ids[0]].Running)
	s.mu.Unlock()
}

func TestStopWorkersStopFailedIsFatal(t *testing.T) {
	client := newFakeAgentClient()
	client.stopStatus["n1:7000"] = StopFailed
	s := NewNodeScheduler(client, fakeBinarySource{})
	registerNode(s, 1, 16, "n1:7000")
	_, err := s.StartWorkers(context.Background(), types.StartPipelineReq{JobID: "job-1", Slots: 4})
	require.NoError(t, err)

	err = s.StopWorkers(context.Background(), "job-1", nil, false)

	require.Error(t, err)
	require.ErrorIs(t, err, ErrStopFailed)
}

func TestStopWorkersNotFoundRequiresForce(t *testing.T) {
	client := newFakeAgentClient()
	client.stopStatus["n1:7000"] = StopNotFound
	s := NewNodeScheduler(client, fakeBinarySource{})
	registerNode(s, 1, 16, "n1:7000")
	_, err := s.StartWorkers(context.Background(), types.StartPipelineReq{JobID: "job-1", Slots: 4})
	require.NoError(t, err)

	err = s.StopWorkers(context.Background(), "job-1", nil, false)
	require.Error(t, err)

	err = s.StopWorkers(context.Background(), "job-1", nil, true)
	require.NoError(t, err)
}

func TestWorkerFinishedUnknownWorkerIsNotFatal(t *testing.T) {
	s := NewNodeScheduler(newFakeAgentClient(), fakeBinarySource{})
	registerNode(s, 1, 16, "n1:7000")

	require.NotPanics(t, func() {
		s.WorkerFinished(types.WorkerFinishedReq{NodeID: 1, WorkerID: 999, Slots: 4})
	})
	assert.Equal(t, 16, freeSlots(s, 1))
}
