package rpc

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fluxgrid/fluxgrid/pkg/scheduler"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

func dialOpts() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}
}

// Client is the controller-side stub for the node-agent service: it
// satisfies scheduler.NodeAgentClient by dialing the target node's
// address fresh on every call, matching the "no retry on unreachable
// peer" timeout policy (a failed dial surfaces immediately as an error).
type Client struct{}

// NewClient returns a Client ready to reach any node agent by address.
func NewClient() *Client { return &Client{} }

// StartWorker streams header, then header.BinarySize bytes of binary in
// NodePartSize chunks, to the node agent at addr.
func (c *Client) StartWorker(ctx context.Context, addr string, header scheduler.StartWorkerHeader, binary io.Reader) (types.WorkerID, error) {
	conn, err := grpc.NewClient(addr, dialOpts()...)
	if err != nil {
		return 0, fmt.Errorf("dialing node agent %s: %w", addr, err)
	}
	defer conn.Close()

	stream, err := conn.NewStream(ctx, &NodeAgentServiceDesc.Streams[0], "/fluxgrid.NodeAgent/StartWorker")
	if err != nil {
		return 0, fmt.Errorf("opening start_worker stream to %s: %w", addr, err)
	}

	wireHeader := &StartWorkerFrame{Header: &Header{
		Name:       header.Name,
		JobID:      header.JobID,
		RunID:      header.RunID,
		Wasm:       header.Wasm,
		Slots:      header.Slots,
		NodeID:     header.NodeID,
		EnvVars:    header.EnvVars,
		BinarySize: header.BinarySize,
	}}
	if err := stream.SendMsg(wireHeader); err != nil {
		return 0, fmt.Errorf("sending start_worker header to %s: %w", addr, err)
	}

	buf := make([]byte, NodePartSize)
	var part uint32
	var sent int64
	for sent < header.BinarySize {
		n, rerr := binary.Read(buf)
		if n > 0 {
			sent += int64(n)
			chunk := &StartWorkerFrame{Data: &Data{
				Part:    part,
				Data:    append([]byte(nil), buf[:n]...),
				HasMore: sent < header.BinarySize,
			}}
			if err := stream.SendMsg(chunk); err != nil {
				return 0, fmt.Errorf("sending start_worker chunk %d to %s: %w", part, addr, err)
			}
			part++
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, fmt.Errorf("reading pipeline binary: %w", rerr)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return 0, fmt.Errorf("closing start_worker stream to %s: %w", addr, err)
	}

	resp := new(StartWorkerResp)
	if err := stream.RecvMsg(resp); err != nil {
		return 0, fmt.Errorf("receiving start_worker response from %s: %w", addr, err)
	}
	return resp.WorkerID, nil
}

// StopWorker asks the node agent at addr to stop a worker.
func (c *Client) StopWorker(ctx context.Context, addr string, job types.JobID, worker types.WorkerID, force bool) (scheduler.StopStatus, error) {
	conn, err := grpc.NewClient(addr, dialOpts()...)
	if err != nil {
		return 0, fmt.Errorf("dialing node agent %s: %w", addr, err)
	}
	defer conn.Close()

	req := &StopWorkerReq{JobID: job, WorkerID: worker, Force: force}
	resp := new(StopWorkerResp)
	if err := conn.Invoke(ctx, "/fluxgrid.NodeAgent/StopWorker", req, resp); err != nil {
		return 0, fmt.Errorf("stop_worker rpc to %s: %w", addr, err)
	}

	switch resp.Status {
	case StopStatusOk:
		return scheduler.StopOk, nil
	case StopStatusNotFound:
		return scheduler.StopNotFound, nil
	case StopStatusStopFailed:
		return scheduler.StopFailed, nil
	default:
		return 0, fmt.Errorf("stop_worker rpc to %s: unexpected status %q", addr, resp.Status)
	}
}

// ControllerClient is the node-agent-side stub for the controller
// service: RegisterNode, HeartbeatNode and WorkerFinished, all dialed
// against a single fixed controller address.
type ControllerClient struct {
	conn *grpc.ClientConn
}

// DialController opens a persistent connection to the controller at addr.
func DialController(addr string) (*ControllerClient, error) {
	conn, err := grpc.NewClient(addr, dialOpts()...)
	if err != nil {
		return nil, fmt.Errorf("dialing controller %s: %w", addr, err)
	}
	return &ControllerClient{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *ControllerClient) Close() error { return c.conn.Close() }

func (c *ControllerClient) RegisterNode(ctx context.Context, req types.RegisterNodeReq) error {
	return c.conn.Invoke(ctx, "/fluxgrid.Controller/RegisterNode", &req, new(Ack))
}

func (c *ControllerClient) HeartbeatNode(ctx context.Context, req types.HeartbeatNodeReq) error {
	return c.conn.Invoke(ctx, "/fluxgrid.Controller/HeartbeatNode", &req, new(Ack))
}

func (c *ControllerClient) WorkerFinished(ctx context.Context, req types.WorkerFinishedReq) error {
	return c.conn.Invoke(ctx, "/fluxgrid.Controller/WorkerFinished", &req, new(Ack))
}
