package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// StartPipelineResp carries the worker ids placed by a StartPipeline call.
type StartPipelineResp struct {
	WorkerIDs []types.WorkerID
}

// StopPipelineReq requests every worker of (job, run) be stopped. A nil
// RunID targets every run of the job.
type StopPipelineReq struct {
	JobID types.JobID
	RunID *types.RunID
	Force bool
}

// WorkersForJobReq lists the workers tracked for (job, run). A nil RunID
// matches every run of the job.
type WorkersForJobReq struct {
	JobID types.JobID
	RunID *types.RunID
}

// WorkersForJobResp carries the matching worker ids.
type WorkersForJobResp struct {
	WorkerIDs []types.WorkerID
}

// SchedulerServer is the controller's client-facing RPC front end,
// exposing the scheduler.Scheduler placement contract to
// cmd/fluxgridctl's pipeline subcommands.
type SchedulerServer interface {
	StartPipeline(ctx context.Context, req *types.StartPipelineReq) (*StartPipelineResp, error)
	StopPipeline(ctx context.Context, req *StopPipelineReq) (*Ack, error)
	WorkersForJob(ctx context.Context, req *WorkersForJobReq) (*WorkersForJobResp, error)
}

// SchedulerServiceDesc substitutes for a protoc-generated ServiceDesc for
// the pipeline submit/stop/ps surface.
var SchedulerServiceDesc = grpc.ServiceDesc{
	ServiceName: "fluxgrid.Scheduler",
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "StartPipeline",
			Handler: unaryHandler("/fluxgrid.Scheduler/StartPipeline",
				func(srv any, ctx context.Context, req any) (any, error) {
					return srv.(SchedulerServer).StartPipeline(ctx, req.(*types.StartPipelineReq))
				},
				func() any { return new(types.StartPipelineReq) }),
		},
		{
			MethodName: "StopPipeline",
			Handler: unaryHandler("/fluxgrid.Scheduler/StopPipeline",
				func(srv any, ctx context.Context, req any) (any, error) {
					return srv.(SchedulerServer).StopPipeline(ctx, req.(*StopPipelineReq))
				},
				func() any { return new(StopPipelineReq) }),
		},
		{
			MethodName: "WorkersForJob",
			Handler: unaryHandler("/fluxgrid.Scheduler/WorkersForJob",
				func(srv any, ctx context.Context, req any) (any, error) {
					return srv.(SchedulerServer).WorkersForJob(ctx, req.(*WorkersForJobReq))
				},
				func() any { return new(WorkersForJobReq) }),
		},
	},
	Metadata: "fluxgrid/scheduler.proto",
}

// SchedulerClient dials the controller's client-facing RPC surface.
type SchedulerClient struct {
	conn *grpc.ClientConn
}

// DialScheduler opens a connection to the controller at addr.
func DialScheduler(addr string) (*SchedulerClient, error) {
	conn, err := grpc.NewClient(addr, dialOpts()...)
	if err != nil {
		return nil, err
	}
	return &SchedulerClient{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *SchedulerClient) Close() error { return c.conn.Close() }

func (c *SchedulerClient) StartPipeline(ctx context.Context, req types.StartPipelineReq) (*StartPipelineResp, error) {
	resp := new(StartPipelineResp)
	if err := c.conn.Invoke(ctx, "/fluxgrid.Scheduler/StartPipeline", &req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *SchedulerClient) StopPipeline(ctx context.Context, req StopPipelineReq) error {
	return c.conn.Invoke(ctx, "/fluxgrid.Scheduler/StopPipeline", &req, new(Ack))
}

func (c *SchedulerClient) WorkersForJob(ctx context.Context, req WorkersForJobReq) (*WorkersForJobResp, error) {
	resp := new(WorkersForJobResp)
	if err := c.conn.Invoke(ctx, "/fluxgrid.Scheduler/WorkersForJob", &req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
