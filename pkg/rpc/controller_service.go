package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// ControllerServer is implemented by the controller's RPC front end: the
// side node agents call into to register, heartbeat, and report worker
// completion.
type ControllerServer interface {
	RegisterNode(ctx context.Context, req *types.RegisterNodeReq) (*Ack, error)
	HeartbeatNode(ctx context.Context, req *types.HeartbeatNodeReq) (*Ack, error)
	WorkerFinished(ctx context.Context, req *types.WorkerFinishedReq) (*Ack, error)
}

// ControllerServiceDesc substitutes for a protoc-generated ServiceDesc,
// mirroring NodeAgentServiceDesc's approach for the opposite RPC
// direction (node agent -> controller).
var ControllerServiceDesc = grpc.ServiceDesc{
	ServiceName: "fluxgrid.Controller",
	HandlerType: (*ControllerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RegisterNode",
			Handler: unaryHandler("/fluxgrid.Controller/RegisterNode",
				func(srv any, ctx context.Context, req any) (any, error) {
					return srv.(ControllerServer).RegisterNode(ctx, req.(*types.RegisterNodeReq))
				},
				func() any { return new(types.RegisterNodeReq) }),
		},
		{
			MethodName: "HeartbeatNode",
			Handler: unaryHandler("/fluxgrid.Controller/HeartbeatNode",
				func(srv any, ctx context.Context, req any) (any, error) {
					return srv.(ControllerServer).HeartbeatNode(ctx, req.(*types.HeartbeatNodeReq))
				},
				func() any { return new(types.HeartbeatNodeReq) }),
		},
		{
			MethodName: "WorkerFinished",
			Handler: unaryHandler("/fluxgrid.Controller/WorkerFinished",
				func(srv any, ctx context.Context, req any) (any, error) {
					return srv.(ControllerServer).WorkerFinished(ctx, req.(*types.WorkerFinishedReq))
				},
				func() any { return new(types.WorkerFinishedReq) }),
		},
	},
	Metadata: "fluxgrid/controller.proto",
}
