package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// NodeAgentServer is implemented by the per-node binary receiver
// (pkg/nodeagent). It is the counterparty the node scheduler dials.
type NodeAgentServer interface {
	StartWorker(stream NodeAgentStartWorkerStream) error
	StopWorker(ctx context.Context, req *StopWorkerReq) (*StopWorkerResp, error)
}

// NodeAgentStartWorkerStream is the server side of the client-streaming
// StartWorker call: one Header frame followed by NodePartSize-chunked
// Data frames.
type NodeAgentStartWorkerStream interface {
	grpc.ServerStream
	Recv() (*StartWorkerFrame, error)
	SendAndClose(*StartWorkerResp) error
}

type nodeAgentStartWorkerStream struct {
	grpc.ServerStream
}

func (s *nodeAgentStartWorkerStream) Recv() (*StartWorkerFrame, error) {
	m := new(StartWorkerFrame)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *nodeAgentStartWorkerStream) SendAndClose(resp *StartWorkerResp) error {
	return s.ServerStream.SendMsg(resp)
}

func startWorkerStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(NodeAgentServer).StartWorker(&nodeAgentStartWorkerStream{ServerStream: stream})
}

func stopWorkerHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(StopWorkerReq)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgentServer).StopWorker(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fluxgrid.NodeAgent/StopWorker"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NodeAgentServer).StopWorker(ctx, req.(*StopWorkerReq))
	}
	return interceptor(ctx, req, info, handler)
}

// NodeAgentServiceDesc substitutes for a protoc-generated ServiceDesc:
// same structural shape (one client-streaming method, one unary method),
// with plain Go structs marshaled by the JSON codec instead of protobuf.
var NodeAgentServiceDesc = grpc.ServiceDesc{
	ServiceName: "fluxgrid.NodeAgent",
	HandlerType: (*NodeAgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StopWorker", Handler: stopWorkerHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StartWorker", Handler: startWorkerStreamHandler, ClientStreams: true},
	},
	Metadata: "fluxgrid/nodeagent.proto",
}
