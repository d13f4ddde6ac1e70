package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// unaryHandler builds a grpc.MethodDesc.Handler for a single-request,
// single-response RPC without a protoc-generated stub: it decodes into a
// freshly allocated request, then runs the interceptor chain (if any)
// around call.
func unaryHandler(fullMethod string, call func(srv any, ctx context.Context, req any) (any, error), newReq func() any) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) { return call(srv, ctx, req) }
		return interceptor(ctx, req, info, handler)
	}
}
