package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ErrorTranslatingInterceptor wraps every unary handler's returned error in
// a gRPC status carrying the code SchedulerErrorCode maps it to, so a
// client sees codes.ResourceExhausted/NotFound/FailedPrecondition/... (and,
// via rpc.HTTPStatus, the matching HTTP status) instead of codes.Unknown.
func ErrorTranslatingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		return resp, status.Error(SchedulerErrorCode(err), err.Error())
	}
}
