package rpc

import (
	"errors"

	"google.golang.org/grpc/codes"

	"github.com/fluxgrid/fluxgrid/pkg/scheduler"
)

// SchedulerErrorCode maps a scheduler error to the gRPC status code a
// server handler should return for it.
func SchedulerErrorCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}

	var notEnoughSlots *scheduler.NotEnoughSlots
	if errors.As(err, &notEnoughSlots) {
		return codes.ResourceExhausted
	}

	var compilationNeeded *scheduler.CompilationNeeded
	if errors.As(err, &compilationNeeded) {
		return codes.FailedPrecondition
	}

	if errors.Is(err, scheduler.ErrNodeNotFound) {
		return codes.NotFound
	}
	if errors.Is(err, scheduler.ErrStopFailed) {
		return codes.Internal
	}

	var other *scheduler.Other
	if errors.As(err, &other) {
		return codes.Unavailable
	}

	return codes.Unknown
}
