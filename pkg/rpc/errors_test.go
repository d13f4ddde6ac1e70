package rpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"

	"github.com/fluxgrid/fluxgrid/pkg/scheduler"
)

func TestSchedulerErrorCode(t *testing.T) {
	assert.Equal(t, codes.OK, SchedulerErrorCode(nil))
	assert.Equal(t, codes.ResourceExhausted, SchedulerErrorCode(&scheduler.NotEnoughSlots{Missing: 2}))
	assert.Equal(t, codes.FailedPrecondition, SchedulerErrorCode(&scheduler.CompilationNeeded{JobID: "job-1"}))
	assert.Equal(t, codes.NotFound, SchedulerErrorCode(scheduler.ErrNodeNotFound))
	assert.Equal(t, codes.Internal, SchedulerErrorCode(scheduler.ErrStopFailed))
	assert.Equal(t, codes.Unavailable, SchedulerErrorCode(&scheduler.Other{Msg: "dial timeout"}))
	assert.Equal(t, codes.Unknown, SchedulerErrorCode(errors.New("boom")))
}

func TestSchedulerErrorCodeWrapped(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), scheduler.ErrNodeNotFound)
	assert.Equal(t, codes.NotFound, SchedulerErrorCode(wrapped))
}
