package operator

import (
	"context"
	"time"

	"github.com/fluxgrid/fluxgrid/pkg/log"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// Methods is the per-operator method table. A generic Runner dispatches
// into it instead of every operator shape getting its own generated event
// loop; nil fields fall back to the defaults documented on each field,
// emulating trait default methods without code generation.
type Methods struct {
	// ProcessElement handles a Record on a single-input (Source-consumer)
	// operator. Required for single-logical-input operators.
	ProcessElement func(ctx context.Context, frame types.MessageFrame) error

	// ProcessLeft and ProcessRight handle Records on a two-input
	// (CoProcess) operator's first and second logical input. Required for
	// two-logical-input operators.
	ProcessLeft  func(ctx context.Context, frame types.MessageFrame) error
	ProcessRight func(ctx context.Context, frame types.MessageFrame) error

	// HandleCheckpoint runs once a checkpoint epoch's barrier has aligned
	// across every physical input, before the state backend's snapshot.
	// Default: no-op.
	HandleCheckpoint func(ctx context.Context, epoch uint64) error

	// OnStart runs once before the event loop begins reading input.
	// Default: no-op.
	OnStart func(ctx context.Context) error

	// OnClose runs once after every input has reached Stop or EndOfData.
	// Default: no-op.
	OnClose func(ctx context.Context) error

	// HandleTimer fires for every registered timer whose trigger time is
	// at or before the subtask's current watermark. Default: no-op.
	HandleTimer func(ctx context.Context, key string, data []byte) error

	// HandleWatermark runs after the subtask's output watermark advances.
	// Default: forward the watermark downstream on every output.
	HandleWatermark func(ctx context.Context, watermark time.Time, broadcast BroadcastFunc) error

	// HandleRawControlMessage handles a control-channel message the loop
	// does not itself interpret. Default: log at warn.
	HandleRawControlMessage func(ctx context.Context, raw []byte)

	// Tables returns the operator's named state table declarations.
	// Default: empty.
	Tables func() map[string][]byte
}

// BroadcastFunc emits a frame on every output channel of the subtask.
type BroadcastFunc func(frame types.MessageFrame)

// withDefaults returns a copy of m with every nil field replaced by its
// documented default implementation.
func withDefaults(m Methods, ctxID types.OperatorID, taskIdx types.TaskIndex) Methods {
	if m.HandleCheckpoint == nil {
		m.HandleCheckpoint = func(context.Context, uint64) error { return nil }
	}
	if m.OnStart == nil {
		m.OnStart = func(context.Context) error { return nil }
	}
	if m.OnClose == nil {
		m.OnClose = func(context.Context) error { return nil }
	}
	if m.HandleTimer == nil {
		m.HandleTimer = func(context.Context, string, []byte) error { return nil }
	}
	if m.HandleWatermark == nil {
		m.HandleWatermark = func(ctx context.Context, watermark time.Time, broadcast BroadcastFunc) error {
			broadcast(types.MessageFrame{Kind: types.MessageWatermark, Watermark: watermark})
			return nil
		}
	}
	if m.HandleRawControlMessage == nil {
		opLog := log.WithOperatorID(string(ctxID), int(taskIdx))
		m.HandleRawControlMessage = func(ctx context.Context, raw []byte) {
			opLog.Warn().Int("bytes", len(raw)).Msg("unhandled raw control message")
		}
	}
	if m.Tables == nil {
		m.Tables = func() map[string][]byte { return map[string][]byte{} }
	}
	return m
}
