package operator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxgrid/fluxgrid/pkg/checkpoint"
	"github.com/fluxgrid/fluxgrid/pkg/log"
	"github.com/fluxgrid/fluxgrid/pkg/metrics"
	"github.com/fluxgrid/fluxgrid/pkg/types"
	"github.com/fluxgrid/fluxgrid/pkg/watermark"
)

// Frame is a single item arriving on a partition. Native is set when the
// frame came off an in-process channel and needs no further decoding;
// Raw is set when it arrived as bytes over the wire and must be passed
// through a Codec first.
type Frame struct {
	Native *types.MessageFrame
	Raw    []byte
}

func (f Frame) decode(c *Codec) (types.MessageFrame, error) {
	if f.Native != nil {
		return *f.Native, nil
	}
	return c.Decode(f.Raw)
}

// Partition is one physical input partition feeding a subtask.
type Partition struct {
	LogicalInput int
	Index        int
	Frames       <-chan Frame

	permit chan struct{}
}

// NewPartition wires a physical partition at global index idx, belonging
// to logical input logicalInput, backed by ch.
func NewPartition(logicalInput, idx int, ch <-chan Frame) *Partition {
	p := &Partition{LogicalInput: logicalInput, Index: idx, Frames: ch, permit: make(chan struct{}, 1)}
	p.permit <- struct{}{}
	return p
}

type taggedFrame struct {
	partitionIndex int
	frame          Frame
}

func forwardPartition(ctx context.Context, p *Partition, out chan<- taggedFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.permit:
		}
		select {
		case <-ctx.Done():
			return
		case f, ok := <-p.Frames:
			if !ok {
				return
			}
			select {
			case out <- taggedFrame{partitionIndex: p.Index, frame: f}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Config assembles everything a Runner needs to drive one subtask.
type Config struct {
	Context     Context
	Methods     Methods
	Partitions  []*Partition
	Control     <-chan []byte
	Broadcast   BroadcastFunc
	Codec       *Codec
	Coordinator *checkpoint.Coordinator // nil disables checkpointing for this subtask
	Snapshot    checkpoint.SnapshotFunc
	Reporter    *DeserializationErrorReporter
}

// Runner is the generic per-subtask event loop: non-blocking select
// across the control channel and the next ready partition from the
// union of input streams, with a ready-set/blocked-set multiplexer
// gating partitions that have already delivered their barrier for the
// in-flight checkpoint epoch.
type Runner struct {
	ctx         Context
	methods     Methods
	partitions  []*Partition
	control     <-chan []byte
	broadcast   BroadcastFunc
	codec       *Codec
	coordinator *checkpoint.Coordinator
	snapshot    checkpoint.SnapshotFunc
	reporter    *DeserializationErrorReporter

	watermarks *watermark.Vector
	timers     *watermark.Service
	tracer     trace.Tracer
	log        zerolog.Logger

	blocked    map[int]bool
	stoppedSet map[int]bool
}

// NewRunner builds a Runner from cfg, filling unset Methods with their
// documented defaults.
func NewRunner(cfg Config) *Runner {
	codec := cfg.Codec
	if codec == nil {
		codec = NewCodec()
	}
	opLog := log.WithOperatorID(string(cfg.Context.OperatorID), int(cfg.Context.TaskIndex))
	return &Runner{
		ctx:         cfg.Context,
		methods:     withDefaults(cfg.Methods, cfg.Context.OperatorID, cfg.Context.TaskIndex),
		partitions:  cfg.Partitions,
		control:     cfg.Control,
		broadcast:   cfg.Broadcast,
		codec:       codec,
		coordinator: cfg.Coordinator,
		snapshot:    cfg.Snapshot,
		reporter:    cfg.Reporter,
		watermarks:  watermark.NewVector(cfg.Context.NumLogicalInputs),
		timers:      watermark.NewService(),
		tracer:      otel.Tracer("fluxgrid/operator"),
		log:         opLog,
		blocked:     make(map[int]bool),
		stoppedSet:  make(map[int]bool),
	}
}

// Run drives the event loop until every partition reaches Stop or
// EndOfData, a completed barrier carrying ThenStop has been broadcast,
// the context is cancelled, or a fatal error is returned.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.methods.OnStart(ctx); err != nil {
		return fmt.Errorf("operator on_start: %w", err)
	}

	merged := make(chan taggedFrame, len(r.partitions))
	for _, p := range r.partitions {
		go forwardPartition(ctx, p, merged)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-r.control:
			r.methods.HandleRawControlMessage(ctx, raw)
		case tf := <-merged:
			done, err := r.dispatch(ctx, tf)
			if err != nil {
				return err
			}
			if done {
				if r.reporter != nil {
					r.reporter.Flush()
				}
				return r.methods.OnClose(ctx)
			}
		}
	}
}

func (r *Runner) partitionByIndex(idx int) *Partition {
	for _, p := range r.partitions {
		if p.Index == idx {
			return p
		}
	}
	return nil
}

// dispatch handles one frame and reports whether the subtask is finished:
// every partition has reached Stop/EndOfData, or a completed barrier
// carrying ThenStop has been broadcast.
func (r *Runner) dispatch(ctx context.Context, tf taggedFrame) (done bool, err error) {
	frame, err := tf.frame.decode(r.codec)
	if err != nil {
		if r.reporter != nil {
			r.reporter.Report(err)
		}
		r.readmit(tf.partitionIndex)
		return false, nil
	}
	if tf.frame.Native == nil {
		metrics.IngressBytesTotal.WithLabelValues(string(r.ctx.OperatorID)).Add(float64(len(tf.frame.Raw)))
	}

	logicalIdx := r.ctx.LogicalInputFor(tf.partitionIndex)

	switch frame.Kind {
	case types.MessageRecord:
		if err := r.dispatchRecord(ctx, logicalIdx, frame); err != nil {
			return false, fmt.Errorf("operator %s subtask %d: %w", r.ctx.OperatorID, r.ctx.TaskIndex, err)
		}
		r.readmit(tf.partitionIndex)
		return false, nil

	case types.MessageWatermark:
		r.handleWatermark(ctx, logicalIdx, frame.Watermark)
		r.readmit(tf.partitionIndex)
		return false, nil

	case types.MessageBarrier:
		return r.handleBarrier(ctx, tf.partitionIndex, frame)

	case types.MessageStop, types.MessageEndOfData:
		return r.handleTermination(ctx, tf.partitionIndex, frame)

	default:
		return false, fmt.Errorf("operator %s: unknown message kind %d", r.ctx.OperatorID, frame.Kind)
	}
}

func (r *Runner) dispatchRecord(ctx context.Context, logicalIdx int, frame types.MessageFrame) error {
	metrics.IngressRecordsTotal.WithLabelValues(string(r.ctx.OperatorID)).Inc()

	spanCtx, span := r.tracer.Start(ctx, "handle_fn", trace.WithAttributes(
		attribute.String("operator_id", string(r.ctx.OperatorID)),
		attribute.String("operator_name", r.ctx.OperatorName),
		attribute.Int("subtask_index", int(r.ctx.TaskIndex)),
	))
	defer span.End()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DispatchDuration, string(r.ctx.OperatorID))

	switch {
	case r.ctx.NumLogicalInputs <= 1:
		if r.methods.ProcessElement == nil {
			return fmt.Errorf("process_element not implemented")
		}
		return r.methods.ProcessElement(spanCtx, frame)
	case logicalIdx == 0:
		if r.methods.ProcessLeft == nil {
			return fmt.Errorf("process_left not implemented")
		}
		return r.methods.ProcessLeft(spanCtx, frame)
	default:
		if r.methods.ProcessRight == nil {
			return fmt.Errorf("process_right not implemented")
		}
		return r.methods.ProcessRight(spanCtx, frame)
	}
}

func (r *Runner) handleWatermark(ctx context.Context, logicalIdx int, wm time.Time) {
	out, advanced := r.watermarks.Advance(logicalIdx, wm)
	if !advanced {
		return
	}
	for _, due := range r.timers.Fire(out) {
		if err := r.methods.HandleTimer(ctx, due.Key, due.Data); err != nil {
			r.log.Warn().Err(err).Str("timer_key", due.Key).Msg("handle_timer failed")
		}
	}
	if err := r.methods.HandleWatermark(ctx, out, r.broadcast); err != nil {
		r.log.Warn().Err(err).Msg("handle_watermark failed")
	}
}

func (r *Runner) handleBarrier(ctx context.Context, idx int, frame types.MessageFrame) (done bool, err error) {
	if r.coordinator == nil {
		r.readmit(idx)
		return false, nil
	}

	r.blocked[idx] = true
	cerr := r.coordinator.HandleBarrier(ctx, idx, frame, r.methods.HandleCheckpoint, r.snapshot, func(f types.MessageFrame) { r.broadcast(f) }, r.watermarks.Current())
	if r.coordinator.AllClear() {
		r.readmitAllBlocked()
	}
	if errors.Is(cerr, checkpoint.ErrStopAfterBarrier) {
		return true, nil
	}
	if cerr != nil {
		return false, fmt.Errorf("checkpoint alignment: %w", cerr)
	}
	return false, nil
}

func (r *Runner) handleTermination(ctx context.Context, idx int, frame types.MessageFrame) (done bool, err error) {
	r.stoppedSet[idx] = true

	if r.coordinator != nil {
		cerr := r.coordinator.HandleRetirement(ctx, idx, frame.Epoch, r.methods.HandleCheckpoint, r.snapshot, func(f types.MessageFrame) { r.broadcast(f) }, r.watermarks.Current())
		if r.coordinator.AllClear() {
			r.readmitAllBlocked()
		}
		if cerr != nil && !errors.Is(cerr, checkpoint.ErrStopAfterBarrier) {
			return false, fmt.Errorf("checkpoint alignment on retirement: %w", cerr)
		}
	}

	if len(r.stoppedSet) < len(r.partitions) {
		return false, nil
	}

	r.broadcast(types.MessageFrame{Kind: frame.Kind})
	return true, nil
}

func (r *Runner) readmit(idx int) {
	if r.blocked[idx] {
		return
	}
	p := r.partitionByIndex(idx)
	if p == nil {
		return
	}
	select {
	case p.permit <- struct{}{}:
	default:
	}
}

func (r *Runner) readmitAllBlocked() {
	for idx := range r.blocked {
		delete(r.blocked, idx)
		r.readmit(idx)
	}
}
