package operator

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxgrid/fluxgrid/pkg/metrics"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

const deserializationReportWindow = 30 * time.Second

// DeserializationErrorReporter aggregates deserialization failures from a
// source's input and emits one log line per window carrying the count,
// instead of logging every malformed record individually.
type DeserializationErrorReporter struct {
	mu         sync.Mutex
	operatorID types.OperatorID
	log        zerolog.Logger
	windowOpen time.Time
	count      int
	lastErr    error
}

// NewDeserializationErrorReporter builds a reporter for one operator
// subtask.
func NewDeserializationErrorReporter(operatorID types.OperatorID, log zerolog.Logger) *DeserializationErrorReporter {
	return &DeserializationErrorReporter{operatorID: operatorID, log: log}
}

// Report records one deserialization failure. It always increments the
// Prometheus counter; the log line itself is rate-limited to one per
// window, flushed lazily on the next Report call after the window closes.
func (r *DeserializationErrorReporter) Report(err error) {
	metrics.DeserializationErrorsTotal.WithLabelValues(string(r.operatorID)).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.count > 0 && now.Sub(r.windowOpen) >= deserializationReportWindow {
		r.flushLocked()
	}
	if r.count == 0 {
		r.windowOpen = now
	}
	r.count++
	r.lastErr = err
}

// Flush emits a pending report immediately, regardless of window
// elapsed. Intended to be called on subtask shutdown so the final
// partial window is not silently dropped.
func (r *DeserializationErrorReporter) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

func (r *DeserializationErrorReporter) flushLocked() {
	if r.count == 0 {
		return
	}
	r.log.Warn().
		Int("count", r.count).
		Dur("window", time.Since(r.windowOpen)).
		Err(r.lastErr).
		Msg("deserialization errors")
	r.count = 0
	r.lastErr = nil
}
