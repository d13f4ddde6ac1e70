package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxgrid_nodes_total",
			Help: "Total number of registered nodes by status",
		},
		[]string{"status"},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxgrid_workers_total",
			Help: "Total number of workers by state",
		},
		[]string{"state"},
	)

	FreeSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxgrid_free_slots",
			Help: "Total number of free task slots across all registered nodes",
		},
	)

	RegisteredSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxgrid_registered_slots",
			Help: "Total number of task slots across all registered nodes",
		},
	)

	// API metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgrid_rpc_requests_total",
			Help: "Total number of controller RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxgrid_rpc_request_duration_seconds",
			Help:    "Controller RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxgrid_scheduling_latency_seconds",
			Help:    "Time taken to place workers for a start_workers call in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkersScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fluxgrid_workers_scheduled_total",
			Help: "Total number of workers successfully placed",
		},
	)

	WorkersFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fluxgrid_workers_failed_total",
			Help: "Total number of worker placements that failed",
		},
	)

	NodesEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fluxgrid_nodes_evicted_total",
			Help: "Total number of nodes evicted for missing the heartbeat window",
		},
	)

	// Operator runtime metrics
	IngressRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgrid_operator_ingress_records_total",
			Help: "Total number of records dispatched to an operator method",
		},
		[]string{"operator_id"},
	)

	IngressBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgrid_operator_ingress_bytes_total",
			Help: "Total number of bytes deserialized from the wire on an operator's inputs",
		},
		[]string{"operator_id"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxgrid_operator_dispatch_duration_seconds",
			Help:    "Time spent inside a single operator method invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operator_id"},
	)

	// Checkpoint metrics
	CheckpointAlignmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxgrid_checkpoint_alignment_duration_seconds",
			Help:    "Time spent waiting for all partitions to contribute a barrier",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operator_id"},
	)

	CheckpointSnapshotDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxgrid_checkpoint_snapshot_duration_seconds",
			Help:    "Time spent in the state backend's async snapshot call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operator_id"},
	)

	CheckpointsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgrid_checkpoints_completed_total",
			Help: "Total number of checkpoint epochs completed by an operator",
		},
		[]string{"operator_id"},
	)

	DeserializationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgrid_deserialization_errors_total",
			Help: "Total number of malformed-record deserialization errors observed by a source",
		},
		[]string{"operator_id"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(FreeSlots)
	prometheus.MustRegister(RegisteredSlots)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(WorkersScheduled)
	prometheus.MustRegister(WorkersFailed)
	prometheus.MustRegister(NodesEvicted)
	prometheus.MustRegister(IngressRecordsTotal)
	prometheus.MustRegister(IngressBytesTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(CheckpointAlignmentDuration)
	prometheus.MustRegister(CheckpointSnapshotDuration)
	prometheus.MustRegister(CheckpointsCompleted)
	prometheus.MustRegister(DeserializationErrorsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
