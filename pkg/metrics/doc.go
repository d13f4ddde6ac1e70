/*
Package metrics provides Prometheus metrics collection and exposition for
fluxgrid.

The metrics package defines and registers all fluxgrid metrics using the
Prometheus client library, providing observability into node/slot capacity,
controller RPC traffic, scheduling latency, operator dispatch, and
checkpoint progress. Metrics are exposed via an HTTP endpoint for scraping
by Prometheus servers.

# Metrics Catalog

Cluster metrics:

fluxgrid_nodes_total{status}:
  - Type: Gauge
  - Description: Total registered nodes by status; Collector only reports
    "alive" (evicted nodes are counted by fluxgrid_nodes_evicted_total)

fluxgrid_workers_total{state}:
  - Type: Gauge
  - Description: Total workers by state (running/stopping)

fluxgrid_free_slots, fluxgrid_registered_slots:
  - Type: Gauge
  - Description: Free and total task slots across all registered nodes

RPC metrics:

fluxgrid_rpc_requests_total{method, status}:
  - Type: Counter
  - Description: Total controller RPC requests by method and status

fluxgrid_rpc_request_duration_seconds{method}:
  - Type: Histogram
  - Description: Controller RPC request duration in seconds

Scheduler metrics:

fluxgrid_scheduling_latency_seconds:
  - Type: Histogram
  - Description: Time to place workers for a start_workers call

fluxgrid_workers_scheduled_total, fluxgrid_workers_failed_total,
fluxgrid_nodes_evicted_total:
  - Type: Counter

Operator runtime metrics:

fluxgrid_operator_ingress_records_total{operator_id},
fluxgrid_operator_ingress_bytes_total{operator_id}:
  - Type: Counter

fluxgrid_operator_dispatch_duration_seconds{operator_id}:
  - Type: Histogram

Checkpoint metrics:

fluxgrid_checkpoint_alignment_duration_seconds{operator_id},
fluxgrid_checkpoint_snapshot_duration_seconds{operator_id}:
  - Type: Histogram

fluxgrid_checkpoints_completed_total{operator_id},
fluxgrid_deserialization_errors_total{operator_id}:
  - Type: Counter

# Usage

	import "github.com/fluxgrid/fluxgrid/pkg/metrics"

	metrics.NodesTotal.WithLabelValues("alive").Set(5)
	metrics.WorkersScheduled.Inc()

	timer := metrics.NewTimer()
	place()
	timer.ObserveDuration(metrics.SchedulingLatency)

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/scheduler: scheduling latency, placement and eviction counters
    (the node/worker/slot gauges are set by Collector)
  - pkg/operator: dispatch duration, ingress counters
  - pkg/checkpoint: alignment/snapshot duration, completed counters

The RPC metrics are registered, but no package records them.

# Design Patterns

All metrics are registered in init() via MustRegister; Collector
(collector.go) polls a scheduler.Scheduler's snapshot on a fixed interval
to refresh the point-in-time gauges (nodes/workers/slots), since those
values are not naturally updated on every mutation the way counters are.
*/
package metrics
