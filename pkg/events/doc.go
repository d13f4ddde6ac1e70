/*
Package events provides an in-memory event broker for fluxgrid's internal
pub/sub messaging.

The events package implements a lightweight event bus for broadcasting
controller-side lifecycle events — job scheduling outcomes, worker and node
transitions, and checkpoint phase changes — to interested subscribers. It
supports non-blocking, best-effort delivery with buffered channels,
decoupling the scheduler and checkpoint coordinator from whatever observes
them (metrics, CLI watch streams, audit logging).

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Non-blocking publish (buffered channel), best-effort delivery
  - Graceful shutdown via stop channel

Event:
  - Type: one of the EventType constants below
  - Timestamp: set automatically on Publish if zero
  - Message: human-readable description
  - Metadata: key-value pairs for additional context (job_id, node_id, ...)

# Event Types Catalog

Job events: EventJobScheduled, EventJobFailed, EventJobFinished.

Worker events: EventWorkerStarted, EventWorkerFailed, EventWorkerFinished.

Node events: EventNodeJoined, EventNodeLeft, EventNodeEvicted.

Job, worker and node event types are declared only; pkg/scheduler does not
publish to a Broker.

Checkpoint events: EventCheckpointStartedAlignment,
EventCheckpointStartedSnapshot, EventCheckpointFinishedOperator,
EventCheckpointFinishedSync — published by pkg/checkpoint's Coordinator
as it moves through the six-step checkpoint lifecycle.

# Usage

	import "github.com/fluxgrid/fluxgrid/pkg/events"

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			log.WithComponent("scheduler").Info().Str("type", string(ev.Type)).Msg(ev.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:     events.EventWorkerFailed,
		Message:  "worker lost its node before reporting finished",
		Metadata: map[string]string{"worker_id": workerID, "node_id": nodeID},
	})

# Design Patterns

Fan-out, fire-and-forget: a single published event is broadcast to every
subscriber's own buffered channel; a full subscriber buffer drops the event
rather than blocking the publisher. This broker backs observability, not
the scheduling or checkpoint control path itself — nothing on the hot path
depends on an event actually being delivered.
*/
package events
