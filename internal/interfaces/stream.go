package interfaces

import "github.com/lithium-07/dedup-webset/internal/models"

// StreamSubscriber is one registered delivery sink for a job's event stream.
// Events arrives in publish order; a full buffer drops the subscriber rather
// than blocking the producer.
type StreamSubscriber interface {
	// Events is the ordered frame channel. Closed when the subscription ends.
	Events() <-chan models.StreamEvent
	// Close detaches the subscriber. Idempotent.
	Close()
}

// StreamBus is the per-job broadcast registry. Delivery is best-effort,
// ordered per subscriber, and never blocks the publisher.
type StreamBus interface {
	// Subscribe attaches a sink to jobID. The returned subscriber first
	// receives a connected frame, then a replay of the accepted items already
	// known for the job, then the live stream.
	Subscribe(jobID string) StreamSubscriber

	// Publish delivers an event to every subscriber of jobID.
	Publish(jobID string, event models.StreamEvent)

	// CloseJob delivers nothing further for jobID and detaches all of its
	// subscribers after the events already queued drain.
	CloseJob(jobID string)

	// SubscriberCount reports attached sinks for a job (for stats).
	SubscriberCount(jobID string) int
}
