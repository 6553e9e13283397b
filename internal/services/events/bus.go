package events

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
)

// Bus is the per-job broadcast registry. Each job owns a set of subscriber
// sinks plus an ordered replay log of accepted-item frames; a new subscriber
// gets connected + replay + live stream. Delivery never blocks the producer:
// a sink whose buffer is full is dropped.
type Bus struct {
	logger     arbor.ILogger
	bufferSize int

	mu   sync.Mutex
	jobs map[string]*jobStream
}

type jobStream struct {
	subs     map[*subscriber]struct{}
	replay   []models.StreamEvent // accepted item/confirm frames, publish order
	terminal *models.StreamEvent  // finished or error frame once the job ends
	closed   bool
}

type subscriber struct {
	events chan models.StreamEvent
	bus    *Bus
	jobID  string
	once   sync.Once
}

func (s *subscriber) Events() <-chan models.StreamEvent {
	return s.events
}

func (s *subscriber) Close() {
	s.once.Do(func() {
		s.bus.detach(s.jobID, s)
		close(s.events)
	})
}

// NewBus creates a broadcast bus with the given per-subscriber buffer size.
func NewBus(logger arbor.ILogger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		logger:     logger,
		bufferSize: bufferSize,
		jobs:       make(map[string]*jobStream),
	}
}

func (b *Bus) stream(jobID string) *jobStream {
	js, ok := b.jobs[jobID]
	if !ok {
		js = &jobStream{subs: make(map[*subscriber]struct{})}
		b.jobs[jobID] = js
	}
	return js
}

// Subscribe attaches a sink to jobID. The subscriber's channel is sized to
// hold the connected frame and the full replay so the join sequence can never
// drop the sink.
func (b *Bus) Subscribe(jobID string) interfaces.StreamSubscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	js := b.stream(jobID)

	size := b.bufferSize
	if need := len(js.replay) + 8; need > size {
		size = need
	}
	sub := &subscriber{
		events: make(chan models.StreamEvent, size),
		bus:    b,
		jobID:  jobID,
	}

	sub.events <- models.ConnectedEvent(jobID)
	for _, ev := range js.replay {
		sub.events <- ev
	}

	if js.closed {
		// Job already terminal: deliver the final frame and end the stream.
		if js.terminal != nil {
			sub.events <- *js.terminal
		}
		sub.once.Do(func() { close(sub.events) })
		return sub
	}

	js.subs[sub] = struct{}{}
	return sub
}

// Publish delivers an event to every subscriber of jobID, in order. A full
// sink is detached instead of blocking ingestion.
func (b *Bus) Publish(jobID string, event models.StreamEvent) {
	b.mu.Lock()
	js := b.stream(jobID)
	if js.closed {
		b.mu.Unlock()
		return
	}

	switch event.Type {
	case models.EventItem, models.EventConfirm:
		// Both frame kinds announce an accepted row, so both replay.
		js.replay = append(js.replay, event)
	case models.EventFinished, models.EventError:
		ev := event
		js.terminal = &ev
	}

	var dropped []*subscriber
	for sub := range js.subs {
		select {
		case sub.events <- event:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		delete(js.subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range dropped {
		b.logger.Warn().
			Str("job_id", jobID).
			Msg("Dropping slow stream subscriber")
		sub.once.Do(func() { close(sub.events) })
	}
}

// CloseJob marks the job stream terminal and detaches all subscribers. Frames
// already buffered in each sink drain normally before the channel close is
// observed.
func (b *Bus) CloseJob(jobID string) {
	b.mu.Lock()
	js := b.stream(jobID)
	if js.closed {
		b.mu.Unlock()
		return
	}
	js.closed = true
	subs := make([]*subscriber, 0, len(js.subs))
	for sub := range js.subs {
		subs = append(subs, sub)
	}
	js.subs = make(map[*subscriber]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.events) })
	}
}

func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if js, ok := b.jobs[jobID]; ok {
		return len(js.subs)
	}
	return 0
}

func (b *Bus) detach(jobID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if js, ok := b.jobs[jobID]; ok {
		delete(js.subs, sub)
	}
}
