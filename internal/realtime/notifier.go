package realtime

import (
	"context"

	"go.uber.org/zap"
)

// Sink receives drained events. *Hub is the production sink.
type Sink interface {
	Broadcast(name string, payload interface{})
}

// Notifier decouples the engines from the fan-out: Publish never
// blocks the ingestion path. Events queue into a bounded channel
// drained by a single consumer; when the queue is full the oldest
// event is dropped to make room, since stale realtime updates are
// worthless by definition.
type Notifier struct {
	events chan Event
	sink   Sink
	logger *zap.Logger
}

// NewNotifier creates a notifier with the given queue capacity.
func NewNotifier(sink Sink, capacity int, logger *zap.Logger) *Notifier {
	if capacity <= 0 {
		capacity = 256
	}
	return &Notifier{
		events: make(chan Event, capacity),
		sink:   sink,
		logger: logger,
	}
}

// Publish enqueues an event, dropping the oldest queued event when the
// queue is full.
func (n *Notifier) Publish(name string, payload interface{}) {
	ev := Event{Name: name, Payload: payload}
	for {
		select {
		case n.events <- ev:
			return
		default:
		}
		select {
		case dropped := <-n.events:
			n.logger.Warn("Notification queue full, dropping oldest event",
				zap.String("dropped", dropped.Name),
			)
		default:
		}
	}
}

// Run drains the queue into the sink until the context is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.events:
			n.sink.Broadcast(ev.Name, ev.Payload)
		}
	}
}
