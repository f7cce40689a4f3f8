package bus

import (
	"context"
	"sync"

	"signalflow/models"
)

// Subscription is the handle returned by Bus.Subscribe. Consume either by
// ranging over Events() or by calling Next with a context. Close detaches
// the subscription from its topic; events already queued stay drainable
// until the channel is exhausted.
type Subscription struct {
	bus   *Bus
	topic *topic
	id    int
	ch    chan models.Event

	closeOnce sync.Once
}

// ID returns the process-unique subscriber id.
func (s *Subscription) ID() int {
	return s.id
}

// Topic returns the name of the topic this subscription is attached to.
func (s *Subscription) Topic() string {
	return s.topic.name
}

// Events exposes the delivery queue for range-based consumption. The
// channel closes after Close.
func (s *Subscription) Events() <-chan models.Event {
	return s.ch
}

// Next blocks until an event is delivered, the subscription is closed and
// drained, or the context is cancelled. The second return is false when no
// more events will arrive.
func (s *Subscription) Next(ctx context.Context) (models.Event, bool) {
	select {
	case ev, ok := <-s.ch:
		return ev, ok
	case <-ctx.Done():
		return models.Event{}, false
	}
}

// Close detaches the subscription from its topic. Safe to call multiple
// times.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.topic.unsubscribe(s.id)
	})
}
