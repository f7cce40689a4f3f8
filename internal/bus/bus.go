package bus

import (
	"sync"
	"time"

	"signalflow/logger"
	"signalflow/models"
)

const (
	// DefaultHistorySize bounds the per-topic recent-history ring.
	DefaultHistorySize = 2000
	// DefaultQueueSize bounds each subscriber delivery queue.
	DefaultQueueSize = 1000
)

// TopicStats is the per-topic operational snapshot returned by Stats.
type TopicStats struct {
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
	Subscribers int   `json:"subscribers"`
	HistoryLen  int   `json:"history_len"`
	MaxHistory  int   `json:"max_history"`
}

// topic holds one named channel's state. Its mutex guards the history ring,
// the subscriber queue map and the counters; it is never held across I/O.
type topic struct {
	name       string
	mu         sync.Mutex
	queues     map[int]chan models.Event
	history    []models.Event
	maxHistory int
	published  int64
	dropped    int64
}

// Bus is the in-process topic bus. Ingestion paths publish normalized
// events; downstream consumers subscribe per topic with independent bounded
// queues. Delivery is best-effort: a full subscriber queue drops the event
// for that subscriber only, so no consumer can stall a publisher.
type Bus struct {
	mu          sync.Mutex
	topics      map[string]*topic
	historySize int
	queueSize   int
	subIDs      int
	log         *logger.Log
}

// New constructs a bus. Non-positive sizes fall back to the defaults.
func New(historySize, queueSize int) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		topics:      make(map[string]*topic),
		historySize: historySize,
		queueSize:   queueSize,
		log:         logger.GetLogger(),
	}
	b.log.WithComponent("bus").WithFields(logger.Fields{
		"history_size": historySize,
		"queue_size":   queueSize,
	}).Info("signal bus initialized")
	return b
}

// ensureTopic returns the topic, creating it on first access. Creation is
// idempotent under concurrent first callers: the fast path reads under the
// table lock, and only one caller ever constructs the instance.
func (b *Bus) ensureTopic(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[name]; ok {
		return t
	}
	t := &topic{
		name:       name,
		queues:     make(map[int]chan models.Event),
		maxHistory: b.historySize,
	}
	b.topics[name] = t
	return t
}

// Publish builds the envelope and fans it out to every subscriber of the
// topic. The envelope is appended to the topic history first, then offered
// to each queue without blocking; subscribers with a full queue miss the
// event. Publish never fails and never blocks on a slow consumer.
func (b *Bus) Publish(topicName string, payload map[string]interface{}) {
	t := b.ensureTopic(topicName)
	event := models.Event{
		Topic:     topicName,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	t.mu.Lock()
	t.history = append(t.history, event)
	if len(t.history) > t.maxHistory {
		t.history = t.history[len(t.history)-t.maxHistory:]
	}
	t.published++
	for _, q := range t.queues {
		select {
		case q <- event:
		default:
			// drop if a consumer is too slow (prevent global stall)
			t.dropped++
		}
	}
	t.mu.Unlock()

	logger.IncrementEventPublished(topicName, len(payload))
}

// Subscribe registers a new bounded delivery queue under the topic and
// returns its handle. queueSize <= 0 uses the bus default.
func (b *Bus) Subscribe(topicName string, queueSize int) *Subscription {
	if queueSize <= 0 {
		queueSize = b.queueSize
	}
	t := b.ensureTopic(topicName)

	b.mu.Lock()
	b.subIDs++
	id := b.subIDs
	b.mu.Unlock()

	q := make(chan models.Event, queueSize)
	t.mu.Lock()
	t.queues[id] = q
	t.mu.Unlock()

	return &Subscription{bus: b, topic: t, id: id, ch: q}
}

// Unsubscribe removes a subscriber from a topic. It is an idempotent no-op
// when the subscriber is already gone. Events already queued remain
// drainable; the delivery channel is closed so range loops terminate.
func (b *Bus) Unsubscribe(topicName string, id int) {
	b.mu.Lock()
	t, ok := b.topics[topicName]
	b.mu.Unlock()
	if !ok {
		return
	}
	t.unsubscribe(id)
}

func (t *topic) unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[id]
	if !ok {
		return
	}
	delete(t.queues, id)
	// Publishers only send while holding t.mu and only to queues still in
	// the map, so closing here cannot race a send.
	close(q)
}

// Recent returns up to the last n history entries for the topic, oldest
// first. Late-joining consumers use this for recent context, not replay.
func (b *Bus) Recent(topicName string, n int) []models.Event {
	if n <= 0 {
		return nil
	}
	t := b.ensureTopic(topicName)
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > len(t.history) {
		n = len(t.history)
	}
	out := make([]models.Event, n)
	copy(out, t.history[len(t.history)-n:])
	return out
}

// Stats returns a per-topic snapshot of publish, drop and subscriber
// counts. Used for operational visibility only.
func (b *Bus) Stats() map[string]TopicStats {
	b.mu.Lock()
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	out := make(map[string]TopicStats, len(topics))
	for _, t := range topics {
		t.mu.Lock()
		out[t.name] = TopicStats{
			Published:   t.published,
			Dropped:     t.dropped,
			Subscribers: len(t.queues),
			HistoryLen:  len(t.history),
			MaxHistory:  t.maxHistory,
		}
		t.mu.Unlock()
	}
	return out
}
