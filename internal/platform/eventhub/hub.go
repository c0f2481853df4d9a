// Package eventhub provides the in-process fan-out channel that carries
// workflow milestone events to independent subscribers. Publishing never
// blocks: each subscriber owns a bounded buffer and a subscriber that stops
// draining loses its own events only.
package eventhub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types published by the processing pipeline and the API layer.
const (
	TypeStatusChanged   = "status-changed"
	TypeReady           = "ready"
	TypeProcessingError = "processing-error"
)

// Event is an immutable record of a workflow milestone or failure.
type Event struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	EncounterID   string                 `json:"encounter_id,omitempty"`
	PatientID     string                 `json:"patient_id,omitempty"`
	Message       string                 `json:"message"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 64

// Subscription is one attached listener. Events published after Subscribe
// arrive on C; there is no replay of history. Close detaches the listener
// and closes C.
type Subscription struct {
	id  string
	C   <-chan Event
	hub *Hub
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

// Hub is a process-wide publish/subscribe channel.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	bufferSize  int
	logger      zerolog.Logger
	dropped     uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize overrides the per-subscriber buffer size.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// New creates an empty Hub.
func New(logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		subscribers: make(map[string]chan Event),
		bufferSize:  DefaultBufferSize,
		logger:      logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe attaches a new listener and returns its subscription.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.New().String()
	ch := make(chan Event, h.bufferSize)
	h.subscribers[id] = ch
	return &Subscription{id: id, C: ch, hub: h}
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Publish stamps the event with an identifier and timestamp (when absent)
// and fans it out. A full subscriber buffer drops that subscriber's copy
// rather than blocking the publisher or the other subscribers.
func (h *Hub) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			atomic.AddUint64(&h.dropped, 1)
			h.logger.Warn().
				Str("subscriber_id", id).
				Str("event_type", event.Type).
				Str("transaction_id", event.TransactionID).
				Msg("subscriber buffer full, event dropped")
		}
	}
}

// SubscriberCount returns the number of attached listeners.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns the number of events discarded because a subscriber's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}
