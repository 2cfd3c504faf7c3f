// Package room implements the anonymous broadcast buckets connections are
// relayed through, and the process-wide registry that assigns and prunes them.
package room

import (
	"sync"
	"sync/atomic"

	"github.com/moli-green/relay/internal/v1/metrics"
)

const (
	// Capacity is the maximum occupancy of one room.
	Capacity = 100

	// subscriberBuffer bounds each subscriber's backlog. A subscriber whose
	// buffer is full loses messages instead of stalling the room.
	subscriberBuffer = 100
)

// Message is one relayed frame, shared by reference among all subscribers.
// SenderID is the server-authoritative tag used for self-filtering; it is not
// itself part of the wire payload.
type Message struct {
	SenderID string
	Payload  []byte
}

// Room is a broadcast bucket of up to Capacity connections.
type Room struct {
	id string

	occupancy atomic.Int64 // advisory; the registry lock serializes admission

	mu   sync.RWMutex
	subs map[string]chan *Message
}

func newRoom(id string) *Room {
	return &Room{
		id:   id,
		subs: make(map[string]chan *Message),
	}
}

// ID returns the room's opaque identifier. Not exposed to clients.
func (r *Room) ID() string {
	return r.id
}

// Occupancy returns the current occupancy count.
func (r *Room) Occupancy() int64 {
	return r.occupancy.Load()
}

// Leave decrements the occupancy counter for a departing connection.
func (r *Room) Leave() {
	r.occupancy.Add(-1)
}

// Subscribe registers a subscriber and returns its receive channel.
// Messages published before subscribing are not replayed.
func (r *Room) Subscribe(connID string) <-chan *Message {
	ch := make(chan *Message, subscriberBuffer)
	r.mu.Lock()
	r.subs[connID] = ch
	r.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber. Its channel is left to the garbage
// collector; closing it would race with concurrent publishes.
func (r *Room) Unsubscribe(connID string) {
	r.mu.Lock()
	delete(r.subs, connID)
	r.mu.Unlock()
}

// Publish fans a message out to every subscriber, including the sender's own
// subscription; the session's outbound side self-filters on SenderID.
// Publishing never blocks: a subscriber with a full buffer drops the message
// (lag), and publishing with zero subscribers succeeds silently.
func (r *Room) Publish(msg *Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber; drop rather than stall the room.
			metrics.MessagesDropped.WithLabelValues("lag").Inc()
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (r *Room) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
