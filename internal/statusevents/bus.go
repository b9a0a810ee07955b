// Package statusevents implements the gateway's best-effort provider
// status notification channel: every forward attempt emits a pending,
// success, or error event, which the admin HTTP server rebroadcasts to any
// subscribed WebSocket client.
package statusevents

import "sync"

// Status is the lifecycle state of one forward attempt.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Event mirrors the gateway://provider-status event the original desktop
// shell observed, so an external dashboard can subscribe to the same shape.
type Event struct {
	ProviderID string `json:"provider_id"`
	Status     Status `json:"status"`
	APIType    string `json:"api_type"`
}

// Bus fans a stream of Events out to any number of subscribers. Publishing
// never blocks: a subscriber whose channel is full simply misses events,
// since status events are observational, not part of the request's
// correctness guarantees.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel along with
// an unsubscribe function the caller must call when done listening.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish best-effort delivers ev to every current subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
