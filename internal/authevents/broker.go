// Package authevents fan-outs session lifecycle events to subscribers. The
// HTTP layer exposes it over SSE; the identity resolver subscribes to drop its
// cache when a sign-out happens elsewhere.
package authevents

import (
	"context"
	"sync"
	"time"
)

// Event types emitted by the auth service.
const (
	SignedIn       = "signed_in"
	SignedOut      = "signed_out"
	TokenRefreshed = "token_refreshed"
)

// Event describes one session lifecycle change.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Broker fan-outs events to all active subscribers.
type Broker struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty broker.
func New() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (b *Broker) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (b *Broker) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
