// Package events provides the domain event broadcaster. Delivery is
// best-effort with no replay: a subscriber that is slow loses events, and a
// subscriber registered after emission never sees it. Consumers re-derive
// state from the canonical store rather than relying on event history.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Domain event names.
const (
	AlertCreated           = "alert-created"
	AlertUpdated           = "alert-updated"
	AlertNotification      = "alert-notification"
	IntegrationSync        = "integration-sync"
	SyncComplete           = "sync-complete"
	PrioritizationComplete = "prioritization-complete"
)

// Event is one published domain event.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Broker fans events out to current subscribers.
type Broker struct {
	logger log.Logger
	onDrop func(name string)

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription receives events on C until Close is called. The channel is
// never closed by the broker, so ranging callers should select on their own
// done signal as well.
type Subscription struct {
	C <-chan Event

	b  *Broker
	ch chan Event
}

// NewBroker creates a Broker. onDrop, if non-nil, is invoked with the event
// name each time a subscriber's buffer is full and an event is discarded.
func NewBroker(logger log.Logger, onDrop func(name string)) *Broker {
	if logger == nil {
		logger = log.Nop()
	}
	return &Broker{
		logger: logger,
		onDrop: onDrop,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber with the given channel buffer.
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, b: b, ch: ch}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Close removes the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	delete(s.b.subs, s)
	s.b.mu.Unlock()
}

// Publish emits a named event with the given payload to all current
// subscribers. Sends never block: a full subscriber drops the event.
func (b *Broker) Publish(ctx context.Context, name string, payload any) {
	ev := Event{
		ID:        ulid.Make().String(),
		Name:      name,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			if b.onDrop != nil {
				b.onDrop(name)
			}
			b.logger.Warn(ctx, "event dropped for slow subscriber", "event", name)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
