// Package events carries the outbound side effects of the approval core.
// State transitions emit events after they commit; notification, webhook
// and audit collaborators subscribe. The core itself performs no I/O here.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

const (
	RequestCreated     Type = "request.created"
	DecisionRecorded   Type = "request.decision_recorded"
	QuorumReached      Type = "request.quorum_reached"
	RequestRejected    Type = "request.rejected"
	RequestCancelled   Type = "request.cancelled"
	RequestExpired     Type = "request.expired"
	BroadcastCompleted Type = "request.broadcast_completed"
	BroadcastFailed    Type = "request.broadcast_failed"
	SigningCreated     Type = "signing.created"
	SigningCompleted   Type = "signing.completed"
	SigningCancelled   Type = "signing.cancelled"
	SigningExpired     Type = "signing.expired"
	WalletActivated    Type = "wallet.activated"
)

// Event is one outbound message. Only the fields relevant to the event
// type are populated.
type Event struct {
	Type      Type
	WalletID  uuid.UUID
	RequestID uuid.UUID
	SignerID  uuid.UUID
	Detail    string
	At        time.Time
}

// Handler consumes events. Handlers run synchronously on the publishing
// goroutine and must not block.
type Handler func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to every subscriber. A nil bus is a no-op,
// so services can be constructed without one in tests.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}
