package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Event describes one committed ledger entry. Events are published after the
// surrounding transaction commits, never while an account lease is held, so a
// slow or failing subscriber cannot stall or unwind a balance mutation.
type Event struct {
	EntryID          string
	UserID           string
	Kind             EntryKind
	Amount           decimal.Decimal
	RelatedEntityID  string
	CommittedUnixUTC int64
}

// EventPublisher receives committed-operation events.
type EventPublisher interface {
	PublishCommitted(ctx context.Context, event Event) error
}

// Dispatcher fans one committed event out to every registered subscriber.
// Subscriber errors are collected by the caller through the returned error of
// PublishCommitted; the engine only logs them.
type Dispatcher struct {
	subscribers []EventPublisher
}

// NewDispatcher wires a fan-out publisher.
func NewDispatcher(subscribers ...EventPublisher) *Dispatcher {
	return &Dispatcher{subscribers: subscribers}
}

// Subscribe appends a subscriber. Not safe for concurrent use with
// PublishCommitted; register subscribers during wiring.
func (dispatcher *Dispatcher) Subscribe(subscriber EventPublisher) {
	if subscriber != nil {
		dispatcher.subscribers = append(dispatcher.subscribers, subscriber)
	}
}

// PublishCommitted delivers the event to all subscribers, returning the first
// subscriber error after every subscriber has been attempted.
func (dispatcher *Dispatcher) PublishCommitted(ctx context.Context, event Event) error {
	var firstErr error
	for _, subscriber := range dispatcher.subscribers {
		if err := subscriber.PublishCommitted(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
