// Package outbox stages committed events for at-least-once delivery.
//
// Items are ordered per auction: DequeueNext never hands out an item while an older item
// of the same auction is pending or in flight, so a retried item keeps its place ahead of
// its successors. Cross-auction order is unspecified.
package outbox

import (
	"context"
	"time"

	model "auction-stream/internal/models"
)

//go:generate mockgen -source=queue.go -destination=mock_queue.go -package=outbox

// State is the delivery state of a queue item
type State string

const (
	StatePending  State = "pending"
	StateInFlight State = "in_flight"
	StateDone     State = "done"
)

// Item is a staged event together with its delivery bookkeeping
type Item struct {
	AuctionID  string
	Seq        uint64
	Event      model.Event
	EnqueuedAt time.Time
	State      State
	Attempts   int
}

// Queue is an at-least-once staging store for events
type Queue interface {
	// Enqueue assigns the next per-auction sequence number and stores the event as pending
	Enqueue(ctx context.Context, event model.Event) (Item, error)
	// DequeueNext marks the oldest deliverable item in flight and returns it,
	// or ErrQueueEmpty when nothing is deliverable
	DequeueNext(ctx context.Context) (Item, error)
	// Ack marks an in-flight item done
	Ack(ctx context.Context, item Item) error
	// Nack returns an in-flight item to the front of the pending set
	Nack(ctx context.Context, item Item, cause error) error
	// Replay returns the events of an auction with Seq > afterSeq in sequence order
	Replay(ctx context.Context, auctionID string, afterSeq uint64) ([]model.Event, error)
}

// Notifier is implemented by queues that can signal when new work may be available
type Notifier interface {
	Ready() <-chan struct{}
}
