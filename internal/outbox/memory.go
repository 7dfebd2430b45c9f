package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auction-stream/internal/biddingerrors"
	model "auction-stream/internal/models"
)

// MemoryQueue is an in-process Queue. It keeps every staged event per auction for Replay.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []Item          // enqueue order; Nack reinserts at the front
	inFlight map[string]Item // key: auctionID -> item currently handed out
	seq      map[string]uint64
	log      map[string][]model.Event
	ready    chan struct{}
	now      func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inFlight: make(map[string]Item),
		seq:      make(map[string]uint64),
		log:      make(map[string][]model.Event),
		ready:    make(chan struct{}, 1),
		now:      time.Now,
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready returns a channel that receives when items are enqueued or returned
func (q *MemoryQueue) Ready() <-chan struct{} {
	return q.ready
}

// Enqueue stores the event as pending with the next sequence number of its auction
func (q *MemoryQueue) Enqueue(ctx context.Context, event model.Event) (Item, error) {
	if event.AuctionID == "" {
		return Item{}, fmt.Errorf("outbox: enqueue event %s: empty auction id", event.ID)
	}

	q.mu.Lock()
	q.seq[event.AuctionID]++
	event.Seq = q.seq[event.AuctionID]

	item := Item{
		AuctionID:  event.AuctionID,
		Seq:        event.Seq,
		Event:      event,
		EnqueuedAt: q.now().UTC(),
		State:      StatePending,
	}
	q.pending = append(q.pending, item)
	q.log[event.AuctionID] = append(q.log[event.AuctionID], event)
	q.mu.Unlock()

	q.signal()
	return item, nil
}

// DequeueNext hands out the oldest pending item whose auction has nothing in flight
func (q *MemoryQueue) DequeueNext(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.pending {
		if _, busy := q.inFlight[item.AuctionID]; busy {
			continue
		}
		q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
		item.State = StateInFlight
		item.Attempts++
		q.inFlight[item.AuctionID] = item
		return item, nil
	}
	return Item{}, biddingerrors.ErrQueueEmpty
}

// Ack marks an in-flight item done
func (q *MemoryQueue) Ack(ctx context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.takeInFlight(item); err != nil {
		return err
	}
	return nil
}

// Nack puts the item back at the front of the pending set
func (q *MemoryQueue) Nack(ctx context.Context, item Item, cause error) error {
	q.mu.Lock()
	current, err := q.takeInFlight(item)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	current.State = StatePending
	q.pending = append([]Item{current}, q.pending...)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *MemoryQueue) takeInFlight(item Item) (Item, error) {
	current, ok := q.inFlight[item.AuctionID]
	if !ok || current.Seq != item.Seq {
		return Item{}, fmt.Errorf("outbox: item %s/%d: %w", item.AuctionID, item.Seq, biddingerrors.ErrItemNotInFlight)
	}
	delete(q.inFlight, item.AuctionID)
	return current, nil
}

// Replay returns the staged events of an auction after the given sequence number
func (q *MemoryQueue) Replay(ctx context.Context, auctionID string, afterSeq uint64) ([]model.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := q.log[auctionID]
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Pending returns the number of items waiting to be handed out
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Idle reports whether every staged item has been acknowledged
func (q *MemoryQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && len(q.inFlight) == 0
}
