// Package broadcast fans committed events out to connected subscribers and peer instances.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"auction-stream/internal/metrics"
	model "auction-stream/internal/models"
	"auction-stream/internal/pubsub"
	"auction-stream/utils"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultDedupeWindow = 4096

// Subscriber receives event frames. Deliver must not block; it reports false when the
// frame could not be queued for this subscriber.
type Subscriber interface {
	ID() string
	Deliver(env model.Envelope) bool
}

// seenEntry records that an event was delivered locally and whether it reached peers
type seenEntry struct {
	forwarded bool
}

// Hub delivers every event at most once to each local subscriber and forwards the events
// its outbox worker hands it to peers, whichever instance staged them
type Hub struct {
	instanceID string
	channel    pubsub.Channel
	metrics    *metrics.Metrics

	subsMu sync.RWMutex
	subs   map[string]Subscriber

	seenMu sync.Mutex
	seen   *lru.Cache[string, *seenEntry]
}

func NewHub(instanceID string, channel pubsub.Channel, dedupeWindow int, m *metrics.Metrics) (*Hub, error) {
	if dedupeWindow <= 0 {
		dedupeWindow = DefaultDedupeWindow
	}
	seen, err := lru.New[string, *seenEntry](dedupeWindow)
	if err != nil {
		return nil, fmt.Errorf("broadcast: create dedupe cache: %w", err)
	}
	if channel == nil {
		channel = pubsub.NewLocalChannel()
	}
	return &Hub{
		instanceID: instanceID,
		channel:    channel,
		metrics:    m,
		subs:       make(map[string]Subscriber),
		seen:       seen,
	}, nil
}

// Start subscribes to events from peer instances
func (h *Hub) Start(ctx context.Context) error {
	if err := h.channel.Subscribe(ctx, h.HandleRemote); err != nil {
		return fmt.Errorf("broadcast: subscribe to peers: %w", err)
	}
	return nil
}

func (h *Hub) Register(sub Subscriber) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	h.subs[sub.ID()] = sub
}

func (h *Hub) Unregister(id string) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	delete(h.subs, id)
}

// Count returns the number of registered subscribers
func (h *Hub) Count() int {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()
	return len(h.subs)
}

// Publish delivers a locally committed event. It is the outbox worker's handler: a
// returned error means the event did not reach the peers and will be retried, in which
// case local subscribers are not served a second time.
func (h *Hub) Publish(ctx context.Context, event model.Event) error {
	h.seenMu.Lock()
	entry, seen := h.seen.Get(event.ID)
	if !seen {
		entry = &seenEntry{}
		h.seen.Add(event.ID, entry)
	}
	forwarded := entry.forwarded
	h.seenMu.Unlock()

	if seen && forwarded {
		h.metrics.Duplicate()
		return nil
	}
	if !seen {
		h.deliverLocal(event)
	}

	forward := event
	forward.Relay = h.instanceID
	if err := h.channel.Publish(ctx, forward); err != nil {
		return fmt.Errorf("broadcast: forward event %s: %w", event.ID, err)
	}

	h.seenMu.Lock()
	entry.forwarded = true
	h.seenMu.Unlock()
	return nil
}

// HandleRemote delivers an event received from a peer. Events this instance relayed
// itself and events already seen are ignored, and remote events are never forwarded
// again. The origin is not consulted: with a shared outbox a peer may relay an event
// this instance staged.
func (h *Hub) HandleRemote(event model.Event) {
	if event.Relay == h.instanceID {
		return
	}

	h.seenMu.Lock()
	if h.seen.Contains(event.ID) {
		h.seenMu.Unlock()
		h.metrics.Duplicate()
		return
	}
	h.seen.Add(event.ID, &seenEntry{forwarded: true})
	h.seenMu.Unlock()

	h.metrics.Remote()
	h.deliverLocal(event)
}

func (h *Hub) deliverLocal(event model.Event) {
	h.subsMu.RLock()
	subs := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.subsMu.RUnlock()

	env := event.Envelope()
	for _, s := range subs {
		if !s.Deliver(env) {
			h.metrics.DeliveryFailed()
			utils.Warn("event not delivered to subscriber", map[string]any{
				"subscriber": s.ID(),
				"event_id":   event.ID,
				"auction_id": event.AuctionID,
				"seq":        event.Seq,
			})
		}
	}
}
