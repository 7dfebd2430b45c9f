package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"auction-stream/internal/metrics"
	model "auction-stream/internal/models"
	"auction-stream/internal/pubsub"
	"auction-stream/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	utils.SetOutput(io.Discard)
}

func event(id, auctionID string, seq uint64, origin string) model.Event {
	return model.Event{ID: id, AuctionID: auctionID, Seq: seq, Type: model.MsgBidAccepted, Origin: origin}
}

func drain(m *Mailbox) []model.Envelope {
	var out []model.Envelope
	for {
		select {
		case env := <-m.C():
			out = append(out, env)
		default:
			return out
		}
	}
}

// failingChannel fails the first n publishes
type failingChannel struct {
	pubsub.LocalChannel
	failures  int
	published []string
}

func (c *failingChannel) Publish(ctx context.Context, e model.Event) error {
	if c.failures > 0 {
		c.failures--
		return errors.New("redis unavailable")
	}
	c.published = append(c.published, e.ID)
	return nil
}

func newHub(t *testing.T, instanceID string, ch pubsub.Channel, m *metrics.Metrics) *Hub {
	t.Helper()
	h, err := NewHub(instanceID, ch, 16, m)
	require.NoError(t, err)
	return h
}

func TestHub_PublishDeliversOnceInOrder(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	h := newHub(t, "node-1", nil, m)
	a, b := NewMailbox("a", 8), NewMailbox("b", 8)
	h.Register(a)
	h.Register(b)
	require.Equal(t, 2, h.Count())

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, h.Publish(ctx, event(fmt.Sprintf("e%d", i), "a1", uint64(i), "node-1")))
	}
	// the same event replayed has no second effect
	require.NoError(t, h.Publish(ctx, event("e2", "a1", 2, "node-1")))

	for _, mb := range []*Mailbox{a, b} {
		got := drain(mb)
		require.Len(t, got, 3)
		for i, env := range got {
			assert.Equal(t, uint64(i+1), env.Seq)
			assert.Equal(t, fmt.Sprintf("e%d", i+1), env.EventID)
		}
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DuplicateEvents))
}

func TestHub_SlowSubscriberIsIsolated(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	h := newHub(t, "node-1", nil, m)
	slow, healthy, closed := NewMailbox("slow", 1), NewMailbox("healthy", 8), NewMailbox("closed", 8)
	closed.Close()
	h.Register(slow)
	h.Register(healthy)
	h.Register(closed)

	ctx := context.Background()
	require.NoError(t, h.Publish(ctx, event("e1", "a1", 1, "node-1")))
	require.NoError(t, h.Publish(ctx, event("e2", "a1", 2, "node-1")))

	assert.Len(t, drain(healthy), 2)
	assert.Len(t, drain(slow), 1)
	// slow missed e2, closed missed both
	assert.Equal(t, float64(3), testutil.ToFloat64(m.DeliveryFailures))
}

func TestHub_UnregisteredSubscriberStopsReceiving(t *testing.T) {
	t.Parallel()

	h := newHub(t, "node-1", nil, nil)
	mb := NewMailbox("a", 4)
	h.Register(mb)
	require.NoError(t, h.Publish(context.Background(), event("e1", "a1", 1, "node-1")))
	h.Unregister("a")
	require.NoError(t, h.Publish(context.Background(), event("e2", "a1", 2, "node-1")))

	assert.Len(t, drain(mb), 1)
	assert.Zero(t, h.Count())
}

func TestHub_ForwardFailureRetriesWithoutDoubleDelivery(t *testing.T) {
	t.Parallel()

	ch := &failingChannel{failures: 1}
	h := newHub(t, "node-1", ch, nil)
	mb := NewMailbox("a", 4)
	h.Register(mb)

	ctx := context.Background()
	e := event("e1", "a1", 1, "node-1")
	require.Error(t, h.Publish(ctx, e))
	require.NoError(t, h.Publish(ctx, e))
	require.NoError(t, h.Publish(ctx, e))

	assert.Len(t, drain(mb), 1)
	assert.Equal(t, []string{"e1"}, ch.published)
}

func TestHub_PeersShareEventsWithoutAmplification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	shared := pubsub.NewLocalChannel()
	m1 := metrics.New(prometheus.NewRegistry())
	m2 := metrics.New(prometheus.NewRegistry())
	h1 := newHub(t, "node-1", shared, m1)
	h2 := newHub(t, "node-2", shared, m2)
	require.NoError(t, h1.Start(ctx))
	require.NoError(t, h2.Start(ctx))

	c1, c2 := NewMailbox("c1", 8), NewMailbox("c2", 8)
	h1.Register(c1)
	h2.Register(c2)

	require.NoError(t, h1.Publish(ctx, event("e1", "a1", 1, "node-1")))
	require.NoError(t, h2.Publish(ctx, event("e2", "a2", 1, "node-2")))
	// a peer echo of an already seen event is ignored
	h2.HandleRemote(event("e1", "a1", 1, "node-1"))

	assert.Len(t, drain(c1), 2)
	assert.Len(t, drain(c2), 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m2.RemoteEvents))
	assert.Equal(t, float64(1), testutil.ToFloat64(m2.DuplicateEvents))
	assert.Equal(t, float64(1), testutil.ToFloat64(m1.RemoteEvents))
}

func TestHub_PeerRelaysEventStagedElsewhere(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	shared := pubsub.NewLocalChannel()
	ma := metrics.New(prometheus.NewRegistry())
	a := newHub(t, "node-a", shared, ma)
	b := newHub(t, "node-b", shared, nil)
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	ca, cb := NewMailbox("ca", 8), NewMailbox("cb", 8)
	a.Register(ca)
	b.Register(cb)

	// node-b's worker claimed an event node-a staged in the shared outbox
	require.NoError(t, b.Publish(ctx, event("e1", "a1", 1, "node-a")))

	assert.Len(t, drain(ca), 1)
	assert.Len(t, drain(cb), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(ma.RemoteEvents))

	// node-a relaying the same event later changes nothing for either side
	require.NoError(t, a.Publish(ctx, event("e1", "a1", 1, "node-a")))
	assert.Empty(t, drain(ca))
	assert.Empty(t, drain(cb))
}

func TestMailbox_RefusesWhenFullOrClosed(t *testing.T) {
	t.Parallel()

	mb := NewMailbox("m", 1)
	assert.Equal(t, "m", mb.ID())
	assert.True(t, mb.Deliver(model.Envelope{Type: model.MsgConnected}))
	assert.False(t, mb.Deliver(model.Envelope{Type: model.MsgConnected}))

	<-mb.C()
	mb.Close()
	mb.Close()
	assert.False(t, mb.Deliver(model.Envelope{Type: model.MsgConnected}))
	_, ok := <-mb.C()
	assert.False(t, ok)
}
