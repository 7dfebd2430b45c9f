package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"auction-stream/internal/biddingerrors"
	"auction-stream/internal/broadcast"
	model "auction-stream/internal/models"
	"auction-stream/utils"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	utils.SetOutput(io.Discard)
}

// fakeService records calls and answers with preset results
type fakeService struct {
	mu       sync.Mutex
	auctions map[string]model.Auction
	bids     []model.NewBidPayload
	created  []model.Auction
	bidErr   error
}

func (f *fakeService) PlaceBid(_ context.Context, auctionID string, bid model.Bid) (model.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bids = append(f.bids, model.NewBidPayload{AuctionID: auctionID, Bid: bid})
	if f.bidErr != nil {
		return model.Bid{}, f.bidErr
	}
	bid.Status = model.BidAccepted
	return bid, nil
}

func (f *fakeService) CreateAuction(_ context.Context, a model.Auction) (model.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.auctions[a.ID]; ok {
		return model.Auction{}, fmt.Errorf("service: %w", biddingerrors.ErrAuctionExists)
	}
	f.created = append(f.created, a)
	return a, nil
}

func (f *fakeService) ListAuctions() map[string]model.Auction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]model.Auction, len(f.auctions))
	for k, v := range f.auctions {
		out[k] = v
	}
	return out
}

type harness struct {
	manager *Manager
	hub     *broadcast.Hub
	service *fakeService
	server  *httptest.Server
	url     string
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	hub, err := broadcast.NewHub("node-1", nil, 64, nil)
	require.NoError(t, err)
	svc := &fakeService{auctions: map[string]model.Auction{
		"a1": {ID: "a1", Title: "Watch", StartingPrice: 1000, CurrentPrice: 1000, Bids: []model.Bid{}},
	}}
	m := NewManager(svc, hub, cfg, nil)
	srv := httptest.NewServer(m)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
		srv.Close()
	})
	return &harness{
		manager: m,
		hub:     hub,
		service: svc,
		server:  srv,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) model.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env model.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func send(t *testing.T, conn *websocket.Conn, msgType model.MessageType, payload any) {
	t.Helper()
	env, err := model.NewEnvelope(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
}

func TestSession_GreetsWithSnapshotBeforeEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	conn := h.dial(t)

	connected := readEnvelope(t, conn)
	require.Equal(t, model.MsgConnected, connected.Type)
	assert.Equal(t, Greeting, connected.Message)
	var cp model.ConnectedPayload
	require.NoError(t, json.Unmarshal(connected.Payload, &cp))
	assert.NotEmpty(t, cp.SessionID)

	list := readEnvelope(t, conn)
	require.Equal(t, model.MsgAuctionsList, list.Type)
	var lp model.AuctionsListPayload
	require.NoError(t, json.Unmarshal(list.Payload, &lp))
	require.Contains(t, lp.Auctions, "a1")
	assert.Equal(t, 1000.0, lp.Auctions["a1"].CurrentPrice)

	waitFor(t, func() bool { return h.hub.Count() == 1 })
	require.NoError(t, h.hub.Publish(context.Background(), model.Event{
		ID: "e1", AuctionID: "a1", Seq: 1, Type: model.MsgBidAccepted, Origin: "node-1",
		Payload: json.RawMessage(`{"auctionId":"a1","bidId":"b1","status":"accepted"}`),
	}))

	event := readEnvelope(t, conn)
	assert.Equal(t, model.MsgBidAccepted, event.Type)
	assert.Equal(t, "e1", event.EventID)
	assert.Equal(t, uint64(1), event.Seq)
}

func TestSession_DispatchesRequests(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	conn := h.dial(t)
	readEnvelope(t, conn)
	readEnvelope(t, conn)

	send(t, conn, model.MsgNewBid, model.NewBidPayload{
		AuctionID: "a1",
		Bid:       model.Bid{ID: "b1", UserID: "u1", Amount: 1100},
	})
	send(t, conn, model.MsgCreateAuction, model.CreateAuctionPayload{
		Auction: model.Auction{ID: "a2", Title: "Lamp", StartingPrice: 10},
	})
	send(t, conn, model.MsgGetAuctions, struct{}{})

	list := readEnvelope(t, conn)
	require.Equal(t, model.MsgAuctionsList, list.Type)

	h.service.mu.Lock()
	defer h.service.mu.Unlock()
	require.Len(t, h.service.bids, 1)
	assert.Equal(t, "a1", h.service.bids[0].AuctionID)
	assert.Equal(t, 1100.0, h.service.bids[0].Bid.Amount)
	require.Len(t, h.service.created, 1)
	assert.Equal(t, "a2", h.service.created[0].ID)
}

func TestSession_ErrorsGoToSenderOnlyAndKeepConnection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.service.bidErr = fmt.Errorf("service: %w - current price is 1000.00", biddingerrors.ErrPriceTooLow)

	sender := h.dial(t)
	readEnvelope(t, sender)
	readEnvelope(t, sender)
	other := h.dial(t)
	readEnvelope(t, other)
	readEnvelope(t, other)

	tests := []struct {
		name     string
		frame    string
		wantCode string
	}{
		{name: "not_json", frame: `{oops`, wantCode: CodeMalformedMessage},
		{name: "unknown_type", frame: `{"type":"teleport","payload":{}}`, wantCode: CodeUnknownMessage},
		{name: "missing_payload", frame: `{"type":"new_bid"}`, wantCode: CodeMalformedMessage},
		{name: "bad_payload", frame: `{"type":"new_bid","payload":{"bid":{"amount":"lots"}}}`, wantCode: CodeMalformedMessage},
		{name: "domain_rejection", frame: `{"type":"new_bid","payload":{"auctionId":"a1","bid":{"userId":"u1","amount":900}}}`, wantCode: CodePriceTooLow},
		{name: "duplicate_auction", frame: `{"type":"create_auction","payload":{"auction":{"id":"a1","title":"x","startingPrice":1}}}`, wantCode: CodeAuctionExists},
	}

	for _, tc := range tests {
		require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(tc.frame)), tc.name)
		env := readEnvelope(t, sender)
		assert.Equal(t, model.MsgError, env.Type, tc.name)
		assert.Equal(t, tc.wantCode, env.Code, tc.name)
		assert.NotEmpty(t, env.Message, tc.name)
	}

	// the other client saw none of it
	send(t, other, model.MsgGetAuctions, struct{}{})
	assert.Equal(t, model.MsgAuctionsList, readEnvelope(t, other).Type)
}

func TestSession_DisconnectUnregisters(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	conn := h.dial(t)
	readEnvelope(t, conn)
	readEnvelope(t, conn)
	waitFor(t, func() bool { return h.manager.Count() == 1 && h.hub.Count() == 1 })

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	waitFor(t, func() bool { return h.manager.Count() == 0 && h.hub.Count() == 0 })
}

func TestManager_ShutdownClosesSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	conn := h.dial(t)
	readEnvelope(t, conn)
	readEnvelope(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.manager.Shutdown(ctx))
	assert.Zero(t, h.manager.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	}

	_, _, err = websocket.DefaultDialer.Dial(h.url, nil)
	require.Error(t, err)
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		wantCode string
	}{
		{fmt.Errorf("x: %w", biddingerrors.ErrAuctionNotFound), CodeAuctionNotFound},
		{fmt.Errorf("x: %w", biddingerrors.ErrBelowIncrement), CodeBelowIncrement},
		{fmt.Errorf("x: %w", biddingerrors.ErrAuctionNotActive), CodeAuctionNotActive},
		{fmt.Errorf("x: %w", biddingerrors.ErrInvalidBid), CodeInvalidBid},
		{fmt.Errorf("x: %w", biddingerrors.ErrDuplicateBid), CodeDuplicateBid},
		{errors.New("connection refused"), CodeInternal},
	}
	for _, tc := range tests {
		code, msg := MapError(tc.err)
		assert.Equal(t, tc.wantCode, code)
		assert.NotContains(t, msg, "x:")
	}
}
