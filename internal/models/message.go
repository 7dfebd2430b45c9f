package models

import (
	"encoding/json"
	"time"
)

// MessageType tags every frame exchanged over the websocket and every staged event
type MessageType string

// Inbound message kinds (client -> server)
const (
	MsgCreateAuction MessageType = "create_auction"
	MsgNewBid        MessageType = "new_bid"
	MsgGetAuctions   MessageType = "get_auctions"
)

// Outbound message kinds (server -> client)
const (
	MsgConnected      MessageType = "connected"
	MsgAuctionCreated MessageType = "auction_created"
	MsgAuctionsList   MessageType = "auctions_list"
	MsgBidAccepted    MessageType = "bid_accepted"
	MsgBidRejected    MessageType = "bid_rejected"
	MsgError          MessageType = "error"
)

// Envelope is the wire frame. Event frames carry EventID and Seq so clients can dedupe.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
	EventID string          `json:"eventId,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
}

type CreateAuctionPayload struct {
	Auction Auction `json:"auction"`
}

type NewBidPayload struct {
	AuctionID string `json:"auctionId"`
	Bid       Bid    `json:"bid"`
}

type ConnectedPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type AuctionCreatedPayload struct {
	Auction Auction `json:"auction"`
}

type AuctionsListPayload struct {
	Auctions map[string]Auction `json:"auctions"`
}

type BidAcceptedPayload struct {
	AuctionID string    `json:"auctionId"`
	BidID     string    `json:"bidId"`
	Status    BidStatus `json:"status"`
	Bid       Bid       `json:"bid"`
}

type BidRejectedPayload struct {
	AuctionID string    `json:"auctionId"`
	BidID     string    `json:"bidId"`
	Status    BidStatus `json:"status"`
}

// Event is a committed state change staged in the outbox and fanned out to subscribers.
// ID is the dedupe key; Seq is assigned by the outbox and is monotonic per auction.
type Event struct {
	ID        string      `json:"id"`
	AuctionID string      `json:"auctionId"`
	Seq       uint64      `json:"seq"`
	Type      MessageType `json:"type"`
	// Origin is the instance that staged the event
	Origin string `json:"origin"`
	// Relay is the instance that forwarded it to peers; with a shared outbox it may differ
	// from Origin. Set only on the pub/sub hop.
	Relay     string          `json:"relay,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Envelope converts the event into the frame delivered to subscribers
func (e Event) Envelope() Envelope {
	return Envelope{
		Type:    e.Type,
		Payload: e.Payload,
		EventID: e.ID,
		Seq:     e.Seq,
	}
}

// NewEnvelope marshals payload into a frame of the given type
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// ErrorEnvelope builds an error frame addressed to a single client
func ErrorEnvelope(code, message string) Envelope {
	return Envelope{Type: MsgError, Code: code, Message: message}
}
