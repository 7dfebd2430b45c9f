package wsclient

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	model "auction-stream/internal/models"
)

// View is a client-side picture of the auctions. Confirmed state comes only from the
// server; bids placed locally are overlaid as pending until a bid_accepted or
// bid_rejected with the same bid id arrives. Events at or below the last sequence number
// seen for an auction are ignored, so duplicates and stale replays are harmless.
type View struct {
	mu       sync.RWMutex
	auctions map[string]model.Auction
	pending  map[string]model.Bid // key: bidID
	lastSeq  map[string]uint64    // key: auctionID
}

func NewView() *View {
	return &View{
		auctions: make(map[string]model.Auction),
		pending:  make(map[string]model.Bid),
		lastSeq:  make(map[string]uint64),
	}
}

// AddPending records a provisional bid
func (v *View) AddPending(bid model.Bid) {
	v.mu.Lock()
	defer v.mu.Unlock()
	bid.Status = model.BidPending
	v.pending[bid.ID] = bid
}

// DropPending forgets a provisional bid, e.g. after the server answered with an error
func (v *View) DropPending(bidID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pending, bidID)
}

// Apply folds a server frame into the view
func (v *View) Apply(env model.Envelope) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch env.Type {
	case model.MsgAuctionsList:
		var p model.AuctionsListPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("wsclient: decode auctions list: %w", err)
		}
		v.auctions = make(map[string]model.Auction, len(p.Auctions))
		for id, a := range p.Auctions {
			v.auctions[id] = a
			for _, b := range a.Bids {
				delete(v.pending, b.ID)
			}
		}

	case model.MsgAuctionCreated:
		var p model.AuctionCreatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("wsclient: decode auction: %w", err)
		}
		if !v.fresh(p.Auction.ID, env.Seq) {
			return nil
		}
		if _, ok := v.auctions[p.Auction.ID]; !ok {
			v.auctions[p.Auction.ID] = p.Auction
		}

	case model.MsgBidAccepted:
		var p model.BidAcceptedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("wsclient: decode accepted bid: %w", err)
		}
		delete(v.pending, p.BidID)
		if !v.fresh(p.AuctionID, env.Seq) {
			return nil
		}
		a, ok := v.auctions[p.AuctionID]
		if !ok || a.HasBid(p.BidID) {
			return nil
		}
		bid := p.Bid
		bid.Status = model.BidAccepted
		a = a.Clone()
		a.Bids = append([]model.Bid{bid}, a.Bids...)
		if bid.Amount > a.CurrentPrice {
			a.CurrentPrice = bid.Amount
			a.HighestBidder = &model.User{ID: bid.UserID, Username: bid.Username}
		}
		v.auctions[p.AuctionID] = a

	case model.MsgBidRejected:
		var p model.BidRejectedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("wsclient: decode rejected bid: %w", err)
		}
		delete(v.pending, p.BidID)
		v.fresh(p.AuctionID, env.Seq)
	}
	return nil
}

// fresh advances the sequence watermark and reports whether seq is new. Frames without a
// sequence number are always applied.
func (v *View) fresh(auctionID string, seq uint64) bool {
	if seq == 0 {
		return true
	}
	if seq <= v.lastSeq[auctionID] {
		return false
	}
	v.lastSeq[auctionID] = seq
	return true
}

// Auction returns the confirmed auction with pending bids overlaid, newest first
func (v *View) Auction(id string) (model.Auction, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	a, ok := v.auctions[id]
	if !ok {
		return model.Auction{}, false
	}
	return v.overlay(a), true
}

// Confirmed returns the server-confirmed auction without pending bids
func (v *View) Confirmed(id string) (model.Auction, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	a, ok := v.auctions[id]
	return a.Clone(), ok
}

func (v *View) Auctions() map[string]model.Auction {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]model.Auction, len(v.auctions))
	for id, a := range v.auctions {
		out[id] = v.overlay(a)
	}
	return out
}

// Pending returns the provisional bids of an auction, newest first
func (v *View) Pending(auctionID string) []model.Bid {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pendingFor(auctionID)
}

func (v *View) pendingFor(auctionID string) []model.Bid {
	var out []model.Bid
	for _, b := range v.pending {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (v *View) overlay(a model.Auction) model.Auction {
	a = a.Clone()
	pending := v.pendingFor(a.ID)
	if len(pending) == 0 {
		return a
	}
	a.Bids = append(pending, a.Bids...)
	for _, b := range pending {
		if b.Amount > a.CurrentPrice {
			a.CurrentPrice = b.Amount
		}
	}
	return a
}
