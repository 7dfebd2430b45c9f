package repository

import (
	"fmt"
	"sync"

	"auction-stream/internal/biddingerrors"
	model "auction-stream/internal/models"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// AuctionDB defines the auction registry. CommitBid is the only mutator of an auction's
// price and bid list. A bid id is decided once: after CommitBid or RejectBid it cannot be
// committed or rejected again.
type AuctionDB interface {
	Get(auctionID string) (model.Auction, error)
	List() map[string]model.Auction
	Create(auction model.Auction) (model.Auction, error)
	CommitBid(auctionID string, bid model.Bid) (model.Auction, error)
	RejectBid(auctionID string, bidID string) error
}

// entry guards a single auction so commits on different auctions never contend
type entry struct {
	mu      sync.RWMutex
	auction model.Auction
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu       sync.RWMutex
	auctions map[string]*entry // key: auctionID -> value: guarded auction
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]*entry),
	}
}

func (r *MemoryRepo) lookup(auctionID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.auctions[auctionID]
	return e, ok
}

// Get returns a consistent snapshot of an auction
func (r *MemoryRepo) Get(auctionID string) (model.Auction, error) {
	e, ok := r.lookup(auctionID)
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.auction.Clone(), nil
}

// List returns snapshots of every auction keyed by id
func (r *MemoryRepo) List() map[string]model.Auction {
	r.mu.RLock()
	entries := make(map[string]*entry, len(r.auctions))
	for id, e := range r.auctions {
		entries[id] = e
	}
	r.mu.RUnlock()

	out := make(map[string]model.Auction, len(entries))
	for id, e := range entries {
		e.mu.RLock()
		out[id] = e.auction.Clone()
		e.mu.RUnlock()
	}
	return out
}

// Create stores a new auction. The current price starts at the starting price and the
// bid list starts empty regardless of what the caller supplied.
func (r *MemoryRepo) Create(auction model.Auction) (model.Auction, error) {
	if auction.ID == "" {
		return model.Auction{}, fmt.Errorf("create auction: %w - empty id", biddingerrors.ErrInvalidAuction)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auction.ID]; ok {
		return model.Auction{}, fmt.Errorf("create auction %s: %w", auction.ID, biddingerrors.ErrAuctionExists)
	}

	auction.CurrentPrice = auction.StartingPrice
	auction.Bids = []model.Bid{}
	auction.HighestBidder = nil
	auction.RejectedBidIDs = nil
	auction.Version = 0

	stored := auction.Clone()
	r.auctions[auction.ID] = &entry{auction: stored}
	return stored.Clone(), nil
}

// CommitBid prepends an accepted bid and raises the current price to its amount.
// The bid must strictly exceed the current price and carry an id not yet decided on this auction.
func (r *MemoryRepo) CommitBid(auctionID string, bid model.Bid) (model.Auction, error) {
	e, ok := r.lookup(auctionID)
	if !ok {
		return model.Auction{}, fmt.Errorf("commit bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if bid.Amount <= e.auction.CurrentPrice {
		return model.Auction{}, fmt.Errorf("commit bid %s: %w - current price is %.2f",
			bid.ID, biddingerrors.ErrPriceTooLow, e.auction.CurrentPrice)
	}
	if e.auction.Decided(bid.ID) {
		return model.Auction{}, fmt.Errorf("commit bid %s: %w", bid.ID, biddingerrors.ErrDuplicateBid)
	}

	bid.AuctionID = auctionID
	bid.Status = model.BidAccepted

	bids := make([]model.Bid, 0, len(e.auction.Bids)+1)
	bids = append(bids, bid)
	bids = append(bids, e.auction.Bids...)

	e.auction.Bids = bids
	e.auction.CurrentPrice = bid.Amount
	e.auction.HighestBidder = &model.User{ID: bid.UserID, Username: bid.Username}
	e.auction.Version++

	return e.auction.Clone(), nil
}

// RejectBid records a gate rejection so the same bid id cannot be admitted later.
// Price and bid list are left untouched.
func (r *MemoryRepo) RejectBid(auctionID string, bidID string) error {
	e, ok := r.lookup(auctionID)
	if !ok {
		return fmt.Errorf("reject bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.auction.Decided(bidID) {
		return fmt.Errorf("reject bid %s: %w", bidID, biddingerrors.ErrDuplicateBid)
	}
	e.auction.RejectedBidIDs = append(e.auction.RejectedBidIDs, bidID)
	return nil
}
