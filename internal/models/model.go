package models

import (
	"slices"
	"time"
)

// AuctionStatus is the lifecycle state of an auction, derived from its start and end times
type AuctionStatus string

const (
	AuctionUpcoming AuctionStatus = "upcoming"
	AuctionActive   AuctionStatus = "active"
	AuctionEnded    AuctionStatus = "ended"
)

// BidStatus is the admission outcome of a bid. Pending is the only non-terminal state.
type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

// User represents a participant in the auction
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Auction represents an item on sale and its live bidding state
type Auction struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	ImageURL        string        `json:"imageUrl,omitempty"`
	Seller          *User         `json:"seller,omitempty"`
	CategoryID      string        `json:"categoryId,omitempty"`
	StartingPrice   float64       `json:"startingPrice"`
	CurrentPrice    float64       `json:"currentPrice"`
	MinBidIncrement float64       `json:"minBidIncrement"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	Status          AuctionStatus `json:"status"`
	Bids            []Bid         `json:"bids"`
	HighestBidder   *User         `json:"highestBidder,omitempty"`
	Version         uint64        `json:"version"`
	CreatedAt       time.Time     `json:"createdAt"`
	// RejectedBidIDs lists bids the acceptance gate turned down; never served to clients
	RejectedBidIDs []string `json:"-"`
}

// Bid represents a user's bid on an auction
type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auctionId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username,omitempty"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Status    BidStatus `json:"status"`
}

// StatusAt derives the lifecycle state at the given instant.
// A zero start time opens the auction immediately and a zero end time never closes it.
func (a Auction) StatusAt(now time.Time) AuctionStatus {
	if !a.StartTime.IsZero() && now.Before(a.StartTime) {
		return AuctionUpcoming
	}
	if !a.EndTime.IsZero() && !now.Before(a.EndTime) {
		return AuctionEnded
	}
	return AuctionActive
}

// Clone returns a deep copy that shares no mutable state with the receiver
func (a Auction) Clone() Auction {
	out := a
	if a.Bids != nil {
		out.Bids = append([]Bid(nil), a.Bids...)
	}
	if a.RejectedBidIDs != nil {
		out.RejectedBidIDs = append([]string(nil), a.RejectedBidIDs...)
	}
	if a.Seller != nil {
		seller := *a.Seller
		out.Seller = &seller
	}
	if a.HighestBidder != nil {
		bidder := *a.HighestBidder
		out.HighestBidder = &bidder
	}
	return out
}

// HasBid reports whether a bid with the given id is already recorded
func (a Auction) HasBid(bidID string) bool {
	for _, b := range a.Bids {
		if b.ID == bidID {
			return true
		}
	}
	return false
}

// Decided reports whether a bid id was already accepted or rejected on this auction
func (a Auction) Decided(bidID string) bool {
	return a.HasBid(bidID) || slices.Contains(a.RejectedBidIDs, bidID)
}
