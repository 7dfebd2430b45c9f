package helpers

import (
	"encoding/json"
	"time"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	BidID    string  `json:"bid_id"`
	UserID   string  `json:"user_id" binding:"required"`
	Username string  `json:"username"`
	Amount   float64 `json:"amount" binding:"required,gt=0"`
}

type BidResponse struct {
	BidID     string  `json:"bid_id"`
	AuctionID string  `json:"auction_id"`
	UserID    string  `json:"user_id"`
	Username  string  `json:"username,omitempty"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
}

type CreateAuctionRequest struct {
	ID              string    `json:"id"`
	Title           string    `json:"title" binding:"required"`
	Description     string    `json:"description"`
	ImageURL        string    `json:"image_url"`
	SellerID        string    `json:"seller_id"`
	CategoryID      string    `json:"category_id"`
	StartingPrice   float64   `json:"starting_price" binding:"required,gt=0"`
	MinBidIncrement float64   `json:"min_bid_increment" binding:"gte=0"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
}

type EventResponse struct {
	EventID   string          `json:"event_id"`
	AuctionID string          `json:"auction_id"`
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}
