package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	model "auction-stream/internal/models"
	"auction-stream/services/bidding/helpers"
	"auction-stream/utils"

	"github.com/gin-gonic/gin"
)

//go:generate mockgen -source=bidding_handler.go -destination=mock_bidding_handler.go -package=handler

type BiddingServiceInterface interface {
	PlaceBid(ctx context.Context, auctionID string, bid model.Bid) (model.Bid, error)
	CreateAuction(ctx context.Context, auction model.Auction) (model.Auction, error)
	ListAuctions() map[string]model.Auction
	GetAuction(auctionID string) (model.Auction, error)
	GetBids(auctionID string) ([]model.Bid, error)
	Replay(ctx context.Context, auctionID string, afterSeq uint64) ([]model.Event, error)
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// HealthHandler handles GET /health
func (h *BiddingHandler) HealthHandler(c *gin.Context) {
	utils.JSONResponse(c, http.StatusOK, gin.H{"status": "ok"}, "service is healthy")
}

// PlaceBidHandler handles POST /auctions/:auction_id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), auctionID, model.Bid{
		ID:       req.BidID,
		UserID:   req.UserID,
		Username: req.Username,
		Amount:   req.Amount,
	})
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("PlaceBidHandler: failed to place bid", map[string]any{
			"handler":    "PlaceBidHandler",
			"auction_id": auctionID,
			"user_id":    req.UserID,
			"error":      err.Error(),
		})
		return
	}

	// a gate rejection is an outcome, not an error
	if bid.Status == model.BidRejected {
		utils.JSONResponse(c, http.StatusOK, helpers.ToBidResponse(bid), "bid rejected by acceptance gate")
		helpers.LogSuccess("PlaceBidHandler", "bid rejected by acceptance gate", map[string]any{
			"bid_id":     bid.ID,
			"auction_id": auctionID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.ToBidResponse(bid), "bid accepted successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid accepted successfully", map[string]any{
		"bid_id":     bid.ID,
		"auction_id": auctionID,
		"user_id":    bid.UserID,
		"amount":     bid.Amount,
	})
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), req.ToAuction())
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("CreateAuctionHandler: failed to create auction", map[string]any{
			"auction_id": req.ID,
			"error":      err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, auction, "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.ID,
	})
}

// ListAuctionsHandler handles GET /auctions
func (h *BiddingHandler) ListAuctionsHandler(c *gin.Context) {
	auctions := h.service.ListAuctions()
	if auctions == nil {
		auctions = map[string]model.Auction{}
	}
	utils.JSONResponse(c, http.StatusOK, auctions, "auctions retrieved successfully")
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.GetAuction(auctionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetAuctionHandler: error retrieving auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}
	utils.JSONResponse(c, http.StatusOK, auction, "auction retrieved successfully")
}

// GetBidsHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBids(auctionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetBidsHandler: error retrieving bids", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	resp := make([]helpers.BidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, helpers.ToBidResponse(b))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "bids retrieved successfully")
	helpers.LogSuccess("GetBidsHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(resp),
	})
}

// ReplayEventsHandler handles GET /auctions/:auction_id/events?after=N
func (h *BiddingHandler) ReplayEventsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	var after uint64
	if raw := c.Query("after"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			utils.JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid after parameter: %w", err), "invalid after parameter")
			return
		}
		after = n
	}

	events, err := h.service.Replay(c.Request.Context(), auctionID, after)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("ReplayEventsHandler: error replaying events", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	resp := make([]helpers.EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, helpers.ToEventResponse(e))
	}
	utils.JSONResponse(c, http.StatusOK, resp, "events retrieved successfully")
}
