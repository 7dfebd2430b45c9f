package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"auction-stream/internal/biddingerrors"
	model "auction-stream/internal/models"
	"auction-stream/utils"

	"github.com/gin-gonic/gin"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrAuctionExists):
		return http.StatusConflict, "auction already exists"
	case errors.Is(err, biddingerrors.ErrPriceTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrBelowIncrement):
		return http.StatusConflict, "bid below minimum increment"
	case errors.Is(err, biddingerrors.ErrDuplicateBid):
		return http.StatusConflict, "bid already recorded"
	case errors.Is(err, biddingerrors.ErrAuctionNotActive):
		return http.StatusUnprocessableEntity, "auction is not active"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}

// ToBidResponse converts a bid into its HTTP representation
func ToBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:     bid.ID,
		AuctionID: bid.AuctionID,
		UserID:    bid.UserID,
		Username:  bid.Username,
		Amount:    bid.Amount,
		Status:    string(bid.Status),
		CreatedAt: bid.Timestamp.UTC().Format(time.RFC3339),
	}
}

func ToEventResponse(e model.Event) EventResponse {
	return EventResponse{
		EventID:   e.ID,
		AuctionID: e.AuctionID,
		Seq:       e.Seq,
		Type:      string(e.Type),
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ToAuction converts a create request into the domain model
func (r CreateAuctionRequest) ToAuction() model.Auction {
	a := model.Auction{
		ID:              r.ID,
		Title:           r.Title,
		Description:     r.Description,
		ImageURL:        r.ImageURL,
		CategoryID:      r.CategoryID,
		StartingPrice:   r.StartingPrice,
		CurrentPrice:    r.StartingPrice,
		MinBidIncrement: r.MinBidIncrement,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		Bids:            []model.Bid{},
	}
	if r.SellerID != "" {
		a.Seller = &model.User{ID: r.SellerID}
	}
	return a
}
