package session

import (
	"errors"

	"auction-stream/internal/biddingerrors"
)

// Error codes sent in error frames
const (
	CodeMalformedMessage = "malformed_message"
	CodeUnknownMessage   = "unknown_message"
	CodeInvalidBid       = "invalid_bid"
	CodeInvalidAuction   = "invalid_auction"
	CodeAuctionNotFound  = "auction_not_found"
	CodeAuctionExists    = "auction_exists"
	CodePriceTooLow      = "price_too_low"
	CodeBelowIncrement   = "below_increment"
	CodeAuctionNotActive = "auction_not_active"
	CodeDuplicateBid     = "duplicate_bid"
	CodeInternal         = "internal_error"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{biddingerrors.ErrMalformedMessage, CodeMalformedMessage},
	{biddingerrors.ErrUnknownMessage, CodeUnknownMessage},
	{biddingerrors.ErrInvalidBid, CodeInvalidBid},
	{biddingerrors.ErrInvalidAuction, CodeInvalidAuction},
	{biddingerrors.ErrAuctionNotFound, CodeAuctionNotFound},
	{biddingerrors.ErrAuctionExists, CodeAuctionExists},
	{biddingerrors.ErrPriceTooLow, CodePriceTooLow},
	{biddingerrors.ErrBelowIncrement, CodeBelowIncrement},
	{biddingerrors.ErrAuctionNotActive, CodeAuctionNotActive},
	{biddingerrors.ErrDuplicateBid, CodeDuplicateBid},
}

// MapError returns the code and client-facing message for err. Infrastructure failures
// are reported without their details.
func MapError(err error) (string, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code, e.err.Error()
		}
	}
	return CodeInternal, "internal server error"
}
