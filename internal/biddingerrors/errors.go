package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAuctionExists   = errors.New("auction already exists")
	ErrDuplicateBid    = errors.New("bid already recorded for auction")
)

// business logic errors
var (
	ErrInvalidBid       = errors.New("invalid bid")
	ErrInvalidAuction   = errors.New("invalid auction")
	ErrPriceTooLow      = errors.New("bid must be higher than current price")
	ErrBelowIncrement   = errors.New("bid is below the minimum increment")
	ErrAuctionNotActive = errors.New("auction is not active")
)

// client input errors
var (
	ErrMalformedMessage = errors.New("malformed message payload")
	ErrUnknownMessage   = errors.New("unknown message type")
)

// infrastructure errors
var (
	ErrQueueEmpty         = errors.New("outbox has no deliverable items")
	ErrItemNotInFlight    = errors.New("outbox item is not in flight")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrSessionClosed      = errors.New("session closed")
)

// IsDomainRejection reports whether err is a rejection decided by auction rules rather than
// an infrastructure failure. Domain rejections are reported to the submitter only.
func IsDomainRejection(err error) bool {
	switch {
	case errors.Is(err, ErrAuctionNotFound),
		errors.Is(err, ErrAuctionExists),
		errors.Is(err, ErrDuplicateBid),
		errors.Is(err, ErrPriceTooLow),
		errors.Is(err, ErrBelowIncrement),
		errors.Is(err, ErrAuctionNotActive):
		return true
	default:
		return false
	}
}

// IsClientInput reports whether err was caused by a malformed or invalid request
func IsClientInput(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidBid),
		errors.Is(err, ErrInvalidAuction),
		errors.Is(err, ErrMalformedMessage),
		errors.Is(err, ErrUnknownMessage):
		return true
	default:
		return false
	}
}
