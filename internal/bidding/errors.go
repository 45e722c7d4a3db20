package bidding

import "errors"

// Rejection and failure modes. The HTTP layer maps these to status codes and
// stable reason strings via ReasonCode; rejections carrying extra context
// (participant rejection reason) are wrapped with %w so errors.Is still works.
var (
	ErrAuctionNotLive       = errors.New("auction is not live")
	ErrSessionInactive      = errors.New("bidding session is not active")
	ErrNotRegistered        = errors.New("caller is not registered for this auction")
	ErrNotConfirmed         = errors.New("registration has not been confirmed")
	ErrRejected             = errors.New("registration was rejected")
	ErrNotCheckedIn         = errors.New("participant has not checked in")
	ErrWithdrawn            = errors.New("participant has withdrawn")
	ErrBelowStartingPrice   = errors.New("amount is below the starting price")
	ErrNotHigherThanCurrent = errors.New("amount does not exceed the current highest bid")
	ErrInvalidIncrement     = errors.New("amount is not a whole number of increments above the baseline")
	ErrInvalidAmount        = errors.New("invalid amount (must be > 0 with at most 2 decimal places)")

	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrAlreadyDenied       = errors.New("bid is already denied")
	ErrCannotDenyWithdrawn = errors.New("cannot deny a withdrawn bid")
	ErrConflict            = errors.New("concurrent bid conflict, retries exhausted")
)

// ReasonCode returns the stable machine-readable code for a bidding error, or
// "" when the error is not part of the bidding taxonomy.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrAuctionNotLive):
		return "auction_not_live"
	case errors.Is(err, ErrSessionInactive):
		return "session_inactive"
	case errors.Is(err, ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrNotConfirmed):
		return "not_confirmed"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrNotCheckedIn):
		return "not_checked_in"
	case errors.Is(err, ErrWithdrawn):
		return "withdrawn"
	case errors.Is(err, ErrBelowStartingPrice):
		return "below_starting_price"
	case errors.Is(err, ErrNotHigherThanCurrent):
		return "not_higher_than_current"
	case errors.Is(err, ErrInvalidIncrement):
		return "invalid_increment"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAlreadyDenied):
		return "already_denied"
	case errors.Is(err, ErrCannotDenyWithdrawn):
		return "cannot_deny_withdrawn"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return ""
}
