package bidding

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Validate decides whether a proposed bid would be acceptable against the
// given snapshot. It performs no writes; callers run it once as a cheap
// pre-check and again inside the commit critical section against fresh state.
//
// participant may be nil (caller never registered). currentHighest is the
// amount of the highest non-denied, non-withdrawn bid, or nil when the
// auction has no accepted bid yet.
//
// Checks run in a fixed order so clients always see the most fundamental
// failure first: auction state, session window, eligibility, then amount.
func Validate(auction Auction, participant *Participant, currentHighest *decimal.Decimal, amount decimal.Decimal, now time.Time) error {
	if auction.Status != StatusLive {
		return ErrAuctionNotLive
	}
	if now.Before(auction.StartAt) || now.After(auction.EndAt) {
		return ErrSessionInactive
	}
	if participant == nil {
		return ErrNotRegistered
	}
	if participant.ConfirmedAt == nil {
		return ErrNotConfirmed
	}
	if participant.RejectedAt != nil {
		if participant.RejectedReason != "" {
			return fmt.Errorf("%w: %s", ErrRejected, participant.RejectedReason)
		}
		return ErrRejected
	}
	if participant.CheckedInAt == nil {
		return ErrNotCheckedIn
	}
	if participant.WithdrawnAt != nil {
		return ErrWithdrawn
	}

	// Baseline is the starting price for the opening bid, the current
	// highest afterwards. The opening bid may equal the starting price;
	// later bids must strictly exceed the leader.
	baseline := auction.StartingPrice
	if currentHighest != nil {
		baseline = *currentHighest
		if amount.Cmp(baseline) <= 0 {
			return ErrNotHigherThanCurrent
		}
	} else if amount.Cmp(baseline) < 0 {
		return ErrBelowStartingPrice
	}

	if auction.BidIncrement.IsPositive() {
		delta := amount.Sub(baseline)
		if !delta.Mod(auction.BidIncrement).IsZero() {
			return ErrInvalidIncrement
		}
	}
	return nil
}

// ValidateAmount checks the client-supplied amount shape: strictly positive
// with at most two fractional digits. This is a boundary check, separate from
// Validate so malformed input never reaches the commit path.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Truncate(2)) {
		return ErrInvalidAmount
	}
	return nil
}
