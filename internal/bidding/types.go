package bidding

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction. The bidding engine
// only ever reads it; transitions are driven by the scheduler and the
// finalization flow.
type AuctionStatus string

const (
	StatusScheduled      AuctionStatus = "scheduled"
	StatusLive           AuctionStatus = "live"
	StatusAwaitingResult AuctionStatus = "awaiting_result"
	StatusSuccess        AuctionStatus = "success"
	StatusFailed         AuctionStatus = "failed"
	StatusNoBid          AuctionStatus = "no_bid"
	StatusCancelled      AuctionStatus = "cancelled"
)

// BidType distinguishes manual bids from auto-bids placed on a bidder's behalf.
type BidType string

const (
	BidTypeManual BidType = "manual"
	BidTypeAuto   BidType = "auto"
)

// Auction is one schedulable sale event for a single asset lot.
// Prices are exact decimals; no floats anywhere in the engine.
type Auction struct {
	ID            string          `json:"id"`
	Status        AuctionStatus   `json:"status"`
	StartAt       time.Time       `json:"start_at"`
	EndAt         time.Time       `json:"end_at"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	BidIncrement  decimal.Decimal `json:"bid_increment"`
	OwnerUserID   string          `json:"owner_user_id"`
}

// MarshalJSON serializes prices with exactly two fraction digits. The default
// decimal encoding trims trailing zeros ("1000" for 1000.00), which is not
// the wire shape clients are promised.
func (a Auction) MarshalJSON() ([]byte, error) {
	type alias Auction
	return json.Marshal(struct {
		alias
		StartingPrice string `json:"starting_price"`
		BidIncrement  string `json:"bid_increment"`
	}{alias(a), a.StartingPrice.StringFixed(2), a.BidIncrement.StringFixed(2)})
}

// Participant is one user's registration in one auction. Exactly one row
// exists per (user, auction) pair; the engine treats it as read-only.
type Participant struct {
	ID             string     `json:"id"`
	AuctionID      string     `json:"auction_id"`
	UserID         string     `json:"user_id"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	RejectedReason string     `json:"rejected_reason,omitempty"`
	CheckedInAt    *time.Time `json:"checked_in_at,omitempty"`
	WithdrawnAt    *time.Time `json:"withdrawn_at,omitempty"`
}

// Eligible reports whether the participant may bid at all: confirmed,
// checked in, not rejected, not withdrawn.
func (p Participant) Eligible() bool {
	return p.ConfirmedAt != nil && p.RejectedAt == nil && p.CheckedInAt != nil && p.WithdrawnAt == nil
}

// Bid is one amount submission and its permanent outcome record. Rows are
// never deleted; only the winning flag and the denial fields ever change
// after insert.
type Bid struct {
	ID            string          `json:"id"`
	AuctionID     string          `json:"auction_id"`
	ParticipantID string          `json:"participant_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	BidAt         time.Time       `json:"bid_at"`
	BidType       BidType         `json:"bid_type"`
	IsWinningBid  bool            `json:"is_winning_bid"`
	IsDenied      bool            `json:"is_denied"`
	DeniedAt      *time.Time      `json:"denied_at,omitempty"`
	DeniedBy      string          `json:"denied_by,omitempty"`
	DeniedReason  string          `json:"denied_reason,omitempty"`
	IsWithdrawn   bool            `json:"is_withdrawn"`
}

// MarshalJSON serializes the amount with exactly two fraction digits.
func (b Bid) MarshalJSON() ([]byte, error) {
	type alias Bid
	return json.Marshal(struct {
		alias
		Amount string `json:"amount"`
	}{alias(b), b.Amount.StringFixed(2)})
}

// Counts reports whether the bid participates in the winning/highest-bid
// computation.
func (b Bid) Counts() bool { return !b.IsDenied && !b.IsWithdrawn }
