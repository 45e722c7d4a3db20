package bidding

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func testAuction(t *testing.T, now time.Time) Auction {
	t.Helper()
	return Auction{
		ID:            "a1",
		Status:        StatusLive,
		StartAt:       now.Add(-time.Hour),
		EndAt:         now.Add(time.Hour),
		StartingPrice: dec(t, "1000.00"),
		BidIncrement:  dec(t, "50.00"),
		OwnerUserID:   "owner",
	}
}

func eligibleParticipant() *Participant {
	now := time.Now().UTC()
	return &Participant{
		ID:          "p1",
		AuctionID:   "a1",
		UserID:      "u1",
		ConfirmedAt: &now,
		CheckedInAt: &now,
	}
}

func TestValidateHappyPaths(t *testing.T) {
	now := time.Now().UTC()
	auction := testAuction(t, now)
	p := eligibleParticipant()

	// Opening bid at exactly the starting price.
	if err := Validate(auction, p, nil, dec(t, "1000.00"), now); err != nil {
		t.Fatalf("opening bid at starting price: %v", err)
	}
	// Opening bid above the starting price on an increment boundary.
	if err := Validate(auction, p, nil, dec(t, "1150.00"), now); err != nil {
		t.Fatalf("opening bid above starting price: %v", err)
	}
	// Overbid one increment above the current leader.
	highest := dec(t, "1200.00")
	if err := Validate(auction, p, &highest, dec(t, "1250.00"), now); err != nil {
		t.Fatalf("overbid: %v", err)
	}
}

func TestValidateCheckOrder(t *testing.T) {
	now := time.Now().UTC()
	rejectedAt := now.Add(-time.Minute)

	cases := []struct {
		name    string
		mutate  func(*Auction, **Participant)
		highest string // empty means no current bid
		amount  string
		wantErr error
	}{
		{
			name:   "auction not live",
			mutate: func(a *Auction, _ **Participant) { a.Status = StatusScheduled },
			amount: "1000.00", wantErr: ErrAuctionNotLive,
		},
		{
			name:   "before session window",
			mutate: func(a *Auction, _ **Participant) { a.StartAt = now.Add(time.Minute) },
			amount: "1000.00", wantErr: ErrSessionInactive,
		},
		{
			name:   "after session window",
			mutate: func(a *Auction, _ **Participant) { a.EndAt = now.Add(-time.Minute) },
			amount: "1000.00", wantErr: ErrSessionInactive,
		},
		{
			name:   "not registered",
			mutate: func(_ *Auction, p **Participant) { *p = nil },
			amount: "1000.00", wantErr: ErrNotRegistered,
		},
		{
			name:   "not confirmed",
			mutate: func(_ *Auction, p **Participant) { (*p).ConfirmedAt = nil },
			amount: "1000.00", wantErr: ErrNotConfirmed,
		},
		{
			name: "rejected",
			mutate: func(_ *Auction, p **Participant) {
				(*p).RejectedAt = &rejectedAt
				(*p).RejectedReason = "incomplete documents"
			},
			amount: "1000.00", wantErr: ErrRejected,
		},
		{
			name:   "not checked in",
			mutate: func(_ *Auction, p **Participant) { (*p).CheckedInAt = nil },
			amount: "1000.00", wantErr: ErrNotCheckedIn,
		},
		{
			name: "withdrawn",
			mutate: func(_ *Auction, p **Participant) {
				withdrawnAt := now.Add(-time.Minute)
				(*p).WithdrawnAt = &withdrawnAt
			},
			amount: "1000.00", wantErr: ErrWithdrawn,
		},
		{
			name:   "below starting price",
			mutate: func(_ *Auction, _ **Participant) {},
			amount: "999.99", wantErr: ErrBelowStartingPrice,
		},
		{
			name:    "equal to current highest",
			mutate:  func(_ *Auction, _ **Participant) {},
			highest: "1200.00",
			amount:  "1200.00", wantErr: ErrNotHigherThanCurrent,
		},
		{
			name:    "below current highest",
			mutate:  func(_ *Auction, _ **Participant) {},
			highest: "1200.00",
			amount:  "1100.00", wantErr: ErrNotHigherThanCurrent,
		},
		{
			name:   "off increment opening bid",
			mutate: func(_ *Auction, _ **Participant) {},
			amount: "1025.00", wantErr: ErrInvalidIncrement,
		},
		{
			name:    "off increment overbid",
			mutate:  func(_ *Auction, _ **Participant) {},
			highest: "1200.00",
			amount:  "1260.00", wantErr: ErrInvalidIncrement,
		},
		{
			name: "rejected wins over bad amount",
			mutate: func(_ *Auction, p **Participant) {
				(*p).RejectedAt = &rejectedAt
			},
			amount: "1.00", wantErr: ErrRejected,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auction := testAuction(t, now)
			participant := eligibleParticipant()
			tc.mutate(&auction, &participant)

			var highest *decimal.Decimal
			if tc.highest != "" {
				h := dec(t, tc.highest)
				highest = &h
			}
			err := Validate(auction, participant, highest, dec(t, tc.amount), now)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateRejectedReasonSurfaces(t *testing.T) {
	now := time.Now().UTC()
	auction := testAuction(t, now)
	p := eligibleParticipant()
	rejectedAt := now.Add(-time.Minute)
	p.RejectedAt = &rejectedAt
	p.RejectedReason = "incomplete documents"

	err := Validate(auction, p, nil, dec(t, "1000.00"), now)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("got %v, want ErrRejected", err)
	}
	if got := err.Error(); got != "registration was rejected: incomplete documents" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestValidateZeroIncrementSkipsStepCheck(t *testing.T) {
	now := time.Now().UTC()
	auction := testAuction(t, now)
	auction.BidIncrement = decimal.Zero
	p := eligibleParticipant()

	highest := dec(t, "1200.00")
	if err := Validate(auction, p, &highest, dec(t, "1200.01"), now); err != nil {
		t.Fatalf("free-step overbid: %v", err)
	}
}

func TestValidateLargeDecimalsStayExact(t *testing.T) {
	// Amounts around 1e9 with a 5e7 step would misbehave under float
	// arithmetic; the decimal path must not.
	now := time.Now().UTC()
	auction := testAuction(t, now)
	auction.StartingPrice = dec(t, "1000000000.00")
	auction.BidIncrement = dec(t, "50000000.00")
	p := eligibleParticipant()

	if err := Validate(auction, p, nil, dec(t, "1000000000.00"), now); err != nil {
		t.Fatalf("opening bid: %v", err)
	}
	highest := dec(t, "1000000000.00")
	if err := Validate(auction, p, &highest, dec(t, "1050000000.00"), now); err != nil {
		t.Fatalf("overbid: %v", err)
	}
	err := Validate(auction, p, &highest, dec(t, "1050000000.01"), now)
	if !errors.Is(err, ErrInvalidIncrement) {
		t.Fatalf("got %v, want ErrInvalidIncrement", err)
	}
}

func TestValidateAmount(t *testing.T) {
	cases := []struct {
		amount string
		ok     bool
	}{
		{"0.01", true},
		{"1000.00", true},
		{"1000", true},
		{"0", false},
		{"-5.00", false},
		{"10.001", false},
		{"10.010", true}, // trailing zero, still two significant decimals
	}
	for _, tc := range cases {
		err := ValidateAmount(dec(t, tc.amount))
		if tc.ok && err != nil {
			t.Errorf("ValidateAmount(%s) = %v, want nil", tc.amount, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ValidateAmount(%s) = %v, want ErrInvalidAmount", tc.amount, err)
		}
	}
}
