package bidding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestEngine(t *testing.T) *InMemory {
	t.Helper()
	now := time.Now().UTC()
	s := NewInMemory()
	s.SeedAuction(Auction{
		ID:            "a1",
		Status:        StatusLive,
		StartAt:       now.Add(-time.Hour),
		EndAt:         now.Add(time.Hour),
		StartingPrice: dec(t, "1000.00"),
		BidIncrement:  dec(t, "50.00"),
		OwnerUserID:   "owner",
	})
	for _, user := range []string{"alice", "bob", "carol"} {
		s.SeedParticipant(Participant{
			ID:          "p-" + user,
			AuctionID:   "a1",
			UserID:      user,
			ConfirmedAt: &now,
			CheckedInAt: &now,
		})
	}
	return s
}

func TestPlaceBidLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestEngine(t)

	first, err := s.PlaceBid(ctx, "a1", "alice", dec(t, "1000.00"))
	if err != nil {
		t.Fatalf("opening bid: %v", err)
	}
	if !first.IsWinningBid {
		t.Fatal("opening bid should be winning")
	}
	if first.BidType != BidTypeManual {
		t.Fatalf("bid type = %s, want manual", first.BidType)
	}

	second, err := s.PlaceBid(ctx, "a1", "bob", dec(t, "1050.00"))
	if err != nil {
		t.Fatalf("overbid: %v", err)
	}
	if !second.IsWinningBid {
		t.Fatal("overbid should be winning")
	}

	// The old leader is demoted, exactly one winner remains.
	bids, err := s.ListBids(ctx, "a1", 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("got %d bids, want 2", len(bids))
	}
	winners := 0
	for _, b := range bids {
		if b.IsWinningBid {
			winners++
			if b.ID != second.ID {
				t.Fatalf("winner is %s, want %s", b.ID, second.ID)
			}
		}
	}
	if winners != 1 {
		t.Fatalf("got %d winners, want 1", winners)
	}

	// Equal-amount resubmission loses to the strictly-higher rule.
	if _, err := s.PlaceBid(ctx, "a1", "carol", dec(t, "1050.00")); !errors.Is(err, ErrNotHigherThanCurrent) {
		t.Fatalf("equal resubmission: got %v, want ErrNotHigherThanCurrent", err)
	}
}

func TestPlaceBidUnknownAuction(t *testing.T) {
	s := newTestEngine(t)
	if _, err := s.PlaceBid(context.Background(), "missing", "alice", dec(t, "1000.00")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestPlaceBidIneligibleParticipants(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s := newTestEngine(t)

	s.SeedParticipant(Participant{ID: "p-dan", AuctionID: "a1", UserID: "dan"})
	withdrawn := now.Add(-time.Minute)
	s.SeedParticipant(Participant{
		ID: "p-erin", AuctionID: "a1", UserID: "erin",
		ConfirmedAt: &now, CheckedInAt: &now, WithdrawnAt: &withdrawn,
	})

	if _, err := s.PlaceBid(ctx, "a1", "stranger", dec(t, "1000.00")); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("stranger: got %v, want ErrNotRegistered", err)
	}
	if _, err := s.PlaceBid(ctx, "a1", "dan", dec(t, "1000.00")); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("unconfirmed: got %v, want ErrNotConfirmed", err)
	}
	if _, err := s.PlaceBid(ctx, "a1", "erin", dec(t, "1000.00")); !errors.Is(err, ErrWithdrawn) {
		t.Fatalf("withdrawn: got %v, want ErrWithdrawn", err)
	}
}

// TestConcurrentBids hammers one auction from many goroutines and checks the
// single-winner invariant: no matter how the commits interleave, exactly one
// bid ends up winning and it carries the highest accepted amount.
func TestConcurrentBids(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s := NewInMemory()
	s.SeedAuction(Auction{
		ID:            "a1",
		Status:        StatusLive,
		StartAt:       now.Add(-time.Hour),
		EndAt:         now.Add(time.Hour),
		StartingPrice: dec(t, "1000.00"),
		BidIncrement:  dec(t, "50.00"),
		OwnerUserID:   "owner",
	})

	const bidders = 40
	for i := 0; i < bidders; i++ {
		user := fmt.Sprintf("user-%02d", i)
		s.SeedParticipant(Participant{
			ID: "p-" + user, AuctionID: "a1", UserID: user,
			ConfirmedAt: &now, CheckedInAt: &now,
		})
	}

	start := dec(t, "1000.00")
	step := dec(t, "50.00")

	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := start.Add(step.Mul(decimal.NewFromInt(int64(i))))
			// Losing against a faster higher bid is expected here.
			_, _ = s.PlaceBid(ctx, "a1", fmt.Sprintf("user-%02d", i), amount)
		}(i)
	}
	wg.Wait()

	bids, err := s.ListBids(ctx, "a1", bidders)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bids) == 0 {
		t.Fatal("no bids committed")
	}

	var winner *Bid
	top := decimal.Zero
	for i := range bids {
		if bids[i].Amount.Cmp(top) > 0 {
			top = bids[i].Amount
		}
		if bids[i].IsWinningBid {
			if winner != nil {
				t.Fatalf("two winning bids: %s and %s", winner.ID, bids[i].ID)
			}
			winner = &bids[i]
		}
	}
	if winner == nil {
		t.Fatal("no winning bid")
	}
	if !winner.Amount.Equal(top) {
		t.Fatalf("winner amount %s, highest committed %s", winner.Amount, top)
	}
}

func TestDenyBid(t *testing.T) {
	ctx := context.Background()
	s := newTestEngine(t)

	bid, err := s.PlaceBid(ctx, "a1", "alice", dec(t, "1000.00"))
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// A non-owner without the admin role is refused.
	if _, err := s.DenyBid(ctx, bid.ID, "bob", "spite", false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner: got %v, want ErrForbidden", err)
	}

	denied, err := s.DenyBid(ctx, bid.ID, "owner", "payment risk", false)
	if err != nil {
		t.Fatalf("owner deny: %v", err)
	}
	if !denied.IsDenied || denied.IsWinningBid {
		t.Fatalf("denied bid state: %+v", denied)
	}
	if denied.DeniedBy != "owner" || denied.DeniedReason != "payment risk" {
		t.Fatalf("denial fields: %+v", denied)
	}
	if denied.DeniedAt == nil {
		t.Fatal("denied_at not set")
	}

	// Repeat denial is rejected.
	if _, err := s.DenyBid(ctx, bid.ID, "owner", "", false); !errors.Is(err, ErrAlreadyDenied) {
		t.Fatalf("repeat deny: got %v, want ErrAlreadyDenied", err)
	}
	if _, err := s.DenyBid(ctx, "missing", "owner", "", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing bid: got %v, want ErrNotFound", err)
	}
}

func TestDenyBidAdminAndDefaultReason(t *testing.T) {
	ctx := context.Background()
	s := newTestEngine(t)

	bid, err := s.PlaceBid(ctx, "a1", "alice", dec(t, "1000.00"))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	denied, err := s.DenyBid(ctx, bid.ID, "moderator", "", true)
	if err != nil {
		t.Fatalf("admin deny: %v", err)
	}
	if denied.DeniedReason != DefaultDenialReason {
		t.Fatalf("reason %q, want default", denied.DeniedReason)
	}
}

func TestDenyBidDoesNotPromote(t *testing.T) {
	ctx := context.Background()
	s := newTestEngine(t)

	if _, err := s.PlaceBid(ctx, "a1", "alice", dec(t, "1000.00")); err != nil {
		t.Fatalf("first: %v", err)
	}
	winner, err := s.PlaceBid(ctx, "a1", "bob", dec(t, "1050.00"))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if _, err := s.DenyBid(ctx, winner.ID, "owner", "", false); err != nil {
		t.Fatalf("deny: %v", err)
	}

	bids, err := s.ListBids(ctx, "a1", 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, b := range bids {
		if b.IsWinningBid {
			t.Fatalf("bid %s promoted after denial", b.ID)
		}
	}

	// The denied leader no longer counts, so the survivor sets the bar for
	// the next bid even though it is not promoted to winner.
	highest, err := s.CurrentHighest(ctx, "a1")
	if err != nil {
		t.Fatalf("current highest: %v", err)
	}
	if highest == nil || !highest.Amount.Equal(dec(t, "1000.00")) {
		t.Fatalf("current highest = %+v, want the surviving 1000.00 bid", highest)
	}

	next, err := s.PlaceBid(ctx, "a1", "carol", dec(t, "1050.00"))
	if err != nil {
		t.Fatalf("rebid at freed amount: %v", err)
	}
	if !next.IsWinningBid {
		t.Fatal("rebid should win")
	}
}

func TestListBidsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestEngine(t)

	amounts := []string{"1000.00", "1050.00", "1100.00"}
	users := []string{"alice", "bob", "carol"}
	for i := range amounts {
		if _, err := s.PlaceBid(ctx, "a1", users[i], dec(t, amounts[i])); err != nil {
			t.Fatalf("bid %d: %v", i, err)
		}
	}

	bids, err := s.ListBids(ctx, "a1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("got %d bids, want 2", len(bids))
	}
	if !bids[0].Amount.Equal(dec(t, "1100.00")) || !bids[1].Amount.Equal(dec(t, "1050.00")) {
		t.Fatalf("unexpected order: %s then %s", bids[0].Amount, bids[1].Amount)
	}

	if _, err := s.ListBids(ctx, "missing", 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing auction: got %v, want ErrNotFound", err)
	}
}

func TestCurrentHighestEmpty(t *testing.T) {
	s := newTestEngine(t)
	highest, err := s.CurrentHighest(context.Background(), "a1")
	if err != nil {
		t.Fatalf("current highest: %v", err)
	}
	if highest != nil {
		t.Fatalf("got %+v, want nil", highest)
	}
}
