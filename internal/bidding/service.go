package bidding

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"openlot.org/internal/ids"
)

// DefaultDenialReason is recorded when the denying actor gives no reason.
const DefaultDenialReason = "denied by auction administrator"

// Service defines the bidding engine operations.
type Service interface {
	// PlaceBid validates and atomically commits a manual bid, making it the
	// auction's single winning bid. Two concurrent calls against the same
	// auction never both end up winning.
	PlaceBid(ctx context.Context, auctionID, userID string, amount decimal.Decimal) (Bid, error)

	// DenyBid marks an existing bid denied. admin reports whether the actor
	// holds the administrative role; otherwise the actor must own the
	// auction. The next-highest bid is not promoted.
	DenyBid(ctx context.Context, bidID, actorID, reason string, admin bool) (Bid, error)

	GetAuction(ctx context.Context, id string) (Auction, error)

	// ListBids returns the auction's bids, most recent first.
	ListBids(ctx context.Context, auctionID string, limit int) ([]Bid, error)

	// CurrentHighest returns the highest non-denied, non-withdrawn bid, or
	// nil when the auction has none. Always computed fresh, never cached.
	CurrentHighest(ctx context.Context, auctionID string) (*Bid, error)
}

// InMemory implements Service with in-process concurrency safety. The commit
// critical section is serialized by a mutex keyed by auction id, so bidders
// on different auctions never contend. Suitable for single-instance
// deployments and tests; multi-instance deployments use the Postgres store.
type InMemory struct {
	mu           sync.RWMutex
	auctions     map[string]Auction
	participants map[string]map[string]Participant // auction id -> user id
	bids         map[string][]*Bid                 // auction id, in commit order
	byID         map[string]*Bid

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty engine.
func NewInMemory() *InMemory {
	return &InMemory{
		auctions:     make(map[string]Auction),
		participants: make(map[string]map[string]Participant),
		bids:         make(map[string][]*Bid),
		byID:         make(map[string]*Bid),
		locks:        make(map[string]*sync.Mutex),
	}
}

// SeedAuction installs or replaces an auction record. Auction creation and
// status transitions belong to external collaborators; this exists for tests
// and the demo mode.
func (s *InMemory) SeedAuction(a Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[a.ID] = a
}

// SeedParticipant installs or replaces a participant registration.
func (s *InMemory) SeedParticipant(p Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.participants[p.AuctionID]
	if !ok {
		m = make(map[string]Participant)
		s.participants[p.AuctionID] = m
	}
	m[p.UserID] = p
}

func (s *InMemory) auctionLock(auctionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[auctionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[auctionID] = l
	}
	return l
}

func (s *InMemory) PlaceBid(ctx context.Context, auctionID, userID string, amount decimal.Decimal) (Bid, error) {
	if err := ValidateAmount(amount); err != nil {
		return Bid{}, err
	}

	// Critical section: the read-validate-write sequence for one auction.
	// The lock scope is the auction id, so there is no cross-auction
	// contention. Once entered, the commit runs to completion regardless of
	// caller cancellation to keep the ledger consistent.
	lock := s.auctionLock(auctionID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	auction, ok := s.auctions[auctionID]
	if !ok {
		return Bid{}, ErrNotFound
	}
	participant := s.lookupParticipant(auctionID, userID)
	highest := s.currentHighestLocked(auctionID)

	var highestAmt *decimal.Decimal
	if highest != nil {
		highestAmt = &highest.Amount
	}
	if err := Validate(auction, participant, highestAmt, amount, time.Now().UTC()); err != nil {
		return Bid{}, err
	}

	if highest != nil {
		highest.IsWinningBid = false
	}
	bid := &Bid{
		ID:            ids.New(),
		AuctionID:     auctionID,
		ParticipantID: participant.ID,
		UserID:        userID,
		Amount:        amount,
		BidAt:         time.Now().UTC(),
		BidType:       BidTypeManual,
		IsWinningBid:  true,
	}
	s.bids[auctionID] = append(s.bids[auctionID], bid)
	s.byID[bid.ID] = bid
	return *bid, nil
}

func (s *InMemory) DenyBid(ctx context.Context, bidID, actorID, reason string, admin bool) (Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bid, ok := s.byID[bidID]
	if !ok {
		return Bid{}, ErrNotFound
	}
	auction, ok := s.auctions[bid.AuctionID]
	if !ok {
		return Bid{}, ErrNotFound
	}
	if !admin && auction.OwnerUserID != actorID {
		return Bid{}, ErrForbidden
	}
	if bid.IsDenied {
		return Bid{}, ErrAlreadyDenied
	}
	if bid.IsWithdrawn {
		return Bid{}, ErrCannotDenyWithdrawn
	}

	now := time.Now().UTC()
	if reason == "" {
		reason = DefaultDenialReason
	}
	bid.IsDenied = true
	bid.DeniedAt = &now
	bid.DeniedBy = actorID
	bid.DeniedReason = reason
	// A denied winner leaves the auction with no winning bid; the
	// next-highest survivor is not promoted.
	bid.IsWinningBid = false
	return *bid, nil
}

func (s *InMemory) GetAuction(ctx context.Context, id string) (Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return Auction{}, ErrNotFound
	}
	return a, nil
}

func (s *InMemory) ListBids(ctx context.Context, auctionID string, limit int) ([]Bid, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.auctions[auctionID]; !ok {
		return nil, ErrNotFound
	}
	// Bids are appended in commit order, so reverse iteration yields most
	// recent first.
	all := s.bids[auctionID]
	out := make([]Bid, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *all[i])
	}
	return out, nil
}

func (s *InMemory) CurrentHighest(ctx context.Context, auctionID string) (*Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.auctions[auctionID]; !ok {
		return nil, ErrNotFound
	}
	if b := s.currentHighestLocked(auctionID); b != nil {
		out := *b
		return &out, nil
	}
	return nil, nil
}

func (s *InMemory) lookupParticipant(auctionID, userID string) *Participant {
	m, ok := s.participants[auctionID]
	if !ok {
		return nil
	}
	p, ok := m[userID]
	if !ok {
		return nil
	}
	return &p
}

// currentHighestLocked derives the highest counting bid. Caller holds mu.
func (s *InMemory) currentHighestLocked(auctionID string) *Bid {
	var best *Bid
	for _, b := range s.bids[auctionID] {
		if !b.Counts() {
			continue
		}
		if best == nil || b.Amount.Cmp(best.Amount) > 0 {
			best = b
		}
	}
	return best
}
