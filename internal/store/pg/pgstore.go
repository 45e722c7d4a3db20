package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"openlot.org/internal/bidding"
	"openlot.org/internal/ids"
	"openlot.org/internal/obs"
)

// defaultMaxAttempts bounds the commit retry loop on serialization
// conflicts. Tunable via WithMaxAttempts.
const defaultMaxAttempts = 3

// Store implements bidding.Service on Postgres. The commit critical section
// is a serializable transaction that locks the auction row, so two bids
// racing on the same auction serialize on that row while other auctions
// proceed untouched.
type Store struct {
	db          *sql.DB
	maxAttempts int
}

var _ bidding.Service = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithMaxAttempts overrides the commit retry bound.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewWithDB wraps an existing handle (tests use this with sqlmock).
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const auctionColumns = `id, status, start_at, end_at, starting_price::text, bid_increment::text, owner_user_id`

const bidColumns = `id, auction_id, participant_id, user_id, amount::text, bid_at, bid_type,
	is_winning_bid, is_denied, denied_at, coalesce(denied_by,''), coalesce(denied_reason,''), is_withdrawn`

func (s *Store) PlaceBid(ctx context.Context, auctionID, userID string, amount decimal.Decimal) (bidding.Bid, error) {
	if err := bidding.ValidateAmount(amount); err != nil {
		return bidding.Bid{}, err
	}

	// Optimistic pre-check on possibly stale reads: invalid requests fail
	// here without ever paying for a transaction. Correctness comes from
	// the re-validation inside the critical section below.
	auction, participant, highest, err := s.snapshot(ctx, nil, auctionID, userID, false)
	if err != nil {
		return bidding.Bid{}, err
	}
	if err := bidding.Validate(auction, participant, highestAmount(highest), amount, time.Now().UTC()); err != nil {
		return bidding.Bid{}, err
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			obs.BidConflictRetry()
		}
		bid, err := s.placeBidTx(ctx, auctionID, userID, amount)
		if err == nil {
			return bid, nil
		}
		if !retryableConflict(err) {
			return bidding.Bid{}, err
		}
	}
	return bidding.Bid{}, bidding.ErrConflict
}

// placeBidTx runs one attempt of the critical section: re-read under the
// auction row lock, re-validate, demote the old winner, insert the new one.
// Any error aborts the transaction and leaves the ledger untouched.
func (s *Store) placeBidTx(ctx context.Context, auctionID, userID string, amount decimal.Decimal) (bidding.Bid, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return bidding.Bid{}, err
	}
	defer func() { _ = tx.Rollback() }()

	auction, participant, highest, err := s.snapshot(ctx, tx, auctionID, userID, true)
	if err != nil {
		return bidding.Bid{}, err
	}
	if err := bidding.Validate(auction, participant, highestAmount(highest), amount, time.Now().UTC()); err != nil {
		return bidding.Bid{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		update bids set is_winning_bid = false
		where auction_id = $1 and is_winning_bid and not is_denied and not is_withdrawn
	`, auctionID); err != nil {
		return bidding.Bid{}, err
	}

	bid := bidding.Bid{
		ID:            ids.New(),
		AuctionID:     auctionID,
		ParticipantID: participant.ID,
		UserID:        userID,
		Amount:        amount,
		BidAt:         time.Now().UTC(),
		BidType:       bidding.BidTypeManual,
		IsWinningBid:  true,
	}
	if _, err := tx.ExecContext(ctx, `
		insert into bids(id, auction_id, participant_id, user_id, amount, bid_at, bid_type, is_winning_bid)
		values ($1,$2,$3,$4,$5,$6,$7,true)
	`, bid.ID, bid.AuctionID, bid.ParticipantID, bid.UserID, bid.Amount.StringFixed(2), bid.BidAt, string(bid.BidType)); err != nil {
		return bidding.Bid{}, err
	}

	if err := tx.Commit(); err != nil {
		return bidding.Bid{}, err
	}
	return bid, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// snapshot reads the auction, the caller's participant row (nil when not
// registered) and the current highest counting bid. With forUpdate set the
// auction row is locked, pinning the snapshot for the rest of the
// transaction.
func (s *Store) snapshot(ctx context.Context, tx *sql.Tx, auctionID, userID string, forUpdate bool) (bidding.Auction, *bidding.Participant, *bidding.Bid, error) {
	var q querier = s.db
	if tx != nil {
		q = tx
	}

	query := `select ` + auctionColumns + ` from auctions where id = $1`
	if forUpdate {
		query += ` for update`
	}
	auction, err := scanAuction(q.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return bidding.Auction{}, nil, nil, bidding.ErrNotFound
	}
	if err != nil {
		return bidding.Auction{}, nil, nil, err
	}

	participant, err := scanParticipant(q.QueryRowContext(ctx, `
		select id, auction_id, user_id, confirmed_at, rejected_at, coalesce(rejected_reason,''), checked_in_at, withdrawn_at
		from participants where auction_id = $1 and user_id = $2
	`, auctionID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		participant = nil
	} else if err != nil {
		return bidding.Auction{}, nil, nil, err
	}

	highest, err := scanBid(q.QueryRowContext(ctx, `
		select `+bidColumns+` from bids
		where auction_id = $1 and not is_denied and not is_withdrawn
		order by amount desc, bid_at desc limit 1
	`, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		highest = nil
	} else if err != nil {
		return bidding.Auction{}, nil, nil, err
	}

	return auction, participant, highest, nil
}

func (s *Store) DenyBid(ctx context.Context, bidID, actorID, reason string, admin bool) (bidding.Bid, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bidding.Bid{}, err
	}
	defer func() { _ = tx.Rollback() }()

	bid, err := scanBid(tx.QueryRowContext(ctx, `
		select `+bidColumns+` from bids where id = $1 for update
	`, bidID))
	if errors.Is(err, sql.ErrNoRows) {
		return bidding.Bid{}, bidding.ErrNotFound
	}
	if err != nil {
		return bidding.Bid{}, err
	}

	var ownerUserID string
	err = tx.QueryRowContext(ctx, `select owner_user_id from auctions where id = $1`, bid.AuctionID).Scan(&ownerUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return bidding.Bid{}, bidding.ErrNotFound
	}
	if err != nil {
		return bidding.Bid{}, err
	}

	if !admin && ownerUserID != actorID {
		return bidding.Bid{}, bidding.ErrForbidden
	}
	if bid.IsDenied {
		return bidding.Bid{}, bidding.ErrAlreadyDenied
	}
	if bid.IsWithdrawn {
		return bidding.Bid{}, bidding.ErrCannotDenyWithdrawn
	}

	now := time.Now().UTC()
	if reason == "" {
		reason = bidding.DefaultDenialReason
	}
	// Denial never promotes the next-highest survivor; a denied winner
	// leaves the auction with no winning bid.
	if _, err := tx.ExecContext(ctx, `
		update bids
		set is_denied = true, denied_at = $2, denied_by = $3, denied_reason = $4, is_winning_bid = false
		where id = $1
	`, bidID, now, actorID, reason); err != nil {
		return bidding.Bid{}, err
	}

	if err := tx.Commit(); err != nil {
		return bidding.Bid{}, err
	}

	out := *bid
	out.IsDenied = true
	out.DeniedAt = &now
	out.DeniedBy = actorID
	out.DeniedReason = reason
	out.IsWinningBid = false
	return out, nil
}

func (s *Store) GetAuction(ctx context.Context, id string) (bidding.Auction, error) {
	auction, err := scanAuction(s.db.QueryRowContext(ctx, `select `+auctionColumns+` from auctions where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return bidding.Auction{}, bidding.ErrNotFound
	}
	return auction, err
}

func (s *Store) ListBids(ctx context.Context, auctionID string, limit int) ([]bidding.Bid, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if _, err := s.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+bidColumns+` from bids
		where auction_id = $1
		order by bid_at desc, id desc
		limit $2
	`, auctionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bidding.Bid
	for rows.Next() {
		bid, err := scanBidRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bid)
	}
	return out, rows.Err()
}

func (s *Store) CurrentHighest(ctx context.Context, auctionID string) (*bidding.Bid, error) {
	if _, err := s.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	bid, err := scanBid(s.db.QueryRowContext(ctx, `
		select `+bidColumns+` from bids
		where auction_id = $1 and not is_denied and not is_withdrawn
		order by amount desc, bid_at desc limit 1
	`, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return bid, err
}

// --- helpers ---

func highestAmount(b *bidding.Bid) *decimal.Decimal {
	if b == nil {
		return nil
	}
	return &b.Amount
}

// retryableConflict matches Postgres serialization_failure and
// deadlock_detected, the two outcomes of losing the per-auction race.
func retryableConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func scanAuction(row *sql.Row) (bidding.Auction, error) {
	var a bidding.Auction
	var status, startingPrice, bidIncrement string
	if err := row.Scan(&a.ID, &status, &a.StartAt, &a.EndAt, &startingPrice, &bidIncrement, &a.OwnerUserID); err != nil {
		return bidding.Auction{}, err
	}
	a.Status = bidding.AuctionStatus(status)
	var err error
	if a.StartingPrice, err = decimal.NewFromString(startingPrice); err != nil {
		return bidding.Auction{}, err
	}
	if a.BidIncrement, err = decimal.NewFromString(bidIncrement); err != nil {
		return bidding.Auction{}, err
	}
	return a, nil
}

func scanParticipant(row *sql.Row) (*bidding.Participant, error) {
	var p bidding.Participant
	var confirmed, rejected, checkedIn, withdrawn sql.NullTime
	if err := row.Scan(&p.ID, &p.AuctionID, &p.UserID, &confirmed, &rejected, &p.RejectedReason, &checkedIn, &withdrawn); err != nil {
		return nil, err
	}
	p.ConfirmedAt = nullableTime(confirmed)
	p.RejectedAt = nullableTime(rejected)
	p.CheckedInAt = nullableTime(checkedIn)
	p.WithdrawnAt = nullableTime(withdrawn)
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBidFrom(sc rowScanner) (bidding.Bid, error) {
	var b bidding.Bid
	var amount, bidType string
	var deniedAt sql.NullTime
	if err := sc.Scan(&b.ID, &b.AuctionID, &b.ParticipantID, &b.UserID, &amount, &b.BidAt, &bidType,
		&b.IsWinningBid, &b.IsDenied, &deniedAt, &b.DeniedBy, &b.DeniedReason, &b.IsWithdrawn); err != nil {
		return bidding.Bid{}, err
	}
	var err error
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return bidding.Bid{}, err
	}
	b.BidType = bidding.BidType(bidType)
	b.DeniedAt = nullableTime(deniedAt)
	return b, nil
}

func scanBid(row *sql.Row) (*bidding.Bid, error) {
	b, err := scanBidFrom(row)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBidRows(rows *sql.Rows) (bidding.Bid, error) {
	return scanBidFrom(rows)
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
