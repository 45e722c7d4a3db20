package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"openlot.org/internal/audit"
	"openlot.org/internal/auth"
	"openlot.org/internal/bidding"
	"openlot.org/internal/obs"
)

type placeBidRequest struct {
	// Amount is a decimal string ("1050000000.00"); JSON numbers would go
	// through float64 and lose exactness.
	Amount string `json:"amount"`
}

type denyBidRequest struct {
	Reason string `json:"reason"`
}

type listBidsResponse struct {
	Items []bidding.Bid `json:"items"`
	AsOf  time.Time     `json:"as_of"`
}

func (a *API) handleAuctionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/auctions/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/bids"); ok && !strings.Contains(id, "/") && id != "" {
		switch r.Method {
		case http.MethodPost:
			a.placeBid(w, r, id)
		case http.MethodGet:
			a.listBids(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
		return
	}

	if id, ok := strings.CutSuffix(path, "/stream"); ok && !strings.Contains(id, "/") && id != "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.Stream(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getAuction(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleBidResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/bids/")
	id, ok := strings.CutSuffix(path, "/deny")
	if !ok || id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.denyBid(w, r, id)
}

func (a *API) placeBid(w http.ResponseWriter, r *http.Request, auctionID string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req placeBidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		obs.BidRejected(bidding.ReasonCode(bidding.ErrInvalidAmount))
		writeReasonError(w, r, http.StatusBadRequest, bidding.ReasonCode(bidding.ErrInvalidAmount), bidding.ErrInvalidAmount)
		return
	}

	bid, err := a.svc.PlaceBid(r.Context(), auctionID, principal.UserID, amount)
	if err != nil {
		obs.BidRejected(bidding.ReasonCode(err))
		handleBiddingError(w, r, err)
		return
	}

	obs.BidAccepted()
	audit.BidAccepted(r.Context(), bid.AuctionID, bid.ID, bid.Amount.StringFixed(2))

	// The bid is committed; broadcasting is fire-and-forget and can neither
	// fail nor delay this response.
	if a.notifier != nil {
		a.notifier.BidAccepted(bid)
	}

	w.Header().Set("Location", "/v1/auctions/"+bid.AuctionID+"/bids")
	writeJSON(w, http.StatusCreated, bid)
}

func (a *API) denyBid(w http.ResponseWriter, r *http.Request, bidID string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req denyBidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	bid, err := a.svc.DenyBid(r.Context(), bidID, principal.UserID, strings.TrimSpace(req.Reason), principal.IsAdmin())
	if err != nil {
		handleBiddingError(w, r, err)
		return
	}

	obs.BidDenied()
	audit.BidDenied(r.Context(), bid.AuctionID, bid.ID, principal.UserID, bid.DeniedReason)

	if a.notifier != nil {
		// Recompute the surviving leader so subscribers do not need a
		// follow-up query. Best-effort: on error broadcast without it.
		highest, herr := a.svc.CurrentHighest(r.Context(), bid.AuctionID)
		if herr != nil {
			highest = nil
		}
		a.notifier.BidDenied(bid, highest)
	}

	writeJSON(w, http.StatusOK, bid)
}

func (a *API) getAuction(w http.ResponseWriter, r *http.Request, id string) {
	auction, err := a.svc.GetAuction(r.Context(), id)
	if err != nil {
		handleBiddingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auction)
}

func (a *API) listBids(w http.ResponseWriter, r *http.Request, auctionID string) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items, err := a.svc.ListBids(r.Context(), auctionID, limit)
	if err != nil {
		handleBiddingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listBidsResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errInvalidLimit
	}
	if val < min || val > max {
		return 0, errInvalidLimit
	}
	return val, nil
}
