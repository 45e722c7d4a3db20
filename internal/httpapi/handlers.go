package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"openlot.org/internal/bidding"
	"openlot.org/internal/obs"
	"openlot.org/internal/stream"
)

// ReadyProbe reports whether the service can take traffic (DB ping when a
// database is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the bidding engine.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	svc        bidding.Service
	notifier   *stream.Notifier

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, svc bidding.Service, notifier *stream.Notifier) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		notifier:   notifier,
		rateBurst:  40,
		ratePerSec: 20,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// bidding engine
	a.mux.HandleFunc("/v1/auctions/", a.handleAuctionResource)
	a.mux.HandleFunc("/v1/bids/", a.handleBidResource)

	// dev token issuance
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the default per-IP rate limit. Call before Handler.
func (a *API) SetRateLimit(burst, perSec int) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSec > 0 {
		a.ratePerSec = perSec
	}
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RequestID(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "openlot-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "openlot-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleBiddingError maps the bidding taxonomy onto HTTP statuses. Every
// rejection keeps its stable reason code so clients can render the specific
// cause instead of a generic failure.
func handleBiddingError(w http.ResponseWriter, r *http.Request, err error) {
	reason := bidding.ReasonCode(err)
	switch {
	case errors.Is(err, bidding.ErrInvalidAmount):
		writeReasonError(w, r, http.StatusBadRequest, reason, err)
	case errors.Is(err, bidding.ErrNotFound):
		writeReasonError(w, r, http.StatusNotFound, reason, err)
	case errors.Is(err, bidding.ErrForbidden),
		errors.Is(err, bidding.ErrNotRegistered),
		errors.Is(err, bidding.ErrNotConfirmed),
		errors.Is(err, bidding.ErrRejected),
		errors.Is(err, bidding.ErrNotCheckedIn),
		errors.Is(err, bidding.ErrWithdrawn):
		writeReasonError(w, r, http.StatusForbidden, reason, err)
	case errors.Is(err, bidding.ErrAuctionNotLive),
		errors.Is(err, bidding.ErrSessionInactive),
		errors.Is(err, bidding.ErrBelowStartingPrice),
		errors.Is(err, bidding.ErrNotHigherThanCurrent),
		errors.Is(err, bidding.ErrInvalidIncrement),
		errors.Is(err, bidding.ErrAlreadyDenied),
		errors.Is(err, bidding.ErrCannotDenyWithdrawn),
		errors.Is(err, bidding.ErrConflict):
		writeReasonError(w, r, http.StatusConflict, reason, err)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeReasonError(w http.ResponseWriter, r *http.Request, code int, reason string, err error) {
	payload := map[string]any{
		"error":  err.Error(),
		"reason": reason,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

var errInvalidLimit = errors.New("limit must be an integer between 1 and 1000")

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
