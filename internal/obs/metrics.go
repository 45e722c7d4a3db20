package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Bidding-engine metrics.
var (
	bidsAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bids_accepted_total",
		Help: "Bids committed as the new winning bid.",
	})

	bidsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bids_rejected_total",
			Help: "Bids rejected by the validator or commit path.",
		},
		[]string{"reason"},
	)

	bidConflictRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bid_commit_conflict_retries_total",
		Help: "Commit attempts retried after a serialization conflict.",
	})

	bidsDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bids_denied_total",
		Help: "Bids denied through the administrative path.",
	})

	streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_subscribers",
		Help: "Active live-state stream subscribers.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the readiness probe last succeeded.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		bidsAcceptedTotal, bidsRejectedTotal, bidConflictRetries, bidsDeniedTotal,
		streamSubscribers, ready,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// BidAccepted increments the accepted-bid counter.
func BidAccepted() { bidsAcceptedTotal.Inc() }

// BidRejected increments the rejection counter for the given reason code.
func BidRejected(reason string) {
	if reason == "" {
		reason = "internal"
	}
	bidsRejectedTotal.WithLabelValues(reason).Inc()
}

// BidConflictRetry counts one retried commit attempt.
func BidConflictRetry() { bidConflictRetries.Inc() }

// BidDenied increments the denial counter.
func BidDenied() { bidsDeniedTotal.Inc() }

// StreamSubscriberAdd tracks subscriber churn on the live stream.
func StreamSubscriberAdd(delta int) { streamSubscribers.Add(float64(delta)) }

// SetReady records the last readiness probe result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(path, "/v1/auctions/"); ok {
		switch {
		case rest == "":
			return path
		case strings.HasSuffix(rest, "/bids") && strings.Count(rest, "/") == 1:
			return "/v1/auctions/:id/bids"
		case strings.HasSuffix(rest, "/stream") && strings.Count(rest, "/") == 1:
			return "/v1/auctions/:id/stream"
		case !strings.Contains(rest, "/"):
			return "/v1/auctions/:id"
		}
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/v1/bids/"); ok {
		switch {
		case strings.HasSuffix(rest, "/deny") && strings.Count(rest, "/") == 1:
			return "/v1/bids/:id/deny"
		case rest != "" && !strings.Contains(rest, "/"):
			return "/v1/bids/:id"
		}
		return path
	}
	return path
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the instrumented wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
