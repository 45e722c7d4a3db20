package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
)

// Stream handles Server-Sent Events for one auction's live bid feed.
func (a *API) Stream(w http.ResponseWriter, r *http.Request, auctionID string) {
	if a.notifier == nil || a.notifier.Hub() == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}

	// Reject unknown auctions before upgrading to a stream.
	if _, err := a.svc.GetAuction(r.Context(), auctionID); err != nil {
		handleBiddingError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.notifier.Hub().Subscribe(ctx, auctionID)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
