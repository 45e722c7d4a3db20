package stream

import (
	"context"
	"time"

	"openlot.org/internal/bidding"
	"openlot.org/internal/obs"
)

// Sink delivers events to an external transport (Redis Pub/Sub for
// multi-instance fan-out). Failures are the sink's own problem.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

const sinkTimeout = 5 * time.Second

// Notifier is the outbound side of a bid commit: it pushes the event into the
// in-process hub and every configured sink. All paths are fire-and-forget;
// the commit that triggered the notification has already happened and must
// not be failed or delayed here.
type Notifier struct {
	hub   *Hub
	sinks []Sink
}

// NewNotifier wires the hub and optional sinks.
func NewNotifier(hub *Hub, sinks ...Sink) *Notifier {
	return &Notifier{hub: hub, sinks: sinks}
}

// Hub exposes the in-process hub for subscriber endpoints.
func (n *Notifier) Hub() *Hub { return n.hub }

// BidAccepted broadcasts a freshly committed winning bid.
func (n *Notifier) BidAccepted(bid bidding.Bid) {
	b := bid
	n.dispatch(Event{
		Type:           EventBidAccepted,
		AuctionID:      bid.AuctionID,
		Bid:            bid,
		CurrentHighest: &b,
		Timestamp:      time.Now().UTC(),
	})
}

// BidDenied broadcasts an administrative denial together with the surviving
// leader (nil when the auction is left without a winning bid).
func (n *Notifier) BidDenied(bid bidding.Bid, currentHighest *bidding.Bid) {
	n.dispatch(Event{
		Type:           EventBidDenied,
		AuctionID:      bid.AuctionID,
		Bid:            bid,
		CurrentHighest: currentHighest,
		Timestamp:      time.Now().UTC(),
	})
}

func (n *Notifier) dispatch(evt Event) {
	if n == nil {
		return
	}
	if n.hub != nil {
		n.hub.Publish(evt)
	}
	for _, sink := range n.sinks {
		go func(s Sink) {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			defer cancel()
			if err := s.Publish(ctx, evt); err != nil {
				obs.Warn("stream sink publish failed", map[string]any{
					"auction_id": evt.AuctionID,
					"event":      string(evt.Type),
					"error":      err.Error(),
				})
			}
		}(sink)
	}
}
