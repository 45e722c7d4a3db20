package stream

import (
	"context"
	"sync"
	"time"

	"openlot.org/internal/bidding"
	"openlot.org/internal/obs"
)

// EventType discriminates live bidding events.
type EventType string

const (
	EventBidAccepted EventType = "bid_accepted"
	EventBidDenied   EventType = "bid_denied"
)

// Event is one push notification to live auction viewers. CurrentHighest
// carries the leader after the event so subscribers can recompute auction
// state without a follow-up query (nil when no counting bid remains).
type Event struct {
	Type           EventType    `json:"type"`
	AuctionID      string       `json:"auction_id"`
	Bid            bidding.Bid  `json:"bid"`
	CurrentHighest *bidding.Bid `json:"current_highest,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Hub fan-outs bid events to all active subscribers (SSE clients). Delivery
// is best-effort: a slow subscriber loses events rather than blocking the
// publisher, and the publisher never learns about delivery failures.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	auctionID string // "" subscribes to every auction
	ch        chan Event
}

// NewHub initialises an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscriber)}
}

// Subscribe registers a subscriber for one auction ("" for all auctions) and
// returns a channel which will receive events. The channel is closed when the
// provided context ends.
func (h *Hub) Subscribe(ctx context.Context, auctionID string) <-chan Event {
	sub := &subscriber{auctionID: auctionID, ch: make(chan Event, 16)}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()
	obs.StreamSubscriberAdd(1)

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(sub.ch)
		h.mu.Unlock()
		obs.StreamSubscriberAdd(-1)
	}()

	return sub.ch
}

// Publish fan-outs the event to subscribers of its auction.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.auctionID != "" && sub.auctionID != evt.AuctionID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
