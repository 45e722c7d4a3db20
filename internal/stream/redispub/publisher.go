// Package redispub publishes bid events to Redis Pub/Sub so broadcast
// instances other than the one that committed the bid can push to their own
// subscribers. Channel layout: "bid_events:{auctionID}".
package redispub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"openlot.org/internal/stream"
)

// Publisher implements stream.Sink over Redis Pub/Sub.
type Publisher struct {
	client *redis.Client
}

var _ stream.Sink = (*Publisher)(nil)

// New connects and pings the Redis instance.
func New(ctx context.Context, addr, password string, db int) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Publisher{client: rdb}, nil
}

// Channel returns the Pub/Sub channel name for one auction.
func Channel(auctionID string) string {
	return "bid_events:" + auctionID
}

// Publish sends the event as JSON. Delivery past Redis is best-effort;
// subscribers that are not listening simply miss the event.
func (p *Publisher) Publish(ctx context.Context, evt stream.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal bid event: %w", err)
	}
	return p.client.Publish(ctx, Channel(evt.AuctionID), payload).Err()
}

// Close releases the underlying client.
func (p *Publisher) Close() error { return p.client.Close() }
