package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"openlot.org/internal/bidding"
	"openlot.org/internal/config"
	"openlot.org/internal/httpapi"
	"openlot.org/internal/obs"
	"openlot.org/internal/store/pg"
	"openlot.org/internal/stream"
	"openlot.org/internal/stream/redispub"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Engine: Postgres when a DSN is configured, in-memory otherwise.
	// The in-memory engine serializes per auction in-process, so it is
	// only correct as the sole writer (single instance).
	var (
		svc   bidding.Service
		probe httpapi.ReadyProbe
		store *pg.Store
	)
	if cfg.PostgresDSN != "" {
		store, err = pg.Open(cfg.PostgresDSN, pg.WithMaxAttempts(cfg.CommitAttempts))
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		svc = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		mem := bidding.NewInMemory()
		if cfg.Demo {
			seedDemo(mem)
		}
		svc = mem
		log.Println("OPENLOT_PG_DSN not set, running with the in-memory engine")
	}

	// Broadcast: in-process hub always; Redis sink when configured so
	// other instances can push to their own subscribers.
	hub := stream.NewHub()
	var sinks []stream.Sink
	var pub *redispub.Publisher
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pub, err = redispub.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			log.Fatalf("redis publisher: %v", err)
		}
		sinks = append(sinks, pub)
	}
	notifier := stream.NewNotifier(hub, sinks...)

	api := httpapi.New(probe, version, svc, notifier)
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // SSE streams stay open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting openlot-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if store != nil {
		_ = store.Close()
	}
	if pub != nil {
		_ = pub.Close()
	}
	log.Println("Stopped")
}

// seedDemo installs a live auction with two confirmed, checked-in bidders so
// the API can be exercised end to end without a database.
func seedDemo(mem *bidding.InMemory) {
	now := time.Now().UTC()
	mem.SeedAuction(bidding.Auction{
		ID:            "demo-lot",
		Status:        bidding.StatusLive,
		StartAt:       now.Add(-time.Hour),
		EndAt:         now.Add(24 * time.Hour),
		StartingPrice: decimal.RequireFromString("1000000000.00"),
		BidIncrement:  decimal.RequireFromString("50000000.00"),
		OwnerUserID:   "demo-owner",
	})
	for i, user := range []string{"demo-bidder", "demo-rival"} {
		checkedIn := now.Add(-time.Duration(i+1) * time.Minute)
		mem.SeedParticipant(bidding.Participant{
			ID:          "demo-participant-" + user,
			AuctionID:   "demo-lot",
			UserID:      user,
			ConfirmedAt: &checkedIn,
			CheckedInAt: &checkedIn,
		})
	}
	log.Println("demo auction seeded: demo-lot")
}
