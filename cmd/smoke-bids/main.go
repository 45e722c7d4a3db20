// Command smoke-bids exercises a running openlot-api end to end: it obtains
// session tokens, places an opening bid and an overbid against the demo
// auction, and checks that exactly the overbid is winning. Run the API with
// OPENLOT_DEMO=true first.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

const (
	auctionID = "demo-lot"
	opening   = "1000000000.00"
	overbid   = "1050000000.00"
)

func main() {
	base := os.Getenv("OPENLOT_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 10 * time.Second}

	bidderToken := obtainToken(client, base, "demo-bidder")
	rivalToken := obtainToken(client, base, "demo-rival")

	first := placeBid(client, base, bidderToken, opening)
	if !first.IsWinningBid {
		log.Fatalf("opening bid not winning: %+v", first)
	}

	second := placeBid(client, base, rivalToken, overbid)
	if !second.IsWinningBid {
		log.Fatalf("overbid not winning: %+v", second)
	}

	// The opening bid must have been demoted. Amounts compare as decimals;
	// string forms of the same value can differ.
	want := decimal.RequireFromString(overbid)
	bids := listBids(client, base, bidderToken)
	winners := 0
	for _, b := range bids {
		if b.IsWinningBid {
			winners++
			got, err := decimal.NewFromString(b.Amount)
			if err != nil {
				log.Fatalf("winner amount %q: %v", b.Amount, err)
			}
			if !got.Equal(want) {
				log.Fatalf("unexpected winner amount: %s", b.Amount)
			}
		}
	}
	if winners != 1 {
		log.Fatalf("expected exactly one winning bid, got %d", winners)
	}

	fmt.Printf("smoke test passed: %d bids, winner %s\n", len(bids), overbid)
}

type bidPayload struct {
	ID           string `json:"id"`
	Amount       string `json:"amount"`
	IsWinningBid bool   `json:"is_winning_bid"`
}

func obtainToken(client *http.Client, base, user string) string {
	var out struct {
		Token string `json:"token"`
	}
	post(client, base+"/v1/auth/token", "", map[string]any{"user": user, "roles": []string{}}, http.StatusOK, &out)
	return out.Token
}

func placeBid(client *http.Client, base, token, amount string) bidPayload {
	var out bidPayload
	post(client, base+"/v1/auctions/"+auctionID+"/bids", token, map[string]any{"amount": amount}, http.StatusCreated, &out)
	return out
}

func listBids(client *http.Client, base, token string) []bidPayload {
	req, err := http.NewRequest(http.MethodGet, base+"/v1/auctions/"+auctionID+"/bids", nil)
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("list bids: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("list bids: status %d", resp.StatusCode)
	}
	var out struct {
		Items []bidPayload `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode bids: %v", err)
	}
	return out.Items
}

func post(client *http.Client, url, token string, body any, wantStatus int, out any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("post %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s: %v", url, err)
		}
	}
}
