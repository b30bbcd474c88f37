package assessord

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"covernet/crypto"
	"covernet/native/referencepools"
)

func feedAddr(seed byte) crypto.Address {
	raw := make([]byte, 20)
	raw[0] = seed
	raw[19] = seed
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func feedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFeedRefreshParsesPools(t *testing.T) {
	pool := feedAddr(0x11)
	holder := feedAddr(0x22)
	body := fmt.Sprintf(`{"pools":[{
		"address": %q,
		"protocol": "maple",
		"status": "active",
		"latestPaymentTimestamp": 1700000500,
		"protectionBuyerApr": "150000000000000000",
		"positions": {"%s/7": "25000000000000000000000"},
		"purchasable": true
	}]}`, pool.String(), holder.String())
	server := feedServer(t, body)

	feed := NewFeedSource(server.URL, time.Second)
	if err := feed.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	pools := feed.Pools()
	if len(pools) != 1 || pools[0].String() != pool.String() {
		t.Fatalf("unexpected pools: %v", pools)
	}
	if got := feed.Protocol(pool); got != referencepools.ProtocolMaple {
		t.Fatalf("protocol = %v, want maple", got)
	}
	if got := feed.GetLendingPoolStatus(pool); got != referencepools.StatusActive {
		t.Fatalf("status = %v, want active", got)
	}
	if got := feed.GetLatestPaymentTimestamp(pool); got != 1700000500 {
		t.Fatalf("latest payment = %d", got)
	}
	wantPrincipal, _ := new(big.Int).SetString("25000000000000000000000", 10)
	if got := feed.CalculateRemainingPrincipal(pool, holder, 7); got.Cmp(wantPrincipal) != 0 {
		t.Fatalf("principal = %s, want %s", got, wantPrincipal)
	}
	if got := feed.CalculateRemainingPrincipal(pool, holder, 8); got.Sign() != 0 {
		t.Fatalf("unknown position principal = %s, want 0", got)
	}
	wantAPR, _ := new(big.Int).SetString("150000000000000000", 10)
	if got := feed.CalculateProtectionBuyerAPR(pool); got.Cmp(wantAPR) != 0 {
		t.Fatalf("apr = %s, want %s", got, wantAPR)
	}
}

func TestFeedStatusMapping(t *testing.T) {
	cases := []struct {
		raw  string
		want referencepools.LendingPoolStatus
	}{
		{"active", referencepools.StatusActive},
		{"late", referencepools.StatusLate},
		{"defaulted", referencepools.StatusDefaulted},
		{"expired", referencepools.StatusExpired},
		{"bogus", referencepools.StatusNotSupported},
	}
	for _, tc := range cases {
		pool := feedAddr(0x33)
		body := fmt.Sprintf(`{"pools":[{"address": %q, "status": %q}]}`, pool.String(), tc.raw)
		server := feedServer(t, body)
		feed := NewFeedSource(server.URL, time.Second)
		if err := feed.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh %q: %v", tc.raw, err)
		}
		if got := feed.GetLendingPoolStatus(pool); got != tc.want {
			t.Fatalf("status %q = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestFeedCanBuyProtection(t *testing.T) {
	pool := feedAddr(0x44)
	buyer := feedAddr(0x55)
	body := fmt.Sprintf(`{"pools":[{"address": %q, "status": "active", "purchasable": false}]}`, pool.String())
	server := feedServer(t, body)
	feed := NewFeedSource(server.URL, time.Second)
	if err := feed.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	params := referencepools.PurchaseParams{LendingPool: pool}
	if feed.CanBuyProtection(buyer, params, false) {
		t.Fatalf("new buyer admitted while feed marks pool unpurchasable")
	}
	// Renewals stay possible even when the protocol closed new purchases.
	if !feed.CanBuyProtection(buyer, params, true) {
		t.Fatalf("renewal rejected for existing position holder")
	}
	unknown := referencepools.PurchaseParams{LendingPool: feedAddr(0x66)}
	if feed.CanBuyProtection(buyer, unknown, true) {
		t.Fatalf("admitted buyer for pool missing from the feed")
	}
}

func TestFeedRefreshRejectsBadAddress(t *testing.T) {
	server := feedServer(t, `{"pools":[{"address": "not-bech32", "status": "active"}]}`)
	feed := NewFeedSource(server.URL, time.Second)
	if err := feed.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error for malformed pool address")
	}
}

func TestFeedRefreshRejectsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream outage", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)
	feed := NewFeedSource(server.URL, time.Second)
	if err := feed.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error for non-200 feed response")
	}
}
