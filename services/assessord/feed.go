package assessord

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"covernet/crypto"
	"covernet/native/referencepools"
)

// feedPool is one lending pool entry in the status feed payload.
type feedPool struct {
	Address            string `json:"address"`
	Protocol           string `json:"protocol"`
	Status             string `json:"status"`
	LatestPayment      int64  `json:"latestPaymentTimestamp"`
	ProtectionBuyerAPR string `json:"protectionBuyerApr"`
	// Positions maps "<holder>/<tokenId>" to remaining principal in wei.
	Positions map[string]string `json:"positions"`
	// Purchasable reports whether the protocol currently admits new buyers.
	Purchasable bool `json:"purchasable"`
}

type feedPayload struct {
	Pools []feedPool `json:"pools"`
}

// FeedSource polls an HTTP status feed and serves it as a StatusSource. One
// Refresh per assessment pass keeps every read within the pass consistent.
type FeedSource struct {
	url     string
	client  *http.Client
	timeout time.Duration

	mu    sync.RWMutex
	pools map[string]feedPool
}

// NewFeedSource builds a feed-backed status source. Call Refresh before the
// first read.
func NewFeedSource(url string, timeout time.Duration) *FeedSource {
	return &FeedSource{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		pools:   make(map[string]feedPool),
	}
}

// Refresh fetches the feed and replaces the cached view atomically.
func (f *FeedSource) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return fmt.Errorf("build feed request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	payload := feedPayload{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode feed: %w", err)
	}

	pools := make(map[string]feedPool, len(payload.Pools))
	for _, pool := range payload.Pools {
		if _, err := crypto.DecodeAddress(pool.Address); err != nil {
			return fmt.Errorf("feed pool %q: %w", pool.Address, err)
		}
		pools[pool.Address] = pool
	}

	f.mu.Lock()
	f.pools = pools
	f.mu.Unlock()
	return nil
}

// Pools returns the addresses currently present in the feed.
func (f *FeedSource) Pools() []crypto.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	addrs := make([]crypto.Address, 0, len(f.pools))
	for encoded := range f.pools {
		addr, err := crypto.DecodeAddress(encoded)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

// Protocol resolves the protocol enum for a feed pool.
func (f *FeedSource) Protocol(pool crypto.Address) referencepools.LendingProtocol {
	entry, ok := f.lookup(pool)
	if !ok {
		return referencepools.ProtocolGoldfinch
	}
	switch entry.Protocol {
	case "maple":
		return referencepools.ProtocolMaple
	default:
		return referencepools.ProtocolGoldfinch
	}
}

func (f *FeedSource) lookup(pool crypto.Address) (feedPool, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.pools[pool.String()]
	return entry, ok
}

// GetLendingPoolStatus implements referencepools.StatusSource.
func (f *FeedSource) GetLendingPoolStatus(pool crypto.Address) referencepools.LendingPoolStatus {
	entry, ok := f.lookup(pool)
	if !ok {
		return referencepools.StatusNotSupported
	}
	switch entry.Status {
	case "active":
		return referencepools.StatusActive
	case "late":
		return referencepools.StatusLate
	case "defaulted":
		return referencepools.StatusDefaulted
	case "expired":
		return referencepools.StatusExpired
	default:
		return referencepools.StatusNotSupported
	}
}

// GetLatestPaymentTimestamp implements referencepools.StatusSource.
func (f *FeedSource) GetLatestPaymentTimestamp(pool crypto.Address) int64 {
	entry, ok := f.lookup(pool)
	if !ok {
		return 0
	}
	return entry.LatestPayment
}

// CalculateRemainingPrincipal implements referencepools.StatusSource.
func (f *FeedSource) CalculateRemainingPrincipal(pool, holder crypto.Address, positionTokenID uint64) *big.Int {
	entry, ok := f.lookup(pool)
	if !ok {
		return big.NewInt(0)
	}
	key := fmt.Sprintf("%s/%d", holder.String(), positionTokenID)
	raw, ok := entry.Positions[key]
	if !ok {
		return big.NewInt(0)
	}
	principal, ok := new(big.Int).SetString(raw, 10)
	if !ok || principal.Sign() < 0 {
		return big.NewInt(0)
	}
	return principal
}

// CalculateProtectionBuyerAPR implements referencepools.StatusSource.
func (f *FeedSource) CalculateProtectionBuyerAPR(pool crypto.Address) *big.Int {
	entry, ok := f.lookup(pool)
	if !ok {
		return big.NewInt(0)
	}
	apr, ok := new(big.Int).SetString(entry.ProtectionBuyerAPR, 10)
	if !ok || apr.Sign() < 0 {
		return big.NewInt(0)
	}
	return apr
}

// CanBuyProtection implements referencepools.StatusSource.
func (f *FeedSource) CanBuyProtection(buyer crypto.Address, params referencepools.PurchaseParams, hasActivePosition bool) bool {
	entry, ok := f.lookup(params.LendingPool)
	if !ok {
		return false
	}
	if hasActivePosition {
		return true
	}
	return entry.Purchasable
}
