package referencepools

import (
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"covernet/crypto"
)

var (
	errNilSource        = errors.New("reference pools: status source not configured")
	errAlreadyAdded     = errors.New("reference pools: lending pool already registered")
	errNotRegistered    = errors.New("reference pools: lending pool not registered")
	errPoolNotActive    = errors.New("reference pools: lending pool not active at registration")
	errInvalidPurchase  = errors.New("reference pools: invalid purchase limit")
	errUnauthorizedCall = errors.New("reference pools: caller is not the registry owner")
)

// Registry tracks the lending pools a protection market may reference and
// proxies external status reads through the configured StatusSource.
type Registry struct {
	mu     sync.RWMutex
	owner  crypto.Address
	source StatusSource
	pools  map[string]ReferenceLendingPoolInfo
	nowFn  func() int64
}

// NewRegistry constructs a registry administered by the owner address.
func NewRegistry(owner crypto.Address, source StatusSource) *Registry {
	return &Registry{
		owner:  owner,
		source: source,
		pools:  make(map[string]ReferenceLendingPoolInfo),
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the clock, primarily for tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if r == nil || now == nil {
		return
	}
	r.nowFn = now
}

func poolKey(pool crypto.Address) string {
	return string(pool.Prefix()) + string(pool.Bytes())
}

// AddLendingPool registers a lending pool for protection purchases. The pool
// must currently be active on the external protocol; purchaseLimitSeconds
// bounds the window during which first-time purchases are admitted.
func (r *Registry) AddLendingPool(caller, pool crypto.Address, protocol LendingProtocol, purchaseLimitSeconds int64) error {
	if r.source == nil {
		return errNilSource
	}
	if string(caller.Bytes()) != string(r.owner.Bytes()) {
		return errUnauthorizedCall
	}
	if purchaseLimitSeconds <= 0 {
		return errInvalidPurchase
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := poolKey(pool)
	if _, ok := r.pools[key]; ok {
		return errAlreadyAdded
	}
	if status := r.source.GetLendingPoolStatus(pool); status != StatusActive {
		return errPoolNotActive
	}
	now := r.nowFn()
	r.pools[key] = ReferenceLendingPoolInfo{
		Protocol:                         protocol,
		AddedTimestamp:                   now,
		ProtectionPurchaseLimitTimestamp: now + purchaseLimitSeconds,
	}
	return nil
}

// IsRegistered reports whether the lending pool has been added.
func (r *Registry) IsRegistered(pool crypto.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pools[poolKey(pool)]
	return ok
}

// Info returns the registry metadata for the lending pool.
func (r *Registry) Info(pool crypto.Address) (ReferenceLendingPoolInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.pools[poolKey(pool)]
	if !ok {
		return ReferenceLendingPoolInfo{}, errNotRegistered
	}
	return info.Clone(), nil
}

// Pools returns the registered lending pool addresses in a stable order.
func (r *Registry) Pools() []crypto.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.pools))
	for key := range r.pools {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pools := make([]crypto.Address, 0, len(keys))
	for _, key := range keys {
		prefix := crypto.AddressPrefix(key[:len(key)-20])
		pools = append(pools, crypto.NewAddress(prefix, []byte(key[len(key)-20:])))
	}
	return pools
}

// Status reports the external status of a registered pool; unregistered pools
// report StatusNotSupported.
func (r *Registry) Status(pool crypto.Address) LendingPoolStatus {
	if r.source == nil {
		return StatusNotSupported
	}
	if !r.IsRegistered(pool) {
		return StatusNotSupported
	}
	return r.source.GetLendingPoolStatus(pool)
}

// LatestPaymentTimestamp proxies the adapter's most recent payment read.
func (r *Registry) LatestPaymentTimestamp(pool crypto.Address) int64 {
	if r.source == nil {
		return 0
	}
	return r.source.GetLatestPaymentTimestamp(pool)
}

// RemainingPrincipal proxies the adapter's remaining-principal read.
func (r *Registry) RemainingPrincipal(pool, holder crypto.Address, positionTokenID uint64) *big.Int {
	if r.source == nil {
		return big.NewInt(0)
	}
	principal := r.source.CalculateRemainingPrincipal(pool, holder, positionTokenID)
	if principal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(principal)
}

// BuyerAPR proxies the adapter's buyer APR read.
func (r *Registry) BuyerAPR(pool crypto.Address) *big.Int {
	if r.source == nil {
		return big.NewInt(0)
	}
	apr := r.source.CalculateProtectionBuyerAPR(pool)
	if apr == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(apr)
}

// CanBuyProtection applies the registry's purchase-window rule and then the
// protocol adapter's own admission rules. Holders of an active position on the
// same external position may buy past the window (covers renewals).
func (r *Registry) CanBuyProtection(buyer crypto.Address, params PurchaseParams, hasActivePosition bool) (bool, error) {
	info, err := r.Info(params.LendingPool)
	if err != nil {
		return false, err
	}
	if r.source == nil {
		return false, errNilSource
	}
	if !hasActivePosition && r.nowFn() > info.ProtectionPurchaseLimitTimestamp {
		return false, nil
	}
	return r.source.CanBuyProtection(buyer, params, hasActivePosition), nil
}
