package protection

import (
	"math/big"

	"covernet/crypto"
	"covernet/native/referencepools"
)

// PoolPhase is the lifecycle stage of a protection pool. Phases only ever
// advance; they never regress.
type PoolPhase uint8

const (
	PhaseOpenToSellers PoolPhase = iota
	PhaseOpenToBuyers
	PhaseOpen
)

// Valid reports whether the phase value is within the supported range.
func (p PoolPhase) Valid() bool {
	switch p {
	case PhaseOpenToSellers, PhaseOpenToBuyers, PhaseOpen:
		return true
	default:
		return false
	}
}

func (p PoolPhase) String() string {
	switch p {
	case PhaseOpenToSellers:
		return "open_to_sellers"
	case PhaseOpenToBuyers:
		return "open_to_buyers"
	case PhaseOpen:
		return "open"
	default:
		return "unknown"
	}
}

// PurchaseParams carries the caller-supplied parameters of a protection
// purchase or renewal.
type PurchaseParams struct {
	// LendingPool is the external lending pool the buyer wants cover on.
	LendingPool crypto.Address
	// PositionTokenID identifies the buyer's position inside the lending pool.
	PositionTokenID uint64
	// ProtectionAmount is the covered notional, 18-decimal fixed point.
	ProtectionAmount *big.Int
	// DurationSeconds is the requested protection term.
	DurationSeconds int64
}

// Clone returns a deep copy of the purchase parameters.
func (p PurchaseParams) Clone() PurchaseParams {
	clone := PurchaseParams{
		LendingPool:     p.LendingPool,
		PositionTokenID: p.PositionTokenID,
		DurationSeconds: p.DurationSeconds,
	}
	if p.ProtectionAmount != nil {
		clone.ProtectionAmount = new(big.Int).Set(p.ProtectionAmount)
	}
	return clone
}

// ProtectionPosition is a buyer's time-bounded cover on one external lending
// position. Aside from the Expired flag the position is immutable once
// created; position id 0 is a reserved sentinel and never assigned.
type ProtectionPosition struct {
	ID             uint64
	Buyer          crypto.Address
	Premium        *big.Int
	StartTimestamp int64
	// K and Lambda are the exponential accrual constants captured at purchase
	// time, stored as exact rationals.
	K      *big.Rat
	Lambda *big.Rat
	Params PurchaseParams
	// Expired flips once the duration elapses or the lending pool defaults.
	Expired bool
}

// ExpirationTimestamp returns the unix time the protection term ends.
func (p *ProtectionPosition) ExpirationTimestamp() int64 {
	if p == nil {
		return 0
	}
	return p.StartTimestamp + p.Params.DurationSeconds
}

// Clone returns a deep copy of the position.
func (p *ProtectionPosition) Clone() *ProtectionPosition {
	if p == nil {
		return nil
	}
	clone := &ProtectionPosition{
		ID:             p.ID,
		Buyer:          p.Buyer,
		StartTimestamp: p.StartTimestamp,
		Params:         p.Params.Clone(),
		Expired:        p.Expired,
	}
	if p.Premium != nil {
		clone.Premium = new(big.Int).Set(p.Premium)
	}
	if p.K != nil {
		clone.K = new(big.Rat).Set(p.K)
	}
	if p.Lambda != nil {
		clone.Lambda = new(big.Rat).Set(p.Lambda)
	}
	return clone
}

// LendingPoolRecord is the pool's per-lending-pool ledger entry. Records are
// created when a lending pool is first referenced and never deleted.
type LendingPoolRecord struct {
	Protocol referencepools.LendingProtocol
	// AddedTimestamp is when the pool first referenced this lending pool.
	AddedTimestamp int64
	// PurchaseLimitTimestamp is the first-time-purchase cutoff copied from the
	// reference registry at record creation.
	PurchaseLimitTimestamp int64
	// LastPremiumAccrualTimestamp is the upper bound of the last accrual pass.
	LastPremiumAccrualTimestamp int64
	// TotalPremium is the cumulative premium collected on this lending pool.
	TotalPremium *big.Int
	// TotalProtection is the outstanding protection sold on this lending pool.
	TotalProtection *big.Int
	// Locked marks that capital is currently locked against this lending pool.
	Locked bool
	// ActivePositionIDs indexes the non-expired positions referencing this
	// lending pool.
	ActivePositionIDs []uint64
}

// Clone returns a deep copy of the record.
func (r *LendingPoolRecord) Clone() *LendingPoolRecord {
	if r == nil {
		return nil
	}
	clone := &LendingPoolRecord{
		Protocol:                    r.Protocol,
		AddedTimestamp:              r.AddedTimestamp,
		PurchaseLimitTimestamp:      r.PurchaseLimitTimestamp,
		LastPremiumAccrualTimestamp: r.LastPremiumAccrualTimestamp,
		Locked:                      r.Locked,
	}
	if r.TotalPremium != nil {
		clone.TotalPremium = new(big.Int).Set(r.TotalPremium)
	}
	if r.TotalProtection != nil {
		clone.TotalProtection = new(big.Int).Set(r.TotalProtection)
	}
	if r.ActivePositionIDs != nil {
		clone.ActivePositionIDs = append([]uint64(nil), r.ActivePositionIDs...)
	}
	return clone
}

// EnsureDefaults populates nil big.Int fields so persistence round-trips are
// safe.
func (r *LendingPoolRecord) EnsureDefaults() {
	if r == nil {
		return
	}
	if r.TotalPremium == nil {
		r.TotalPremium = big.NewInt(0)
	}
	if r.TotalProtection == nil {
		r.TotalProtection = big.NewInt(0)
	}
}

// removePositionID deletes the id from the active set, preserving order.
func (r *LendingPoolRecord) removePositionID(id uint64) {
	for i, active := range r.ActivePositionIDs {
		if active == id {
			r.ActivePositionIDs = append(r.ActivePositionIDs[:i], r.ActivePositionIDs[i+1:]...)
			return
		}
	}
}

// PoolRecord is the pool-level aggregate ledger.
type PoolRecord struct {
	Phase PoolPhase
	// StartTimestamp anchors the withdrawal cycle arithmetic.
	StartTimestamp int64
	// TotalSTokenUnderlying is the capital backing seller shares. It backs the
	// deposit/share exchange rate and must never go negative.
	TotalSTokenUnderlying *big.Int
	// TotalPremium is the cumulative premium collected from buyers.
	TotalPremium *big.Int
	// TotalPremiumAccrued is the portion of TotalPremium already credited to
	// sellers by accrual passes.
	TotalPremiumAccrued *big.Int
	// TotalProtection is the outstanding protection across unlocked lending
	// pools.
	TotalProtection *big.Int
}

// Clone returns a deep copy of the pool record.
func (p *PoolRecord) Clone() *PoolRecord {
	if p == nil {
		return nil
	}
	clone := &PoolRecord{Phase: p.Phase, StartTimestamp: p.StartTimestamp}
	if p.TotalSTokenUnderlying != nil {
		clone.TotalSTokenUnderlying = new(big.Int).Set(p.TotalSTokenUnderlying)
	}
	if p.TotalPremium != nil {
		clone.TotalPremium = new(big.Int).Set(p.TotalPremium)
	}
	if p.TotalPremiumAccrued != nil {
		clone.TotalPremiumAccrued = new(big.Int).Set(p.TotalPremiumAccrued)
	}
	if p.TotalProtection != nil {
		clone.TotalProtection = new(big.Int).Set(p.TotalProtection)
	}
	return clone
}

// EnsureDefaults populates nil big.Int fields.
func (p *PoolRecord) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.TotalSTokenUnderlying == nil {
		p.TotalSTokenUnderlying = big.NewInt(0)
	}
	if p.TotalPremium == nil {
		p.TotalPremium = big.NewInt(0)
	}
	if p.TotalPremiumAccrued == nil {
		p.TotalPremiumAccrued = big.NewInt(0)
	}
	if p.TotalProtection == nil {
		p.TotalProtection = big.NewInt(0)
	}
}

// WithdrawalRequest is a seller's pending two-phase withdrawal for one
// redemption cycle. A later request for the same cycle overwrites the earlier
// one.
type WithdrawalRequest struct {
	Seller crypto.Address
	Shares *big.Int
}

// Clone returns a deep copy of the request.
func (w *WithdrawalRequest) Clone() *WithdrawalRequest {
	if w == nil {
		return nil
	}
	clone := &WithdrawalRequest{Seller: w.Seller}
	if w.Shares != nil {
		clone.Shares = new(big.Int).Set(w.Shares)
	}
	return clone
}
