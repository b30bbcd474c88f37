package defaultstate

import (
	"math/big"

	"covernet/crypto"
)

// PoolStatus tracks a referenced lending pool through the payment-health
// state machine. The zero value means the pool has never been assessed.
type PoolStatus uint8

const (
	StatusNone PoolStatus = iota
	StatusActive
	StatusLateWithinGracePeriod
	StatusLate
	StatusUnderReview
	StatusDefaulted
	StatusExpired
)

// Valid reports whether the status value is within the supported range.
func (s PoolStatus) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusLateWithinGracePeriod, StatusLate,
		StatusUnderReview, StatusDefaulted, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether the pool can leave this status.
func (s PoolStatus) Terminal() bool {
	return s == StatusDefaulted || s == StatusExpired
}

func (s PoolStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusActive:
		return "active"
	case StatusLateWithinGracePeriod:
		return "late_within_grace_period"
	case StatusLate:
		return "late"
	case StatusUnderReview:
		return "under_review"
	case StatusDefaulted:
		return "defaulted"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// LockedCapital records one capital lock taken against a delinquent lending
// pool. The snapshot pins share ownership at lock time so later claims pay
// out pro rata to the sellers who actually bore the risk.
type LockedCapital struct {
	SnapshotID uint64
	Amount     *big.Int
	// Locked is cleared when the pool recovers and the capital is released
	// for seller claims. Only the most recent instance can still be locked.
	Locked bool
}

// Clone returns a deep copy of the locked capital instance.
func (l LockedCapital) Clone() LockedCapital {
	clone := LockedCapital{SnapshotID: l.SnapshotID, Locked: l.Locked}
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	}
	return clone
}

// PoolStateRecord is the manager's persistent view of one lending pool.
type PoolStateRecord struct {
	Status PoolStatus
	// LastPaymentTimestamp is the most recent qualifying payment the manager
	// has observed. A fresher timestamp from the protocol adapter counts as a
	// new payment.
	LastPaymentTimestamp int64
	// PaymentsObserved counts consecutive qualifying payments made while the
	// pool is Late or UnderReview. It resets when a payment is missed again.
	PaymentsObserved uint32
	LockedCapitals   []LockedCapital
}

// Clone returns a deep copy of the record.
func (r *PoolStateRecord) Clone() *PoolStateRecord {
	if r == nil {
		return nil
	}
	clone := &PoolStateRecord{
		Status:               r.Status,
		LastPaymentTimestamp: r.LastPaymentTimestamp,
		PaymentsObserved:     r.PaymentsObserved,
	}
	if r.LockedCapitals != nil {
		clone.LockedCapitals = make([]LockedCapital, len(r.LockedCapitals))
		for i, lc := range r.LockedCapitals {
			clone.LockedCapitals[i] = lc.Clone()
		}
	}
	return clone
}

// latestLock returns the most recent locked capital instance, or nil.
func (r *PoolStateRecord) latestLock() *LockedCapital {
	if r == nil || len(r.LockedCapitals) == 0 {
		return nil
	}
	return &r.LockedCapitals[len(r.LockedCapitals)-1]
}

// Transition reports one status change produced by an assessment pass.
type Transition struct {
	LendingPool crypto.Address
	From        PoolStatus
	To          PoolStatus
	// LockedAmount is the capital locked by this transition, set only when
	// entering Late created a new lock instance.
	LockedAmount *big.Int
}
