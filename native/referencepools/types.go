package referencepools

import (
	"math/big"

	"covernet/crypto"
)

// LendingPoolStatus is the externally observed health of a lending pool as
// reported by the protocol adapter.
type LendingPoolStatus uint8

const (
	StatusNotSupported LendingPoolStatus = iota
	StatusActive
	StatusLate
	StatusDefaulted
	StatusExpired
)

// Valid reports whether the status value is within the supported range.
func (s LendingPoolStatus) Valid() bool {
	switch s {
	case StatusNotSupported, StatusActive, StatusLate, StatusDefaulted, StatusExpired:
		return true
	default:
		return false
	}
}

func (s LendingPoolStatus) String() string {
	switch s {
	case StatusNotSupported:
		return "not_supported"
	case StatusActive:
		return "active"
	case StatusLate:
		return "late"
	case StatusDefaulted:
		return "defaulted"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// LendingProtocol identifies the external lending protocol a reference pool
// belongs to. New adapters extend this enum.
type LendingProtocol uint8

const (
	ProtocolGoldfinch LendingProtocol = iota
	ProtocolMaple
)

// PurchaseParams carries the admission-relevant parameters of a protection
// purchase to the protocol adapter.
type PurchaseParams struct {
	LendingPool         crypto.Address
	PositionTokenID     uint64
	ProtectionAmount    *big.Int
	ExpirationTimestamp int64
}

// StatusSource reads external lending-protocol state. Implementations wrap a
// concrete protocol adapter; the engine never inspects protocol state
// directly.
type StatusSource interface {
	// GetLendingPoolStatus reports the pool health as observed externally.
	GetLendingPoolStatus(pool crypto.Address) LendingPoolStatus
	// GetLatestPaymentTimestamp returns the unix time of the most recent
	// qualifying payment on the pool.
	GetLatestPaymentTimestamp(pool crypto.Address) int64
	// CalculateRemainingPrincipal reports the principal still owed on the
	// holder's external lending position.
	CalculateRemainingPrincipal(pool crypto.Address, holder crypto.Address, positionTokenID uint64) *big.Int
	// CalculateProtectionBuyerAPR returns the yield the buyer earns on the
	// underlying position, 18-decimal fixed point.
	CalculateProtectionBuyerAPR(pool crypto.Address) *big.Int
	// CanBuyProtection applies protocol-specific admission rules beyond the
	// registry's own checks.
	CanBuyProtection(buyer crypto.Address, params PurchaseParams, hasActivePosition bool) bool
}

// ReferenceLendingPoolInfo is the registry's metadata for one lending pool.
type ReferenceLendingPoolInfo struct {
	Protocol LendingProtocol
	// AddedTimestamp is when the pool was registered.
	AddedTimestamp int64
	// ProtectionPurchaseLimitTimestamp is the cutoff after which only holders
	// of an existing position on the pool may buy or renew protection.
	ProtectionPurchaseLimitTimestamp int64
}

// Clone returns a copy of the pool metadata.
func (i ReferenceLendingPoolInfo) Clone() ReferenceLendingPoolInfo {
	return ReferenceLendingPoolInfo{
		Protocol:                         i.Protocol,
		AddedTimestamp:                   i.AddedTimestamp,
		ProtectionPurchaseLimitTimestamp: i.ProtectionPurchaseLimitTimestamp,
	}
}
