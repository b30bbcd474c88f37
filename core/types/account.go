package types

import "math/big"

// Account tracks the settlement-asset balances held by a participant or a
// module vault. BalanceUnderlying is the fungible settlement asset used for
// deposits and premium payments; LockedUnderlying records capital removed from
// general availability while a referenced lending pool is delinquent.
type Account struct {
	Nonce             uint64   `json:"nonce"`
	BalanceUnderlying *big.Int `json:"balanceUnderlying"`
	LockedUnderlying  *big.Int `json:"lockedUnderlying"`
}

// EnsureDefaults populates nil balance fields so persistence round-trips are
// safe regardless of how the account was constructed.
func (a *Account) EnsureDefaults() {
	if a == nil {
		return
	}
	if a.BalanceUnderlying == nil {
		a.BalanceUnderlying = big.NewInt(0)
	}
	if a.LockedUnderlying == nil {
		a.LockedUnderlying = big.NewInt(0)
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.BalanceUnderlying != nil {
		clone.BalanceUnderlying = new(big.Int).Set(a.BalanceUnderlying)
	}
	if a.LockedUnderlying != nil {
		clone.LockedUnderlying = new(big.Int).Set(a.LockedUnderlying)
	}
	clone.EnsureDefaults()
	return clone
}
