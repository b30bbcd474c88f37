package state

import (
	"fmt"
	"math/big"

	"covernet/core/types"
	"covernet/crypto"
	"covernet/native/defaultstate"
	"covernet/native/protection"
	"covernet/native/referencepools"
)

// RLP cannot represent signed integers or rationals, so stored records carry
// timestamps as uint64 and split big.Rat constants into numerator and
// denominator. Conversion is lossless in both directions.

type storedAddress struct {
	Prefix string
	Raw    []byte
}

func encodeAddress(addr crypto.Address) storedAddress {
	return storedAddress{Prefix: string(addr.Prefix()), Raw: addr.Bytes()}
}

func (s storedAddress) decode() (crypto.Address, error) {
	if len(s.Raw) != 20 {
		return crypto.Address{}, fmt.Errorf("state: stored address has %d bytes", len(s.Raw))
	}
	return crypto.NewAddress(crypto.AddressPrefix(s.Prefix), s.Raw), nil
}

type storedRat struct {
	Num   *big.Int
	Denom *big.Int
}

func encodeRat(r *big.Rat) storedRat {
	if r == nil {
		return storedRat{Num: big.NewInt(0), Denom: big.NewInt(1)}
	}
	return storedRat{Num: new(big.Int).Set(r.Num()), Denom: new(big.Int).Set(r.Denom())}
}

func (s storedRat) decode() *big.Rat {
	if s.Denom == nil || s.Denom.Sign() == 0 {
		return new(big.Rat)
	}
	num := s.Num
	if num == nil {
		num = big.NewInt(0)
	}
	return new(big.Rat).SetFrac(num, s.Denom)
}

type storedAccount struct {
	Nonce             uint64
	BalanceUnderlying *big.Int
	LockedUnderlying  *big.Int
}

func encodeAccount(account *types.Account) *storedAccount {
	account.EnsureDefaults()
	return &storedAccount{
		Nonce:             account.Nonce,
		BalanceUnderlying: account.BalanceUnderlying,
		LockedUnderlying:  account.LockedUnderlying,
	}
}

func (s *storedAccount) decode() *types.Account {
	account := &types.Account{
		Nonce:             s.Nonce,
		BalanceUnderlying: s.BalanceUnderlying,
		LockedUnderlying:  s.LockedUnderlying,
	}
	account.EnsureDefaults()
	return account
}

type storedPool struct {
	Phase                 uint8
	StartTimestamp        uint64
	TotalSTokenUnderlying *big.Int
	TotalPremium          *big.Int
	TotalPremiumAccrued   *big.Int
	TotalProtection       *big.Int
}

func encodePool(pool *protection.PoolRecord) *storedPool {
	pool.EnsureDefaults()
	return &storedPool{
		Phase:                 uint8(pool.Phase),
		StartTimestamp:        uint64(pool.StartTimestamp),
		TotalSTokenUnderlying: pool.TotalSTokenUnderlying,
		TotalPremium:          pool.TotalPremium,
		TotalPremiumAccrued:   pool.TotalPremiumAccrued,
		TotalProtection:       pool.TotalProtection,
	}
}

func (s *storedPool) decode() *protection.PoolRecord {
	pool := &protection.PoolRecord{
		Phase:                 protection.PoolPhase(s.Phase),
		StartTimestamp:        int64(s.StartTimestamp),
		TotalSTokenUnderlying: s.TotalSTokenUnderlying,
		TotalPremium:          s.TotalPremium,
		TotalPremiumAccrued:   s.TotalPremiumAccrued,
		TotalProtection:       s.TotalProtection,
	}
	pool.EnsureDefaults()
	return pool
}

type storedPosition struct {
	ID               uint64
	Buyer            storedAddress
	Premium          *big.Int
	StartTimestamp   uint64
	K                storedRat
	Lambda           storedRat
	LendingPool      storedAddress
	PositionTokenID  uint64
	ProtectionAmount *big.Int
	DurationSeconds  uint64
	Expired          bool
}

func encodePosition(position *protection.ProtectionPosition) *storedPosition {
	return &storedPosition{
		ID:               position.ID,
		Buyer:            encodeAddress(position.Buyer),
		Premium:          position.Premium,
		StartTimestamp:   uint64(position.StartTimestamp),
		K:                encodeRat(position.K),
		Lambda:           encodeRat(position.Lambda),
		LendingPool:      encodeAddress(position.Params.LendingPool),
		PositionTokenID:  position.Params.PositionTokenID,
		ProtectionAmount: position.Params.ProtectionAmount,
		DurationSeconds:  uint64(position.Params.DurationSeconds),
		Expired:          position.Expired,
	}
}

func (s *storedPosition) decode() (*protection.ProtectionPosition, error) {
	buyer, err := s.Buyer.decode()
	if err != nil {
		return nil, err
	}
	lendingPool, err := s.LendingPool.decode()
	if err != nil {
		return nil, err
	}
	return &protection.ProtectionPosition{
		ID:             s.ID,
		Buyer:          buyer,
		Premium:        s.Premium,
		StartTimestamp: int64(s.StartTimestamp),
		K:              s.K.decode(),
		Lambda:         s.Lambda.decode(),
		Params: protection.PurchaseParams{
			LendingPool:      lendingPool,
			PositionTokenID:  s.PositionTokenID,
			ProtectionAmount: s.ProtectionAmount,
			DurationSeconds:  int64(s.DurationSeconds),
		},
		Expired: s.Expired,
	}, nil
}

type storedLendingPool struct {
	Protocol                    uint8
	AddedTimestamp              uint64
	PurchaseLimitTimestamp      uint64
	LastPremiumAccrualTimestamp uint64
	TotalPremium                *big.Int
	TotalProtection             *big.Int
	Locked                      bool
	ActivePositionIDs           []uint64
}

func encodeLendingPool(record *protection.LendingPoolRecord) *storedLendingPool {
	record.EnsureDefaults()
	return &storedLendingPool{
		Protocol:                    uint8(record.Protocol),
		AddedTimestamp:              uint64(record.AddedTimestamp),
		PurchaseLimitTimestamp:      uint64(record.PurchaseLimitTimestamp),
		LastPremiumAccrualTimestamp: uint64(record.LastPremiumAccrualTimestamp),
		TotalPremium:                record.TotalPremium,
		TotalProtection:             record.TotalProtection,
		Locked:                      record.Locked,
		ActivePositionIDs:           record.ActivePositionIDs,
	}
}

func (s *storedLendingPool) decode() *protection.LendingPoolRecord {
	record := &protection.LendingPoolRecord{
		Protocol:                    referencepools.LendingProtocol(s.Protocol),
		AddedTimestamp:              int64(s.AddedTimestamp),
		PurchaseLimitTimestamp:      int64(s.PurchaseLimitTimestamp),
		LastPremiumAccrualTimestamp: int64(s.LastPremiumAccrualTimestamp),
		TotalPremium:                s.TotalPremium,
		TotalProtection:             s.TotalProtection,
		Locked:                      s.Locked,
		ActivePositionIDs:           s.ActivePositionIDs,
	}
	record.EnsureDefaults()
	return record
}

type storedWithdrawalRequest struct {
	Seller storedAddress
	Shares *big.Int
}

func encodeWithdrawalRequest(request *protection.WithdrawalRequest) *storedWithdrawalRequest {
	return &storedWithdrawalRequest{Seller: encodeAddress(request.Seller), Shares: request.Shares}
}

func (s *storedWithdrawalRequest) decode() (*protection.WithdrawalRequest, error) {
	seller, err := s.Seller.decode()
	if err != nil {
		return nil, err
	}
	shares := s.Shares
	if shares == nil {
		shares = big.NewInt(0)
	}
	return &protection.WithdrawalRequest{Seller: seller, Shares: shares}, nil
}

type storedLockedCapital struct {
	SnapshotID uint64
	Amount     *big.Int
	Locked     bool
}

type storedPoolState struct {
	Status               uint8
	LastPaymentTimestamp uint64
	PaymentsObserved     uint32
	LockedCapitals       []storedLockedCapital
}

func encodePoolState(record *defaultstate.PoolStateRecord) *storedPoolState {
	stored := &storedPoolState{
		Status:               uint8(record.Status),
		LastPaymentTimestamp: uint64(record.LastPaymentTimestamp),
		PaymentsObserved:     record.PaymentsObserved,
	}
	for _, lc := range record.LockedCapitals {
		amount := lc.Amount
		if amount == nil {
			amount = big.NewInt(0)
		}
		stored.LockedCapitals = append(stored.LockedCapitals, storedLockedCapital{
			SnapshotID: lc.SnapshotID,
			Amount:     amount,
			Locked:     lc.Locked,
		})
	}
	return stored
}

func (s *storedPoolState) decode() *defaultstate.PoolStateRecord {
	record := &defaultstate.PoolStateRecord{
		Status:               defaultstate.PoolStatus(s.Status),
		LastPaymentTimestamp: int64(s.LastPaymentTimestamp),
		PaymentsObserved:     s.PaymentsObserved,
	}
	for _, lc := range s.LockedCapitals {
		record.LockedCapitals = append(record.LockedCapitals, defaultstate.LockedCapital{
			SnapshotID: lc.SnapshotID,
			Amount:     lc.Amount,
			Locked:     lc.Locked,
		})
	}
	return record
}
