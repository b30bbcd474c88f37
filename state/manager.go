package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"covernet/core/types"
	"covernet/crypto"
	"covernet/native/defaultstate"
	"covernet/native/protection"
	"covernet/storage"
)

// Manager persists protection-market state in a key-value store. It backs
// both the protection engine and the default-state manager; every record is
// RLP encoded under a Keccak256-hashed namespaced key.
type Manager struct {
	db   storage.Database
	pool crypto.Address
}

// NewManager creates a state manager for the given market over the provided
// database.
func NewManager(db storage.Database, pool crypto.Address) *Manager {
	return &Manager{db: db, pool: pool}
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode record: %w", err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode record: %w", err)
	}
	return m.db.Put(key, encoded)
}

// --- protection engine state ---

func (m *Manager) GetPool() (*protection.PoolRecord, error) {
	stored := new(storedPool)
	ok, err := m.get(poolKey(m.pool), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.decode(), nil
}

func (m *Manager) PutPool(pool *protection.PoolRecord) error {
	return m.put(poolKey(m.pool), encodePool(pool))
}

func (m *Manager) GetPosition(id uint64) (*protection.ProtectionPosition, error) {
	stored := new(storedPosition)
	ok, err := m.get(positionKey(id), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.decode()
}

func (m *Manager) PutPosition(position *protection.ProtectionPosition) error {
	return m.put(positionKey(position.ID), encodePosition(position))
}

// NextPositionID increments and returns the position counter. IDs start at 1
// so zero can mean "no position".
func (m *Manager) NextPositionID() (uint64, error) {
	var counter uint64
	if _, err := m.get(positionCounterKey, &counter); err != nil {
		return 0, err
	}
	counter++
	if err := m.put(positionCounterKey, counter); err != nil {
		return 0, err
	}
	return counter, nil
}

func (m *Manager) GetLendingPoolRecord(pool crypto.Address) (*protection.LendingPoolRecord, error) {
	stored := new(storedLendingPool)
	ok, err := m.get(lendingPoolKey(pool), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.decode(), nil
}

func (m *Manager) PutLendingPoolRecord(pool crypto.Address, record *protection.LendingPoolRecord) error {
	known, err := m.loadAddressList(lendingPoolListKey)
	if err != nil {
		return err
	}
	if !containsAddress(known, pool) {
		known = append(known, encodeAddress(pool))
		if err := m.put(lendingPoolListKey, known); err != nil {
			return err
		}
	}
	return m.put(lendingPoolKey(pool), encodeLendingPool(record))
}

func (m *Manager) ListLendingPools() ([]crypto.Address, error) {
	return m.decodeAddressList(lendingPoolListKey)
}

func (m *Manager) GetBuyerPositionID(pool, buyer crypto.Address, positionTokenID uint64) (uint64, error) {
	var id uint64
	if _, err := m.get(buyerIndexKey(pool, buyer, positionTokenID), &id); err != nil {
		return 0, err
	}
	return id, nil
}

func (m *Manager) PutBuyerPositionID(pool, buyer crypto.Address, positionTokenID, id uint64) error {
	return m.put(buyerIndexKey(pool, buyer, positionTokenID), id)
}

func (m *Manager) GetWithdrawalRequest(cycle uint64, seller crypto.Address) (*protection.WithdrawalRequest, error) {
	stored := new(storedWithdrawalRequest)
	ok, err := m.get(withdrawalRequestKey(cycle, seller), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.decode()
}

func (m *Manager) PutWithdrawalRequest(cycle uint64, request *protection.WithdrawalRequest) error {
	return m.put(withdrawalRequestKey(cycle, request.Seller), encodeWithdrawalRequest(request))
}

func (m *Manager) GetWithdrawalCycleTotal(cycle uint64) (*big.Int, error) {
	total := new(big.Int)
	ok, err := m.get(withdrawalTotalKey(cycle), total)
	if err != nil || !ok {
		return nil, err
	}
	return total, nil
}

func (m *Manager) PutWithdrawalCycleTotal(cycle uint64, total *big.Int) error {
	return m.put(withdrawalTotalKey(cycle), total)
}

func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	stored := new(storedAccount)
	ok, err := m.get(accountKey(addr), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.decode(), nil
}

// PutAccount persists an account after checking that its balances fit in 256
// bits, matching the word size of the settlement asset.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	account.EnsureDefaults()
	if _, overflow := uint256.FromBig(account.BalanceUnderlying); overflow {
		return fmt.Errorf("state: account %s balance overflows 256 bits", addr)
	}
	if _, overflow := uint256.FromBig(account.LockedUnderlying); overflow {
		return fmt.Errorf("state: account %s locked balance overflows 256 bits", addr)
	}
	return m.put(accountKey(addr), encodeAccount(account))
}

// --- default-state manager state ---

func (m *Manager) GetPoolState(pool crypto.Address) (*defaultstate.PoolStateRecord, error) {
	stored := new(storedPoolState)
	ok, err := m.get(poolStateKey(pool), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.decode(), nil
}

func (m *Manager) PutPoolState(pool crypto.Address, record *defaultstate.PoolStateRecord) error {
	known, err := m.loadAddressList(poolStateListKey)
	if err != nil {
		return err
	}
	if !containsAddress(known, pool) {
		known = append(known, encodeAddress(pool))
		if err := m.put(poolStateListKey, known); err != nil {
			return err
		}
	}
	return m.put(poolStateKey(pool), encodePoolState(record))
}

func (m *Manager) ListPoolStates() ([]crypto.Address, error) {
	return m.decodeAddressList(poolStateListKey)
}

func (m *Manager) GetClaimCursor(pool, seller crypto.Address) (uint64, error) {
	var cursor uint64
	if _, err := m.get(claimCursorKey(pool, seller), &cursor); err != nil {
		return 0, err
	}
	return cursor, nil
}

func (m *Manager) PutClaimCursor(pool, seller crypto.Address, cursor uint64) error {
	return m.put(claimCursorKey(pool, seller), cursor)
}

// --- address lists ---

func (m *Manager) loadAddressList(key []byte) ([]storedAddress, error) {
	var list []storedAddress
	if _, err := m.get(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) decodeAddressList(key []byte) ([]crypto.Address, error) {
	stored, err := m.loadAddressList(key)
	if err != nil {
		return nil, err
	}
	addrs := make([]crypto.Address, 0, len(stored))
	for _, entry := range stored {
		addr, err := entry.decode()
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func containsAddress(list []storedAddress, addr crypto.Address) bool {
	target := encodeAddress(addr)
	for _, entry := range list {
		if entry.Prefix == target.Prefix && string(entry.Raw) == string(target.Raw) {
			return true
		}
	}
	return false
}
