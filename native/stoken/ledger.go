package stoken

import (
	"errors"
	"math/big"
	"sync"

	"covernet/crypto"
)

var (
	errInvalidAmount       = errors.New("stoken ledger: amount must be positive")
	errInsufficientBalance = errors.New("stoken ledger: insufficient balance")
	errUnknownSnapshot     = errors.New("stoken ledger: unknown snapshot id")
)

// snapshotValue records the value a balance or the total supply held at the
// moment a snapshot was taken. Entries are appended in snapshot-id order.
type snapshotValue struct {
	id    uint64
	value *big.Int
}

// Ledger is an in-memory fungible share ledger with point-in-time snapshots.
// Snapshot writes are lazy: a historical value is only recorded the first time
// a balance changes after a snapshot, so untouched accounts cost nothing.
//
// The protection pool engine consumes this through narrow interfaces; a future
// deployment can substitute any ledger honouring the same semantics.
type Ledger struct {
	mu sync.RWMutex

	balances    map[string]*big.Int
	totalSupply *big.Int

	currentSnapshot  uint64
	balanceSnapshots map[string][]snapshotValue
	supplySnapshots  []snapshotValue
}

// NewLedger constructs an empty share ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:         make(map[string]*big.Int),
		totalSupply:      big.NewInt(0),
		balanceSnapshots: make(map[string][]snapshotValue),
	}
}

func ledgerKey(addr crypto.Address) string {
	return string(addr.Prefix()) + string(addr.Bytes())
}

// Mint credits newly issued shares to the holder.
func (l *Ledger) Mint(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(to)
	l.recordBalance(key)
	l.recordSupply()

	balance := l.balanceLocked(key)
	l.balances[key] = new(big.Int).Add(balance, amount)
	l.totalSupply = new(big.Int).Add(l.totalSupply, amount)
	return nil
}

// Burn destroys shares held by the holder.
func (l *Ledger) Burn(from crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(from)
	balance := l.balanceLocked(key)
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	l.recordBalance(key)
	l.recordSupply()

	l.balances[key] = new(big.Int).Sub(balance, amount)
	l.totalSupply = new(big.Int).Sub(l.totalSupply, amount)
	return nil
}

// Transfer moves shares between holders.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fromKey := ledgerKey(from)
	toKey := ledgerKey(to)
	balance := l.balanceLocked(fromKey)
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	l.recordBalance(fromKey)
	l.recordBalance(toKey)

	l.balances[fromKey] = new(big.Int).Sub(balance, amount)
	l.balances[toKey] = new(big.Int).Add(l.balanceLocked(toKey), amount)
	return nil
}

// BalanceOf returns the current share balance of the holder.
func (l *Ledger) BalanceOf(addr crypto.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balanceLocked(ledgerKey(addr)))
}

// TotalSupply returns the current total share supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalSupply)
}

// Snapshot freezes the current balances and supply under a new snapshot id.
func (l *Ledger) Snapshot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentSnapshot++
	return l.currentSnapshot
}

// BalanceOfAt returns the holder's balance as of the given snapshot.
func (l *Ledger) BalanceOfAt(addr crypto.Address, snapshotID uint64) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if snapshotID == 0 || snapshotID > l.currentSnapshot {
		return nil, errUnknownSnapshot
	}
	if value, ok := lookupSnapshot(l.balanceSnapshots[ledgerKey(addr)], snapshotID); ok {
		return value, nil
	}
	return new(big.Int).Set(l.balanceLocked(ledgerKey(addr))), nil
}

// TotalSupplyAt returns the total supply as of the given snapshot.
func (l *Ledger) TotalSupplyAt(snapshotID uint64) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if snapshotID == 0 || snapshotID > l.currentSnapshot {
		return nil, errUnknownSnapshot
	}
	if value, ok := lookupSnapshot(l.supplySnapshots, snapshotID); ok {
		return value, nil
	}
	return new(big.Int).Set(l.totalSupply), nil
}

func (l *Ledger) balanceLocked(key string) *big.Int {
	if balance, ok := l.balances[key]; ok {
		return balance
	}
	return big.NewInt(0)
}

// recordBalance snapshots the holder's balance before its first mutation after
// the most recent snapshot.
func (l *Ledger) recordBalance(key string) {
	if l.currentSnapshot == 0 {
		return
	}
	history := l.balanceSnapshots[key]
	if len(history) > 0 && history[len(history)-1].id == l.currentSnapshot {
		return
	}
	l.balanceSnapshots[key] = append(history, snapshotValue{
		id:    l.currentSnapshot,
		value: new(big.Int).Set(l.balanceLocked(key)),
	})
}

func (l *Ledger) recordSupply() {
	if l.currentSnapshot == 0 {
		return
	}
	if len(l.supplySnapshots) > 0 && l.supplySnapshots[len(l.supplySnapshots)-1].id == l.currentSnapshot {
		return
	}
	l.supplySnapshots = append(l.supplySnapshots, snapshotValue{
		id:    l.currentSnapshot,
		value: new(big.Int).Set(l.totalSupply),
	})
}

// lookupSnapshot finds the first recorded value with id >= snapshotID. That
// entry holds the value as it stood when snapshotID was taken, because values
// are recorded immediately before the first mutation that follows a snapshot.
func lookupSnapshot(history []snapshotValue, snapshotID uint64) (*big.Int, bool) {
	for _, entry := range history {
		if entry.id >= snapshotID {
			return new(big.Int).Set(entry.value), true
		}
	}
	return nil, false
}
