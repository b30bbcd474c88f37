package state

import (
	"math/big"
	"strings"
	"testing"

	"covernet/core/types"
	"covernet/crypto"
	"covernet/native/defaultstate"
	"covernet/native/protection"
	"covernet/storage"
)

func newTestManager() *Manager {
	return NewManager(storage.NewMemDB(), stateAddr(0x01))
}

func stateAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, buf)
}

func TestMissingRecordsReturnNil(t *testing.T) {
	m := newTestManager()
	if pool, err := m.GetPool(); err != nil || pool != nil {
		t.Fatalf("GetPool = %v, %v; want nil, nil", pool, err)
	}
	if position, err := m.GetPosition(7); err != nil || position != nil {
		t.Fatalf("GetPosition = %v, %v; want nil, nil", position, err)
	}
	if record, err := m.GetLendingPoolRecord(stateAddr(0x33)); err != nil || record != nil {
		t.Fatalf("GetLendingPoolRecord = %v, %v; want nil, nil", record, err)
	}
	if id, err := m.GetBuyerPositionID(stateAddr(0x33), stateAddr(0x22), 1); err != nil || id != 0 {
		t.Fatalf("GetBuyerPositionID = %d, %v; want 0, nil", id, err)
	}
	if cursor, err := m.GetClaimCursor(stateAddr(0x33), stateAddr(0x11)); err != nil || cursor != 0 {
		t.Fatalf("GetClaimCursor = %d, %v; want 0, nil", cursor, err)
	}
}

func TestPositionIDsStartAtOne(t *testing.T) {
	m := newTestManager()
	first, err := m.NextPositionID()
	if err != nil {
		t.Fatalf("next position id: %v", err)
	}
	if first != 1 {
		t.Fatalf("first id = %d, want 1", first)
	}
	second, _ := m.NextPositionID()
	if second != 2 {
		t.Fatalf("second id = %d, want 2", second)
	}
}

func TestPositionRoundTripPreservesExactConstants(t *testing.T) {
	m := newTestManager()
	k := new(big.Rat).SetFrac(big.NewInt(354_100_788_123_456_789), big.NewInt(999_999_937))
	lambda := new(big.Rat).SetFrac(big.NewInt(16_742_770), big.NewInt(100_000_000_000))
	position := &protection.ProtectionPosition{
		ID:             3,
		Buyer:          stateAddr(0x22),
		Premium:        big.NewInt(59_281_318),
		StartTimestamp: 1_700_000_000,
		K:              k,
		Lambda:         lambda,
		Params: protection.PurchaseParams{
			LendingPool:      stateAddr(0x33),
			PositionTokenID:  9,
			ProtectionAmount: big.NewInt(50_000),
			DurationSeconds:  86_400,
		},
		Expired: false,
	}
	if err := m.PutPosition(position); err != nil {
		t.Fatalf("put position: %v", err)
	}
	loaded, err := m.GetPosition(3)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	// The accrual constants must survive persistence exactly; any rounding
	// here would break reconciliation against the upfront premium.
	if loaded.K.Cmp(k) != 0 || loaded.Lambda.Cmp(lambda) != 0 {
		t.Fatalf("constants changed: K %s -> %s, lambda %s -> %s", k, loaded.K, lambda, loaded.Lambda)
	}
	if loaded.Buyer.String() != position.Buyer.String() {
		t.Fatalf("buyer = %s, want %s", loaded.Buyer, position.Buyer)
	}
	if loaded.Params.LendingPool.String() != position.Params.LendingPool.String() {
		t.Fatalf("lending pool mismatch")
	}
	if loaded.ExpirationTimestamp() != position.ExpirationTimestamp() {
		t.Fatalf("expiration = %d, want %d", loaded.ExpirationTimestamp(), position.ExpirationTimestamp())
	}
}

func TestLendingPoolListTracksRecords(t *testing.T) {
	m := newTestManager()
	poolA := stateAddr(0x33)
	poolB := stateAddr(0x34)
	record := &protection.LendingPoolRecord{AddedTimestamp: 1}

	if err := m.PutLendingPoolRecord(poolA, record); err != nil {
		t.Fatalf("put record: %v", err)
	}
	if err := m.PutLendingPoolRecord(poolB, record); err != nil {
		t.Fatalf("put record: %v", err)
	}
	// Re-writing an existing record must not duplicate the index entry.
	if err := m.PutLendingPoolRecord(poolA, record); err != nil {
		t.Fatalf("put record: %v", err)
	}

	pools, err := m.ListLendingPools()
	if err != nil {
		t.Fatalf("list pools: %v", err)
	}
	if len(pools) != 2 {
		t.Fatalf("pools = %d, want 2", len(pools))
	}
	if pools[0].String() != poolA.String() || pools[1].String() != poolB.String() {
		t.Fatalf("pool order = %s, %s", pools[0], pools[1])
	}
}

func TestWithdrawalRequestRoundTrip(t *testing.T) {
	m := newTestManager()
	seller := stateAddr(0x11)
	request := &protection.WithdrawalRequest{Seller: seller, Shares: big.NewInt(42)}
	if err := m.PutWithdrawalRequest(5, request); err != nil {
		t.Fatalf("put request: %v", err)
	}
	loaded, err := m.GetWithdrawalRequest(5, seller)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if loaded == nil || loaded.Shares.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("loaded = %+v", loaded)
	}
	// Another cycle is a different key.
	if other, _ := m.GetWithdrawalRequest(6, seller); other != nil {
		t.Fatalf("cycle 6 should be empty, got %+v", other)
	}

	if err := m.PutWithdrawalCycleTotal(5, big.NewInt(42)); err != nil {
		t.Fatalf("put total: %v", err)
	}
	total, err := m.GetWithdrawalCycleTotal(5)
	if err != nil || total.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("total = %v, %v", total, err)
	}
}

func TestAccountBalanceOverflowRejected(t *testing.T) {
	m := newTestManager()
	addr := stateAddr(0x11)
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	account := &types.Account{BalanceUnderlying: huge}
	err := m.PutAccount(addr, account)
	if err == nil || !strings.Contains(err.Error(), "overflows") {
		t.Fatalf("expected overflow error, got %v", err)
	}

	account = &types.Account{BalanceUnderlying: big.NewInt(5), LockedUnderlying: big.NewInt(7)}
	if err := m.PutAccount(addr, account); err != nil {
		t.Fatalf("put account: %v", err)
	}
	loaded, err := m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if loaded.BalanceUnderlying.Cmp(big.NewInt(5)) != 0 || loaded.LockedUnderlying.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestPoolStateRoundTrip(t *testing.T) {
	m := newTestManager()
	pool := stateAddr(0x33)
	record := &defaultstate.PoolStateRecord{
		Status:               defaultstate.StatusLate,
		LastPaymentTimestamp: 1_700_000_000,
		PaymentsObserved:     1,
		LockedCapitals: []defaultstate.LockedCapital{
			{SnapshotID: 2, Amount: big.NewInt(30_000), Locked: true},
		},
	}
	if err := m.PutPoolState(pool, record); err != nil {
		t.Fatalf("put pool state: %v", err)
	}
	loaded, err := m.GetPoolState(pool)
	if err != nil {
		t.Fatalf("get pool state: %v", err)
	}
	if loaded.Status != defaultstate.StatusLate || loaded.PaymentsObserved != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if len(loaded.LockedCapitals) != 1 || !loaded.LockedCapitals[0].Locked {
		t.Fatalf("locked capitals = %+v", loaded.LockedCapitals)
	}
	pools, err := m.ListPoolStates()
	if err != nil || len(pools) != 1 {
		t.Fatalf("pool state list = %v, %v", pools, err)
	}

	seller := stateAddr(0x11)
	if err := m.PutClaimCursor(pool, seller, 3); err != nil {
		t.Fatalf("put cursor: %v", err)
	}
	cursor, err := m.GetClaimCursor(pool, seller)
	if err != nil || cursor != 3 {
		t.Fatalf("cursor = %d, %v", cursor, err)
	}
}
