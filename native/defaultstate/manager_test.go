package defaultstate

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"covernet/crypto"
	"covernet/native/referencepools"
)

type mockManagerState struct {
	records map[string]*PoolStateRecord
	order   []crypto.Address
	cursors map[string]uint64
}

func newMockManagerState() *mockManagerState {
	return &mockManagerState{
		records: make(map[string]*PoolStateRecord),
		cursors: make(map[string]uint64),
	}
}

func (m *mockManagerState) GetPoolState(pool crypto.Address) (*PoolStateRecord, error) {
	record, ok := m.records[pool.String()]
	if !ok {
		return nil, nil
	}
	return record.Clone(), nil
}

func (m *mockManagerState) PutPoolState(pool crypto.Address, record *PoolStateRecord) error {
	if _, ok := m.records[pool.String()]; !ok {
		m.order = append(m.order, pool)
	}
	m.records[pool.String()] = record.Clone()
	return nil
}

func (m *mockManagerState) ListPoolStates() ([]crypto.Address, error) {
	return append([]crypto.Address(nil), m.order...), nil
}

func cursorKey(pool, seller crypto.Address) string {
	return pool.String() + "/" + seller.String()
}

func (m *mockManagerState) GetClaimCursor(pool, seller crypto.Address) (uint64, error) {
	return m.cursors[cursorKey(pool, seller)], nil
}

func (m *mockManagerState) PutClaimCursor(pool, seller crypto.Address, cursor uint64) error {
	m.cursors[cursorKey(pool, seller)] = cursor
	return nil
}

type mockController struct {
	lockAmount   *big.Int
	nextSnapshot uint64
	locked       map[string]bool
	lockCalls    int
	unlockCalls  int
}

func newMockController(amount *big.Int) *mockController {
	return &mockController{lockAmount: amount, locked: make(map[string]bool)}
}

func (c *mockController) PoolAddress() crypto.Address {
	return managerAddr(0x01)
}

func (c *mockController) LockCapital(caller, lendingPool crypto.Address) (*big.Int, uint64, error) {
	if c.locked[lendingPool.String()] {
		return nil, 0, errors.New("already locked")
	}
	c.locked[lendingPool.String()] = true
	c.lockCalls++
	c.nextSnapshot++
	return new(big.Int).Set(c.lockAmount), c.nextSnapshot, nil
}

func (c *mockController) UnlockLendingPool(caller, lendingPool crypto.Address) error {
	if !c.locked[lendingPool.String()] {
		return errors.New("not locked")
	}
	c.locked[lendingPool.String()] = false
	c.unlockCalls++
	return nil
}

type mockPaymentSource struct {
	statuses map[string]referencepools.LendingPoolStatus
	payments map[string]int64
}

func newMockPaymentSource() *mockPaymentSource {
	return &mockPaymentSource{
		statuses: make(map[string]referencepools.LendingPoolStatus),
		payments: make(map[string]int64),
	}
}

func (s *mockPaymentSource) Status(pool crypto.Address) referencepools.LendingPoolStatus {
	status, ok := s.statuses[pool.String()]
	if !ok {
		return referencepools.StatusActive
	}
	return status
}

func (s *mockPaymentSource) LatestPaymentTimestamp(pool crypto.Address) int64 {
	return s.payments[pool.String()]
}

type mockSnapshotLedger struct {
	balances map[uint64]map[string]*big.Int
	supplies map[uint64]*big.Int
}

func newMockSnapshotLedger() *mockSnapshotLedger {
	return &mockSnapshotLedger{
		balances: make(map[uint64]map[string]*big.Int),
		supplies: make(map[uint64]*big.Int),
	}
}

func (l *mockSnapshotLedger) set(snapshotID uint64, addr crypto.Address, balance, supply *big.Int) {
	if l.balances[snapshotID] == nil {
		l.balances[snapshotID] = make(map[string]*big.Int)
	}
	l.balances[snapshotID][addr.String()] = balance
	l.supplies[snapshotID] = supply
}

func (l *mockSnapshotLedger) BalanceOfAt(addr crypto.Address, snapshotID uint64) (*big.Int, error) {
	byAddr, ok := l.balances[snapshotID]
	if !ok {
		return nil, fmt.Errorf("unknown snapshot %d", snapshotID)
	}
	balance, ok := byAddr[addr.String()]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (l *mockSnapshotLedger) TotalSupplyAt(snapshotID uint64) (*big.Int, error) {
	supply, ok := l.supplies[snapshotID]
	if !ok {
		return nil, fmt.Errorf("unknown snapshot %d", snapshotID)
	}
	return new(big.Int).Set(supply), nil
}

func managerAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, buf)
}

type managerFixture struct {
	manager    *Manager
	state      *mockManagerState
	controller *mockController
	source     *mockPaymentSource
	ledger     *mockSnapshotLedger
	now        int64
	pool       crypto.Address
}

const managerBase = int64(1_700_000_000)

// period 1000s, grace 200s, two payments to unlock, default past two grace
// periods (overdue > 1400s).
func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	fixture := &managerFixture{
		state:      newMockManagerState(),
		controller: newMockController(big.NewInt(30_000)),
		source:     newMockPaymentSource(),
		ledger:     newMockSnapshotLedger(),
		now:        managerBase,
		pool:       managerAddr(0x33),
	}
	manager := NewManager(managerAddr(0xB0), Config{
		PaymentPeriodSeconds:         1_000,
		PaymentGracePeriodSeconds:    200,
		PaymentsRequiredForUnlock:    2,
		MissedGracePeriodsForDefault: 2,
	})
	manager.SetState(fixture.state)
	manager.SetController(fixture.controller)
	manager.SetPaymentSource(fixture.source)
	manager.SetLedger(fixture.ledger)
	manager.SetNowFunc(func() int64 { return fixture.now })
	fixture.manager = manager
	fixture.source.payments[fixture.pool.String()] = managerBase
	return fixture
}

func (f *managerFixture) assess(t *testing.T) (Transition, bool) {
	t.Helper()
	transition, changed, err := f.manager.AssessState(f.pool)
	if err != nil {
		t.Fatalf("assess state: %v", err)
	}
	return transition, changed
}

func (f *managerFixture) mustStatus(t *testing.T, want PoolStatus) {
	t.Helper()
	status, err := f.manager.Status(f.pool)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != want {
		t.Fatalf("status = %s, want %s", status, want)
	}
}

func (f *managerFixture) pay(at int64) {
	f.source.payments[f.pool.String()] = at
}

func TestPoolStaysActiveWhilePaying(t *testing.T) {
	f := newManagerFixture(t)
	if _, changed := f.assess(t); changed {
		t.Fatalf("fresh healthy pool must not transition")
	}
	f.mustStatus(t, StatusActive)

	f.now = managerBase + 900
	if _, changed := f.assess(t); changed {
		t.Fatalf("payment within period must not transition")
	}
	f.mustStatus(t, StatusActive)
}

func TestMissedPaymentEntersGraceThenLocks(t *testing.T) {
	f := newManagerFixture(t)
	f.assess(t)

	f.now = managerBase + 1_100
	transition, changed := f.assess(t)
	if !changed || transition.To != StatusLateWithinGracePeriod {
		t.Fatalf("expected transition to LateWithinGracePeriod, got %+v changed=%v", transition, changed)
	}
	if f.controller.lockCalls != 0 {
		t.Fatalf("grace period must not lock capital")
	}
	if transition.LockedAmount != nil {
		t.Fatalf("grace transition carried locked amount %s", transition.LockedAmount)
	}

	f.now = managerBase + 1_300
	transition, changed = f.assess(t)
	if !changed || transition.To != StatusLate {
		t.Fatalf("expected transition to Late, got %+v changed=%v", transition, changed)
	}
	if f.controller.lockCalls != 1 {
		t.Fatalf("lock calls = %d, want 1", f.controller.lockCalls)
	}
	if transition.LockedAmount == nil || transition.LockedAmount.Cmp(big.NewInt(30_000)) != 0 {
		t.Fatalf("late transition locked amount = %v, want 30000", transition.LockedAmount)
	}

	record, _ := f.state.GetPoolState(f.pool)
	if len(record.LockedCapitals) != 1 || !record.LockedCapitals[0].Locked {
		t.Fatalf("locked capital not recorded: %+v", record.LockedCapitals)
	}
}

func TestPaymentWithinGraceReturnsToActive(t *testing.T) {
	f := newManagerFixture(t)
	f.assess(t)
	f.now = managerBase + 1_100
	f.assess(t)
	f.mustStatus(t, StatusLateWithinGracePeriod)

	f.pay(managerBase + 1_150)
	f.now = managerBase + 1_190
	transition, changed := f.assess(t)
	if !changed || transition.To != StatusActive {
		t.Fatalf("expected return to Active, got %+v changed=%v", transition, changed)
	}
	if f.controller.lockCalls != 0 {
		t.Fatalf("recovered pool must not lock capital")
	}
}

func TestRecoveryRequiresConsecutivePayments(t *testing.T) {
	f := newManagerFixture(t)
	f.assess(t)
	f.now = managerBase + 1_300
	f.assess(t)
	f.mustStatus(t, StatusLate)

	// First qualifying payment moves the pool under review, capital stays
	// locked.
	f.pay(managerBase + 1_350)
	f.now = managerBase + 1_400
	transition, changed := f.assess(t)
	if !changed || transition.To != StatusUnderReview {
		t.Fatalf("expected UnderReview, got %+v changed=%v", transition, changed)
	}
	if f.controller.unlockCalls != 0 {
		t.Fatalf("single payment must not unlock")
	}

	// Second payment completes the recovery and releases the lock.
	f.pay(managerBase + 2_300)
	f.now = managerBase + 2_400
	transition, changed = f.assess(t)
	if !changed || transition.To != StatusActive {
		t.Fatalf("expected Active, got %+v changed=%v", transition, changed)
	}
	if f.controller.unlockCalls != 1 {
		t.Fatalf("unlock calls = %d, want 1", f.controller.unlockCalls)
	}
	record, _ := f.state.GetPoolState(f.pool)
	if record.LockedCapitals[0].Locked {
		t.Fatalf("released lock still marked locked")
	}
	if record.PaymentsObserved != 0 {
		t.Fatalf("payment counter not reset: %d", record.PaymentsObserved)
	}
}

func TestStalledRecoveryFallsBackToLate(t *testing.T) {
	f := newManagerFixture(t)
	f.assess(t)
	f.now = managerBase + 1_300
	f.assess(t)
	f.pay(managerBase + 1_350)
	f.now = managerBase + 1_400
	f.assess(t)
	f.mustStatus(t, StatusUnderReview)

	// No second payment; once the first recovery payment itself goes past
	// the grace window the pool drops back to Late.
	f.now = managerBase + 1_350 + 1_300
	transition, changed := f.assess(t)
	if !changed || transition.To != StatusLate {
		t.Fatalf("expected fallback to Late, got %+v changed=%v", transition, changed)
	}
	record, _ := f.state.GetPoolState(f.pool)
	if record.PaymentsObserved != 0 {
		t.Fatalf("payment counter not reset: %d", record.PaymentsObserved)
	}
	// The original lock is still in force; no second lock is taken.
	if f.controller.lockCalls != 1 {
		t.Fatalf("lock calls = %d, want 1", f.controller.lockCalls)
	}
}

func TestProlongedDelinquencyDefaults(t *testing.T) {
	f := newManagerFixture(t)
	f.assess(t)
	f.now = managerBase + 1_300
	f.assess(t)
	f.mustStatus(t, StatusLate)

	f.now = managerBase + 1_500
	transition, changed := f.assess(t)
	if !changed || transition.To != StatusDefaulted {
		t.Fatalf("expected Defaulted, got %+v changed=%v", transition, changed)
	}
	// Defaulted is terminal: the capital is never released.
	if f.controller.unlockCalls != 0 {
		t.Fatalf("default must not unlock capital")
	}
	f.pay(managerBase + 2_000)
	f.now = managerBase + 2_100
	if _, changed := f.assess(t); changed {
		t.Fatalf("defaulted pool must not transition")
	}
	f.mustStatus(t, StatusDefaulted)
}

func TestExternalExpiryIsTerminal(t *testing.T) {
	f := newManagerFixture(t)
	f.assess(t)
	f.source.statuses[f.pool.String()] = referencepools.StatusExpired
	transition, changed := f.assess(t)
	if !changed || transition.To != StatusExpired {
		t.Fatalf("expected Expired, got %+v changed=%v", transition, changed)
	}
	if _, changed := f.assess(t); changed {
		t.Fatalf("expired pool must not transition")
	}
}

func TestAssessmentIsIdempotent(t *testing.T) {
	f := newManagerFixture(t)
	f.now = managerBase + 1_300
	transitions, err := f.manager.AssessStates([]crypto.Address{f.pool})
	if err != nil {
		t.Fatalf("assess states: %v", err)
	}
	if len(transitions) != 1 {
		t.Fatalf("transitions = %d, want 1", len(transitions))
	}
	transitions, err = f.manager.AssessStates([]crypto.Address{f.pool})
	if err != nil {
		t.Fatalf("assess states: %v", err)
	}
	if len(transitions) != 0 {
		t.Fatalf("repeat pass produced transitions: %+v", transitions)
	}
	if f.controller.lockCalls != 1 {
		t.Fatalf("lock calls = %d, want 1", f.controller.lockCalls)
	}
}

func TestClaimPaysProRataOnceAndAdvancesCursor(t *testing.T) {
	f := newManagerFixture(t)
	seller := managerAddr(0x11)
	other := managerAddr(0x12)

	// Lock, then recover so the lock is released.
	f.now = managerBase + 1_300
	f.assess(t)
	f.pay(managerBase + 1_350)
	f.now = managerBase + 1_400
	f.assess(t)
	f.pay(managerBase + 2_300)
	f.now = managerBase + 2_400
	f.assess(t)
	f.mustStatus(t, StatusActive)

	// Seller held 1/3 of the supply at the lock snapshot.
	f.ledger.set(1, seller, big.NewInt(100), big.NewInt(300))

	// The read-only computation reports the same amount without consuming it.
	claimable, err := f.manager.CalculateClaimableUnlockedCapital(seller)
	if err != nil {
		t.Fatalf("claimable: %v", err)
	}
	if claimable.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("claimable %s, want 10000", claimable)
	}

	claimed, err := f.manager.CalculateAndClaimUnlockedCapital(managerAddr(0x01), seller)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("claimed %s, want 10000", claimed)
	}

	// A second claim pays nothing.
	claimed, err = f.manager.CalculateAndClaimUnlockedCapital(managerAddr(0x01), seller)
	if err != nil {
		t.Fatalf("repeat claim: %v", err)
	}
	if claimed.Sign() != 0 {
		t.Fatalf("repeat claim paid %s", claimed)
	}

	// A non-holder at the snapshot gets nothing but still advances.
	claimed, err = f.manager.CalculateAndClaimUnlockedCapital(managerAddr(0x01), other)
	if err != nil {
		t.Fatalf("other claim: %v", err)
	}
	if claimed.Sign() != 0 {
		t.Fatalf("non-holder claimed %s", claimed)
	}
}

func TestClaimRequiresRegisteredPoolIdentity(t *testing.T) {
	f := newManagerFixture(t)
	seller := managerAddr(0x11)

	f.now = managerBase + 1_300
	f.assess(t)
	f.pay(managerBase + 1_350)
	f.now = managerBase + 1_400
	f.assess(t)
	f.pay(managerBase + 2_300)
	f.now = managerBase + 2_400
	f.assess(t)
	f.mustStatus(t, StatusActive)
	f.ledger.set(1, seller, big.NewInt(100), big.NewInt(300))

	claimed, err := f.manager.CalculateAndClaimUnlockedCapital(managerAddr(0x99), seller)
	if !errors.Is(err, errUnauthorizedPool) {
		t.Fatalf("unregistered caller: err = %v, want %v", err, errUnauthorizedPool)
	}
	if claimed != nil {
		t.Fatalf("unregistered caller was paid %s", claimed)
	}

	// The cursor must be untouched so the registered pool still collects.
	claimed, err = f.manager.CalculateAndClaimUnlockedCapital(managerAddr(0x01), seller)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("claimed %s, want 10000", claimed)
	}
}

func TestClaimSkipsStillLockedInstance(t *testing.T) {
	f := newManagerFixture(t)
	seller := managerAddr(0x11)

	f.now = managerBase + 1_300
	f.assess(t)
	f.mustStatus(t, StatusLate)
	f.ledger.set(1, seller, big.NewInt(100), big.NewInt(100))

	claimed, err := f.manager.CalculateAndClaimUnlockedCapital(managerAddr(0x01), seller)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Sign() != 0 {
		t.Fatalf("locked capital must not be claimable, got %s", claimed)
	}
}
