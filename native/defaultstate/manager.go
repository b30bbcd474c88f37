package defaultstate

import (
	"errors"
	"math/big"
	"time"

	"covernet/core/events"
	"covernet/crypto"
	"covernet/native/referencepools"
)

var (
	errNilState         = errors.New("default state manager: state not configured")
	errNilController    = errors.New("default state manager: capital controller not configured")
	errNilSource        = errors.New("default state manager: payment source not configured")
	errNilLedger        = errors.New("default state manager: snapshot ledger not configured")
	errUnauthorizedPool = errors.New("default state manager: caller is not the registered protection pool")
)

type managerState interface {
	GetPoolState(pool crypto.Address) (*PoolStateRecord, error)
	PutPoolState(pool crypto.Address, record *PoolStateRecord) error
	ListPoolStates() ([]crypto.Address, error)
	GetClaimCursor(pool crypto.Address, seller crypto.Address) (uint64, error)
	PutClaimCursor(pool crypto.Address, seller crypto.Address, cursor uint64) error
}

// capitalController is the protection-engine capability the manager drives:
// locking capital when a pool turns Late and releasing it on recovery. The
// pool address is recorded at wiring time and authorizes the claim path.
type capitalController interface {
	PoolAddress() crypto.Address
	LockCapital(caller crypto.Address, lendingPool crypto.Address) (*big.Int, uint64, error)
	UnlockLendingPool(caller crypto.Address, lendingPool crypto.Address) error
}

// paymentSource reads externally observed pool health and payment activity.
type paymentSource interface {
	Status(pool crypto.Address) referencepools.LendingPoolStatus
	LatestPaymentTimestamp(pool crypto.Address) int64
}

// snapshotLedger resolves share ownership at lock-time snapshots for claim
// payouts.
type snapshotLedger interface {
	BalanceOfAt(addr crypto.Address, snapshotID uint64) (*big.Int, error)
	TotalSupplyAt(snapshotID uint64) (*big.Int, error)
}

// Manager runs the payment-health state machine across all referenced lending
// pools. It is the only caller allowed to lock and unlock protection-pool
// capital, and it settles seller claims against lock-time snapshots.
type Manager struct {
	state      managerState
	controller capitalController
	source     paymentSource
	ledger     snapshotLedger
	emitter    events.Emitter
	cfg        Config
	address    crypto.Address
	pool       crypto.Address
	nowFn      func() int64
}

// NewManager constructs a default-state manager. The address is the identity
// the protection engine has registered for lock and unlock authorization.
func NewManager(address crypto.Address, cfg Config) *Manager {
	cfg.EnsureDefaults()
	return &Manager{
		emitter: events.NoopEmitter{},
		cfg:     cfg,
		address: address,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the persistence layer.
func (m *Manager) SetState(state managerState) { m.state = state }

// SetController wires the protection engine's lock interface and records its
// pool identity, which gates the claim entry point.
func (m *Manager) SetController(controller capitalController) {
	m.controller = controller
	if controller != nil {
		m.pool = controller.PoolAddress()
	}
}

// SetPaymentSource wires the external payment observer.
func (m *Manager) SetPaymentSource(source paymentSource) { m.source = source }

// SetLedger wires the share ledger used for snapshot reads.
func (m *Manager) SetLedger(ledger snapshotLedger) { m.ledger = ledger }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// SetNowFunc overrides the clock, primarily for tests.
func (m *Manager) SetNowFunc(now func() int64) {
	if m == nil || now == nil {
		return
	}
	m.nowFn = now
}

// Address returns the manager's caller identity.
func (m *Manager) Address() crypto.Address { return m.address }

// Status reports the manager's current view of a lending pool.
func (m *Manager) Status(pool crypto.Address) (PoolStatus, error) {
	if m == nil || m.state == nil {
		return StatusNone, errNilState
	}
	record, err := m.state.GetPoolState(pool)
	if err != nil {
		return StatusNone, err
	}
	if record == nil {
		return StatusNone, nil
	}
	return record.Status, nil
}

// AssessStates runs one assessment pass over the given lending pools and
// returns every status transition it produced. The pass is idempotent: a
// second run at the same instant produces no further transitions.
func (m *Manager) AssessStates(pools []crypto.Address) ([]Transition, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	if len(pools) == 0 {
		known, err := m.state.ListPoolStates()
		if err != nil {
			return nil, err
		}
		pools = known
	}
	var transitions []Transition
	for _, pool := range pools {
		transition, changed, err := m.AssessState(pool)
		if err != nil {
			return transitions, err
		}
		if changed {
			transitions = append(transitions, transition)
		}
	}
	return transitions, nil
}

// AssessState evaluates one lending pool against the state machine, locking
// or releasing capital as the status demands. It returns the transition taken
// and whether the status changed.
func (m *Manager) AssessState(pool crypto.Address) (Transition, bool, error) {
	if m == nil || m.state == nil {
		return Transition{}, false, errNilState
	}
	if m.controller == nil {
		return Transition{}, false, errNilController
	}
	if m.source == nil {
		return Transition{}, false, errNilSource
	}

	record, err := m.state.GetPoolState(pool)
	if err != nil {
		return Transition{}, false, err
	}
	now := m.nowFn()
	if record == nil {
		record = &PoolStateRecord{
			Status:               StatusActive,
			LastPaymentTimestamp: m.source.LatestPaymentTimestamp(pool),
		}
	}
	from := record.Status
	if from.Terminal() {
		return Transition{LendingPool: pool, From: from, To: from}, false, nil
	}

	if m.source.Status(pool) == referencepools.StatusExpired {
		record.Status = StatusExpired
		return m.commit(pool, record, from)
	}

	lastPayment := m.source.LatestPaymentTimestamp(pool)
	paid := lastPayment > record.LastPaymentTimestamp
	overdue := now - lastPayment
	missed := overdue > m.cfg.PaymentPeriodSeconds
	pastGrace := overdue > m.cfg.PaymentPeriodSeconds+m.cfg.PaymentGracePeriodSeconds
	defaulted := overdue > m.cfg.PaymentPeriodSeconds+m.cfg.PaymentGracePeriodSeconds*m.cfg.MissedGracePeriodsForDefault

	var lockedAmount *big.Int

	switch record.Status {
	case StatusNone, StatusActive:
		if paid {
			record.LastPaymentTimestamp = lastPayment
		}
		switch {
		case pastGrace:
			amount, err := m.lock(pool, record)
			if err != nil {
				return Transition{}, false, err
			}
			lockedAmount = amount
			record.Status = StatusLate
		case missed:
			record.Status = StatusLateWithinGracePeriod
		default:
			record.Status = StatusActive
		}

	case StatusLateWithinGracePeriod:
		switch {
		case paid:
			record.LastPaymentTimestamp = lastPayment
			record.Status = StatusActive
		case pastGrace:
			amount, err := m.lock(pool, record)
			if err != nil {
				return Transition{}, false, err
			}
			lockedAmount = amount
			record.Status = StatusLate
		}

	case StatusLate:
		switch {
		case paid:
			record.LastPaymentTimestamp = lastPayment
			record.PaymentsObserved++
			if record.PaymentsObserved >= m.cfg.PaymentsRequiredForUnlock {
				if err := m.unlock(pool, record); err != nil {
					return Transition{}, false, err
				}
				record.Status = StatusActive
				record.PaymentsObserved = 0
			} else {
				record.Status = StatusUnderReview
			}
		case defaulted:
			// Capital stays locked permanently: the loss is realized against
			// the sellers captured in the lock-time snapshot.
			record.Status = StatusDefaulted
		}

	case StatusUnderReview:
		switch {
		case paid:
			record.LastPaymentTimestamp = lastPayment
			record.PaymentsObserved++
			if record.PaymentsObserved >= m.cfg.PaymentsRequiredForUnlock {
				if err := m.unlock(pool, record); err != nil {
					return Transition{}, false, err
				}
				record.Status = StatusActive
				record.PaymentsObserved = 0
			}
		case defaulted:
			record.Status = StatusDefaulted
		case pastGrace:
			// The recovery stalled before reaching the required payment
			// count. Capital remains locked from the original Late entry.
			record.Status = StatusLate
			record.PaymentsObserved = 0
		}
	}

	transition, changed, err := m.commit(pool, record, from)
	if err == nil && changed {
		transition.LockedAmount = lockedAmount
	}
	return transition, changed, err
}

func (m *Manager) commit(pool crypto.Address, record *PoolStateRecord, from PoolStatus) (Transition, bool, error) {
	if err := m.state.PutPoolState(pool, record); err != nil {
		return Transition{}, false, err
	}
	transition := Transition{LendingPool: pool, From: from, To: record.Status}
	if from != record.Status {
		m.emitter.Emit(newStatusTransitionEvent(pool, from, record.Status))
		return transition, true, nil
	}
	return transition, false, nil
}

// lock asks the engine for a capital lock and records the instance, returning
// the locked amount. A lock that would secure nothing (empty pool) is still
// recorded so the unlock path stays symmetric.
func (m *Manager) lock(pool crypto.Address, record *PoolStateRecord) (*big.Int, error) {
	amount, snapshotID, err := m.controller.LockCapital(m.address, pool)
	if err != nil {
		return nil, err
	}
	record.LockedCapitals = append(record.LockedCapitals, LockedCapital{
		SnapshotID: snapshotID,
		Amount:     amount,
		Locked:     true,
	})
	if amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(amount), nil
}

// unlock releases the engine-side lock and marks the latest instance
// claimable.
func (m *Manager) unlock(pool crypto.Address, record *PoolStateRecord) error {
	if err := m.controller.UnlockLendingPool(m.address, pool); err != nil {
		return err
	}
	if latest := record.latestLock(); latest != nil && latest.Locked {
		latest.Locked = false
	}
	return nil
}

// CalculateClaimableUnlockedCapital reports the seller's pro-rata share of
// every released capital lock they have not yet claimed, without consuming
// the claim. The walk stops at the first still-locked instance, which by
// construction is always the most recent one.
func (m *Manager) CalculateClaimableUnlockedCapital(seller crypto.Address) (*big.Int, error) {
	return m.walkUnclaimed(seller, false)
}

// CalculateAndClaimUnlockedCapital walks every released capital lock the
// seller has not claimed yet and returns their pro-rata share, advancing the
// per-seller claim cursor so repeated calls pay nothing further. Only the
// protection pool registered via SetController may consume claims.
func (m *Manager) CalculateAndClaimUnlockedCapital(pool crypto.Address, seller crypto.Address) (*big.Int, error) {
	if m == nil || m.controller == nil {
		return nil, errNilController
	}
	if addressKey(pool) != addressKey(m.pool) {
		return nil, errUnauthorizedPool
	}
	return m.walkUnclaimed(seller, true)
}

func addressKey(addr crypto.Address) string {
	return string(addr.Prefix()) + string(addr.Bytes())
}

func (m *Manager) walkUnclaimed(seller crypto.Address, consume bool) (*big.Int, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	if m.ledger == nil {
		return nil, errNilLedger
	}

	pools, err := m.state.ListPoolStates()
	if err != nil {
		return nil, err
	}

	total := big.NewInt(0)
	for _, pool := range pools {
		record, err := m.state.GetPoolState(pool)
		if err != nil {
			return nil, err
		}
		if record == nil || len(record.LockedCapitals) == 0 {
			continue
		}
		cursor, err := m.state.GetClaimCursor(pool, seller)
		if err != nil {
			return nil, err
		}
		advanced := cursor
		for i := cursor; i < uint64(len(record.LockedCapitals)); i++ {
			instance := record.LockedCapitals[i]
			if instance.Locked {
				break
			}
			share, err := m.snapshotShare(seller, instance)
			if err != nil {
				return nil, err
			}
			total.Add(total, share)
			advanced = i + 1
		}
		if consume && advanced != cursor {
			if err := m.state.PutClaimCursor(pool, seller, advanced); err != nil {
				return nil, err
			}
		}
	}
	return total, nil
}

// snapshotShare computes the seller's pro-rata slice of one released lock.
func (m *Manager) snapshotShare(seller crypto.Address, instance LockedCapital) (*big.Int, error) {
	if instance.Amount == nil || instance.Amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	supply, err := m.ledger.TotalSupplyAt(instance.SnapshotID)
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 {
		return big.NewInt(0), nil
	}
	balance, err := m.ledger.BalanceOfAt(seller, instance.SnapshotID)
	if err != nil {
		return nil, err
	}
	share := new(big.Int).Mul(instance.Amount, balance)
	return share.Quo(share, supply), nil
}
