package protection

import (
	"errors"
	"math/big"
	"time"

	"covernet/core/events"
	"covernet/core/types"
	"covernet/crypto"
	nativecommon "covernet/native/common"
	"covernet/native/premium"
	"covernet/native/referencepools"
)

var (
	errNilState                   = errors.New("protection engine: state not configured")
	errNilLedger                  = errors.New("protection engine: share ledger not configured")
	errNilReferencePools          = errors.New("protection engine: reference pools not configured")
	errNilClaimSource             = errors.New("protection engine: claim source not configured")
	errInvalidAmount              = errors.New("protection engine: amount must be positive")
	errInsufficientBalance        = errors.New("protection engine: insufficient balance")
	errPhaseMismatch              = errors.New("protection engine: operation not allowed in current pool phase")
	errPoolPhaseFinal             = errors.New("protection engine: pool already in final phase")
	errPhaseThresholdNotMet       = errors.New("protection engine: phase advance threshold not met")
	errPoolNotSupported           = errors.New("protection engine: lending pool not supported")
	errLendingPoolLate            = errors.New("protection engine: lending pool has late payment")
	errLendingPoolDefaulted       = errors.New("protection engine: lending pool defaulted")
	errLendingPoolExpired         = errors.New("protection engine: lending pool expired")
	errNotEligibleForPurchase     = errors.New("protection engine: buyer not eligible for purchase")
	errProtectionDurationTooShort = errors.New("protection engine: protection duration too short")
	errProtectionDurationTooLong  = errors.New("protection engine: protection duration exceeds next reassessment boundary")
	errPremiumExceedsMax          = errors.New("protection engine: premium exceeds caller maximum")
	errLeverageFloorBreached      = errors.New("protection engine: leverage ratio would fall below floor")
	errLeverageCeilingBreached    = errors.New("protection engine: leverage ratio would exceed ceiling")
	errWithdrawalExceedsRequest   = errors.New("protection engine: withdrawal exceeds requested shares")
	errNoWithdrawalRequest        = errors.New("protection engine: no withdrawal request for current cycle")
	errRenewalNotAllowed          = errors.New("protection engine: no renewable position for the lending position")
	errUnauthorizedCaller         = errors.New("protection engine: caller is not authorized")
	errPoolAlreadyLocked          = errors.New("protection engine: lending pool already locked")
	errPoolNotLocked              = errors.New("protection engine: lending pool not locked")
)

const moduleName = "protection"

var wad = big.NewInt(1_000_000_000_000_000_000)

type engineState interface {
	GetPool() (*PoolRecord, error)
	PutPool(*PoolRecord) error
	GetPosition(id uint64) (*ProtectionPosition, error)
	PutPosition(*ProtectionPosition) error
	NextPositionID() (uint64, error)
	GetLendingPoolRecord(pool crypto.Address) (*LendingPoolRecord, error)
	PutLendingPoolRecord(pool crypto.Address, record *LendingPoolRecord) error
	ListLendingPools() ([]crypto.Address, error)
	GetBuyerPositionID(pool crypto.Address, buyer crypto.Address, positionTokenID uint64) (uint64, error)
	PutBuyerPositionID(pool crypto.Address, buyer crypto.Address, positionTokenID uint64, id uint64) error
	GetWithdrawalRequest(cycle uint64, seller crypto.Address) (*WithdrawalRequest, error)
	PutWithdrawalRequest(cycle uint64, request *WithdrawalRequest) error
	GetWithdrawalCycleTotal(cycle uint64) (*big.Int, error)
	PutWithdrawalCycleTotal(cycle uint64, total *big.Int) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// shareLedger is the share-token collaborator: fungible seller shares with
// point-in-time snapshots.
type shareLedger interface {
	Mint(to crypto.Address, amount *big.Int) error
	Burn(from crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) *big.Int
	TotalSupply() *big.Int
	Snapshot() uint64
	BalanceOfAt(addr crypto.Address, snapshotID uint64) (*big.Int, error)
	TotalSupplyAt(snapshotID uint64) (*big.Int, error)
}

// referenceView is the slice of the reference-pool registry the engine needs.
type referenceView interface {
	IsRegistered(pool crypto.Address) bool
	Info(pool crypto.Address) (referencepools.ReferenceLendingPoolInfo, error)
	Status(pool crypto.Address) referencepools.LendingPoolStatus
	RemainingPrincipal(pool, holder crypto.Address, positionTokenID uint64) *big.Int
	BuyerAPR(pool crypto.Address) *big.Int
	CanBuyProtection(buyer crypto.Address, params referencepools.PurchaseParams, hasActivePosition bool) (bool, error)
}

// capitalClaimSource is the default-state manager capability the engine calls
// when a seller claims released capital.
type capitalClaimSource interface {
	CalculateAndClaimUnlockedCapital(pool crypto.Address, seller crypto.Address) (*big.Int, error)
}

// Engine orchestrates the economics of one protection pool: seller deposits
// and withdrawals, buyer protection purchases, continuous premium accrual and
// the lock/unlock callbacks driven by the default-state manager.
type Engine struct {
	state        engineState
	ledger       shareLedger
	refPools     referenceView
	claims       capitalClaimSource
	emitter      events.Emitter
	pauses       nativecommon.PauseView
	params       premium.PoolParameters
	cfg          Config
	poolAddress  crypto.Address
	vaultAddress crypto.Address
	operator     crypto.Address
	stateManager crypto.Address
	nowFn        func() int64
}

// NewEngine constructs a protection pool engine. The pool address identifies
// the market, the vault address holds pooled capital, and the operator is the
// only identity allowed to advance the pool phase.
func NewEngine(poolAddr, vaultAddr, operator crypto.Address, params premium.PoolParameters, cfg Config) *Engine {
	cfg.EnsureDefaults()
	return &Engine{
		emitter:      events.NoopEmitter{},
		params:       params.Clone(),
		cfg:          cfg,
		poolAddress:  poolAddr,
		vaultAddress: vaultAddr,
		operator:     operator,
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the seller share ledger.
func (e *Engine) SetLedger(ledger shareLedger) { e.ledger = ledger }

// SetReferencePools wires the reference lending-pool registry.
func (e *Engine) SetReferencePools(view referenceView) { e.refPools = view }

// SetClaimSource wires the default-state manager claim capability.
func (e *Engine) SetClaimSource(claims capitalClaimSource) { e.claims = claims }

// SetStateManager records the identity allowed to lock and unlock capital.
func (e *Engine) SetStateManager(manager crypto.Address) { e.stateManager = manager }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the module pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the clock, primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// SetPoolParameters swaps the pricing configuration atomically. Existing
// positions keep the constants captured at purchase time.
func (e *Engine) SetPoolParameters(params premium.PoolParameters) {
	if e == nil {
		return
	}
	e.params = params.Clone()
}

// PoolAddress returns the pool's market identity.
func (e *Engine) PoolAddress() crypto.Address { return e.poolAddress }

// InitializePool writes the genesis pool record. It is a no-op when the pool
// already exists.
func (e *Engine) InitializePool() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	existing, err := e.state.GetPool()
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	record := &PoolRecord{Phase: PhaseOpenToSellers, StartTimestamp: e.nowFn()}
	record.EnsureDefaults()
	if err := e.state.PutPool(record); err != nil {
		return err
	}
	e.emitter.Emit(newPoolInitializedEvent(e.poolAddress))
	return nil
}

// --- cycle arithmetic ---

// currentCycle derives the withdrawal cycle index from the pool start. Any
// state-dependent decision recomputes this from the clock so it is never made
// against a stale cached cycle.
func (e *Engine) currentCycle(pool *PoolRecord, now int64) uint64 {
	if pool == nil || now <= pool.StartTimestamp || e.cfg.PoolCycleSeconds <= 0 {
		return 0
	}
	return uint64((now - pool.StartTimestamp) / e.cfg.PoolCycleSeconds)
}

// nextReassessmentTimestamp is the end of the current cycle, which bounds the
// admissible protection expiration.
func (e *Engine) nextReassessmentTimestamp(pool *PoolRecord, now int64) int64 {
	cycle := e.currentCycle(pool, now)
	return pool.StartTimestamp + int64(cycle+1)*e.cfg.PoolCycleSeconds
}

// --- leverage ---

// leverageRatio is backing capital over outstanding protection, 18-decimal
// fixed point. A pool with no outstanding protection reports zero; pricing
// treats that via the minimum-capital/protection gates rather than this value.
func leverageRatio(totalCapital, totalProtection *big.Int) *big.Int {
	if totalCapital == nil || totalProtection == nil || totalProtection.Sign() == 0 {
		return big.NewInt(0)
	}
	ratio := new(big.Int).Mul(totalCapital, wad)
	return ratio.Quo(ratio, totalProtection)
}

// LeverageRatio reports the pool's current leverage ratio.
func (e *Engine) LeverageRatio() (*big.Int, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return leverageRatio(pool.TotalSTokenUnderlying, pool.TotalProtection), nil
}

// --- seller side ---

// Deposit transfers underlying from the seller into the pool vault and mints
// shares at the current exchange rate. Deposits are rejected while the pool is
// exclusively open to buyers so sellers cannot dilute the ratio buyers priced
// against mid-phase, and rejected outright when the resulting leverage ratio
// would exceed the ceiling once the pool carries meaningful protection.
func (e *Engine) Deposit(seller crypto.Address, amount *big.Int, receiver crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	if pool.Phase == PhaseOpenToBuyers {
		return nil, errPhaseMismatch
	}

	// Ceiling check happens before any mutation so a rejected deposit leaves
	// every balance untouched.
	newCapital := new(big.Int).Add(pool.TotalSTokenUnderlying, amount)
	if e.minimumsMet(newCapital, pool.TotalProtection) {
		ratio := leverageRatio(newCapital, pool.TotalProtection)
		if ratio.Cmp(e.params.Curve.LeverageRatioCeiling) > 0 {
			return nil, errLeverageCeilingBreached
		}
	}

	shares := e.sharesForDeposit(pool, amount)

	if err := e.transferUnderlying(seller, e.vaultAddress, amount); err != nil {
		return nil, err
	}
	if err := e.ledger.Mint(receiver, shares); err != nil {
		return nil, err
	}

	pool.TotalSTokenUnderlying = newCapital
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}

	e.emitter.Emit(newProtectionSoldEvent(seller, amount, shares))
	return shares, nil
}

// sharesForDeposit converts a deposit amount to shares at the current exchange
// rate, defaulting to 1:1 while the pool is empty.
func (e *Engine) sharesForDeposit(pool *PoolRecord, amount *big.Int) *big.Int {
	supply := e.ledger.TotalSupply()
	if supply.Sign() == 0 || pool.TotalSTokenUnderlying.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	shares := new(big.Int).Mul(amount, supply)
	return shares.Quo(shares, pool.TotalSTokenUnderlying)
}

// underlyingForShares converts shares back to underlying at the current
// exchange rate.
func (e *Engine) underlyingForShares(pool *PoolRecord, shares *big.Int) *big.Int {
	supply := e.ledger.TotalSupply()
	if supply.Sign() == 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(shares, pool.TotalSTokenUnderlying)
	return amount.Quo(amount, supply)
}

// RequestWithdrawal records a two-phase withdrawal: shares requested in cycle
// n become redeemable in cycle n+2. A later request for the same target cycle
// overwrites the earlier one.
func (e *Engine) RequestWithdrawal(seller crypto.Address, shares *big.Int) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if e.ledger == nil {
		return 0, errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return 0, errInvalidAmount
	}
	if e.ledger.BalanceOf(seller).Cmp(shares) < 0 {
		return 0, errInsufficientBalance
	}

	pool, err := e.loadPool()
	if err != nil {
		return 0, err
	}
	target := e.currentCycle(pool, e.nowFn()) + withdrawalDelayCycles

	previous, err := e.state.GetWithdrawalRequest(target, seller)
	if err != nil {
		return 0, err
	}
	total, err := e.state.GetWithdrawalCycleTotal(target)
	if err != nil {
		return 0, err
	}
	if total == nil {
		total = big.NewInt(0)
	}
	if previous != nil && previous.Shares != nil {
		total = new(big.Int).Sub(total, previous.Shares)
	}
	total = new(big.Int).Add(total, shares)

	request := &WithdrawalRequest{Seller: seller, Shares: new(big.Int).Set(shares)}
	if err := e.state.PutWithdrawalRequest(target, request); err != nil {
		return 0, err
	}
	if err := e.state.PutWithdrawalCycleTotal(target, total); err != nil {
		return 0, err
	}

	e.emitter.Emit(newWithdrawalRequestedEvent(seller, target, shares))
	return target, nil
}

// Withdraw burns requested shares and releases underlying to the receiver.
// A request filed in cycle n is redeemable only during cycle n+2; the lookup
// keys on the current cycle, so a seller who misses that window must file a
// new request. The redeemable amount is capped by the shares actually held at
// withdrawal time, so requests rescale automatically when shares were
// transferred away in the meantime.
func (e *Engine) Withdraw(seller crypto.Address, shares *big.Int, receiver crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	if pool.Phase != PhaseOpen {
		return nil, errPhaseMismatch
	}

	cycle := e.currentCycle(pool, e.nowFn())
	request, err := e.state.GetWithdrawalRequest(cycle, seller)
	if err != nil {
		return nil, err
	}
	if request == nil || request.Shares == nil || request.Shares.Sign() == 0 {
		return nil, errNoWithdrawalRequest
	}

	redeemable := new(big.Int).Set(request.Shares)
	if balance := e.ledger.BalanceOf(seller); balance.Cmp(redeemable) < 0 {
		redeemable = balance
	}
	if shares.Cmp(redeemable) > 0 {
		return nil, errWithdrawalExceedsRequest
	}

	amount := e.underlyingForShares(pool, shares)
	newCapital := new(big.Int).Sub(pool.TotalSTokenUnderlying, amount)
	if e.minimumsMet(newCapital, pool.TotalProtection) {
		ratio := leverageRatio(newCapital, pool.TotalProtection)
		if ratio.Cmp(e.params.Curve.LeverageRatioFloor) < 0 {
			return nil, errLeverageFloorBreached
		}
	}

	if err := e.ledger.Burn(seller, shares); err != nil {
		return nil, err
	}
	if err := e.transferUnderlying(e.vaultAddress, receiver, amount); err != nil {
		return nil, err
	}

	request.Shares = new(big.Int).Sub(request.Shares, shares)
	if err := e.state.PutWithdrawalRequest(cycle, request); err != nil {
		return nil, err
	}
	total, err := e.state.GetWithdrawalCycleTotal(cycle)
	if err != nil {
		return nil, err
	}
	if total != nil {
		total = new(big.Int).Sub(total, shares)
		if total.Sign() < 0 {
			total = big.NewInt(0)
		}
		if err := e.state.PutWithdrawalCycleTotal(cycle, total); err != nil {
			return nil, err
		}
	}

	pool.TotalSTokenUnderlying = newCapital
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}

	e.emitter.Emit(newWithdrawalMadeEvent(seller, shares, amount))
	return amount, nil
}

// minimumsMet reports whether the pool carries enough capital and protection
// for leverage-ratio guards to be meaningful.
func (e *Engine) minimumsMet(totalCapital, totalProtection *big.Int) bool {
	if e.params.MinRequiredCapital == nil || e.params.MinRequiredProtection == nil {
		return false
	}
	return totalCapital.Cmp(e.params.MinRequiredCapital) >= 0 &&
		totalProtection.Cmp(e.params.MinRequiredProtection) >= 0
}

// --- buyer side ---

// BuyProtection validates admission, quotes the premium, derives the accrual
// constants and records a new protection position.
func (e *Engine) BuyProtection(buyer crypto.Address, params PurchaseParams, maxPremium *big.Int) (*ProtectionPosition, error) {
	return e.buyProtection(buyer, params, maxPremium, false)
}

// RenewProtection is BuyProtection for a buyer who already holds (or recently
// held) a position on the same lending position. The purchase-window check is
// bypassed; the prior position must be active or expired within the renewal
// grace period.
func (e *Engine) RenewProtection(buyer crypto.Address, params PurchaseParams, maxPremium *big.Int) (*ProtectionPosition, error) {
	return e.buyProtection(buyer, params, maxPremium, true)
}

func (e *Engine) buyProtection(buyer crypto.Address, params PurchaseParams, maxPremium *big.Int, renewal bool) (*ProtectionPosition, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.refPools == nil {
		return nil, errNilReferencePools
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if params.ProtectionAmount == nil || params.ProtectionAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	if pool.Phase == PhaseOpenToSellers {
		return nil, errPhaseMismatch
	}

	if err := e.checkLendingPoolAdmission(params.LendingPool); err != nil {
		return nil, err
	}

	now := e.nowFn()
	previous, hasPrevious, err := e.latestPosition(params.LendingPool, buyer, params.PositionTokenID)
	if err != nil {
		return nil, err
	}
	hasActive := hasPrevious && !previous.Expired && previous.ExpirationTimestamp() > now

	if renewal {
		if !hasPrevious {
			return nil, errRenewalNotAllowed
		}
		if !hasActive && now > previous.ExpirationTimestamp()+e.cfg.RenewalGracePeriodSeconds {
			return nil, errRenewalNotAllowed
		}
	}

	eligible, err := e.refPools.CanBuyProtection(buyer, referencepools.PurchaseParams{
		LendingPool:         params.LendingPool,
		PositionTokenID:     params.PositionTokenID,
		ProtectionAmount:    params.ProtectionAmount,
		ExpirationTimestamp: now + params.DurationSeconds,
	}, hasActive || renewal)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, errNotEligibleForPurchase
	}

	if params.DurationSeconds < e.cfg.MinProtectionDurationSeconds {
		return nil, errProtectionDurationTooShort
	}
	if now+params.DurationSeconds > e.nextReassessmentTimestamp(pool, now) {
		return nil, errProtectionDurationTooLong
	}

	newProtection := new(big.Int).Add(pool.TotalProtection, params.ProtectionAmount)
	if e.minimumsMet(pool.TotalSTokenUnderlying, newProtection) {
		ratio := leverageRatio(pool.TotalSTokenUnderlying, newProtection)
		if ratio.Cmp(e.params.Curve.LeverageRatioFloor) < 0 {
			return nil, errLeverageFloorBreached
		}
	}

	apr := e.refPools.BuyerAPR(params.LendingPool)
	currentRatio := leverageRatio(pool.TotalSTokenUnderlying, pool.TotalProtection)
	quoted, _ := premium.CalculatePremium(params.DurationSeconds, params.ProtectionAmount, apr, currentRatio, pool.TotalSTokenUnderlying, pool.TotalProtection, e.params)
	if maxPremium != nil && quoted.Cmp(maxPremium) > 0 {
		return nil, errPremiumExceedsMax
	}

	durationDays := premium.DaysWad(params.DurationSeconds)
	k, lambda, err := premium.CalculateKAndLambda(quoted, durationDays, currentRatio, e.params.Curve)
	if err != nil {
		return nil, err
	}

	if err := e.transferUnderlying(buyer, e.vaultAddress, quoted); err != nil {
		return nil, err
	}

	record, err := e.ensureLendingPoolRecord(params.LendingPool, now)
	if err != nil {
		return nil, err
	}

	id, err := e.state.NextPositionID()
	if err != nil {
		return nil, err
	}
	position := &ProtectionPosition{
		ID:             id,
		Buyer:          buyer,
		Premium:        new(big.Int).Set(quoted),
		StartTimestamp: now,
		K:              k,
		Lambda:         lambda,
		Params:         params.Clone(),
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutBuyerPositionID(params.LendingPool, buyer, params.PositionTokenID, id); err != nil {
		return nil, err
	}

	record.ActivePositionIDs = append(record.ActivePositionIDs, id)
	record.TotalPremium = new(big.Int).Add(record.TotalPremium, quoted)
	record.TotalProtection = new(big.Int).Add(record.TotalProtection, params.ProtectionAmount)
	if err := e.state.PutLendingPoolRecord(params.LendingPool, record); err != nil {
		return nil, err
	}

	pool.TotalPremium = new(big.Int).Add(pool.TotalPremium, quoted)
	pool.TotalProtection = newProtection
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}

	e.emitter.Emit(newProtectionBoughtEvent(buyer, position))
	return position.Clone(), nil
}

// checkLendingPoolAdmission rejects purchases on unsupported, late, defaulted
// or expired lending pools with the specific named condition.
func (e *Engine) checkLendingPoolAdmission(pool crypto.Address) error {
	if !e.refPools.IsRegistered(pool) {
		return errPoolNotSupported
	}
	switch e.refPools.Status(pool) {
	case referencepools.StatusActive:
		return nil
	case referencepools.StatusLate:
		return errLendingPoolLate
	case referencepools.StatusDefaulted:
		return errLendingPoolDefaulted
	case referencepools.StatusExpired:
		return errLendingPoolExpired
	default:
		return errPoolNotSupported
	}
}

// latestPosition resolves the most recent position for the buyer's lending
// position, if any.
func (e *Engine) latestPosition(pool crypto.Address, buyer crypto.Address, positionTokenID uint64) (*ProtectionPosition, bool, error) {
	id, err := e.state.GetBuyerPositionID(pool, buyer, positionTokenID)
	if err != nil {
		return nil, false, err
	}
	if id == 0 {
		return nil, false, nil
	}
	position, err := e.state.GetPosition(id)
	if err != nil {
		return nil, false, err
	}
	if position == nil {
		return nil, false, nil
	}
	return position, true, nil
}

// ensureLendingPoolRecord loads the record for the lending pool, creating it
// on first reference.
func (e *Engine) ensureLendingPoolRecord(pool crypto.Address, now int64) (*LendingPoolRecord, error) {
	record, err := e.state.GetLendingPoolRecord(pool)
	if err != nil {
		return nil, err
	}
	if record != nil {
		record.EnsureDefaults()
		return record, nil
	}
	info, err := e.refPools.Info(pool)
	if err != nil {
		return nil, err
	}
	record = &LendingPoolRecord{
		Protocol:                    info.Protocol,
		AddedTimestamp:              now,
		PurchaseLimitTimestamp:      info.ProtectionPurchaseLimitTimestamp,
		LastPremiumAccrualTimestamp: now,
	}
	record.EnsureDefaults()
	return record, nil
}

// --- premium accrual ---

// AccruePremiumAndExpireProtections walks the given lending pools (all
// referenced pools when none are specified), accrues premium for every active
// position over the interval since the last pass and expires positions whose
// term has ended. Accrued premium is credited to pool backing capital, which
// is what entitles sellers to it.
func (e *Engine) AccruePremiumAndExpireProtections(lendingPools []crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if len(lendingPools) == 0 {
		all, err := e.state.ListLendingPools()
		if err != nil {
			return err
		}
		lendingPools = all
	}

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	now := e.nowFn()

	for _, lendingPool := range lendingPools {
		record, err := e.state.GetLendingPoolRecord(lendingPool)
		if err != nil {
			return err
		}
		if record == nil {
			continue
		}
		record.EnsureDefaults()
		if err := e.accrueRecord(pool, lendingPool, record, now); err != nil {
			return err
		}
		if err := e.state.PutLendingPoolRecord(lendingPool, record); err != nil {
			return err
		}
	}

	return e.state.PutPool(pool)
}

// accrueRecord performs one accrual-and-expiry pass over a single lending
// pool record, mutating both the record and the pool aggregates in place.
func (e *Engine) accrueRecord(pool *PoolRecord, lendingPool crypto.Address, record *LendingPoolRecord, now int64) error {
	accruedTotal := big.NewInt(0)
	active := append([]uint64(nil), record.ActivePositionIDs...)

	for _, id := range active {
		position, err := e.state.GetPosition(id)
		if err != nil {
			return err
		}
		if position == nil || position.Expired {
			continue
		}

		start := position.StartTimestamp
		expiration := position.ExpirationTimestamp()
		accrualEnd := now
		if accrualEnd > expiration {
			accrualEnd = expiration
		}
		accrualStart := record.LastPremiumAccrualTimestamp
		if accrualStart < start {
			accrualStart = start
		}
		if accrualStart > expiration {
			accrualStart = expiration
		}

		if accrualEnd > accrualStart {
			t0 := premium.DaysWad(accrualStart - start)
			t1 := premium.DaysWad(accrualEnd - start)
			accrued, err := premium.CalculateAccruedPremium(position.K, position.Lambda, t0, t1)
			if err != nil {
				return err
			}
			accruedTotal.Add(accruedTotal, accrued)
		}

		if now >= expiration {
			position.Expired = true
			if err := e.state.PutPosition(position); err != nil {
				return err
			}
			record.removePositionID(id)
			record.TotalProtection = new(big.Int).Sub(record.TotalProtection, position.Params.ProtectionAmount)
			if record.TotalProtection.Sign() < 0 {
				record.TotalProtection = big.NewInt(0)
			}
			// While the lending pool is locked the outstanding protection was
			// already removed from the pool aggregate at lock time.
			if !record.Locked {
				pool.TotalProtection = new(big.Int).Sub(pool.TotalProtection, position.Params.ProtectionAmount)
				if pool.TotalProtection.Sign() < 0 {
					pool.TotalProtection = big.NewInt(0)
				}
			}
			e.emitter.Emit(newProtectionExpiredEvent(position))
		}
	}

	record.LastPremiumAccrualTimestamp = now
	if accruedTotal.Sign() > 0 {
		pool.TotalPremiumAccrued = new(big.Int).Add(pool.TotalPremiumAccrued, accruedTotal)
		pool.TotalSTokenUnderlying = new(big.Int).Add(pool.TotalSTokenUnderlying, accruedTotal)
		e.emitter.Emit(newPremiumAccruedEvent(lendingPool, accruedTotal))
	}
	return nil
}

// --- state-manager callbacks ---

// LockCapital computes the capital at risk for the lending pool, snapshots
// share ownership and removes the at-risk amount from the pool's available
// backing. Only the registered default-state manager may call it.
func (e *Engine) LockCapital(caller crypto.Address, lendingPool crypto.Address) (*big.Int, uint64, error) {
	if e == nil || e.state == nil {
		return nil, 0, errNilState
	}
	if e.ledger == nil {
		return nil, 0, errNilLedger
	}
	if !addressesEqual(caller, e.stateManager) {
		return nil, 0, errUnauthorizedCaller
	}

	record, err := e.state.GetLendingPoolRecord(lendingPool)
	if err != nil {
		return nil, 0, err
	}
	if record == nil {
		return nil, 0, errPoolNotSupported
	}
	record.EnsureDefaults()
	if record.Locked {
		return nil, 0, errPoolAlreadyLocked
	}

	pool, err := e.loadPool()
	if err != nil {
		return nil, 0, err
	}

	// Accrue up to the lock instant first so seller entitlements reconcile
	// exactly with the premium curve.
	now := e.nowFn()
	if err := e.accrueRecord(pool, lendingPool, record, now); err != nil {
		return nil, 0, err
	}

	atRisk := big.NewInt(0)
	for _, id := range record.ActivePositionIDs {
		position, err := e.state.GetPosition(id)
		if err != nil {
			return nil, 0, err
		}
		if position == nil || position.Expired {
			continue
		}
		exposure := new(big.Int).Set(position.Params.ProtectionAmount)
		principal := e.refPools.RemainingPrincipal(lendingPool, position.Buyer, position.Params.PositionTokenID)
		if principal.Cmp(exposure) < 0 {
			exposure = principal
		}
		atRisk.Add(atRisk, exposure)
	}

	snapshotID := e.ledger.Snapshot()

	locked := atRisk
	if pool.TotalSTokenUnderlying.Cmp(locked) < 0 {
		locked = new(big.Int).Set(pool.TotalSTokenUnderlying)
	} else {
		locked = new(big.Int).Set(locked)
	}
	pool.TotalSTokenUnderlying = new(big.Int).Sub(pool.TotalSTokenUnderlying, locked)

	if err := e.moveToLocked(locked); err != nil {
		return nil, 0, err
	}

	record.Locked = true
	pool.TotalProtection = new(big.Int).Sub(pool.TotalProtection, record.TotalProtection)
	if pool.TotalProtection.Sign() < 0 {
		pool.TotalProtection = big.NewInt(0)
	}

	if err := e.state.PutLendingPoolRecord(lendingPool, record); err != nil {
		return nil, 0, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, 0, err
	}

	e.emitter.Emit(newLendingPoolLockedEvent(lendingPool, locked, snapshotID))
	return locked, snapshotID, nil
}

// UnlockLendingPool clears the lock flag and restores the lending pool's
// outstanding protection to the pool aggregate. The locked capital itself is
// released through the claim path rather than credited back to backing.
func (e *Engine) UnlockLendingPool(caller crypto.Address, lendingPool crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !addressesEqual(caller, e.stateManager) {
		return errUnauthorizedCaller
	}

	record, err := e.state.GetLendingPoolRecord(lendingPool)
	if err != nil {
		return err
	}
	if record == nil {
		return errPoolNotSupported
	}
	record.EnsureDefaults()
	if !record.Locked {
		return errPoolNotLocked
	}

	pool, err := e.loadPool()
	if err != nil {
		return err
	}

	record.Locked = false
	pool.TotalProtection = new(big.Int).Add(pool.TotalProtection, record.TotalProtection)

	if err := e.state.PutLendingPoolRecord(lendingPool, record); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	e.emitter.Emit(newLendingPoolUnlockedEvent(lendingPool))
	return nil
}

// ClaimUnlockedCapital pays the seller their pro-rata share of every released
// capital lock they have not claimed yet. The claim amount is computed and
// recorded by the default-state manager against lock-time snapshots.
func (e *Engine) ClaimUnlockedCapital(seller crypto.Address, receiver crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.claims == nil {
		return nil, errNilClaimSource
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	amount, err := e.claims.CalculateAndClaimUnlockedCapital(e.poolAddress, seller)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}

	if err := e.payFromLocked(receiver, amount); err != nil {
		return nil, err
	}
	e.emitter.Emit(newCapitalClaimedEvent(seller, amount))
	return amount, nil
}

// --- phase management ---

// MovePoolPhase advances the pool lifecycle by one stage once the stage's
// capital or leverage threshold holds. Only the operator may call it; phases
// never regress.
func (e *Engine) MovePoolPhase(caller crypto.Address) (PoolPhase, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if !addressesEqual(caller, e.operator) {
		return 0, errUnauthorizedCaller
	}

	pool, err := e.loadPool()
	if err != nil {
		return 0, err
	}

	switch pool.Phase {
	case PhaseOpenToSellers:
		if e.params.MinRequiredCapital == nil || pool.TotalSTokenUnderlying.Cmp(e.params.MinRequiredCapital) < 0 {
			return pool.Phase, errPhaseThresholdNotMet
		}
		pool.Phase = PhaseOpenToBuyers
	case PhaseOpenToBuyers:
		ratio := leverageRatio(pool.TotalSTokenUnderlying, pool.TotalProtection)
		if pool.TotalProtection.Sign() == 0 || ratio.Cmp(e.params.Curve.LeverageRatioCeiling) > 0 {
			return pool.Phase, errPhaseThresholdNotMet
		}
		pool.Phase = PhaseOpen
	default:
		return pool.Phase, errPoolPhaseFinal
	}

	if err := e.state.PutPool(pool); err != nil {
		return 0, err
	}
	e.emitter.Emit(newPhaseUpdatedEvent(e.poolAddress, pool.Phase))
	return pool.Phase, nil
}

// --- helpers ---

func (e *Engine) loadPool() (*PoolRecord, error) {
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &PoolRecord{Phase: PhaseOpenToSellers, StartTimestamp: e.nowFn()}
	}
	pool.EnsureDefaults()
	return pool, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &types.Account{}
	}
	account.EnsureDefaults()
	return account, nil
}

// transferUnderlying moves settlement asset between accounts atomically from
// the caller's perspective: the debit is validated before either side is
// persisted.
func (e *Engine) transferUnderlying(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := e.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.BalanceUnderlying.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	toAcc, err := e.loadAccount(to)
	if err != nil {
		return err
	}

	fromAcc.BalanceUnderlying = new(big.Int).Sub(fromAcc.BalanceUnderlying, amount)
	toAcc.BalanceUnderlying = new(big.Int).Add(toAcc.BalanceUnderlying, amount)

	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// moveToLocked shifts vault funds from the available balance to the locked
// balance when capital is locked against a delinquent lending pool.
func (e *Engine) moveToLocked(amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	vault, err := e.loadAccount(e.vaultAddress)
	if err != nil {
		return err
	}
	if vault.BalanceUnderlying.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	vault.BalanceUnderlying = new(big.Int).Sub(vault.BalanceUnderlying, amount)
	vault.LockedUnderlying = new(big.Int).Add(vault.LockedUnderlying, amount)
	return e.state.PutAccount(e.vaultAddress, vault)
}

// payFromLocked releases locked vault funds to a seller claiming released
// capital.
func (e *Engine) payFromLocked(receiver crypto.Address, amount *big.Int) error {
	vault, err := e.loadAccount(e.vaultAddress)
	if err != nil {
		return err
	}
	if vault.LockedUnderlying.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	receiverAcc, err := e.loadAccount(receiver)
	if err != nil {
		return err
	}
	vault.LockedUnderlying = new(big.Int).Sub(vault.LockedUnderlying, amount)
	receiverAcc.BalanceUnderlying = new(big.Int).Add(receiverAcc.BalanceUnderlying, amount)
	if err := e.state.PutAccount(e.vaultAddress, vault); err != nil {
		return err
	}
	return e.state.PutAccount(receiver, receiverAcc)
}

func addressesEqual(a, b crypto.Address) bool {
	return a.Prefix() == b.Prefix() && string(a.Bytes()) == string(b.Bytes())
}
