package protection

import (
	"math/big"
	"strconv"

	"covernet/core/types"
	"covernet/crypto"
)

const (
	EventTypePoolInitialized     = "protection.pool.initialized"
	EventTypePoolPhaseUpdated    = "protection.pool.phase_updated"
	EventTypeProtectionBought    = "protection.bought"
	EventTypeProtectionExpired   = "protection.expired"
	EventTypeProtectionSold      = "protection.sold"
	EventTypeWithdrawalRequested = "protection.withdrawal.requested"
	EventTypeWithdrawalMade      = "protection.withdrawal.made"
	EventTypePremiumAccrued      = "protection.premium.accrued"
	EventTypeLendingPoolLocked   = "protection.lending_pool.locked"
	EventTypeLendingPoolUnlocked = "protection.lending_pool.unlocked"
	EventTypeCapitalClaimed      = "protection.capital.claimed"
)

type protectionEvent struct {
	evt *types.Event
}

func (e protectionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e protectionEvent) Event() *types.Event { return e.evt }

func newEvent(eventType string, attributes map[string]string) protectionEvent {
	return protectionEvent{evt: &types.Event{Type: eventType, Attributes: attributes}}
}

func amountAttr(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func newPoolInitializedEvent(pool crypto.Address) protectionEvent {
	return newEvent(EventTypePoolInitialized, map[string]string{
		"pool": pool.String(),
	})
}

func newPhaseUpdatedEvent(pool crypto.Address, phase PoolPhase) protectionEvent {
	return newEvent(EventTypePoolPhaseUpdated, map[string]string{
		"pool":  pool.String(),
		"phase": phase.String(),
	})
}

func newProtectionBoughtEvent(buyer crypto.Address, position *ProtectionPosition) protectionEvent {
	return newEvent(EventTypeProtectionBought, map[string]string{
		"buyer":       buyer.String(),
		"positionId":  strconv.FormatUint(position.ID, 10),
		"lendingPool": position.Params.LendingPool.String(),
		"amount":      amountAttr(position.Params.ProtectionAmount),
		"premium":     amountAttr(position.Premium),
		"expiration":  strconv.FormatInt(position.ExpirationTimestamp(), 10),
	})
}

func newProtectionExpiredEvent(position *ProtectionPosition) protectionEvent {
	return newEvent(EventTypeProtectionExpired, map[string]string{
		"buyer":       position.Buyer.String(),
		"positionId":  strconv.FormatUint(position.ID, 10),
		"lendingPool": position.Params.LendingPool.String(),
		"amount":      amountAttr(position.Params.ProtectionAmount),
	})
}

func newProtectionSoldEvent(seller crypto.Address, amount, shares *big.Int) protectionEvent {
	return newEvent(EventTypeProtectionSold, map[string]string{
		"seller": seller.String(),
		"amount": amountAttr(amount),
		"shares": amountAttr(shares),
	})
}

func newWithdrawalRequestedEvent(seller crypto.Address, cycle uint64, shares *big.Int) protectionEvent {
	return newEvent(EventTypeWithdrawalRequested, map[string]string{
		"seller": seller.String(),
		"cycle":  strconv.FormatUint(cycle, 10),
		"shares": amountAttr(shares),
	})
}

func newWithdrawalMadeEvent(seller crypto.Address, shares, amount *big.Int) protectionEvent {
	return newEvent(EventTypeWithdrawalMade, map[string]string{
		"seller": seller.String(),
		"shares": amountAttr(shares),
		"amount": amountAttr(amount),
	})
}

func newPremiumAccruedEvent(lendingPool crypto.Address, amount *big.Int) protectionEvent {
	return newEvent(EventTypePremiumAccrued, map[string]string{
		"lendingPool": lendingPool.String(),
		"amount":      amountAttr(amount),
	})
}

func newLendingPoolLockedEvent(lendingPool crypto.Address, amount *big.Int, snapshotID uint64) protectionEvent {
	return newEvent(EventTypeLendingPoolLocked, map[string]string{
		"lendingPool": lendingPool.String(),
		"amount":      amountAttr(amount),
		"snapshotId":  strconv.FormatUint(snapshotID, 10),
	})
}

func newLendingPoolUnlockedEvent(lendingPool crypto.Address) protectionEvent {
	return newEvent(EventTypeLendingPoolUnlocked, map[string]string{
		"lendingPool": lendingPool.String(),
	})
}

func newCapitalClaimedEvent(seller crypto.Address, amount *big.Int) protectionEvent {
	return newEvent(EventTypeCapitalClaimed, map[string]string{
		"seller": seller.String(),
		"amount": amountAttr(amount),
	})
}
