package defaultstate

// Config tunes the payment-health state machine.
type Config struct {
	// PaymentPeriodSeconds is the expected interval between qualifying
	// payments. A pool whose latest payment is older than this is overdue.
	PaymentPeriodSeconds int64 `toml:"PaymentPeriodSeconds"`
	// PaymentGracePeriodSeconds is how long past the payment period a pool
	// may stay overdue before capital is locked.
	PaymentGracePeriodSeconds int64 `toml:"PaymentGracePeriodSeconds"`
	// PaymentsRequiredForUnlock is how many consecutive qualifying payments a
	// Late pool must make before its locked capital is released.
	PaymentsRequiredForUnlock uint32 `toml:"PaymentsRequiredForUnlock"`
	// MissedGracePeriodsForDefault is how many grace periods past the payment
	// period a pool may stay overdue before it is declared Defaulted.
	MissedGracePeriodsForDefault int64 `toml:"MissedGracePeriodsForDefault"`
}

// EnsureDefaults fills unset fields with production defaults: 30-day payment
// periods, a 7-day grace period, two qualifying payments to unlock, and
// default after two missed grace periods.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	if c.PaymentPeriodSeconds <= 0 {
		c.PaymentPeriodSeconds = 30 * 24 * 60 * 60
	}
	if c.PaymentGracePeriodSeconds <= 0 {
		c.PaymentGracePeriodSeconds = 7 * 24 * 60 * 60
	}
	if c.PaymentsRequiredForUnlock == 0 {
		c.PaymentsRequiredForUnlock = 2
	}
	if c.MissedGracePeriodsForDefault <= 0 {
		c.MissedGracePeriodsForDefault = 2
	}
}
