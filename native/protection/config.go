package protection

// Config captures the runtime configuration of a protection pool that is not
// part of the pricing parameters.
type Config struct {
	// PoolCycleSeconds is the length of one withdrawal/reassessment cycle.
	PoolCycleSeconds int64 `toml:"PoolCycleSeconds"`
	// MinProtectionDurationSeconds is the shortest admissible protection term.
	MinProtectionDurationSeconds int64 `toml:"MinProtectionDurationSeconds"`
	// RenewalGracePeriodSeconds is how long after expiry a position may still
	// be renewed.
	RenewalGracePeriodSeconds int64 `toml:"RenewalGracePeriodSeconds"`
}

// withdrawalDelayCycles is the fixed two-phase withdrawal delay: a request
// made in cycle n becomes redeemable in cycle n+2.
const withdrawalDelayCycles = 2

// EnsureDefaults fills zero fields with conservative defaults.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	if c.PoolCycleSeconds <= 0 {
		c.PoolCycleSeconds = 90 * 24 * 60 * 60
	}
	if c.MinProtectionDurationSeconds <= 0 {
		c.MinProtectionDurationSeconds = 30 * 24 * 60 * 60
	}
	if c.RenewalGracePeriodSeconds <= 0 {
		c.RenewalGracePeriodSeconds = 14 * 24 * 60 * 60
	}
}
