package config

// Protection configures one protection pool: its cycle timing and the
// leverage-ratio pricing curve. Fixed-point values are decimal strings ("0.10")
// and amounts are wei strings so config files stay readable.
type Protection struct {
	PoolCycleSeconds             int64  `toml:"PoolCycleSeconds"`
	MinProtectionDurationSeconds int64  `toml:"MinProtectionDurationSeconds"`
	RenewalGracePeriodSeconds    int64  `toml:"RenewalGracePeriodSeconds"`
	LeverageRatioFloor           string `toml:"LeverageRatioFloor"`
	LeverageRatioCeiling         string `toml:"LeverageRatioCeiling"`
	LeverageRatioBuffer          string `toml:"LeverageRatioBuffer"`
	Curvature                    string `toml:"Curvature"`
	MinRiskPremiumRate           string `toml:"MinRiskPremiumRate"`
	UnderlyingRiskPremiumRate    string `toml:"UnderlyingRiskPremiumRate"`
	MinRequiredCapital           string `toml:"MinRequiredCapital"`
	MinRequiredProtection        string `toml:"MinRequiredProtection"`
}

// DefaultState configures the payment-health state machine.
type DefaultState struct {
	PaymentPeriodSeconds         int64  `toml:"PaymentPeriodSeconds"`
	PaymentGracePeriodSeconds    int64  `toml:"PaymentGracePeriodSeconds"`
	PaymentsRequiredForUnlock    uint32 `toml:"PaymentsRequiredForUnlock"`
	MissedGracePeriodsForDefault int64  `toml:"MissedGracePeriodsForDefault"`
}

// Assessment configures the assessord daemon loop.
type Assessment struct {
	IntervalSeconds int64  `toml:"IntervalSeconds"`
	MetricsAddress  string `toml:"MetricsAddress"`
	OTLPEndpoint    string `toml:"OTLPEndpoint"`
	OTLPInsecure    bool   `toml:"OTLPInsecure"`
}

// Pauses flips the operator kill switches for value-moving modules.
type Pauses struct {
	Protection bool `toml:"Protection"`
}

// IsPaused implements the module pause view consumed by engine guards.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "protection":
		return p.Protection
	default:
		return false
	}
}
