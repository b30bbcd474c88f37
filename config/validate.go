package config

import "fmt"

// Validate rejects configurations the engines cannot run with. It is called
// by Load after defaults are applied and can be reused for hot-reload checks.
func Validate(cfg *Config) error {
	p := cfg.Protection
	if p.PoolCycleSeconds <= 0 {
		return fmt.Errorf("protection: PoolCycleSeconds <= 0")
	}
	if p.MinProtectionDurationSeconds <= 0 || p.MinProtectionDurationSeconds > p.PoolCycleSeconds {
		return fmt.Errorf("protection: MinProtectionDurationSeconds must be in (0, PoolCycleSeconds]")
	}
	if p.RenewalGracePeriodSeconds < 0 {
		return fmt.Errorf("protection: RenewalGracePeriodSeconds < 0")
	}
	params, err := p.PoolParameters()
	if err != nil {
		return err
	}
	if params.Curve.LeverageRatioFloor.Sign() <= 0 {
		return fmt.Errorf("protection: LeverageRatioFloor <= 0")
	}
	if params.Curve.LeverageRatioCeiling.Cmp(params.Curve.LeverageRatioFloor) <= 0 {
		return fmt.Errorf("protection: LeverageRatioCeiling <= LeverageRatioFloor")
	}
	if params.Curve.LeverageRatioBuffer.Sign() <= 0 {
		return fmt.Errorf("protection: LeverageRatioBuffer <= 0")
	}
	if params.Curve.Curvature.Sign() <= 0 {
		return fmt.Errorf("protection: Curvature <= 0")
	}

	d := cfg.DefaultState
	if d.PaymentPeriodSeconds <= 0 {
		return fmt.Errorf("default_state: PaymentPeriodSeconds <= 0")
	}
	if d.PaymentGracePeriodSeconds <= 0 {
		return fmt.Errorf("default_state: PaymentGracePeriodSeconds <= 0")
	}
	if d.PaymentsRequiredForUnlock == 0 {
		return fmt.Errorf("default_state: PaymentsRequiredForUnlock == 0")
	}
	if d.MissedGracePeriodsForDefault <= 0 {
		return fmt.Errorf("default_state: MissedGracePeriodsForDefault <= 0")
	}

	if cfg.Assessment.IntervalSeconds <= 0 {
		return fmt.Errorf("assessment: IntervalSeconds <= 0")
	}
	return nil
}
