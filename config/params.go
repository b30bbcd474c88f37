package config

import (
	"fmt"
	"math/big"

	"covernet/native/defaultstate"
	"covernet/native/premium"
	"covernet/native/protection"
)

var wadScale = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// parseWad converts a decimal string ("0.10") into an 18-decimal fixed-point
// integer, truncating anything below the grid.
func parseWad(value string) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(value)
	if !ok {
		return nil, fmt.Errorf("invalid decimal value %q", value)
	}
	rat.Mul(rat, wadScale)
	return new(big.Int).Quo(rat.Num(), rat.Denom()), nil
}

// parseAmount converts a wei string into a big integer.
func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	return amount, nil
}

// PoolParameters parses the protection section into the engine's pricing
// configuration.
func (p Protection) PoolParameters() (premium.PoolParameters, error) {
	params := premium.PoolParameters{}
	var err error
	if params.Curve.LeverageRatioFloor, err = parseWad(p.LeverageRatioFloor); err != nil {
		return params, fmt.Errorf("protection.LeverageRatioFloor: %w", err)
	}
	if params.Curve.LeverageRatioCeiling, err = parseWad(p.LeverageRatioCeiling); err != nil {
		return params, fmt.Errorf("protection.LeverageRatioCeiling: %w", err)
	}
	if params.Curve.LeverageRatioBuffer, err = parseWad(p.LeverageRatioBuffer); err != nil {
		return params, fmt.Errorf("protection.LeverageRatioBuffer: %w", err)
	}
	if params.Curve.Curvature, err = parseWad(p.Curvature); err != nil {
		return params, fmt.Errorf("protection.Curvature: %w", err)
	}
	if params.MinRiskPremiumRate, err = parseWad(p.MinRiskPremiumRate); err != nil {
		return params, fmt.Errorf("protection.MinRiskPremiumRate: %w", err)
	}
	if params.UnderlyingRiskPremiumRate, err = parseWad(p.UnderlyingRiskPremiumRate); err != nil {
		return params, fmt.Errorf("protection.UnderlyingRiskPremiumRate: %w", err)
	}
	if params.MinRequiredCapital, err = parseAmount(p.MinRequiredCapital); err != nil {
		return params, fmt.Errorf("protection.MinRequiredCapital: %w", err)
	}
	if params.MinRequiredProtection, err = parseAmount(p.MinRequiredProtection); err != nil {
		return params, fmt.Errorf("protection.MinRequiredProtection: %w", err)
	}
	return params, nil
}

// EngineConfig converts the protection section into the engine's cycle
// configuration.
func (p Protection) EngineConfig() protection.Config {
	return protection.Config{
		PoolCycleSeconds:             p.PoolCycleSeconds,
		MinProtectionDurationSeconds: p.MinProtectionDurationSeconds,
		RenewalGracePeriodSeconds:    p.RenewalGracePeriodSeconds,
	}
}

// ManagerConfig converts the default-state section into the manager's
// configuration.
func (d DefaultState) ManagerConfig() defaultstate.Config {
	return defaultstate.Config{
		PaymentPeriodSeconds:         d.PaymentPeriodSeconds,
		PaymentGracePeriodSeconds:    d.PaymentGracePeriodSeconds,
		PaymentsRequiredForUnlock:    d.PaymentsRequiredForUnlock,
		MissedGracePeriodsForDefault: d.MissedGracePeriodsForDefault,
	}
}
