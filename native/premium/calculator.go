package premium

import "math/big"

// PoolParameters groups the pricing configuration of a protection pool. The
// struct is treated as an immutable value: every calculation receives it as an
// explicit argument so owner-driven parameter changes swap the whole value
// atomically rather than mutating shared state.
type PoolParameters struct {
	// Curve holds the leverage-ratio risk curve.
	Curve CurveParams
	// MinRiskPremiumRate is the minimum premium charged as an 18-decimal
	// fraction of the protection amount.
	MinRiskPremiumRate *big.Int
	// UnderlyingRiskPremiumRate scales the APR-and-duration-proportional
	// component compensating sellers for the underlying yield at risk.
	UnderlyingRiskPremiumRate *big.Int
	// MinRequiredCapital is the seller capital below which the leverage
	// ratio is treated as zero for pricing.
	MinRequiredCapital *big.Int
	// MinRequiredProtection is the outstanding protection below which the
	// leverage ratio is treated as zero for pricing.
	MinRequiredProtection *big.Int
}

// Clone returns a deep copy of the pool parameters.
func (p PoolParameters) Clone() PoolParameters {
	clone := PoolParameters{Curve: p.Curve.Clone()}
	if p.MinRiskPremiumRate != nil {
		clone.MinRiskPremiumRate = new(big.Int).Set(p.MinRiskPremiumRate)
	}
	if p.UnderlyingRiskPremiumRate != nil {
		clone.UnderlyingRiskPremiumRate = new(big.Int).Set(p.UnderlyingRiskPremiumRate)
	}
	if p.MinRequiredCapital != nil {
		clone.MinRequiredCapital = new(big.Int).Set(p.MinRequiredCapital)
	}
	if p.MinRequiredProtection != nil {
		clone.MinRequiredProtection = new(big.Int).Set(p.MinRequiredProtection)
	}
	return clone
}

// CalculatePremium quotes the upfront premium for a protection purchase. The
// quote is the sum of a leverage-driven risk component and an APR-scaled
// underlying component, floored at the configured minimum premium. The second
// return value reports whether the floor applied.
//
// The function is total: any leverage ratio outside the computable band, or a
// pool below its capital/protection minimums, degrades to the minimum premium
// instead of failing.
func CalculatePremium(durationSeconds int64, protectionAmount, protectionBuyerAPR, currentLeverageRatio, totalCapital, totalProtection *big.Int, params PoolParameters) (*big.Int, bool) {
	if protectionAmount == nil || protectionAmount.Sign() <= 0 || durationSeconds <= 0 {
		return big.NewInt(0), true
	}

	amount := ratFromWad(protectionAmount)
	years := new(big.Rat).SetFrac(big.NewInt(durationSeconds), big.NewInt(1))
	years.Quo(years, secondsPerYear)

	// Underlying component: protectionAmount * APR * duration, scaled by the
	// configured underlying risk premium rate.
	underlying := new(big.Rat).Mul(amount, ratFromWad(protectionBuyerAPR))
	underlying.Mul(underlying, years)
	underlying.Mul(underlying, ratFromWad(params.UnderlyingRiskPremiumRate))

	minimum := new(big.Rat).Mul(amount, ratFromWad(params.MinRiskPremiumRate))
	minimum.Add(minimum, underlying)

	if !CanCalculateRiskFactor(totalCapital, totalProtection, params.MinRequiredCapital, params.MinRequiredProtection, currentLeverageRatio, params.Curve) {
		return wadFromRat(minimum), true
	}

	riskFactor := RiskFactor(currentLeverageRatio, params.Curve)
	if riskFactor.Sign() <= 0 {
		return wadFromRat(minimum), true
	}

	power := new(big.Rat).Mul(riskFactor, years)
	riskRate := new(big.Rat).Sub(big.NewRat(1, 1), expNeg(power))

	quoted := new(big.Rat).Mul(amount, riskRate)
	quoted.Add(quoted, underlying)

	if quoted.Cmp(minimum) < 0 {
		return wadFromRat(minimum), true
	}
	return wadFromRat(quoted), false
}
