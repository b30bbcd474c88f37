package premium

import "math/big"

// CurveParams groups the leverage-ratio curve configuration. All values are
// 18-decimal fixed-point integers.
type CurveParams struct {
	// LeverageRatioFloor is the leverage ratio below which buyers pay the
	// highest risk premium.
	LeverageRatioFloor *big.Int
	// LeverageRatioCeiling is the leverage ratio above which new deposits are
	// rejected and buyers pay the lowest risk premium.
	LeverageRatioCeiling *big.Int
	// LeverageRatioBuffer widens the curve past floor and ceiling so the risk
	// factor stays finite when the ratio drifts slightly out of band.
	LeverageRatioBuffer *big.Int
	// Curvature scales how steeply the risk factor reacts to leverage moves.
	Curvature *big.Int
}

// Clone returns a deep copy of the curve parameters.
func (p CurveParams) Clone() CurveParams {
	clone := CurveParams{}
	if p.LeverageRatioFloor != nil {
		clone.LeverageRatioFloor = new(big.Int).Set(p.LeverageRatioFloor)
	}
	if p.LeverageRatioCeiling != nil {
		clone.LeverageRatioCeiling = new(big.Int).Set(p.LeverageRatioCeiling)
	}
	if p.LeverageRatioBuffer != nil {
		clone.LeverageRatioBuffer = new(big.Int).Set(p.LeverageRatioBuffer)
	}
	if p.Curvature != nil {
		clone.Curvature = new(big.Int).Set(p.Curvature)
	}
	return clone
}

// minDenominator clamps the risk-factor denominator at 1e-18. The denominator
// L - floor + buffer only reaches zero when the leverage ratio falls a full
// buffer below the floor, which admission checks keep callers away from; the
// clamp makes the curve total instead of propagating a division by zero.
var minDenominator = new(big.Rat).SetFrac(big.NewInt(1), mustBigInt("1000000000000000000"))

// RiskFactor maps the current leverage ratio onto a dimensionless risk
// multiplier. The factor decreases as the ratio rises toward the ceiling and
// increases as it falls toward the floor; it turns negative once the ratio
// exceeds ceiling + buffer.
func RiskFactor(currentLeverageRatio *big.Int, params CurveParams) *big.Rat {
	l := ratFromWad(currentLeverageRatio)
	floor := ratFromWad(params.LeverageRatioFloor)
	ceiling := ratFromWad(params.LeverageRatioCeiling)
	buffer := ratFromWad(params.LeverageRatioBuffer)
	curvature := ratFromWad(params.Curvature)

	numerator := new(big.Rat).Add(ceiling, buffer)
	numerator.Sub(numerator, l)

	denominator := new(big.Rat).Sub(l, floor)
	denominator.Add(denominator, buffer)
	if denominator.Cmp(minDenominator) < 0 {
		denominator.Set(minDenominator)
	}

	factor := new(big.Rat).Mul(curvature, numerator)
	return factor.Quo(factor, denominator)
}

// CanCalculateRiskFactor reports whether the pool state supports a meaningful
// risk factor. Until the pool reaches its configured capital and protection
// minimums the leverage ratio is treated as zero, and ratios outside the
// buffered floor/ceiling band fall back to the minimum-premium path.
func CanCalculateRiskFactor(totalCapital, totalProtection, minRequiredCapital, minRequiredProtection, currentLeverageRatio *big.Int, params CurveParams) bool {
	if totalCapital == nil || minRequiredCapital == nil || totalCapital.Cmp(minRequiredCapital) < 0 {
		return false
	}
	if totalProtection == nil || minRequiredProtection == nil || totalProtection.Cmp(minRequiredProtection) < 0 {
		return false
	}
	l := ratFromWad(currentLeverageRatio)
	floor := ratFromWad(params.LeverageRatioFloor)
	ceiling := ratFromWad(params.LeverageRatioCeiling)
	buffer := ratFromWad(params.LeverageRatioBuffer)

	lower := new(big.Rat).Sub(floor, buffer)
	upper := new(big.Rat).Add(ceiling, buffer)
	return l.Cmp(lower) > 0 && l.Cmp(upper) < 0
}
