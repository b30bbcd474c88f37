package premium

import (
	"errors"
	"math/big"
)

var (
	errInvalidPremium  = errors.New("premium accrual: total premium must be positive")
	errInvalidDuration = errors.New("premium accrual: duration must be positive")
	errInvalidInterval = errors.New("premium accrual: interval must satisfy 0 <= t0 <= t1")
	errNilConstants    = errors.New("premium accrual: decay constants not derived")
)

// minLambda floors the per-day decay constant. When the risk factor collapses
// to zero or below (leverage at or past the buffered ceiling) the accrual
// curve degrades toward the linear limit of K*(1 - e^(-lambda*t)) instead of
// becoming undefined.
var minLambda = new(big.Rat).SetFrac(big.NewInt(1), mustBigInt("1000000000")) // 1e-9 per day

// CalculateKAndLambda derives the decay constants for a protection position so
// that the accrual curve f(t) = K * (1 - e^(-lambda*t)) reaches exactly
// totalPremium at the configured duration. Lambda encodes the risk factor at
// purchase time: higher risk front-loads the premium, lower risk spreads it.
//
// totalPremium and durationDays are 18-decimal fixed point (durationDays in
// days); the returned constants are exact rationals so any later interval
// evaluation reconciles bit-for-bit with the upfront quote.
func CalculateKAndLambda(totalPremium, durationDays, currentLeverageRatio *big.Int, params CurveParams) (*big.Rat, *big.Rat, error) {
	if totalPremium == nil || totalPremium.Sign() <= 0 {
		return nil, nil, errInvalidPremium
	}
	if durationDays == nil || durationDays.Sign() <= 0 {
		return nil, nil, errInvalidDuration
	}

	lambda := RiskFactor(currentLeverageRatio, params)
	lambda.Quo(lambda, daysPerYear)
	if lambda.Cmp(minLambda) < 0 {
		lambda = new(big.Rat).Set(minLambda)
	}

	power := new(big.Rat).Mul(lambda, ratFromWad(durationDays))
	decayed := expNeg(power)

	denominator := new(big.Rat).Sub(big.NewRat(1, 1), decayed)
	if denominator.Sign() <= 0 {
		// Unreachable with a positive lambda and duration; guard anyway so a
		// misconfigured curve cannot divide by zero.
		return nil, nil, errInvalidDuration
	}

	k := ratFromWad(totalPremium)
	k.Quo(k, denominator)
	return k, lambda, nil
}

// CalculateAccruedPremium evaluates the premium accrued over [t0, t1) in
// closed form. Both bounds are 18-decimal fixed-point days since purchase.
// Summing the result over any partition of [0, duration] telescopes back to
// the exact total premium used to derive K and lambda.
func CalculateAccruedPremium(k, lambda *big.Rat, t0, t1 *big.Int) (*big.Int, error) {
	if k == nil || lambda == nil {
		return nil, errNilConstants
	}
	if t0 == nil || t1 == nil || t0.Sign() < 0 || t0.Cmp(t1) > 0 {
		return nil, errInvalidInterval
	}
	accrued := new(big.Rat).Sub(curvePoint(k, lambda, t1), curvePoint(k, lambda, t0))
	return wadFromRat(accrued), nil
}

// curvePoint returns f(t) = K * (1 - e^(-lambda*t)) as an exact rational.
func curvePoint(k, lambda *big.Rat, t *big.Int) *big.Rat {
	power := new(big.Rat).Mul(lambda, ratFromWad(t))
	point := new(big.Rat).Sub(big.NewRat(1, 1), expNeg(power))
	return point.Mul(point, k)
}
