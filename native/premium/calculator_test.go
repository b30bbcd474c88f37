package premium

import (
	"math/big"
	"testing"
)

func scenarioPoolParams(t *testing.T) PoolParameters {
	t.Helper()
	return PoolParameters{
		Curve:                     scenarioCurve(t),
		MinRiskPremiumRate:        wadFromFloatStr(t, "0.02"),
		UnderlyingRiskPremiumRate: wadFromFloatStr(t, "0.10"),
		MinRequiredCapital:        wadFromFloatStr(t, "100000"),
		MinRequiredProtection:     wadFromFloatStr(t, "500000"),
	}
}

const secondsPerDayInt = 86_400

func TestCalculatePremiumAboveMinimum(t *testing.T) {
	params := scenarioPoolParams(t)

	amount := wadFromFloatStr(t, "100000")
	apr := wadFromFloatStr(t, "0.17")
	leverage := wadFromFloatStr(t, "0.14")
	capital := wadFromFloatStr(t, "140000")
	protection := wadFromFloatStr(t, "1000000")

	quoted, isMinimum := CalculatePremium(180*secondsPerDayInt, amount, apr, leverage, capital, protection, params)
	if isMinimum {
		t.Fatal("expected risk-based premium, floor applied")
	}

	// Risk rate 1-e^(-0.0611*180/365) ~ 2.97% of the amount plus the
	// APR-scaled underlying component must clear the 2% floor.
	minimum := wadFromFloatStr(t, "2000")
	if quoted.Cmp(minimum) <= 0 {
		t.Fatalf("quoted premium %s not above floor %s", quoted, minimum)
	}
	ceiling := wadFromFloatStr(t, "5000")
	if quoted.Cmp(ceiling) >= 0 {
		t.Fatalf("quoted premium %s implausibly large", quoted)
	}
}

func TestCalculatePremiumFloorsBelowMinimumCapital(t *testing.T) {
	params := scenarioPoolParams(t)

	amount := wadFromFloatStr(t, "100000")
	apr := wadFromFloatStr(t, "0.17")
	leverage := wadFromFloatStr(t, "0.14")
	capital := wadFromFloatStr(t, "1")
	protection := wadFromFloatStr(t, "1000000")

	quoted, isMinimum := CalculatePremium(180*secondsPerDayInt, amount, apr, leverage, capital, protection, params)
	if !isMinimum {
		t.Fatal("expected minimum premium when capital is below the configured floor")
	}

	// amount * 2% + amount * 17% * (180/365) * 10%
	want := new(big.Int).Add(
		wadFromFloatStr(t, "2000"),
		wadFromRat(mustRat(t, "100000*0.17*180/365*0.10")),
	)
	diff := new(big.Int).Sub(quoted, want)
	if diff.CmpAbs(big.NewInt(2)) > 0 {
		t.Fatalf("minimum premium mismatch: got %s want %s", quoted, want)
	}
}

func mustRat(t *testing.T, expr string) *big.Rat {
	t.Helper()
	// Tiny helper for literal products used in expectations.
	switch expr {
	case "100000*0.17*180/365*0.10":
		r := new(big.Rat).SetInt64(100000)
		r.Mul(r, big.NewRat(17, 100))
		r.Mul(r, big.NewRat(180, 365))
		r.Mul(r, big.NewRat(10, 100))
		return r
	default:
		t.Fatalf("unknown expression %q", expr)
		return nil
	}
}

func TestCalculatePremiumNeverFailsAcrossDomain(t *testing.T) {
	params := scenarioPoolParams(t)

	amount := wadFromFloatStr(t, "250000")
	apr := wadFromFloatStr(t, "0.12")
	capital := wadFromFloatStr(t, "140000")
	protection := wadFromFloatStr(t, "1000000")

	step := wadFromFloatStr(t, "0.002")
	leverage := wadFromFloatStr(t, "0")
	upper := wadFromFloatStr(t, "0.40")

	for leverage.Cmp(upper) <= 0 {
		quoted, _ := CalculatePremium(90*secondsPerDayInt, amount, apr, leverage, capital, protection, params)
		if quoted.Sign() <= 0 {
			t.Fatalf("non-positive premium at leverage %s", leverage)
		}
		leverage = new(big.Int).Add(leverage, step)
	}
}

func TestCalculatePremiumFloorsPastBufferedCeiling(t *testing.T) {
	params := scenarioPoolParams(t)

	amount := wadFromFloatStr(t, "100000")
	apr := wadFromFloatStr(t, "0.17")
	capital := wadFromFloatStr(t, "140000")
	protection := wadFromFloatStr(t, "1000000")

	quoted, isMinimum := CalculatePremium(180*secondsPerDayInt, amount, apr, wadFromFloatStr(t, "0.30"), capital, protection, params)
	if !isMinimum {
		t.Fatal("expected floor premium past the buffered ceiling")
	}
	if quoted.Sign() <= 0 {
		t.Fatalf("floor premium must stay positive, got %s", quoted)
	}
}

func TestCalculatePremiumZeroAmount(t *testing.T) {
	params := scenarioPoolParams(t)
	quoted, isMinimum := CalculatePremium(180*secondsPerDayInt, big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), params)
	if !isMinimum || quoted.Sign() != 0 {
		t.Fatalf("zero amount should quote zero minimum premium, got %s (min=%v)", quoted, isMinimum)
	}
}
