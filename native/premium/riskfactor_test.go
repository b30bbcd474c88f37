package premium

import (
	"math/big"
	"testing"
)

func TestRiskFactorMonotonicallyDecreases(t *testing.T) {
	curve := scenarioCurve(t)

	step := wadFromFloatStr(t, "0.005")
	leverage := wadFromFloatStr(t, "0.06")
	upper := wadFromFloatStr(t, "0.24")

	prev := RiskFactor(leverage, curve)
	for {
		leverage = new(big.Int).Add(leverage, step)
		if leverage.Cmp(upper) > 0 {
			break
		}
		current := RiskFactor(leverage, curve)
		if current.Cmp(prev) >= 0 {
			t.Fatalf("risk factor not strictly decreasing at leverage %s: %s >= %s", leverage, current, prev)
		}
		prev = current
	}
}

func TestRiskFactorSignAroundBufferedCeiling(t *testing.T) {
	curve := scenarioCurve(t)

	below := RiskFactor(wadFromFloatStr(t, "0.14"), curve)
	if below.Sign() <= 0 {
		t.Fatalf("expected positive risk factor inside band, got %s", below)
	}

	at := RiskFactor(wadFromFloatStr(t, "0.25"), curve)
	if at.Sign() != 0 {
		t.Fatalf("expected zero risk factor at ceiling+buffer, got %s", at)
	}

	above := RiskFactor(wadFromFloatStr(t, "0.26"), curve)
	if above.Sign() >= 0 {
		t.Fatalf("expected negative risk factor past ceiling+buffer, got %s", above)
	}
}

func TestRiskFactorFiniteAtDenominatorBoundary(t *testing.T) {
	curve := scenarioCurve(t)

	// Leverage a full buffer below the floor drives the denominator to zero;
	// the clamp keeps the factor finite rather than dividing by zero.
	boundary := RiskFactor(wadFromFloatStr(t, "0.05"), curve)
	if boundary.Sign() <= 0 {
		t.Fatalf("expected positive clamped risk factor, got %s", boundary)
	}
	inside := RiskFactor(wadFromFloatStr(t, "0.0500001"), curve)
	if inside.Sign() <= 0 {
		t.Fatalf("expected positive risk factor just inside band, got %s", inside)
	}
}

func TestCanCalculateRiskFactor(t *testing.T) {
	curve := scenarioCurve(t)
	minCapital := wadFromFloatStr(t, "100000")
	minProtection := wadFromFloatStr(t, "500000")
	capital := wadFromFloatStr(t, "140000")
	protection := wadFromFloatStr(t, "1000000")

	cases := []struct {
		name       string
		capital    *big.Int
		protection *big.Int
		leverage   *big.Int
		want       bool
	}{
		{"inside band", capital, protection, wadFromFloatStr(t, "0.14"), true},
		{"capital below minimum", wadFromFloatStr(t, "99999"), protection, wadFromFloatStr(t, "0.14"), false},
		{"protection below minimum", capital, wadFromFloatStr(t, "1"), wadFromFloatStr(t, "0.14"), false},
		{"leverage at buffered floor", capital, protection, wadFromFloatStr(t, "0.05"), false},
		{"leverage at buffered ceiling", capital, protection, wadFromFloatStr(t, "0.25"), false},
		{"nil capital", nil, protection, wadFromFloatStr(t, "0.14"), false},
	}
	for _, tc := range cases {
		got := CanCalculateRiskFactor(tc.capital, tc.protection, minCapital, minProtection, tc.leverage, curve)
		if got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}
