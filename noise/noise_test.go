package noise

import (
	"math/rand/v2"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/shopspring/decimal"
)

func newTestAdjuster() *Adjuster {
	return NewAdjuster(rand.New(rand.NewPCG(1, 2)))
}

var tolerance = decimal.New(1, -6)

func TestApplyAmountNoiseDisabled(t *testing.T) {
	c := qt.New(t)
	a := newTestAdjuster()
	amount := decimal.RequireFromString("1.5")

	for _, p := range []float64{0, -3} {
		r := a.ApplyAmountNoise(amount, p, decimal.Zero, 0)
		c.Assert(r.Amount.Equal(amount), qt.IsTrue)
		c.Assert(r.Delta.IsZero(), qt.IsTrue)
	}
	for _, amt := range []string{"0", "-2"} {
		v := decimal.RequireFromString(amt)
		r := a.ApplyAmountNoise(v, 10, decimal.Zero, 0)
		c.Assert(r.Amount.Equal(v), qt.IsTrue)
		c.Assert(r.Delta.IsZero(), qt.IsTrue)
	}
}

func TestApplyAmountNoiseBounds(t *testing.T) {
	c := qt.New(t)
	a := newTestAdjuster()
	amount := decimal.NewFromInt(1)
	// 50% is clamped to 20%
	maxNoise := decimal.RequireFromString("0.2")

	for i := 0; i < 1000; i++ {
		r := a.ApplyAmountNoise(amount, 50, decimal.Zero, 0)
		c.Assert(r.Delta.Abs().LessThanOrEqual(maxNoise), qt.IsTrue, qt.Commentf("delta %s", r.Delta))
		c.Assert(r.Amount.Equal(amount.Add(r.Delta)), qt.IsTrue)
		// nine decimals at most
		c.Assert(r.Amount.Equal(r.Amount.Round(9)), qt.IsTrue)
	}
}

func TestApplyAmountNoiseSubUnitBounds(t *testing.T) {
	c := qt.New(t)
	a := newTestAdjuster()
	// more decimals than the smallest on-chain unit
	amount := decimal.RequireFromString("1.00000000045")
	low := decimal.RequireFromString("0.900000000405")
	high := decimal.RequireFromString("1.100000000495")

	for i := 0; i < 1000; i++ {
		r := a.ApplyAmountNoise(amount, 10, decimal.Zero, 0)
		c.Assert(r.Amount.GreaterThanOrEqual(low), qt.IsTrue, qt.Commentf("amount %s", r.Amount))
		c.Assert(r.Amount.LessThanOrEqual(high), qt.IsTrue, qt.Commentf("amount %s", r.Amount))
		c.Assert(r.Amount.Equal(r.Amount.Round(9)), qt.IsTrue)
	}
	// cancelling a large deviation lands on the bound, not beyond it
	r := a.ApplyAmountNoise(amount, 10, decimal.NewFromInt(-5), 1)
	c.Assert(r.Amount.Equal(decimal.RequireFromString("1.1")), qt.IsTrue, qt.Commentf("amount %s", r.Amount))
}

func TestApplyAmountNoiseUnbiased(t *testing.T) {
	c := qt.New(t)
	a := newTestAdjuster()
	amount := decimal.NewFromInt(10)

	sum := decimal.Zero
	n := 5000
	for i := 0; i < n; i++ {
		sum = sum.Add(a.ApplyAmountNoise(amount, 10, decimal.Zero, 0).Delta)
	}
	// the bound is 1, the mean of a uniform draw in [-1, 1] is 0 and its
	// standard error over 5000 draws is about 0.008
	mean := sum.Div(decimal.NewFromInt(int64(n)))
	c.Assert(mean.Abs().LessThan(decimal.RequireFromString("0.05")), qt.IsTrue, qt.Commentf("mean %s", mean))
}

func TestApplyAmountNoiseLeansAgainstDeviation(t *testing.T) {
	c := qt.New(t)
	a := newTestAdjuster()
	amount := decimal.NewFromInt(1)
	maxNoise := decimal.RequireFromString("0.1")

	// saturated positive deviation: every draw is non positive
	for i := 0; i < 500; i++ {
		r := a.ApplyAmountNoise(amount, 10, decimal.NewFromInt(5), 0)
		c.Assert(r.Delta.LessThanOrEqual(decimal.Zero), qt.IsTrue)
		c.Assert(r.Delta.GreaterThanOrEqual(maxNoise.Neg()), qt.IsTrue)
	}
	// and the other way around
	for i := 0; i < 500; i++ {
		r := a.ApplyAmountNoise(amount, 10, decimal.NewFromInt(-5), 0)
		c.Assert(r.Delta.GreaterThanOrEqual(decimal.Zero), qt.IsTrue)
	}
}

func TestApplyAmountNoiseLongRun(t *testing.T) {
	c := qt.New(t)
	a := newTestAdjuster()
	amount := decimal.RequireFromString("0.25")
	maxNoise := amount.Mul(decimal.NewFromInt(15)).Div(decimal.NewFromInt(100))

	state := NewState()
	for i := 0; i < 2000; i++ {
		r := a.ApplyAmountNoise(amount, 15, state.Cumulative, 0)
		state = UpdateState(state, r.Delta)
		c.Assert(state.LastApplied.Equal(r.Delta), qt.IsTrue)
		c.Assert(state.Cumulative.Abs().LessThanOrEqual(maxNoise.Add(tolerance)), qt.IsTrue,
			qt.Commentf("payment %d cumulative %s", i, state.Cumulative))
	}
}

func TestApplyAmountNoiseLastPayment(t *testing.T) {
	c := qt.New(t)
	a := newTestAdjuster()
	amount := decimal.NewFromInt(1)

	r := a.ApplyAmountNoise(amount, 5, decimal.RequireFromString("0.03"), 1)
	c.Assert(r.Delta.String(), qt.Equals, "-0.03")
	c.Assert(r.Amount.String(), qt.Equals, "0.97")

	// beyond the bound only the bound is corrected
	r = a.ApplyAmountNoise(amount, 5, decimal.RequireFromString("-0.2"), 1)
	c.Assert(r.Delta.String(), qt.Equals, "0.05")
}

func TestApplyAmountNoiseFloorsAtZero(t *testing.T) {
	c := qt.New(t)
	a := newTestAdjuster()
	for i := 0; i < 200; i++ {
		r := a.ApplyAmountNoise(decimal.RequireFromString("0.000000001"), 20, decimal.Zero, 0)
		c.Assert(r.Amount.IsNegative(), qt.IsFalse)
	}
}

func TestSeededAdjusterIsReproducible(t *testing.T) {
	c := qt.New(t)
	a, b := newTestAdjuster(), newTestAdjuster()
	amount := decimal.NewFromInt(3)
	for i := 0; i < 20; i++ {
		ra := a.ApplyAmountNoise(amount, 10, decimal.Zero, 0)
		rb := b.ApplyAmountNoise(amount, 10, decimal.Zero, 0)
		c.Assert(ra.Amount.Equal(rb.Amount), qt.IsTrue)
	}
}

func TestCalculateFinalPaymentAdjustment(t *testing.T) {
	c := qt.New(t)
	d := decimal.RequireFromString
	tests := []struct {
		name                    string
		expected, paid, nominal string
		percent                 float64
		want                    string
	}{
		{"exact gap", "10", "9.05", "1", 10, "0.95"},
		{"gap above bound", "10", "8", "1", 10, "1.1"},
		{"gap below bound", "10", "9.5", "1", 10, "0.9"},
		{"percent clamped", "10", "8", "1", 90, "1.2"},
		{"overpaid zero nominal", "10", "11", "0", 10, "0"},
		{"upper bound rounded inward", "10", "8", "1.00000000045", 10, "1.1"},
		{"lower bound rounded inward", "10", "9.5", "1.00000000045", 10, "0.900000001"},
	}
	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			got := CalculateFinalPaymentAdjustment(d(tt.expected), d(tt.paid), d(tt.nominal), tt.percent)
			c.Assert(got.Equal(d(tt.want)), qt.IsTrue, qt.Commentf("got %s", got))
		})
	}
}

func TestPackageLevelNoise(t *testing.T) {
	c := qt.New(t)
	amount := decimal.NewFromInt(2)
	r := ApplyAmountNoise(amount, 10, decimal.Zero, 0)
	c.Assert(r.Delta.Abs().LessThanOrEqual(decimal.RequireFromString("0.2")), qt.IsTrue)
}
