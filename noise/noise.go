// Package noise perturbs recurring payment amounts so they do not repeat
// exactly, while steering the accumulated deviation back to zero.
//
// For an amount a and a percent p the noise bound is m = a·p/100. Every
// payment moves by f·m, with
//
//	b = -0.5·clamp(cumulative/m, -1, 1)
//	f = b + u·(1-|b|),  u uniform in [-1, 1]
//
// so the draw leans against the deviation already paid, and a constant
// amount never drifts more than m away from its nominal total.
package noise

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vocdoni/shieldpay/types"
	"github.com/vocdoni/shieldpay/util"
)

// MaxPercent is the largest accepted noise percent.
const MaxPercent = 20

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
	half    = decimal.NewFromFloat(0.5)
)

// Result is a noised amount and the deviation it adds to the nominal one.
type Result struct {
	Amount decimal.Decimal `json:"amount"`
	Delta  decimal.Decimal `json:"delta"`
}

// State is the running deviation of a recurring payment.
type State struct {
	Cumulative  decimal.Decimal `json:"cumulative"`
	LastApplied decimal.Decimal `json:"lastApplied"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewState returns an empty state.
func NewState() State {
	return State{Timestamp: time.Now()}
}

// UpdateState accounts an applied delta.
func UpdateState(s State, delta decimal.Decimal) State {
	return State{
		Cumulative:  s.Cumulative.Add(delta),
		LastApplied: delta,
		Timestamp:   time.Now(),
	}
}

// Adjuster draws noise from its own random source. It is safe for
// concurrent use.
type Adjuster struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewAdjuster returns an adjuster over rng.
func NewAdjuster(rng *rand.Rand) *Adjuster {
	return &Adjuster{rng: rng}
}

var defaultAdjuster = NewAdjuster(util.NewRand())

// unit returns u uniform in [-1, 1].
func (a *Adjuster) unit() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return decimal.NewFromFloat(a.rng.Float64()*2 - 1)
}

// ApplyAmountNoise returns amount moved by a random deviation of at most
// noisePercent percent. cumulative is the deviation already applied to
// previous payments. remainingPayments is the number of payments left
// including this one, 1 cancels cumulative as far as the bound allows and
// 0 or less means unknown.
func (a *Adjuster) ApplyAmountNoise(amount decimal.Decimal, noisePercent float64,
	cumulative decimal.Decimal, remainingPayments int,
) Result {
	p := clampPercent(noisePercent)
	if p.IsZero() || !amount.IsPositive() {
		return Result{Amount: amount, Delta: decimal.Zero}
	}
	maxNoise := amount.Mul(p).Div(hundred)

	var delta decimal.Decimal
	if remainingPayments == 1 {
		delta = clamp(cumulative.Neg(), maxNoise.Neg(), maxNoise)
	} else {
		b := clamp(cumulative.Div(maxNoise), one.Neg(), one).Mul(half).Neg()
		f := b.Add(a.unit().Mul(one.Sub(b.Abs())))
		delta = f.Mul(maxNoise)
	}

	noised := clampToUnit(amount.Add(delta), amount.Sub(maxNoise), amount.Add(maxNoise))
	return Result{Amount: noised, Delta: noised.Sub(amount)}
}

// ApplyAmountNoise uses a crypto seeded source.
func ApplyAmountNoise(amount decimal.Decimal, noisePercent float64,
	cumulative decimal.Decimal, remainingPayments int,
) Result {
	return defaultAdjuster.ApplyAmountNoise(amount, noisePercent, cumulative, remainingPayments)
}

// CalculateFinalPaymentAdjustment returns the amount of the last payment of
// a series so the total reaches expectedTotal, bounded to the noise range
// of the nominal payment and never negative.
func CalculateFinalPaymentAdjustment(expectedTotal, paidSoFar, nominalFinal decimal.Decimal,
	noisePercent float64,
) decimal.Decimal {
	p := clampPercent(noisePercent).Div(hundred)
	gap := expectedTotal.Sub(paidSoFar)
	low := nominalFinal.Mul(one.Sub(p))
	high := nominalFinal.Mul(one.Add(p))
	return clampToUnit(gap, low, high)
}

// clampToUnit rounds v to the smallest on-chain unit inside [low, high],
// with low floored at zero. The bounds are rounded inward so the result
// never leaves the range. If no unit value fits in it, the first unit above
// low is returned.
func clampToUnit(v, low, high decimal.Decimal) decimal.Decimal {
	low = decimal.Max(low, decimal.Zero).RoundCeil(types.Decimals)
	high = high.RoundFloor(types.Decimals)
	if low.GreaterThan(high) {
		return low
	}
	return clamp(types.RoundToUnit(v), low, high)
}

func clampPercent(p float64) decimal.Decimal {
	return clamp(decimal.NewFromFloat(p), decimal.Zero, decimal.NewFromInt(MaxPercent))
}

func clamp(v, low, high decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(v, low), high)
}
