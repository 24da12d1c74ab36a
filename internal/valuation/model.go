package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

// Volatility bands in percentage points per period.
const (
	VolatilityLow    = 0.5
	VolatilityMedium = 1.0
	VolatilityHigh   = 2.0
)

// ShockAmplitude is the full width of the shock band: shocks are drawn
// uniformly from [-25%, +25%].
const ShockAmplitude = 50.0

// DefaultShockProbability is the chance of a shock for a position that is
// not shock-prone.
const DefaultShockProbability = 0.05

var hundred = decimal.NewFromInt(100)

// Volatility returns the band width for a risk level. Unknown levels fall
// back to Medium.
func Volatility(risk domain.RiskLevel) float64 {
	switch risk {
	case domain.RiskLow:
		return VolatilityLow
	case domain.RiskHigh:
		return VolatilityHigh
	default:
		return VolatilityMedium
	}
}

// Perturbation draws one value uniformly from [-vol/2, +vol/2).
func Perturbation(src Source, vol float64) float64 {
	return (src.Float64() - 0.5) * vol
}

// Round2 rounds to currency precision, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ApplyReturn grows value by pct percent, rounds to 2 decimals and floors the
// result at zero.
func ApplyReturn(value decimal.Decimal, pct float64) decimal.Decimal {
	factor := decimal.NewFromFloat(pct).Div(hundred).Add(decimal.NewFromInt(1))
	next := Round2(value.Mul(factor))
	if next.IsNegative() {
		return decimal.Zero
	}
	return next
}

// DailyDrift spreads a whole-duration expected return over the position's
// lifetime in days.
func DailyDrift(expectedReturnPercent float64, durationMonths int) float64 {
	days := durationMonths * domain.DaysPerMonth
	if days < 1 {
		days = 1
	}
	return expectedReturnPercent / float64(days)
}

// ShockPercent draws a shock size uniformly from [-25%, +25%).
func ShockPercent(src Source) float64 {
	return (src.Float64() - 0.5) * ShockAmplitude
}

// ApplyShock applies a shock of pct percent. Same rounding and floor as
// ApplyReturn.
func ApplyShock(value decimal.Decimal, pct float64) decimal.Decimal {
	return ApplyReturn(value, pct)
}

// StepResult is the outcome of advancing a value by one settlement step.
type StepResult struct {
	Next            decimal.Decimal
	EffectiveReturn float64 // drift + perturbation, percent
	Shocked         bool
	ShockPercent    float64
}

// Step advances value by one day for the given position.
//
// Draw order is fixed: perturbation, then (only for positions that are not
// shock-prone) the shock chance, then the shock size when a shock fires.
// At most one shock is applied per step.
func Step(value decimal.Decimal, pos domain.Position, src Source, shockProbability float64) StepResult {
	drift := DailyDrift(pos.ExpectedReturnPercent, pos.DurationMonths)
	eff := drift + Perturbation(src, Volatility(pos.RiskLevel))

	res := StepResult{
		Next:            ApplyReturn(value, eff),
		EffectiveReturn: eff,
	}

	if pos.ShockProne || src.Float64() < shockProbability {
		res.Shocked = true
		res.ShockPercent = ShockPercent(src)
		res.Next = ApplyShock(res.Next, res.ShockPercent)
	}
	return res
}
