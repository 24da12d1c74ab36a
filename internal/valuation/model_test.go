package valuation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

func TestVolatility(t *testing.T) {
	assert.Equal(t, 0.5, Volatility(domain.RiskLow))
	assert.Equal(t, 1.0, Volatility(domain.RiskMedium))
	assert.Equal(t, 2.0, Volatility(domain.RiskHigh))
	assert.Equal(t, 1.0, Volatility(domain.RiskLevel("unknown")))
}

func TestPerturbation_Bounds(t *testing.T) {
	assert.Equal(t, -1.0, Perturbation(FixedSource(0), 2))
	assert.Zero(t, Perturbation(Midpoint, 2))
	assert.InDelta(t, 1.0, Perturbation(FixedSource(0.999999), 2), 1e-5)
}

func TestApplyReturn(t *testing.T) {
	v := decimal.RequireFromString("100.00")
	assert.True(t, ApplyReturn(v, 1).Equal(decimal.RequireFromString("101")))
	assert.True(t, ApplyReturn(v, -100).IsZero())
	assert.True(t, ApplyReturn(v, -250).IsZero(), "floored at zero")

	// 100.005 rounds away from zero
	assert.Equal(t, "100.01", ApplyReturn(decimal.RequireFromString("100"), 0.005).StringFixed(2))
}

func TestDailyDrift(t *testing.T) {
	assert.InDelta(t, 12.0/360, DailyDrift(12, 12), 1e-12)
	assert.Equal(t, 5.0, DailyDrift(5, 0))
}

func TestStep_NoShock(t *testing.T) {
	pos := domain.Position{ExpectedReturnPercent: 30, DurationMonths: 1, RiskLevel: domain.RiskMedium}
	// perturbation draw 0.5, shock-chance draw 0.5 (above 0.05)
	res := Step(decimal.NewFromInt(1000), pos, Midpoint, DefaultShockProbability)
	assert.False(t, res.Shocked)
	assert.Equal(t, 1.0, res.EffectiveReturn)
	assert.True(t, res.Next.Equal(decimal.NewFromInt(1010)))
}

func TestStep_ShockFromChance(t *testing.T) {
	pos := domain.Position{ExpectedReturnPercent: 0, DurationMonths: 1, RiskLevel: domain.RiskLow}
	// perturbation 0.5 -> 0, chance 0.01 -> shock, size 0.0 -> -25%
	src := NewSequenceSource(0.5, 0.01, 0.0)
	res := Step(decimal.NewFromInt(1000), pos, src, DefaultShockProbability)
	assert.True(t, res.Shocked)
	assert.Equal(t, -25.0, res.ShockPercent)
	assert.True(t, res.Next.Equal(decimal.NewFromInt(750)))
}

func TestStep_ShockProneSkipsChanceDraw(t *testing.T) {
	pos := domain.Position{ExpectedReturnPercent: 0, DurationMonths: 1, RiskLevel: domain.RiskLow, ShockProne: true}
	// perturbation 0.5, then straight to size 0.7 -> +10%
	src := NewSequenceSource(0.5, 0.7)
	res := Step(decimal.NewFromInt(1000), pos, src, DefaultShockProbability)
	assert.True(t, res.Shocked)
	assert.InDelta(t, 10.0, res.ShockPercent, 1e-9)
	assert.True(t, res.Next.Equal(decimal.NewFromInt(1100)))
}

func TestSequenceSource_Wraps(t *testing.T) {
	s := NewSequenceSource(0.1, 0.2)
	assert.Equal(t, 0.1, s.Float64())
	assert.Equal(t, 0.2, s.Float64())
	assert.Equal(t, 0.1, s.Float64())
	assert.Panics(t, func() { NewSequenceSource() })
}

func TestEntropySource_Range(t *testing.T) {
	src := NewEntropySource()
	for range 1000 {
		u := src.Float64()
		assert.GreaterOrEqual(t, u, 0.0)
		assert.Less(t, u, 1.0)
	}
}
