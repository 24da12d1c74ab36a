package valuation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

func TestProject_DriftOnly(t *testing.T) {
	points, err := Project(100000, 12, 12, domain.RiskMedium, WithSource(Midpoint))
	require.NoError(t, err)
	require.Len(t, points, 12)

	assert.Equal(t, 1, points[0].Period)
	assert.Equal(t, 101000.00, points[0].Value)
	assert.Equal(t, 1.0, points[0].PeriodReturnPercent)
	assert.Equal(t, 102010.00, points[1].Value)
	assert.Equal(t, 12, points[11].Period)
}

func TestProject_ZeroDriftZeroNoiseKeepsPrincipal(t *testing.T) {
	points, err := Project(100000, 0, 6, domain.RiskHigh, WithSource(Midpoint))
	require.NoError(t, err)
	require.Len(t, points, 6)
	for _, p := range points {
		assert.Equal(t, 100000.0, p.Value)
		assert.Zero(t, p.PeriodReturnPercent)
	}
}

func TestProject_ZeroDurationYieldsOnePeriod(t *testing.T) {
	points, err := Project(1000, 5, 0, domain.RiskLow, WithSource(Midpoint))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 1050.0, points[0].Value)
}

func TestProject_NeverNegative(t *testing.T) {
	// -500% per period drives every step below zero.
	points, err := Project(1000, -6000, 12, domain.RiskHigh, WithSource(NewSeededSource(7)))
	require.NoError(t, err)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.Value, 0.0)
	}
	assert.Zero(t, points[len(points)-1].Value)
}

func TestProject_ZeroPrincipal(t *testing.T) {
	points, err := Project(0, 20, 3, domain.RiskMedium, WithSource(NewSeededSource(1)))
	require.NoError(t, err)
	for _, p := range points {
		assert.Zero(t, p.Value)
	}
}

func TestProject_RejectsInvalidInput(t *testing.T) {
	_, err := Project(-1, 10, 12, domain.RiskLow)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = Project(math.NaN(), 10, 12, domain.RiskLow)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = Project(100, math.Inf(1), 12, domain.RiskLow)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = Project(100000, 12, 12, domain.RiskLevel("Extreme"), WithSource(Midpoint))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = Project(100, 10, 601, domain.RiskLow, WithMaxPeriods(DefaultMaxPeriods))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = Project(100, 10, 30, domain.RiskLow, WithMaxPeriods(24))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProject_UncappedByDefault(t *testing.T) {
	points, err := Project(100, 12, DefaultMaxPeriods+1, domain.RiskMedium, WithSource(Midpoint))
	require.NoError(t, err)
	require.Len(t, points, DefaultMaxPeriods+1)
	assert.Equal(t, DefaultMaxPeriods+1, points[len(points)-1].Period)
}

func TestProject_PerturbationStaysInBand(t *testing.T) {
	src := NewSeededSource(42)
	for _, risk := range []domain.RiskLevel{domain.RiskLow, domain.RiskMedium, domain.RiskHigh} {
		points, err := Project(10000, 24, 24, risk, WithSource(src))
		require.NoError(t, err)
		half := Volatility(risk) / 2
		for _, p := range points {
			// drift is 1% per period
			assert.InDelta(t, 1.0, p.PeriodReturnPercent, half+1e-4, "risk %s period %d", risk, p.Period)
		}
	}
}

func TestProject_SeededIsReproducible(t *testing.T) {
	a, err := Project(50000, 8, 36, domain.RiskHigh, WithSource(NewSeededSource(99)))
	require.NoError(t, err)
	b, err := Project(50000, 8, 36, domain.RiskHigh, WithSource(NewSeededSource(99)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSummarize(t *testing.T) {
	points := []ProjectionPoint{
		{Period: 1, Value: 1010, PeriodReturnPercent: 1},
		{Period: 2, Value: 990, PeriodReturnPercent: -1.9802},
		{Period: 3, Value: 1100, PeriodReturnPercent: 11.1111},
	}
	s := Summarize(points, 1000)
	assert.Equal(t, 1100.0, s.FinalValue)
	assert.Equal(t, 10.0, s.TotalReturnPercent)
	assert.Equal(t, 3, s.BestPeriod)
	assert.Equal(t, 2, s.WorstPeriod)

	empty := Summarize(nil, 500)
	assert.Equal(t, 500.0, empty.FinalValue)
	assert.Zero(t, empty.TotalReturnPercent)
}
