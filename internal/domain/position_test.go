package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRiskLevel(t *testing.T) {
	cases := map[string]RiskLevel{
		"low":    RiskLow,
		"Medium": RiskMedium,
		"HIGH":   RiskHigh,
		"":       RiskMedium,
		" high ": RiskHigh,
	}
	for in, want := range cases {
		got, err := ParseRiskLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRiskLevel("extreme")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestNewPosition_StartsProposed(t *testing.T) {
	p, err := NewPosition("owner-1", "Solar Farm", decimal.NewFromInt(5000), 12, 6, RiskLow)
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, PositionStatusProposed, p.Status)
	assert.True(t, p.Principal.Equal(p.CurrentValue))
	assert.Equal(t, "General", p.Sector)
}

func TestNewPosition_RejectsBadInput(t *testing.T) {
	_, err := NewPosition("", "x", decimal.NewFromInt(1), 1, 1, RiskLow)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewPosition("o", "x", decimal.NewFromInt(-1), 1, 1, RiskLow)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewPosition("o", "x", decimal.NewFromInt(1), 1, 0, RiskLow)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewPosition("o", "x", decimal.NewFromInt(1), 1, 1, RiskLevel("wild"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestActivate(t *testing.T) {
	p, err := NewPosition("o", "x", decimal.NewFromInt(100), 10, 1, RiskMedium)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.Activate(now))
	assert.Equal(t, PositionStatusActive, p.Status)
	assert.Equal(t, now, p.StartDate)

	// Only proposed positions can be activated.
	assert.ErrorIs(t, p.Activate(now), ErrInvalidInput)
}

func TestMaturity(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Position{DurationMonths: 2, StartDate: start}

	assert.Equal(t, 60, p.MaturityDays())
	assert.Equal(t, 0, p.ElapsedDays(start.Add(-time.Hour)))
	assert.Equal(t, 59, p.ElapsedDays(start.Add(59*24*time.Hour+23*time.Hour)))
	assert.False(t, p.Matured(start.Add(59*24*time.Hour+23*time.Hour)))
	assert.True(t, p.Matured(start.Add(60*24*time.Hour)))
}

func TestSettlementReport_Duration(t *testing.T) {
	start := time.Now()
	r := SettlementReport{StartedAt: start}
	assert.Zero(t, r.Duration())

	r.FinishedAt = start.Add(3 * time.Second)
	assert.Equal(t, 3*time.Second, r.Duration())
	assert.False(t, r.HasFailures())

	r.LedgerFailures = append(r.LedgerFailures, LedgerFailure{OwnerID: "o"})
	assert.True(t, r.HasFailures())
}
