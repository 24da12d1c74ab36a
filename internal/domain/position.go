package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DaysPerMonth is the calendar convention used for maturity and daily drift.
const DaysPerMonth = 30

// RiskLevel selects the volatility band of a position.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// ParseRiskLevel accepts "low", "Medium", "HIGH" and so on. An empty string
// maps to Medium; anything else unknown is ErrInvalidInput.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "", "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return "", fmt.Errorf("%w: unknown risk level %q", ErrInvalidInput, s)
	}
}

// PositionStatus tracks the lifecycle of an investment position.
type PositionStatus string

const (
	PositionStatusProposed  PositionStatus = "proposed"
	PositionStatusActive    PositionStatus = "active"
	PositionStatusCompleted PositionStatus = "completed"
)

// Position is one owner's investment instance with its own value track.
//
// CurrentValue is the only field the settlement scheduler mutates (together
// with Status on maturity). Version increments on every successful write and
// is the optimistic-concurrency token for conditional saves.
type Position struct {
	ID                    string          `json:"id"`
	OwnerID               string          `json:"owner_id"`
	Name                  string          `json:"name"`
	Sector                string          `json:"sector"`
	Principal             decimal.Decimal `json:"principal"`
	CurrentValue          decimal.Decimal `json:"current_value"`
	ExpectedReturnPercent float64         `json:"expected_return_percent"` // over the whole duration
	DurationMonths        int             `json:"duration_months"`
	RiskLevel             RiskLevel       `json:"risk_level"`
	StartDate             time.Time       `json:"start_date"`
	Status                PositionStatus  `json:"status"`
	ShockProne            bool            `json:"shock_prone"`
	SustainabilityScore   int             `json:"sustainability_score"`
	Version               int64           `json:"version"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// NewPosition builds a Proposed position with a fresh ID. The amount becomes
// both principal and current value.
func NewPosition(ownerID, name string, amount decimal.Decimal, expectedReturnPercent float64, durationMonths int, risk RiskLevel) (Position, error) {
	p := Position{
		ID:                    uuid.New().String(),
		OwnerID:               ownerID,
		Name:                  name,
		Sector:                "General",
		Principal:             amount,
		CurrentValue:          amount,
		ExpectedReturnPercent: expectedReturnPercent,
		DurationMonths:        durationMonths,
		RiskLevel:             risk,
		Status:                PositionStatusProposed,
		SustainabilityScore:   80,
	}
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	return p, nil
}

// Validate checks the structural invariants of a position.
func (p *Position) Validate() error {
	if p.OwnerID == "" {
		return fmt.Errorf("%w: position owner is required", ErrInvalidInput)
	}
	if p.Principal.IsNegative() {
		return fmt.Errorf("%w: principal must not be negative", ErrInvalidInput)
	}
	if p.CurrentValue.IsNegative() {
		return fmt.Errorf("%w: current value must not be negative", ErrInvalidInput)
	}
	if p.DurationMonths <= 0 {
		return fmt.Errorf("%w: duration must be at least one month", ErrInvalidInput)
	}
	if math.IsNaN(p.ExpectedReturnPercent) || math.IsInf(p.ExpectedReturnPercent, 0) {
		return fmt.Errorf("%w: expected return must be finite", ErrInvalidInput)
	}
	if _, err := ParseRiskLevel(string(p.RiskLevel)); err != nil {
		return err
	}
	return nil
}

// Activate commits a Proposed position: it becomes Active and its start date
// is fixed to now.
func (p *Position) Activate(now time.Time) error {
	if p.Status != PositionStatusProposed {
		return fmt.Errorf("%w: cannot activate position in status %s", ErrInvalidInput, p.Status)
	}
	p.Status = PositionStatusActive
	p.StartDate = now.UTC()
	return nil
}

// MaturityDays is the intended lifetime in calendar days.
func (p Position) MaturityDays() int {
	return p.DurationMonths * DaysPerMonth
}

// ElapsedDays returns the number of whole days between StartDate and now.
func (p Position) ElapsedDays(now time.Time) int {
	if p.StartDate.IsZero() || now.Before(p.StartDate) {
		return 0
	}
	return int(now.Sub(p.StartDate) / (24 * time.Hour))
}

// Matured reports whether the position has reached its stated duration.
func (p Position) Matured(now time.Time) bool {
	return p.ElapsedDays(now) >= p.MaturityDays()
}

// IsTerminal reports whether the position is frozen.
func (p Position) IsTerminal() bool {
	return p.Status == PositionStatusCompleted
}
