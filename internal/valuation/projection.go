package valuation

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

// DefaultMaxPeriods is the projection length cap used by the HTTP API.
// Project itself is unbounded unless WithMaxPeriods is given.
const DefaultMaxPeriods = 600

// ProjectionPoint is one period of a simulated value trajectory.
type ProjectionPoint struct {
	Period              int     `json:"period"`
	Value               float64 `json:"value"`
	PeriodReturnPercent float64 `json:"period_return_percent"`
}

// ProjectionSummary condenses a trajectory for display.
type ProjectionSummary struct {
	Principal          float64 `json:"principal"`
	FinalValue         float64 `json:"final_value"`
	TotalReturnPercent float64 `json:"total_return_percent"`
	BestPeriod         int     `json:"best_period"`
	BestReturnPercent  float64 `json:"best_return_percent"`
	WorstPeriod        int     `json:"worst_period"`
	WorstReturnPercent float64 `json:"worst_return_percent"`
}

type projectOptions struct {
	src        Source
	maxPeriods int
}

// ProjectOption configures Project.
type ProjectOption func(*projectOptions)

// WithSource sets the random source. The default is NewEntropySource.
func WithSource(src Source) ProjectOption {
	return func(o *projectOptions) {
		if src != nil {
			o.src = src
		}
	}
}

// WithMaxPeriods caps the number of periods. Values <= 0 leave it unbounded.
func WithMaxPeriods(n int) ProjectOption {
	return func(o *projectOptions) {
		if n > 0 {
			o.maxPeriods = n
		}
	}
}

// Project simulates one monthly trajectory for a prospective position. It
// performs no I/O and its result is never persisted.
//
// The whole-duration expected return is spread evenly over the periods and
// each period adds a perturbation from the risk level's volatility band.
func Project(principal, expectedReturnPercent float64, durationMonths int, risk domain.RiskLevel, opts ...ProjectOption) ([]ProjectionPoint, error) {
	o := projectOptions{src: NewEntropySource()}
	for _, opt := range opts {
		opt(&o)
	}

	if math.IsNaN(principal) || math.IsInf(principal, 0) {
		return nil, fmt.Errorf("valuation: project: %w: principal must be finite", domain.ErrInvalidInput)
	}
	if principal < 0 {
		return nil, fmt.Errorf("valuation: project: %w: principal must not be negative", domain.ErrInvalidInput)
	}
	if math.IsNaN(expectedReturnPercent) || math.IsInf(expectedReturnPercent, 0) {
		return nil, fmt.Errorf("valuation: project: %w: expected return must be finite", domain.ErrInvalidInput)
	}
	if _, err := domain.ParseRiskLevel(string(risk)); err != nil {
		return nil, fmt.Errorf("valuation: project: %w", err)
	}

	periods := durationMonths
	if periods < 1 {
		periods = 1
	}
	if o.maxPeriods > 0 && periods > o.maxPeriods {
		return nil, fmt.Errorf("valuation: project: %w: %d periods exceeds limit %d",
			domain.ErrInvalidInput, periods, o.maxPeriods)
	}

	drift := expectedReturnPercent / float64(periods)
	vol := Volatility(risk)
	value := decimal.NewFromFloat(principal)

	points := make([]ProjectionPoint, 0, periods)
	for i := 1; i <= periods; i++ {
		eff := drift + Perturbation(o.src, vol)
		value = ApplyReturn(value, eff)
		points = append(points, ProjectionPoint{
			Period:              i,
			Value:               value.InexactFloat64(),
			PeriodReturnPercent: decimal.NewFromFloat(eff).Round(4).InexactFloat64(),
		})
	}
	return points, nil
}

// Summarize reports the final value, total return and the extreme periods of
// a trajectory. An empty trajectory summarises to the principal.
func Summarize(points []ProjectionPoint, principal float64) ProjectionSummary {
	s := ProjectionSummary{Principal: principal, FinalValue: principal}
	if len(points) == 0 {
		return s
	}

	s.FinalValue = points[len(points)-1].Value
	if principal > 0 {
		total := decimal.NewFromFloat(s.FinalValue).
			Sub(decimal.NewFromFloat(principal)).
			Div(decimal.NewFromFloat(principal)).
			Mul(hundred)
		s.TotalReturnPercent = total.Round(4).InexactFloat64()
	}

	best, worst := points[0], points[0]
	for _, p := range points[1:] {
		if p.PeriodReturnPercent > best.PeriodReturnPercent {
			best = p
		}
		if p.PeriodReturnPercent < worst.PeriodReturnPercent {
			worst = p
		}
	}
	s.BestPeriod, s.BestReturnPercent = best.Period, best.PeriodReturnPercent
	s.WorstPeriod, s.WorstReturnPercent = worst.Period, worst.PeriodReturnPercent
	return s
}
