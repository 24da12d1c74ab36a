package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ecovest/internal/domain"
	"github.com/alanyoungcy/ecovest/internal/valuation"
)

// Defaults applied when a projection request leaves a field out.
const (
	defaultExpectedReturn = 10.0
	defaultDurationMonths = 6
)

// ProjectionHandler serves forward projections of a hypothetical investment.
type ProjectionHandler struct {
	maxPeriods int
	logger     *slog.Logger
}

// NewProjectionHandler creates a ProjectionHandler. maxPeriods <= 0 uses
// valuation.DefaultMaxPeriods.
func NewProjectionHandler(maxPeriods int, logger *slog.Logger) *ProjectionHandler {
	if maxPeriods <= 0 {
		maxPeriods = valuation.DefaultMaxPeriods
	}
	return &ProjectionHandler{maxPeriods: maxPeriods, logger: logHandler(logger, "projection")}
}

type projectionRequest struct {
	Amount                float64  `json:"amount"`
	ExpectedReturnPercent *float64 `json:"expected_return_percent"`
	DurationMonths        *int     `json:"duration_months"`
	RiskLevel             string   `json:"risk_level"`
	Seed                  *uint64  `json:"seed"`
}

type projectionSummary struct {
	valuation.ProjectionSummary
	ExpectedReturnPercent float64          `json:"expected_return_percent"`
	DurationMonths        int              `json:"duration_months"`
	RiskLevel             domain.RiskLevel `json:"risk_level"`
	Seed                  *uint64          `json:"seed,omitempty"`
}

type projectionResponse struct {
	Projection []valuation.ProjectionPoint `json:"projection"`
	Summary    projectionSummary           `json:"summary"`
}

// Project runs one projection. A seed makes the trajectory reproducible.
// POST /api/projections
func (h *ProjectionHandler) Project(w http.ResponseWriter, r *http.Request) {
	var req projectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	risk, err := domain.ParseRiskLevel(req.RiskLevel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	er := defaultExpectedReturn
	if req.ExpectedReturnPercent != nil {
		er = *req.ExpectedReturnPercent
	}
	months := defaultDurationMonths
	if req.DurationMonths != nil {
		months = *req.DurationMonths
	}

	opts := []valuation.ProjectOption{valuation.WithMaxPeriods(h.maxPeriods)}
	if req.Seed != nil {
		opts = append(opts, valuation.WithSource(valuation.NewSeededSource(*req.Seed)))
	}

	points, err := valuation.Project(req.Amount, er, months, risk, opts...)
	if err != nil {
		writeDomainError(w, r, h.logger, "projection failed", err)
		return
	}

	writeJSON(w, http.StatusOK, projectionResponse{
		Projection: points,
		Summary: projectionSummary{
			ProjectionSummary:     valuation.Summarize(points, req.Amount),
			ExpectedReturnPercent: er,
			DurationMonths:        months,
			RiskLevel:             risk,
			Seed:                  req.Seed,
		},
	})
}
