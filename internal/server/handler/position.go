package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ecovest/internal/domain"
	"github.com/alanyoungcy/ecovest/internal/service"
)

// PortfolioService defines the methods that the position handler requires.
type PortfolioService interface {
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Position, error)
	Invest(ctx context.Context, req service.InvestRequest) (domain.Position, error)
	TopUp(ctx context.Context, ownerID, positionID string, amount decimal.Decimal) (domain.Position, error)
	Sell(ctx context.Context, ownerID, positionID string) (decimal.Decimal, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	portfolio PortfolioService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(portfolio PortfolioService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		portfolio: portfolio,
		logger:    logHandler(logger, "position"),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns every position of one owner.
// GET /api/positions?owner=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	positions, err := h.portfolio.ListByOwner(r.Context(), owner)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

type investRequest struct {
	OwnerID               string          `json:"owner_id"`
	Name                  string          `json:"name"`
	Sector                string          `json:"sector"`
	Amount                decimal.Decimal `json:"amount"`
	ExpectedReturnPercent float64         `json:"expected_return_percent"`
	DurationMonths        int             `json:"duration_months"`
	RiskLevel             string          `json:"risk_level"`
	ShockProne            bool            `json:"shock_prone"`
	SustainabilityScore   int             `json:"sustainability_score"`
}

// Invest opens a position funded from the owner's liquid balance.
// POST /api/positions
func (h *PositionHandler) Invest(w http.ResponseWriter, r *http.Request) {
	var req investRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	pos, err := h.portfolio.Invest(r.Context(), service.InvestRequest{
		OwnerID:               req.OwnerID,
		Name:                  req.Name,
		Sector:                req.Sector,
		Amount:                req.Amount,
		ExpectedReturnPercent: req.ExpectedReturnPercent,
		DurationMonths:        req.DurationMonths,
		RiskLevel:             req.RiskLevel,
		ShockProne:            req.ShockProne,
		SustainabilityScore:   req.SustainabilityScore,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to invest", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"position": pos})
}

type topUpRequest struct {
	OwnerID string          `json:"owner_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// TopUp adds funds to an active position.
// POST /api/positions/{id}/topup
func (h *PositionHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.portfolio.TopUp(r.Context(), req.OwnerID, pathParam(r, "id"), req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to top up position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position": pos})
}

type sellRequest struct {
	OwnerID string `json:"owner_id"`
}

// Sell closes an active position and credits its current value.
// POST /api/positions/{id}/sell
func (h *PositionHandler) Sell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := pathParam(r, "id")
	payout, err := h.portfolio.Sell(r.Context(), req.OwnerID, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to sell position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position_id": id,
		"payout":      payout.StringFixed(2),
	})
}
