// Package service holds the user-initiated commitment flows (invest, top-up,
// sell) that share the position store with the settlement scheduler.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

// maxTopUpAttempts bounds re-reads when a settlement write lands between the
// read and the conditional top-up.
const maxTopUpAttempts = 3

// InvestRequest describes a new commitment.
type InvestRequest struct {
	OwnerID               string
	Name                  string
	Sector                string
	Amount                decimal.Decimal
	ExpectedReturnPercent float64
	DurationMonths        int
	RiskLevel             string
	ShockProne            bool
	SustainabilityScore   int
}

// PortfolioService moves money between an owner's liquid balance and their
// positions. Every position write is version-checked, so a concurrent
// settlement cycle never has its result overwritten and vice versa.
type PortfolioService struct {
	positions domain.PositionStore
	accounts  domain.AccountStore
	ledger    domain.AccountLedger
	bus       domain.SignalBus
	audit     domain.AuditStore
	now       func() time.Time
	logger    *slog.Logger
}

// NewPortfolioService creates a PortfolioService. bus and audit may be nil.
func NewPortfolioService(
	positions domain.PositionStore,
	accounts domain.AccountStore,
	ledger domain.AccountLedger,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PortfolioService {
	return &PortfolioService{
		positions: positions,
		accounts:  accounts,
		ledger:    ledger,
		bus:       bus,
		audit:     audit,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "portfolio_service")),
	}
}

// Invest debits the owner and opens an active position for the amount.
func (s *PortfolioService) Invest(ctx context.Context, req InvestRequest) (domain.Position, error) {
	if !req.Amount.IsPositive() {
		return domain.Position{}, fmt.Errorf("portfolio_service: invest: %w: amount must be positive", domain.ErrInvalidInput)
	}
	risk, err := domain.ParseRiskLevel(req.RiskLevel)
	if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio_service: invest: %w", err)
	}
	name := req.Name
	if name == "" {
		name = "AI suggested"
	}

	pos, err := domain.NewPosition(req.OwnerID, name, req.Amount, req.ExpectedReturnPercent, req.DurationMonths, risk)
	if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio_service: invest: %w", err)
	}
	if req.Sector != "" {
		pos.Sector = req.Sector
	}
	if req.SustainabilityScore > 0 {
		pos.SustainabilityScore = req.SustainabilityScore
	}
	pos.ShockProne = req.ShockProne
	if err := pos.Activate(s.now()); err != nil {
		return domain.Position{}, fmt.Errorf("portfolio_service: invest: %w", err)
	}

	if err := s.accounts.Debit(ctx, req.OwnerID, req.Amount, domain.ReasonInvest); err != nil {
		return domain.Position{}, fmt.Errorf("portfolio_service: debit %s: %w", req.OwnerID, err)
	}
	if err := s.positions.Create(ctx, pos); err != nil {
		s.refund(ctx, req.OwnerID, req.Amount, pos.ID)
		return domain.Position{}, fmt.Errorf("portfolio_service: create position: %w", err)
	}
	pos.Version = 1

	s.emit(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"owner_id":    pos.OwnerID,
		"amount":      req.Amount.String(),
		"risk_level":  string(pos.RiskLevel),
		"duration":    pos.DurationMonths,
	})

	s.logger.InfoContext(ctx, "portfolio_service: position opened",
		slog.String("position_id", pos.ID),
		slog.String("owner_id", pos.OwnerID),
		slog.String("amount", req.Amount.String()),
	)
	return pos, nil
}

// TopUp debits the owner and adds amount to an active position's principal
// and current value. A version conflict with a settlement write is retried
// against a fresh read; if the top-up still cannot land the debit is refunded.
func (s *PortfolioService) TopUp(ctx context.Context, ownerID, positionID string, amount decimal.Decimal) (domain.Position, error) {
	if !amount.IsPositive() {
		return domain.Position{}, fmt.Errorf("portfolio_service: top up: %w: amount must be positive", domain.ErrInvalidInput)
	}
	pos, err := s.owned(ctx, ownerID, positionID)
	if err != nil {
		return domain.Position{}, err
	}
	if pos.Status != domain.PositionStatusActive {
		return domain.Position{}, fmt.Errorf("portfolio_service: top up %s: %w: position is %s", positionID, domain.ErrInvalidInput, pos.Status)
	}

	if err := s.accounts.Debit(ctx, ownerID, amount, domain.ReasonTopUp); err != nil {
		return domain.Position{}, fmt.Errorf("portfolio_service: debit %s: %w", ownerID, err)
	}

	for attempt := 1; ; attempt++ {
		err = s.positions.TopUp(ctx, positionID, amount, pos.Version)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt == maxTopUpAttempts {
			s.refund(ctx, ownerID, amount, positionID)
			return domain.Position{}, fmt.Errorf("portfolio_service: top up %s: %w", positionID, err)
		}
		if pos, err = s.positions.GetByID(ctx, positionID); err != nil {
			s.refund(ctx, ownerID, amount, positionID)
			return domain.Position{}, fmt.Errorf("portfolio_service: reload %s: %w", positionID, err)
		}
	}

	updated, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio_service: reload %s: %w", positionID, err)
	}

	s.emit(ctx, "position_topped_up", map[string]any{
		"position_id": positionID,
		"owner_id":    ownerID,
		"amount":      amount.String(),
	})
	return updated, nil
}

// Sell closes an active position and credits its current value to the owner.
// It returns the payout.
func (s *PortfolioService) Sell(ctx context.Context, ownerID, positionID string) (decimal.Decimal, error) {
	pos, err := s.owned(ctx, ownerID, positionID)
	if err != nil {
		return decimal.Zero, err
	}
	if pos.Status != domain.PositionStatusActive {
		return decimal.Zero, fmt.Errorf("portfolio_service: sell %s: %w: position is %s", positionID, domain.ErrInvalidInput, pos.Status)
	}

	// A conflict here means settlement moved the value after our read; the
	// caller retries with the value they can now see.
	if err := s.positions.Close(ctx, positionID, pos.Version); err != nil {
		return decimal.Zero, fmt.Errorf("portfolio_service: close %s: %w", positionID, err)
	}

	payout := pos.CurrentValue
	if err := s.ledger.CreditAtomic(ctx, ownerID, payout, domain.ReasonSell, ""); err != nil {
		s.logger.ErrorContext(ctx, "portfolio_service: payout credit failed after close",
			slog.String("position_id", positionID),
			slog.String("owner_id", ownerID),
			slog.String("amount", payout.String()),
			slog.String("error", err.Error()),
		)
		return decimal.Zero, fmt.Errorf("portfolio_service: credit sale of %s: %w", positionID, err)
	}

	s.emit(ctx, "position_sold", map[string]any{
		"position_id": positionID,
		"owner_id":    ownerID,
		"payout":      payout.String(),
	})

	s.logger.InfoContext(ctx, "portfolio_service: position sold",
		slog.String("position_id", positionID),
		slog.String("payout", payout.String()),
	)
	return payout, nil
}

// ListByOwner returns all positions of one owner.
func (s *PortfolioService) ListByOwner(ctx context.Context, ownerID string) ([]domain.Position, error) {
	positions, err := s.positions.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: list for %q: %w", ownerID, err)
	}
	return positions, nil
}

func (s *PortfolioService) owned(ctx context.Context, ownerID, positionID string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio_service: get position %q: %w", positionID, err)
	}
	if pos.OwnerID != ownerID {
		return domain.Position{}, fmt.Errorf("portfolio_service: position %q: %w", positionID, domain.ErrUnauthorized)
	}
	return pos, nil
}

func (s *PortfolioService) refund(ctx context.Context, ownerID string, amount decimal.Decimal, positionID string) {
	if err := s.ledger.CreditAtomic(ctx, ownerID, amount, domain.ReasonRefund, ""); err != nil {
		s.logger.ErrorContext(ctx, "portfolio_service: refund failed",
			slog.String("owner_id", ownerID),
			slog.String("position_id", positionID),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
	}
}

// emit publishes a position event and writes it to the audit log. Both are
// best effort.
func (s *PortfolioService) emit(ctx context.Context, event string, detail map[string]any) {
	if s.bus != nil {
		payload := map[string]any{"event": event}
		for k, v := range detail {
			payload[k] = v
		}
		evt, _ := json.Marshal(payload)
		if err := s.bus.Publish(ctx, domain.ChannelPositions, evt); err != nil {
			s.logger.WarnContext(ctx, "portfolio_service: publish event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "portfolio_service: audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
