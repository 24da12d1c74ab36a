package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ecovest/internal/domain"
	"github.com/alanyoungcy/ecovest/internal/store/memory"
)

type mockBus struct{ mock.Mock }

func (m *mockBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return m.Called(ctx, channel, payload).Error(0)
}

func (m *mockBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	args := m.Called(ctx, channel)
	ch, _ := args.Get(0).(<-chan []byte)
	return ch, args.Error(1)
}

func (m *mockBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return m.Called(ctx, stream, payload).Error(0)
}

func (m *mockBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	args := m.Called(ctx, stream, lastID, count)
	msgs, _ := args.Get(0).([]domain.StreamMessage)
	return msgs, args.Error(1)
}

type mockLedger struct{ mock.Mock }

func (m *mockLedger) CreditAtomic(ctx context.Context, ownerID string, amount decimal.Decimal, reason, runID string) error {
	return m.Called(ctx, ownerID, amount.String(), reason, runID).Error(0)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	positions *memory.PositionStore
	accounts  *memory.AccountStore
	audit     *memory.AuditStore
	bus       *mockBus
	svc       *PortfolioService
}

func newFixture(t *testing.T, balance int64) *fixture {
	t.Helper()
	f := &fixture{
		positions: memory.NewPositionStore(),
		accounts:  memory.NewAccountStore(),
		audit:     memory.NewAuditStore(),
		bus:       &mockBus{},
	}
	require.NoError(t, f.accounts.Create(context.Background(), domain.Account{
		ID: "alice", LiquidBalance: decimal.NewFromInt(balance),
	}))
	f.bus.On("Publish", mock.Anything, domain.ChannelPositions, mock.Anything).Return(nil)
	f.svc = NewPortfolioService(f.positions, f.accounts, f.accounts, f.bus, f.audit, discard())
	return f
}

func (f *fixture) balance(t *testing.T) string {
	t.Helper()
	a, err := f.accounts.GetByID(context.Background(), "alice")
	require.NoError(t, err)
	return a.LiquidBalance.StringFixed(2)
}

func (f *fixture) invest(t *testing.T, amount int64) domain.Position {
	t.Helper()
	pos, err := f.svc.Invest(context.Background(), InvestRequest{
		OwnerID:               "alice",
		Name:                  "Solar Farm",
		Amount:                decimal.NewFromInt(amount),
		ExpectedReturnPercent: 12,
		DurationMonths:        12,
		RiskLevel:             "medium",
	})
	require.NoError(t, err)
	return pos
}

func TestInvest(t *testing.T) {
	f := newFixture(t, 1000)
	pos := f.invest(t, 400)

	assert.Equal(t, domain.PositionStatusActive, pos.Status)
	assert.Equal(t, int64(1), pos.Version)
	assert.False(t, pos.StartDate.IsZero())
	assert.Equal(t, "600.00", f.balance(t))

	stored, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentValue.Equal(decimal.NewFromInt(400)))
	assert.Equal(t, domain.RiskMedium, stored.RiskLevel)

	f.bus.AssertCalled(t, "Publish", mock.Anything, domain.ChannelPositions, mock.Anything)
	entries, err := f.audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "position_opened", entries[0].Event)
}

func TestInvestRejects(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	_, err := f.svc.Invest(ctx, InvestRequest{OwnerID: "alice", Amount: decimal.NewFromInt(500), DurationMonths: 6})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = f.svc.Invest(ctx, InvestRequest{OwnerID: "alice", Amount: decimal.Zero, DurationMonths: 6})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Invest(ctx, InvestRequest{OwnerID: "alice", Amount: decimal.NewFromInt(10), DurationMonths: 6, RiskLevel: "extreme"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Invest(ctx, InvestRequest{OwnerID: "alice", Amount: decimal.NewFromInt(10), DurationMonths: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Equal(t, "100.00", f.balance(t), "rejected requests never debit")
	f.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestTopUp(t *testing.T) {
	f := newFixture(t, 1000)
	pos := f.invest(t, 400)

	updated, err := f.svc.TopUp(context.Background(), "alice", pos.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, updated.Principal.Equal(decimal.NewFromInt(500)))
	assert.True(t, updated.CurrentValue.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "500.00", f.balance(t))
}

// racingStore lets a concurrent writer bump the version right before the
// first conditional top-up.
type racingStore struct {
	*memory.PositionStore
	races int
}

func (s *racingStore) TopUp(ctx context.Context, id string, amount decimal.Decimal, expectedVersion int64) error {
	if s.races > 0 {
		s.races--
		_ = s.Mutate(id, func(p *domain.Position) { p.CurrentValue = p.CurrentValue.Add(decimal.NewFromInt(7)) })
	}
	return s.PositionStore.TopUp(ctx, id, amount, expectedVersion)
}

func TestTopUpRetriesAfterSettlementWrite(t *testing.T) {
	f := newFixture(t, 1000)
	pos := f.invest(t, 400)

	store := &racingStore{PositionStore: f.positions, races: 1}
	svc := NewPortfolioService(store, f.accounts, f.accounts, nil, nil, discard())

	updated, err := svc.TopUp(context.Background(), "alice", pos.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, updated.CurrentValue.Equal(decimal.NewFromInt(507)), "concurrent gain is preserved")
	assert.True(t, updated.Principal.Equal(decimal.NewFromInt(500)))
}

func TestTopUpRefundsWhenItCannotLand(t *testing.T) {
	f := newFixture(t, 1000)
	pos := f.invest(t, 400)

	store := &racingStore{PositionStore: f.positions, races: maxTopUpAttempts}
	svc := NewPortfolioService(store, f.accounts, f.accounts, nil, nil, discard())

	_, err := svc.TopUp(context.Background(), "alice", pos.ID, decimal.NewFromInt(100))
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, "600.00", f.balance(t))

	ledger := f.accounts.Ledger("alice")
	require.NotEmpty(t, ledger)
	assert.Equal(t, domain.ReasonRefund, ledger[len(ledger)-1].Reason)
}

func TestTopUpRejectsForeignAndClosed(t *testing.T) {
	f := newFixture(t, 1000)
	pos := f.invest(t, 400)
	ctx := context.Background()

	_, err := f.svc.TopUp(ctx, "mallory", pos.ID, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.TopUp(ctx, "alice", "missing", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Sell(ctx, "alice", pos.ID)
	require.NoError(t, err)
	_, err = f.svc.TopUp(ctx, "alice", pos.ID, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSell(t *testing.T) {
	f := newFixture(t, 1000)
	pos := f.invest(t, 400)
	require.NoError(t, f.positions.Mutate(pos.ID, func(p *domain.Position) {
		p.CurrentValue = decimal.RequireFromString("431.25")
	}))

	payout, err := f.svc.Sell(context.Background(), "alice", pos.ID)
	require.NoError(t, err)
	assert.Equal(t, "431.25", payout.StringFixed(2))
	assert.Equal(t, "1031.25", f.balance(t))

	stored, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusCompleted, stored.Status)

	_, err = f.svc.Sell(context.Background(), "alice", pos.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "a sold position cannot be sold twice")
}

func TestSellReportsCreditFailure(t *testing.T) {
	f := newFixture(t, 1000)
	pos := f.invest(t, 400)

	ledger := &mockLedger{}
	ledger.On("CreditAtomic", mock.Anything, "alice", "400", domain.ReasonSell, "").
		Return(errors.New("connection reset"))
	svc := NewPortfolioService(f.positions, f.accounts, ledger, nil, nil, discard())

	_, err := svc.Sell(context.Background(), "alice", pos.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	ledger.AssertExpectations(t)
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, 1000)
	bus := &mockBus{}
	bus.On("Publish", mock.Anything, domain.ChannelPositions, mock.Anything).Return(errors.New("redis down"))
	svc := NewPortfolioService(f.positions, f.accounts, f.accounts, bus, nil, discard())

	_, err := svc.Invest(context.Background(), InvestRequest{
		OwnerID: "alice", Amount: decimal.NewFromInt(10), DurationMonths: 3,
	})
	require.NoError(t, err)
	bus.AssertNumberOfCalls(t, "Publish", 1)
}

func TestListByOwner(t *testing.T) {
	f := newFixture(t, 1000)
	f.invest(t, 100)
	f.invest(t, 200)

	ps, err := f.svc.ListByOwner(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, ps, 2)

	ps, err = f.svc.ListByOwner(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, ps)
}
