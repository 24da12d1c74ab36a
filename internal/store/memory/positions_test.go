package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

func activePosition(t *testing.T, owner string, amount int64) domain.Position {
	t.Helper()
	p, err := domain.NewPosition(owner, "Wind Park", decimal.NewFromInt(amount), 12, 12, domain.RiskMedium)
	require.NoError(t, err)
	require.NoError(t, p.Activate(time.Now()))
	return p
}

func TestPositionStore_SaveChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	p := activePosition(t, "o1", 1000)
	require.NoError(t, s.Create(ctx, p))

	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	got.CurrentValue = decimal.NewFromInt(1010)
	require.NoError(t, s.Save(ctx, got, 1))

	// Stale version is rejected and the stored row is untouched.
	got.CurrentValue = decimal.NewFromInt(5)
	err = s.Save(ctx, got, 1)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	stored, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentValue.Equal(decimal.NewFromInt(1010)))
	assert.Equal(t, int64(2), stored.Version)
}

func TestPositionStore_SaveMissing(t *testing.T) {
	s := NewPositionStore()
	err := s.Save(context.Background(), domain.Position{ID: "nope"}, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionStore_MutateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	p := activePosition(t, "o1", 1000)
	require.NoError(t, s.Create(ctx, p))

	require.NoError(t, s.Mutate(p.ID, func(p *domain.Position) {
		p.CurrentValue = decimal.NewFromInt(2000)
	}))
	assert.ErrorIs(t, s.Save(ctx, p, 1), domain.ErrVersionConflict)
	assert.ErrorIs(t, s.Mutate("missing", func(*domain.Position) {}), domain.ErrNotFound)
}

func TestPositionStore_ListActiveAndOwner(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	a := activePosition(t, "o1", 100)
	b := activePosition(t, "o2", 200)
	c, err := domain.NewPosition("o1", "Proposed", decimal.NewFromInt(50), 5, 3, domain.RiskLow)
	require.NoError(t, err)
	for _, p := range []domain.Position{a, b, c} {
		require.NoError(t, s.Create(ctx, p))
	}
	assert.ErrorIs(t, s.Create(ctx, a), domain.ErrAlreadyExists)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	mine, err := s.ListByOwner(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestPositionStore_TopUpAndClose(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	p := activePosition(t, "o1", 1000)
	require.NoError(t, s.Create(ctx, p))

	require.NoError(t, s.TopUp(ctx, p.ID, decimal.NewFromInt(500), 1))
	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Principal.Equal(decimal.NewFromInt(1500)))
	assert.True(t, got.CurrentValue.Equal(decimal.NewFromInt(1500)))

	assert.ErrorIs(t, s.Close(ctx, p.ID, 1), domain.ErrVersionConflict)
	require.NoError(t, s.Close(ctx, p.ID, 2))

	got, err = s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusCompleted, got.Status)
	assert.ErrorIs(t, s.TopUp(ctx, p.ID, decimal.NewFromInt(1), got.Version), domain.ErrInvalidInput)
}
