// Package memory provides mutex-guarded in-memory stores with the same
// version semantics as the Postgres stores. It backs the demo mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)

// PositionStore keeps positions in a map keyed by ID.
type PositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	now       func() time.Time
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions: make(map[string]domain.Position),
		now:       time.Now,
	}
}

// Mutate applies fn to the stored position as an external writer would and
// bumps its version.
func (s *PositionStore) Mutate(id string, fn func(*domain.Position)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("memory: mutate %s: %w", id, domain.ErrNotFound)
	}
	fn(&p)
	p.Version++
	p.UpdatedAt = s.now().UTC()
	s.positions[id] = p
	return nil
}

// ListActive returns all positions in status active, ordered by start date.
func (s *PositionStore) ListActive(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusActive {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out, nil
}

// Save writes pos when the stored version equals expectedVersion.
func (s *PositionStore) Save(_ context.Context, pos domain.Position, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.checkVersion(pos.ID, expectedVersion); err != nil {
		return fmt.Errorf("memory: save position %s: %w", pos.ID, err)
	}
	pos.Version = expectedVersion + 1
	pos.UpdatedAt = s.now().UTC()
	s.positions[pos.ID] = pos
	return nil
}

// Create inserts a new position at version 1.
func (s *PositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; ok {
		return fmt.Errorf("memory: create position %s: %w", pos.ID, domain.ErrAlreadyExists)
	}
	pos.Version = 1
	pos.UpdatedAt = s.now().UTC()
	s.positions[pos.ID] = pos
	return nil
}

// GetByID returns a single position.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: get position %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// ListByOwner returns every position of one owner.
func (s *PositionStore) ListByOwner(_ context.Context, ownerID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out, nil
}

// TopUp adds amount to both principal and current value of an active
// position.
func (s *PositionStore) TopUp(_ context.Context, id string, amount decimal.Decimal, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.checkVersion(id, expectedVersion)
	if err != nil {
		return fmt.Errorf("memory: top up %s: %w", id, err)
	}
	if p.Status != domain.PositionStatusActive {
		return fmt.Errorf("memory: top up %s: %w: position is %s", id, domain.ErrInvalidInput, p.Status)
	}
	p.Principal = p.Principal.Add(amount)
	p.CurrentValue = p.CurrentValue.Add(amount)
	p.Version++
	p.UpdatedAt = s.now().UTC()
	s.positions[id] = p
	return nil
}

// Close marks a position completed.
func (s *PositionStore) Close(_ context.Context, id string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.checkVersion(id, expectedVersion)
	if err != nil {
		return fmt.Errorf("memory: close %s: %w", id, err)
	}
	p.Status = domain.PositionStatusCompleted
	p.Version++
	p.UpdatedAt = s.now().UTC()
	s.positions[id] = p
	return nil
}

func (s *PositionStore) checkVersion(id string, expected int64) (domain.Position, error) {
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	if p.Version != expected {
		return domain.Position{}, domain.ErrVersionConflict
	}
	return p, nil
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].StartDate.Equal(ps[j].StartDate) {
			return ps[i].StartDate.Before(ps[j].StartDate)
		}
		return ps[i].ID < ps[j].ID
	})
}
