package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

var _ domain.PositionStore = (*PositionStore)(nil)

// PositionStore implements domain.PositionStore using PostgreSQL.
//
// Every mutating statement carries "AND version = $expected" and bumps the
// version, so a write based on a stale read affects zero rows.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, owner_id, name, sector,
	principal::text, current_value::text, expected_return_percent,
	duration_months, risk_level, start_date, status, shock_prone,
	sustainability_score, version, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                  domain.Position
		principal, current string
		risk, status       string
		startDate          *time.Time
	)
	if err := row.Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.Sector,
		&principal, &current, &p.ExpectedReturnPercent,
		&p.DurationMonths, &risk, &startDate, &status, &p.ShockProne,
		&p.SustainabilityScore, &p.Version, &p.UpdatedAt,
	); err != nil {
		return domain.Position{}, err
	}

	var err error
	if p.Principal, err = parseNumeric("principal", principal); err != nil {
		return domain.Position{}, err
	}
	if p.CurrentValue, err = parseNumeric("current_value", current); err != nil {
		return domain.Position{}, err
	}
	if startDate != nil {
		p.StartDate = startDate.UTC()
	}
	p.RiskLevel = domain.RiskLevel(risk)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a new position at version 1.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, owner_id, name, sector, principal, current_value,
			expected_return_percent, duration_months, risk_level,
			start_date, status, shock_prone, sustainability_score, version
		) VALUES (
			$1, $2, $3, $4, $5::numeric, $6::numeric,
			$7, $8, $9,
			$10, $11, $12, $13, 1
		)`

	var start *time.Time
	if !p.StartDate.IsZero() {
		start = &p.StartDate
	}
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.OwnerID, p.Name, p.Sector, p.Principal.String(), p.CurrentValue.String(),
		p.ExpectedReturnPercent, p.DurationMonths, string(p.RiskLevel),
		start, string(p.Status), p.ShockProne, p.SustainabilityScore,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns every active position.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE status = 'active'
		ORDER BY start_date, id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	ps, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return ps, nil
}

// ListByOwner returns the positions of one owner.
func (s *PositionStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE owner_id = $1
		ORDER BY start_date NULLS LAST, id`
	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", ownerID, err)
	}
	ps, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", ownerID, err)
	}
	return ps, nil
}

// Save writes the settlement-owned fields (current value and status).
func (s *PositionStore) Save(ctx context.Context, p domain.Position, expectedVersion int64) error {
	const query = `
		UPDATE positions SET
			current_value = $2::numeric,
			status        = $3,
			version       = version + 1,
			updated_at    = NOW()
		WHERE id = $1 AND version = $4`

	tag, err := s.pool.Exec(ctx, query, p.ID, p.CurrentValue.String(), string(p.Status), expectedVersion)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, "save", p.ID)
	}
	return nil
}

// TopUp adds amount to principal and current value of an active position.
func (s *PositionStore) TopUp(ctx context.Context, id string, amount decimal.Decimal, expectedVersion int64) error {
	const query = `
		UPDATE positions SET
			principal     = principal + $2::numeric,
			current_value = current_value + $2::numeric,
			version       = version + 1,
			updated_at    = NOW()
		WHERE id = $1 AND version = $3 AND status = 'active'`

	tag, err := s.pool.Exec(ctx, query, id, amount.String(), expectedVersion)
	if err != nil {
		return fmt.Errorf("postgres: top up position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, "top up", id)
	}
	return nil
}

// Close marks a position completed.
func (s *PositionStore) Close(ctx context.Context, id string, expectedVersion int64) error {
	const query = `
		UPDATE positions SET
			status     = 'completed',
			version    = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2`

	tag, err := s.pool.Exec(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, "close", id)
	}
	return nil
}

// missOrConflict classifies a conditional write that matched no rows.
func (s *PositionStore) missOrConflict(ctx context.Context, op, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM positions WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("postgres: %s position %s: %w", op, id, domain.ErrNotFound)
	case err != nil:
		return fmt.Errorf("postgres: %s position %s: %w", op, id, err)
	case op == "top up" && status != string(domain.PositionStatusActive):
		return fmt.Errorf("postgres: %s position %s: %w: position is %s", op, id, domain.ErrInvalidInput, status)
	default:
		return fmt.Errorf("postgres: %s position %s: %w", op, id, domain.ErrVersionConflict)
	}
}
