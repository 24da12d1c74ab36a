package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

var _ domain.SettlementRunStore = (*SettlementRunStore)(nil)

// SettlementRunStore keeps one row per settlement cycle.
type SettlementRunStore struct {
	pool *pgxpool.Pool
}

// NewSettlementRunStore creates a new SettlementRunStore.
func NewSettlementRunStore(pool *pgxpool.Pool) *SettlementRunStore {
	return &SettlementRunStore{pool: pool}
}

// runFailures is the JSONB shape of the failures column.
type runFailures struct {
	Positions []domain.PositionFailure `json:"positions,omitempty"`
	Ledger    []domain.LedgerFailure   `json:"ledger,omitempty"`
}

// Record inserts a report. Recording the same run twice is a no-op.
func (s *SettlementRunStore) Record(ctx context.Context, r domain.SettlementReport) error {
	failures, err := json.Marshal(runFailures{Positions: r.PositionFailures, Ledger: r.LedgerFailures})
	if err != nil {
		return fmt.Errorf("postgres: marshal run failures: %w", err)
	}

	const query = `
		INSERT INTO settlement_runs (
			run_id, started_at, finished_at, listed, advanced, shocks,
			completed, conflicts, skipped, accounts_credited, total_credited, failures
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11::numeric, $12
		)
		ON CONFLICT (run_id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		r.RunID, r.StartedAt, r.FinishedAt, r.Listed, r.Advanced, r.Shocks,
		r.Completed, r.Conflicts, r.Skipped, r.AccountsCredited, r.TotalCredited.String(), failures,
	)
	if err != nil {
		return fmt.Errorf("postgres: record settlement run %s: %w", r.RunID, err)
	}
	return nil
}

// ListRecent returns up to limit runs, newest first.
func (s *SettlementRunStore) ListRecent(ctx context.Context, limit int) ([]domain.SettlementReport, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT run_id, started_at, finished_at, listed, advanced, shocks,
			completed, conflicts, skipped, accounts_credited, total_credited::text, failures
		FROM settlement_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlement runs: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementReport
	for rows.Next() {
		var (
			r        domain.SettlementReport
			total    string
			failures []byte
		)
		if err := rows.Scan(
			&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Listed, &r.Advanced, &r.Shocks,
			&r.Completed, &r.Conflicts, &r.Skipped, &r.AccountsCredited, &total, &failures,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan settlement run: %w", err)
		}
		if r.TotalCredited, err = parseNumeric("total_credited", total); err != nil {
			return nil, err
		}
		if len(failures) > 0 {
			var f runFailures
			if err := json.Unmarshal(failures, &f); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal run failures: %w", err)
			}
			r.PositionFailures, r.LedgerFailures = f.Positions, f.Ledger
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlement runs rows: %w", err)
	}
	return out, nil
}
