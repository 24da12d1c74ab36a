package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

var (
	_ domain.AccountStore  = (*AccountStore)(nil)
	_ domain.AccountLedger = (*AccountStore)(nil)
)

// AccountStore implements domain.AccountStore and domain.AccountLedger.
// Balance changes and their ledger rows commit in the same transaction.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Create inserts an account.
func (s *AccountStore) Create(ctx context.Context, a domain.Account) error {
	const query = `
		INSERT INTO accounts (id, full_name, email, liquid_balance)
		VALUES ($1, $2, $3, $4::numeric)`

	_, err := s.pool.Exec(ctx, query, a.ID, a.FullName, a.Email, a.LiquidBalance.String())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create account %s: %w", a.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create account %s: %w", a.ID, err)
	}
	return nil
}

// GetByID returns one account.
func (s *AccountStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	const query = `
		SELECT id, full_name, email, liquid_balance::text, created_at
		FROM accounts WHERE id = $1`

	var a domain.Account
	var balance string
	err := s.pool.QueryRow(ctx, query, id).Scan(&a.ID, &a.FullName, &a.Email, &balance, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	if a.LiquidBalance, err = parseNumeric("liquid_balance", balance); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// CreditAtomic increments the balance in place; it never reads the balance
// into the application first.
func (s *AccountStore) CreditAtomic(ctx context.Context, ownerID string, amount decimal.Decimal, reason, runID string) error {
	if amount.IsNegative() {
		return fmt.Errorf("postgres: credit %s: %w: negative amount", ownerID, domain.ErrInvalidInput)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET liquid_balance = liquid_balance + $2::numeric WHERE id = $1`,
			ownerID, amount.String())
		if err != nil {
			return fmt.Errorf("postgres: credit %s: %w", ownerID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: credit %s: %w", ownerID, domain.ErrNotFound)
		}
		return insertLedger(ctx, tx, ownerID, amount, domain.LedgerCredit, reason, runID)
	})
}

// Debit withdraws amount after checking the balance under a row lock.
func (s *AccountStore) Debit(ctx context.Context, id string, amount decimal.Decimal, reason string) error {
	if amount.IsNegative() {
		return fmt.Errorf("postgres: debit %s: %w: negative amount", id, domain.ErrInvalidInput)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var balance string
		err := tx.QueryRow(ctx,
			`SELECT liquid_balance::text FROM accounts WHERE id = $1 FOR UPDATE`, id,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("postgres: debit %s: %w", id, domain.ErrNotFound)
			}
			return fmt.Errorf("postgres: debit %s: %w", id, err)
		}
		current, err := parseNumeric("liquid_balance", balance)
		if err != nil {
			return err
		}
		if current.LessThan(amount) {
			return fmt.Errorf("postgres: debit %s: %w", id, domain.ErrInsufficientFunds)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET liquid_balance = liquid_balance - $2::numeric WHERE id = $1`,
			id, amount.String()); err != nil {
			return fmt.Errorf("postgres: debit %s: %w", id, err)
		}
		return insertLedger(ctx, tx, id, amount, domain.LedgerDebit, reason, "")
	})
}

// ListLedger returns the most recent ledger entries of an account.
func (s *AccountStore) ListLedger(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, account_id, amount::text, direction, reason, run_id, created_at
		FROM ledger_entries WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var amount, dir string
		if err := rows.Scan(&e.ID, &e.AccountID, &amount, &dir, &e.Reason, &e.RunID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		if e.Amount, err = parseNumeric("amount", amount); err != nil {
			return nil, err
		}
		e.Direction = domain.LedgerDirection(dir)
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertLedger(ctx context.Context, tx pgx.Tx, accountID string, amount decimal.Decimal, dir domain.LedgerDirection, reason, runID string) error {
	const query = `
		INSERT INTO ledger_entries (account_id, amount, direction, reason, run_id)
		VALUES ($1, $2::numeric, $3, $4, $5)`
	if _, err := tx.Exec(ctx, query, accountID, amount.String(), string(dir), reason, runID); err != nil {
		return fmt.Errorf("postgres: insert ledger entry for %s: %w", accountID, err)
	}
	return nil
}
