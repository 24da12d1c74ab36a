package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

var (
	_ domain.AccountStore  = (*AccountStore)(nil)
	_ domain.AccountLedger = (*AccountStore)(nil)
)

// AccountStore keeps account balances and their ledger.
type AccountStore struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	ledger   []domain.LedgerEntry
	now      func() time.Time

	// creditErr, when set, is consulted before every credit.
	creditErr func(ownerID string) error
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]domain.Account),
		now:      time.Now,
	}
}

// FailCreditsWith installs a hook that can fail CreditAtomic per owner.
func (s *AccountStore) FailCreditsWith(fn func(ownerID string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creditErr = fn
}

// Create inserts an account.
func (s *AccountStore) Create(_ context.Context, acct domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acct.ID]; ok {
		return fmt.Errorf("memory: create account %s: %w", acct.ID, domain.ErrAlreadyExists)
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = s.now().UTC()
	}
	s.accounts[acct.ID] = acct
	return nil
}

// GetByID returns one account.
func (s *AccountStore) GetByID(_ context.Context, id string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("memory: get account %s: %w", id, domain.ErrNotFound)
	}
	return acct, nil
}

// CreditAtomic increments the owner's balance and appends a ledger entry.
func (s *AccountStore) CreditAtomic(_ context.Context, ownerID string, amount decimal.Decimal, reason, runID string) error {
	if amount.IsNegative() {
		return fmt.Errorf("memory: credit %s: %w: negative amount", ownerID, domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creditErr != nil {
		if err := s.creditErr(ownerID); err != nil {
			return fmt.Errorf("memory: credit %s: %w", ownerID, err)
		}
	}
	acct, ok := s.accounts[ownerID]
	if !ok {
		return fmt.Errorf("memory: credit %s: %w", ownerID, domain.ErrNotFound)
	}
	acct.LiquidBalance = acct.LiquidBalance.Add(amount)
	s.accounts[ownerID] = acct
	s.appendLedger(ownerID, amount, domain.LedgerCredit, reason, runID)
	return nil
}

// Debit withdraws amount if the balance covers it.
func (s *AccountStore) Debit(_ context.Context, id string, amount decimal.Decimal, reason string) error {
	if amount.IsNegative() {
		return fmt.Errorf("memory: debit %s: %w: negative amount", id, domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("memory: debit %s: %w", id, domain.ErrNotFound)
	}
	if acct.LiquidBalance.LessThan(amount) {
		return fmt.Errorf("memory: debit %s: %w", id, domain.ErrInsufficientFunds)
	}
	acct.LiquidBalance = acct.LiquidBalance.Sub(amount)
	s.accounts[id] = acct
	s.appendLedger(id, amount, domain.LedgerDebit, reason, "")
	return nil
}

// Ledger returns a copy of the ledger entries of one account, oldest first.
func (s *AccountStore) Ledger(accountID string) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.ledger {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

func (s *AccountStore) appendLedger(accountID string, amount decimal.Decimal, dir domain.LedgerDirection, reason, runID string) {
	s.ledger = append(s.ledger, domain.LedgerEntry{
		ID:        int64(len(s.ledger) + 1),
		AccountID: accountID,
		Amount:    amount,
		Direction: dir,
		Reason:    reason,
		RunID:     runID,
		CreatedAt: s.now().UTC(),
	})
}
