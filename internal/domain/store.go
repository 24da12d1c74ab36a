package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions.
//
// Save and the other mutating calls are conditional: they succeed only when
// the stored version equals expectedVersion and return ErrVersionConflict
// otherwise. A successful write increments the stored version.
type PositionStore interface {
	ListActive(ctx context.Context) ([]Position, error)
	Save(ctx context.Context, pos Position, expectedVersion int64) error
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Position, error)
	TopUp(ctx context.Context, id string, amount decimal.Decimal, expectedVersion int64) error
	Close(ctx context.Context, id string, expectedVersion int64) error
}

// AccountLedger applies balance credits. CreditAtomic must be an atomic
// increment against the stored balance, never a read-modify-write of a cached
// value. amount is always >= 0.
type AccountLedger interface {
	CreditAtomic(ctx context.Context, ownerID string, amount decimal.Decimal, reason, runID string) error
}

// AccountStore is used by the external commitment flows.
type AccountStore interface {
	Create(ctx context.Context, acct Account) error
	GetByID(ctx context.Context, id string) (Account, error)
	Debit(ctx context.Context, id string, amount decimal.Decimal, reason string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// SettlementRunStore keeps the history of settlement cycles.
type SettlementRunStore interface {
	Record(ctx context.Context, report SettlementReport) error
	ListRecent(ctx context.Context, limit int) ([]SettlementReport, error)
}
