package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionFailure is a persistence failure for a single position during a
// settlement cycle. The position keeps its previous state and is picked up
// again on the next cycle.
type PositionFailure struct {
	PositionID string `json:"position_id"`
	OwnerID    string `json:"owner_id"`
	Error      string `json:"error"`
}

// LedgerFailure is a failed aggregated credit for one owner.
type LedgerFailure struct {
	OwnerID string          `json:"owner_id"`
	Amount  decimal.Decimal `json:"amount"`
	Error   string          `json:"error"`
}

// SettlementReport summarises one settlement cycle.
type SettlementReport struct {
	RunID            string                     `json:"run_id"`
	StartedAt        time.Time                  `json:"started_at"`
	FinishedAt       time.Time                  `json:"finished_at"`
	Listed           int                        `json:"listed"`
	Advanced         int                        `json:"advanced"`
	Shocks           int                        `json:"shocks"`
	Completed        int                        `json:"completed"`
	Conflicts        int                        `json:"conflicts"`
	Skipped          int                        `json:"skipped"`
	AccountsCredited int                        `json:"accounts_credited"`
	TotalCredited    decimal.Decimal            `json:"total_credited"`
	Credits          map[string]decimal.Decimal `json:"credits,omitempty"`
	PositionFailures []PositionFailure          `json:"position_failures,omitempty"`
	LedgerFailures   []LedgerFailure            `json:"ledger_failures,omitempty"`
}

// Duration is the wall-clock time the cycle took.
func (r SettlementReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// HasFailures reports whether any per-item failure was collected.
func (r SettlementReport) HasFailures() bool {
	return len(r.PositionFailures) > 0 || len(r.LedgerFailures) > 0
}
