package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultDemoBalance is the virtual balance a new account receives.
var DefaultDemoBalance = decimal.NewFromInt(300000)

// Account is the ledger side of an owner. LiquidBalance is credited by
// settlement and debited only by user-initiated flows.
type Account struct {
	ID            string          `json:"id"`
	FullName      string          `json:"full_name"`
	Email         string          `json:"email"`
	LiquidBalance decimal.Decimal `json:"liquid_balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LedgerDirection is the sign of a ledger entry.
type LedgerDirection string

const (
	LedgerCredit LedgerDirection = "credit"
	LedgerDebit  LedgerDirection = "debit"
)

// LedgerEntry records one balance movement. Amount is always positive; the
// direction carries the sign.
type LedgerEntry struct {
	ID        int64           `json:"id"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Direction LedgerDirection `json:"direction"`
	Reason    string          `json:"reason"`
	RunID     string          `json:"run_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Ledger reasons written by the application.
const (
	ReasonSettlement = "settlement"
	ReasonInvest     = "invest"
	ReasonTopUp      = "top_up"
	ReasonSell       = "sell"
	ReasonRefund     = "refund"
)
