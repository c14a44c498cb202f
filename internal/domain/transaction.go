package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Transactions
// ============================================================

// TransactionType is the closed set of ledger entry kinds.
type TransactionType string

const (
	TransactionExpense  TransactionType = "expense"
	TransactionIncome   TransactionType = "income"
	TransactionTransfer TransactionType = "transfer"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionExpense, TransactionIncome, TransactionTransfer:
		return true
	}
	return false
}

// Transaction is one immutable-by-id ledger entry. Amount is the canonical
// signed representation: negative for expenses and outgoing transfer legs,
// positive for income and incoming legs. Sums over Amount are therefore
// net flows with no type-based branching.
type Transaction struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	AccountID  string          `json:"account_id"`
	CategoryID string          `json:"category_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Type       TransactionType `json:"transaction_type"`
	Date       time.Time       `json:"date"`

	Description   string `json:"description"`
	Notes         string `json:"notes,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`

	// TransferGroupID links the two legs of a transfer; empty otherwise.
	TransferGroupID string `json:"transfer_group_id,omitempty"`
	// RecurringSourceID points at the recurring schedule that posted this
	// entry; empty for manual transactions.
	RecurringSourceID string `json:"recurring_source_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Magnitude returns the unsigned amount, as the edit form displays it.
func (t *Transaction) Magnitude() decimal.Decimal {
	return t.Amount.Abs()
}

// Day returns the transaction's aggregation day (UTC midnight).
func (t *Transaction) Day() time.Time {
	return DayOf(t.Date)
}

// SignedAmount converts an unsigned magnitude plus a type tag into the
// canonical signed amount. Transfers are signed by the caller per leg, so a
// bare transfer tag keeps the magnitude's sign.
func SignedAmount(magnitude decimal.Decimal, typ TransactionType) decimal.Decimal {
	if typ == TransactionExpense {
		return magnitude.Abs().Neg()
	}
	if typ == TransactionIncome {
		return magnitude.Abs()
	}
	return magnitude
}

// DayOf truncates a timestamp to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
