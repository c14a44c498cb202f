package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Operation inputs and results
// ============================================================

// AccountInput creates a new account.
type AccountInput struct {
	OwnerID        string          `json:"owner_id"`
	Name           string          `json:"name"`
	Type           AccountType     `json:"account_type"`
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// TransactionInput is the edge representation of a new transaction: an
// unsigned magnitude plus a type tag, exactly as the mobile form submits
// it. The ledger service converts it to the canonical signed amount.
type TransactionInput struct {
	OwnerID       string          `json:"owner_id"`
	AccountID     string          `json:"account_id"`
	CategoryID    string          `json:"category_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Type          TransactionType `json:"transaction_type"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description"`
	Notes         string          `json:"notes,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
}

// TransactionChanges carries the mutable fields of an edit; nil pointers
// leave the current value in place.
type TransactionChanges struct {
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Type          *TransactionType `json:"transaction_type,omitempty"`
	CategoryID    *string          `json:"category_id,omitempty"`
	Date          *time.Time       `json:"date,omitempty"`
	Description   *string          `json:"description,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	PaymentMethod *string          `json:"payment_method,omitempty"`
}

// TransferInput moves money between two accounts of the same owner as a
// pair of linked transfer legs.
type TransferInput struct {
	OwnerID       string          `json:"owner_id"`
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description"`
}

// RecurringIncomeInput creates a recurring income schedule.
type RecurringIncomeInput struct {
	OwnerID            string          `json:"owner_id"`
	AccountID          string          `json:"account_id"`
	Amount             decimal.Decimal `json:"amount"`
	Description        string          `json:"description"`
	Kind               RecurrenceKind  `json:"recurrence_kind"`
	IntervalMonths     int             `json:"interval_months,omitempty"`
	NextOccurrenceDate time.Time       `json:"next_occurrence_date"`
}

// BudgetInput creates a budget.
type BudgetInput struct {
	OwnerID        string           `json:"owner_id"`
	Name           string           `json:"name"`
	Kind           BudgetKind       `json:"budget_kind"`
	Amount         decimal.Decimal  `json:"amount"`
	Categories     []BudgetCategory `json:"categories,omitempty"`
	StartDate      time.Time        `json:"start_date"`
	EndDate        time.Time        `json:"end_date"`
	RecurrenceKind RecurrenceKind   `json:"recurrence_kind,omitempty"`
	IntervalMonths int              `json:"interval_months,omitempty"`
}

// ProcessSummary reports the outcome of a best-effort due-items batch.
// Skipped counts items another processor claimed first.
type ProcessSummary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}
