package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Budgets
// ============================================================

// BudgetKind distinguishes per-category budgets from a single total cap.
type BudgetKind string

const (
	BudgetCategoryBased BudgetKind = "category"
	BudgetSimple        BudgetKind = "simple"
)

// Valid reports whether k is one of the known budget kinds.
func (k BudgetKind) Valid() bool {
	return k == BudgetCategoryBased || k == BudgetSimple
}

// BudgetCategory is one allocation line of a category-based budget.
// Spent is derived from the transaction log over the budget window and is
// never mutated independently of that derivation.
type BudgetCategory struct {
	CategoryID string          `json:"category_id"`
	Allocated  decimal.Decimal `json:"allocated"`
	Spent      decimal.Decimal `json:"spent"`
}

// Budget caps spending over a date range, either per category or as a
// single total. Recurring budgets renew their window on NextRenewalDate.
type Budget struct {
	ID         string           `json:"id"`
	OwnerID    string           `json:"owner_id"`
	Name       string           `json:"name"`
	Kind       BudgetKind       `json:"budget_kind"`
	Amount     decimal.Decimal  `json:"amount"`
	Categories []BudgetCategory `json:"categories,omitempty"`
	// Spent accumulates all in-range expenses for simple budgets.
	Spent     decimal.Decimal `json:"spent"`
	StartDate time.Time       `json:"start_date"`
	EndDate   time.Time       `json:"end_date"`

	// Recurrence (optional): zero values mean a one-shot budget.
	RecurrenceKind  RecurrenceKind `json:"recurrence_kind,omitempty"`
	IntervalMonths  int            `json:"interval_months,omitempty"`
	NextRenewalDate time.Time      `json:"next_renewal_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recurring reports whether the budget renews itself.
func (b *Budget) Recurring() bool {
	return b.RecurrenceKind != "" && !b.NextRenewalDate.IsZero()
}

// WindowContains reports whether day falls inside [StartDate, EndDate].
func (b *Budget) WindowContains(day time.Time) bool {
	d := DayOf(day)
	return !d.Before(DayOf(b.StartDate)) && !d.After(DayOf(b.EndDate))
}

// advanceInterval shifts a date by one recurrence interval of the budget.
func (b *Budget) advanceInterval(t time.Time) time.Time {
	switch b.RecurrenceKind {
	case RecurDaily:
		return t.AddDate(0, 0, 1)
	case RecurWeekly:
		return t.AddDate(0, 0, 7)
	case RecurBiweekly:
		return t.AddDate(0, 0, 14)
	case RecurMonthly:
		return AddMonthsClamped(t, 1)
	case RecurCustom:
		months := b.IntervalMonths
		if months < 1 {
			months = 1
		}
		return AddMonthsClamped(t, months)
	}
	return t
}

// AdvanceWindow moves the budget window forward one interval and clears
// accumulated spending; allocations are untouched. Callers loop on the
// renewal date check so a long-dormant budget lands on a future window.
func (b *Budget) AdvanceWindow() {
	b.StartDate = b.advanceInterval(b.StartDate)
	b.EndDate = b.advanceInterval(b.EndDate)
	b.NextRenewalDate = b.advanceInterval(b.NextRenewalDate)
	b.Spent = decimal.Zero
	for i := range b.Categories {
		b.Categories[i].Spent = decimal.Zero
	}
}
