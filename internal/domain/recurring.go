package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Recurring income
// ============================================================

// RecurrenceKind is the closed set of recurrence intervals.
type RecurrenceKind string

const (
	RecurDaily    RecurrenceKind = "daily"
	RecurWeekly   RecurrenceKind = "weekly"
	RecurBiweekly RecurrenceKind = "biweekly"
	RecurMonthly  RecurrenceKind = "monthly"
	// RecurCustom repeats every IntervalMonths calendar months.
	RecurCustom RecurrenceKind = "custom"
)

// Valid reports whether k is one of the known recurrence kinds.
func (k RecurrenceKind) Valid() bool {
	switch k {
	case RecurDaily, RecurWeekly, RecurBiweekly, RecurMonthly, RecurCustom:
		return true
	}
	return false
}

// RecurringItemStatus tracks the lifecycle of a recurring item.
type RecurringItemStatus string

const (
	RecurringActive    RecurringItemStatus = "active"
	RecurringCancelled RecurringItemStatus = "cancelled"
)

// RecurringIncome schedules an income transaction that repeats on a fixed
// interval. NextOccurrenceDate is always strictly in the future relative to
// the last occurrence actually posted; this collection is the single
// canonical store of recurring income (no copy lives on the account record).
type RecurringIncome struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Kind        RecurrenceKind  `json:"recurrence_kind"`
	// IntervalMonths applies to RecurCustom only.
	IntervalMonths     int                 `json:"interval_months,omitempty"`
	NextOccurrenceDate time.Time           `json:"next_occurrence_date"`
	Status             RecurringItemStatus `json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// IsDue reports whether the item's next occurrence has been reached as of
// the given time.
func (r *RecurringIncome) IsDue(asOf time.Time) bool {
	return r.Status == RecurringActive && !r.NextOccurrenceDate.After(asOf)
}

// NextOccurrence returns the occurrence date that follows processing at
// asOf. The schedule's anchor day is preserved: the interval is applied to
// the scheduled date, repeatedly for a long-overdue item, until the result
// is strictly after asOf. An item scheduled for the 1st and processed on
// the 5th lands on the 1st of the next month, not the 5th.
func (r *RecurringIncome) NextOccurrence(asOf time.Time) time.Time {
	next := DayOf(r.NextOccurrenceDate)
	limit := DayOf(asOf)
	for !next.After(limit) {
		next = r.advanceInterval(next)
	}
	return next
}

func (r *RecurringIncome) advanceInterval(t time.Time) time.Time {
	switch r.Kind {
	case RecurDaily:
		return t.AddDate(0, 0, 1)
	case RecurWeekly:
		return t.AddDate(0, 0, 7)
	case RecurBiweekly:
		return t.AddDate(0, 0, 14)
	case RecurMonthly:
		return AddMonthsClamped(t, 1)
	case RecurCustom:
		months := r.IntervalMonths
		if months < 1 {
			months = 1
		}
		return AddMonthsClamped(t, months)
	}
	// Unknown kinds cannot be created through the service; fall back to
	// monthly so a corrupt record still advances.
	return AddMonthsClamped(t, 1)
}

// AddMonthsClamped adds calendar months, clamping the day to the end of the
// target month instead of letting Jan 31 + 1 month normalize into March.
func AddMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, t.Location())
}
