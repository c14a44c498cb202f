package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsDue(t *testing.T) {
	item := domain.RecurringIncome{
		Status:             domain.RecurringActive,
		NextOccurrenceDate: day(2024, time.January, 1),
	}

	if !item.IsDue(day(2024, time.January, 1)) {
		t.Error("expected item due on its occurrence date")
	}
	if !item.IsDue(day(2024, time.January, 5)) {
		t.Error("expected item due after its occurrence date")
	}
	if item.IsDue(day(2023, time.December, 31)) {
		t.Error("expected item not due before its occurrence date")
	}

	item.Status = domain.RecurringCancelled
	if item.IsDue(day(2024, time.June, 1)) {
		t.Error("cancelled item must never be due")
	}
}

func TestNextOccurrence_KeepsAnchorDay(t *testing.T) {
	item := domain.RecurringIncome{
		Kind:               domain.RecurMonthly,
		Status:             domain.RecurringActive,
		NextOccurrenceDate: day(2024, time.January, 1),
	}

	// Processed on the 5th, the schedule stays anchored on the 1st.
	next := item.NextOccurrence(day(2024, time.January, 5))
	if !next.Equal(day(2024, time.February, 1)) {
		t.Errorf("expected 2024-02-01, got %s", next.Format("2006-01-02"))
	}
}

func TestNextOccurrence_LongOverdue(t *testing.T) {
	item := domain.RecurringIncome{
		Kind:               domain.RecurMonthly,
		Status:             domain.RecurringActive,
		NextOccurrenceDate: day(2023, time.October, 1),
	}

	// Months behind: skips the missed occurrences and lands on the first
	// future one, still on the anchor day.
	next := item.NextOccurrence(day(2024, time.January, 5))
	if !next.Equal(day(2024, time.February, 1)) {
		t.Errorf("expected 2024-02-01, got %s", next.Format("2006-01-02"))
	}
}

func TestNextOccurrence_AllKindsStrictlyAfter(t *testing.T) {
	asOf := day(2024, time.March, 15)
	kinds := []struct {
		kind     domain.RecurrenceKind
		months   int
		expected time.Time
	}{
		{domain.RecurDaily, 0, day(2024, time.March, 16)},
		{domain.RecurWeekly, 0, day(2024, time.March, 22)},
		{domain.RecurBiweekly, 0, day(2024, time.March, 29)},
		{domain.RecurMonthly, 0, day(2024, time.April, 15)},
		{domain.RecurCustom, 3, day(2024, time.June, 15)},
	}

	for _, tc := range kinds {
		item := domain.RecurringIncome{
			Kind:               tc.kind,
			IntervalMonths:     tc.months,
			Status:             domain.RecurringActive,
			NextOccurrenceDate: asOf,
		}
		next := item.NextOccurrence(asOf)
		if !next.After(asOf) {
			t.Errorf("%s: next occurrence %s not strictly after %s", tc.kind, next, asOf)
		}
		if !next.Equal(tc.expected) {
			t.Errorf("%s: expected %s, got %s", tc.kind, tc.expected.Format("2006-01-02"), next.Format("2006-01-02"))
		}
	}
}

func TestAddMonthsClamped_MonthEnd(t *testing.T) {
	// Jan 31 + 1 month clamps to Feb 29 (leap year), not Mar 2.
	got := domain.AddMonthsClamped(day(2024, time.January, 31), 1)
	if !got.Equal(day(2024, time.February, 29)) {
		t.Errorf("expected 2024-02-29, got %s", got.Format("2006-01-02"))
	}

	got = domain.AddMonthsClamped(day(2023, time.January, 31), 1)
	if !got.Equal(day(2023, time.February, 28)) {
		t.Errorf("expected 2023-02-28, got %s", got.Format("2006-01-02"))
	}

	// Mid-month days pass through unclamped.
	got = domain.AddMonthsClamped(day(2024, time.March, 15), 2)
	if !got.Equal(day(2024, time.May, 15)) {
		t.Errorf("expected 2024-05-15, got %s", got.Format("2006-01-02"))
	}
}

func TestSignedAmount(t *testing.T) {
	magnitude := decimal.RequireFromString("250.00")

	expense := domain.SignedAmount(magnitude, domain.TransactionExpense)
	if expense.String() != "-250" {
		t.Errorf("expected -250, got %s", expense.String())
	}

	income := domain.SignedAmount(magnitude, domain.TransactionIncome)
	if income.String() != "250" {
		t.Errorf("expected 250, got %s", income.String())
	}

	// A signed transfer leg keeps its sign.
	leg := domain.SignedAmount(magnitude.Neg(), domain.TransactionTransfer)
	if leg.String() != "-250" {
		t.Errorf("expected -250, got %s", leg.String())
	}
}

func TestDayOf(t *testing.T) {
	ts := time.Date(2024, time.July, 3, 23, 45, 12, 0, time.FixedZone("UTC+2", 2*3600))
	got := domain.DayOf(ts)
	// 23:45 UTC+2 is 21:45 UTC, still July 3.
	if !got.Equal(day(2024, time.July, 3)) {
		t.Errorf("expected 2024-07-03, got %s", got.Format("2006-01-02"))
	}
	if got.Hour() != 0 || got.Location() != time.UTC {
		t.Errorf("expected UTC midnight, got %s", got)
	}
}

func TestDailyAggregationAdd(t *testing.T) {
	var row domain.DailyAggregation

	row.Add(decimal.RequireFromString("-250"))
	row.Add(decimal.RequireFromString("1000"))
	row.Add(decimal.RequireFromString("-50"))

	if row.TotalExpenses.String() != "300" {
		t.Errorf("expected expenses 300, got %s", row.TotalExpenses.String())
	}
	if row.TotalIncome.String() != "1000" {
		t.Errorf("expected income 1000, got %s", row.TotalIncome.String())
	}
	if row.NetFlow.String() != "700" {
		t.Errorf("expected net flow 700, got %s", row.NetFlow.String())
	}
	if row.TransactionCount != 3 {
		t.Errorf("expected count 3, got %d", row.TransactionCount)
	}
}

func TestBudgetAdvanceWindow(t *testing.T) {
	budget := domain.Budget{
		Kind:            domain.BudgetCategoryBased,
		RecurrenceKind:  domain.RecurMonthly,
		StartDate:       day(2024, time.January, 1),
		EndDate:         day(2024, time.January, 31),
		NextRenewalDate: day(2024, time.February, 1),
		Spent:           decimal.RequireFromString("480"),
		Categories: []domain.BudgetCategory{
			{CategoryID: "groceries", Allocated: decimal.RequireFromString("500"), Spent: decimal.RequireFromString("480")},
		},
	}

	budget.AdvanceWindow()

	if !budget.StartDate.Equal(day(2024, time.February, 1)) {
		t.Errorf("expected start 2024-02-01, got %s", budget.StartDate.Format("2006-01-02"))
	}
	if !budget.NextRenewalDate.Equal(day(2024, time.March, 1)) {
		t.Errorf("expected renewal 2024-03-01, got %s", budget.NextRenewalDate.Format("2006-01-02"))
	}
	if !budget.Spent.IsZero() {
		t.Errorf("expected spent reset, got %s", budget.Spent.String())
	}
	if !budget.Categories[0].Spent.IsZero() {
		t.Errorf("expected category spent reset, got %s", budget.Categories[0].Spent.String())
	}
	if budget.Categories[0].Allocated.String() != "500" {
		t.Errorf("allocations must be untouched, got %s", budget.Categories[0].Allocated.String())
	}
}
