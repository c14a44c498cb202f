package docstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/docstore"
	"github.com/soldi-app/soldi-ledger-go/internal/port"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedAccount(t *testing.T, m *docstore.Memory, id, ownerID, balance string) {
	t.Helper()
	err := m.PutAccount(context.Background(), &domain.Account{
		ID:       id,
		OwnerID:  ownerID,
		Name:     "Checking",
		Type:     domain.AccountChecking,
		Currency: "EUR",
		Balance:  decimal.RequireFromString(balance),
	})
	if err != nil {
		t.Fatalf("put account: %v", err)
	}
}

func TestAtomicBatch_AllOrNothing(t *testing.T) {
	m := docstore.NewMemory()
	ctx := context.Background()
	seedAccount(t, m, "acc-1", "owner-1", "100")

	tx := domain.Transaction{
		ID:        "tx-1",
		OwnerID:   "owner-1",
		AccountID: "acc-1",
		Amount:    decimal.RequireFromString("-25"),
		Type:      domain.TransactionExpense,
		Date:      day(2024, time.January, 3),
	}
	// The delete targets a record that does not exist, so the whole batch
	// must fail and the valid ops alongside it must not apply.
	err := m.AtomicBatch(ctx, []port.BatchOp{
		port.PutTransactionOp{Transaction: tx},
		port.AdjustBalanceOp{AccountID: "acc-1", Delta: decimal.RequireFromString("-25")},
		port.DeleteTransactionOp{ID: "missing"},
	})
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not-found, got %v", err)
	}

	if _, err := m.GetTransaction(ctx, "tx-1"); err == nil {
		t.Error("expected put not applied after batch failure")
	}
	account, err := m.GetAccount(ctx, "owner-1", "acc-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance.String() != "100" {
		t.Errorf("expected balance untouched, got %s", account.Balance.String())
	}
}

func TestAtomicBatch_AdvancePreconditionConflict(t *testing.T) {
	m := docstore.NewMemory()
	ctx := context.Background()
	seedAccount(t, m, "acc-1", "owner-1", "0")

	item := domain.RecurringIncome{
		ID:                 "rec-1",
		OwnerID:            "owner-1",
		AccountID:          "acc-1",
		Amount:             decimal.RequireFromString("2000"),
		Kind:               domain.RecurMonthly,
		Status:             domain.RecurringActive,
		NextOccurrenceDate: day(2024, time.February, 1),
	}
	if err := m.PutRecurringIncome(ctx, &item); err != nil {
		t.Fatalf("put recurring: %v", err)
	}

	advanced := item
	advanced.NextOccurrenceDate = day(2024, time.March, 1)
	tx := domain.Transaction{
		ID:        "tx-1",
		OwnerID:   "owner-1",
		AccountID: "acc-1",
		Amount:    decimal.RequireFromString("2000"),
		Type:      domain.TransactionIncome,
		Date:      day(2024, time.January, 1),
	}
	// ExpectNext carries a stale date: the claim was lost.
	err := m.AtomicBatch(ctx, []port.BatchOp{
		port.PutTransactionOp{Transaction: tx},
		port.AdjustBalanceOp{AccountID: "acc-1", Delta: tx.Amount},
		port.AdvanceRecurringOp{Item: advanced, ExpectNext: day(2024, time.January, 1)},
	})
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, err := m.GetTransaction(ctx, "tx-1"); err == nil {
		t.Error("expected transaction not inserted on conflict")
	}
	stored, err := m.GetRecurringIncome(ctx, "rec-1")
	if err != nil {
		t.Fatalf("get recurring: %v", err)
	}
	if !stored.NextOccurrenceDate.Equal(day(2024, time.February, 1)) {
		t.Errorf("expected stored date untouched, got %s", stored.NextOccurrenceDate.Format("2006-01-02"))
	}
}

func TestAtomicBatch_AdvanceSucceedsWhenExpectMatches(t *testing.T) {
	m := docstore.NewMemory()
	ctx := context.Background()
	seedAccount(t, m, "acc-1", "owner-1", "0")

	item := domain.RecurringIncome{
		ID:                 "rec-1",
		OwnerID:            "owner-1",
		AccountID:          "acc-1",
		Amount:             decimal.RequireFromString("500"),
		Kind:               domain.RecurWeekly,
		Status:             domain.RecurringActive,
		NextOccurrenceDate: day(2024, time.January, 1),
	}
	if err := m.PutRecurringIncome(ctx, &item); err != nil {
		t.Fatalf("put recurring: %v", err)
	}

	advanced := item
	advanced.NextOccurrenceDate = day(2024, time.January, 8)
	err := m.AtomicBatch(ctx, []port.BatchOp{
		port.AdjustBalanceOp{AccountID: "acc-1", Delta: item.Amount},
		port.AdvanceRecurringOp{Item: advanced, ExpectNext: day(2024, time.January, 1)},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	account, err := m.GetAccount(ctx, "owner-1", "acc-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance.String() != "500" {
		t.Errorf("expected balance 500, got %s", account.Balance.String())
	}
	stored, err := m.GetRecurringIncome(ctx, "rec-1")
	if err != nil {
		t.Fatalf("get recurring: %v", err)
	}
	if !stored.NextOccurrenceDate.Equal(day(2024, time.January, 8)) {
		t.Errorf("expected advanced date, got %s", stored.NextOccurrenceDate.Format("2006-01-02"))
	}
}

func TestOwnerScoping(t *testing.T) {
	m := docstore.NewMemory()
	ctx := context.Background()
	seedAccount(t, m, "acc-1", "owner-1", "10")

	var notFound *domain.ErrNotFound
	if _, err := m.GetAccount(ctx, "owner-2", "acc-1"); !errors.As(err, &notFound) {
		t.Errorf("expected not-found for foreign owner, got %v", err)
	}

	accounts, err := m.ListAccounts(ctx, "owner-2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("expected no accounts for foreign owner, got %d", len(accounts))
	}
}

func TestListTransactionsByDateRange_InclusiveDays(t *testing.T) {
	m := docstore.NewMemory()
	ctx := context.Background()

	put := func(id string, d time.Time) {
		err := m.AtomicBatch(ctx, []port.BatchOp{port.PutTransactionOp{Transaction: domain.Transaction{
			ID:      id,
			OwnerID: "owner-1",
			Amount:  decimal.RequireFromString("-1"),
			Type:    domain.TransactionExpense,
			Date:    d,
		}}})
		if err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	put("before", day(2024, time.January, 1))
	put("start", day(2024, time.January, 2))
	// Late in the day still counts as the end day.
	put("end", time.Date(2024, time.January, 5, 23, 30, 0, 0, time.UTC))
	put("after", day(2024, time.January, 6))

	txs, err := m.ListTransactionsByDateRange(ctx, "owner-1", day(2024, time.January, 2), day(2024, time.January, 5))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions in range, got %d", len(txs))
	}
	// Newest first.
	if txs[0].ID != "end" || txs[1].ID != "start" {
		t.Errorf("expected [end start], got [%s %s]", txs[0].ID, txs[1].ID)
	}
}

func TestReplaceAggregations_SwapsOwnerSet(t *testing.T) {
	m := docstore.NewMemory()
	ctx := context.Background()

	old := domain.DailyAggregation{
		ID:      "agg-old",
		OwnerID: "owner-1",
		Day:     day(2024, time.January, 1),
	}
	other := domain.DailyAggregation{
		ID:      "agg-other",
		OwnerID: "owner-2",
		Day:     day(2024, time.January, 1),
	}
	if err := m.PutAggregation(ctx, &old); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.PutAggregation(ctx, &other); err != nil {
		t.Fatalf("put: %v", err)
	}

	fresh := domain.DailyAggregation{
		ID:      "agg-new",
		OwnerID: "owner-1",
		Day:     day(2024, time.February, 1),
	}
	if err := m.ReplaceAggregations(ctx, "owner-1", []domain.DailyAggregation{fresh}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	rows, err := m.ListAggregations(ctx, "owner-1", day(2024, time.January, 1), day(2024, time.December, 31), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "agg-new" {
		t.Fatalf("expected owner's set replaced, got %d rows", len(rows))
	}

	// The other owner's rows survive.
	rows, err = m.ListAggregations(ctx, "owner-2", day(2024, time.January, 1), day(2024, time.December, 31), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "agg-other" {
		t.Fatalf("expected other owner untouched, got %d rows", len(rows))
	}
}

func TestListDueRecurringIncomes(t *testing.T) {
	m := docstore.NewMemory()
	ctx := context.Background()

	items := []domain.RecurringIncome{
		{ID: "due", OwnerID: "owner-1", Status: domain.RecurringActive, NextOccurrenceDate: day(2024, time.January, 1)},
		{ID: "future", OwnerID: "owner-1", Status: domain.RecurringActive, NextOccurrenceDate: day(2024, time.June, 1)},
		{ID: "cancelled", OwnerID: "owner-1", Status: domain.RecurringCancelled, NextOccurrenceDate: day(2024, time.January, 1)},
		{ID: "foreign", OwnerID: "owner-2", Status: domain.RecurringActive, NextOccurrenceDate: day(2024, time.January, 1)},
	}
	for i := range items {
		if err := m.PutRecurringIncome(ctx, &items[i]); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	due, err := m.ListDueRecurringIncomes(ctx, "owner-1", day(2024, time.January, 15))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due" {
		t.Fatalf("expected only the due active item, got %d", len(due))
	}
}
