package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/cache"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/docstore"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/observability"
	"github.com/soldi-app/soldi-ledger-go/internal/service"
)

// --- Fixtures ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type env struct {
	store        *docstore.Memory
	clock        *fakeClock
	cache        *cache.InMemory[[]domain.DailyAggregation]
	metrics      *observability.Metrics
	aggregations *service.AggregationService
	ledger       *service.LedgerService
	accounts     *service.AccountService
	recurrence   *service.RecurrenceService
	budgets      *service.BudgetService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := docstore.NewMemory()
	clock := &fakeClock{t: time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)}
	rangeCache := cache.NewWithClock[[]domain.DailyAggregation](5*time.Minute, clock)
	metrics := observability.NewMetrics()
	logger := zap.NewNop()

	aggregations := service.NewAggregationService(store, rangeCache, metrics, logger, clock)
	return &env{
		store:        store,
		clock:        clock,
		cache:        rangeCache,
		metrics:      metrics,
		aggregations: aggregations,
		ledger:       service.NewLedgerService(store, aggregations, metrics, logger, clock),
		accounts:     service.NewAccountService(store, aggregations, metrics, logger, clock),
		recurrence:   service.NewRecurrenceService(store, aggregations, metrics, logger, clock),
		budgets:      service.NewBudgetService(store, metrics, logger, clock),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (e *env) mustCreateAccount(t *testing.T, ownerID, name, balance string) *domain.Account {
	t.Helper()
	account, err := e.accounts.CreateAccount(context.Background(), &domain.AccountInput{
		OwnerID:        ownerID,
		Name:           name,
		Type:           domain.AccountChecking,
		InitialBalance: dec(balance),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func (e *env) mustPost(t *testing.T, ownerID, accountID, categoryID, amount string, typ domain.TransactionType, date time.Time) *domain.Transaction {
	t.Helper()
	tx, err := e.ledger.PostTransaction(context.Background(), &domain.TransactionInput{
		OwnerID:    ownerID,
		AccountID:  accountID,
		CategoryID: categoryID,
		Amount:     dec(amount),
		Type:       typ,
		Date:       date,
	})
	if err != nil {
		t.Fatalf("post transaction: %v", err)
	}
	return tx
}

func (e *env) balance(t *testing.T, ownerID, accountID string) decimal.Decimal {
	t.Helper()
	account, err := e.store.GetAccount(context.Background(), ownerID, accountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.Balance
}

// aggregationRow fetches one row via GetRange, failing the test when it is
// absent.
func (e *env) aggregationRow(t *testing.T, ownerID string, d time.Time, categoryID string) *domain.DailyAggregation {
	t.Helper()
	rows, err := e.aggregations.GetRange(context.Background(), ownerID, d, d, &categoryID)
	if err != nil {
		t.Fatalf("get range: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 aggregation row for (%s, %q), got %d", d.Format("2006-01-02"), categoryID, len(rows))
	}
	return &rows[0]
}
