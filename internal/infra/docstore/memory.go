package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/port"
)

// Memory is an in-memory RecordStore. It backs local development and tests,
// and is the reference for the atomic-batch semantics the hosted store's
// rpc/atomic_batch function implements: every batch is validated in full
// before any record is touched, so a failing op leaves nothing applied.
type Memory struct {
	mu sync.RWMutex

	accounts     map[string]domain.Account
	transactions map[string]domain.Transaction
	aggregations map[string]domain.DailyAggregation // keyed owner|day|category
	recurring    map[string]domain.RecurringIncome
	budgets      map[string]domain.Budget
}

var (
	_ port.RecordStore = (*Memory)(nil)
	_ port.RecordStore = (*Client)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[string]domain.Account),
		transactions: make(map[string]domain.Transaction),
		aggregations: make(map[string]domain.DailyAggregation),
		recurring:    make(map[string]domain.RecurringIncome),
		budgets:      make(map[string]domain.Budget),
	}
}

func aggregationKey(ownerID string, day time.Time, categoryID string) string {
	return fmt.Sprintf("%s|%s|%s", ownerID, domain.DayOf(day).Format("2006-01-02"), categoryID)
}

// ============================================================
// Accounts
// ============================================================

func (m *Memory) GetAccount(_ context.Context, ownerID, accountID string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[accountID]
	if !ok || acc.OwnerID != ownerID {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	out := acc
	return &out, nil
}

func (m *Memory) ListAccounts(_ context.Context, ownerID string) ([]domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Account, 0)
	for _, acc := range m.accounts {
		if acc.OwnerID == ownerID {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PutAccount(_ context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[account.ID] = *account
	return nil
}

// ============================================================
// Transactions
// ============================================================

func (m *Memory) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	out := tx
	return &out, nil
}

func (m *Memory) ListTransactionsByOwner(_ context.Context, ownerID string) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listTransactions(func(tx domain.Transaction) bool {
		return tx.OwnerID == ownerID
	}), nil
}

func (m *Memory) ListTransactionsByAccount(_ context.Context, accountID string) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listTransactions(func(tx domain.Transaction) bool {
		return tx.AccountID == accountID
	}), nil
}

func (m *Memory) ListTransactionsByDateRange(_ context.Context, ownerID string, start, end time.Time) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, e := domain.DayOf(start), domain.DayOf(end)
	return m.listTransactions(func(tx domain.Transaction) bool {
		d := tx.Day()
		return tx.OwnerID == ownerID && !d.Before(s) && !d.After(e)
	}), nil
}

// listTransactions filters under an already-held read lock, newest first.
func (m *Memory) listTransactions(keep func(domain.Transaction) bool) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for _, tx := range m.transactions {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// ============================================================
// Daily aggregations
// ============================================================

func (m *Memory) GetAggregationByKey(_ context.Context, ownerID string, day time.Time, categoryID string) (*domain.DailyAggregation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.aggregations[aggregationKey(ownerID, day, categoryID)]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "daily_aggregation", ID: aggregationKey(ownerID, day, categoryID)}
	}
	out := row
	return &out, nil
}

func (m *Memory) PutAggregation(_ context.Context, row *domain.DailyAggregation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.aggregations[aggregationKey(row.OwnerID, row.Day, row.CategoryID)] = *row
	return nil
}

func (m *Memory) ListAggregations(_ context.Context, ownerID string, start, end time.Time, categoryID *string) ([]domain.DailyAggregation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, e := domain.DayOf(start), domain.DayOf(end)
	out := make([]domain.DailyAggregation, 0)
	for _, row := range m.aggregations {
		if row.OwnerID != ownerID {
			continue
		}
		if row.Day.Before(s) || row.Day.After(e) {
			continue
		}
		if categoryID != nil && row.CategoryID != *categoryID {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out, nil
}

func (m *Memory) ReplaceAggregations(_ context.Context, ownerID string, rows []domain.DailyAggregation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, row := range m.aggregations {
		if row.OwnerID == ownerID {
			delete(m.aggregations, key)
		}
	}
	for _, row := range rows {
		m.aggregations[aggregationKey(row.OwnerID, row.Day, row.CategoryID)] = row
	}
	return nil
}

// ============================================================
// Recurring incomes
// ============================================================

func (m *Memory) GetRecurringIncome(_ context.Context, id string) (*domain.RecurringIncome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.recurring[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "recurring_income", ID: id}
	}
	out := item
	return &out, nil
}

func (m *Memory) ListRecurringIncomes(_ context.Context, ownerID string) ([]domain.RecurringIncome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.RecurringIncome, 0)
	for _, item := range m.recurring {
		if item.OwnerID == ownerID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextOccurrenceDate.Before(out[j].NextOccurrenceDate)
	})
	return out, nil
}

func (m *Memory) ListDueRecurringIncomes(_ context.Context, ownerID string, asOf time.Time) ([]domain.RecurringIncome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.RecurringIncome, 0)
	for _, item := range m.recurring {
		if item.OwnerID == ownerID && item.IsDue(asOf) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextOccurrenceDate.Before(out[j].NextOccurrenceDate)
	})
	return out, nil
}

func (m *Memory) PutRecurringIncome(_ context.Context, item *domain.RecurringIncome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recurring[item.ID] = *item
	return nil
}

// ============================================================
// Budgets
// ============================================================

func (m *Memory) GetBudget(_ context.Context, ownerID, budgetID string) (*domain.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.budgets[budgetID]
	if !ok || b.OwnerID != ownerID {
		return nil, &domain.ErrNotFound{Resource: "budget", ID: budgetID}
	}
	out := b
	return &out, nil
}

func (m *Memory) ListBudgets(_ context.Context, ownerID string) ([]domain.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Budget, 0)
	for _, b := range m.budgets {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PutBudget(_ context.Context, budget *domain.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.budgets[budget.ID] = *budget
	return nil
}

func (m *Memory) DeleteBudget(_ context.Context, ownerID, budgetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.budgets[budgetID]
	if !ok || b.OwnerID != ownerID {
		return &domain.ErrNotFound{Resource: "budget", ID: budgetID}
	}
	delete(m.budgets, budgetID)
	return nil
}

// ============================================================
// Atomic batch
// ============================================================

// AtomicBatch applies every op or none. All preconditions are checked under
// the write lock before the first mutation, so a conflict or a missing
// record never leaves a partial batch behind.
func (m *Memory) AtomicBatch(_ context.Context, ops []port.BatchOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Phase 1: validate.
	for _, op := range ops {
		switch o := op.(type) {
		case port.PutTransactionOp:
			// Upsert, nothing to check.
		case port.DeleteTransactionOp:
			if _, ok := m.transactions[o.ID]; !ok {
				return &domain.ErrNotFound{Resource: "transaction", ID: o.ID}
			}
		case port.AdjustBalanceOp:
			if _, ok := m.accounts[o.AccountID]; !ok {
				return &domain.ErrNotFound{Resource: "account", ID: o.AccountID}
			}
		case port.AdvanceRecurringOp:
			current, ok := m.recurring[o.Item.ID]
			if !ok {
				return &domain.ErrNotFound{Resource: "recurring_income", ID: o.Item.ID}
			}
			if !current.NextOccurrenceDate.Equal(o.ExpectNext) {
				return &domain.ErrConflict{
					Message: fmt.Sprintf("recurring income %s already advanced past %s",
						o.Item.ID, o.ExpectNext.Format("2006-01-02")),
				}
			}
		case port.DeleteRecurringOp:
			if _, ok := m.recurring[o.ID]; !ok {
				return &domain.ErrNotFound{Resource: "recurring_income", ID: o.ID}
			}
		case port.DeleteAccountOp:
			if _, ok := m.accounts[o.ID]; !ok {
				return &domain.ErrNotFound{Resource: "account", ID: o.ID}
			}
		}
	}

	// Phase 2: apply.
	for _, op := range ops {
		switch o := op.(type) {
		case port.PutTransactionOp:
			m.transactions[o.Transaction.ID] = o.Transaction
		case port.DeleteTransactionOp:
			delete(m.transactions, o.ID)
		case port.AdjustBalanceOp:
			acc := m.accounts[o.AccountID]
			acc.Balance = acc.Balance.Add(o.Delta)
			acc.UpdatedAt = time.Now().UTC()
			m.accounts[o.AccountID] = acc
		case port.AdvanceRecurringOp:
			m.recurring[o.Item.ID] = o.Item
		case port.DeleteRecurringOp:
			delete(m.recurring, o.ID)
		case port.DeleteAccountOp:
			delete(m.accounts, o.ID)
		}
	}
	return nil
}
