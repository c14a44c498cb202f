// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
)

// Clock supplies the current time. Injected so dueness checks and cache
// expiry are testable without sleeping.
type Clock interface {
	Now() time.Time
}

// Cache provides generic caching with TTL and prefix invalidation. The
// ledger services invalidate an owner's prefix on every write.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	DeletePrefix(prefix string)
}

// ============================================================
// Atomic batch operations
// ============================================================

// BatchOp is one operation inside an atomic batch. The set is closed: the
// store dispatches on the concrete type, and there is no default/no-op arm.
type BatchOp interface {
	isBatchOp()
}

// PutTransactionOp inserts or replaces a transaction record.
type PutTransactionOp struct {
	Transaction domain.Transaction
}

// DeleteTransactionOp removes a transaction record.
type DeleteTransactionOp struct {
	ID string
}

// AdjustBalanceOp atomically increments an account's balance by a signed
// delta (balance += delta), never read-modify-write.
type AdjustBalanceOp struct {
	AccountID string
	Delta     decimal.Decimal
}

// AdvanceRecurringOp replaces a recurring item, guarded by a precondition:
// the stored next_occurrence_date must still equal ExpectNext, otherwise the
// whole batch fails with ErrConflict. This is what makes due-item
// processing idempotent under concurrent callers.
type AdvanceRecurringOp struct {
	Item       domain.RecurringIncome
	ExpectNext time.Time
}

// DeleteRecurringOp removes a recurring income record.
type DeleteRecurringOp struct {
	ID string
}

// DeleteAccountOp removes an account record.
type DeleteAccountOp struct {
	ID string
}

func (PutTransactionOp) isBatchOp()    {}
func (DeleteTransactionOp) isBatchOp() {}
func (AdjustBalanceOp) isBatchOp()     {}
func (AdvanceRecurringOp) isBatchOp()  {}
func (DeleteRecurringOp) isBatchOp()   {}
func (DeleteAccountOp) isBatchOp()     {}

// ============================================================
// Record store
// ============================================================

// RecordStore is the document-database capability the core runs against:
// per-record CRUD, equality/range queries, and all-or-nothing multi-record
// writes. Implemented by the docstore HTTP client and the in-memory store.
type RecordStore interface {
	// Accounts
	GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error)
	PutAccount(ctx context.Context, account *domain.Account) error

	// Transactions
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactionsByOwner(ctx context.Context, ownerID string) ([]domain.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, accountID string) ([]domain.Transaction, error)
	ListTransactionsByDateRange(ctx context.Context, ownerID string, start, end time.Time) ([]domain.Transaction, error)

	// Daily aggregations
	GetAggregationByKey(ctx context.Context, ownerID string, day time.Time, categoryID string) (*domain.DailyAggregation, error)
	PutAggregation(ctx context.Context, row *domain.DailyAggregation) error
	ListAggregations(ctx context.Context, ownerID string, start, end time.Time, categoryID *string) ([]domain.DailyAggregation, error)
	// ReplaceAggregations atomically swaps the owner's entire aggregation
	// set for the given rows (the rebuild path).
	ReplaceAggregations(ctx context.Context, ownerID string, rows []domain.DailyAggregation) error

	// Recurring incomes
	GetRecurringIncome(ctx context.Context, id string) (*domain.RecurringIncome, error)
	ListRecurringIncomes(ctx context.Context, ownerID string) ([]domain.RecurringIncome, error)
	ListDueRecurringIncomes(ctx context.Context, ownerID string, asOf time.Time) ([]domain.RecurringIncome, error)
	PutRecurringIncome(ctx context.Context, item *domain.RecurringIncome) error

	// Budgets
	GetBudget(ctx context.Context, ownerID, budgetID string) (*domain.Budget, error)
	ListBudgets(ctx context.Context, ownerID string) ([]domain.Budget, error)
	PutBudget(ctx context.Context, budget *domain.Budget) error
	DeleteBudget(ctx context.Context, ownerID, budgetID string) error

	// AtomicBatch applies every op or none. Precondition failures surface
	// as *domain.ErrConflict, store failures as *domain.ErrStorage.
	AtomicBatch(ctx context.Context, ops []BatchOp) error
}
