package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/observability"
	"github.com/soldi-app/soldi-ledger-go/internal/port"
)

var budgetTracer = otel.Tracer("service/budget")

// BudgetService tracks spending against per-category or simple total
// budgets. Spent figures are always derived from the transaction log over
// the budget window, never patched independently.
type BudgetService struct {
	store   port.RecordStore
	metrics *observability.Metrics
	logger  *zap.Logger
	clock   port.Clock
}

// NewBudgetService creates the budget tracker.
func NewBudgetService(store port.RecordStore, metrics *observability.Metrics, logger *zap.Logger, clock port.Clock) *BudgetService {
	return &BudgetService{store: store, metrics: metrics, logger: logger, clock: clock}
}

func (s *BudgetService) CreateBudget(ctx context.Context, input *domain.BudgetInput) (*domain.Budget, error) {
	ctx, span := budgetTracer.Start(ctx, "BudgetService.CreateBudget")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", input.OwnerID))

	if input.Name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	if !input.Kind.Valid() {
		return nil, &domain.ErrValidation{Field: "budget_kind", Message: "unknown kind"}
	}
	if input.Kind == domain.BudgetSimple && !input.Amount.IsPositive() {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	if input.Kind == domain.BudgetCategoryBased && len(input.Categories) == 0 {
		return nil, &domain.ErrValidation{Field: "categories", Message: "at least one allocation required"}
	}
	if input.EndDate.Before(input.StartDate) {
		return nil, &domain.ErrValidation{Field: "end_date", Message: "must not precede start_date"}
	}
	if input.RecurrenceKind != "" {
		if !input.RecurrenceKind.Valid() {
			return nil, &domain.ErrValidation{Field: "recurrence_kind", Message: "unknown kind"}
		}
		if input.RecurrenceKind == domain.RecurCustom && input.IntervalMonths < 1 {
			return nil, &domain.ErrValidation{Field: "interval_months", Message: "must be at least 1 for custom recurrence"}
		}
	}

	now := s.clock.Now().UTC()
	budget := domain.Budget{
		ID:             uuid.New().String(),
		OwnerID:        input.OwnerID,
		Name:           input.Name,
		Kind:           input.Kind,
		Amount:         input.Amount,
		Categories:     make([]domain.BudgetCategory, len(input.Categories)),
		StartDate:      domain.DayOf(input.StartDate),
		EndDate:        domain.DayOf(input.EndDate),
		RecurrenceKind: input.RecurrenceKind,
		IntervalMonths: input.IntervalMonths,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, c := range input.Categories {
		budget.Categories[i] = domain.BudgetCategory{CategoryID: c.CategoryID, Allocated: c.Allocated}
	}
	if input.RecurrenceKind != "" {
		// The window renews the day after it closes.
		budget.NextRenewalDate = budget.EndDate.AddDate(0, 0, 1)
	}

	if err := s.store.PutBudget(ctx, &budget); err != nil {
		return nil, err
	}

	s.logger.Info("budget created",
		zap.String("owner_id", budget.OwnerID),
		zap.String("budget_id", budget.ID),
		zap.String("kind", string(budget.Kind)),
	)
	return &budget, nil
}

func (s *BudgetService) GetBudget(ctx context.Context, ownerID, budgetID string) (*domain.Budget, error) {
	ctx, span := budgetTracer.Start(ctx, "BudgetService.GetBudget")
	defer span.End()

	return s.store.GetBudget(ctx, ownerID, budgetID)
}

func (s *BudgetService) ListBudgets(ctx context.Context, ownerID string) ([]domain.Budget, error) {
	ctx, span := budgetTracer.Start(ctx, "BudgetService.ListBudgets")
	defer span.End()

	return s.store.ListBudgets(ctx, ownerID)
}

func (s *BudgetService) DeleteBudget(ctx context.Context, ownerID, budgetID string) error {
	ctx, span := budgetTracer.Start(ctx, "BudgetService.DeleteBudget")
	defer span.End()

	return s.store.DeleteBudget(ctx, ownerID, budgetID)
}

// RecomputeSpent re-derives the budget's spent figures from the expense
// transactions inside its window and persists the result. Category budgets
// get per-allocation sums; simple budgets sum every in-window expense.
// Income and transfer legs never count as spending.
func (s *BudgetService) RecomputeSpent(ctx context.Context, ownerID, budgetID string) (*domain.Budget, error) {
	ctx, span := budgetTracer.Start(ctx, "BudgetService.RecomputeSpent")
	defer span.End()
	span.SetAttributes(attribute.String("budget.id", budgetID))

	budget, err := s.store.GetBudget(ctx, ownerID, budgetID)
	if err != nil {
		return nil, err
	}

	txs, err := s.store.ListTransactionsByDateRange(ctx, ownerID, budget.StartDate, budget.EndDate)
	if err != nil {
		return nil, err
	}

	byCategory := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for i := range txs {
		tx := &txs[i]
		if tx.Type != domain.TransactionExpense {
			continue
		}
		magnitude := tx.Magnitude()
		total = total.Add(magnitude)
		byCategory[tx.CategoryID] = byCategory[tx.CategoryID].Add(magnitude)
	}

	switch budget.Kind {
	case domain.BudgetCategoryBased:
		allocated := decimal.Zero
		for i := range budget.Categories {
			spent := byCategory[budget.Categories[i].CategoryID]
			budget.Categories[i].Spent = spent
			allocated = allocated.Add(spent)
		}
		budget.Spent = allocated
	case domain.BudgetSimple:
		budget.Spent = total
	}

	budget.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.PutBudget(ctx, budget); err != nil {
		return nil, err
	}

	s.logger.Info("budget spending recomputed",
		zap.String("owner_id", ownerID),
		zap.String("budget_id", budgetID),
		zap.String("spent", budget.Spent.String()),
	)
	return budget, nil
}

// RenewRecurringBudget advances a recurring budget's window past asOf,
// zeroing spent figures and leaving allocations untouched. The window
// advances repeatedly, so a budget dormant for several intervals lands on
// the current one instead of the next stale one.
func (s *BudgetService) RenewRecurringBudget(ctx context.Context, ownerID, budgetID string, asOf time.Time) (*domain.Budget, error) {
	ctx, span := budgetTracer.Start(ctx, "BudgetService.RenewRecurringBudget")
	defer span.End()
	span.SetAttributes(attribute.String("budget.id", budgetID))

	budget, err := s.store.GetBudget(ctx, ownerID, budgetID)
	if err != nil {
		return nil, err
	}
	if !budget.Recurring() {
		return nil, &domain.ErrValidation{Field: "recurrence_kind", Message: "budget is not recurring"}
	}

	renewals := 0
	for !asOf.Before(budget.NextRenewalDate) {
		budget.AdvanceWindow()
		renewals++
	}
	if renewals == 0 {
		return budget, nil
	}

	budget.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.PutBudget(ctx, budget); err != nil {
		return nil, err
	}

	s.logger.Info("budget renewed",
		zap.String("owner_id", ownerID),
		zap.String("budget_id", budgetID),
		zap.Int("intervals", renewals),
	)
	return budget, nil
}
