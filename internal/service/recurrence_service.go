package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/observability"
	"github.com/soldi-app/soldi-ledger-go/internal/port"
)

var recurTracer = otel.Tracer("service/recurrence")

// processConcurrency bounds how many due items ProcessAllDue works on at once.
const processConcurrency = 4

// RecurrenceService posts scheduled income transactions when they come due.
//
// Processing is idempotent under concurrent callers: the income transaction,
// the balance adjustment and the next-occurrence advance commit in one batch,
// and the advance carries a precondition on the occurrence date just read.
// Two processors racing on the same item produce exactly one posted
// transaction; the loser's batch fails with ErrConflict and applies nothing.
type RecurrenceService struct {
	store        port.RecordStore
	aggregations *AggregationService
	metrics      *observability.Metrics
	logger       *zap.Logger
	clock        port.Clock
}

// NewRecurrenceService creates the recurrence scheduler.
func NewRecurrenceService(store port.RecordStore, aggregations *AggregationService, metrics *observability.Metrics, logger *zap.Logger, clock port.Clock) *RecurrenceService {
	return &RecurrenceService{store: store, aggregations: aggregations, metrics: metrics, logger: logger, clock: clock}
}

// ============================================================
// Recurring income CRUD
// ============================================================

func (s *RecurrenceService) CreateRecurringIncome(ctx context.Context, input *domain.RecurringIncomeInput) (*domain.RecurringIncome, error) {
	ctx, span := recurTracer.Start(ctx, "RecurrenceService.CreateRecurringIncome")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", input.OwnerID))

	if !input.Amount.IsPositive() {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	if !input.Kind.Valid() {
		return nil, &domain.ErrValidation{Field: "recurrence_kind", Message: "unknown kind"}
	}
	if input.Kind == domain.RecurCustom && input.IntervalMonths < 1 {
		return nil, &domain.ErrValidation{Field: "interval_months", Message: "must be at least 1 for custom recurrence"}
	}
	if input.NextOccurrenceDate.IsZero() {
		return nil, &domain.ErrValidation{Field: "next_occurrence_date", Message: "required"}
	}
	if _, err := s.store.GetAccount(ctx, input.OwnerID, input.AccountID); err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, &domain.ErrValidation{Field: "account_id", Message: "account does not exist"}
		}
		return nil, err
	}

	now := s.clock.Now().UTC()
	item := domain.RecurringIncome{
		ID:                 uuid.New().String(),
		OwnerID:            input.OwnerID,
		AccountID:          input.AccountID,
		Amount:             input.Amount,
		Description:        input.Description,
		Kind:               input.Kind,
		IntervalMonths:     input.IntervalMonths,
		NextOccurrenceDate: domain.DayOf(input.NextOccurrenceDate),
		Status:             domain.RecurringActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.PutRecurringIncome(ctx, &item); err != nil {
		return nil, err
	}

	s.logger.Info("recurring income created",
		zap.String("owner_id", item.OwnerID),
		zap.String("recurring_id", item.ID),
		zap.String("kind", string(item.Kind)),
	)
	return &item, nil
}

func (s *RecurrenceService) ListRecurringIncomes(ctx context.Context, ownerID string) ([]domain.RecurringIncome, error) {
	ctx, span := recurTracer.Start(ctx, "RecurrenceService.ListRecurringIncomes")
	defer span.End()

	return s.store.ListRecurringIncomes(ctx, ownerID)
}

// CancelRecurringIncome moves the item to its terminal state. Cancelled
// items are never due and are kept for provenance of already-posted
// transactions.
func (s *RecurrenceService) CancelRecurringIncome(ctx context.Context, ownerID, itemID string) error {
	ctx, span := recurTracer.Start(ctx, "RecurrenceService.CancelRecurringIncome")
	defer span.End()

	item, err := s.ownedItem(ctx, ownerID, itemID)
	if err != nil {
		return err
	}
	if item.Status == domain.RecurringCancelled {
		return nil
	}

	item.Status = domain.RecurringCancelled
	item.UpdatedAt = s.clock.Now().UTC()
	return s.store.PutRecurringIncome(ctx, item)
}

// ============================================================
// Due processing
// ============================================================

// IsDue reports whether the item should be processed as of the given time.
func (s *RecurrenceService) IsDue(item *domain.RecurringIncome, asOf time.Time) bool {
	return item.IsDue(asOf)
}

// ProcessDue posts the due occurrence of one item. In a single batch:
// the income transaction (dated on the scheduled occurrence day), the
// balance credit, and the advance of next_occurrence_date guarded by the
// precondition that it still equals the date just read. The next occurrence
// keeps the schedule's anchor day and always lands strictly after asOf, so
// a long-overdue item is posted once and rescheduled into the future.
func (s *RecurrenceService) ProcessDue(ctx context.Context, item *domain.RecurringIncome, asOf time.Time) (*domain.Transaction, error) {
	ctx, span := recurTracer.Start(ctx, "RecurrenceService.ProcessDue")
	defer span.End()
	span.SetAttributes(attribute.String("recurring.id", item.ID))

	if !item.IsDue(asOf) {
		return nil, &domain.ErrValidation{Field: "next_occurrence_date", Message: "item is not due"}
	}

	now := s.clock.Now().UTC()
	tx := domain.Transaction{
		ID:                uuid.New().String(),
		OwnerID:           item.OwnerID,
		AccountID:         item.AccountID,
		Amount:            item.Amount.Abs(),
		Type:              domain.TransactionIncome,
		Date:              item.NextOccurrenceDate,
		Description:       item.Description,
		RecurringSourceID: item.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	advanced := *item
	advanced.NextOccurrenceDate = item.NextOccurrence(asOf)
	advanced.UpdatedAt = now

	err := s.store.AtomicBatch(ctx, []port.BatchOp{
		port.PutTransactionOp{Transaction: tx},
		port.AdjustBalanceOp{AccountID: item.AccountID, Delta: tx.Amount},
		port.AdvanceRecurringOp{Item: advanced, ExpectNext: item.NextOccurrenceDate},
	})
	if err != nil {
		return nil, err
	}

	if aggErr := s.aggregations.ApplyTransactionDelta(ctx, &tx); aggErr != nil {
		s.logger.Warn("aggregation delta failed for recurring post",
			zap.String("recurring_id", item.ID),
			zap.Error(aggErr),
		)
	}

	s.logger.Info("recurring income posted",
		zap.String("owner_id", item.OwnerID),
		zap.String("recurring_id", item.ID),
		zap.String("transaction_id", tx.ID),
		zap.Time("occurrence", item.NextOccurrenceDate),
		zap.Time("next_occurrence", advanced.NextOccurrenceDate),
	)
	return &tx, nil
}

// ProcessAllDue finds and processes every due item for the owner with
// bounded concurrency. Failures are isolated per item: a conflict means
// another processor claimed the occurrence first and counts as skipped, any
// other failure counts as an error, and neither stops the rest of the batch.
func (s *RecurrenceService) ProcessAllDue(ctx context.Context, ownerID string, asOf time.Time) (*domain.ProcessSummary, error) {
	ctx, span := recurTracer.Start(ctx, "RecurrenceService.ProcessAllDue")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	start := s.clock.Now()

	due, err := s.store.ListDueRecurringIncomes(ctx, ownerID, asOf)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		summary domain.ProcessSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(processConcurrency)

	for i := range due {
		item := due[i]
		g.Go(func() error {
			_, err := s.ProcessDue(gctx, &item, asOf)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Processed++
				s.metrics.IncrRecurrence("processed")
			case isConflict(err):
				summary.Skipped++
				s.metrics.IncrRecurrence("skipped")
				s.logger.Debug("due item already claimed",
					zap.String("recurring_id", item.ID),
				)
			default:
				summary.Errors++
				s.metrics.IncrRecurrence("error")
				s.logger.Error("failed to process due item",
					zap.String("recurring_id", item.ID),
					zap.Error(err),
				)
			}
			// Per-item isolation: never abort the batch.
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.RecordOperationDuration("process_all_due", s.clock.Now().Sub(start))
	s.logger.Info("due items processed",
		zap.String("owner_id", ownerID),
		zap.Int("due", len(due)),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
	)
	return &summary, nil
}

func (s *RecurrenceService) ownedItem(ctx context.Context, ownerID, itemID string) (*domain.RecurringIncome, error) {
	item, err := s.store.GetRecurringIncome(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != ownerID {
		return nil, &domain.ErrNotFound{Resource: "recurring_income", ID: itemID}
	}
	return item, nil
}

func isConflict(err error) bool {
	var conflict *domain.ErrConflict
	return errors.As(err, &conflict)
}
