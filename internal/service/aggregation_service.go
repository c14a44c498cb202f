package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/observability"
	"github.com/soldi-app/soldi-ledger-go/internal/port"
)

var aggTracer = otel.Tracer("service/aggregation")

// AggregationService maintains the per-day, per-category materialized view
// over the transaction log. Dashboards read exclusively through GetRange;
// raw transactions are never aggregated in presentation code.
type AggregationService struct {
	store   port.RecordStore
	cache   port.Cache[[]domain.DailyAggregation]
	metrics *observability.Metrics
	logger  *zap.Logger
	clock   port.Clock
}

// NewAggregationService creates the aggregation engine.
func NewAggregationService(store port.RecordStore, cache port.Cache[[]domain.DailyAggregation], metrics *observability.Metrics, logger *zap.Logger, clock port.Clock) *AggregationService {
	return &AggregationService{store: store, cache: cache, metrics: metrics, logger: logger, clock: clock}
}

// ApplyTransactionDelta folds one freshly inserted transaction into the
// (day, category) row and the day's all-categories totals row, creating
// either lazily. Fresh inserts only: an edited transaction may have moved
// day or category, which this O(1) path cannot repair — that goes through
// RebuildForOwner.
//
// Transfer legs are skipped: money moving between the owner's own accounts
// is neither income nor spending.
func (s *AggregationService) ApplyTransactionDelta(ctx context.Context, tx *domain.Transaction) error {
	ctx, span := aggTracer.Start(ctx, "AggregationService.ApplyTransactionDelta")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", tx.OwnerID))

	if tx.Type == domain.TransactionTransfer {
		return nil
	}

	keys := []string{""}
	if tx.CategoryID != "" {
		keys = append(keys, tx.CategoryID)
	}

	day := tx.Day()
	for _, categoryID := range keys {
		row, err := s.store.GetAggregationByKey(ctx, tx.OwnerID, day, categoryID)
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			now := s.clock.Now().UTC()
			row = &domain.DailyAggregation{
				ID:         uuid.New().String(),
				OwnerID:    tx.OwnerID,
				Day:        day,
				CategoryID: categoryID,
				CreatedAt:  now,
			}
		} else if err != nil {
			return err
		}

		row.Add(tx.Amount)
		row.UpdatedAt = s.clock.Now().UTC()
		if err := s.store.PutAggregation(ctx, row); err != nil {
			return err
		}
	}

	s.InvalidateOwner(tx.OwnerID)
	return nil
}

// RebuildForOwner recomputes the owner's entire aggregation set from the
// transaction log and atomically replaces the stored rows. O(n), but correct
// no matter what sequence of edits and deletes preceded it; running it twice
// in a row yields the same rows.
func (s *AggregationService) RebuildForOwner(ctx context.Context, ownerID string) error {
	ctx, span := aggTracer.Start(ctx, "AggregationService.RebuildForOwner")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	start := s.clock.Now()

	txs, err := s.store.ListTransactionsByOwner(ctx, ownerID)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	grouped := make(map[string]*domain.DailyAggregation)
	for i := range txs {
		tx := &txs[i]
		if tx.Type == domain.TransactionTransfer {
			continue
		}

		keys := []string{""}
		if tx.CategoryID != "" {
			keys = append(keys, tx.CategoryID)
		}
		day := tx.Day()
		for _, categoryID := range keys {
			key := fmt.Sprintf("%s|%s", day.Format("2006-01-02"), categoryID)
			row, ok := grouped[key]
			if !ok {
				row = &domain.DailyAggregation{
					ID:         uuid.New().String(),
					OwnerID:    ownerID,
					Day:        day,
					CategoryID: categoryID,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				grouped[key] = row
			}
			row.Add(tx.Amount)
		}
	}

	rows := make([]domain.DailyAggregation, 0, len(grouped))
	for _, row := range grouped {
		rows = append(rows, *row)
	}

	if err := s.store.ReplaceAggregations(ctx, ownerID, rows); err != nil {
		return err
	}

	s.InvalidateOwner(ownerID)
	s.metrics.IncrRebuild()
	s.metrics.RecordOperationDuration("aggregation_rebuild", s.clock.Now().Sub(start))
	s.logger.Info("aggregations rebuilt",
		zap.String("owner_id", ownerID),
		zap.Int("transactions", len(txs)),
		zap.Int("rows", len(rows)),
	)
	return nil
}

// GetRange returns the owner's aggregation rows with day in [start, end],
// optionally filtered to one category, ordered by day ascending. Reads are
// served from the TTL cache; every ledger write invalidates the owner's
// entries, so the staleness window is bounded by the write path, not the TTL.
func (s *AggregationService) GetRange(ctx context.Context, ownerID string, start, end time.Time, categoryID *string) ([]domain.DailyAggregation, error) {
	ctx, span := aggTracer.Start(ctx, "AggregationService.GetRange")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	if end.Before(start) {
		return nil, &domain.ErrValidation{Field: "end", Message: "must not precede start"}
	}

	key := rangeCacheKey(ownerID, start, end, categoryID)
	if rows, ok := s.cache.Get(key); ok {
		s.metrics.IncrCacheHit("aggregations")
		return rows, nil
	}
	s.metrics.IncrCacheMiss("aggregations")

	rows, err := s.store.ListAggregations(ctx, ownerID, start, end, categoryID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, rows)
	return rows, nil
}

// InvalidateOwner drops every cached range for the owner. The ledger service
// calls this after each committed write.
func (s *AggregationService) InvalidateOwner(ownerID string) {
	s.cache.DeletePrefix(ownerID + "|")
}

func rangeCacheKey(ownerID string, start, end time.Time, categoryID *string) string {
	cat := "*"
	if categoryID != nil {
		cat = *categoryID
	}
	return fmt.Sprintf("%s|%s|%s|%s",
		ownerID,
		domain.DayOf(start).Format("2006-01-02"),
		domain.DayOf(end).Format("2006-01-02"),
		cat,
	)
}
