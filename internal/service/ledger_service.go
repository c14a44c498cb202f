// Package service provides the business logic layer (use cases): the ledger,
// the aggregation engine, the recurrence scheduler, the budget tracker and
// account management.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/observability"
	"github.com/soldi-app/soldi-ledger-go/internal/port"
)

var ledgerTracer = otel.Tracer("service/ledger")

// LedgerService owns all transaction mutations. Every mutation commits the
// transaction record and its balance effect in one atomic batch, then
// brings the aggregation view up to date (incrementally on post, full
// rebuild on edit/delete).
type LedgerService struct {
	store        port.RecordStore
	aggregations *AggregationService
	metrics      *observability.Metrics
	logger       *zap.Logger
	clock        port.Clock
}

// NewLedgerService creates the ledger service.
func NewLedgerService(store port.RecordStore, aggregations *AggregationService, metrics *observability.Metrics, logger *zap.Logger, clock port.Clock) *LedgerService {
	return &LedgerService{store: store, aggregations: aggregations, metrics: metrics, logger: logger, clock: clock}
}

// PostTransaction validates and commits a new expense or income entry.
// The input carries an unsigned magnitude plus a type tag; conversion to the
// canonical signed amount happens here, once, and everything downstream
// consumes the signed value.
func (s *LedgerService) PostTransaction(ctx context.Context, input *domain.TransactionInput) (*domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.PostTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", input.OwnerID))

	start := s.clock.Now()

	if !input.Amount.IsPositive() {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	if !input.Type.Valid() {
		return nil, &domain.ErrValidation{Field: "transaction_type", Message: "unknown type"}
	}
	if input.Type == domain.TransactionTransfer {
		return nil, &domain.ErrValidation{Field: "transaction_type", Message: "transfers are posted via the transfer operation"}
	}
	if input.AccountID == "" {
		return nil, &domain.ErrValidation{Field: "account_id", Message: "required"}
	}

	if _, err := s.store.GetAccount(ctx, input.OwnerID, input.AccountID); err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, &domain.ErrValidation{Field: "account_id", Message: "account does not exist"}
		}
		return nil, err
	}

	now := s.clock.Now().UTC()
	date := input.Date
	if date.IsZero() {
		date = now
	}

	signed := domain.SignedAmount(input.Amount, input.Type)
	tx := domain.Transaction{
		ID:            uuid.New().String(),
		OwnerID:       input.OwnerID,
		AccountID:     input.AccountID,
		CategoryID:    input.CategoryID,
		Amount:        signed,
		Type:          input.Type,
		Date:          date,
		Description:   input.Description,
		Notes:         input.Notes,
		PaymentMethod: input.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.store.AtomicBatch(ctx, []port.BatchOp{
		port.PutTransactionOp{Transaction: tx},
		port.AdjustBalanceOp{AccountID: tx.AccountID, Delta: signed},
	})
	if err != nil {
		s.logger.Error("failed to post transaction",
			zap.String("owner_id", input.OwnerID),
			zap.Error(err),
		)
		return nil, err
	}

	s.updateAggregationsIncremental(ctx, &tx)

	s.metrics.IncrTransaction("posted")
	s.metrics.RecordOperationDuration("post_transaction", s.clock.Now().Sub(start))
	s.logger.Info("transaction posted",
		zap.String("owner_id", tx.OwnerID),
		zap.String("transaction_id", tx.ID),
		zap.String("amount", tx.Amount.String()),
		zap.String("type", string(tx.Type)),
	)
	return &tx, nil
}

// EditTransaction applies a partial in-place correction. The account balance
// moves by newSigned - oldSigned in the same batch as the record update;
// because the day or category may have changed, the aggregation view is then
// fully rebuilt rather than incrementally repaired.
func (s *LedgerService) EditTransaction(ctx context.Context, ownerID, transactionID string, changes *domain.TransactionChanges) (*domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.EditTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID))

	existing, err := s.ownedTransaction(ctx, ownerID, transactionID)
	if err != nil {
		return nil, err
	}
	if existing.Type == domain.TransactionTransfer {
		return nil, &domain.ErrValidation{Field: "transaction_type", Message: "transfer legs cannot be edited; delete the transfer and post a new one"}
	}

	updated := *existing
	if changes.Type != nil {
		if !changes.Type.Valid() || *changes.Type == domain.TransactionTransfer {
			return nil, &domain.ErrValidation{Field: "transaction_type", Message: "unknown type"}
		}
		updated.Type = *changes.Type
	}
	magnitude := existing.Magnitude()
	if changes.Amount != nil {
		if !changes.Amount.IsPositive() {
			return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
		}
		magnitude = *changes.Amount
	}
	if changes.CategoryID != nil {
		updated.CategoryID = *changes.CategoryID
	}
	if changes.Date != nil {
		updated.Date = *changes.Date
	}
	if changes.Description != nil {
		updated.Description = *changes.Description
	}
	if changes.Notes != nil {
		updated.Notes = *changes.Notes
	}
	if changes.PaymentMethod != nil {
		updated.PaymentMethod = *changes.PaymentMethod
	}

	updated.Amount = domain.SignedAmount(magnitude, updated.Type)
	updated.UpdatedAt = s.clock.Now().UTC()

	delta := updated.Amount.Sub(existing.Amount)
	err = s.store.AtomicBatch(ctx, []port.BatchOp{
		port.PutTransactionOp{Transaction: updated},
		port.AdjustBalanceOp{AccountID: updated.AccountID, Delta: delta},
	})
	if err != nil {
		s.logger.Error("failed to edit transaction",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return nil, err
	}

	s.rebuildAggregations(ctx, ownerID)

	s.metrics.IncrTransaction("edited")
	s.logger.Info("transaction edited",
		zap.String("owner_id", ownerID),
		zap.String("transaction_id", transactionID),
		zap.String("balance_delta", delta.String()),
	)
	return &updated, nil
}

// DeleteTransaction reverses the entry's balance effect atomically with the
// record deletion. Deleting one leg of a transfer removes both legs and
// reverses both balances; a half-deleted transfer is never observable.
func (s *LedgerService) DeleteTransaction(ctx context.Context, ownerID, transactionID string) error {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.DeleteTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID))

	existing, err := s.ownedTransaction(ctx, ownerID, transactionID)
	if err != nil {
		return err
	}

	legs := []domain.Transaction{*existing}
	if existing.TransferGroupID != "" {
		sibling, err := s.transferSibling(ctx, ownerID, existing)
		if err != nil {
			return err
		}
		if sibling != nil {
			legs = append(legs, *sibling)
		}
	}

	ops := make([]port.BatchOp, 0, len(legs)*2)
	for _, leg := range legs {
		ops = append(ops,
			port.DeleteTransactionOp{ID: leg.ID},
			port.AdjustBalanceOp{AccountID: leg.AccountID, Delta: leg.Amount.Neg()},
		)
	}
	if err := s.store.AtomicBatch(ctx, ops); err != nil {
		s.logger.Error("failed to delete transaction",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return err
	}

	s.rebuildAggregations(ctx, ownerID)

	s.metrics.IncrTransaction("deleted")
	s.logger.Info("transaction deleted",
		zap.String("owner_id", ownerID),
		zap.String("transaction_id", transactionID),
		zap.Int("legs", len(legs)),
	)
	return nil
}

// PostTransfer moves money between two of the owner's accounts as a pair of
// linked transfer legs committed in one batch: the debit leg, the credit
// leg, and both balance adjustments all apply or none do.
func (s *LedgerService) PostTransfer(ctx context.Context, input *domain.TransferInput) (*domain.Transaction, *domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.PostTransfer")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", input.OwnerID))

	if !input.Amount.IsPositive() {
		return nil, nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	if input.FromAccountID == input.ToAccountID {
		return nil, nil, &domain.ErrValidation{Field: "to_account_id", Message: "must differ from the source account"}
	}
	for _, accountID := range []string{input.FromAccountID, input.ToAccountID} {
		if _, err := s.store.GetAccount(ctx, input.OwnerID, accountID); err != nil {
			var notFound *domain.ErrNotFound
			if errors.As(err, &notFound) {
				return nil, nil, &domain.ErrValidation{Field: "account_id", Message: "account does not exist: " + accountID}
			}
			return nil, nil, err
		}
	}

	now := s.clock.Now().UTC()
	date := input.Date
	if date.IsZero() {
		date = now
	}
	groupID := uuid.New().String()

	outLeg := domain.Transaction{
		ID:              uuid.New().String(),
		OwnerID:         input.OwnerID,
		AccountID:       input.FromAccountID,
		Amount:          input.Amount.Neg(),
		Type:            domain.TransactionTransfer,
		Date:            date,
		Description:     input.Description,
		TransferGroupID: groupID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	inLeg := domain.Transaction{
		ID:              uuid.New().String(),
		OwnerID:         input.OwnerID,
		AccountID:       input.ToAccountID,
		Amount:          input.Amount,
		Type:            domain.TransactionTransfer,
		Date:            date,
		Description:     input.Description,
		TransferGroupID: groupID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.store.AtomicBatch(ctx, []port.BatchOp{
		port.PutTransactionOp{Transaction: outLeg},
		port.PutTransactionOp{Transaction: inLeg},
		port.AdjustBalanceOp{AccountID: input.FromAccountID, Delta: outLeg.Amount},
		port.AdjustBalanceOp{AccountID: input.ToAccountID, Delta: inLeg.Amount},
	})
	if err != nil {
		s.logger.Error("failed to post transfer",
			zap.String("owner_id", input.OwnerID),
			zap.Error(err),
		)
		return nil, nil, err
	}

	s.metrics.IncrTransaction("transferred")
	s.logger.Info("transfer posted",
		zap.String("owner_id", input.OwnerID),
		zap.String("transfer_group_id", groupID),
		zap.String("amount", input.Amount.String()),
	)
	return &outLeg, &inLeg, nil
}

// ============================================================
// Read-only queries
// ============================================================

func (s *LedgerService) ListByOwner(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListByOwner")
	defer span.End()

	return s.store.ListTransactionsByOwner(ctx, ownerID)
}

func (s *LedgerService) ListByAccount(ctx context.Context, ownerID, accountID string) ([]domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListByAccount")
	defer span.End()

	if _, err := s.store.GetAccount(ctx, ownerID, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactionsByAccount(ctx, accountID)
}

func (s *LedgerService) ListByDateRange(ctx context.Context, ownerID string, start, end time.Time) ([]domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListByDateRange")
	defer span.End()

	if end.Before(start) {
		return nil, &domain.ErrValidation{Field: "end", Message: "must not precede start"}
	}
	return s.store.ListTransactionsByDateRange(ctx, ownerID, start, end)
}

func (s *LedgerService) GetTransaction(ctx context.Context, ownerID, transactionID string) (*domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetTransaction")
	defer span.End()

	return s.ownedTransaction(ctx, ownerID, transactionID)
}

// ============================================================
// Internals
// ============================================================

// ownedTransaction loads a transaction and hides other owners' records
// behind not-found.
func (s *LedgerService) ownedTransaction(ctx context.Context, ownerID, transactionID string) (*domain.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.OwnerID != ownerID {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}
	return tx, nil
}

// transferSibling finds the other leg of a transfer pair, if it still exists.
func (s *LedgerService) transferSibling(ctx context.Context, ownerID string, leg *domain.Transaction) (*domain.Transaction, error) {
	txs, err := s.store.ListTransactionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range txs {
		if txs[i].TransferGroupID == leg.TransferGroupID && txs[i].ID != leg.ID {
			return &txs[i], nil
		}
	}
	return nil, nil
}

// updateAggregationsIncremental applies the O(1) delta after a committed
// post. The batch already committed, so a failure here only widens the
// stale-aggregation window until the next rebuild; it never unwinds the
// ledger write.
func (s *LedgerService) updateAggregationsIncremental(ctx context.Context, tx *domain.Transaction) {
	if err := s.aggregations.ApplyTransactionDelta(ctx, tx); err != nil {
		s.metrics.IncrStorageError("put")
		s.logger.Warn("aggregation delta failed; view stale until next rebuild",
			zap.String("owner_id", tx.OwnerID),
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
	}
}

// rebuildAggregations runs a full rebuild after an edit or delete, with the
// same accepted staleness window on failure.
func (s *LedgerService) rebuildAggregations(ctx context.Context, ownerID string) {
	if err := s.aggregations.RebuildForOwner(ctx, ownerID); err != nil {
		s.metrics.IncrStorageError("put")
		s.logger.Warn("aggregation rebuild failed; view stale until next rebuild",
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
	}
	s.aggregations.InvalidateOwner(ownerID)
}
