package service

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/observability"
	"github.com/soldi-app/soldi-ledger-go/internal/port"
)

var accountsTracer = otel.Tracer("service/accounts")

// AccountService manages account lifecycles. Deletion cascades: the
// account's transactions and recurring incomes go in the same batch as the
// account record, then the aggregation view is rebuilt.
type AccountService struct {
	store        port.RecordStore
	aggregations *AggregationService
	metrics      *observability.Metrics
	logger       *zap.Logger
	clock        port.Clock
}

// NewAccountService creates the account service.
func NewAccountService(store port.RecordStore, aggregations *AggregationService, metrics *observability.Metrics, logger *zap.Logger, clock port.Clock) *AccountService {
	return &AccountService{store: store, aggregations: aggregations, metrics: metrics, logger: logger, clock: clock}
}

func (s *AccountService) CreateAccount(ctx context.Context, input *domain.AccountInput) (*domain.Account, error) {
	ctx, span := accountsTracer.Start(ctx, "AccountService.CreateAccount")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", input.OwnerID))

	if input.Name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	if !input.Type.Valid() {
		return nil, &domain.ErrValidation{Field: "account_type", Message: "unknown type"}
	}
	currency := input.Currency
	if currency == "" {
		currency = "EUR"
	}

	now := s.clock.Now().UTC()
	account := domain.Account{
		ID:        uuid.New().String(),
		OwnerID:   input.OwnerID,
		Name:      input.Name,
		Balance:   input.InitialBalance,
		Type:      input.Type,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutAccount(ctx, &account); err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		zap.String("owner_id", account.OwnerID),
		zap.String("account_id", account.ID),
		zap.String("type", string(account.Type)),
	)
	return &account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	ctx, span := accountsTracer.Start(ctx, "AccountService.GetAccount")
	defer span.End()

	return s.store.GetAccount(ctx, ownerID, accountID)
}

func (s *AccountService) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	ctx, span := accountsTracer.Start(ctx, "AccountService.ListAccounts")
	defer span.End()

	return s.store.ListAccounts(ctx, ownerID)
}

// DeleteAccount removes the account, its transactions and its recurring
// incomes in one batch, then rebuilds the owner's aggregation view. Transfer
// legs on other accounts whose counterpart lived on the deleted account are
// removed too, reversing their balance effect, so no half-transfer survives.
func (s *AccountService) DeleteAccount(ctx context.Context, ownerID, accountID string) error {
	ctx, span := accountsTracer.Start(ctx, "AccountService.DeleteAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	if _, err := s.store.GetAccount(ctx, ownerID, accountID); err != nil {
		return err
	}

	txs, err := s.store.ListTransactionsByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	recurring, err := s.store.ListRecurringIncomes(ctx, ownerID)
	if err != nil {
		return err
	}

	doomedGroups := make(map[string]bool)
	for _, tx := range txs {
		if tx.AccountID == accountID && tx.TransferGroupID != "" {
			doomedGroups[tx.TransferGroupID] = true
		}
	}

	removed := 0
	ops := make([]port.BatchOp, 0, len(txs)+len(recurring)+1)
	for _, tx := range txs {
		switch {
		case tx.AccountID == accountID:
			ops = append(ops, port.DeleteTransactionOp{ID: tx.ID})
			removed++
		case tx.TransferGroupID != "" && doomedGroups[tx.TransferGroupID]:
			// Sibling leg on a surviving account: remove it and undo its
			// balance effect.
			ops = append(ops,
				port.DeleteTransactionOp{ID: tx.ID},
				port.AdjustBalanceOp{AccountID: tx.AccountID, Delta: tx.Amount.Neg()},
			)
			removed++
		}
	}
	for _, item := range recurring {
		if item.AccountID == accountID {
			ops = append(ops, port.DeleteRecurringOp{ID: item.ID})
		}
	}
	ops = append(ops, port.DeleteAccountOp{ID: accountID})

	if err := s.store.AtomicBatch(ctx, ops); err != nil {
		s.logger.Error("failed to delete account",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return err
	}

	if err := s.aggregations.RebuildForOwner(ctx, ownerID); err != nil {
		s.logger.Warn("aggregation rebuild failed after account delete",
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
	}

	s.logger.Info("account deleted",
		zap.String("owner_id", ownerID),
		zap.String("account_id", accountID),
		zap.Int("transactions_removed", removed),
	)
	return nil
}
