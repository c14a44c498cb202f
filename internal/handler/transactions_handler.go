package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/service"
)

// ============================================================
// Transactions — post, edit, delete, list, transfer
// ============================================================

func postTransactionHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions")
		defer span.End()

		var input domain.TransactionInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		input.OwnerID = OwnerIDFromContext(ctx)

		tx, err := svc.PostTransaction(ctx, &input)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, tx)
	}
}

func getTransactionHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions/{transactionId}")
		defer span.End()

		tx, err := svc.GetTransaction(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "transactionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, tx)
	}
}

// listTransactionsHandler serves the owner's full history, or a date range
// when start/end query params are present.
func listTransactionsHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions")
		defer span.End()

		ownerID := OwnerIDFromContext(ctx)

		var (
			txs []domain.Transaction
			err error
		)
		if r.URL.Query().Get("start") != "" || r.URL.Query().Get("end") != "" {
			var start, end time.Time
			if start, err = parseDay(r, "start", time.Time{}); err != nil {
				handleServiceError(w, err, logger)
				return
			}
			if end, err = parseDay(r, "end", time.Now().UTC()); err != nil {
				handleServiceError(w, err, logger)
				return
			}
			txs, err = svc.ListByDateRange(ctx, ownerID, start, end)
		} else {
			txs, err = svc.ListByOwner(ctx, ownerID)
		}
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, txs)
	}
}

func listAccountTransactionsHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/transactions")
		defer span.End()

		txs, err := svc.ListByAccount(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "accountId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, txs)
	}
}

func editTransactionHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/transactions/{transactionId}")
		defer span.End()

		var changes domain.TransactionChanges
		if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		tx, err := svc.EditTransaction(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "transactionId"), &changes)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, tx)
	}
}

func deleteTransactionHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/transactions/{transactionId}")
		defer span.End()

		if err := svc.DeleteTransaction(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "transactionId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type transferResponse struct {
	OutLeg *domain.Transaction `json:"out_leg"`
	InLeg  *domain.Transaction `json:"in_leg"`
}

func postTransferHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transfers")
		defer span.End()

		var input domain.TransferInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		input.OwnerID = OwnerIDFromContext(ctx)

		outLeg, inLeg, err := svc.PostTransfer(ctx, &input)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, transferResponse{OutLeg: outLeg, InLeg: inLeg})
	}
}
