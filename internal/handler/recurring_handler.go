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
// Recurring incomes — create, list, cancel, process-due
// ============================================================

func createRecurringIncomeHandler(svc *service.RecurrenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/recurring-incomes")
		defer span.End()

		var input domain.RecurringIncomeInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		input.OwnerID = OwnerIDFromContext(ctx)

		item, err := svc.CreateRecurringIncome(ctx, &input)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

func listRecurringIncomesHandler(svc *service.RecurrenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/recurring-incomes")
		defer span.End()

		items, err := svc.ListRecurringIncomes(ctx, OwnerIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func cancelRecurringIncomeHandler(svc *service.RecurrenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/recurring-incomes/{itemId}")
		defer span.End()

		if err := svc.CancelRecurringIncome(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "itemId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// processDueHandler runs the owner's due items, optionally as of an explicit
// date (?as_of=YYYY-MM-DD); the app-foreground hook calls this on launch.
func processDueHandler(svc *service.RecurrenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/recurring-incomes/process-due")
		defer span.End()

		asOf, err := parseDay(r, "as_of", time.Now().UTC())
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		summary, err := svc.ProcessAllDue(ctx, OwnerIDFromContext(ctx), asOf)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}
