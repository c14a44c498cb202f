// Package handler exposes the ledger engine over HTTP. Handlers are thin:
// they decode, delegate to a service and encode — no aggregation or ledger
// logic lives here.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/observability"
	"github.com/soldi-app/soldi-ledger-go/internal/port"
	"github.com/soldi-app/soldi-ledger-go/internal/service"
)

var tracer = otel.Tracer("handler")

// Services bundles everything the router serves.
type Services struct {
	Accounts     *service.AccountService
	Ledger       *service.LedgerService
	Aggregations *service.AggregationService
	Recurrence   *service.RecurrenceService
	Budgets      *service.BudgetService
}

// NewRouter creates the HTTP router with all routes and middleware. Every
// /v1 route runs behind the JWT middleware; the owner id always comes from
// the token, never from the request body.
func NewRouter(svcs Services, store port.RecordStore, metrics *observability.Metrics, logger *zap.Logger, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwtSecret, logger))

		// Accounts
		r.Post("/accounts", createAccountHandler(svcs.Accounts, logger))
		r.Get("/accounts", listAccountsHandler(svcs.Accounts, logger))
		r.Get("/accounts/{accountId}", getAccountHandler(svcs.Accounts, logger))
		r.Delete("/accounts/{accountId}", deleteAccountHandler(svcs.Accounts, logger))
		r.Get("/accounts/{accountId}/transactions", listAccountTransactionsHandler(svcs.Ledger, logger))

		// Transactions
		r.Post("/transactions", postTransactionHandler(svcs.Ledger, logger))
		r.Get("/transactions", listTransactionsHandler(svcs.Ledger, logger))
		r.Get("/transactions/{transactionId}", getTransactionHandler(svcs.Ledger, logger))
		r.Patch("/transactions/{transactionId}", editTransactionHandler(svcs.Ledger, logger))
		r.Delete("/transactions/{transactionId}", deleteTransactionHandler(svcs.Ledger, logger))

		// Transfers
		r.Post("/transfers", postTransferHandler(svcs.Ledger, logger))

		// Aggregations
		r.Get("/aggregations", getAggregationsHandler(svcs.Aggregations, logger))
		r.Post("/aggregations/rebuild", rebuildAggregationsHandler(svcs.Aggregations, logger))

		// Recurring incomes
		r.Post("/recurring-incomes", createRecurringIncomeHandler(svcs.Recurrence, logger))
		r.Get("/recurring-incomes", listRecurringIncomesHandler(svcs.Recurrence, logger))
		r.Delete("/recurring-incomes/{itemId}", cancelRecurringIncomeHandler(svcs.Recurrence, logger))
		r.Post("/recurring-incomes/process-due", processDueHandler(svcs.Recurrence, logger))

		// Budgets
		r.Post("/budgets", createBudgetHandler(svcs.Budgets, logger))
		r.Get("/budgets", listBudgetsHandler(svcs.Budgets, logger))
		r.Get("/budgets/{budgetId}", getBudgetHandler(svcs.Budgets, logger))
		r.Delete("/budgets/{budgetId}", deleteBudgetHandler(svcs.Budgets, logger))
		r.Post("/budgets/{budgetId}/recompute", recomputeBudgetHandler(svcs.Budgets, logger))
		r.Post("/budgets/{budgetId}/renew", renewBudgetHandler(svcs.Budgets, logger))

		// Metrics snapshot for the mobile diagnostics screen
		r.Get("/metrics/ledger", ledgerMetricsHandler(metrics, logger))
	})

	return r
}

func ledgerMetricsHandler(metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/metrics/ledger")
		defer span.End()

		writeJSON(w, http.StatusOK, metrics.GetLedgerSnapshot())
	}
}

// healthzHandler probes the record store with a cheap read and reports
// aggregate health.
func healthzHandler(store port.RecordStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		_, err := store.ListAccounts(r.Context(), "healthcheck")
		latency := time.Since(start)

		status := "ok"
		storeStatus := "ok"
		code := http.StatusOK
		if err != nil {
			logger.Warn("healthz: record store probe failed", zap.Error(err))
			status = "degraded"
			storeStatus = "unavailable"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, domain.HealthStatus{
			Status: status,
			Services: []domain.ServiceHealth{
				{
					Name:        "record_store",
					Status:      storeStatus,
					LatencyMs:   latency.Milliseconds(),
					LastChecked: time.Now().UTC().Format(time.RFC3339),
				},
			},
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
