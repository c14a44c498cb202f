package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/handler"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/cache"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/docstore"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/observability"
	"github.com/soldi-app/soldi-ledger-go/internal/service"
)

const testSecret = "router-test-secret"

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	store := docstore.NewMemory()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	clock := realClock{}
	rangeCache := cache.New[[]domain.DailyAggregation](time.Minute)

	aggregations := service.NewAggregationService(store, rangeCache, metrics, logger, clock)
	svcs := handler.Services{
		Accounts:     service.NewAccountService(store, aggregations, metrics, logger, clock),
		Ledger:       service.NewLedgerService(store, aggregations, metrics, logger, clock),
		Aggregations: aggregations,
		Recurrence:   service.NewRecurrenceService(store, aggregations, metrics, logger, clock),
		Budgets:      service.NewBudgetService(store, metrics, logger, clock),
	}
	return handler.NewRouter(svcs, store, metrics, logger, testSecret)
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestOperationalEndpoints(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/ping"} {
		rec := doRequest(t, router, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/v1/accounts", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/v1/accounts", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: expected 401, got %d", rec.Code)
	}

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "owner-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec = doRequest(t, router, http.MethodGet, "/v1/accounts", signed, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong signature: expected 401, got %d", rec.Code)
	}
}

func TestAccountLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	token := signToken(t, "owner-1")

	rec := doRequest(t, router, http.MethodPost, "/v1/accounts", token, map[string]any{
		"name":            "Checking",
		"account_type":    "checking",
		"initial_balance": "1000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var account domain.Account
	if err := json.NewDecoder(rec.Body).Decode(&account); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if account.OwnerID != "owner-1" {
		t.Errorf("owner must come from the token, got %q", account.OwnerID)
	}

	rec = doRequest(t, router, http.MethodGet, "/v1/accounts/"+account.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", rec.Code)
	}

	// Another owner's token never sees the account.
	rec = doRequest(t, router, http.MethodGet, "/v1/accounts/"+account.ID, signToken(t, "owner-2"), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign owner: expected 404, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodDelete, "/v1/accounts/"+account.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
}

func TestPostTransactionOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	token := signToken(t, "owner-1")

	rec := doRequest(t, router, http.MethodPost, "/v1/accounts", token, map[string]any{
		"name":            "Checking",
		"account_type":    "checking",
		"initial_balance": "1000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account: expected 201, got %d", rec.Code)
	}
	var account domain.Account
	if err := json.NewDecoder(rec.Body).Decode(&account); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(t, router, http.MethodPost, "/v1/transactions", token, map[string]any{
		"account_id":       account.ID,
		"category_id":      "groceries",
		"amount":           "250",
		"transaction_type": "expense",
		"date":             "2024-01-03T00:00:00Z",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("post transaction: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tx domain.Transaction
	if err := json.NewDecoder(rec.Body).Decode(&tx); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.Amount.String() != "-250" {
		t.Errorf("expected canonical signed amount -250, got %s", tx.Amount.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/v1/accounts/"+account.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get account: expected 200, got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&account); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if account.Balance.String() != "750" {
		t.Errorf("expected balance 750, got %s", account.Balance.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/v1/aggregations?start=2024-01-01&end=2024-01-31", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("aggregations: expected 200, got %d", rec.Code)
	}
	var rows []domain.DailyAggregation
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected totals row plus category row, got %d", len(rows))
	}
}

func TestBadRequestsOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	token := signToken(t, "owner-1")

	rec := doRequest(t, router, http.MethodGet, "/v1/transactions/missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing transaction: expected 404, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/accounts", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/v1/aggregations?start=bogus", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", rec.Code)
	}
}
