// Package docstore implements the record store against a hosted PostgREST
// document API, plus an in-memory variant for local runs and tests.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/resilience"
	"github.com/soldi-app/soldi-ledger-go/internal/port"
)

var tracer = otel.Tracer("docstore")

// Client talks to the hosted record store's PostgREST API. Multi-record
// atomic writes go through the atomic_batch database function so they commit
// in a single transaction.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a record-store client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// statusError carries a non-2xx response so retry logic can tell client
// mistakes (no point retrying) from server trouble.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("record store returned %d: %s", e.status, e.body)
}

func (e *statusError) retryable() bool {
	return e.status >= 500 || e.status == http.StatusTooManyRequests
}

func (c *Client) setHeaders(req *http.Request, prefer string) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
}

// doRequest executes one authenticated request against the PostgREST API.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any, prefer string) ([]byte, error) {
	fullURL := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, prefer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("docstore: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("docstore: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, &statusError{status: resp.StatusCode, body: string(body)}
	}

	c.logger.Debug("docstore: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return body, nil
}

// execute runs fn behind the circuit breaker, retrying transient failures.
// Non-retryable 4xx responses pass straight through.
func (c *Client) execute(ctx context.Context, fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			err := fn()
			if se, ok := err.(*statusError); ok && !se.retryable() {
				// Surface immediately; backoff won't change a 4xx.
				return &permanentError{se}
			}
			return err
		})
	})
	if pe, ok := err.(*permanentError); ok {
		return pe.err
	}
	return err
}

// permanentError short-circuits retry for non-retryable responses. It still
// counts as a failure toward the breaker.
type permanentError struct {
	err *statusError
}

func (e *permanentError) Error() string { return e.err.Error() }

// getList fetches and decodes a PostgREST row set.
func (c *Client) getList(ctx context.Context, op, path string, out any) error {
	err := c.execute(ctx, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return err
		}
		if len(body) == 0 {
			return nil
		}
		return json.Unmarshal(body, out)
	})
	if err != nil {
		return &domain.ErrStorage{Op: op, Err: err}
	}
	return nil
}

// put upserts one record into a table, keyed on its id column.
func (c *Client) put(ctx context.Context, op, table string, record any) error {
	err := c.execute(ctx, func() error {
		path := fmt.Sprintf("%s?on_conflict=id", table)
		_, err := c.doRequest(ctx, http.MethodPost, path, record, "resolution=merge-duplicates,return=minimal")
		return err
	})
	if err != nil {
		return &domain.ErrStorage{Op: op, Err: err}
	}
	return nil
}

// ============================================================
// Accounts
// ============================================================

func (c *Client) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Docstore.GetAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	path := fmt.Sprintf("accounts?id=eq.%s&owner_id=eq.%s&limit=1",
		url.QueryEscape(accountID), url.QueryEscape(ownerID))
	var rows []domain.Account
	if err := c.getList(ctx, "accounts.get", path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return &rows[0], nil
}

func (c *Client) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Docstore.ListAccounts")
	defer span.End()

	path := fmt.Sprintf("accounts?owner_id=eq.%s&order=created_at.asc", url.QueryEscape(ownerID))
	rows := []domain.Account{}
	if err := c.getList(ctx, "accounts.list", path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) PutAccount(ctx context.Context, account *domain.Account) error {
	ctx, span := tracer.Start(ctx, "Docstore.PutAccount")
	defer span.End()

	return c.put(ctx, "accounts.put", "accounts", account)
}

// ============================================================
// Transactions
// ============================================================

func (c *Client) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Docstore.GetTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id))

	path := fmt.Sprintf("transactions?id=eq.%s&limit=1", url.QueryEscape(id))
	var rows []domain.Transaction
	if err := c.getList(ctx, "transactions.get", path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	return &rows[0], nil
}

func (c *Client) ListTransactionsByOwner(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Docstore.ListTransactionsByOwner")
	defer span.End()

	path := fmt.Sprintf("transactions?owner_id=eq.%s&order=date.desc", url.QueryEscape(ownerID))
	rows := []domain.Transaction{}
	if err := c.getList(ctx, "transactions.list", path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) ListTransactionsByAccount(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Docstore.ListTransactionsByAccount")
	defer span.End()

	path := fmt.Sprintf("transactions?account_id=eq.%s&order=date.desc", url.QueryEscape(accountID))
	rows := []domain.Transaction{}
	if err := c.getList(ctx, "transactions.list", path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) ListTransactionsByDateRange(ctx context.Context, ownerID string, start, end time.Time) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Docstore.ListTransactionsByDateRange")
	defer span.End()

	// The end day is inclusive: filter strictly below the next day's
	// midnight so a record dated exactly at that boundary stays out.
	path := fmt.Sprintf("transactions?owner_id=eq.%s&date=gte.%s&date=lt.%s&order=date.desc",
		url.QueryEscape(ownerID),
		domain.DayOf(start).Format(time.RFC3339),
		domain.DayOf(end).AddDate(0, 0, 1).Format(time.RFC3339),
	)
	rows := []domain.Transaction{}
	if err := c.getList(ctx, "transactions.list", path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ============================================================
// Daily aggregations
// ============================================================

func (c *Client) GetAggregationByKey(ctx context.Context, ownerID string, day time.Time, categoryID string) (*domain.DailyAggregation, error) {
	ctx, span := tracer.Start(ctx, "Docstore.GetAggregationByKey")
	defer span.End()

	catFilter := "category_id=is.null"
	if categoryID != "" {
		catFilter = fmt.Sprintf("category_id=eq.%s", url.QueryEscape(categoryID))
	}
	path := fmt.Sprintf("daily_aggregations?owner_id=eq.%s&day=eq.%s&%s&limit=1",
		url.QueryEscape(ownerID), domain.DayOf(day).Format("2006-01-02"), catFilter)

	var rows []domain.DailyAggregation
	if err := c.getList(ctx, "aggregations.get", path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "daily_aggregation", ID: aggregationKey(ownerID, day, categoryID)}
	}
	return &rows[0], nil
}

func (c *Client) PutAggregation(ctx context.Context, row *domain.DailyAggregation) error {
	ctx, span := tracer.Start(ctx, "Docstore.PutAggregation")
	defer span.End()

	return c.put(ctx, "aggregations.put", "daily_aggregations", row)
}

func (c *Client) ListAggregations(ctx context.Context, ownerID string, start, end time.Time, categoryID *string) ([]domain.DailyAggregation, error) {
	ctx, span := tracer.Start(ctx, "Docstore.ListAggregations")
	defer span.End()

	path := fmt.Sprintf("daily_aggregations?owner_id=eq.%s&day=gte.%s&day=lte.%s&order=day.asc",
		url.QueryEscape(ownerID),
		domain.DayOf(start).Format("2006-01-02"),
		domain.DayOf(end).Format("2006-01-02"),
	)
	if categoryID != nil {
		if *categoryID == "" {
			path += "&category_id=is.null"
		} else {
			path += fmt.Sprintf("&category_id=eq.%s", url.QueryEscape(*categoryID))
		}
	}
	rows := []domain.DailyAggregation{}
	if err := c.getList(ctx, "aggregations.list", path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) ReplaceAggregations(ctx context.Context, ownerID string, rows []domain.DailyAggregation) error {
	ctx, span := tracer.Start(ctx, "Docstore.ReplaceAggregations")
	defer span.End()
	span.SetAttributes(attribute.Int("rows", len(rows)))

	// The database function deletes the owner's rows and inserts the new
	// set in one transaction, so readers never observe a half-replaced view.
	payload := map[string]any{
		"p_owner_id": ownerID,
		"p_rows":     rows,
	}
	err := c.execute(ctx, func() error {
		_, err := c.doRequest(ctx, http.MethodPost, "rpc/replace_aggregations", payload, "")
		return err
	})
	if err != nil {
		return &domain.ErrStorage{Op: "aggregations.replace", Err: err}
	}
	return nil
}

// ============================================================
// Recurring incomes
// ============================================================

func (c *Client) GetRecurringIncome(ctx context.Context, id string) (*domain.RecurringIncome, error) {
	ctx, span := tracer.Start(ctx, "Docstore.GetRecurringIncome")
	defer span.End()

	path := fmt.Sprintf("recurring_incomes?id=eq.%s&limit=1", url.QueryEscape(id))
	var rows []domain.RecurringIncome
	if err := c.getList(ctx, "recurring.get", path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "recurring_income", ID: id}
	}
	return &rows[0], nil
}

func (c *Client) ListRecurringIncomes(ctx context.Context, ownerID string) ([]domain.RecurringIncome, error) {
	ctx, span := tracer.Start(ctx, "Docstore.ListRecurringIncomes")
	defer span.End()

	path := fmt.Sprintf("recurring_incomes?owner_id=eq.%s&order=next_occurrence_date.asc", url.QueryEscape(ownerID))
	rows := []domain.RecurringIncome{}
	if err := c.getList(ctx, "recurring.list", path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) ListDueRecurringIncomes(ctx context.Context, ownerID string, asOf time.Time) ([]domain.RecurringIncome, error) {
	ctx, span := tracer.Start(ctx, "Docstore.ListDueRecurringIncomes")
	defer span.End()

	path := fmt.Sprintf("recurring_incomes?owner_id=eq.%s&status=eq.active&next_occurrence_date=lte.%s&order=next_occurrence_date.asc",
		url.QueryEscape(ownerID), asOf.UTC().Format(time.RFC3339))
	rows := []domain.RecurringIncome{}
	if err := c.getList(ctx, "recurring.list_due", path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) PutRecurringIncome(ctx context.Context, item *domain.RecurringIncome) error {
	ctx, span := tracer.Start(ctx, "Docstore.PutRecurringIncome")
	defer span.End()

	return c.put(ctx, "recurring.put", "recurring_incomes", item)
}

// ============================================================
// Budgets
// ============================================================

func (c *Client) GetBudget(ctx context.Context, ownerID, budgetID string) (*domain.Budget, error) {
	ctx, span := tracer.Start(ctx, "Docstore.GetBudget")
	defer span.End()

	path := fmt.Sprintf("budgets?id=eq.%s&owner_id=eq.%s&limit=1",
		url.QueryEscape(budgetID), url.QueryEscape(ownerID))
	var rows []domain.Budget
	if err := c.getList(ctx, "budgets.get", path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "budget", ID: budgetID}
	}
	return &rows[0], nil
}

func (c *Client) ListBudgets(ctx context.Context, ownerID string) ([]domain.Budget, error) {
	ctx, span := tracer.Start(ctx, "Docstore.ListBudgets")
	defer span.End()

	path := fmt.Sprintf("budgets?owner_id=eq.%s&order=created_at.asc", url.QueryEscape(ownerID))
	rows := []domain.Budget{}
	if err := c.getList(ctx, "budgets.list", path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) PutBudget(ctx context.Context, budget *domain.Budget) error {
	ctx, span := tracer.Start(ctx, "Docstore.PutBudget")
	defer span.End()

	return c.put(ctx, "budgets.put", "budgets", budget)
}

func (c *Client) DeleteBudget(ctx context.Context, ownerID, budgetID string) error {
	ctx, span := tracer.Start(ctx, "Docstore.DeleteBudget")
	defer span.End()

	err := c.execute(ctx, func() error {
		path := fmt.Sprintf("budgets?id=eq.%s&owner_id=eq.%s",
			url.QueryEscape(budgetID), url.QueryEscape(ownerID))
		_, err := c.doRequest(ctx, http.MethodDelete, path, nil, "")
		return err
	})
	if err != nil {
		return &domain.ErrStorage{Op: "budgets.delete", Err: err}
	}
	return nil
}

// ============================================================
// Atomic batch
// ============================================================

// wireOp is the JSON form of one batch op, dispatched by the atomic_batch
// database function on its "op" tag.
type wireOp struct {
	Op string `json:"op"`

	Transaction *domain.Transaction     `json:"transaction,omitempty"`
	Recurring   *domain.RecurringIncome `json:"recurring,omitempty"`

	ID         string `json:"id,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	ExpectNext string `json:"expect_next,omitempty"`
}

func encodeOps(ops []port.BatchOp) []wireOp {
	out := make([]wireOp, 0, len(ops))
	for _, op := range ops {
		switch o := op.(type) {
		case port.PutTransactionOp:
			tx := o.Transaction
			out = append(out, wireOp{Op: "put_transaction", Transaction: &tx})
		case port.DeleteTransactionOp:
			out = append(out, wireOp{Op: "delete_transaction", ID: o.ID})
		case port.AdjustBalanceOp:
			out = append(out, wireOp{Op: "adjust_balance", AccountID: o.AccountID, Delta: o.Delta.String()})
		case port.AdvanceRecurringOp:
			item := o.Item
			out = append(out, wireOp{
				Op:         "advance_recurring",
				Recurring:  &item,
				ExpectNext: o.ExpectNext.UTC().Format(time.RFC3339),
			})
		case port.DeleteRecurringOp:
			out = append(out, wireOp{Op: "delete_recurring", ID: o.ID})
		case port.DeleteAccountOp:
			out = append(out, wireOp{Op: "delete_account", ID: o.ID})
		}
	}
	return out
}

// AtomicBatch submits the ops to the atomic_batch database function, which
// applies them in a single transaction. A failed precondition raises a
// conflict there and surfaces as *domain.ErrConflict here; the transaction
// rolls back so nothing is partially applied.
func (c *Client) AtomicBatch(ctx context.Context, ops []port.BatchOp) error {
	ctx, span := tracer.Start(ctx, "Docstore.AtomicBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("ops", len(ops)))

	payload := map[string]any{"p_ops": encodeOps(ops)}
	err := c.execute(ctx, func() error {
		_, err := c.doRequest(ctx, http.MethodPost, "rpc/atomic_batch", payload, "")
		return err
	})
	if err != nil {
		if se, ok := err.(*statusError); ok && se.status == http.StatusConflict {
			return &domain.ErrConflict{Message: se.body}
		}
		return &domain.ErrStorage{Op: "atomic_batch", Err: err}
	}
	return nil
}
