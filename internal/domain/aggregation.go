package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Daily aggregations (materialized view over the ledger)
// ============================================================

// DailyAggregation is one precomputed row of per-day totals. CategoryID is
// empty for the day's all-categories totals row; each category that saw a
// transaction on the day additionally gets its own row.
//
// TotalIncome and TotalExpenses are positive magnitudes (the sign lives in
// the field name); NetFlow = TotalIncome - TotalExpenses. Derived data:
// the full set can always be rebuilt from the transaction log.
type DailyAggregation struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	Day              time.Time       `json:"day"`
	CategoryID       string          `json:"category_id,omitempty"`
	TotalIncome      decimal.Decimal `json:"total_income"`
	TotalExpenses    decimal.Decimal `json:"total_expenses"`
	NetFlow          decimal.Decimal `json:"net_flow"`
	TransactionCount int             `json:"transaction_count"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Add folds one signed transaction amount into the row.
func (a *DailyAggregation) Add(signed decimal.Decimal) {
	if signed.IsNegative() {
		a.TotalExpenses = a.TotalExpenses.Add(signed.Neg())
	} else {
		a.TotalIncome = a.TotalIncome.Add(signed)
	}
	a.NetFlow = a.TotalIncome.Sub(a.TotalExpenses)
	a.TransactionCount++
}
