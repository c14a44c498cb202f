package domain

// ServiceHealth describes one dependency's health probe result.
type ServiceHealth struct {
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	LatencyMs     int64   `json:"latency_ms"`
	UptimePercent float64 `json:"uptime_percent"`
	LastChecked   string  `json:"last_checked"`
}

// HealthStatus is the aggregate health report returned by /healthz.
type HealthStatus struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

// LedgerMetrics is a JSON snapshot of the engine's counters, served by
// GET /v1/metrics/ledger for the mobile app's diagnostics screen.
type LedgerMetrics struct {
	TransactionsPosted   int64   `json:"transactions_posted"`
	TransactionsEdited   int64   `json:"transactions_edited"`
	TransactionsDeleted  int64   `json:"transactions_deleted"`
	AggregationRebuilds  int64   `json:"aggregation_rebuilds"`
	RecurrencesProcessed int64   `json:"recurrences_processed"`
	RecurrenceErrors     int64   `json:"recurrence_errors"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
	StorageErrors        int64   `json:"storage_errors"`
}
