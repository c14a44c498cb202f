package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/soldi-app/soldi-ledger-go/internal/domain"
)

// Metrics holds all Prometheus metrics for the ledger engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	transactionsTotal *prometheus.CounterVec
	rebuildsTotal     prometheus.Counter
	recurrencesTotal  *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	storageErrors     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transactions_total",
				Help: "Total transaction mutations by action.",
			},
			[]string{"action"},
		),
		rebuildsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_aggregation_rebuilds_total",
				Help: "Total full aggregation rebuilds.",
			},
		),
		recurrencesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_recurrences_total",
				Help: "Total due-occurrence processing outcomes.",
			},
			[]string{"outcome"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		storageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_storage_errors_total",
				Help: "Total record-store failures by operation.",
			},
			[]string{"op"},
		),
	}
}

// RecordOperationDuration records the duration of a ledger operation.
func (m *Metrics) RecordOperationDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrTransaction counts a transaction mutation ("posted", "edited", "deleted").
func (m *Metrics) IncrTransaction(action string) {
	m.transactionsTotal.WithLabelValues(action).Inc()
}

// IncrRebuild counts a full aggregation rebuild.
func (m *Metrics) IncrRebuild() {
	m.rebuildsTotal.Inc()
}

// IncrRecurrence counts a due-item outcome ("processed", "skipped", "error").
func (m *Metrics) IncrRecurrence(outcome string) {
	m.recurrencesTotal.WithLabelValues(outcome).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrStorageError increments the storage error counter.
func (m *Metrics) IncrStorageError(op string) {
	m.storageErrors.WithLabelValues(op).Inc()
}

// GetLedgerSnapshot returns a snapshot of the engine's counters suitable
// for the GET /v1/metrics/ledger endpoint.
func (m *Metrics) GetLedgerSnapshot() *domain.LedgerMetrics {
	// Prometheus counters expose cumulative values.
	posted := getCounterValue(m.transactionsTotal, "posted")
	edited := getCounterValue(m.transactionsTotal, "edited")
	deleted := getCounterValue(m.transactionsTotal, "deleted")
	processed := getCounterValue(m.recurrencesTotal, "processed")
	recErrors := getCounterValue(m.recurrencesTotal, "error")
	hits := getCounterValue(m.cacheHits, "aggregations")
	misses := getCounterValue(m.cacheMisses, "aggregations")

	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	rebuilds := float64(0)
	pb := &dto.Metric{}
	if err := m.rebuildsTotal.Write(pb); err == nil && pb.Counter != nil && pb.Counter.Value != nil {
		rebuilds = *pb.Counter.Value
	}

	var storageErrs float64
	for _, op := range []string{"batch", "query", "put", "delete"} {
		storageErrs += getCounterValue(m.storageErrors, op)
	}

	return &domain.LedgerMetrics{
		TransactionsPosted:   int64(posted),
		TransactionsEdited:   int64(edited),
		TransactionsDeleted:  int64(deleted),
		AggregationRebuilds:  int64(rebuilds),
		RecurrencesProcessed: int64(processed),
		RecurrenceErrors:     int64(recErrors),
		CacheHitRate:         hitRate,
		StorageErrors:        int64(storageErrs),
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	pb := &dto.Metric{}
	if err := counter.Write(pb); err != nil {
		return 0
	}
	if pb.Counter != nil && pb.Counter.Value != nil {
		return *pb.Counter.Value
	}
	return 0
}
