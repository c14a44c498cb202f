package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/soldi-app/soldi-ledger-go/internal/config"
	"github.com/soldi-app/soldi-ledger-go/internal/domain"
	"github.com/soldi-app/soldi-ledger-go/internal/handler"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/cache"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/docstore"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/observability"
	"github.com/soldi-app/soldi-ledger-go/internal/infra/resilience"
	"github.com/soldi-app/soldi-ledger-go/internal/port"
	"github.com/soldi-app/soldi-ledger-go/internal/service"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("use_memory_store", cfg.UseMemoryStore),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "soldi-ledger")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Record store ---
	var store port.RecordStore
	if cfg.UseMemoryStore || cfg.DocstoreURL == "" {
		logger.Warn("using in-memory record store; data is not persisted")
		store = docstore.NewMemory()
	} else {
		logger.Info("using hosted record store", zap.String("docstore_url", cfg.DocstoreURL))
		store = docstore.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.DocstoreURL,
			cfg.DocstoreAnonKey,
			cfg.DocstoreServiceKey,
			resilience.NewCircuitBreaker("docstore"),
			resilience.Config{
				MaxRetries:     cfg.MaxRetries,
				InitialBackoff: cfg.InitialBackoff,
			},
			logger,
		)
	}

	// --- Services ---
	clock := systemClock{}
	rangeCache := cache.New[[]domain.DailyAggregation](cfg.CacheTTL)

	aggregationSvc := service.NewAggregationService(store, rangeCache, metrics, logger, clock)
	ledgerSvc := service.NewLedgerService(store, aggregationSvc, metrics, logger, clock)
	accountSvc := service.NewAccountService(store, aggregationSvc, metrics, logger, clock)
	recurrenceSvc := service.NewRecurrenceService(store, aggregationSvc, metrics, logger, clock)
	budgetSvc := service.NewBudgetService(store, metrics, logger, clock)

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Accounts:     accountSvc,
		Ledger:       ledgerSvc,
		Aggregations: aggregationSvc,
		Recurrence:   recurrenceSvc,
		Budgets:      budgetSvc,
	}, store, metrics, logger, cfg.JWTSecret)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
