package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/config"
	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/handler"
	"github.com/boddenberg/finance-tracker-api/internal/infra/cache"
	"github.com/boddenberg/finance-tracker-api/internal/infra/memory"
	"github.com/boddenberg/finance-tracker-api/internal/infra/mysql"
	"github.com/boddenberg/finance-tracker-api/internal/infra/observability"
	"github.com/boddenberg/finance-tracker-api/internal/infra/resilience"
	"github.com/boddenberg/finance-tracker-api/internal/infra/supabase"
	"github.com/boddenberg/finance-tracker-api/internal/port"
	"github.com/boddenberg/finance-tracker-api/internal/series"
	"github.com/boddenberg/finance-tracker-api/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_driver", cfg.StoreDriver),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("jwt_ttl", cfg.JWTTTL),
		zap.String("settle_cron", cfg.SettleCron),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(context.Background(), cfg.OTLPEndpoint, "finance-tracker-api")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("store", metrics.BreakerStateChanged)

	// --- Store ---
	store, err := openStore(cfg, cb, resilienceCfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	// --- Cache ---
	bankCache := cache.New[[]domain.Bank](cfg.CacheTTL)
	defer bankCache.Close()
	cardCache := cache.New[[]domain.CreditCard](cfg.CacheTTL)
	defer cardCache.Close()

	// --- Services ---
	refSvc := service.NewReferenceService(store, store, bankCache, cardCache, metrics, logger)
	txSvc := service.NewTransactionService(store, refSvc, series.NewPlanner(), metrics, logger)
	authSvc := service.NewAuthService(store, cfg.JWTSecret, cfg.JWTTTL, uuid.NewString, logger)
	settleSvc := service.NewSettlementService(txSvc)

	scheduler, err := service.StartScheduler(cfg.SettleCron, settleSvc, logger)
	if err != nil {
		logger.Fatal("failed to start settlement scheduler", zap.Error(err))
	}

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Transactions: txSvc,
		References:   refSvc,
		Auth:         authSvc,
		Settlement:   settleSvc,
		Store:        store,
		StoreName:    cfg.StoreDriver,
	}, metrics, logger)

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

	// a settlement run in flight finishes before the store closes
	<-scheduler.Stop().Done()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func openStore(cfg *config.Config, cb *gobreaker.CircuitBreaker, rcfg resilience.Config, logger *zap.Logger) (port.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		logger.Info("using MySQL as data backend", zap.String("db_host", cfg.DBHost))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return mysql.Open(ctx, mysql.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			MaxConns: cfg.DBMaxConns,
		}, cb, rcfg, logger)
	case config.DriverSupabase:
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		return supabase.NewClient(httpClient, cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.SupabaseServiceKey, cb, rcfg, logger), nil
	default:
		logger.Warn("using in-memory store, data is lost on restart")
		return memory.NewStore(), nil
	}
}
