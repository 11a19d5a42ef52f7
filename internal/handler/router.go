package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/infra/observability"
	"github.com/boddenberg/finance-tracker-api/internal/service"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles what the router dispatches to.
type Services struct {
	Transactions *service.TransactionService
	References   *service.ReferenceService
	Auth         *service.AuthService
	Settlement   *service.SettlementService
	Store        Pinger
	StoreName    string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.Store, svc.StoreName))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/metrics/series", seriesMetricsHandler(metrics))

	// --- Auth (public) ---
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authRegisterHandler(svc.Auth, logger))
		r.Post("/login", authLoginHandler(svc.Auth, logger))
		r.With(JWTAuthMiddleware(svc.Auth, logger)).Get("/me", authMeHandler(svc.Auth, logger))
	})

	// --- Protected API ---
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(svc.Auth, logger))

		r.Get("/dashboard", dashboardHandler(svc.Transactions, logger))

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", listTransactionsHandler(svc.Transactions, logger))
			r.Post("/", createTransactionHandler(svc.Transactions, logger))
			r.Get("/{id}", getTransactionHandler(svc.Transactions, logger))
			r.Put("/{id}", editTransactionHandler(svc.Transactions, logger))
			r.Delete("/{id}", deleteTransactionHandler(svc.Transactions, logger))
			r.Delete("/{id}/recurring", deleteSeriesHandler(svc.Transactions, domain.SeriesRecurringTemplate, logger))
			r.Delete("/{id}/installments", deleteSeriesHandler(svc.Transactions, domain.SeriesInstallmentTemplate, logger))
		})

		r.Route("/banks", func(r chi.Router) {
			r.Get("/", listBanksHandler(svc.References, logger))
			r.Post("/", createBankHandler(svc.References, logger))
			r.Put("/{id}", updateBankHandler(svc.References, logger))
			r.Delete("/{id}", deleteBankHandler(svc.References, logger))
		})

		r.Route("/credit-cards", func(r chi.Router) {
			r.Get("/", listCreditCardsHandler(svc.References, logger))
			r.Post("/", createCreditCardHandler(svc.References, logger))
			r.Put("/{id}", updateCreditCardHandler(svc.References, logger))
			r.Delete("/{id}", deleteCreditCardHandler(svc.References, logger))
		})

		r.Post("/fix-recurring-transactions", settleHandler(svc.Settlement, logger))
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(store Pinger, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "finance-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			start := time.Now()
			err := store.Ping(ctx)
			status := "healthy"
			if err != nil {
				status = "unhealthy"
			}
			services = append(services, domain.ServiceHealth{
				Name: name, Status: status, LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		code := http.StatusOK
		if overallStatus == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func seriesMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetSeriesSnapshot())
	}
}
