package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/sony/gobreaker"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

// Metrics holds all Prometheus metrics for the finance API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	rowsMaterialized  *prometheus.CounterVec
	integrityWarnings prometheus.Counter
	mutations         *prometheus.CounterVec
	settled           prometheus.Counter
	breakerState      *prometheus.GaugeVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finance_request_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finance_external_errors_total",
				Help: "Total errors from the storage backend.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finance_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finance_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		rowsMaterialized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finance_rows_materialized_total",
				Help: "Rows returned by month reads, by origin.",
			},
			[]string{"origin"},
		),
		integrityWarnings: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "finance_integrity_warnings_total",
				Help: "Stored records skipped because they could not be resolved.",
			},
		),
		mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finance_series_mutations_total",
				Help: "Edits and deletes by action and scope.",
			},
			[]string{"action", "scope"},
		),
		settled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "finance_settled_occurrences_total",
				Help: "Due occurrences persisted by settlement.",
			},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finance_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
			},
			[]string{"name"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordMaterialized counts the rows of one month read.
func (m *Metrics) RecordMaterialized(persisted, virtual, warnings int) {
	m.rowsMaterialized.WithLabelValues("persisted").Add(float64(persisted))
	m.rowsMaterialized.WithLabelValues("virtual").Add(float64(virtual))
	m.integrityWarnings.Add(float64(warnings))
}

// IncrMutation counts an applied edit or delete.
func (m *Metrics) IncrMutation(action, scope string) {
	m.mutations.WithLabelValues(action, scope).Inc()
}

// AddSettled counts occurrences persisted by settlement.
func (m *Metrics) AddSettled(n int) {
	m.settled.Add(float64(n))
}

// BreakerStateChanged is a resilience.StateChangeFunc.
func (m *Metrics) BreakerStateChanged(name string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// GetSeriesSnapshot returns the series counters for GET /metrics/series.
func (m *Metrics) GetSeriesSnapshot() *domain.SeriesMetrics {
	persisted := getCounterValue(m.rowsMaterialized.WithLabelValues("persisted"))
	virtual := getCounterValue(m.rowsMaterialized.WithLabelValues("virtual"))
	hits := getCounterValue(m.cacheHits.WithLabelValues("reference"))
	misses := getCounterValue(m.cacheMisses.WithLabelValues("reference"))

	virtualRatio := float64(0)
	if persisted+virtual > 0 {
		virtualRatio = virtual / (persisted + virtual)
	}
	cacheHitRate := float64(0)
	if hits+misses > 0 {
		cacheHitRate = hits / (hits + misses)
	}

	return &domain.SeriesMetrics{
		PersistedRows:      int64(persisted),
		VirtualRows:        int64(virtual),
		VirtualRatio:       virtualRatio,
		IntegrityWarnings:  int64(getCounterValue(m.integrityWarnings)),
		SettledOccurrences: int64(getCounterValue(m.settled)),
		CacheHitRate:       cacheHitRate,
		Period:             "all_time",
	}
}

// getCounterValue extracts the current float64 value of a counter.
func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
