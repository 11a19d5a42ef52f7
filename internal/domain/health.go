package domain

// ============================================================
// Health API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// SeriesMetrics is returned by GET /metrics/series.
type SeriesMetrics struct {
	PersistedRows      int64   `json:"persistedRows"`
	VirtualRows        int64   `json:"virtualRows"`
	VirtualRatio       float64 `json:"virtualRatio"`
	IntegrityWarnings  int64   `json:"integrityWarnings"`
	SettledOccurrences int64   `json:"settledOccurrences"`
	CacheHitRate       float64 `json:"cacheHitRate"`
	Period             string  `json:"period"`
}
