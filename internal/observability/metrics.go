package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for RainLens.
// A nil *Metrics is valid and records nothing, so library code can be used
// without a registry.
type Metrics struct {
	// --- Queries ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryEntries  *prometheus.GaugeVec

	// --- Retrieval ---
	AccountsFetched  *prometheus.CounterVec
	RetrievalRetries *prometheus.CounterVec
	RetrievalErrors  *prometheus.CounterVec

	// --- Decoding ---
	RecordsDecoded *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec

	// --- Cache ---
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// --- Snapshot sinks ---
	SnapshotsPersisted prometheus.Counter
	PersistErrors      prometheus.Counter
	SnapshotsPublished prometheus.Counter
	PublishErrors      prometheus.Counter

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	// Account scans over a public RPC node take from tens of milliseconds
	// to tens of seconds.
	queryBuckets := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

	return &Metrics{
		// Queries
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rain_query_requests_total",
			Help: "Aggregate queries by view and outcome",
		}, []string{"view", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rain_query_duration_seconds",
			Help:    "End-to-end aggregate query latency",
			Buckets: queryBuckets,
		}, []string{"view"}),

		QueryEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rain_query_entries",
			Help: "Users in the most recent aggregate per view",
		}, []string{"view"}),

		// Retrieval
		AccountsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rain_accounts_fetched_total",
			Help: "Program accounts returned by the RPC node",
		}, []string{"kind"}),

		RetrievalRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rain_retrieval_retries_total",
			Help: "getProgramAccounts retries after a retryable failure",
		}, []string{"kind"}),

		RetrievalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rain_retrieval_errors_total",
			Help: "getProgramAccounts calls that failed after retries",
		}, []string{"kind"}),

		// Decoding
		RecordsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rain_records_decoded_total",
			Help: "Pool and Loan records decoded",
		}, []string{"kind"}),

		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rain_decode_errors_total",
			Help: "Record batches rejected by the decoder",
		}, []string{"kind"}),

		// Cache
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rain_cache_hits_total",
			Help: "Snapshot cache hits",
		}, []string{"view"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rain_cache_misses_total",
			Help: "Snapshot cache misses, including expired entries",
		}, []string{"view"}),

		// Snapshot sinks
		SnapshotsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rain_snapshots_persisted_total",
			Help: "Snapshots written to Postgres",
		}),

		PersistErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rain_snapshot_persist_errors_total",
			Help: "Snapshot writes that failed",
		}),

		SnapshotsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "rain_snapshots_published_total",
			Help: "Snapshots published to NATS",
		}),

		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rain_snapshot_publish_errors_total",
			Help: "Snapshot publications that failed",
		}),

		// HTTP API
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rain_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "code"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rain_http_request_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: queryBuckets,
		}, []string{"route"}),
	}
}

// ObserveQuery records one aggregate query. status is "ok" or an error class.
func (m *Metrics) ObserveQuery(view, status string, d time.Duration, entries int) {
	if m == nil {
		return
	}
	m.QueryRequests.WithLabelValues(view, status).Inc()
	m.QueryDuration.WithLabelValues(view).Observe(d.Seconds())
	if status == "ok" {
		m.QueryEntries.WithLabelValues(view).Set(float64(entries))
	}
}

// ObserveFetch records a completed retrieval of n accounts of kind.
func (m *Metrics) ObserveFetch(kind string, n int) {
	if m == nil {
		return
	}
	m.AccountsFetched.WithLabelValues(kind).Add(float64(n))
}

// ObserveRetry records one retrieval retry.
func (m *Metrics) ObserveRetry(kind string) {
	if m == nil {
		return
	}
	m.RetrievalRetries.WithLabelValues(kind).Inc()
}

// ObserveRetrievalError records a retrieval that exhausted its retries.
func (m *Metrics) ObserveRetrievalError(kind string) {
	if m == nil {
		return
	}
	m.RetrievalErrors.WithLabelValues(kind).Inc()
}

// ObserveDecode records a decoded batch, or a rejected one when err != nil.
func (m *Metrics) ObserveDecode(kind string, n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DecodeErrors.WithLabelValues(kind).Inc()
		return
	}
	m.RecordsDecoded.WithLabelValues(kind).Add(float64(n))
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(view string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(view).Inc()
	} else {
		m.CacheMisses.WithLabelValues(view).Inc()
	}
}

// ObservePersist records one snapshot write.
func (m *Metrics) ObservePersist(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PersistErrors.Inc()
		return
	}
	m.SnapshotsPersisted.Inc()
}

// ObservePublish records one snapshot publication.
func (m *Metrics) ObservePublish(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishErrors.Inc()
		return
	}
	m.SnapshotsPublished.Inc()
}

// ObserveHTTP records one HTTP API request.
func (m *Metrics) ObserveHTTP(route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}
