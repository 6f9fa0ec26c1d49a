// Package metrics defines the Prometheus collectors used by the retrieval
// service and exposes an HTTP handler for scraping. Collectors are registered
// on a per-instance registry so tests and embedded engines do not collide on
// the global default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	TermFetchesTotal     *prometheus.CounterVec
	TermFetchDuration    *prometheus.HistogramVec
	ShardReadFailures    *prometheus.CounterVec
	PostingBytesRead     *prometheus.CounterVec
	PartialResultsTotal  *prometheus.CounterVec
	ShardReadsTotal      *prometheus.CounterVec
	ShardReadDuration    *prometheus.HistogramVec
	ActiveShards         *prometheus.GaugeVec
	CircuitBreakerState  *prometheus.GaugeVec
	DocsIndexedTotal     prometheus.Counter
	ShardsWrittenTotal   *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates and registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by endpoint and outcome (ok, partial, zero_result, error).",
			},
			[]string{"endpoint", "outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"endpoint", "cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
			},
			[]string{"endpoint"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		TermFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "term_fetches_total",
				Help: "Posting list fetches by index and status (ok, missing, error).",
			},
			[]string{"index", "status"},
		),
		TermFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "term_fetch_duration_seconds",
				Help:    "Time to fetch and decode one posting list.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"index"},
		),
		ShardReadFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shard_read_failures_total",
				Help: "Query terms scored as empty because their posting list could not be read.",
			},
			[]string{"index"},
		),
		PostingBytesRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "posting_bytes_read_total",
				Help: "Encoded posting bytes read from shards.",
			},
			[]string{"index"},
		),
		PartialResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partial_results_total",
				Help: "Queries answered with partial results after the deadline.",
			},
			[]string{"index"},
		),
		ShardReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shard_reads_total",
				Help: "Shard range reads by index and status (ok, error, timeout, rejected).",
			},
			[]string{"index", "status"},
		),
		ShardReadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shard_read_duration_seconds",
				Help:    "Shard range read latency including retries.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
			},
			[]string{"index"},
		),
		ActiveShards: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "active_shards",
				Help: "Number of shards served per index.",
			},
			[]string{"index"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed by the offline builder.",
			},
		),
		ShardsWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shards_written_total",
				Help: "Shard files written by the offline builder.",
			},
			[]string{"index"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.TermFetchesTotal,
		m.TermFetchDuration,
		m.ShardReadFailures,
		m.PostingBytesRead,
		m.PartialResultsTotal,
		m.ShardReadsTotal,
		m.ShardReadDuration,
		m.ActiveShards,
		m.CircuitBreakerState,
		m.DocsIndexedTotal,
		m.ShardsWrittenTotal,
	)

	return m
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape HTTP handler for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTermFetch(index, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TermFetchesTotal.WithLabelValues(index, status).Inc()
	m.TermFetchDuration.WithLabelValues(index).Observe(d.Seconds())
}

func (m *Metrics) IncShardReadFailure(index string) {
	if m == nil {
		return
	}
	m.ShardReadFailures.WithLabelValues(index).Inc()
}

func (m *Metrics) AddPostingBytes(index string, n int) {
	if m == nil {
		return
	}
	m.PostingBytesRead.WithLabelValues(index).Add(float64(n))
}

func (m *Metrics) IncPartialResult(index string) {
	if m == nil {
		return
	}
	m.PartialResultsTotal.WithLabelValues(index).Inc()
}

func (m *Metrics) ObserveShardRead(index, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ShardReadsTotal.WithLabelValues(index, status).Inc()
	m.ShardReadDuration.WithLabelValues(index).Observe(d.Seconds())
}

func (m *Metrics) SetActiveShards(index string, n int) {
	if m == nil {
		return
	}
	m.ActiveShards.WithLabelValues(index).Set(float64(n))
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) ObserveSearch(endpoint, outcome, cacheStatus string, results int, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(endpoint, outcome).Inc()
	m.SearchLatency.WithLabelValues(endpoint, cacheStatus).Observe(d.Seconds())
	m.SearchResultsCount.WithLabelValues(endpoint).Observe(float64(results))
}

func (m *Metrics) IncCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) AddDocsIndexed(n int) {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.Add(float64(n))
}

func (m *Metrics) IncShardsWritten(index string) {
	if m == nil {
		return
	}
	m.ShardsWrittenTotal.WithLabelValues(index).Inc()
}
