package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search and discovery Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lodestone",
			Name:      "search_requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"mode", "status"}, // mode: "semantic" / "lexical" / "metadata"
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lodestone",
			Name:      "search_duration_seconds",
			Help:      "End-to-end search duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"mode"},
	)

	SearchCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lodestone",
			Name:      "search_candidates",
			Help:      "Candidates considered per search before ranking",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
		},
	)

	SearchCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lodestone",
			Name:      "search_cache_total",
			Help:      "Search result cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	IndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lodestone",
			Name:      "index_size",
			Help:      "Number of embedded records in the vector index",
		},
	)

	IngestRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lodestone",
			Name:      "ingest_records_total",
			Help:      "Total records processed by ingestion",
		},
		[]string{"status"}, // "indexed" / "stored" / "failed"
	)

	DiscoveryRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lodestone",
			Name:      "discovery_runs_total",
			Help:      "Total discovery derivation runs",
		},
		[]string{"derivation", "status"}, // derivation: "clustering" / "trending" / "recommendations"
	)

	DiscoveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lodestone",
			Name:      "discovery_duration_seconds",
			Help:      "Discovery derivation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"derivation"},
	)

	AnalyticsEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lodestone",
			Name:      "analytics_events_dropped_total",
			Help:      "Analytics events dropped under backpressure",
		},
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers search and discovery metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchCandidates)
	prometheus.MustRegister(SearchCacheTotal)
	prometheus.MustRegister(IndexSize)
	prometheus.MustRegister(IngestRecordsTotal)
	prometheus.MustRegister(DiscoveryRunsTotal)
	prometheus.MustRegister(DiscoveryDuration)
	prometheus.MustRegister(AnalyticsEventsDropped)
	searchMetricsRegistered = true
}
