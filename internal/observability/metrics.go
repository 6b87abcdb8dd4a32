package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nasaaccess"

// Metrics holds the Prometheus counters, histograms, and gauges for extraction runs.
type Metrics struct {
	RequestsConsumed    prometheus.Counter
	CompletionsProduced prometheus.Counter
	RunErrors           prometheus.Counter
	RunActive           prometheus.Gauge

	// Per-function metrics.
	DaysProcessed    *prometheus.CounterVec   // labels: mode, outcome={written,skipped}
	LocationsDropped *prometheus.CounterVec   // labels: mode
	FunctionDuration *prometheus.HistogramVec // labels: mode

	// Remote archive metrics.
	RemoteRequests   *prometheus.CounterVec   // labels: operation={list,download}, outcome={success,error}
	ListingCache     *prometheus.CounterVec   // labels: result={hit,miss}
	DownloadDuration *prometheus.HistogramVec // labels: product
	DownloadBytes    prometheus.Counter
}

// NewMetrics creates and registers all run metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RequestsConsumed,
		m.CompletionsProduced,
		m.RunErrors,
		m.RunActive,
		m.DaysProcessed,
		m.LocationsDropped,
		m.FunctionDuration,
		m.RemoteRequests,
		m.ListingCache,
		m.DownloadDuration,
		m.DownloadBytes,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RequestsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_consumed_total",
			Help:      "Total run requests read from the request topic.",
		}),
		CompletionsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_produced_total",
			Help:      "Total completion events written to the notify topic.",
		}),
		RunErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_errors_total",
			Help:      "Total runs that finished with at least one failed function.",
		}),
		RunActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "1 while a run is executing, 0 otherwise.",
		}),
		DaysProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "days_processed_total",
			Help:      "Days handled per function, by outcome.",
		}, []string{"mode", "outcome"}),
		LocationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locations_dropped_total",
			Help:      "Locations discarded during setup because they could not be resolved.",
		}, []string{"mode"}),
		FunctionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "function_duration_seconds",
			Help:      "Duration of one extraction function over the whole date range.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		}, []string{"mode"}),
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Archive listing and download requests by outcome.",
		}, []string{"operation", "outcome"}),
		ListingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_cache_total",
			Help:      "Directory listing cache lookups by result.",
		}, []string{"result"}),
		DownloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Grid file download duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"product"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes of grid files downloaded.",
		}),
	}
}
