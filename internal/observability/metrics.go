// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracker.
type Metrics struct {
	// Ingestion
	EventsDecoded *prometheus.CounterVec
	DedupHits     prometheus.Counter
	AlertsSent    prometheus.Counter

	// Feeds
	WSReconnects *prometheus.CounterVec
	PolledTrades prometheus.Counter

	// Upstreams
	ProviderFailures *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec

	// Portfolio
	PortfolioSyncs    prometheus.Counter
	PortfolioDuration prometheus.Histogram

	// Fan-out
	FanoutDuration prometheus.Histogram

	// Scheduler
	JobRuns   *prometheus.CounterVec
	JobErrors *prometheus.CounterVec
}

// NewMetrics registers all metrics on the default registry.
func NewMetrics(namespace string) *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, namespace)
}

// NewTestMetrics registers on a throwaway registry so tests can construct
// metrics repeatedly.
func NewTestMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry(), "test")
}

func newMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "dlmm_tracker"
	}
	auto := promauto.With(reg)

	return &Metrics{
		EventsDecoded: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_decoded_total",
			Help:      "Classified events by semantic kind",
		}, []string{"kind"}),
		DedupHits: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "dedup_hits_total",
			Help:      "Frames dropped by the seen-transaction sets",
		}),
		AlertsSent: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "alerts_sent_total",
			Help:      "Notifications delivered to the sink",
		}),
		WSReconnects: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "ws_reconnects_total",
			Help:      "WebSocket reconnect attempts by feed",
		}, []string{"feed"}),
		PolledTrades: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "polled_trades_total",
			Help:      "Trades injected by the backup poller",
		}),
		ProviderFailures: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "provider_failures_total",
			Help:      "Upstream call failures by provider",
		}, []string{"provider"}),
		UpstreamLatency: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream request latency by provider",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		PortfolioSyncs: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "syncs_total",
			Help:      "Portfolio sync operations completed",
		}),
		PortfolioDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "sync_duration_seconds",
			Help:      "Portfolio sync latency",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30},
		}),
		FanoutDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "dispatch_duration_seconds",
			Help:      "Fan-out dispatch latency per event",
			Buckets:   prometheus.DefBuckets,
		}),
		JobRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by job",
		}, []string{"job"}),
		JobErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_errors_total",
			Help:      "Scheduled job failures by job",
		}, []string{"job"}),
	}
}

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
