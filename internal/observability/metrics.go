// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Run lifecycle metrics
	RunsStarted     prometheus.Counter
	RunsTerminal    *prometheus.CounterVec // label: outcome (completed|failed|cancelled|connection_lost)
	StartFailures   prometheus.Counter
	PacketsReceived *prometheus.CounterVec // label: type
	PacketsStale    prometheus.Counter
	RunProgress     prometheus.Gauge

	// Synchronizer metrics
	FetchesTotal       prometheus.Counter
	FetchFailures      prometheus.Counter
	FetchesCoalesced   prometheus.Counter
	TradesMerged       prometheus.Counter
	DealsUpserted      prometheus.Counter
	OrdersUpserted     prometheus.Counter
	WatermarkTimestamp prometheus.Gauge
	FetchDuration      prometheus.Histogram

	// Completeness metrics
	CompletenessChecks *prometheus.CounterVec // label: verdict (complete|incomplete)

	// Autosave metrics
	SavesTotal      *prometheus.CounterVec // label: target (strategy|task)
	SavesSuppressed prometheus.Counter
	SaveFailures    *prometheus.CounterVec // label: target
	FlushDuration   prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "backtest_console"
	}

	return &Metrics{
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "starts_total",
			Help:      "Total number of runs started",
		}),
		RunsTerminal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "terminal_total",
			Help:      "Total number of runs reaching a terminal state, by outcome",
		}, []string{"outcome"}),
		StartFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "start_failures_total",
			Help:      "Total number of failed start attempts",
		}),
		PacketsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "packets_received_total",
			Help:      "Total number of notification packets received, by type",
		}, []string{"type"}),
		PacketsStale: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "packets_stale_total",
			Help:      "Total number of packets dropped for a stale result ID",
		}),
		RunProgress: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "progress_percent",
			Help:      "Progress of the current run (0-100)",
		}),

		FetchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "fetches_total",
			Help:      "Total number of result delta fetches",
		}),
		FetchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "fetch_failures_total",
			Help:      "Total number of failed result delta fetches",
		}),
		FetchesCoalesced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "fetches_coalesced_total",
			Help:      "Total number of triggers coalesced into a pending fetch",
		}),
		TradesMerged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "trades_merged_total",
			Help:      "Total number of newly merged trades",
		}),
		DealsUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "deals_upserted_total",
			Help:      "Total number of deal upserts applied",
		}),
		OrdersUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "orders_upserted_total",
			Help:      "Total number of order upserts applied",
		}),
		WatermarkTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "watermark_timestamp_ms",
			Help:      "Timestamp through which results are confirmed merged",
		}),
		FetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of result delta fetches",
			Buckets:   prometheus.DefBuckets,
		}),

		CompletenessChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "results",
			Name:      "completeness_checks_total",
			Help:      "Total number of completeness checks, by verdict",
		}, []string{"verdict"}),

		SavesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "saves_total",
			Help:      "Total number of persisted saves, by target",
		}, []string{"target"}),
		SavesSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "saves_suppressed_total",
			Help:      "Total number of debounced saves skipped due to suppression",
		}),
		SaveFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "save_failures_total",
			Help:      "Total number of failed saves, by target",
		}, []string{"target"}),
		FlushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "flush_duration_seconds",
			Help:      "Duration of forced flushes",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
