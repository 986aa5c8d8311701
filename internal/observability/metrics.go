// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	FeedMessagesReceived prometheus.Counter
	FeedReconnects       prometheus.Counter
	FeedState            prometheus.Gauge

	// Ingestion metrics
	EventsMalformed    prometheus.Counter
	EventsDuplicate    prometheus.Counter
	QueueDepth         prometheus.Gauge
	TokensInFlight     prometheus.Gauge
	TokensProcessed    *prometheus.CounterVec
	TokenProcessingDur prometheus.Histogram

	// Risk metrics
	RiskAssessments *prometheus.CounterVec

	// Analytics metrics
	AnalysisRuns          *prometheus.CounterVec
	AnalysisDuration      prometheus.Histogram
	WalletFetches         *prometheus.CounterVec
	WalletFetchesInFlight prometheus.Gauge

	// Upstream metrics
	UpstreamCallLatency *prometheus.HistogramVec
	UpstreamErrors      *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Notification metrics
	NotificationErrors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg registers on the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "token_sniffer"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		FeedMessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_received_total",
			Help:      "Total number of messages read from the token feed",
		}),
		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnect attempts",
		}),
		FeedState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "state",
			Help:      "Feed connection state (0=connecting, 1=subscribed, 2=draining, 3=closed)",
		}),

		EventsMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_malformed_total",
			Help:      "Total number of feed events discarded as malformed",
		}),
		EventsDuplicate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_duplicate_total",
			Help:      "Total number of feed events ignored as duplicates",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "queue_depth",
			Help:      "Number of tokens waiting for a worker",
		}),
		TokensInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "tokens_in_flight",
			Help:      "Number of tokens currently being processed",
		}),
		TokensProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "tokens_processed_total",
			Help:      "Total number of tokens processed by verdict",
		}, []string{"verdict"}),
		TokenProcessingDur: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "token_processing_seconds",
			Help:      "Time from dequeue to persisted result per token",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		RiskAssessments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "assessments_total",
			Help:      "Total number of risk assessments by result",
		}, []string{"result"}),

		AnalysisRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "runs_total",
			Help:      "Total number of trader analysis runs by status",
		}, []string{"status"}),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "run_duration_seconds",
			Help:      "Trader analysis run duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		WalletFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "wallet_fetches_total",
			Help:      "Total number of per-wallet fetches by result",
		}, []string{"result"}),
		WalletFetchesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "wallet_fetches_in_flight",
			Help:      "Number of per-wallet fetches in flight across all runs",
		}),

		UpstreamCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_latency_seconds",
			Help:      "Upstream call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method"}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Total number of failed upstream calls",
		}, []string{"service", "method"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		NotificationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "errors_total",
			Help:      "Total number of failed notifications by sink",
		}, []string{"sink"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordFeedMessage increments the feed messages counter.
func RecordFeedMessage() {
	DefaultMetrics.FeedMessagesReceived.Inc()
}

// RecordFeedReconnect increments the feed reconnect counter.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// SetFeedState updates the feed state gauge.
func SetFeedState(state int) {
	DefaultMetrics.FeedState.Set(float64(state))
}

// RecordMalformedEvent increments the malformed events counter.
func RecordMalformedEvent() {
	DefaultMetrics.EventsMalformed.Inc()
}

// RecordDuplicateEvent increments the duplicate events counter.
func RecordDuplicateEvent() {
	DefaultMetrics.EventsDuplicate.Inc()
}

// SetQueueDepth updates the queue depth gauge.
func SetQueueDepth(n int) {
	DefaultMetrics.QueueDepth.Set(float64(n))
}

// RecordTokenProcessed records a finished token with its final verdict.
func RecordTokenProcessed(verdict string, d time.Duration) {
	DefaultMetrics.TokensProcessed.WithLabelValues(verdict).Inc()
	DefaultMetrics.TokenProcessingDur.Observe(d.Seconds())
}

// RecordRiskAssessment records the outcome of a risk assessment.
func RecordRiskAssessment(result string) {
	DefaultMetrics.RiskAssessments.WithLabelValues(result).Inc()
}

// RecordAnalysisRun records a trader analysis run.
func RecordAnalysisRun(status string, d time.Duration) {
	DefaultMetrics.AnalysisRuns.WithLabelValues(status).Inc()
	DefaultMetrics.AnalysisDuration.Observe(d.Seconds())
}

// RecordWalletFetch records the outcome of a per-wallet fetch.
func RecordWalletFetch(result string) {
	DefaultMetrics.WalletFetches.WithLabelValues(result).Inc()
}

// RecordUpstreamCall records latency and failure of one upstream call.
func RecordUpstreamCall(service, method string, start time.Time, err error) {
	DefaultMetrics.UpstreamCallLatency.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
	if err != nil {
		DefaultMetrics.UpstreamErrors.WithLabelValues(service, method).Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, start time.Time, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordNotificationError increments the failed notifications counter.
func RecordNotificationError(sink string) {
	DefaultMetrics.NotificationErrors.WithLabelValues(sink).Inc()
}
