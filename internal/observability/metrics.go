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
	// Evolution metrics
	EvolutionAttempts  *prometheus.CounterVec
	EvolutionDuration  prometheus.Histogram
	GeneratorFallbacks *prometheus.CounterVec

	// Eligibility metrics
	EligibilityVerdicts *prometheus.CounterVec
	ActivityScore       prometheus.Histogram

	// Scheduler metrics
	ScansTotal     *prometheus.CounterVec
	ScanDuration   prometheus.Histogram
	ScanInProgress prometheus.Gauge
	ScanCandidates prometheus.Gauge

	// Ledger metrics
	RPCCallLatency       *prometheus.HistogramVec
	RPCCallErrors        *prometheus.CounterVec
	TransactionsSent     *prometheus.CounterVec
	EvolvedEventsWatched prometheus.Counter

	// Storage metrics
	PublishDuration     prometheus.Histogram
	MetadataCacheLookup *prometheus.CounterVec
	DBQueryDuration     *prometheus.HistogramVec
	DBQueryErrors       *prometheus.CounterVec

	// Health metrics
	LastSuccessfulScan prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "evonft"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		EvolutionAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "attempts_total",
			Help:      "Total number of evolution attempts by outcome",
		}, []string{"status"}),
		EvolutionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "duration_seconds",
			Help:      "End-to-end evolution attempt duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		GeneratorFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "generator_fallbacks_total",
			Help:      "Total number of generator failures replaced by fallbacks",
		}, []string{"kind"}),

		EligibilityVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eligibility",
			Name:      "verdicts_total",
			Help:      "Total number of eligibility verdicts by result",
		}, []string{"eligible"}),
		ActivityScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "eligibility",
			Name:      "activity_score",
			Help:      "Distribution of computed activity scores",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		ScansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "scans_total",
			Help:      "Total number of scans by trigger and status",
		}, []string{"trigger", "status"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "scan_duration_seconds",
			Help:      "Scan duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ScanInProgress: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "scan_in_progress",
			Help:      "1 while a scan is running",
		}),
		ScanCandidates: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "scan_candidates",
			Help:      "Number of cooldown-eligible tokens found by the last scan",
		}),

		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_latency_seconds",
			Help:      "Ledger RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed ledger RPC calls",
		}, []string{"method"}),
		TransactionsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Total number of evolution transactions by status",
		}, []string{"status"}),
		EvolvedEventsWatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "evolved_events_total",
			Help:      "Total number of Evolved events received from the log subscription",
		}),

		PublishDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "duration_seconds",
			Help:      "Metadata publication duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		MetadataCacheLookup: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "cache_lookups_total",
			Help:      "Metadata cache lookups by result",
		}, []string{"result"}),
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulScan: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_scan_timestamp",
			Help:      "Unix timestamp of last successful scan",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordEvolution records the outcome of one evolution attempt.
func (m *Metrics) RecordEvolution(status string, seconds float64) {
	m.EvolutionAttempts.WithLabelValues(status).Inc()
	m.EvolutionDuration.Observe(seconds)
}

// RecordGeneratorFallback records a generator failure replaced by a fallback.
func (m *Metrics) RecordGeneratorFallback(kind string) {
	m.GeneratorFallbacks.WithLabelValues(kind).Inc()
}

// RecordVerdict records an eligibility verdict. score is nil when the check
// short-circuited before scoring.
func (m *Metrics) RecordVerdict(eligible bool, score *int) {
	label := "false"
	if eligible {
		label = "true"
	}
	m.EligibilityVerdicts.WithLabelValues(label).Inc()
	if score != nil {
		m.ActivityScore.Observe(float64(*score))
	}
}

// RecordScan records a completed scan.
func (m *Metrics) RecordScan(trigger, status string, seconds float64, finishedUnix int64) {
	m.ScansTotal.WithLabelValues(trigger, status).Inc()
	m.ScanDuration.Observe(seconds)
	if status == "success" {
		m.LastSuccessfulScan.Set(float64(finishedUnix))
	}
}

// SetScanInProgress flips the scan gauge.
func (m *Metrics) SetScanInProgress(running bool) {
	if running {
		m.ScanInProgress.Set(1)
		return
	}
	m.ScanInProgress.Set(0)
}

// RecordRPC records a ledger RPC call.
func (m *Metrics) RecordRPC(method string, seconds float64, err error) {
	m.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		m.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordTransaction records a submitted evolution transaction.
func (m *Metrics) RecordTransaction(status string) {
	m.TransactionsSent.WithLabelValues(status).Inc()
}

// RecordCacheLookup records a metadata cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.MetadataCacheLookup.WithLabelValues("hit").Inc()
		return
	}
	m.MetadataCacheLookup.WithLabelValues("miss").Inc()
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordRPCLatency records RPC call latency on the default metrics.
func RecordRPCLatency(method string, seconds float64, err error) {
	DefaultMetrics.RecordRPC(method, seconds, err)
}

// RecordDBQuery records database query metrics on the default metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.RecordDBQuery(database, operation, seconds, err)
}
