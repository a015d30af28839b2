// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Probe outcomes.
const (
	OutcomeResolved  = "resolved"
	OutcomeTransient = "transient"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Discovery metrics
	EventsScanned        prometheus.Counter
	CandidatesDiscovered prometheus.Gauge

	// Probe metrics
	ProbesTotal  *prometheus.CounterVec
	PassesTotal  prometheus.Counter
	PassDuration prometheus.Histogram
	RetrySetSize prometheus.Gauge

	// Output metrics
	CredentialsEmitted prometheus.Gauge
	SnapshotRunsTotal  *prometheus.CounterVec
	SnapshotDuration   prometheus.Histogram
	LastSnapshotBlock  prometheus.Gauge

	// RPC metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "stake_snapshot"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EventsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "events_scanned_total",
			Help:      "Total number of registry event records scanned",
		}),
		CandidatesDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "candidates",
			Help:      "Unique candidates discovered by the last scan",
		}),

		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "reads_total",
			Help:      "Storage probe reads by outcome",
		}, []string{"outcome"}),
		PassesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "passes_total",
			Help:      "Total number of coordinator passes",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one concurrent probe pass",
			Buckets:   prometheus.DefBuckets,
		}),
		RetrySetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "retry_set_size",
			Help:      "Candidates left unresolved after the last pass",
		}),

		CredentialsEmitted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "credentials",
			Help:      "Credentials in the last snapshot",
		}),
		SnapshotRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "runs_total",
			Help:      "Snapshot runs by status",
		}, []string{"status"}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "duration_seconds",
			Help:      "Snapshot run duration",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		LastSnapshotBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "last_block",
			Help:      "Target block of the last completed snapshot",
		}),

		RPCCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Ledger RPC call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_errors_total",
			Help:      "Failed ledger RPC calls",
		}, []string{"method"}),

		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}

	m.registry.MustRegister(
		m.EventsScanned, m.CandidatesDiscovered,
		m.ProbesTotal, m.PassesTotal, m.PassDuration, m.RetrySetSize,
		m.CredentialsEmitted, m.SnapshotRunsTotal, m.SnapshotDuration, m.LastSnapshotBlock,
		m.RPCCallLatency, m.RPCCallErrors,
		m.DBQueryDuration, m.DBQueryErrors,
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push sends the current metric values to a Prometheus Pushgateway.
// One-shot runs finish before a scraper would see them.
func (m *Metrics) Push(url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultMetrics.registry, promhttp.HandlerOpts{})
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventsScanned adds scanned event records.
func RecordEventsScanned(n int) {
	DefaultMetrics.EventsScanned.Add(float64(n))
}

// RecordCandidates sets the discovered candidate count.
func RecordCandidates(n int) {
	DefaultMetrics.CandidatesDiscovered.Set(float64(n))
}

// RecordProbe counts one probe read by outcome.
func RecordProbe(outcome string) {
	DefaultMetrics.ProbesTotal.WithLabelValues(outcome).Inc()
}

// RecordPass records a finished coordinator pass.
func RecordPass(seconds float64, unresolved int) {
	DefaultMetrics.PassesTotal.Inc()
	DefaultMetrics.PassDuration.Observe(seconds)
	DefaultMetrics.RetrySetSize.Set(float64(unresolved))
}

// RecordSnapshotRun records a snapshot run.
func RecordSnapshotRun(status string, durationSeconds float64, credentials int, block uint64) {
	DefaultMetrics.SnapshotRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.SnapshotDuration.Observe(durationSeconds)
	if status == "success" || status == "empty" {
		DefaultMetrics.CredentialsEmitted.Set(float64(credentials))
		DefaultMetrics.LastSnapshotBlock.Set(float64(block))
	}
}

// RecordRPCCall records RPC call latency and failures.
func RecordRPCCall(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
