// Package observability provides Prometheus metrics and tracing setup.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Scan gateway metrics
	ScanRunsTotal    *prometheus.CounterVec
	ScanDuration     prometheus.Histogram
	ScanSharedTotal  prometheus.Counter
	ScanCircuitOpen  prometheus.Gauge
	ScanRejectedOpen prometheus.Counter

	// Enrichment metrics
	EnrichFailures        *prometheus.CounterVec
	EnrichSucceeded       prometheus.Counter
	EnrichCacheHits       prometheus.Counter
	EnrichDuration        prometheus.Histogram
	EnrichBudgetExhausted prometheus.Counter
	ProviderCallLatency   *prometheus.HistogramVec

	// Scoring metrics
	CandidatesScored *prometheus.CounterVec

	// Ingestion metrics
	IngestItems   *prometheus.CounterVec
	IngestBatches *prometheus.CounterVec

	// Cold tape metrics
	ColdTapeActive      prometheus.Gauge
	ColdTapeActivations prometheus.Counter
	ColdTapeSeeds       prometheus.Counter

	// Outcome metrics
	OutcomesLabeled *prometheus.CounterVec
	LabelErrors     prometheus.Counter

	// Tick metrics
	TickRunsTotal  *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	UniverseServed *prometheus.CounterVec

	// Feed metrics
	FeedSubscribers prometheus.Gauge
	FeedDropped     prometheus.Counter

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulTick  prometheus.Gauge
	LastSuccessfulLabel prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "squeeze_discovery"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Scan gateway metrics
		ScanRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "External scan process runs by status and failure class",
		}, []string{"status", "class"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "External scan wall time in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 120},
		}),
		ScanSharedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "shared_results_total",
			Help:      "Scan requests served by joining an in-flight run",
		}),
		ScanCircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "circuit_open",
			Help:      "1 while the scan circuit breaker is open",
		}),
		ScanRejectedOpen: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "rejected_circuit_open_total",
			Help:      "Scan requests rejected because the circuit was open",
		}),

		// Enrichment metrics
		EnrichFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "failures_total",
			Help:      "Symbol enrichment failures by code",
		}, []string{"code"}),
		EnrichSucceeded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "succeeded_total",
			Help:      "Symbols enriched successfully",
		}),
		EnrichCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "cache_hits_total",
			Help:      "Symbols served from the enrichment cache",
		}),
		EnrichDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "batch_duration_seconds",
			Help:      "Enrichment batch wall time in seconds",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 12, 15},
		}),
		EnrichBudgetExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "budget_exhausted_total",
			Help:      "Enrichment batches that ran out of cycle budget",
		}),
		ProviderCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_latency_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		// Scoring metrics
		CandidatesScored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "candidates_total",
			Help:      "Scored candidates by tier",
		}, []string{"tier"}),

		// Ingestion metrics
		IngestItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "items_total",
			Help:      "Ingested items by result",
		}, []string{"result"}),
		IngestBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "batches_total",
			Help:      "Ingestion batches by source and status",
		}, []string{"source", "status"}),

		// Cold tape metrics
		ColdTapeActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cold_tape",
			Name:      "active",
			Help:      "1 while cold-tape relaxation is active",
		}),
		ColdTapeActivations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cold_tape",
			Name:      "activations_total",
			Help:      "INACTIVE to ACTIVE transitions",
		}),
		ColdTapeSeeds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cold_tape",
			Name:      "seeds_total",
			Help:      "Synthetic seed candidates emitted",
		}),

		// Outcome metrics
		OutcomesLabeled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcome",
			Name:      "labeled_total",
			Help:      "Discoveries labeled by outcome",
		}, []string{"outcome"}),
		LabelErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcome",
			Name:      "label_errors_total",
			Help:      "Transient labeling failures",
		}),

		// Tick metrics
		TickRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "runs_total",
			Help:      "Discovery ticks by status",
		}, []string{"status"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "duration_seconds",
			Help:      "Discovery tick duration in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120},
		}),
		UniverseServed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "universe_served_total",
			Help:      "Ticks by the universe source that served them",
		}, []string{"source"}),

		// Feed metrics
		FeedSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Connected websocket subscribers",
		}),
		FeedDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_subscribers_total",
			Help:      "Subscribers dropped for falling behind",
		}),

		// Database metrics
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

		// HTTP metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Ops API requests by route, method and status",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Ops API request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"route"}),

		// Health metrics
		LastSuccessfulTick: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_tick_timestamp",
			Help:      "Unix timestamp of last successful discovery tick",
		}),
		LastSuccessfulLabel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_label_timestamp",
			Help:      "Unix timestamp of last successful labeler run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordScanRun records a finished scan process run.
func RecordScanRun(status, class string, seconds float64) {
	DefaultMetrics.ScanRunsTotal.WithLabelValues(status, class).Inc()
	DefaultMetrics.ScanDuration.Observe(seconds)
}

// RecordScanShared counts a caller that joined an in-flight scan.
func RecordScanShared() {
	DefaultMetrics.ScanSharedTotal.Inc()
}

// RecordScanRejected counts a scan request refused by the open circuit.
func RecordScanRejected() {
	DefaultMetrics.ScanRejectedOpen.Inc()
}

// SetCircuitOpen updates the circuit gauge.
func SetCircuitOpen(open bool) {
	DefaultMetrics.ScanCircuitOpen.Set(boolGauge(open))
}

// RecordEnrichBatch records the outcome of one enrichment batch.
func RecordEnrichBatch(succeeded, cacheHits int, failuresByCode map[string]int, seconds float64, budgetExhausted bool) {
	DefaultMetrics.EnrichSucceeded.Add(float64(succeeded))
	DefaultMetrics.EnrichCacheHits.Add(float64(cacheHits))
	for code, n := range failuresByCode {
		DefaultMetrics.EnrichFailures.WithLabelValues(code).Add(float64(n))
	}
	DefaultMetrics.EnrichDuration.Observe(seconds)
	if budgetExhausted {
		DefaultMetrics.EnrichBudgetExhausted.Inc()
	}
}

// RecordProviderLatency records one provider call.
func RecordProviderLatency(provider string, seconds float64) {
	DefaultMetrics.ProviderCallLatency.WithLabelValues(provider).Observe(seconds)
}

// RecordScored counts a scored candidate by tier.
func RecordScored(tier string) {
	DefaultMetrics.CandidatesScored.WithLabelValues(tier).Inc()
}

// RecordIngest records one ingestion batch.
func RecordIngest(source string, success bool, inserted, updated, invalid, failed int) {
	status := "success"
	if !success {
		status = "failure"
	}
	DefaultMetrics.IngestBatches.WithLabelValues(source, status).Inc()
	DefaultMetrics.IngestItems.WithLabelValues("inserted").Add(float64(inserted))
	DefaultMetrics.IngestItems.WithLabelValues("updated").Add(float64(updated))
	DefaultMetrics.IngestItems.WithLabelValues("invalid").Add(float64(invalid))
	DefaultMetrics.IngestItems.WithLabelValues("error").Add(float64(failed))
}

// SetColdTape updates the cold tape gauge and counts activations.
func SetColdTape(active, activated bool) {
	DefaultMetrics.ColdTapeActive.Set(boolGauge(active))
	if activated {
		DefaultMetrics.ColdTapeActivations.Inc()
	}
}

// RecordSeeds counts synthetic seeds emitted.
func RecordSeeds(n int) {
	DefaultMetrics.ColdTapeSeeds.Add(float64(n))
}

// RecordOutcome counts a labeled discovery.
func RecordOutcome(outcome string) {
	DefaultMetrics.OutcomesLabeled.WithLabelValues(outcome).Inc()
}

// RecordLabelError counts a transient labeling failure.
func RecordLabelError() {
	DefaultMetrics.LabelErrors.Inc()
}

// RecordTick records a discovery tick.
func RecordTick(status, servedBy string, seconds float64) {
	DefaultMetrics.TickRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.TickDuration.Observe(seconds)
	if servedBy != "" {
		DefaultMetrics.UniverseServed.WithLabelValues(servedBy).Inc()
	}
}

// MarkTickSuccess stamps the last successful tick time.
func MarkTickSuccess(t time.Time) {
	DefaultMetrics.LastSuccessfulTick.Set(float64(t.Unix()))
}

// MarkLabelSuccess stamps the last successful labeler run time.
func MarkLabelSuccess(t time.Time) {
	DefaultMetrics.LastSuccessfulLabel.Set(float64(t.Unix()))
}

// SetFeedSubscribers updates the subscriber gauge.
func SetFeedSubscribers(n int) {
	DefaultMetrics.FeedSubscribers.Set(float64(n))
}

// RecordFeedDropped counts a dropped slow subscriber.
func RecordFeedDropped() {
	DefaultMetrics.FeedDropped.Inc()
}

// RecordHTTPRequest records one ops API request.
func RecordHTTPRequest(route, method string, status int, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
