// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market-signal-lab/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Backtest metrics
	StepsEvaluated     *prometheus.CounterVec
	PairsScored        prometheus.Counter
	RunningCorrelation prometheus.Gauge
	TrainSize          prometheus.Gauge
	SelectedFeatures   prometheus.Histogram
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram

	// Market data metrics
	FetchLatency       *prometheus.HistogramVec
	FetchErrors        *prometheus.CounterVec
	ObservationsStored *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
	LastSuccessfulRun       prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered with reg. A nil reg
// registers with the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "market_signal_lab"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Backtest metrics
		StepsEvaluated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "steps_total",
			Help:      "Total number of emitted walk-forward steps by outcome",
		}, []string{"outcome"}),
		PairsScored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "pairs_scored_total",
			Help:      "Total number of steps with both a prediction and a label",
		}),
		RunningCorrelation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "running_correlation",
			Help:      "Latest running correlation between predicted and actual labels",
		}),
		TrainSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "train_size",
			Help:      "Training rows used by the latest step",
		}),
		SelectedFeatures: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "selected_features",
			Help:      "Number of features selected per step",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by status",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "run_duration_seconds",
			Help:      "Backtest run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Market data metrics
		FetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "fetch_latency_seconds",
			Help:      "Market data fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed market data fetches",
		}, []string{"source"}),
		ObservationsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "observations_stored_total",
			Help:      "Total number of observations stored by kind",
		}, []string{"kind"}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulIngestion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion",
		}),
		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful backtest run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving only gatherer.
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveStep records one emitted backtest step. It lets Metrics be passed
// as a backtest step observer.
func (m *Metrics) ObserveStep(r domain.StepResult) {
	outcome := "unpredicted"
	if r.Predicted != nil {
		outcome = "predicted"
	}
	m.StepsEvaluated.WithLabelValues(outcome).Inc()
	if r.HasPair() {
		m.PairsScored.Inc()
	}
	if r.Correlation != nil {
		m.RunningCorrelation.Set(*r.Correlation)
	}
	m.TrainSize.Set(float64(r.TrainSize))
	m.SelectedFeatures.Observe(float64(len(r.SelectedFeatures)))
}

// RecordRun records a finished backtest run.
func (m *Metrics) RecordRun(status string, d time.Duration) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
	if status == StatusSuccess {
		m.LastSuccessfulRun.SetToCurrentTime()
	}
}

// RecordIngestion records observations stored for one symbol.
func (m *Metrics) RecordIngestion(kind string, stored int) {
	m.ObservationsStored.WithLabelValues(kind).Add(float64(stored))
	m.LastSuccessfulIngestion.SetToCurrentTime()
}

// RecordFetch records one market data fetch.
func (m *Metrics) RecordFetch(source string, d time.Duration, err error) {
	m.FetchLatency.WithLabelValues(source).Observe(d.Seconds())
	if err != nil {
		m.FetchErrors.WithLabelValues(source).Inc()
	}
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, d time.Duration, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(d.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)
