package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "validation_telemetry"

const (
	// OutcomeValid labels validations that passed.
	OutcomeValid = "valid"
	// OutcomeInvalid labels validations that failed.
	OutcomeInvalid = "invalid"
)

var (
	validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Validation records ingested, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	recordsArchivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_archived_total",
			Help:      "Validation records rotated out of active history into the archive.",
		},
	)

	persistenceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "History persistence failures, partitioned by operation.",
		},
		[]string{"op"},
	)

	embeddingFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_failures_total",
			Help:      "Embedding calls that failed or timed out, degrading semantic pattern detection.",
		},
	)

	patternsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_detected_total",
			Help:      "Patterns emitted by the detector, partitioned by kind.",
		},
		[]string{"kind"},
	)

	recoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Recovery executions finished, partitioned by strategy and status.",
		},
		[]string{"strategy", "status"},
	)

	recoveriesRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_rejected_total",
			Help:      "Recovery executions rejected because the concurrency cap was reached.",
		},
	)

	recoveriesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recoveries_in_flight",
			Help:      "Recovery executions currently running.",
		},
	)

	recoveryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recovery_seconds",
			Help:      "Recovery execution latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"strategy"},
	)

	performanceMetric = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "performance_metric",
			Help:      "Most recent windowed performance metric value, partitioned by kind.",
		},
		[]string{"kind"},
	)

	alertThreshold = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_threshold",
			Help:      "Configured alert threshold, partitioned by metric kind.",
		},
		[]string{"kind"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Threshold alerts raised, partitioned by metric kind.",
		},
		[]string{"kind"},
	)
)

// Register attaches the telemetry collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		validationsTotal,
		recordsArchivedTotal,
		persistenceErrorsTotal,
		embeddingFailuresTotal,
		patternsDetectedTotal,
		recoveriesTotal,
		recoveriesRejectedTotal,
		recoveriesInFlight,
		recoveryDurationSeconds,
		performanceMetric,
		alertThreshold,
		alertsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveValidation counts one ingested record.
func ObserveValidation(valid bool) {
	label := OutcomeInvalid
	if valid {
		label = OutcomeValid
	}
	validationsTotal.WithLabelValues(label).Inc()
}

// AddArchived counts records moved into the archive.
func AddArchived(n int) {
	if n > 0 {
		recordsArchivedTotal.Add(float64(n))
	}
}

// IncPersistenceError counts a failed load, save or clear.
func IncPersistenceError(op string) {
	persistenceErrorsTotal.WithLabelValues(op).Inc()
}

// IncEmbeddingFailure counts a degraded semantic analysis.
func IncEmbeddingFailure() {
	embeddingFailuresTotal.Inc()
}

// AddPatterns counts detector output for one kind.
func AddPatterns(kind string, n int) {
	if n > 0 {
		patternsDetectedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// RecoveryStarted tracks an execution entering the active set.
func RecoveryStarted() {
	recoveriesInFlight.Inc()
}

// RecoveryFinished tracks an execution leaving the active set.
func RecoveryFinished(strategy, status string, duration time.Duration) {
	recoveriesInFlight.Dec()
	recoveriesTotal.WithLabelValues(strategy, status).Inc()
	if duration < 0 {
		duration = 0
	}
	recoveryDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// IncRecoveryRejected counts an execution refused at the concurrency cap.
func IncRecoveryRejected() {
	recoveriesRejectedTotal.Inc()
}

// SetPerformance publishes the latest value of a windowed metric.
func SetPerformance(kind string, value float64) {
	performanceMetric.WithLabelValues(kind).Set(value)
}

// SetThreshold publishes a configured alert threshold.
func SetThreshold(kind string, value float64) {
	alertThreshold.WithLabelValues(kind).Set(value)
}

// IncAlert counts a raised alert.
func IncAlert(kind string) {
	alertsTotal.WithLabelValues(kind).Inc()
}
