package models

import "time"

// MetricKind enumerates aggregated performance metrics.
type MetricKind string

const (
	MetricValidationSuccessRate MetricKind = "validation_success_rate"
	MetricRecoverySuccessRate   MetricKind = "recovery_success_rate"
	MetricPatternDetectionRate  MetricKind = "pattern_detection_rate"
	MetricAverageConfidence     MetricKind = "average_confidence_score"
	MetricCriticalFailureRate   MetricKind = "critical_failure_rate"
	MetricRecoveryTime          MetricKind = "recovery_time"
)

// MetricKinds lists every kind in reporting order.
var MetricKinds = []MetricKind{
	MetricValidationSuccessRate,
	MetricRecoverySuccessRate,
	MetricPatternDetectionRate,
	MetricAverageConfidence,
	MetricCriticalFailureRate,
	MetricRecoveryTime,
}

// HigherIsWorse reports whether larger values of the metric indicate degradation.
func (k MetricKind) HigherIsWorse() bool {
	return k == MetricCriticalFailureRate || k == MetricRecoveryTime
}

// PerformanceMetric is one windowed measurement.
type PerformanceMetric struct {
	Kind      MetricKind     `json:"kind"`
	Value     float64        `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
	Window    time.Duration  `json:"window"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Alert flags a metric that crossed its threshold.
type Alert struct {
	Kind      MetricKind     `json:"kind"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
