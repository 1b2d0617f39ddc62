// Package monitor aggregates validation, pattern and recovery activity into
// windowed performance metrics and raises threshold alerts.
package monitor

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/metrics"
	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/utils"
)

// DefaultWindow is the lookback used when Calculate is given none.
const DefaultWindow = 24 * time.Hour

// criticalScore marks a failed record as critical in the failure-rate metric.
const criticalScore = 0.8

// Metadata keys populated on performance metrics.
const (
	MetaTotalValidations      = "total_validations"
	MetaSuccessfulValidations = "successful_validations"
	MetaTotalRecoveries       = "total_recoveries"
	MetaSuccessfulRecoveries  = "successful_recoveries"
	MetaCompletedRecoveries   = "completed_recoveries"
	MetaDetectedPatterns      = "detected_patterns"
	MetaCriticalFailures      = "critical_failures"
	MetaScoreDistribution     = "score_distribution"
	MetaTimeDistribution      = "time_distribution"
)

// Thresholds maps each metric kind to its alert threshold.
type Thresholds map[models.MetricKind]float64

// DefaultThresholds returns the standard alert table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		models.MetricValidationSuccessRate: 0.8,
		models.MetricRecoverySuccessRate:   0.7,
		models.MetricPatternDetectionRate:  0.6,
		models.MetricAverageConfidence:     0.75,
		models.MetricCriticalFailureRate:   0.2,
		models.MetricRecoveryTime:          300,
	}
}

// Options configures an Aggregator.
type Options struct {
	// Thresholds overrides individual entries of DefaultThresholds.
	Thresholds Thresholds
	Logger     *slog.Logger
	Now        func() time.Time
}

// Aggregator computes metrics and keeps a per-kind history of every value it
// has produced.
type Aggregator struct {
	thresholds Thresholds
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	history map[models.MetricKind][]models.PerformanceMetric
}

// NewAggregator builds an Aggregator and publishes its thresholds.
func NewAggregator(opts Options) *Aggregator {
	thresholds := DefaultThresholds()
	for kind, v := range opts.Thresholds {
		thresholds[kind] = v
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	for kind, v := range thresholds {
		metrics.SetThreshold(string(kind), v)
	}
	return &Aggregator{
		thresholds: thresholds,
		logger:     logger,
		now:        now,
		history:    make(map[models.MetricKind][]models.PerformanceMetric),
	}
}

// Thresholds returns a copy of the effective alert table.
func (a *Aggregator) Thresholds() Thresholds {
	out := make(Thresholds, len(a.thresholds))
	for k, v := range a.thresholds {
		out[k] = v
	}
	return out
}

// Calculate filters each input to the window ending now and returns the
// metrics whose inputs are non-empty. A non-positive window means DefaultWindow.
func (a *Aggregator) Calculate(records []models.ValidationRecord, patterns []models.Pattern, executions []models.RecoveryExecution, window time.Duration) map[models.MetricKind]models.PerformanceMetric {
	if window <= 0 {
		window = DefaultWindow
	}
	now := a.now()
	start := utils.WindowStart(now, window)

	var recent []models.ValidationRecord
	for _, r := range records {
		if !r.Timestamp.Before(start) {
			recent = append(recent, r)
		}
	}
	var recentPatterns int
	for _, p := range patterns {
		if !p.LastSeen.Before(start) {
			recentPatterns++
		}
	}
	var recoveries []models.RecoveryExecution
	for _, e := range executions {
		if !e.StartTime.Before(start) {
			recoveries = append(recoveries, e)
		}
	}

	out := make(map[models.MetricKind]models.PerformanceMetric)
	metric := func(kind models.MetricKind, value float64, meta map[string]any) {
		out[kind] = models.PerformanceMetric{Kind: kind, Value: value, Timestamp: now, Window: window, Metadata: meta}
	}

	if n := len(recent); n > 0 {
		var valid, critical int
		var sum float64
		for _, r := range recent {
			if r.IsValid {
				valid++
			} else if r.ConfidenceScore >= criticalScore {
				critical++
			}
			sum += r.ConfidenceScore
		}
		metric(models.MetricValidationSuccessRate, float64(valid)/float64(n), map[string]any{
			MetaTotalValidations:      n,
			MetaSuccessfulValidations: valid,
		})
		metric(models.MetricAverageConfidence, sum/float64(n), map[string]any{
			MetaTotalValidations:  n,
			MetaScoreDistribution: ScoreDistribution(recent),
		})
		metric(models.MetricCriticalFailureRate, float64(critical)/float64(n), map[string]any{
			MetaTotalValidations: n,
			MetaCriticalFailures: critical,
		})
		if recentPatterns > 0 {
			metric(models.MetricPatternDetectionRate, float64(recentPatterns)/float64(n), map[string]any{
				MetaTotalValidations: n,
				MetaDetectedPatterns: recentPatterns,
			})
		}
	}

	if n := len(recoveries); n > 0 {
		var completed []models.RecoveryExecution
		for _, e := range recoveries {
			if e.Succeeded() && e.Finished() {
				completed = append(completed, e)
			}
		}
		metric(models.MetricRecoverySuccessRate, float64(len(completed))/float64(n), map[string]any{
			MetaTotalRecoveries:      n,
			MetaSuccessfulRecoveries: len(completed),
		})
		if len(completed) > 0 {
			var total float64
			for _, e := range completed {
				total += e.Duration().Seconds()
			}
			metric(models.MetricRecoveryTime, total/float64(len(completed)), map[string]any{
				MetaTotalRecoveries:     n,
				MetaCompletedRecoveries: len(completed),
				MetaTimeDistribution:    TimeDistribution(completed),
			})
		}
	}

	a.mu.Lock()
	for _, kind := range models.MetricKinds {
		m, ok := out[kind]
		if !ok {
			continue
		}
		a.history[kind] = append(a.history[kind], m)
		metrics.SetPerformance(string(kind), m.Value)
	}
	a.mu.Unlock()

	a.logger.Debug("performance metrics calculated", slog.Int("metrics", len(out)), slog.Duration("window", window))
	return out
}

// History returns the recorded values for kind between start and end
// inclusive, ordered by timestamp. Zero bounds are open.
func (a *Aggregator) History(kind models.MetricKind, start, end time.Time) []models.PerformanceMetric {
	a.mu.RLock()
	src := a.history[kind]
	out := make([]models.PerformanceMetric, 0, len(src))
	for _, m := range src {
		if !start.IsZero() && m.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && m.Timestamp.After(end) {
			continue
		}
		out = append(out, m)
	}
	a.mu.RUnlock()

	slices.SortStableFunc(out, func(x, y models.PerformanceMetric) int {
		return x.Timestamp.Compare(y.Timestamp)
	})
	return out
}

// CheckAlerts returns one alert per metric that crossed its threshold, in
// models.MetricKinds order.
func (a *Aggregator) CheckAlerts(current map[models.MetricKind]models.PerformanceMetric) []models.Alert {
	alerts := []models.Alert{}
	for _, kind := range models.MetricKinds {
		m, ok := current[kind]
		if !ok {
			continue
		}
		threshold, ok := a.thresholds[kind]
		if !ok {
			continue
		}
		breached := m.Value < threshold
		if kind.HigherIsWorse() {
			breached = m.Value > threshold
		}
		if !breached {
			continue
		}
		metrics.IncAlert(string(kind))
		a.logger.Warn("performance alert", slog.String("kind", string(kind)), slog.Float64("value", m.Value), slog.Float64("threshold", threshold))
		alerts = append(alerts, models.Alert{
			Kind:      kind,
			Value:     m.Value,
			Threshold: threshold,
			Timestamp: m.Timestamp,
			Metadata:  m.Metadata,
		})
	}
	return alerts
}

// ScoreDistribution buckets confidence scores to the nearest 0.1.
func ScoreDistribution(records []models.ValidationRecord) map[string]int {
	out := make(map[string]int)
	for _, r := range records {
		bucket := math.RoundToEven(r.ConfidenceScore*10) / 10
		out[strconv.FormatFloat(bucket, 'f', 1, 64)]++
	}
	return out
}

// TimeDistribution buckets execution durations by whole minute.
func TimeDistribution(executions []models.RecoveryExecution) map[string]int {
	out := make(map[string]int)
	for _, e := range executions {
		minutes := int(e.Duration() / time.Minute)
		out[fmt.Sprintf("%dm", minutes)]++
	}
	return out
}
