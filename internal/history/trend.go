package history

import (
	"fmt"
	"math"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// Direction describes how a metric moved between the historical and recent windows.
type Direction string

const (
	DirectionIncreasing       Direction = "increasing"
	DirectionDecreasing       Direction = "decreasing"
	DirectionNoChange         Direction = "no_change"
	DirectionInsufficientData Direction = "insufficient_data"
)

const (
	// DefaultTrendWindow is the size of the recent window compared against history.
	DefaultTrendWindow = 5
	// DefaultTrendThreshold is the minimum effect size treated as significant.
	DefaultTrendThreshold = 2.0

	pooledVarianceEpsilon = 0.001
)

// TrendReport is the result of DetectTrend.
type TrendReport struct {
	ConfidenceTrend Direction              `json:"confidence_trend"`
	FailureTrend    Direction              `json:"failure_trend"`
	IssueTrends     map[Category]Direction `json:"issue_trends"`
	Alerts          []string               `json:"alerts"`
}

func insufficientTrend() TrendReport {
	return TrendReport{
		ConfidenceTrend: DirectionInsufficientData,
		FailureTrend:    DirectionInsufficientData,
		IssueTrends:     map[Category]Direction{},
		Alerts:          []string{},
	}
}

// MetricTrend is the comparison of one metric across the two windows.
type MetricTrend struct {
	Direction  Direction
	EffectSize float64
	Alert      string
}

// EffectSize returns the small-sample corrected standardized mean difference
// between recent and historical, and false when either side has fewer than two
// samples.
func EffectSize(recent, historical []float64) (float64, bool) {
	n1, n2 := len(recent), len(historical)
	if n1 < 2 || n2 < 2 {
		return 0, false
	}
	m1, m2 := mean(recent), mean(historical)
	s1, s2 := sampleStdev(recent), sampleStdev(historical)

	pooled := (float64(n1-1)*s1*s1+float64(n2-1)*s2*s2)/float64(n1+n2-2) + pooledVarianceEpsilon
	correction := 1 - 3/(4*float64(n1+n2)-9)
	return math.Abs(m1-m2) / math.Sqrt(pooled) * correction, true
}

// CompareWindows classifies the change of a metric between historical and
// recent samples.
func CompareWindows(recent, historical []float64, threshold float64, name string) MetricTrend {
	effect, ok := EffectSize(recent, historical)
	if !ok || effect < threshold {
		return MetricTrend{Direction: DirectionNoChange, EffectSize: effect}
	}
	if mean(recent) > mean(historical) {
		return MetricTrend{
			Direction:  DirectionIncreasing,
			EffectSize: effect,
			Alert:      fmt.Sprintf("Significant increase in %s (effect=%.2f)", name, effect),
		}
	}
	return MetricTrend{
		Direction:  DirectionDecreasing,
		EffectSize: effect,
		Alert:      fmt.Sprintf("Significant decrease in %s (effect=%.2f)", name, effect),
	}
}

// DetectTrend compares the last windowSize records against everything before
// them. It needs at least 2*windowSize records.
func DetectTrend(records []models.ValidationRecord, windowSize int, threshold float64) TrendReport {
	if windowSize <= 0 || len(records) < windowSize*2 {
		return insufficientTrend()
	}

	split := len(records) - windowSize
	recent, historical := records[split:], records[:split]

	report := TrendReport{IssueTrends: make(map[Category]Direction, len(Categories)), Alerts: []string{}}

	for _, c := range Categories {
		t := CompareWindows(categorySeries(recent, c), categorySeries(historical, c), threshold, string(c)+" issues")
		report.IssueTrends[c] = t.Direction
		if t.Alert != "" {
			report.Alerts = append(report.Alerts, t.Alert)
		}
	}

	confidence := CompareWindows(confidenceSeries(recent), confidenceSeries(historical), threshold, "confidence score")
	failure := CompareWindows(failureSeries(recent), failureSeries(historical), threshold, "failure rate")
	report.ConfidenceTrend = confidence.Direction
	report.FailureTrend = failure.Direction
	if confidence.Alert != "" {
		report.Alerts = append(report.Alerts, confidence.Alert)
	}
	if failure.Alert != "" {
		report.Alerts = append(report.Alerts, failure.Alert)
	}
	return report
}

func confidenceSeries(records []models.ValidationRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.ConfidenceScore
	}
	return out
}

func failureSeries(records []models.ValidationRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		if !r.IsValid {
			out[i] = 1
		}
	}
	return out
}

func categorySeries(records []models.ValidationRecord, category Category) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		for _, issue := range r.Issues {
			if Classify(issue) == category {
				out[i]++
			}
		}
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdev is the n-1 standard deviation; it is 0 for fewer than two values.
func sampleStdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}
