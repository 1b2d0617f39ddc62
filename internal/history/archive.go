package history

import (
	"slices"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/utils"
)

const (
	archivePeriod          = 7 * 24 * time.Hour
	improvementMinRecords  = 10
	improvementRecentCount = 5
	improvementBand        = 0.1
)

// ImprovementTrend labels the long-run direction of quality.
type ImprovementTrend string

const (
	ImprovementImproving        ImprovementTrend = "improving"
	ImprovementDegrading        ImprovementTrend = "degrading"
	ImprovementStable           ImprovementTrend = "stable"
	ImprovementInsufficientData ImprovementTrend = "insufficient_data"
)

// PeriodConfidence is the mean confidence of one weekly bucket.
type PeriodConfidence struct {
	PeriodStart       time.Time `json:"period_start"`
	AverageConfidence float64   `json:"average_confidence"`
	ValidationCount   int       `json:"validation_count"`
}

// RecurringIssue describes an issue seen more than once.
type RecurringIssue struct {
	Issue     string    `json:"issue"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Frequency float64   `json:"frequency"`
}

// StabilityMetrics summarises error rate and confidence spread.
type StabilityMetrics struct {
	ErrorRate         float64 `json:"error_rate"`
	AverageConfidence float64 `json:"average_confidence"`
	ConsistencyScore  float64 `json:"consistency_score"`
}

// ImprovementIndicator compares the last five records against the rest.
type ImprovementIndicator struct {
	Trend            ImprovementTrend `json:"trend"`
	ConfidenceChange float64          `json:"confidence_change"`
	ErrorRateChange  float64          `json:"error_rate_change"`
}

// ArchiveReport is the long-term analysis over active plus archived records.
type ArchiveReport struct {
	TotalValidations     int                  `json:"total_validations"`
	HistoricalConfidence []PeriodConfidence   `json:"historical_confidence"`
	RecurringIssues      []RecurringIssue     `json:"recurring_issues"`
	Stability            StabilityMetrics     `json:"stability_metrics"`
	Improvement          ImprovementIndicator `json:"improvement_indicators"`
	Trend                TrendReport          `json:"trend"`
}

func emptyArchiveReport() ArchiveReport {
	return ArchiveReport{
		HistoricalConfidence: []PeriodConfidence{},
		RecurringIssues:      []RecurringIssue{},
		Improvement:          ImprovementIndicator{Trend: ImprovementInsufficientData},
		Trend:                insufficientTrend(),
	}
}

// AnalyzeArchive computes the long-term report over records, restricted to
// those no older than window when window is positive.
func AnalyzeArchive(records []models.ValidationRecord, now time.Time, window time.Duration) ArchiveReport {
	cutoff := utils.WindowStart(now, window)
	selected := make([]models.ValidationRecord, 0, len(records))
	for _, r := range records {
		if !r.Timestamp.Before(cutoff) {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return emptyArchiveReport()
	}
	slices.SortStableFunc(selected, func(a, b models.ValidationRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	report := ArchiveReport{
		TotalValidations:     len(selected),
		HistoricalConfidence: weeklyConfidence(selected),
		RecurringIssues:      recurringIssues(selected),
		Stability:            stability(selected),
		Improvement:          improvement(selected),
		Trend:                DetectTrend(selected, DefaultTrendWindow, DefaultTrendThreshold),
	}
	return report
}

func weeklyConfidence(sorted []models.ValidationRecord) []PeriodConfidence {
	buckets := TimeSeries(sorted, archivePeriod)
	out := make([]PeriodConfidence, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, PeriodConfidence{
			PeriodStart:       b.Start,
			AverageConfidence: b.ConfidenceAvg,
			ValidationCount:   b.ValidationCount,
		})
	}
	return out
}

func recurringIssues(sorted []models.ValidationRecord) []RecurringIssue {
	index := make(map[string]int)
	var all []RecurringIssue
	for _, r := range sorted {
		for _, issue := range r.Issues {
			i, ok := index[issue]
			if !ok {
				index[issue] = len(all)
				all = append(all, RecurringIssue{Issue: issue, FirstSeen: r.Timestamp, LastSeen: r.Timestamp})
				i = len(all) - 1
			}
			all[i].Count++
			if r.Timestamp.After(all[i].LastSeen) {
				all[i].LastSeen = r.Timestamp
			}
		}
	}

	out := make([]RecurringIssue, 0, len(all))
	for _, ri := range all {
		if ri.Count > 1 {
			ri.Frequency = float64(ri.Count) / float64(len(sorted))
			out = append(out, ri)
		}
	}
	slices.SortStableFunc(out, func(a, b RecurringIssue) int { return b.Count - a.Count })
	return out
}

func stability(records []models.ValidationRecord) StabilityMetrics {
	scores := confidenceSeries(records)
	failures := failureSeries(records)
	s := StabilityMetrics{
		ErrorRate:         mean(failures),
		AverageConfidence: mean(scores),
		ConsistencyScore:  1,
	}
	if len(scores) >= 2 {
		s.ConsistencyScore = 1 - min(sampleStdev(scores), 1)
	}
	return s
}

func improvement(sorted []models.ValidationRecord) ImprovementIndicator {
	if len(sorted) < improvementMinRecords {
		return ImprovementIndicator{Trend: ImprovementInsufficientData}
	}
	split := len(sorted) - improvementRecentCount
	recent, historical := sorted[split:], sorted[:split]

	ind := ImprovementIndicator{
		ConfidenceChange: mean(confidenceSeries(recent)) - mean(confidenceSeries(historical)),
		ErrorRateChange:  mean(failureSeries(recent)) - mean(failureSeries(historical)),
	}
	switch {
	case ind.ConfidenceChange > improvementBand && ind.ErrorRateChange < -improvementBand:
		ind.Trend = ImprovementImproving
	case ind.ConfidenceChange < -improvementBand && ind.ErrorRateChange > improvementBand:
		ind.Trend = ImprovementDegrading
	default:
		ind.Trend = ImprovementStable
	}
	return ind
}
