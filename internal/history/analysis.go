package history

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/utils"
)

// DefaultCommonIssues is the issue list length used by trend summaries.
const DefaultCommonIssues = 5

// AverageConfidence returns the mean confidence of records no older than window
// relative to now. A non-positive window includes every record. It returns 0
// when nothing matches.
func AverageConfidence(records []models.ValidationRecord, now time.Time, window time.Duration) float64 {
	cutoff := utils.WindowStart(now, window)
	var (
		sum   float64
		count int
	)
	for _, r := range records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		sum += r.ConfidenceScore
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// IssueCount pairs an issue string with its frequency.
type IssueCount struct {
	Issue string `json:"issue"`
	Count int    `json:"count"`
}

// CommonIssues returns the most frequent issues, highest count first. Ties keep
// first-encountered order. A non-positive limit returns every issue.
func CommonIssues(records []models.ValidationRecord, limit int) []IssueCount {
	index := make(map[string]int)
	var counts []IssueCount
	for _, r := range records {
		for _, issue := range r.Issues {
			if i, ok := index[issue]; ok {
				counts[i].Count++
				continue
			}
			index[issue] = len(counts)
			counts = append(counts, IssueCount{Issue: issue, Count: 1})
		}
	}
	slices.SortStableFunc(counts, func(a, b IssueCount) int { return cmp.Compare(b.Count, a.Count) })
	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	if counts == nil {
		counts = []IssueCount{}
	}
	return counts
}

// TimeBucket summarises the records that fall in [Start, Start+period).
type TimeBucket struct {
	Start           time.Time      `json:"timestamp"`
	ValidationCount int            `json:"validation_count"`
	FailureRate     float64        `json:"failure_rate"`
	ConfidenceAvg   float64        `json:"confidence_avg"`
	Categories      CategoryCounts `json:"categories"`
}

// DefaultTimeSeriesPeriod is used when TimeSeries receives a non-positive period.
const DefaultTimeSeriesPeriod = 24 * time.Hour

// TimeSeries buckets records into consecutive intervals of length period
// starting at the earliest timestamp. Empty buckets are omitted.
func TimeSeries(records []models.ValidationRecord, period time.Duration) []TimeBucket {
	if len(records) == 0 {
		return []TimeBucket{}
	}
	if period <= 0 {
		period = DefaultTimeSeriesPeriod
	}

	start := records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.Before(start) {
			start = r.Timestamp
		}
	}

	grouped := make(map[int64][]models.ValidationRecord)
	for _, r := range records {
		idx := int64(r.Timestamp.Sub(start) / period)
		grouped[idx] = append(grouped[idx], r)
	}

	buckets := make([]TimeBucket, 0, len(grouped))
	for _, idx := range slices.Sorted(maps.Keys(grouped)) {
		members := grouped[idx]
		bucket := TimeBucket{
			Start:           start.Add(time.Duration(idx) * period),
			ValidationCount: len(members),
			Categories:      countCategories(members),
		}
		var failed int
		var confidence float64
		for _, r := range members {
			if !r.IsValid {
				failed++
			}
			confidence += r.ConfidenceScore
		}
		bucket.FailureRate = float64(failed) / float64(len(members))
		bucket.ConfidenceAvg = confidence / float64(len(members))
		buckets = append(buckets, bucket)
	}
	return buckets
}

// TrendSummary is a compact overview of the active history.
type TrendSummary struct {
	AverageConfidence float64        `json:"average_confidence"`
	FailureRate       float64        `json:"failure_rate"`
	Categories        CategoryCounts `json:"categories"`
	CommonIssues      []IssueCount   `json:"common_issues"`
}

// Summarize builds a TrendSummary. Only the average confidence honours window;
// the failure rate and category counts cover every record.
func Summarize(records []models.ValidationRecord, now time.Time, window time.Duration) TrendSummary {
	report := Categorize(records)
	summary := TrendSummary{
		Categories:   report.Categories,
		CommonIssues: CommonIssues(records, DefaultCommonIssues),
	}
	if report.TotalValidations == 0 {
		return summary
	}
	summary.AverageConfidence = AverageConfidence(records, now, window)
	summary.FailureRate = float64(report.FailedValidations) / float64(report.TotalValidations)
	return summary
}
