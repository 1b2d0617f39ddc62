package history

import (
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// recentSummaryWindow bounds the confidence figure quoted in evidence.
const recentSummaryWindow = 24 * time.Hour

// Recommend evaluates engine against the trend and summary of records. It returns
// an empty list for fewer than MinRecommendationRecords records. A nil engine
// uses the built-in rules.
func Recommend(records []models.ValidationRecord, now time.Time, engine *RuleEngine) []Recommendation {
	if len(records) < MinRecommendationRecords {
		return []Recommendation{}
	}
	if engine == nil {
		engine = DefaultRuleEngine()
	}
	return engine.Evaluate(RuleInput{
		Trend:   DetectTrend(records, DefaultTrendWindow, DefaultTrendThreshold),
		Summary: Summarize(records, now, recentSummaryWindow),
	})
}
