package history

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// MinedPatternType names the heuristic that produced a MinedPattern.
type MinedPatternType string

const (
	MinedIssueSequence MinedPatternType = "issue_sequence"
	MinedConfidence    MinedPatternType = "confidence_pattern"
	MinedTiming        MinedPatternType = "timing_pattern"
)

const (
	// DefaultMinOccurrences is the repeat count MinePatterns uses when callers pass none.
	DefaultMinOccurrences = 2

	minSequenceLen       = 2
	maxSequenceLen       = 3
	maxSequenceExamples  = 3
	minConfidencePoints  = 3
	minConfidenceDelta   = 0.1
	minTimingDeltas      = 3
	timingVarianceFactor = 0.25
)

// MinedPattern is one result of MinePatterns.
type MinedPattern struct {
	Type         MinedPatternType          `json:"pattern_type"`
	Description  string                    `json:"description"`
	Occurrences  int                       `json:"occurrences"`
	Significance float64                   `json:"significance"`
	Examples     []models.ValidationRecord `json:"examples"`
}

// MinePatterns runs the sequence, confidence and timing heuristics over records
// in chronological order. Results are sorted by significance, highest first.
func MinePatterns(records []models.ValidationRecord, minOccurrences int) []MinedPattern {
	if minOccurrences <= 0 {
		minOccurrences = DefaultMinOccurrences
	}
	if len(records) < minOccurrences {
		return []MinedPattern{}
	}

	patterns := mineSequences(records, minOccurrences)
	if p, ok := mineConfidence(records); ok {
		patterns = append(patterns, p)
	}
	if p, ok := mineTiming(records); ok {
		patterns = append(patterns, p)
	}
	slices.SortStableFunc(patterns, func(a, b MinedPattern) int {
		return cmp.Compare(b.Significance, a.Significance)
	})
	return patterns
}

type sequenceStep struct {
	valid  bool
	issues []string
}

func stepKey(r models.ValidationRecord) (sequenceStep, string) {
	issues := append([]string(nil), r.Issues...)
	slices.Sort(issues)
	return sequenceStep{valid: r.IsValid, issues: issues}, fmt.Sprintf("%t:%q", r.IsValid, issues)
}

type sequenceTally struct {
	steps    []sequenceStep
	count    int
	examples [][]models.ValidationRecord
}

func mineSequences(records []models.ValidationRecord, minOccurrences int) []MinedPattern {
	index := make(map[string]int)
	var tallies []*sequenceTally

	for length := minSequenceLen; length <= maxSequenceLen; length++ {
		for i := 0; i+length <= len(records); i++ {
			window := records[i : i+length]
			steps := make([]sequenceStep, 0, length)
			keys := make([]string, 0, length)
			for _, r := range window {
				step, key := stepKey(r)
				steps = append(steps, step)
				keys = append(keys, key)
			}
			key := strings.Join(keys, "|")
			idx, ok := index[key]
			if !ok {
				idx = len(tallies)
				index[key] = idx
				tallies = append(tallies, &sequenceTally{steps: steps})
			}
			t := tallies[idx]
			t.count++
			if len(t.examples) < maxSequenceExamples {
				t.examples = append(t.examples, models.CloneRecords(window))
			}
		}
	}

	var patterns []MinedPattern
	for _, t := range tallies {
		if t.count < minOccurrences {
			continue
		}
		var examples []models.ValidationRecord
		for _, ex := range t.examples {
			examples = append(examples, ex...)
		}
		patterns = append(patterns, MinedPattern{
			Type:         MinedIssueSequence,
			Description:  describeSequence(t.steps),
			Occurrences:  t.count,
			Significance: min(float64(len(t.steps)*t.count)/float64(len(records)), 1),
			Examples:     examples,
		})
	}
	return patterns
}

func describeSequence(steps []sequenceStep) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		status := "invalid"
		if s.valid {
			status = "valid"
		}
		if len(s.issues) > 0 {
			status += " with issues: " + strings.Join(s.issues, ", ")
		}
		parts = append(parts, status)
	}
	return "Sequence: " + strings.Join(parts, " → ")
}

func lastExamples(records []models.ValidationRecord) []models.ValidationRecord {
	start := max(len(records)-maxSequenceExamples, 0)
	return models.CloneRecords(records[start:])
}

func mineConfidence(records []models.ValidationRecord) (MinedPattern, bool) {
	if len(records) < minConfidencePoints {
		return MinedPattern{}, false
	}
	deltas := make([]float64, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		deltas = append(deltas, records[i].ConfidenceScore-records[i-1].ConfidenceScore)
	}
	avg := mean(deltas)
	if math.Abs(avg) < minConfidenceDelta {
		return MinedPattern{}, false
	}
	for _, d := range deltas {
		if (d > 0) != (avg > 0) || d == 0 {
			return MinedPattern{}, false
		}
	}
	direction := "declining"
	if avg > 0 {
		direction = "improving"
	}
	return MinedPattern{
		Type:         MinedConfidence,
		Description:  fmt.Sprintf("Consistently %s confidence scores", direction),
		Occurrences:  len(deltas),
		Significance: min(math.Abs(avg)*2, 1),
		Examples:     lastExamples(records),
	}, true
}

func mineTiming(records []models.ValidationRecord) (MinedPattern, bool) {
	if len(records) < 2 {
		return MinedPattern{}, false
	}
	deltas := make([]float64, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		deltas = append(deltas, records[i].Timestamp.Sub(records[i-1].Timestamp).Seconds())
	}
	if len(deltas) < minTimingDeltas {
		return MinedPattern{}, false
	}
	avg := mean(deltas)
	var variance float64
	for _, d := range deltas {
		variance += (d - avg) * (d - avg)
	}
	variance /= float64(len(deltas))
	if !(variance < avg*timingVarianceFactor) {
		return MinedPattern{}, false
	}
	significance := 1 - variance/(avg*avg)
	return MinedPattern{
		Type:         MinedTiming,
		Description:  "Regular validation interval of " + formatInterval(avg),
		Occurrences:  len(deltas),
		Significance: math.Max(0, math.Min(significance, 1)),
		Examples:     lastExamples(records),
	}, true
}

func formatInterval(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%.0f seconds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%.0f minutes", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%.1f hours", seconds/3600)
	default:
		return fmt.Sprintf("%.1f days", seconds/86400)
	}
}
