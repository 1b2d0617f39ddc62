package history

import (
	"strings"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// Category is the fixed classification applied to every issue string.
type Category string

const (
	CategoryTechnicalLevel  Category = "technical_level"
	CategoryContentCoverage Category = "content_coverage"
	CategorySystemErrors    Category = "system_errors"
	CategoryOther           Category = "improvement_suggestions"
)

// Categories lists every category in reporting order.
var Categories = []Category{
	CategoryTechnicalLevel,
	CategoryContentCoverage,
	CategorySystemErrors,
	CategoryOther,
}

// Keyword tables, matched case-insensitively as substrings. Earlier tables win.
var (
	TechnicalLevelKeywords  = []string{"technical level"}
	ContentCoverageKeywords = []string{"coverage", "criterion", "missing", "incomplete"}
	SystemErrorKeywords     = []string{"error", "timeout", "failed"}
)

// Classify returns the category of a single issue.
func Classify(issue string) Category {
	lower := strings.ToLower(issue)
	switch {
	case containsAny(lower, TechnicalLevelKeywords):
		return CategoryTechnicalLevel
	case containsAny(lower, ContentCoverageKeywords):
		return CategoryContentCoverage
	case containsAny(lower, SystemErrorKeywords):
		return CategorySystemErrors
	default:
		return CategoryOther
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// CategoryCounts maps each category to its issue count. All categories are
// always present.
type CategoryCounts map[Category]int

func newCategoryCounts() CategoryCounts {
	counts := make(CategoryCounts, len(Categories))
	for _, c := range Categories {
		counts[c] = 0
	}
	return counts
}

func countCategories(records []models.ValidationRecord) CategoryCounts {
	counts := newCategoryCounts()
	for _, r := range records {
		for _, issue := range r.Issues {
			counts[Classify(issue)]++
		}
	}
	return counts
}

// CategoryReport is the result of Categorize.
type CategoryReport struct {
	Categories        CategoryCounts `json:"categories"`
	TotalValidations  int            `json:"total_validations"`
	FailedValidations int            `json:"failed_validations"`
}

// Categorize buckets every issue in records and counts totals.
func Categorize(records []models.ValidationRecord) CategoryReport {
	report := CategoryReport{
		Categories:       countCategories(records),
		TotalValidations: len(records),
	}
	for _, r := range records {
		if !r.IsValid {
			report.FailedValidations++
		}
	}
	return report
}
