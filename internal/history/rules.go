package history

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// MinRecommendationRecords is the history size below which no recommendations are made.
const MinRecommendationRecords = 5

// Priority orders recommendations; high sorts first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort position of p. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// Recommendation is a prioritized remediation hint derived from history.
type Recommendation struct {
	RuleID         string   `json:"rule_id,omitempty"`
	Category       string   `json:"category"`
	Priority       Priority `json:"priority"`
	Issue          string   `json:"issue"`
	Recommendation string   `json:"recommendation"`
	Evidence       string   `json:"evidence"`
}

// Rule is a single recommendation rule.
type Rule struct {
	ID             string      `yaml:"id"`
	Category       string      `yaml:"category"`
	Priority       Priority    `yaml:"priority"`
	Issue          string      `yaml:"issue"`
	Recommendation string      `yaml:"recommendation"`
	Evidence       string      `yaml:"evidence"`
	Match          RuleMatch   `yaml:"match"`
	Escalate       *Escalation `yaml:"escalate"`

	evidence *template.Template
}

// RuleMatch defines the conditions a rule requires. Empty fields always match.
type RuleMatch struct {
	ConfidenceTrend Direction `yaml:"confidence_trend"`
	FailureTrend    Direction `yaml:"failure_trend"`
	IssueCategory   Category  `yaml:"issue_category"`
	IssueTrend      Direction `yaml:"issue_trend"`
	MinIssues       int       `yaml:"min_issues"`
}

// Escalation raises a rule's priority when the category count exceeds Above.
type Escalation struct {
	Above    int      `yaml:"above"`
	Priority Priority `yaml:"priority"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// RuleInput is the evidence a rule pack is evaluated against.
type RuleInput struct {
	Trend   TrendReport
	Summary TrendSummary
}

type evidenceData struct {
	AverageConfidence float64
	FailureRate       float64
	Count             int
}

var evidenceFuncs = template.FuncMap{
	"percent": func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
}

// RuleEngine turns trend reports into recommendations using a YAML rule pack.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// NewRuleEngine loads rules from path. An empty path or a missing file falls back
// to the built-in rule pack.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return parseRules(defaultRulesYAML, logger)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("recommendation rules not found, using built-in rules", slog.String("path", path))
			return parseRules(defaultRulesYAML, logger)
		}
		return nil, err
	}
	return parseRules(data, logger)
}

var defaultEngine = sync.OnceValue(func() *RuleEngine {
	engine, err := parseRules(defaultRulesYAML, slog.Default())
	if err != nil {
		panic(fmt.Sprintf("built-in recommendation rules: %v", err))
	}
	return engine
})

// DefaultRuleEngine returns the engine for the built-in rule pack.
func DefaultRuleEngine() *RuleEngine {
	return defaultEngine()
}

func parseRules(data []byte, logger *slog.Logger) (*RuleEngine, error) {
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse recommendation rules: %w", err)
	}
	for i := range cfg.Rules {
		r := &cfg.Rules[i]
		if r.Priority.Rank() > PriorityLow.Rank() {
			return nil, fmt.Errorf("rule %q: unknown priority %q", r.ID, r.Priority)
		}
		tmpl, err := template.New(r.ID).Funcs(evidenceFuncs).Parse(r.Evidence)
		if err != nil {
			return nil, fmt.Errorf("rule %q: evidence template: %w", r.ID, err)
		}
		r.evidence = tmpl
	}
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

// Rules returns the loaded rule IDs in evaluation order.
func (e *RuleEngine) Rules() []string {
	if e == nil {
		return nil
	}
	ids := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		ids = append(ids, r.ID)
	}
	return ids
}

// Evaluate applies every rule to in and returns the matches, high priority first.
func (e *RuleEngine) Evaluate(in RuleInput) []Recommendation {
	out := []Recommendation{}
	if e == nil {
		return out
	}
	for _, rule := range e.rules {
		count, ok := rule.matches(in)
		if !ok {
			continue
		}
		priority := rule.Priority
		if rule.Escalate != nil && count > rule.Escalate.Above {
			priority = rule.Escalate.Priority
		}
		out = append(out, Recommendation{
			RuleID:         rule.ID,
			Category:       rule.Category,
			Priority:       priority,
			Issue:          rule.Issue,
			Recommendation: rule.Recommendation,
			Evidence:       e.renderEvidence(rule, in, count),
		})
	}
	slices.SortStableFunc(out, func(a, b Recommendation) int { return a.Priority.Rank() - b.Priority.Rank() })
	return out
}

func (r Rule) matches(in RuleInput) (int, bool) {
	m := r.Match
	if m.ConfidenceTrend != "" && in.Trend.ConfidenceTrend != m.ConfidenceTrend {
		return 0, false
	}
	if m.FailureTrend != "" && in.Trend.FailureTrend != m.FailureTrend {
		return 0, false
	}
	var count int
	if m.IssueCategory != "" {
		count = in.Summary.Categories[m.IssueCategory]
		if m.IssueTrend != "" && in.Trend.IssueTrends[m.IssueCategory] != m.IssueTrend {
			return 0, false
		}
		if count < m.MinIssues {
			return 0, false
		}
	}
	return count, true
}

func (e *RuleEngine) renderEvidence(rule Rule, in RuleInput, count int) string {
	if rule.evidence == nil {
		return rule.Evidence
	}
	var buf bytes.Buffer
	data := evidenceData{
		AverageConfidence: in.Summary.AverageConfidence,
		FailureRate:       in.Summary.FailureRate,
		Count:             count,
	}
	if err := rule.evidence.Execute(&buf, data); err != nil {
		e.logger.Warn("render recommendation evidence", slog.String("rule", rule.ID), slog.Any("error", err))
		return rule.Evidence
	}
	return buf.String()
}
