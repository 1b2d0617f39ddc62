// Package recovery decides how to remediate a failed validation and tracks the
// executions of those decisions under a bounded concurrency cap.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jita81/SelfImprovingRAG/internal/metrics"
	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// ErrCapacityExceeded is returned by Execute when the in-flight cap is reached.
var ErrCapacityExceeded = errors.New("recovery: concurrent execution limit reached")

// PatternSource finds patterns in recent history; *patterns.Detector satisfies it.
type PatternSource interface {
	Analyze(ctx context.Context, records []models.ValidationRecord, minSignificance float64) []models.Pattern
}

// Dispatcher forwards an accepted execution to an external remediation executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, exec models.RecoveryExecution, rc Context) error
}

// Config holds selection thresholds and the execution cap.
type Config struct {
	CriticalThreshold   float64
	PatternSignificance float64
	MaxConcurrent       int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		CriticalThreshold:   0.8,
		PatternSignificance: 0.7,
		MaxConcurrent:       3,
	}
}

// Options configures a Selector. A nil Config selects DefaultConfig; a
// supplied Config is used as given, except that a non-positive MaxConcurrent
// falls back to the default cap.
type Options struct {
	Config     *Config
	Patterns   PatternSource
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Now        func() time.Time
}

// Selector chooses recovery actions and runs them.
type Selector struct {
	cfg        Config
	patterns   PatternSource
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	active   map[string]struct{}
	history  []models.RecoveryExecution
	handlers map[models.Strategy]Handler
}

// NewSelector builds a Selector with the default strategy handlers installed.
func NewSelector(opts Options) *Selector {
	def := DefaultConfig()
	cfg := def
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Selector{
		cfg:        cfg,
		patterns:   opts.Patterns,
		dispatcher: opts.Dispatcher,
		logger:     logger,
		now:        now,
		active:     make(map[string]struct{}),
		handlers:   defaultHandlers(),
	}
}

// Config returns the effective configuration.
func (s *Selector) Config() Config {
	return s.cfg
}

// Select returns the recovery action for record, or nil when it passed.
// recent is the history the pattern detector runs over.
func (s *Selector) Select(ctx context.Context, record models.ValidationRecord, recent []models.ValidationRecord) *models.RecoveryAction {
	if record.IsValid {
		return nil
	}
	if record.ConfidenceScore >= s.cfg.CriticalThreshold {
		return criticalAction(record)
	}
	if s.patterns != nil {
		found := s.patterns.Analyze(ctx, recent, s.cfg.PatternSignificance)
		if action := s.SelectWithPatterns(record, found); action != nil {
			return action
		}
	}
	return isolatedAction(record)
}

// SelectWithPatterns returns a pattern-based action for record using the
// pattern with the largest issue overlap, or nil when none overlaps.
func (s *Selector) SelectWithPatterns(record models.ValidationRecord, found []models.Pattern) *models.RecoveryAction {
	best, bestOverlap := -1, 0
	for i, p := range found {
		if n := overlap(record.Issues, p.RelatedIssues); n > bestOverlap {
			best, bestOverlap = i, n
		}
	}
	if best < 0 {
		return nil
	}
	p := found[best]
	if p.Kind == models.PatternKindTemporal {
		return &models.RecoveryAction{
			Strategy:          models.StrategyRevalidation,
			Description:       "Pattern-based revalidation for: " + p.Description,
			Priority:          2,
			EstimatedImpact:   p.Significance,
			RequiredResources: []string{models.ResourceValidationSystem},
			Metadata: map[string]any{
				"pattern_type":         string(p.Kind),
				"pattern_significance": p.Significance,
				"pattern_occurrences":  p.Occurrences,
				"issue_overlap":        bestOverlap,
			},
		}
	}
	clusterSize, _ := p.Metadata[models.MetaClusterSize].(int)
	return &models.RecoveryAction{
		Strategy:          models.StrategyIncrementalFix,
		Description:       "Pattern-based fix for: " + p.Description,
		Priority:          3,
		EstimatedImpact:   p.Significance,
		RequiredResources: []string{models.ResourceKnowledgeMap},
		Metadata: map[string]any{
			"pattern_type":         string(p.Kind),
			"pattern_significance": p.Significance,
			"cluster_size":         clusterSize,
			"issue_overlap":        bestOverlap,
		},
	}
}

func criticalAction(record models.ValidationRecord) *models.RecoveryAction {
	return &models.RecoveryAction{
		Strategy:          models.StrategyRollback,
		Description:       "Critical failure recovery for: " + strings.Join(record.Issues, ", "),
		Priority:          1,
		EstimatedImpact:   1.0,
		RequiredResources: []string{models.ResourceKnowledgeMap, models.ResourceValidationHistory},
		Metadata: map[string]any{
			"confidence_score": record.ConfidenceScore,
			"issue_count":      len(record.Issues),
		},
	}
}

func isolatedAction(record models.ValidationRecord) *models.RecoveryAction {
	return &models.RecoveryAction{
		Strategy:          models.StrategyIncrementalFix,
		Description:       "Incremental fix for: " + strings.Join(record.Issues, ", "),
		Priority:          4,
		EstimatedImpact:   record.ConfidenceScore,
		RequiredResources: []string{models.ResourceKnowledgeMap},
		Metadata: map[string]any{
			"confidence_score": record.ConfidenceScore,
			"issue_count":      len(record.Issues),
		},
	}
}

// overlap counts the issues that appear, case-insensitively, inside any of
// the related issues.
func overlap(issues, related []string) int {
	lowered := make([]string, len(related))
	for i, r := range related {
		lowered[i] = strings.ToLower(r)
	}
	var n int
	for _, issue := range issues {
		needle := strings.ToLower(issue)
		for _, r := range lowered {
			if strings.Contains(r, needle) {
				n++
				break
			}
		}
	}
	return n
}

// RegisterHandler replaces the handler for strategy.
func (s *Selector) RegisterHandler(strategy models.Strategy, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strategy] = h
}

// Execute applies action with the resources in rc. It returns
// ErrCapacityExceeded without recording anything when the cap is reached.
// Handler failures and panics are reported through the returned execution's
// status, never as an error.
func (s *Selector) Execute(ctx context.Context, action models.RecoveryAction, rc Context) (models.RecoveryExecution, error) {
	s.mu.Lock()
	if len(s.active) >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		metrics.IncRecoveryRejected()
		s.logger.Warn("recovery rejected", slog.String("strategy", string(action.Strategy)), slog.Int("max_concurrent", s.cfg.MaxConcurrent))
		return models.RecoveryExecution{}, ErrCapacityExceeded
	}
	exec := models.RecoveryExecution{
		ID:        uuid.NewString(),
		Action:    action,
		StartTime: s.now(),
		Status:    models.ExecutionInProgress,
	}
	idx := len(s.history)
	s.history = append(s.history, exec)
	s.active[exec.ID] = struct{}{}
	handler := s.handlers[action.Strategy]
	s.mu.Unlock()
	metrics.RecoveryStarted()

	defer func() {
		s.mu.Lock()
		delete(s.active, exec.ID)
		s.history[idx] = exec
		s.mu.Unlock()
		metrics.RecoveryFinished(string(action.Strategy), string(exec.Status), exec.Duration())
	}()

	ok, err := s.apply(ctx, handler, exec, rc)
	exec.EndTime = s.now()
	switch {
	case err != nil:
		exec.Status = models.ExecutionError
		exec.Error = err.Error()
		s.logger.Warn("recovery handler failed", slog.String("id", exec.ID), slog.String("strategy", string(action.Strategy)), slog.Any("error", err))
	case ok:
		exec.Status = models.ExecutionCompleted
	default:
		exec.Status = models.ExecutionFailed
	}
	s.logger.Info("recovery finished", slog.String("id", exec.ID), slog.String("strategy", string(action.Strategy)), slog.String("status", string(exec.Status)))
	return exec, nil
}

func (s *Selector) apply(ctx context.Context, handler Handler, exec models.RecoveryExecution, rc Context) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("handler panic: %v", r)
		}
	}()
	if handler == nil {
		return false, nil
	}
	ok, err = handler.Apply(ctx, exec.Action, rc)
	if err != nil || !ok || s.dispatcher == nil {
		return ok, err
	}
	if err := s.dispatcher.Dispatch(ctx, exec, rc); err != nil {
		return false, fmt.Errorf("dispatch: %w", err)
	}
	return true, nil
}

// History returns every recorded execution in start order.
func (s *Selector) History() []models.RecoveryExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RecoveryExecution, len(s.history))
	copy(out, s.history)
	return out
}

// ActiveCount returns the number of executions currently in flight.
func (s *Selector) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
