// Package engine wires the history store, pattern detector, recovery selector
// and metrics aggregator into the ingest and reporting flows.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Jita81/SelfImprovingRAG/internal/history"
	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/monitor"
	"github.com/Jita81/SelfImprovingRAG/internal/patterns"
	"github.com/Jita81/SelfImprovingRAG/internal/recovery"
)

const (
	// DefaultRecentWindow bounds the history handed to the detector.
	DefaultRecentWindow = 100
	// DefaultClusterSimilarity is the threshold used for report clustering.
	DefaultClusterSimilarity = history.DefaultMinSimilarity
	// DefaultMinedOccurrences is the occurrence floor for report mining.
	DefaultMinedOccurrences = 2
)

// Options configures a Pipeline. Store is required; the remaining components
// are optional and their sections of the report are left empty when absent.
type Options struct {
	Store      *history.Store
	Detector   *patterns.Detector
	Selector   *recovery.Selector
	Aggregator *monitor.Aggregator
	Logger     *slog.Logger

	RecentWindow     int
	MinSignificance  float64
	TrendWindow      int
	TrendThreshold   float64
	MonitorWindow    time.Duration
	TimeSeriesPeriod time.Duration

	// AutoExecute runs every selected action with Resources.
	AutoExecute bool
	Resources   recovery.Context

	// Now stamps records ingested without a timestamp.
	Now func() time.Time
}

// Pipeline orchestrates ingestion and reporting.
type Pipeline struct {
	store      *history.Store
	detector   *patterns.Detector
	selector   *recovery.Selector
	aggregator *monitor.Aggregator
	logger     *slog.Logger

	recentWindow     int
	minSignificance  float64
	trendWindow      int
	trendThreshold   float64
	monitorWindow    time.Duration
	timeSeriesPeriod time.Duration
	autoExecute      bool
	resources        recovery.Context
	now              func() time.Time
}

// NewPipeline constructs a Pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("history store not configured")
	}
	p := &Pipeline{
		store:            opts.Store,
		detector:         opts.Detector,
		selector:         opts.Selector,
		aggregator:       opts.Aggregator,
		logger:           opts.Logger,
		recentWindow:     opts.RecentWindow,
		minSignificance:  opts.MinSignificance,
		trendWindow:      opts.TrendWindow,
		trendThreshold:   opts.TrendThreshold,
		monitorWindow:    opts.MonitorWindow,
		timeSeriesPeriod: opts.TimeSeriesPeriod,
		autoExecute:      opts.AutoExecute,
		resources:        opts.Resources,
		now:              opts.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.recentWindow <= 0 {
		p.recentWindow = DefaultRecentWindow
	}
	if p.minSignificance <= 0 {
		p.minSignificance = patterns.DefaultMinSignificance
	}
	if p.trendWindow <= 0 {
		p.trendWindow = history.DefaultTrendWindow
	}
	if p.trendThreshold <= 0 {
		p.trendThreshold = history.DefaultTrendThreshold
	}
	if p.monitorWindow <= 0 {
		p.monitorWindow = monitor.DefaultWindow
	}
	if p.timeSeriesPeriod <= 0 {
		p.timeSeriesPeriod = history.DefaultTimeSeriesPeriod
	}
	return p, nil
}

// Store exposes the underlying history store.
func (p *Pipeline) Store() *history.Store { return p.store }

// Selector exposes the recovery selector, which may be nil.
func (p *Pipeline) Selector() *recovery.Selector { return p.selector }

// IngestResult describes what happened to one ingested record.
type IngestResult struct {
	Record    models.ValidationRecord   `json:"record"`
	Action    *models.RecoveryAction    `json:"action,omitempty"`
	Execution *models.RecoveryExecution `json:"execution,omitempty"`
}

// Ingest records a validation outcome and, for failures, selects a recovery
// action. The record is retained in memory even when persistence fails; in
// that case the populated result is returned together with the error.
func (p *Pipeline) Ingest(ctx context.Context, record models.ValidationRecord) (IngestResult, error) {
	if record.Timestamp.IsZero() {
		record.Timestamp = p.now().UTC()
	}
	if record.Issues == nil {
		record.Issues = []string{}
	}
	result := IngestResult{Record: record}

	persistErr := p.store.Add(ctx, record)
	if persistErr != nil {
		p.logger.Warn("validation history flush failed", slog.Any("error", persistErr))
	}

	if record.IsValid || p.selector == nil {
		return result, persistErr
	}

	result.Action = p.SelectRecovery(ctx, record)
	if result.Action == nil {
		return result, persistErr
	}
	p.logger.Info("recovery action selected",
		slog.String("strategy", string(result.Action.Strategy)),
		slog.Int("priority", result.Action.Priority),
		slog.Float64("estimated_impact", result.Action.EstimatedImpact),
	)

	if p.autoExecute {
		exec, err := p.selector.Execute(ctx, *result.Action, p.resources)
		switch {
		case errors.Is(err, recovery.ErrCapacityExceeded):
			p.logger.Warn("recovery deferred at capacity", slog.String("strategy", string(result.Action.Strategy)))
		case err != nil:
			p.logger.Warn("recovery execution failed", slog.Any("error", err))
		default:
			result.Execution = &exec
		}
	}
	return result, persistErr
}

// SelectRecovery returns the recovery action for record without storing it.
// Pattern detection sees at most the recent window of active history.
func (p *Pipeline) SelectRecovery(ctx context.Context, record models.ValidationRecord) *models.RecoveryAction {
	if p.selector == nil {
		return nil
	}
	return p.selector.Select(ctx, record, p.store.Recent(p.recentWindow))
}

// Metrics computes the current performance metrics and their alerts over the
// active history, the supplied patterns and every recorded execution.
func (p *Pipeline) Metrics(found []models.Pattern) (map[models.MetricKind]models.PerformanceMetric, []models.Alert) {
	if p.aggregator == nil {
		return map[models.MetricKind]models.PerformanceMetric{}, []models.Alert{}
	}
	var executions []models.RecoveryExecution
	if p.selector != nil {
		executions = p.selector.History()
	}
	current := p.aggregator.Calculate(p.store.Snapshot(), found, executions, p.monitorWindow)
	return current, p.aggregator.CheckAlerts(current)
}

// Patterns runs the detector over the recent window.
func (p *Pipeline) Patterns(ctx context.Context, minSignificance float64) []models.Pattern {
	if p.detector == nil {
		return []models.Pattern{}
	}
	if minSignificance <= 0 {
		minSignificance = p.minSignificance
	}
	return p.detector.Analyze(ctx, p.store.Recent(p.recentWindow), minSignificance)
}

// Trend runs trend detection with the configured window and threshold.
func (p *Pipeline) Trend() history.TrendReport {
	return p.store.DetectTrend(p.trendWindow, p.trendThreshold)
}

// TimeSeries buckets the active history by period, or by the configured
// period when period is not positive.
func (p *Pipeline) TimeSeries(period time.Duration) []history.TimeBucket {
	if period <= 0 {
		period = p.timeSeriesPeriod
	}
	return p.store.TimeSeries(period)
}

// RelatedIssues lists active issues similar to issue.
func (p *Pipeline) RelatedIssues(issue string, minSimilarity float64) []history.RelatedIssue {
	if minSimilarity <= 0 {
		minSimilarity = history.DefaultMinSimilarity
	}
	return p.store.FindRelatedIssues(issue, minSimilarity)
}

// MetricHistory returns every value of kind computed since startup within
// [start, end]. Zero bounds are open.
func (p *Pipeline) MetricHistory(kind models.MetricKind, start, end time.Time) []models.PerformanceMetric {
	if p.aggregator == nil {
		return []models.PerformanceMetric{}
	}
	return p.aggregator.History(kind, start, end)
}

// Clear empties the active history and, when includeArchive is set, the archive.
func (p *Pipeline) Clear(ctx context.Context, includeArchive bool) error {
	if err := p.store.Clear(ctx, includeArchive); err != nil {
		return err
	}
	p.logger.Info("validation history cleared", slog.Bool("include_archive", includeArchive))
	return nil
}

// RunRotation applies the retention limits every interval until ctx is done,
// so records age into the archive even when nothing is ingested.
func (p *Pipeline) RunRotation(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := p.store.Rotate(ctx)
			if err != nil {
				p.logger.Warn("history rotation flush failed", slog.Any("error", err))
			}
			if moved > 0 {
				p.logger.Info("validation history rotated", slog.Int("archived", moved))
			}
		}
	}
}

// Report is the full analytical view of the current history.
type Report struct {
	GeneratedAt     time.Time                                      `json:"generated_at"`
	Summary         history.TrendSummary                           `json:"summary"`
	Trend           history.TrendReport                            `json:"trend"`
	Categories      history.CategoryReport                         `json:"categories"`
	TimeSeries      []history.TimeBucket                           `json:"time_series"`
	Archive         history.ArchiveReport                          `json:"archive"`
	Clusters        []history.IssueCluster                         `json:"clusters"`
	MinedPatterns   []history.MinedPattern                         `json:"mined_patterns"`
	Patterns        []models.Pattern                               `json:"patterns"`
	Recommendations []history.Recommendation                       `json:"recommendations"`
	Metrics         map[models.MetricKind]models.PerformanceMetric `json:"metrics"`
	Alerts          []models.Alert                                 `json:"alerts"`
}

// Report runs every analysis concurrently over the current history.
func (p *Pipeline) Report(ctx context.Context) (Report, error) {
	report := Report{GeneratedAt: p.now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report.Summary = p.store.TrendSummary(0)
		report.Categories = p.store.Categorize()
		report.TimeSeries = p.TimeSeries(0)
		return gctx.Err()
	})
	g.Go(func() error {
		report.Trend = p.Trend()
		return gctx.Err()
	})
	g.Go(func() error {
		report.Archive = p.store.ArchiveAnalysis(0)
		return gctx.Err()
	})
	g.Go(func() error {
		report.Clusters = p.store.ClusterIssues(DefaultClusterSimilarity)
		report.MinedPatterns = p.store.MinePatterns(DefaultMinedOccurrences)
		return gctx.Err()
	})
	g.Go(func() error {
		report.Recommendations = p.store.Recommendations()
		return gctx.Err()
	})
	g.Go(func() error {
		report.Patterns = p.Patterns(gctx, 0)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("build report: %w", err)
	}

	report.Metrics, report.Alerts = p.Metrics(report.Patterns)
	return report, nil
}
