// Package history retains validation outcomes under bounded, time-rotated
// retention and analyses them for trends, clusters and recurring patterns.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/metrics"
	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/storage"
	"github.com/Jita81/SelfImprovingRAG/internal/utils"
)

const (
	// DefaultMaxAge is the retention age of active records.
	DefaultMaxAge = 30 * 24 * time.Hour
	// DefaultMaxEntries is the retention count of active records.
	DefaultMaxEntries = 1000
)

// Options configures a Store. Zero values select the defaults; a nil Backend
// keeps history in memory only.
type Options struct {
	MaxAge     time.Duration
	MaxEntries int
	Backend    storage.Backend
	Rules      *RuleEngine
	Logger     *slog.Logger
	Now        func() time.Time
}

// Store is the append-only ledger of validation records. Records beyond the
// age or count limit move to the archive, which only shrinks on Clear.
type Store struct {
	mu      sync.RWMutex
	active  []models.ValidationRecord
	archive []models.ValidationRecord

	maxAge     time.Duration
	maxEntries int
	backend    storage.Backend
	rules      *RuleEngine
	logger     *slog.Logger
	now        func() time.Time
}

// NewStore builds a Store and loads any persisted history. Malformed persisted
// documents are logged and treated as empty.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	s := &Store{
		maxAge:     opts.MaxAge,
		maxEntries: opts.MaxEntries,
		backend:    opts.Backend,
		rules:      opts.Rules,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxAge
	}
	if s.maxEntries <= 0 {
		s.maxEntries = DefaultMaxEntries
	}
	if s.rules == nil {
		s.rules = DefaultRuleEngine()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if s.backend == nil {
		return s, nil
	}

	var err error
	if s.active, err = s.load(ctx, storage.DocumentActive); err != nil {
		return nil, err
	}
	if s.archive, err = s.load(ctx, storage.DocumentArchive); err != nil {
		return nil, err
	}
	var dropped int
	if s.active, dropped = withoutArchived(s.active, s.archive); dropped > 0 {
		s.logger.Warn("dropped active records already archived",
			slog.Int("records", dropped),
		)
	}
	s.logger.Info("validation history loaded",
		slog.Int("active", len(s.active)),
		slog.Int("archived", len(s.archive)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if moved := s.rotateLocked(); moved > 0 {
		if err := s.persistLocked(ctx, true); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load(ctx context.Context, doc storage.Document) ([]models.ValidationRecord, error) {
	records, err := s.backend.Load(ctx, doc)
	if errors.Is(err, storage.ErrMalformed) {
		metrics.IncPersistenceError("load")
		s.logger.Warn("discarding malformed validation history",
			slog.String("document", string(doc)),
			slog.Any("error", err),
		)
		return nil, nil
	}
	if err != nil {
		metrics.IncPersistenceError("load")
		return nil, utils.WrapOp("history.load", string(doc), err)
	}
	return records, nil
}

// withoutArchived removes active records that also appear in the archive.
// The archive is written before the active document, so an interrupted flush
// leaves rotated records in both. Matching is by value and counts duplicates.
func withoutArchived(active, archive []models.ValidationRecord) ([]models.ValidationRecord, int) {
	if len(active) == 0 || len(archive) == 0 {
		return active, 0
	}
	archived := make(map[string]int, len(archive))
	for _, r := range archive {
		archived[recordKey(r)]++
	}
	kept := make([]models.ValidationRecord, 0, len(active))
	for _, r := range active {
		key := recordKey(r)
		if archived[key] > 0 {
			archived[key]--
			continue
		}
		kept = append(kept, r)
	}
	return kept, len(active) - len(kept)
}

func recordKey(r models.ValidationRecord) string {
	return fmt.Sprintf("%d|%t|%g|%s", r.Timestamp.UnixNano(), r.IsValid, r.ConfidenceScore, strings.Join(r.Issues, "\x00"))
}

// Add appends record, rotates, and flushes to the backend. The in-memory
// history is updated even when the flush fails.
func (s *Store) Add(ctx context.Context, record models.ValidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = append(s.active, record.Clone())
	metrics.ObserveValidation(record.IsValid)
	moved := s.rotateLocked()
	return s.persistLocked(ctx, moved > 0)
}

// Rotate applies the retention limits and returns the number of records moved
// to the archive. Calling it again without new records moves nothing.
func (s *Store) Rotate(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := s.rotateLocked()
	if moved == 0 {
		return 0, nil
	}
	return moved, s.persistLocked(ctx, true)
}

func (s *Store) rotateLocked() int {
	if len(s.active) == 0 {
		return 0
	}
	now := s.now()

	keep := make([]models.ValidationRecord, 0, len(s.active))
	var expired []models.ValidationRecord
	for _, r := range s.active {
		if now.Sub(r.Timestamp) <= s.maxAge {
			keep = append(keep, r)
		} else {
			expired = append(expired, r)
		}
	}

	if excess := len(keep) - s.maxEntries; excess > 0 {
		order := make([]int, len(keep))
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(a, b int) int {
			return keep[a].Timestamp.Compare(keep[b].Timestamp)
		})
		drop := make(map[int]struct{}, excess)
		for _, idx := range order[:excess] {
			drop[idx] = struct{}{}
			expired = append(expired, keep[idx])
		}
		kept := make([]models.ValidationRecord, 0, len(keep)-excess)
		for i, r := range keep {
			if _, ok := drop[i]; !ok {
				kept = append(kept, r)
			}
		}
		keep = kept
	}

	if len(expired) == 0 {
		return 0
	}
	s.active = keep
	s.archive = append(s.archive, expired...)
	metrics.AddArchived(len(expired))
	return len(expired)
}

func (s *Store) persistLocked(ctx context.Context, includeArchive bool) error {
	if s.backend == nil {
		return nil
	}
	if includeArchive {
		if err := s.backend.Save(ctx, storage.DocumentArchive, s.archive); err != nil {
			metrics.IncPersistenceError("save")
			return utils.WrapOp("history.persist", "archive", err)
		}
	}
	if err := s.backend.Save(ctx, storage.DocumentActive, s.active); err != nil {
		metrics.IncPersistenceError("save")
		return utils.WrapOp("history.persist", "active", err)
	}
	return nil
}

// Clear empties the active history and, when includeArchive is set, the archive.
func (s *Store) Clear(ctx context.Context, includeArchive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = nil
	if includeArchive {
		s.archive = nil
	}
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Clear(ctx, storage.DocumentActive); err != nil {
		metrics.IncPersistenceError("clear")
		return utils.WrapOp("history.clear", "active", err)
	}
	if includeArchive {
		if err := s.backend.Clear(ctx, storage.DocumentArchive); err != nil {
			metrics.IncPersistenceError("clear")
			return utils.WrapOp("history.clear", "archive", err)
		}
	}
	return nil
}

// Snapshot returns a copy of the active records in insertion order.
func (s *Store) Snapshot() []models.ValidationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneRecords(s.active)
}

// Archived returns a copy of the archived records.
func (s *Store) Archived() []models.ValidationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneRecords(s.archive)
}

// Recent returns up to n of the newest active records, oldest first.
func (s *Store) Recent(n int) []models.ValidationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && len(s.active) > n {
		start = len(s.active) - n
	}
	return models.CloneRecords(s.active[start:])
}

// Len returns the active and archived record counts.
func (s *Store) Len() (active, archived int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active), len(s.archive)
}

// view returns the active records without copying issue slices. Records are
// never mutated after ingestion, so analyses may read them lock-free.
func (s *Store) view() []models.ValidationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.active)
}

// AverageConfidence is the mean confidence over active records within window.
func (s *Store) AverageConfidence(window time.Duration) float64 {
	return AverageConfidence(s.view(), s.now(), window)
}

// CommonIssues returns the limit most frequent active issues.
func (s *Store) CommonIssues(limit int) []IssueCount {
	return CommonIssues(s.view(), limit)
}

// Categorize classifies every active issue.
func (s *Store) Categorize() CategoryReport {
	return Categorize(s.view())
}

// TimeSeries buckets the active records by period.
func (s *Store) TimeSeries(period time.Duration) []TimeBucket {
	return TimeSeries(s.view(), period)
}

// TrendSummary returns the headline figures for the active history.
func (s *Store) TrendSummary(window time.Duration) TrendSummary {
	return Summarize(s.view(), s.now(), window)
}

// DetectTrend compares the newest windowSize active records with the rest.
func (s *Store) DetectTrend(windowSize int, threshold float64) TrendReport {
	return DetectTrend(s.view(), windowSize, threshold)
}

// ArchiveAnalysis analyses archived and active records together.
func (s *Store) ArchiveAnalysis(window time.Duration) ArchiveReport {
	s.mu.RLock()
	combined := make([]models.ValidationRecord, 0, len(s.archive)+len(s.active))
	combined = append(combined, s.archive...)
	combined = append(combined, s.active...)
	s.mu.RUnlock()
	return AnalyzeArchive(combined, s.now(), window)
}

// FindRelatedIssues lists active issues similar to issue.
func (s *Store) FindRelatedIssues(issue string, minSimilarity float64) []RelatedIssue {
	return FindRelatedIssues(s.view(), issue, minSimilarity)
}

// ClusterIssues groups related active issues.
func (s *Store) ClusterIssues(minSimilarity float64) []IssueCluster {
	return ClusterIssues(s.view(), minSimilarity)
}

// MinePatterns runs the lightweight pattern heuristics over active records.
func (s *Store) MinePatterns(minOccurrences int) []MinedPattern {
	return MinePatterns(s.view(), minOccurrences)
}

// Recommendations evaluates the configured rule pack against active history.
func (s *Store) Recommendations() []Recommendation {
	return Recommend(s.view(), s.now(), s.rules)
}
