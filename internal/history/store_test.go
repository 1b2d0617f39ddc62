package history

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/storage"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Now == nil {
		opts.Now = fixedClock
	}
	store, err := NewStore(context.Background(), opts)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func record(valid bool, score float64, ts time.Time, issues ...string) models.ValidationRecord {
	if issues == nil {
		issues = []string{}
	}
	return models.ValidationRecord{IsValid: valid, Issues: issues, ConfidenceScore: score, Timestamp: ts}
}

func mustAdd(t *testing.T, s *Store, recs ...models.ValidationRecord) {
	t.Helper()
	for _, r := range recs {
		if err := s.Add(context.Background(), r); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
}

func TestRotationConservesRecords(t *testing.T) {
	store := newTestStore(t, Options{MaxAge: 48 * time.Hour, MaxEntries: 3})

	added := 0
	for i := 0; i < 10; i++ {
		ts := testNow.Add(-time.Duration(i) * 12 * time.Hour)
		mustAdd(t, store, record(i%2 == 0, 0.5, ts))
		added++
		active, archived := store.Len()
		if active+archived != added {
			t.Fatalf("after %d adds: active %d + archived %d != %d", added, active, archived, added)
		}
		if active > 3 {
			t.Fatalf("active history exceeded max entries: %d", active)
		}
	}

	for _, r := range store.Snapshot() {
		if testNow.Sub(r.Timestamp) > 48*time.Hour {
			t.Fatalf("expired record left in active history: %v", r.Timestamp)
		}
	}
}

func TestRotationDropsOldestByTimestamp(t *testing.T) {
	store := newTestStore(t, Options{MaxEntries: 2})
	newest := record(true, 0.9, testNow.Add(-time.Minute))
	oldest := record(false, 0.1, testNow.Add(-3*time.Hour))
	middle := record(true, 0.5, testNow.Add(-2*time.Hour))
	mustAdd(t, store, newest, oldest, middle)

	archived := store.Archived()
	if len(archived) != 1 || archived[0].ConfidenceScore != 0.1 {
		t.Fatalf("expected the oldest record archived, got %+v", archived)
	}
	active := store.Snapshot()
	if len(active) != 2 || active[0].ConfidenceScore != 0.9 || active[1].ConfidenceScore != 0.5 {
		t.Fatalf("expected insertion order of survivors preserved, got %+v", active)
	}
}

func TestRotateIsIdempotent(t *testing.T) {
	store := newTestStore(t, Options{MaxAge: time.Hour, MaxEntries: 2})
	mustAdd(t, store,
		record(true, 0.9, testNow),
		record(true, 0.8, testNow.Add(-time.Minute)),
		record(true, 0.7, testNow.Add(-2*time.Minute)),
	)

	beforeActive, beforeArchive := store.Snapshot(), store.Archived()
	for i := 0; i < 2; i++ {
		moved, err := store.Rotate(context.Background())
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if moved != 0 {
			t.Fatalf("expected no-op rotation, moved %d", moved)
		}
	}
	afterActive, afterArchive := store.Snapshot(), store.Archived()
	if len(afterActive) != len(beforeActive) || len(afterArchive) != len(beforeArchive) {
		t.Fatalf("rotation changed state: active %d->%d archive %d->%d",
			len(beforeActive), len(afterActive), len(beforeArchive), len(afterArchive))
	}
}

func TestAverageConfidenceWindow(t *testing.T) {
	store := newTestStore(t, Options{})
	mustAdd(t, store,
		record(true, 0.9, testNow.Add(-48*time.Hour)),
		record(false, 0.4, testNow.Add(-time.Hour)),
		record(true, 0.5, testNow),
	)
	if got := store.AverageConfidence(0); math.Abs(got-0.6) > 1e-6 {
		t.Fatalf("expected 0.6, got %v", got)
	}
	if got := store.AverageConfidence(36 * time.Hour); math.Abs(got-0.45) > 1e-6 {
		t.Fatalf("expected 0.45, got %v", got)
	}
	empty := newTestStore(t, Options{})
	if got := empty.AverageConfidence(0); got != 0 {
		t.Fatalf("expected 0 for empty history, got %v", got)
	}
}

func TestCommonIssues(t *testing.T) {
	store := newTestStore(t, Options{})
	mustAdd(t, store,
		record(false, 0.4, testNow, "Missing examples", "Content too basic"),
		record(false, 0.3, testNow, "Content too basic", "Technical level mismatch"),
	)
	issues := store.CommonIssues(5)
	if len(issues) != 3 {
		t.Fatalf("expected 3 issues, got %+v", issues)
	}
	if issues[0] != (IssueCount{Issue: "Content too basic", Count: 2}) {
		t.Fatalf("unexpected top issue: %+v", issues[0])
	}
	if issues[1].Issue != "Missing examples" {
		t.Fatalf("expected ties in first-seen order, got %+v", issues)
	}
	if got := store.CommonIssues(1); len(got) != 1 {
		t.Fatalf("expected limit honoured, got %+v", got)
	}
}

func TestCategorize(t *testing.T) {
	store := newTestStore(t, Options{})
	mustAdd(t, store,
		record(false, 0.4, testNow, "Technical level too advanced", "Missing code examples"),
		record(false, 0.3, testNow, "System error: timeout", "Tone is dry"),
		record(true, 0.9, testNow),
	)
	report := store.Categorize()
	want := CategoryCounts{
		CategoryTechnicalLevel:  1,
		CategoryContentCoverage: 1,
		CategorySystemErrors:    1,
		CategoryOther:           1,
	}
	for c, n := range want {
		if report.Categories[c] != n {
			t.Fatalf("category %s: expected %d, got %d", c, n, report.Categories[c])
		}
	}
	if report.TotalValidations != 3 || report.FailedValidations != 2 {
		t.Fatalf("unexpected totals: %+v", report)
	}
}

func TestClassifyPrecedence(t *testing.T) {
	cases := map[string]Category{
		"Technical level error":         CategoryTechnicalLevel,
		"Missing criterion after error": CategoryContentCoverage,
		"Request FAILED":                CategorySystemErrors,
		"Needs more warmth":             CategoryOther,
	}
	for issue, want := range cases {
		if got := Classify(issue); got != want {
			t.Fatalf("Classify(%q) = %s, want %s", issue, got, want)
		}
	}
}

func TestTimeSeriesBuckets(t *testing.T) {
	store := newTestStore(t, Options{})
	start := testNow.Add(-72 * time.Hour)
	mustAdd(t, store,
		record(true, 0.8, start),
		record(false, 0.4, start.Add(2*time.Hour), "Missing examples"),
		record(true, 0.6, start.Add(49*time.Hour)),
	)
	buckets := store.TimeSeries(24 * time.Hour)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 non-empty buckets, got %d", len(buckets))
	}
	if !buckets[0].Start.Equal(start) || buckets[0].ValidationCount != 2 {
		t.Fatalf("unexpected first bucket: %+v", buckets[0])
	}
	if math.Abs(buckets[0].FailureRate-0.5) > 1e-9 || math.Abs(buckets[0].ConfidenceAvg-0.6) > 1e-9 {
		t.Fatalf("unexpected first bucket rates: %+v", buckets[0])
	}
	if buckets[0].Categories[CategoryContentCoverage] != 1 {
		t.Fatalf("expected category counts per bucket, got %+v", buckets[0].Categories)
	}
	if !buckets[1].Start.Equal(start.Add(48 * time.Hour)) {
		t.Fatalf("expected empty middle bucket omitted, got start %v", buckets[1].Start)
	}
}

func TestTimeSeriesSparseSpan(t *testing.T) {
	first := testNow.Add(-5 * 365 * 24 * time.Hour)
	records := []models.ValidationRecord{
		record(true, 0.9, testNow),
		record(false, 0.2, first, "System error"),
	}

	buckets := TimeSeries(records, time.Microsecond)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if !buckets[0].Start.Equal(first) || !buckets[1].Start.Equal(testNow) {
		t.Fatalf("buckets out of order: %v, %v", buckets[0].Start, buckets[1].Start)
	}
}

func TestDetectTrend(t *testing.T) {
	store := newTestStore(t, Options{})
	for i := 0; i < 10; i++ {
		mustAdd(t, store, record(true, 0.9, testNow.Add(time.Duration(i-20)*time.Minute)))
	}
	for i := 0; i < 5; i++ {
		mustAdd(t, store, record(false, 0.3, testNow.Add(time.Duration(i-5)*time.Minute), "System error"))
	}

	report := store.DetectTrend(5, DefaultTrendThreshold)
	if report.ConfidenceTrend != DirectionDecreasing {
		t.Fatalf("expected decreasing confidence, got %s", report.ConfidenceTrend)
	}
	if report.FailureTrend != DirectionIncreasing {
		t.Fatalf("expected increasing failures, got %s", report.FailureTrend)
	}
	if report.IssueTrends[CategorySystemErrors] != DirectionIncreasing {
		t.Fatalf("expected increasing system errors, got %+v", report.IssueTrends)
	}
	if len(report.Alerts) == 0 {
		t.Fatalf("expected alerts")
	}

	strict := store.DetectTrend(5, 100)
	if strict.ConfidenceTrend != DirectionNoChange || len(strict.Alerts) != 0 {
		t.Fatalf("expected no change at high threshold, got %+v", strict)
	}
}

func TestDetectTrendInsufficientData(t *testing.T) {
	store := newTestStore(t, Options{})
	for i := 0; i < 9; i++ {
		mustAdd(t, store, record(true, 0.9, testNow))
	}
	report := store.DetectTrend(5, DefaultTrendThreshold)
	if report.ConfidenceTrend != DirectionInsufficientData || report.FailureTrend != DirectionInsufficientData {
		t.Fatalf("expected insufficient data, got %+v", report)
	}
}

func TestEffectSizeRequiresTwoSamples(t *testing.T) {
	if _, ok := EffectSize([]float64{1}, []float64{1, 2, 3}); ok {
		t.Fatalf("expected effect size to be undefined for a single sample")
	}
	effect, ok := EffectSize([]float64{0.3, 0.3}, []float64{0.9, 0.9})
	if !ok || effect <= 0 {
		t.Fatalf("expected positive effect size, got %v %v", effect, ok)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validation_history.json")
	backend := storage.NewFileBackend(path)
	store := newTestStore(t, Options{Backend: backend, MaxEntries: 2})

	recs := []models.ValidationRecord{
		record(true, 0.91, testNow.Add(-3*time.Hour)),
		record(false, 0.42, testNow.Add(-2*time.Hour), "Missing examples", "Technical level too advanced"),
		record(false, 0.33, testNow.Add(-time.Hour), "System error"),
	}
	mustAdd(t, store, recs...)

	reloaded := newTestStore(t, Options{Backend: storage.NewFileBackend(path), MaxEntries: 2})
	active, archived := reloaded.Snapshot(), reloaded.Archived()
	if len(active) != 2 || len(archived) != 1 {
		t.Fatalf("expected 2 active and 1 archived, got %d and %d", len(active), len(archived))
	}
	all := append(archived, active...)
	for i, want := range recs {
		got := all[i]
		if got.IsValid != want.IsValid || got.ConfidenceScore != want.ConfidenceScore || !got.Timestamp.Equal(want.Timestamp) {
			t.Fatalf("record %d mismatch: got %+v want %+v", i, got, want)
		}
		if len(got.Issues) != len(want.Issues) {
			t.Fatalf("record %d issues mismatch: got %v want %v", i, got.Issues, want.Issues)
		}
		for j := range want.Issues {
			if got.Issues[j] != want.Issues[j] {
				t.Fatalf("record %d issue %d mismatch: got %q want %q", i, j, got.Issues[j], want.Issues[j])
			}
		}
	}
}

func TestInterruptedFlushDoesNotDuplicate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validation_history.json")
	backend := storage.NewFileBackend(path)
	ctx := context.Background()

	rotated := record(false, 0.3, testNow.Add(-2*time.Hour), "Missing examples")
	kept := record(true, 0.9, testNow.Add(-time.Hour))
	// archive written, active not yet rewritten
	if err := backend.Save(ctx, storage.DocumentArchive, []models.ValidationRecord{rotated}); err != nil {
		t.Fatalf("save archive: %v", err)
	}
	if err := backend.Save(ctx, storage.DocumentActive, []models.ValidationRecord{rotated, kept}); err != nil {
		t.Fatalf("save active: %v", err)
	}

	store := newTestStore(t, Options{Backend: backend, MaxEntries: 1})
	active, archived := store.Snapshot(), store.Archived()
	if len(active) != 1 || len(archived) != 1 {
		t.Fatalf("expected 1 active and 1 archived, got %d and %d", len(active), len(archived))
	}
	if active[0].ConfidenceScore != 0.9 || archived[0].ConfidenceScore != 0.3 {
		t.Fatalf("unexpected split: active %+v archived %+v", active, archived)
	}
}

func TestMalformedHistoryStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validation_history.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(storage.ArchivePath(path), []byte(`[{"is_valid": true}]`), 0o644); err != nil {
		t.Fatalf("write archive fixture: %v", err)
	}
	store := newTestStore(t, Options{Backend: storage.NewFileBackend(path)})
	if active, archived := store.Len(); active != 0 || archived != 0 {
		t.Fatalf("expected empty history, got %d active %d archived", active, archived)
	}
	mustAdd(t, store, record(true, 0.8, testNow))
	if active, _ := store.Len(); active != 1 {
		t.Fatalf("expected store to accept new records, got %d", active)
	}
}

func TestClearHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validation_history.json")
	store := newTestStore(t, Options{Backend: storage.NewFileBackend(path), MaxEntries: 1})
	mustAdd(t, store, record(true, 0.8, testNow.Add(-time.Minute)), record(true, 0.7, testNow))

	if err := store.Clear(context.Background(), false); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if active, archived := store.Len(); active != 0 || archived != 1 {
		t.Fatalf("expected archive kept, got %d active %d archived", active, archived)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected active document removed, stat err %v", err)
	}

	if err := store.Clear(context.Background(), true); err != nil {
		t.Fatalf("clear archive: %v", err)
	}
	if _, archived := store.Len(); archived != 0 {
		t.Fatalf("expected archive cleared, got %d", archived)
	}
	if _, err := os.Stat(storage.ArchivePath(path)); !os.IsNotExist(err) {
		t.Fatalf("expected archive document removed, stat err %v", err)
	}
}

func TestRecentReturnsNewest(t *testing.T) {
	store := newTestStore(t, Options{})
	for i := 0; i < 5; i++ {
		mustAdd(t, store, record(true, float64(i)/10, testNow.Add(time.Duration(i)*time.Second)))
	}
	recent := store.Recent(2)
	if len(recent) != 2 || recent[0].ConfidenceScore != 0.3 || recent[1].ConfidenceScore != 0.4 {
		t.Fatalf("unexpected recent records: %+v", recent)
	}
}
