package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

type stubPatterns struct {
	patterns []models.Pattern
	minSig   float64
	calls    int
}

func (s *stubPatterns) Analyze(_ context.Context, _ []models.ValidationRecord, minSignificance float64) []models.Pattern {
	s.calls++
	s.minSig = minSignificance
	return s.patterns
}

func failing(score float64, issues ...string) models.ValidationRecord {
	return models.ValidationRecord{IsValid: false, Issues: issues, ConfidenceScore: score, Timestamp: time.Now()}
}

func TestSelectValidRecord(t *testing.T) {
	sel := NewSelector(Options{})
	if action := sel.Select(context.Background(), models.ValidationRecord{IsValid: true, ConfidenceScore: 0.95}, nil); action != nil {
		t.Fatalf("expected no action for a valid record, got %+v", action)
	}
}

func TestSelectCriticalFailure(t *testing.T) {
	src := &stubPatterns{}
	sel := NewSelector(Options{Patterns: src})
	action := sel.Select(context.Background(), failing(0.85, "System error"), nil)
	if action == nil || action.Strategy != models.StrategyRollback {
		t.Fatalf("expected rollback, got %+v", action)
	}
	if action.Priority != 1 || action.EstimatedImpact != 1.0 {
		t.Fatalf("unexpected priority/impact: %+v", action)
	}
	if len(action.RequiredResources) != 2 || action.RequiredResources[0] != models.ResourceKnowledgeMap || action.RequiredResources[1] != models.ResourceValidationHistory {
		t.Fatalf("unexpected resources %v", action.RequiredResources)
	}
	if src.calls != 0 {
		t.Fatalf("critical failures should not consult the detector")
	}
}

func TestExplicitZeroThresholdsAreKept(t *testing.T) {
	src := &stubPatterns{}
	sel := NewSelector(Options{Patterns: src, Config: &Config{CriticalThreshold: 1, PatternSignificance: 0}})
	if cfg := sel.Config(); cfg.PatternSignificance != 0 || cfg.MaxConcurrent != DefaultConfig().MaxConcurrent {
		t.Fatalf("unexpected effective config %+v", cfg)
	}
	sel.Select(context.Background(), failing(0.85, "System error"), nil)
	if src.calls != 1 || src.minSig != 0 {
		t.Fatalf("expected detector consulted with significance 0, got calls=%d minSig=%v", src.calls, src.minSig)
	}

	everyFailureCritical := NewSelector(Options{Patterns: src, Config: &Config{CriticalThreshold: 0}})
	action := everyFailureCritical.Select(context.Background(), failing(0, "Missing examples"), nil)
	if action == nil || action.Strategy != models.StrategyRollback {
		t.Fatalf("expected rollback at threshold 0, got %+v", action)
	}
}

func TestSelectTemporalPattern(t *testing.T) {
	src := &stubPatterns{patterns: []models.Pattern{
		{Kind: models.PatternKindSemantic, Description: "unrelated", Significance: 0.9, RelatedIssues: []string{"Network timeout"}},
		{Kind: models.PatternKindTemporal, Description: "seq", Significance: 0.75, Occurrences: 4, RelatedIssues: []string{"Missing examples in section 2", "Content too basic"}},
	}}
	sel := NewSelector(Options{Patterns: src})
	action := sel.Select(context.Background(), failing(0.4, "missing examples", "content too basic"), nil)
	if action == nil || action.Strategy != models.StrategyRevalidation {
		t.Fatalf("expected revalidation, got %+v", action)
	}
	if action.Priority != 2 || action.EstimatedImpact != 0.75 {
		t.Fatalf("unexpected priority/impact: %+v", action)
	}
	if action.Metadata["issue_overlap"] != 2 {
		t.Fatalf("unexpected overlap %v", action.Metadata["issue_overlap"])
	}
	if src.minSig != 0.7 {
		t.Fatalf("expected default significance floor, got %v", src.minSig)
	}
}

func TestSelectSemanticPattern(t *testing.T) {
	src := &stubPatterns{patterns: []models.Pattern{
		{Kind: models.PatternKindSemantic, Description: "cluster", Significance: 0.8, RelatedIssues: []string{"Technical level too advanced"}, Metadata: map[string]any{models.MetaClusterSize: 3}},
	}}
	sel := NewSelector(Options{Patterns: src})
	action := sel.Select(context.Background(), failing(0.5, "Technical level"), nil)
	if action == nil || action.Strategy != models.StrategyIncrementalFix || action.Priority != 3 {
		t.Fatalf("expected pattern-based incremental fix, got %+v", action)
	}
	if action.Metadata["cluster_size"] != 3 {
		t.Fatalf("unexpected metadata %+v", action.Metadata)
	}
}

func TestSelectFallsBackWithoutOverlap(t *testing.T) {
	src := &stubPatterns{patterns: []models.Pattern{
		{Kind: models.PatternKindTemporal, Significance: 0.9, RelatedIssues: []string{"Network timeout"}},
	}}
	sel := NewSelector(Options{Patterns: src})
	action := sel.Select(context.Background(), failing(0.3, "Missing examples"), nil)
	if action == nil || action.Strategy != models.StrategyIncrementalFix || action.Priority != 4 {
		t.Fatalf("expected isolated-issue fallback, got %+v", action)
	}
	if action.EstimatedImpact != 0.3 {
		t.Fatalf("expected impact equal to confidence, got %v", action.EstimatedImpact)
	}
}

func TestExecuteResourceChecks(t *testing.T) {
	sel := NewSelector(Options{})
	rollback := *criticalAction(failing(0.9, "x"))

	exec, err := sel.Execute(context.Background(), rollback, Context{models.ResourceKnowledgeMap: "km"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != models.ExecutionFailed || exec.EndTime.IsZero() {
		t.Fatalf("expected failure with missing history resource, got %+v", exec)
	}

	exec, err = sel.Execute(context.Background(), rollback, Context{
		models.ResourceKnowledgeMap:      map[string]any{"domain": "testing"},
		models.ResourceValidationHistory: []any{1},
	})
	if err != nil || !exec.Succeeded() {
		t.Fatalf("expected completed rollback, got %+v (%v)", exec, err)
	}

	manual := models.RecoveryAction{Strategy: models.StrategyManualIntervention}
	if exec, _ := sel.Execute(context.Background(), manual, nil); !exec.Succeeded() {
		t.Fatalf("manual intervention should always succeed, got %+v", exec)
	}

	if got := len(sel.History()); got != 3 {
		t.Fatalf("expected 3 executions recorded, got %d", got)
	}
	if sel.ActiveCount() != 0 {
		t.Fatalf("expected no active executions")
	}
}

func TestExecuteHandlerFaults(t *testing.T) {
	sel := NewSelector(Options{})
	sel.RegisterHandler(models.StrategyRevalidation, HandlerFunc(func(context.Context, models.RecoveryAction, Context) (bool, error) {
		panic("validator crashed")
	}))
	sel.RegisterHandler(models.StrategyRollback, HandlerFunc(func(context.Context, models.RecoveryAction, Context) (bool, error) {
		return false, errors.New("snapshot missing")
	}))

	exec, err := sel.Execute(context.Background(), models.RecoveryAction{Strategy: models.StrategyRevalidation}, nil)
	if err != nil {
		t.Fatalf("panics must not surface as errors: %v", err)
	}
	if exec.Status != models.ExecutionError || exec.Error == "" {
		t.Fatalf("expected error status, got %+v", exec)
	}

	exec, _ = sel.Execute(context.Background(), models.RecoveryAction{Strategy: models.StrategyRollback}, nil)
	if exec.Status != models.ExecutionError || exec.Error != "snapshot missing" {
		t.Fatalf("unexpected execution %+v", exec)
	}
	if sel.ActiveCount() != 0 {
		t.Fatalf("active set not cleaned up after faults")
	}
}

func TestExecuteConcurrencyCap(t *testing.T) {
	sel := NewSelector(Options{Config: &Config{CriticalThreshold: 0.8, PatternSignificance: 0.7, MaxConcurrent: 3}})
	release := make(chan struct{})
	started := make(chan struct{}, 3)
	sel.RegisterHandler(models.StrategyIncrementalFix, HandlerFunc(func(ctx context.Context, _ models.RecoveryAction, _ Context) (bool, error) {
		started <- struct{}{}
		<-release
		return true, nil
	}))

	action := models.RecoveryAction{Strategy: models.StrategyIncrementalFix}
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sel.Execute(context.Background(), action, nil); err != nil {
				t.Errorf("execute: %v", err)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatalf("handlers did not start")
		}
	}

	if sel.ActiveCount() != 3 {
		t.Fatalf("expected 3 active, got %d", sel.ActiveCount())
	}
	if _, err := sel.Execute(context.Background(), action, nil); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if got := len(sel.History()); got != 3 {
		t.Fatalf("rejected execution must not be recorded, history=%d", got)
	}

	close(release)
	wg.Wait()
	if sel.ActiveCount() != 0 {
		t.Fatalf("expected active set to drain")
	}
	for _, exec := range sel.History() {
		if exec.Status != models.ExecutionCompleted {
			t.Fatalf("unexpected status %s", exec.Status)
		}
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	ids  []string
	fail error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, exec models.RecoveryExecution, _ Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, exec.ID)
	return d.fail
}

func TestExecuteDispatchesAcceptedActions(t *testing.T) {
	disp := &recordingDispatcher{}
	sel := NewSelector(Options{Dispatcher: disp})
	action := models.RecoveryAction{Strategy: models.StrategyIncrementalFix, RequiredResources: []string{models.ResourceKnowledgeMap}}

	if exec, _ := sel.Execute(context.Background(), action, Context{}); exec.Status != models.ExecutionFailed {
		t.Fatalf("expected failed status, got %s", exec.Status)
	}
	if len(disp.ids) != 0 {
		t.Fatalf("failed actions must not be dispatched")
	}

	exec, _ := sel.Execute(context.Background(), action, Context{models.ResourceKnowledgeMap: "km"})
	if !exec.Succeeded() || len(disp.ids) != 1 || disp.ids[0] != exec.ID {
		t.Fatalf("expected dispatch of %s, got %v (%s)", exec.ID, disp.ids, exec.Status)
	}

	disp.fail = errors.New("executor unavailable")
	exec, _ = sel.Execute(context.Background(), action, Context{models.ResourceKnowledgeMap: "km"})
	if exec.Status != models.ExecutionError {
		t.Fatalf("expected error status on dispatch failure, got %s", exec.Status)
	}
}

func TestContextHas(t *testing.T) {
	rc := Context{"a": "", "b": false, "c": []any{}, "d": 0, "e": nil, "f": "x"}
	for _, name := range []string{"a", "b", "c", "e", "missing"} {
		if rc.Has(name) {
			t.Fatalf("expected %q to be absent", name)
		}
	}
	if !rc.Has("d") || !rc.Has("f") {
		t.Fatalf("expected present resources")
	}
}
