package patterns

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/embedding"
	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func rec(offset time.Duration, issues ...string) models.ValidationRecord {
	if issues == nil {
		issues = []string{}
	}
	return models.ValidationRecord{IsValid: false, Issues: issues, ConfidenceScore: 0.4, Timestamp: base.Add(offset)}
}

func fixedVectors(vectors map[string][]float32) embedding.Encoder {
	return embedding.EncoderFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			v, ok := vectors[t]
			if !ok {
				v = []float32{10, 10}
			}
			out[i] = v
		}
		return out, nil
	})
}

func TestSemanticClusters(t *testing.T) {
	encoder := fixedVectors(map[string][]float32{
		"Technical level too advanced": {1, 0},
		"Technical level mismatch":     {0.9, 0.1},
		"System error":                 {0, 1},
		"Runtime error":                {0.05, 0.95},
	})
	var stored []models.Pattern
	sink := SinkFunc(func(_ context.Context, patterns []models.Pattern) error {
		stored = append(stored, patterns...)
		return nil
	})
	det := NewDetector(Config{MinSequenceOccurrences: 100}, encoder, sink, nil)

	records := []models.ValidationRecord{
		rec(0, "Technical level too advanced"),
		rec(time.Hour, "System error"),
		rec(2*time.Hour, "Technical level mismatch", "Runtime error"),
		rec(3*time.Hour, "Technical level too advanced", "Lonely outlier"),
	}
	patterns := det.Analyze(context.Background(), records, 0)
	if len(patterns) != 2 {
		t.Fatalf("expected 2 semantic clusters, got %+v", patterns)
	}
	tech := patterns[0]
	if tech.Kind != models.PatternKindSemantic || len(tech.RelatedIssues) != 2 {
		t.Fatalf("unexpected first cluster: %+v", tech)
	}
	if tech.Occurrences != 3 {
		t.Fatalf("expected 3 issue occurrences, got %d", tech.Occurrences)
	}
	if !tech.FirstSeen.Equal(base) || !tech.LastSeen.Equal(base.Add(3*time.Hour)) {
		t.Fatalf("unexpected span %v - %v", tech.FirstSeen, tech.LastSeen)
	}
	if tech.Metadata[models.MetaClusterSize] != 2 {
		t.Fatalf("unexpected metadata %+v", tech.Metadata)
	}
	sim := tech.Metadata[models.MetaAverageSimilarity].(float64)
	if sim <= 0.9 || sim > 1 {
		t.Fatalf("expected high intra-cluster similarity, got %v", sim)
	}
	if want := (1 + sim) / 2; math.Abs(tech.Significance-want) > 1e-9 {
		t.Fatalf("expected significance %v, got %v", want, tech.Significance)
	}
	for _, p := range patterns {
		for _, issue := range p.RelatedIssues {
			if issue == "Lonely outlier" {
				t.Fatalf("noise point leaked into a cluster: %+v", p)
			}
		}
	}
	if len(stored) != 2 {
		t.Fatalf("expected sink to receive patterns, got %d", len(stored))
	}
}

func alternatingRecords() []models.ValidationRecord {
	var out []models.ValidationRecord
	for i := 0; i < 6; i++ {
		issue := "Missing examples"
		if i%2 == 1 {
			issue = "Technical level too basic"
		}
		out = append(out, rec(time.Duration(i)*time.Hour, issue))
	}
	return out
}

func TestTemporalSequences(t *testing.T) {
	det := NewDetector(DefaultConfig(), nil, nil, nil)
	patterns := det.Analyze(context.Background(), alternatingRecords(), 0)
	if len(patterns) != 1 {
		t.Fatalf("expected one repeating sequence, got %+v", patterns)
	}
	p := patterns[0]
	if p.Kind != models.PatternKindTemporal || p.Occurrences != 3 {
		t.Fatalf("unexpected pattern: %+v", p)
	}
	if p.Description != "Repeating sequence: [Missing examples] -> [Technical level too basic]" {
		t.Fatalf("unexpected description %q", p.Description)
	}
	density := p.Metadata[models.MetaTemporalDensity].(float64)
	if math.Abs(density-0.6) > 1e-9 {
		t.Fatalf("expected density 0.6/h, got %v", density)
	}
	if want := (1 + 1 + 0.6/24) / 3; math.Abs(p.Significance-want) > 1e-9 {
		t.Fatalf("expected significance %v, got %v", want, p.Significance)
	}
	if len(p.RelatedIssues) != 2 {
		t.Fatalf("unexpected related issues %v", p.RelatedIssues)
	}

	if got := det.Analyze(context.Background(), alternatingRecords(), 0.7); len(got) != 0 {
		t.Fatalf("expected significance floor to filter, got %+v", got)
	}
}

func TestTemporalSkipsIssueFreeSequences(t *testing.T) {
	det := NewDetector(DefaultConfig(), nil, nil, nil)
	var records []models.ValidationRecord
	for i := 0; i < 8; i++ {
		records = append(records, rec(time.Duration(i)*time.Minute))
	}
	if got := det.Analyze(context.Background(), records, 0); len(got) != 0 {
		t.Fatalf("expected no patterns without issues, got %+v", got)
	}
}

func TestEmbeddingFailureDegrades(t *testing.T) {
	failing := embedding.EncoderFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("provider unavailable")
	})
	det := NewDetector(DefaultConfig(), failing, nil, nil)
	patterns := det.Analyze(context.Background(), alternatingRecords(), 0)
	if len(patterns) != 1 || patterns[0].Kind != models.PatternKindTemporal {
		t.Fatalf("expected temporal patterns only, got %+v", patterns)
	}
}

func TestEmbeddingTimeoutDegrades(t *testing.T) {
	blocking := embedding.EncoderFunc(func(ctx context.Context, _ []string) ([][]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.EmbeddingTimeout = 10 * time.Millisecond
	det := NewDetector(cfg, blocking, nil, nil)

	done := make(chan []models.Pattern, 1)
	go func() { done <- det.Analyze(context.Background(), alternatingRecords(), 0) }()
	select {
	case patterns := <-done:
		for _, p := range patterns {
			if p.Kind == models.PatternKindSemantic {
				t.Fatalf("unexpected semantic pattern after timeout")
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("analysis did not honour embedding timeout")
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	det := NewDetector(DefaultConfig(), embedding.NewHashingEncoder(16), nil, nil)
	if got := det.Analyze(context.Background(), nil, 0); len(got) != 0 {
		t.Fatalf("expected no patterns, got %+v", got)
	}
}

func TestDBSCANNoise(t *testing.T) {
	points := [][]float32{{0, 0}, {0.1, 0}, {5, 5}, {5.1, 5}, {20, 20}}
	labels := dbscan(points, 0.5, 2)
	if labels[0] != labels[1] || labels[2] != labels[3] || labels[0] == labels[2] {
		t.Fatalf("unexpected clusters %v", labels)
	}
	if labels[4] != noise {
		t.Fatalf("expected isolated point to be noise, got %v", labels)
	}
}
