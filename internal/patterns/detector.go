// Package patterns finds recurring failure signatures in a bounded batch of
// validation records, using embedding clusters and repeated issue sequences.
package patterns

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/embedding"
	"github.com/Jita81/SelfImprovingRAG/internal/metrics"
	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// DefaultMinSignificance is the significance floor used when callers pass none.
const DefaultMinSignificance = 0.3

// densityNormaliser maps occurrences per hour onto [0,1].
const densityNormaliser = 24.0

// Config holds detector tuning parameters.
type Config struct {
	Epsilon                float64
	MinSamples             int
	MinSequenceLength      int
	MinSequenceOccurrences int
	EmbeddingTimeout       time.Duration
}

// DefaultConfig returns the standard detector tuning.
func DefaultConfig() Config {
	return Config{
		Epsilon:                0.5,
		MinSamples:             2,
		MinSequenceLength:      2,
		MinSequenceOccurrences: 3,
		EmbeddingTimeout:       10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Epsilon <= 0 {
		c.Epsilon = def.Epsilon
	}
	if c.MinSamples <= 0 {
		c.MinSamples = def.MinSamples
	}
	if c.MinSequenceLength < 2 {
		c.MinSequenceLength = def.MinSequenceLength
	}
	if c.MinSequenceOccurrences <= 0 {
		c.MinSequenceOccurrences = def.MinSequenceOccurrences
	}
	return c
}

// Detector runs semantic and temporal pattern detection on demand.
type Detector struct {
	cfg     Config
	encoder embedding.Encoder
	sink    Sink
	logger  *slog.Logger
}

// NewDetector constructs a Detector. encoder may be nil, which disables the
// semantic path; sink may be nil for dry runs.
func NewDetector(cfg Config, encoder embedding.Encoder, sink Sink, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg.withDefaults(), encoder: encoder, sink: sink, logger: logger}
}

// Analyze returns every semantic and temporal pattern in records whose
// significance is at least minSignificance. Embedding failures degrade to
// temporal patterns only.
func (d *Detector) Analyze(ctx context.Context, records []models.ValidationRecord, minSignificance float64) []models.Pattern {
	if len(records) == 0 {
		return []models.Pattern{}
	}

	semantic := d.semanticPatterns(ctx, records)
	temporal := d.temporalPatterns(records)

	out := make([]models.Pattern, 0, len(semantic)+len(temporal))
	for _, p := range append(semantic, temporal...) {
		if p.Significance >= minSignificance {
			out = append(out, p)
		}
	}

	var nSemantic, nTemporal int
	for _, p := range out {
		if p.Kind == models.PatternKindSemantic {
			nSemantic++
		} else {
			nTemporal++
		}
	}
	metrics.AddPatterns(string(models.PatternKindSemantic), nSemantic)
	metrics.AddPatterns(string(models.PatternKindTemporal), nTemporal)

	if d.sink != nil && len(out) > 0 {
		if err := d.sink.StorePatterns(ctx, out); err != nil {
			d.logger.Warn("pattern sink failed", slog.Any("error", err))
		}
	}
	return out
}

type issueOccurrences struct {
	count      int
	timestamps []time.Time
}

func (d *Detector) semanticPatterns(ctx context.Context, records []models.ValidationRecord) []models.Pattern {
	if d.encoder == nil {
		return nil
	}

	var issues []string
	occ := make(map[string]*issueOccurrences)
	for _, r := range records {
		for _, issue := range r.Issues {
			o, ok := occ[issue]
			if !ok {
				o = &issueOccurrences{}
				occ[issue] = o
				issues = append(issues, issue)
			}
			o.count++
			o.timestamps = append(o.timestamps, r.Timestamp)
		}
	}
	if len(issues) == 0 {
		return nil
	}

	embedCtx := ctx
	if d.cfg.EmbeddingTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, d.cfg.EmbeddingTimeout)
		defer cancel()
	}
	vectors, err := d.encoder.Encode(embedCtx, issues)
	if err == nil {
		err = embedding.CheckShape(issues, vectors)
	}
	if err != nil {
		metrics.IncEmbeddingFailure()
		d.logger.Warn("semantic pattern detection skipped", slog.Int("issues", len(issues)), slog.Any("error", err))
		return nil
	}

	labels := dbscan(vectors, d.cfg.Epsilon, d.cfg.MinSamples)
	members := make(map[int][]int)
	var order []int
	for i, label := range labels {
		if label == noise {
			continue
		}
		if _, ok := members[label]; !ok {
			order = append(order, label)
		}
		members[label] = append(members[label], i)
	}

	patterns := make([]models.Pattern, 0, len(order))
	for _, label := range order {
		idx := members[label]
		clusterIssues := make([]string, 0, len(idx))
		clusterVecs := make([][]float32, 0, len(idx))
		var occurrences int
		var first, last time.Time
		for _, i := range idx {
			issue := issues[i]
			clusterIssues = append(clusterIssues, issue)
			clusterVecs = append(clusterVecs, vectors[i])
			o := occ[issue]
			occurrences += o.count
			for _, ts := range o.timestamps {
				if first.IsZero() || ts.Before(first) {
					first = ts
				}
				if ts.After(last) {
					last = ts
				}
			}
		}
		avgSim := averageSimilarity(clusterVecs)
		sizeFactor := min(float64(len(clusterIssues))/float64(len(records))*2, 1)
		patterns = append(patterns, models.Pattern{
			Kind:          models.PatternKindSemantic,
			Description:   "Similar issues: " + strings.Join(clusterIssues, ", "),
			Significance:  (sizeFactor + avgSim) / 2,
			Occurrences:   occurrences,
			FirstSeen:     first,
			LastSeen:      last,
			RelatedIssues: clusterIssues,
			Metadata: map[string]any{
				models.MetaClusterSize:       len(clusterIssues),
				models.MetaAverageSimilarity: avgSim,
			},
		})
	}
	return patterns
}

// averageSimilarity is the mean cosine similarity of each vector to the
// cluster centroid, clamped to [0,1].
func averageSimilarity(vectors [][]float32) float64 {
	if len(vectors) == 0 {
		return 0
	}
	dim := len(vectors[0])
	centroid := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			centroid[i] += float64(x)
		}
	}
	for i := range centroid {
		centroid[i] /= float64(len(vectors))
	}
	var sum float64
	buf := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			buf[i] = float64(x)
		}
		sum += cosine(buf, centroid)
	}
	return max(0, min(sum/float64(len(vectors)), 1))
}

type sequenceTally struct {
	steps  [][]string
	starts []int
}

func (d *Detector) temporalPatterns(records []models.ValidationRecord) []models.Pattern {
	if len(records) < d.cfg.MinSequenceLength {
		return nil
	}
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b models.ValidationRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	steps := make([][]string, len(sorted))
	keys := make([]string, len(sorted))
	for i, r := range sorted {
		s := slices.Clone(r.Issues)
		slices.Sort(s)
		steps[i] = s
		keys[i] = fmt.Sprintf("%q", s)
	}

	var patterns []models.Pattern
	for seqLen := d.cfg.MinSequenceLength; seqLen <= len(sorted)/2; seqLen++ {
		index := make(map[string]int)
		var tallies []*sequenceTally
		for start := 0; start+seqLen <= len(sorted); start++ {
			key := strings.Join(keys[start:start+seqLen], "|")
			i, ok := index[key]
			if !ok {
				i = len(tallies)
				index[key] = i
				tallies = append(tallies, &sequenceTally{steps: steps[start : start+seqLen]})
			}
			tallies[i].starts = append(tallies[i].starts, start)
		}

		for _, t := range tallies {
			count := len(t.starts)
			if count < d.cfg.MinSequenceOccurrences {
				continue
			}
			related := flatten(t.steps)
			if len(related) == 0 {
				continue
			}
			var first, last time.Time
			for _, start := range t.starts {
				for j := start; j < start+seqLen; j++ {
					ts := sorted[j].Timestamp
					if first.IsZero() || ts.Before(first) {
						first = ts
					}
					if ts.After(last) {
						last = ts
					}
				}
			}
			density := 0.0
			if span := last.Sub(first).Hours(); span > 0 {
				density = float64(count) / span
			}
			lengthFactor := min(float64(seqLen)/float64(d.cfg.MinSequenceLength), 1)
			occurrenceFactor := min(float64(count)/float64(d.cfg.MinSequenceOccurrences), 1)
			densityFactor := min(density/densityNormaliser, 1)

			patterns = append(patterns, models.Pattern{
				Kind:          models.PatternKindTemporal,
				Description:   "Repeating sequence: " + describeSteps(t.steps),
				Significance:  (lengthFactor + occurrenceFactor + densityFactor) / 3,
				Occurrences:   count,
				FirstSeen:     first,
				LastSeen:      last,
				RelatedIssues: related,
				Metadata: map[string]any{
					models.MetaSequenceLength:  seqLen,
					models.MetaTemporalDensity: density,
				},
			})
		}
	}
	slices.SortStableFunc(patterns, func(a, b models.Pattern) int {
		return cmp.Compare(b.Significance, a.Significance)
	})
	return patterns
}

func flatten(steps [][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range steps {
		for _, issue := range s {
			if _, ok := seen[issue]; ok {
				continue
			}
			seen[issue] = struct{}{}
			out = append(out, issue)
		}
	}
	return out
}

func describeSteps(steps [][]string) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = "[" + strings.Join(s, ", ") + "]"
	}
	return strings.Join(parts, " -> ")
}
