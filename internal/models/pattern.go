package models

import "time"

// PatternKind enumerates the detection technique that produced a Pattern.
type PatternKind string

const (
	PatternKindSemantic PatternKind = "semantic"
	PatternKindTemporal PatternKind = "temporal"
)

// Metadata keys populated on detected patterns.
const (
	MetaClusterSize       = "cluster_size"
	MetaAverageSimilarity = "average_similarity"
	MetaSequenceLength    = "sequence_length"
	MetaTemporalDensity   = "temporal_density"
)

// Pattern is a recurring or clustered failure signature found in a batch of records.
type Pattern struct {
	Kind          PatternKind    `json:"kind"`
	Description   string         `json:"description"`
	Significance  float64        `json:"significance"`
	Occurrences   int            `json:"occurrences"`
	FirstSeen     time.Time      `json:"first_seen"`
	LastSeen      time.Time      `json:"last_seen"`
	RelatedIssues []string       `json:"related_issues"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
