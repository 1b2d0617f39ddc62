package models

import "time"

// ValidationRecord is a single pass/fail outcome reported by a validation producer.
// Records are immutable once ingested; use Clone before handing one to code that
// might retain or modify the issue slice.
type ValidationRecord struct {
	IsValid         bool      `json:"is_valid"`
	Issues          []string  `json:"issues"`
	ConfidenceScore float64   `json:"confidence_score"`
	Timestamp       time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the record.
func (r ValidationRecord) Clone() ValidationRecord {
	out := r
	if r.Issues != nil {
		out.Issues = append([]string(nil), r.Issues...)
	}
	return out
}

// CloneRecords deep-copies a slice of records.
func CloneRecords(records []ValidationRecord) []ValidationRecord {
	if records == nil {
		return nil
	}
	out := make([]ValidationRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
