package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// wireRecord mirrors models.ValidationRecord with required fields as pointers so
// a document missing a key is rejected rather than silently zero-filled.
type wireRecord struct {
	IsValid         *bool      `json:"is_valid"`
	Issues          []string   `json:"issues"`
	ConfidenceScore *float64   `json:"confidence_score"`
	Timestamp       *time.Time `json:"timestamp"`
}

func encodeRecord(r models.ValidationRecord) wireRecord {
	issues := r.Issues
	if issues == nil {
		issues = []string{}
	}
	valid := r.IsValid
	score := r.ConfidenceScore
	ts := r.Timestamp
	return wireRecord{IsValid: &valid, Issues: issues, ConfidenceScore: &score, Timestamp: &ts}
}

func (w wireRecord) decode() (models.ValidationRecord, error) {
	if w.IsValid == nil || w.ConfidenceScore == nil || w.Timestamp == nil {
		return models.ValidationRecord{}, fmt.Errorf("%w: record missing required field", ErrMalformed)
	}
	issues := w.Issues
	if issues == nil {
		issues = []string{}
	}
	return models.ValidationRecord{
		IsValid:         *w.IsValid,
		Issues:          issues,
		ConfidenceScore: *w.ConfidenceScore,
		Timestamp:       *w.Timestamp,
	}, nil
}

// marshalRecords encodes a document body.
func marshalRecords(records []models.ValidationRecord, indent bool) ([]byte, error) {
	wire := make([]wireRecord, 0, len(records))
	for _, r := range records {
		wire = append(wire, encodeRecord(r))
	}
	if indent {
		return json.MarshalIndent(wire, "", "  ")
	}
	return json.Marshal(wire)
}

// unmarshalRecords decodes a document body, returning ErrMalformed on any defect.
func unmarshalRecords(data []byte) ([]models.ValidationRecord, error) {
	var wire []wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	records := make([]models.ValidationRecord, 0, len(wire))
	for _, w := range wire {
		rec, err := w.decode()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
