package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Jita81/SelfImprovingRAG/internal/history"
	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RecordValidationRequest carries one validation outcome.
type RecordValidationRequest struct {
	IsValid         *bool    `json:"is_valid" validate:"required"`
	Issues          []string `json:"issues" validate:"dive,required"`
	ConfidenceScore *float64 `json:"confidence_score" validate:"required,gte=0,lte=1"`
	// Timestamp is RFC 3339; empty means the time of receipt.
	Timestamp string `json:"timestamp,omitempty"`
}

// ToRecord converts the request into a domain record.
func (r RecordValidationRequest) ToRecord() (models.ValidationRecord, error) {
	if r.IsValid == nil || r.ConfidenceScore == nil {
		return models.ValidationRecord{}, fmt.Errorf("is_valid and confidence_score are required")
	}
	record := models.ValidationRecord{
		IsValid:         *r.IsValid,
		Issues:          append([]string{}, r.Issues...),
		ConfidenceScore: *r.ConfidenceScore,
	}
	if r.Timestamp != "" {
		ts, err := utils.ParseRFC3339(r.Timestamp)
		if err != nil {
			return models.ValidationRecord{}, err
		}
		record.Timestamp = ts
	}
	return record, nil
}

// RecordValidationResponse reports the outcome of an ingest.
type RecordValidationResponse struct {
	Accepted  bool                      `json:"accepted"`
	Action    *models.RecoveryAction    `json:"action,omitempty"`
	Execution *models.RecoveryExecution `json:"execution,omitempty"`
	Warning   string                    `json:"warning,omitempty"`
}

// TrendsRequest tunes trend detection; zero values select the defaults.
type TrendsRequest struct {
	WindowSize int     `json:"window_size" validate:"gte=0"`
	Threshold  float64 `json:"threshold" validate:"gte=0"`
	// ConfidenceWindow is a Go duration bounding the average confidence;
	// empty covers every active record.
	ConfidenceWindow string `json:"confidence_window"`
	// CommonIssues is the issue list length; zero selects the default.
	CommonIssues int `json:"common_issues" validate:"gte=0"`
}

// TrendsResponse carries trend detection and the headline summary.
type TrendsResponse struct {
	Trend             history.TrendReport  `json:"trend"`
	Summary           history.TrendSummary `json:"summary"`
	AverageConfidence float64              `json:"average_confidence"`
	CommonIssues      []history.IssueCount `json:"common_issues"`
}

// TimeSeriesRequest selects the bucket length as a Go duration; empty uses
// the configured period.
type TimeSeriesRequest struct {
	Period string `json:"period"`
}

// TimeSeriesResponse carries the non-empty buckets in time order.
type TimeSeriesResponse struct {
	Buckets []history.TimeBucket `json:"buckets"`
}

// RelatedIssuesRequest looks up issues similar to Issue.
type RelatedIssuesRequest struct {
	Issue         string  `json:"issue" validate:"required"`
	MinSimilarity float64 `json:"min_similarity" validate:"gte=0,lte=1"`
}

// RelatedIssuesResponse lists matches, most similar first.
type RelatedIssuesResponse struct {
	Related []history.RelatedIssue `json:"related"`
}

// MetricHistoryRequest queries one metric kind over an optional RFC 3339 range.
type MetricHistoryRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=validation_success_rate recovery_success_rate pattern_detection_rate average_confidence_score critical_failure_rate recovery_time"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Range parses the request bounds; empty bounds are zero and therefore open.
func (r MetricHistoryRequest) Range() (start, end time.Time, err error) {
	if r.Start != "" {
		if start, err = utils.ParseRFC3339(r.Start); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
		}
	}
	if r.End != "" {
		if end, err = utils.ParseRFC3339(r.End); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
		}
	}
	return start, end, nil
}

// MetricHistoryResponse carries every recorded value in calculation order.
type MetricHistoryResponse struct {
	Kind   models.MetricKind          `json:"kind"`
	Values []models.PerformanceMetric `json:"values"`
}

// ClearHistoryRequest empties the active history and optionally the archive.
type ClearHistoryRequest struct {
	IncludeArchive bool `json:"include_archive"`
}

// ClearHistoryResponse reports the record counts after clearing.
type ClearHistoryResponse struct {
	ActiveRecords   int `json:"active_records"`
	ArchivedRecords int `json:"archived_records"`
}

// ParseDuration parses an optional Go duration; empty yields zero.
func ParseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

// SelectRecoveryRequest asks for a recovery decision without executing it.
type SelectRecoveryRequest struct {
	Record RecordValidationRequest `json:"record" validate:"required"`
}

// SelectRecoveryResponse carries the decision; Action is null for passing records.
type SelectRecoveryResponse struct {
	Action *models.RecoveryAction `json:"action"`
}

// ActionRequest is the wire form of a recovery action.
type ActionRequest struct {
	Strategy          string         `json:"strategy" validate:"required,oneof=rollback incremental_fix revalidation manual_intervention"`
	Description       string         `json:"description"`
	Priority          int            `json:"priority" validate:"gte=0,lte=5"`
	EstimatedImpact   float64        `json:"estimated_impact" validate:"gte=0,lte=1"`
	RequiredResources []string       `json:"required_resources" validate:"dive,required"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// ToAction converts the request into a domain action.
func (a ActionRequest) ToAction() models.RecoveryAction {
	return models.RecoveryAction{
		Strategy:          models.Strategy(a.Strategy),
		Description:       a.Description,
		Priority:          a.Priority,
		EstimatedImpact:   a.EstimatedImpact,
		RequiredResources: append([]string{}, a.RequiredResources...),
		Metadata:          a.Metadata,
	}
}

// ExecuteRecoveryRequest runs an action with the supplied resources.
type ExecuteRecoveryRequest struct {
	Action  ActionRequest  `json:"action" validate:"required"`
	Context map[string]any `json:"context"`
}

// ExecuteRecoveryResponse reports the finished execution.
type ExecuteRecoveryResponse struct {
	Success   bool                     `json:"success"`
	Execution models.RecoveryExecution `json:"execution"`
}

// MetricsRequest controls GetMetrics.
type MetricsRequest struct {
	// IncludePatterns runs the detector so the pattern detection rate is populated.
	IncludePatterns bool `json:"include_patterns"`
}

// MetricsResponse carries the current metrics and any threshold alerts.
type MetricsResponse struct {
	Metrics map[models.MetricKind]models.PerformanceMetric `json:"metrics"`
	Alerts  []models.Alert                                 `json:"alerts"`
}

// HealthResponse reports serving state.
type HealthResponse struct {
	Status          string `json:"status"`
	ActiveRecords   int    `json:"active_records"`
	ArchivedRecords int    `json:"archived_records"`
	ActiveRecovery  int    `json:"active_recoveries"`
}

// Decode unmarshals in into out and validates it. A nil message decodes as
// an empty object.
func Decode(in *structpb.Struct, out any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return DecodeJSON(data, out)
}

// DecodeJSON unmarshals a JSON document into out and validates it.
func DecodeJSON(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// Encode converts v into a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}
