package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Jita81/SelfImprovingRAG/internal/api"
	"github.com/Jita81/SelfImprovingRAG/internal/engine"
	"github.com/Jita81/SelfImprovingRAG/internal/history"
	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/recovery"
	"github.com/Jita81/SelfImprovingRAG/internal/utils"
)

// TelemetryService implements the gRPC TelemetryEngine service.
type TelemetryService struct {
	api.UnimplementedTelemetryEngineServer

	logger    *slog.Logger
	pipeline  *engine.Pipeline
	latencies *utils.LatencyTracker
}

// NewTelemetryService constructs the service facade.
func NewTelemetryService(logger *slog.Logger, pipeline *engine.Pipeline) *TelemetryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryService{
		logger:    logger,
		pipeline:  pipeline,
		latencies: utils.NewLatencyTracker(1024),
	}
}

var _ api.TelemetryEngineServer = (*TelemetryService)(nil)

func (s *TelemetryService) ready() error {
	if s.pipeline == nil {
		return status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	return nil
}

func (s *TelemetryService) respond(v any) (*structpb.Struct, error) {
	out, err := api.Encode(v)
	if err != nil {
		s.logger.Error("encode response failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// RecordValidation ingests a validation outcome and returns any recovery decision.
func (s *TelemetryService) RecordValidation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req api.RecordValidationRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	record, err := req.ToRecord()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	result, err := s.pipeline.Ingest(ctx, record)
	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 100 && count%100 == 0 {
		s.logger.Info("ingest latency",
			slog.Duration("mean", s.latencies.Mean()),
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count),
		)
	}

	resp := api.RecordValidationResponse{
		Accepted:  true,
		Action:    result.Action,
		Execution: result.Execution,
	}
	if err != nil {
		resp.Warning = "history persistence failed; record retained in memory"
	}
	return s.respond(resp)
}

// GetTrends runs trend detection with optional window and threshold overrides.
func (s *TelemetryService) GetTrends(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req api.TrendsRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	trend := s.pipeline.Trend()
	if req.WindowSize > 0 || req.Threshold > 0 {
		window, threshold := req.WindowSize, req.Threshold
		if window <= 0 {
			window = history.DefaultTrendWindow
		}
		if threshold <= 0 {
			threshold = history.DefaultTrendThreshold
		}
		trend = s.pipeline.Store().DetectTrend(window, threshold)
	}
	confidenceWindow, err := api.ParseDuration("confidence_window", req.ConfidenceWindow)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	limit := req.CommonIssues
	if limit == 0 {
		limit = history.DefaultCommonIssues
	}
	store := s.pipeline.Store()
	return s.respond(api.TrendsResponse{
		Trend:             trend,
		Summary:           store.TrendSummary(0),
		AverageConfidence: store.AverageConfidence(confidenceWindow),
		CommonIssues:      store.CommonIssues(limit),
	})
}

// GetReport returns every analysis over the current history.
func (s *TelemetryService) GetReport(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	report, err := s.pipeline.Report(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		s.logger.Error("build report failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to build report")
	}
	return s.respond(report)
}

// SelectRecovery returns the recovery decision for a record without storing it.
func (s *TelemetryService) SelectRecovery(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.pipeline.Selector() == nil {
		return nil, status.Error(codes.FailedPrecondition, "recovery selector not configured")
	}
	var req api.SelectRecoveryRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	record, err := req.Record.ToRecord()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return s.respond(api.SelectRecoveryResponse{Action: s.pipeline.SelectRecovery(ctx, record)})
}

// ExecuteRecovery runs an action. Reaching the concurrency cap maps to
// ResourceExhausted; handler failures are reported in the response body.
func (s *TelemetryService) ExecuteRecovery(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	selector := s.pipeline.Selector()
	if selector == nil {
		return nil, status.Error(codes.FailedPrecondition, "recovery selector not configured")
	}
	var req api.ExecuteRecoveryRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	exec, err := selector.Execute(ctx, req.Action.ToAction(), recovery.Context(req.Context))
	if errors.Is(err, recovery.ErrCapacityExceeded) {
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	}
	if err != nil {
		s.logger.Error("execute recovery failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to execute recovery")
	}
	return s.respond(api.ExecuteRecoveryResponse{Success: exec.Succeeded(), Execution: exec})
}

// GetMetrics returns the current performance metrics and alerts.
func (s *TelemetryService) GetMetrics(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req api.MetricsRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	var found []models.Pattern
	if req.IncludePatterns {
		found = s.pipeline.Patterns(ctx, 0)
	}
	current, alerts := s.pipeline.Metrics(found)
	return s.respond(api.MetricsResponse{Metrics: current, Alerts: alerts})
}

// HealthCheck returns the current health state.
func (s *TelemetryService) HealthCheck(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	resp := api.HealthResponse{Status: "SERVING"}
	if s.pipeline == nil {
		resp.Status = "NOT_SERVING"
		return s.respond(resp)
	}
	resp.ActiveRecords, resp.ArchivedRecords = s.pipeline.Store().Len()
	if sel := s.pipeline.Selector(); sel != nil {
		resp.ActiveRecovery = sel.ActiveCount()
	}
	return s.respond(resp)
}

// GetTimeSeries buckets the active history by the requested period.
func (s *TelemetryService) GetTimeSeries(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req api.TimeSeriesRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	period, err := api.ParseDuration("period", req.Period)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return s.respond(api.TimeSeriesResponse{Buckets: s.pipeline.TimeSeries(period)})
}

// FindRelatedIssues lists active issues similar to the requested one.
func (s *TelemetryService) FindRelatedIssues(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req api.RelatedIssuesRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return s.respond(api.RelatedIssuesResponse{Related: s.pipeline.RelatedIssues(req.Issue, req.MinSimilarity)})
}

// GetMetricHistory returns the values of one metric kind computed since startup.
func (s *TelemetryService) GetMetricHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req api.MetricHistoryRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	start, end, err := req.Range()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	kind := models.MetricKind(req.Kind)
	return s.respond(api.MetricHistoryResponse{Kind: kind, Values: s.pipeline.MetricHistory(kind, start, end)})
}

// ClearHistory empties the active history and, on request, the archive.
func (s *TelemetryService) ClearHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req api.ClearHistoryRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.pipeline.Clear(ctx, req.IncludeArchive); err != nil {
		s.logger.Error("clear history failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to clear persisted history")
	}
	resp := api.ClearHistoryResponse{}
	resp.ActiveRecords, resp.ArchivedRecords = s.pipeline.Store().Len()
	return s.respond(resp)
}

// LatencyP95 returns the current p95 ingest latency.
func (s *TelemetryService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
