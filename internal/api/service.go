package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "validation.telemetry.v1.TelemetryEngine"

// Full method names.
const (
	MethodRecordValidation = "/" + ServiceName + "/RecordValidation"
	MethodGetTrends        = "/" + ServiceName + "/GetTrends"
	MethodGetReport        = "/" + ServiceName + "/GetReport"
	MethodSelectRecovery   = "/" + ServiceName + "/SelectRecovery"
	MethodExecuteRecovery  = "/" + ServiceName + "/ExecuteRecovery"
	MethodGetMetrics       = "/" + ServiceName + "/GetMetrics"
	MethodHealthCheck      = "/" + ServiceName + "/HealthCheck"
	MethodGetTimeSeries    = "/" + ServiceName + "/GetTimeSeries"
	MethodFindRelated      = "/" + ServiceName + "/FindRelatedIssues"
	MethodGetMetricHistory = "/" + ServiceName + "/GetMetricHistory"
	MethodClearHistory     = "/" + ServiceName + "/ClearHistory"
)

// TelemetryEngineServer is the server API for the TelemetryEngine service.
// Every message is a google.protobuf.Struct carrying the JSON form of the
// request and response types in this package.
type TelemetryEngineServer interface {
	RecordValidation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTrends(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReport(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SelectRecovery(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExecuteRecovery(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMetrics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTimeSeries(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindRelatedIssues(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMetricHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedTelemetryEngineServer can be embedded for forward compatibility.
type UnimplementedTelemetryEngineServer struct{}

func (UnimplementedTelemetryEngineServer) RecordValidation(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method RecordValidation not implemented")
}

func (UnimplementedTelemetryEngineServer) GetTrends(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetTrends not implemented")
}

func (UnimplementedTelemetryEngineServer) GetReport(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetReport not implemented")
}

func (UnimplementedTelemetryEngineServer) SelectRecovery(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method SelectRecovery not implemented")
}

func (UnimplementedTelemetryEngineServer) ExecuteRecovery(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ExecuteRecovery not implemented")
}

func (UnimplementedTelemetryEngineServer) GetMetrics(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetMetrics not implemented")
}

func (UnimplementedTelemetryEngineServer) HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method HealthCheck not implemented")
}

func (UnimplementedTelemetryEngineServer) GetTimeSeries(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetTimeSeries not implemented")
}

func (UnimplementedTelemetryEngineServer) FindRelatedIssues(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method FindRelatedIssues not implemented")
}

func (UnimplementedTelemetryEngineServer) GetMetricHistory(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetMetricHistory not implemented")
}

func (UnimplementedTelemetryEngineServer) ClearHistory(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ClearHistory not implemented")
}

// RegisterTelemetryEngineServer attaches srv to s.
func RegisterTelemetryEngineServer(s grpc.ServiceRegistrar, srv TelemetryEngineServer) {
	s.RegisterService(&TelemetryEngineServiceDesc, srv)
}

type unaryMethod func(TelemetryEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(TelemetryEngineServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// TelemetryEngineServiceDesc is the grpc.ServiceDesc for TelemetryEngine.
var TelemetryEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordValidation", Handler: unaryHandler(MethodRecordValidation, TelemetryEngineServer.RecordValidation)},
		{MethodName: "GetTrends", Handler: unaryHandler(MethodGetTrends, TelemetryEngineServer.GetTrends)},
		{MethodName: "GetReport", Handler: unaryHandler(MethodGetReport, TelemetryEngineServer.GetReport)},
		{MethodName: "SelectRecovery", Handler: unaryHandler(MethodSelectRecovery, TelemetryEngineServer.SelectRecovery)},
		{MethodName: "ExecuteRecovery", Handler: unaryHandler(MethodExecuteRecovery, TelemetryEngineServer.ExecuteRecovery)},
		{MethodName: "GetMetrics", Handler: unaryHandler(MethodGetMetrics, TelemetryEngineServer.GetMetrics)},
		{MethodName: "HealthCheck", Handler: unaryHandler(MethodHealthCheck, TelemetryEngineServer.HealthCheck)},
		{MethodName: "GetTimeSeries", Handler: unaryHandler(MethodGetTimeSeries, TelemetryEngineServer.GetTimeSeries)},
		{MethodName: "FindRelatedIssues", Handler: unaryHandler(MethodFindRelated, TelemetryEngineServer.FindRelatedIssues)},
		{MethodName: "GetMetricHistory", Handler: unaryHandler(MethodGetMetricHistory, TelemetryEngineServer.GetMetricHistory)},
		{MethodName: "ClearHistory", Handler: unaryHandler(MethodClearHistory, TelemetryEngineServer.ClearHistory)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "validation/telemetry/v1/telemetry.proto",
}

// TelemetryEngineClient is the client API for the TelemetryEngine service.
type TelemetryEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewTelemetryEngineClient wraps a client connection.
func NewTelemetryEngineClient(cc grpc.ClientConnInterface) *TelemetryEngineClient {
	return &TelemetryEngineClient{cc: cc}
}

func (c *TelemetryEngineClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordValidation ingests one validation record.
func (c *TelemetryEngineClient) RecordValidation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRecordValidation, in, opts...)
}

// GetTrends returns trend detection and the headline summary.
func (c *TelemetryEngineClient) GetTrends(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetTrends, in, opts...)
}

// GetReport returns the full analytical report.
func (c *TelemetryEngineClient) GetReport(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetReport, in, opts...)
}

// SelectRecovery chooses a recovery action without executing it.
func (c *TelemetryEngineClient) SelectRecovery(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSelectRecovery, in, opts...)
}

// ExecuteRecovery runs a recovery action.
func (c *TelemetryEngineClient) ExecuteRecovery(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodExecuteRecovery, in, opts...)
}

// GetMetrics returns the current performance metrics and alerts.
func (c *TelemetryEngineClient) GetMetrics(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetMetrics, in, opts...)
}

// HealthCheck reports serving state.
func (c *TelemetryEngineClient) HealthCheck(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodHealthCheck, in, opts...)
}

// GetTimeSeries buckets the active history by period.
func (c *TelemetryEngineClient) GetTimeSeries(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetTimeSeries, in, opts...)
}

// FindRelatedIssues lists active issues similar to the requested one.
func (c *TelemetryEngineClient) FindRelatedIssues(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodFindRelated, in, opts...)
}

// GetMetricHistory returns the recorded values of one metric kind.
func (c *TelemetryEngineClient) GetMetricHistory(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetMetricHistory, in, opts...)
}

// ClearHistory empties the validation history.
func (c *TelemetryEngineClient) ClearHistory(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodClearHistory, in, opts...)
}
