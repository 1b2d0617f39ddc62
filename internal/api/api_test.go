package api

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Jita81/SelfImprovingRAG/internal/config"
	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

type echoServer struct {
	UnimplementedTelemetryEngineServer
}

func (echoServer) RecordValidation(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RecordValidationRequest
	if err := Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return Encode(RecordValidationResponse{Accepted: true})
}

func (echoServer) HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return Encode(HealthResponse{Status: "SERVING"})
}

func startBufServer(t *testing.T, srv TelemetryEngineServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := NewServerWithListener(config.ServerConfig{GracefulTimeout: time.Second}, lis, srv)
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServiceRoundTrip(t *testing.T) {
	conn := startBufServer(t, echoServer{})
	client := NewTelemetryEngineClient(conn)
	ctx := context.Background()

	in, err := structpb.NewStruct(map[string]any{"is_valid": false, "confidence_score": 0.4, "issues": []any{"Missing examples"}})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	out, err := client.RecordValidation(ctx, in)
	if err != nil {
		t.Fatalf("record validation: %v", err)
	}
	if !out.GetFields()["accepted"].GetBoolValue() {
		t.Fatalf("expected accepted response, got %v", out)
	}

	bad, _ := structpb.NewStruct(map[string]any{"is_valid": true, "confidence_score": 1.5})
	if _, err := client.RecordValidation(ctx, bad); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	if _, err := client.GetReport(ctx, nil); status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected unimplemented, got %v", err)
	}

	health, err := client.HealthCheck(ctx, nil)
	if err != nil || health.GetFields()["status"].GetStringValue() != "SERVING" {
		t.Fatalf("unexpected health %v (%v)", health, err)
	}

	serving, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil || serving.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected grpc serving %v (%v)", serving, err)
	}
}

func TestDecodeRecordValidation(t *testing.T) {
	in, _ := structpb.NewStruct(map[string]any{
		"is_valid":         false,
		"confidence_score": 0.35,
		"issues":           []any{"Content too basic"},
		"timestamp":        "2024-05-01T10:00:00.123Z",
	})
	var req RecordValidationRequest
	if err := Decode(in, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	rec, err := req.ToRecord()
	if err != nil {
		t.Fatalf("to record: %v", err)
	}
	if rec.IsValid || rec.ConfidenceScore != 0.35 || rec.Issues[0] != "Content too basic" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 123_000_000, time.UTC); !rec.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp %v", rec.Timestamp)
	}

	missing, _ := structpb.NewStruct(map[string]any{"issues": []any{"x"}})
	if err := Decode(missing, &RecordValidationRequest{}); err == nil {
		t.Fatalf("expected validation error for missing fields")
	}

	badTime, _ := structpb.NewStruct(map[string]any{"is_valid": true, "confidence_score": 0.9, "timestamp": "yesterday"})
	var timed RecordValidationRequest
	if err := Decode(badTime, &timed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := timed.ToRecord(); err == nil {
		t.Fatalf("expected timestamp parse error")
	}
}

func TestDecodeExecuteRecovery(t *testing.T) {
	in, _ := structpb.NewStruct(map[string]any{
		"action": map[string]any{
			"strategy":           "revalidation",
			"priority":           2,
			"estimated_impact":   0.7,
			"required_resources": []any{"validation_system"},
		},
		"context": map[string]any{"validation_system": "v1"},
	})
	var req ExecuteRecoveryRequest
	if err := Decode(in, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	action := req.Action.ToAction()
	if action.Strategy != models.StrategyRevalidation || action.Priority != 2 || action.RequiredResources[0] != models.ResourceValidationSystem {
		t.Fatalf("unexpected action %+v", action)
	}

	bad, _ := structpb.NewStruct(map[string]any{"action": map[string]any{"strategy": "reboot"}})
	if err := Decode(bad, &ExecuteRecoveryRequest{}); err == nil {
		t.Fatalf("expected unknown strategy to be rejected")
	}
	if err := Decode(nil, &ExecuteRecoveryRequest{}); err == nil {
		t.Fatalf("expected missing action to be rejected")
	}
}

func TestEncode(t *testing.T) {
	out, err := Encode(SelectRecoveryResponse{Action: &models.RecoveryAction{Strategy: models.StrategyRollback, Priority: 1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	action := out.GetFields()["action"].GetStructValue()
	if action.GetFields()["strategy"].GetStringValue() != "rollback" || action.GetFields()["priority"].GetNumberValue() != 1 {
		t.Fatalf("unexpected encoding %v", out)
	}

	out, err = Encode(SelectRecoveryResponse{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, ok := out.GetFields()["action"].GetKind().(*structpb.Value_NullValue); !ok {
		t.Fatalf("expected explicit null action, got %v", out)
	}
}
