package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/recovery"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripFunc) *http.Client {
	return &http.Client{Transport: rt}
}

func jsonResponse(t *testing.T, status int, v any) *http.Response {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func sampleExecution() models.RecoveryExecution {
	return models.RecoveryExecution{
		ID: "exec-1",
		Action: models.RecoveryAction{
			Strategy:          models.StrategyRevalidation,
			Description:       "Pattern-based revalidation",
			Priority:          2,
			EstimatedImpact:   0.8,
			RequiredResources: []string{models.ResourceValidationSystem},
		},
		StartTime: time.Unix(1_700_000_000, 0),
		Status:    models.ExecutionInProgress,
	}
}

func TestDispatchPostsExecution(t *testing.T) {
	d := NewHTTPDispatcher("https://executor.local/base/", "", time.Second)
	var got Request
	d.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/base/api/v1/remediations" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if ct := req.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(t, http.StatusAccepted, Response{Accepted: true}), nil
	})

	err := d.Dispatch(context.Background(), sampleExecution(), recovery.Context{models.ResourceValidationSystem: "validator-a"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got.ExecutionID != "exec-1" || got.Strategy != models.StrategyRevalidation || got.Priority != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Context[models.ResourceValidationSystem] != "validator-a" {
		t.Fatalf("context not forwarded: %+v", got.Context)
	}
}

func TestDispatchFailures(t *testing.T) {
	cases := map[string]roundTripFunc{
		"declined": func(*http.Request) (*http.Response, error) {
			return jsonResponse(t, http.StatusOK, Response{Accepted: false, Message: "busy"}), nil
		},
		"status": func(*http.Request) (*http.Response, error) {
			return jsonResponse(t, http.StatusBadGateway, map[string]string{}), nil
		},
		"garbage": func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{")), Header: make(http.Header)}, nil
		},
	}
	for name, rt := range cases {
		d := NewHTTPDispatcher("https://executor.local", "/hooks", time.Second)
		d.httpClient = newTestClient(rt)
		if err := d.Dispatch(context.Background(), sampleExecution(), nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	if err := NewHTTPDispatcher("", "", time.Second).Dispatch(context.Background(), sampleExecution(), nil); err == nil {
		t.Fatalf("expected error without base URL")
	}
}
