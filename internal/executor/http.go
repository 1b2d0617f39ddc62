// Package executor forwards accepted recovery executions to an external
// remediation service over HTTP.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/recovery"
)

// DefaultPath is the remediation endpoint relative to the base URL.
const DefaultPath = "/api/v1/remediations"

// Request is the body posted for each execution.
type Request struct {
	ExecutionID       string          `json:"execution_id"`
	Strategy          models.Strategy `json:"strategy"`
	Description       string          `json:"description"`
	Priority          int             `json:"priority"`
	EstimatedImpact   float64         `json:"estimated_impact"`
	RequiredResources []string        `json:"required_resources"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	StartedAt         string          `json:"started_at"`
	Context           map[string]any  `json:"context,omitempty"`
}

// Response is the executor's acknowledgement.
type Response struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// HTTPDispatcher posts executions to a remediation executor.
type HTTPDispatcher struct {
	baseURL    string
	path       string
	httpClient *http.Client
}

// NewHTTPDispatcher constructs a dispatcher targeting baseURL. An empty path
// uses DefaultPath.
func NewHTTPDispatcher(baseURL, endpointPath string, timeout time.Duration) *HTTPDispatcher {
	if endpointPath == "" {
		endpointPath = DefaultPath
	}
	return &HTTPDispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    endpointPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ recovery.Dispatcher = (*HTTPDispatcher)(nil)

// Dispatch implements recovery.Dispatcher.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, exec models.RecoveryExecution, rc recovery.Context) error {
	if d == nil {
		return fmt.Errorf("executor client not initialised")
	}
	if d.baseURL == "" {
		return fmt.Errorf("executor base URL not configured")
	}

	payload := Request{
		ExecutionID:       exec.ID,
		Strategy:          exec.Action.Strategy,
		Description:       exec.Action.Description,
		Priority:          exec.Action.Priority,
		EstimatedImpact:   exec.Action.EstimatedImpact,
		RequiredResources: exec.Action.RequiredResources,
		Metadata:          exec.Action.Metadata,
		StartedAt:         exec.StartTime.UTC().Format(time.RFC3339Nano),
		Context:           rc,
	}

	var response Response
	if err := d.postJSON(ctx, d.endpoint(), payload, &response); err != nil {
		return fmt.Errorf("executor request failed: %w", err)
	}
	if !response.Accepted {
		return fmt.Errorf("executor declined %s: %s", exec.ID, response.Message)
	}
	return nil
}

func (d *HTTPDispatcher) endpoint() string {
	cleaned := "/" + strings.TrimLeft(d.path, "/")
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return d.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (d *HTTPDispatcher) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("executor returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
