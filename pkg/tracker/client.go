package tracker

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// OutboundClient posts root-agent status transitions to the work-tracker's
// outbound endpoint, mirroring the teacher's GitHubClient shape: a plain
// *http.Client with a fixed timeout wrapped in a small typed client
// (pkg/runbook/github.go).
type OutboundClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewOutboundClient constructs an OutboundClient posting to baseURL.
func NewOutboundClient(baseURL string) *OutboundClient {
	return &OutboundClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
}

// PostRootStatus posts p to baseURL + "/agents/{agent_id}/status".
func (c *OutboundClient) PostRootStatus(ctx context.Context, p RootStatusPayload) error {
	if c.baseURL == "" {
		return nil // outbound posting disabled when no base URL is configured
	}

	body, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling root status payload: %w", err)
	}

	url := fmt.Sprintf("%s/agents/%s/status", c.baseURL, p.AgentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building tracker status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting root status to tracker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("tracker returned HTTP %d for agent %s", resp.StatusCode, p.AgentID)
	}
	return nil
}
