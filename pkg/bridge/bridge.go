// Package bridge delegates tool implementations to a remote runner
// side-car speaking the gateway wire format. Non-ok envelopes come back
// as typed failures so policy, retries and auditing behave exactly as
// they do for in-process adapters.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rigproject/rig/pkg/rtp"
	"github.com/rigproject/rig/pkg/runtime"
)

// Client talks to a remote tool runner.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient overrides the transport (tests, custom timeouts).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// ListTools fetches the runner's tool definitions.
func (c *Client) ListTools(ctx context.Context) ([]rtp.ToolDef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: list tools: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge: list tools: unexpected status %d", resp.StatusCode)
	}
	var defs []rtp.ToolDef
	if err := json.NewDecoder(resp.Body).Decode(&defs); err != nil {
		return nil, fmt.Errorf("bridge: decode tool list: %w", err)
	}
	return defs, nil
}

type callBody struct {
	Args    map[string]any  `json:"args"`
	Context rtp.CallContext `json:"context"`
}

// Call forwards {args, context} to the runner and translates its envelope.
// A transport or shape failure is a generic error (retry candidate); a
// well-formed non-ok envelope is a typed failure.
func (c *Client) Call(ctx context.Context, toolName string, args map[string]any, call rtp.CallContext) (map[string]any, error) {
	payload, err := json.Marshal(callBody{Args: args, Context: call})
	if err != nil {
		return nil, fmt.Errorf("bridge: encode call: %w", err)
	}

	url := fmt.Sprintf("%s/v1/tools/%s:call", c.baseURL, toolName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: call %s: %w", toolName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge: call %s: unexpected status %d", toolName, resp.StatusCode)
	}

	var envelope rtp.ToolResult
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("bridge: decode envelope: %w", err)
	}

	if envelope.OK {
		if envelope.Output == nil {
			return map[string]any{}, nil
		}
		return envelope.Output, nil
	}

	terr := envelope.Error
	if terr == nil {
		terr = &rtp.ToolError{Type: rtp.ErrTypeUpstream, Message: "remote tool error"}
	}
	if terr.Type == "" {
		terr.Type = rtp.ErrTypeUpstream
	}
	if terr.Message == "" {
		terr.Message = "remote tool error"
	}
	return nil, terr
}

// ToolFunc adapts a remote tool into the runtime's adapter surface.
// Secrets are intentionally not forwarded to the runner.
func (c *Client) ToolFunc(toolName string) runtime.ToolFunc {
	return func(ctx context.Context, args map[string]any, _ map[string]string, call rtp.CallContext) (map[string]any, error) {
		return c.Call(ctx, toolName, args, call)
	}
}
