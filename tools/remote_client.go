package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aschepis/bpmai/llm"
)

// DefaultRemoteTimeout bounds a single remote tool call.
const DefaultRemoteTimeout = 15 * time.Second

// RemoteCaller invokes a tool implemented by another process.
type RemoteCaller interface {
	Call(ctx context.Context, toolName string, args map[string]any) (json.RawMessage, error)
}

// HTTPRemoteCaller posts tool calls as JSON:
//
//	POST {BaseURL}/tools/{toolName}
//	{"args": {...}}
//
// and returns the response body.
type HTTPRemoteCaller struct {
	BaseURL    string
	HTTPClient *http.Client
	AuthToken  string
}

// NewHTTPRemoteCaller creates a caller for baseURL.
func NewHTTPRemoteCaller(baseURL, authToken string) *HTTPRemoteCaller {
	return &HTTPRemoteCaller{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: DefaultRemoteTimeout},
		AuthToken:  authToken,
	}
}

// Call implements RemoteCaller.
func (c *HTTPRemoteCaller) Call(ctx context.Context, toolName string, args map[string]any) (json.RawMessage, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("remote tool %s: base URL is empty", toolName)
	}

	body, err := json.Marshal(map[string]any{"args": args})
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}

	endpoint := c.BaseURL + "/tools/" + url.PathEscape(toolName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if classified := llm.ClassifyTransportError("remote_tool", err); classified != nil {
			return nil, classified
		}
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // Body close error can be ignored

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("remote tool %s: %s: %s", toolName, resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// RemoteTool makes a Tool whose handler delegates to caller. JSON responses are decoded;
// anything else is returned as a string.
func RemoteTool(spec llm.ToolSpec, caller RemoteCaller) Tool {
	return Tool{
		Spec: spec,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			raw, err := caller.Call(ctx, spec.Name, args)
			if err != nil {
				return nil, err
			}
			if len(raw) == 0 {
				return nil, nil
			}
			var out any
			if err := json.Unmarshal(raw, &out); err != nil {
				return string(raw), nil
			}
			return out, nil
		},
	}
}
