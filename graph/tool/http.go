package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxProbeBodyBytes = 1 << 20

// ProbeTool is a Tool that issues an exploratory HTTP request against the
// target, separately from the ActionGraph steps a compiled plan produces.
// recon.Fingerprinter uses it to probe a target's root and common paths;
// the recon/critic agents are given no tools. Supports GET and POST.
//
// Grounded on the teacher project's generic HTTPTool, narrowed to GET/POST
// and capped at maxProbeBodyBytes to bound how much of a response a probe
// reads into memory.
//
// Input parameters:
//   - method: "GET" or "POST" (defaults to "GET")
//   - url: target URL (required)
//   - headers: optional map of request headers
//   - body: optional request body (POST)
//
// Output:
//   - status_code, headers, body
type ProbeTool struct {
	client *http.Client
}

// NewProbeTool creates a ProbeTool with default settings.
func NewProbeTool() *ProbeTool {
	return &ProbeTool{client: &http.Client{}}
}

// Name returns the tool identifier.
func (h *ProbeTool) Name() string {
	return "probe_target"
}

// Call executes an HTTP request with the provided parameters.
func (h *ProbeTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := "GET"
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != "GET" && method != "POST" {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	var body io.Reader
	if bodyStr, ok := input["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	respHeaders := make(map[string]interface{})
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}, nil
}
