// Package httpstep implements the HTTP Step Handler (C3): it executes an
// HTTP request described by a Step's parameters, threads cookies and
// bearer tokens through the run's ExecutionContext, and evaluates a
// success-criteria regex against the response body.
//
// Grounded on graph/tool.HTTPTool from the teacher project, generalized
// from a single-shot tool call into a handler that mutates run-scoped
// session state across many steps.
package httpstep

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelsec/attackgraph/graph"
	"github.com/kestrelsec/attackgraph/graph/step"
)

// maxBodyBytes caps how much of a response body is read into memory (an
// implementation-chosen bound).
const maxBodyBytes = 1 << 20 // 1 MiB

// Handler executes HTTP_REQUEST steps.
//
// TLS certificate verification is on unless the Handler was built with
// NewInsecure, which exists only for the low-trust probe/fingerprinting
// mode; it must never be the default for exploit steps.
type Handler struct {
	client *http.Client
}

// New returns a Handler using a default, TLS-verifying client.
func New() *Handler {
	return &Handler{client: &http.Client{}}
}

// NewWithClient returns a Handler that issues requests through client,
// letting a caller substitute a fixture-backed RoundTripper (graph/replay)
// for regression replay without touching the network.
func NewWithClient(client *http.Client) *Handler {
	return &Handler{client: client}
}

// NewInsecure returns a Handler with TLS verification disabled, for the
// dedicated low-trust probe/fingerprinting mode only.
func NewInsecure() *Handler {
	return &Handler{client: &http.Client{Transport: insecureTransport()}}
}

func insecureTransport() *http.Transport {
	return &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} // #nosec G402 -- opt-in probe mode only
}

// Execute runs one HTTP_REQUEST step against ec.TargetURL, mutating
// ec.Cookies and ec.SessionTokens as the response dictates. It implements
// step.Handler.
func (h *Handler) Execute(ctx context.Context, s graph.Step, ec *graph.ExecutionContext) step.Result {
	start := time.Now()
	p := s.Parameters

	method := "GET"
	if m, ok := stringParam(p, "method"); ok && m != "" {
		method = strings.ToUpper(m)
	}

	target, err := resolveURL(ec.TargetURL, pathParam(p, s.Command))
	if err != nil {
		return fail(start, fmt.Sprintf("resolve url: %v", err))
	}

	timeout := 30 * time.Second
	if t, ok := numberParam(p, "timeout"); ok {
		timeout = time.Duration(t) * time.Second
	}
	if timeout <= 0 {
		return fail(start, "timeout")
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, isJSON := requestBody(p)
	req, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return fail(start, fmt.Sprintf("build request: %v", err))
	}
	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	} else if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	// Headers: ctx.session_tokens first, then step.headers override them.
	for _, k := range ec.SessionTokens.Keys() {
		if v, ok := ec.SessionTokens.Get(k); ok {
			req.Header.Set(k, v)
		}
	}
	if hdrs, ok := mapParam(p, "headers"); ok {
		for k, v := range hdrs {
			if sv, ok := v.AsString(); ok {
				req.Header.Set(k, sv)
			}
		}
	}

	skipCookies := false
	if b, ok := boolParam(p, "skip_cookies"); ok {
		skipCookies = b
	}
	if !skipCookies {
		for _, k := range ec.Cookies.Keys() {
			if v, ok := ec.Cookies.Get(k); ok {
				req.AddCookie(&http.Cookie{Name: k, Value: v})
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fail(start, fmt.Sprintf("%v", err))
	}
	defer func() { _ = resp.Body.Close() }()

	limited := io.LimitReader(resp.Body, maxBodyBytes)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return fail(start, fmt.Sprintf("read body: %v", err))
	}
	respBody := string(raw)

	for _, c := range resp.Cookies() {
		ec.Cookies.Set(c.Name, c.Value)
	}

	if tokenPath, ok := stringParam(p, "extract_token_path"); ok && tokenPath != "" {
		if token, ok := extractDottedPath(raw, tokenPath); ok {
			ec.SessionTokens.Set("Authorization", "Bearer "+token)
		}
	}

	res := step.Result{
		Stdout:     respBody,
		StatusCode: resp.StatusCode,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if resp.StatusCode >= 400 {
		res.Stderr = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	if s.SuccessCriteria != "" {
		if re, err := regexp.Compile(s.SuccessCriteria); err == nil {
			res.Matched = re.MatchString(respBody)
		}
	}
	return res
}

func fail(start time.Time, msg string) step.Result {
	return step.Result{Stderr: msg, StatusCode: -1, DurationMS: time.Since(start).Milliseconds()}
}

func resolveURL(targetBase, pathOrURL string) (string, error) {
	u, err := url.Parse(pathOrURL)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return pathOrURL, nil
	}
	base, err := url.Parse(targetBase)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

func pathParam(p map[string]graph.ParamValue, command string) string {
	if v, ok := stringParam(p, "url"); ok && v != "" {
		return v
	}
	if v, ok := stringParam(p, "path"); ok && v != "" {
		return v
	}
	return command
}

func requestBody(p map[string]graph.ParamValue) (io.Reader, bool) {
	bodyVal, ok := p["body"]
	if !ok || bodyVal.Kind != graph.ParamKindMap {
		return nil, false
	}
	asJSON := false
	if b, ok := boolParam(p, "json"); ok {
		asJSON = b
	}
	if asJSON {
		plain := paramMapToAny(bodyVal.Map)
		raw, err := json.Marshal(plain)
		if err != nil {
			return nil, true
		}
		return bytes.NewReader(raw), true
	}
	form := url.Values{}
	for k, v := range bodyVal.Map {
		if sv, ok := v.AsString(); ok {
			form.Set(k, sv)
		} else if nv, ok := v.AsNumber(); ok {
			form.Set(k, strconv.FormatFloat(nv, 'f', -1, 64))
		}
	}
	return strings.NewReader(form.Encode()), false
}

func paramMapToAny(m map[string]graph.ParamValue) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = paramValueToAny(v)
	}
	return out
}

func paramValueToAny(v graph.ParamValue) any {
	switch v.Kind {
	case graph.ParamKindString:
		return v.Str
	case graph.ParamKindNumber:
		return v.Num
	case graph.ParamKindBool:
		return v.Bool
	case graph.ParamKindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = paramValueToAny(e)
		}
		return out
	case graph.ParamKindMap:
		return paramMapToAny(v.Map)
	default:
		return nil
	}
}

func stringParam(p map[string]graph.ParamValue, key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

func numberParam(p map[string]graph.ParamValue, key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

func boolParam(p map[string]graph.ParamValue, key string) (bool, bool) {
	v, ok := p[key]
	if !ok {
		return false, false
	}
	return v.AsBool()
}

func mapParam(p map[string]graph.ParamValue, key string) (map[string]graph.ParamValue, bool) {
	v, ok := p[key]
	if !ok || v.Kind != graph.ParamKindMap {
		return nil, false
	}
	return v.Map, true
}

// extractDottedPath follows a dotted path like "authentication.token"
// through a JSON-decoded body and returns the string leaf at that path.
func extractDottedPath(raw []byte, dotted string) (string, bool) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", false
	}
	cur := doc
	for _, part := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[part]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}
