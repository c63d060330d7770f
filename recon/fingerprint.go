package recon

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelsec/attackgraph/graph"
	"github.com/kestrelsec/attackgraph/graph/tool"
)

// Fingerprinter builds a graph.Fingerprint by probing a target's root and
// a handful of common endpoints (C0, spec.md §6's "Fingerprinter
// (produces)"). It never drives the recon/critic loop itself; that is
// graph/compile's job once a Fingerprint exists.
type Fingerprinter struct {
	Probe *tool.ProbeTool
}

// NewFingerprinter returns a Fingerprinter using a default probe client.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{Probe: tool.NewProbeTool()}
}

// probePaths are the endpoints QuickFingerprint inspects to infer tech
// stack and auth model signals without a full crawl.
var probePaths = []string{"/", "/api", "/login", "/.well-known/security.txt"}

// QuickFingerprint probes targetURL's root and a few conventional paths
// and derives tech_stack/auth_model/endpoint_pattern/security_signals from
// response headers and status codes. It is a heuristic stand-in for a
// fuller crawl-based fingerprinter; callers with richer capture data
// should build a graph.Fingerprint directly via FingerprintFromCapture.
func (f *Fingerprinter) QuickFingerprint(ctx context.Context, targetURL string) (graph.Fingerprint, error) {
	var techSignals, authSignals, securitySignals []string
	endpointPattern := "/"

	for _, p := range probePaths {
		resp, err := f.Probe.Call(ctx, map[string]interface{}{"url": strings.TrimRight(targetURL, "/") + p, "method": "GET"})
		if err != nil {
			continue
		}
		hdrs, _ := resp["headers"].(map[string]interface{})
		if server, ok := hdrs["Server"].(string); ok && server != "" {
			techSignals = append(techSignals, server)
		}
		if powered, ok := hdrs["X-Powered-By"].(string); ok && powered != "" {
			techSignals = append(techSignals, powered)
		}
		if _, ok := hdrs["Www-Authenticate"]; ok {
			authSignals = append(authSignals, "www-authenticate")
		}
		if cors, ok := hdrs["Access-Control-Allow-Origin"].(string); ok {
			securitySignals = append(securitySignals, "cors:"+cors)
		}
		if status, ok := resp["status_code"].(int); ok && status >= 200 && status < 300 && p == "/api" {
			endpointPattern = "/api/*"
		}
	}

	techStack := "unknown"
	if len(techSignals) > 0 {
		techStack = strings.Join(dedupe(techSignals), "+")
	}
	authModel := graph.AuthUnknown
	if len(authSignals) > 0 {
		authModel = graph.AuthBasic
	}
	observation := fmt.Sprintf("probed %s: tech=%v auth=%v security=%v", targetURL, techSignals, authSignals, securitySignals)
	embedding := HashEmbed(observation, 32)

	return graph.NewFingerprint(techStack, authModel, endpointPattern, securitySignals, observation, embedding), nil
}

// FingerprintFromCapture builds a Fingerprint directly from already-known
// capture fields, for callers (tests, replay harnesses, or a richer
// upstream crawler) that have more than QuickFingerprint's header
// heuristics to go on.
func FingerprintFromCapture(techStack, authModel, endpointPattern string, securitySignals []string, observationText string) graph.Fingerprint {
	embedding := HashEmbed(observationText, 32)
	return graph.NewFingerprint(techStack, authModel, endpointPattern, securitySignals, observationText, embedding)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
