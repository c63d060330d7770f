// Package shellstep implements the Shell Step Handler (C4): it runs
// step.Command through the platform shell with a timeout and a merged
// environment.
//
// Steps are model-generated, not user-supplied, which makes this handler
// an injection surface (SPEC_FULL.md §9, §4.4). It is gated behind an
// explicit capability flag at the engine level (graph.Options.AllowShellSteps)
// rather than ever being silently disabled here -- this package always
// executes what it's given; the caller building the step registry
// (cmd/attackctl's -allow-shell) decides whether to register it.
package shellstep

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/kestrelsec/attackgraph/graph"
	"github.com/kestrelsec/attackgraph/graph/step"
)

// Handler executes SHELL_COMMAND steps.
type Handler struct {
	shellPath string // "" uses the platform default ("/bin/sh" via -c)
}

// New returns a Handler that runs commands through /bin/sh -c.
func New() *Handler {
	return &Handler{}
}

// Execute runs s.Command via the platform shell, capturing stdout/stderr
// and enforcing a timeout (default 120s per SPEC_FULL.md §5).
func (h *Handler) Execute(ctx context.Context, s graph.Step, ec *graph.ExecutionContext) step.Result {
	start := time.Now()

	timeout := 120 * time.Second
	if v, ok := s.Parameters["timeout"]; ok {
		if n, ok := v.AsNumber(); ok {
			timeout = time.Duration(n) * time.Second
		}
	}
	if timeout <= 0 {
		return step.Result{Stderr: "timeout", StatusCode: -1, DurationMS: time.Since(start).Milliseconds()}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", s.Command)
	cmd.Env = mergedEnv(s.Parameters)
	if cwd, ok := s.Parameters["cwd"]; ok {
		if v, ok := cwd.AsString(); ok && v != "" {
			cmd.Dir = v
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start).Milliseconds()

	if runCtx.Err() != nil {
		return step.Result{Stdout: stdout.String(), Stderr: "timeout", StatusCode: -1, DurationMS: duration}
	}
	if err != nil {
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return step.Result{Stdout: stdout.String(), Stderr: msg, StatusCode: -1, DurationMS: duration}
	}
	return step.Result{Stdout: stdout.String(), StatusCode: -1, DurationMS: duration}
}

// mergedEnv overlays parameters["env"] onto the process environment, per
// SPEC_FULL.md §4.4 ("env merged *over* process env").
func mergedEnv(params map[string]graph.ParamValue) []string {
	base := os.Environ()
	envParam, ok := params["env"]
	if !ok || envParam.Kind != graph.ParamKindMap {
		return base
	}
	overlay := make(map[string]string, len(envParam.Map))
	for k, v := range envParam.Map {
		if sv, ok := v.AsString(); ok {
			overlay[k] = sv
		}
	}
	merged := make([]string, 0, len(base)+len(overlay))
	seen := make(map[string]bool, len(overlay))
	for _, kv := range base {
		for k, v := range overlay {
			if len(kv) > len(k) && kv[:len(k)+1] == k+"=" {
				kv = k + "=" + v
				seen[k] = true
			}
		}
		merged = append(merged, kv)
	}
	for k, v := range overlay {
		if !seen[k] {
			merged = append(merged, k+"="+v)
		}
	}
	return merged
}
