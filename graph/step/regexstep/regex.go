// Package regexstep implements the Regex Step Handler (C5): it matches a
// pattern against a prior step's output and extracts a capture group.
// This handler never performs I/O.
package regexstep

import (
	"regexp"
	"strconv"

	"context"

	"github.com/kestrelsec/attackgraph/graph"
	"github.com/kestrelsec/attackgraph/graph/step"
)

// Handler executes REGEX_MATCH steps.
type Handler struct{}

// New returns a Handler.
func New() *Handler { return &Handler{} }

// Execute matches s.Command as a regex against the source output selected
// by the "source" parameter ("last", or a Python-style index into
// previous_outputs) and extracts capture group "group" (default 0, the
// whole match).
func (h *Handler) Execute(_ context.Context, s graph.Step, ec *graph.ExecutionContext) step.Result {
	source, ok := resolveSource(s.Parameters, ec.PreviousOutputs)
	if !ok {
		return step.Result{Stderr: "no source", StatusCode: -1}
	}

	re, err := regexp.Compile(s.Command)
	if err != nil {
		return step.Result{Stderr: "invalid pattern: " + err.Error(), StatusCode: -1}
	}

	group := 0
	if v, ok := s.Parameters["group"]; ok {
		if n, ok := v.AsNumber(); ok {
			group = int(n)
		}
	}

	m := re.FindStringSubmatch(source)
	if m == nil || group >= len(m) || group < 0 {
		return step.Result{Stderr: "no match", StatusCode: -1}
	}
	return step.Result{Stdout: m[group], Matched: true, StatusCode: -1}
}

// resolveSource selects the text a regex step matches against: "last"
// means the most recent previous_outputs entry; an integer indexes that
// list with Python-style semantics (-1 is the last entry).
func resolveSource(params map[string]graph.ParamValue, outputs []string) (string, bool) {
	v, ok := params["source"]
	if !ok {
		return lastOutput(outputs)
	}
	switch v.Kind {
	case graph.ParamKindString:
		if v.Str == "last" {
			return lastOutput(outputs)
		}
		if n, err := strconv.Atoi(v.Str); err == nil {
			return outputAt(outputs, n)
		}
		return "", false
	case graph.ParamKindNumber:
		return outputAt(outputs, int(v.Num))
	default:
		return "", false
	}
}

func lastOutput(outputs []string) (string, bool) {
	return outputAt(outputs, -1)
}

func outputAt(outputs []string, n int) (string, bool) {
	if len(outputs) == 0 {
		return "", false
	}
	idx := n
	if idx < 0 {
		idx += len(outputs)
	}
	if idx < 0 || idx >= len(outputs) {
		return "", false
	}
	return outputs[idx], true
}
