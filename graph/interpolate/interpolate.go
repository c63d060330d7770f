// Package interpolate resolves `{{previous_outputs[N]}}` templates (C6)
// against a run's previous step outputs before a Step is dispatched to a
// handler.
package interpolate

import (
	"regexp"
	"strconv"
)

var tokenPattern = regexp.MustCompile(`\{\{previous_outputs\[(-?\d+)\]\}\}`)

// Resolve replaces every `{{previous_outputs[N]}}` token in s with the
// corresponding entry of outputs, using Python-style indexing (negative N
// counts from the end). A token whose index is out of range is left in
// place verbatim: out-of-range indices are not interpolation errors, by
// design (invariant 5) -- the un-interpolated token surfaces a failure
// naturally once the handler tries to consume it.
func Resolve(s string, outputs []string) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		if m == nil {
			return tok
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return tok
		}
		idx := n
		if idx < 0 {
			idx += len(outputs)
		}
		if idx < 0 || idx >= len(outputs) {
			return tok
		}
		return outputs[idx]
	})
}

