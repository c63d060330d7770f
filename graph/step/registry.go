// Package step implements the Step Handler Registry (C2): dispatch of a
// Step to a typed handler based on its Kind, with the StepResult contract
// every handler produces.
package step

import (
	"context"
	"fmt"

	"github.com/kestrelsec/attackgraph/graph"
)

// Result carries the outcome of executing a single Step.
type Result struct {
	Stdout     string
	Stderr     string // empty on success
	StatusCode int    // -1 if not HTTP
	Matched    bool   // meaningful for OBSERVE-phase steps
	DurationMS int64
}

// Success reports whether r represents a successful step execution:
// empty Stderr and (StatusCode < 400 or StatusCode == -1).
func (r Result) Success() bool {
	return r.Stderr == "" && (r.StatusCode < 400 || r.StatusCode == -1)
}

// Handler executes one Step kind against an ExecutionContext.
type Handler interface {
	Execute(ctx context.Context, s graph.Step, ec *graph.ExecutionContext) Result
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, s graph.Step, ec *graph.ExecutionContext) Result

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, s graph.Step, ec *graph.ExecutionContext) Result {
	return f(ctx, s, ec)
}

// ErrUnimplementedKind is returned (wrapped with the offending kind) when
// Dispatch is asked to run a Step whose Kind has no registered handler.
// This is a fatal, SYSTEMIC condition per SPEC_FULL.md §4.2: the run
// aborts rather than silently skipping the step.
type ErrUnimplementedKind struct {
	Kind graph.StepKind
}

func (e *ErrUnimplementedKind) Error() string {
	return fmt.Sprintf("step: kind %q has no registered handler", e.Kind)
}

// Registry is a startup-populated map from StepKind to Handler. It is not
// a plugin system: handlers are registered once, at construction, and the
// map is read-only for the lifetime of a run.
type Registry struct {
	handlers map[graph.StepKind]Handler
}

// NewRegistry builds an empty Registry. Callers add handlers with
// Register; the Execution Engine never mutates a Registry mid-run.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[graph.StepKind]Handler)}
}

// Register binds kind to h, overwriting any previous binding.
func (r *Registry) Register(kind graph.StepKind, h Handler) {
	r.handlers[kind] = h
}

// Dispatch returns the Handler registered for s.Kind, or
// *ErrUnimplementedKind if none exists. KindJSONExtract and
// KindResponseCompare are reserved tags from the source material this
// engine's type enum was distilled from; no handler is ever registered for
// them (SPEC_FULL.md §9), so dispatching either always returns this error.
func (r *Registry) Dispatch(s graph.Step) (Handler, error) {
	h, ok := r.handlers[s.Kind]
	if !ok {
		return nil, &ErrUnimplementedKind{Kind: s.Kind}
	}
	return h, nil
}
