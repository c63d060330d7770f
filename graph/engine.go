package graph

import (
	"context"
	"time"

	"github.com/kestrelsec/attackgraph/graph/classify"
	"github.com/kestrelsec/attackgraph/graph/emit"
	"github.com/kestrelsec/attackgraph/graph/step"
)

// Options configures an Engine. The zero value is usable: shell steps are
// disabled by default (SPEC_FULL.md §9's capability flag).
type Options struct {
	// AllowShellSteps gates SHELL_COMMAND dispatch. When false, Execute
	// rejects SHELL_COMMAND as an unimplemented kind (SYSTEMIC), even if a
	// shell handler is registered, instead of ever invoking a shell -- steps are model-generated, and
	// shelling out to model-generated text is an injection surface
	// (SPEC_FULL.md §9).
	AllowShellSteps bool
}

// FindingSink persists a Finding emitted by an OBSERVE-phase match.
// Satisfied by graph/store.Store.
type FindingSink interface {
	AppendFinding(ctx context.Context, f Finding) error
}

// CounterSink records the post-run times_executed/times_succeeded update
// for a graph. Satisfied by graph/store.Store.
type CounterSink interface {
	IncrementCounters(ctx context.Context, graphID string, executed, succeeded bool) error
}

// Engine walks an ActionGraph's linear step chain under the CAMRO phase
// sequence (C8), threading a single ExecutionContext through handler
// dispatch with parameter interpolation.
type Engine struct {
	registry *step.Registry
	emitter  emit.Emitter
	opts     Options
	metrics  *PrometheusMetrics // nil disables metric recording
}

// New constructs an Engine. registry must already have HTTP_REQUEST and
// REGEX_MATCH handlers registered (and SHELL_COMMAND if opts.AllowShellSteps
// is set) before Execute is called.
func New(registry *step.Registry, emitter emit.Emitter, opts Options) *Engine {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Engine{registry: registry, emitter: emitter, opts: opts}
}

// WithMetrics attaches a PrometheusMetrics collector. Returns e for chaining.
func (e *Engine) WithMetrics(m *PrometheusMetrics) *Engine {
	e.metrics = m
	return e
}

// Outcome is the result of walking one ActionGraph's step chain to
// completion or to a terminal failure.
type Outcome struct {
	Success      bool
	Category     classify.Category // zero value if Success
	FailedStep   *Step             // nil if Success
	FailureText  string
	Findings     []Finding
	StepsRun     int
}

// Execute walks g's linear chain starting at its entry step, mutating ec
// in place. It returns control to the caller on AUTH or SYSTEMIC failure
// without itself re-entering compilation or repair -- per SPEC_FULL.md
// §4.8/§4.10, restart-with-repair is the Repair Coordinator's job, and the
// caller must start execution over with a fresh ExecutionContext if it
// repairs.
func (e *Engine) Execute(ctx context.Context, g ActionGraph, ec *ExecutionContext, findings FindingSink, counters CounterSink) (Outcome, error) {
	out := Outcome{}
	succeeded := false

	for i := range g.Steps {
		s := g.Steps[i]
		out.StepsRun++

		interpolated := s
		interpolated.Parameters = InterpolateParameters(s.Parameters, ec.PreviousOutputs)

		handler, err := e.registry.Dispatch(interpolated)
		if err == nil && s.Kind == KindShellCommand && !e.opts.AllowShellSteps {
			err = &step.ErrUnimplementedKind{Kind: s.Kind}
		}
		if err != nil {
			e.emitter.Emit(emit.Event{
				RunID: g.ID, Msg: "step_unimplemented_kind", StepOrder: s.Order, Kind: string(s.Kind),
			})
			if cerr := counters.IncrementCounters(ctx, g.ID, true, false); cerr != nil {
				return out, cerr
			}
			out.FailedStep = &s
			out.FailureText = err.Error()
			out.Category = classify.Systemic
			return out, nil
		}

		result, classification, err := e.runWithOneRetry(ctx, handler, interpolated, ec)
		if err != nil {
			return out, err
		}

		if e.metrics != nil {
			e.metrics.RecordStepExecuted(s.Kind)
			e.metrics.RecordStepDuration(s.Kind, s.Phase, time.Duration(result.DurationMS)*time.Millisecond)
		}

		e.emitter.Emit(emit.Event{
			RunID: g.ID, Msg: "step_dispatched", StepOrder: s.Order, Kind: string(s.Kind), Phase: string(s.Phase),
			StatusCode: result.StatusCode, DurationMS: result.DurationMS,
		})

		if result.Success() {
			if s.Phase == PhaseObserve && result.Matched {
				f := Finding{
					GraphID:      g.ID,
					Observation:  s.Command,
					Evidence:     result.Stdout,
					TargetURL:    ec.TargetURL,
					DiscoveredAt: nowFunc(),
				}
				if err := findings.AppendFinding(ctx, f); err != nil {
					return out, err
				}
				out.Findings = append(out.Findings, f)
			}
			ec.PreviousOutputs = append(ec.PreviousOutputs, result.Stdout)
			continue
		}

		// Failure after the retry budget is exhausted.
		e.emitter.Emit(emit.Event{
			RunID: g.ID, Msg: "step_failed", StepOrder: s.Order, Kind: string(s.Kind),
			StatusCode: result.StatusCode, Category: string(classification),
		})

		if cerr := counters.IncrementCounters(ctx, g.ID, true, succeeded); cerr != nil {
			return out, cerr
		}

		failedStep := s
		out.FailedStep = &failedStep
		out.FailureText = result.Stderr
		out.Category = classification
		return out, nil
	}

	succeeded = true
	out.Success = true
	if err := counters.IncrementCounters(ctx, g.ID, true, true); err != nil {
		return out, err
	}
	return out, nil
}

// runWithOneRetry dispatches s exactly once, and a second time only if the
// first failure classifies TRANSIENT (SPEC_FULL.md §4.8: "retry step i
// once"). It returns the final Result and, on failure, its classification.
func (e *Engine) runWithOneRetry(ctx context.Context, h step.Handler, s Step, ec *ExecutionContext) (step.Result, classify.Category, error) {
	result := h.Execute(ctx, s, ec)
	if result.Success() {
		return result, "", nil
	}
	cat := classify.Classify(result.StatusCode, result.Stderr)
	if cat != classify.Transient {
		return result, cat, nil
	}
	e.emitter.Emit(emit.Event{Msg: "step_retrying", StepOrder: s.Order, Kind: string(s.Kind)})
	retry := h.Execute(ctx, s, ec)
	if retry.Success() {
		return retry, "", nil
	}
	retryCat := classify.Classify(retry.StatusCode, retry.Stderr)
	if retryCat == classify.Transient {
		// The retry budget (one) is spent; a second transient failure is
		// treated as systemic per SPEC_FULL.md §7's error table.
		retryCat = classify.Systemic
	}
	return retry, retryCat, nil
}

// nowFunc is indirected for deterministic tests.
var nowFunc = time.Now
