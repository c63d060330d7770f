// Package dispatch implements the Run Dispatcher (C11): the top-level
// state machine that chooses cold-start, warm-start, or repair and drives
// one orchestrator run to a terminal OrchestratorResult.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kestrelsec/attackgraph/graph"
	"github.com/kestrelsec/attackgraph/graph/classify"
	"github.com/kestrelsec/attackgraph/graph/compile"
	"github.com/kestrelsec/attackgraph/graph/repair"
	"github.com/kestrelsec/attackgraph/graph/store"
)

// Path is the dispatch path a run took.
type Path string

const (
	PathColdStart Path = "cold_start"
	PathWarmStart Path = "warm_start"
)

// OrchestratorResult is the terminal outcome of one Run Dispatcher
// invocation (spec.md §4.11).
type OrchestratorResult struct {
	Path      Path
	Compiled  bool
	Repaired  bool
	Success   bool
	StepCount int
	Findings  []string
	Reason    string // set on failure; distinguishes budget/auth/systemic/malformed
}

// Metrics is the narrow subset of graph.PrometheusMetrics the dispatcher
// drives. Accepting an interface keeps this package testable without a
// real registry.
type Metrics interface {
	RecordRun(path string, success bool)
	IncrementRepairs()
}

// Engine is the subset of graph.Engine the dispatcher drives.
type Engine interface {
	Execute(ctx context.Context, g graph.ActionGraph, ec *graph.ExecutionContext, findings graph.FindingSink, counters graph.CounterSink) (graph.Outcome, error)
}

// Dispatcher wires the Graph Store, Execution Engine, and Compilation
// Coordinator into the state machine diagrammed in spec.md §4.11.
type Dispatcher struct {
	Store    store.Store
	Engine   Engine
	Recon    compile.ReconAgent
	Critic   compile.Critic
	Registry *compile.StepGeneratorRegistry
	Budget   compile.BudgetChecker
	Metrics  Metrics
	// MaxCompileRounds overrides compile.DefaultMaxRounds when non-zero.
	MaxCompileRounds int
}

// Run drives one orchestrator invocation for fp against targetURL, using
// reconContext as the recon agent's initial context on a cold start.
func (d *Dispatcher) Run(ctx context.Context, fp graph.Fingerprint, profile compile.TargetProfile, targetURL, reconContext string) (OrchestratorResult, error) {
	if err := d.Store.UpsertFingerprint(ctx, fp); err != nil {
		return OrchestratorResult{}, fmt.Errorf("dispatch: upsert fingerprint: %w", err)
	}

	g, path, compiled, err := d.resolveGraph(ctx, fp, profile, reconContext)
	if err != nil {
		result := OrchestratorResult{Path: path, Compiled: compiled, Success: false, Reason: err.Error()}
		if d.Metrics != nil {
			d.Metrics.RecordRun(string(path), false)
		}
		if errors.Is(err, graph.ErrBudgetExceeded) {
			return result, nil
		}
		if errors.Is(err, graph.ErrMalformedPlan) {
			return result, nil
		}
		return result, err
	}

	ec := graph.NewExecutionContext(targetURL, fp)
	outcome, err := d.Engine.Execute(ctx, g, ec, d.Store, d.Store)
	if err != nil {
		return OrchestratorResult{}, fmt.Errorf("dispatch: execute: %w", err)
	}

	result := OrchestratorResult{Path: path, Compiled: compiled, StepCount: outcome.StepsRun, Findings: findingIDs(outcome.Findings)}

	switch {
	case outcome.Success:
		result.Success = true
	case outcome.Category == classify.Auth:
		result.Success = false
		result.Reason = "auth failure, no repair attempted"
	case outcome.Category == classify.Systemic:
		repaired, repairedGraph, repairedOutcome, rerr := d.attemptRepair(ctx, g, fp, profile, targetURL, reconContext, outcome)
		if rerr != nil {
			result.Success = false
			result.Reason = rerr.Error()
			break
		}
		result.Repaired = repaired
		if repaired {
			g = repairedGraph
			result.StepCount = repairedOutcome.StepsRun
			result.Findings = append(result.Findings, findingIDs(repairedOutcome.Findings)...)
			result.Success = repairedOutcome.Success
			if !repairedOutcome.Success {
				result.Reason = "systemic failure persisted after repair"
			}
		} else {
			result.Success = false
			result.Reason = "systemic failure, repair unavailable"
		}
	default:
		result.Success = false
		result.Reason = outcome.FailureText
	}

	if d.Metrics != nil {
		d.Metrics.RecordRun(string(path), result.Success)
		if result.Repaired {
			d.Metrics.IncrementRepairs()
		}
	}
	return result, nil
}

// resolveGraph implements the fingerprint_known?/graph_in_cache? decision
// in spec.md §4.11: a cache hit is a warm start, anything else requires
// compiling a new graph (cold start).
func (d *Dispatcher) resolveGraph(ctx context.Context, fp graph.Fingerprint, profile compile.TargetProfile, reconContext string) (graph.ActionGraph, Path, bool, error) {
	if cached, err := d.Store.MostRecentGraph(ctx, fp.Hash); err == nil {
		return cached, PathWarmStart, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return graph.ActionGraph{}, PathColdStart, false, fmt.Errorf("dispatch: lookup cached graph: %w", err)
	}

	g, err := compile.Compile(ctx, reconContext, profile, d.Recon, d.Critic, d.Registry, d.Budget, fp.Hash, d.MaxCompileRounds)
	if err != nil {
		return graph.ActionGraph{}, PathColdStart, false, err
	}
	if err := d.Store.SaveGraph(ctx, g); err != nil {
		return graph.ActionGraph{}, PathColdStart, true, fmt.Errorf("dispatch: save graph: %w", err)
	}
	return g, PathColdStart, true, nil
}

// attemptRepair re-enters compilation with the failure's enrichment
// context and re-executes the repaired graph from step 0, per spec.md
// §4.10. Repair is attempted at most once per run: if the failed graph was
// itself produced by a repair this run, the caller must not call this a
// second time -- Run only ever calls it once per invocation.
func (d *Dispatcher) attemptRepair(ctx context.Context, failedGraph graph.ActionGraph, fp graph.Fingerprint, profile compile.TargetProfile, targetURL, reconContext string, outcome graph.Outcome) (bool, graph.ActionGraph, graph.Outcome, error) {
	if outcome.FailedStep == nil {
		return false, graph.ActionGraph{}, graph.Outcome{}, nil
	}

	newGraph, err := repair.Repair(
		ctx, reconContext, failedGraph, *outcome.FailedStep, outcome.FailureText, nil,
		profile, d.Recon, d.Critic, d.Registry, d.Budget, d.Store,
	)
	if err != nil {
		return false, graph.ActionGraph{}, graph.Outcome{}, fmt.Errorf("dispatch: repair: %w", err)
	}

	ec := graph.NewExecutionContext(targetURL, fp)
	repairedOutcome, err := d.Engine.Execute(ctx, newGraph, ec, d.Store, d.Store)
	if err != nil {
		return true, newGraph, graph.Outcome{}, fmt.Errorf("dispatch: execute repaired graph: %w", err)
	}
	return true, newGraph, repairedOutcome, nil
}

func findingIDs(findings []graph.Finding) []string {
	if len(findings) == 0 {
		return nil
	}
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.ID
	}
	return out
}
