// Package repair implements the Repair Coordinator (C10): building the
// enrichment context from a SYSTEMIC failure and re-entering compilation
// with it, persisting the result with REPAIRED_TO provenance.
package repair

import (
	"context"
	"fmt"

	"github.com/kestrelsec/attackgraph/graph"
	"github.com/kestrelsec/attackgraph/graph/compile"
)

// GraphRepairer persists a repaired graph and its provenance edges.
// Satisfied by graph/store.Store.
type GraphRepairer interface {
	RepairGraph(ctx context.Context, oldGraphID string, newGraph graph.ActionGraph) error
}

// BuildEnrichmentContext summarizes a SYSTEMIC failure into the textual
// enrichment the spec requires be prepended to the recon context on repair
// (spec.md §4.10): "step N (phase, kind) failed with ... Prior outputs:
// ...".
func BuildEnrichmentContext(failedStep graph.Step, errorText string, priorOutputs []string) string {
	return fmt.Sprintf(
		"step %d (%s, %s) failed with %q. Prior outputs: %v",
		failedStep.Order, failedStep.Phase, failedStep.Kind, errorText, priorOutputs,
	)
}

// Repair re-enters compilation with failedStep's enrichment context
// prepended to reconContext, and persists the resulting graph as a new
// entity superseding oldGraph under the same fingerprint, with REPAIRED_TO
// edges from each of oldGraph's steps to its replacement at the same
// Order (spec.md §4.10). Repair is attempted at most once per run; the
// caller (the Run Dispatcher) is responsible for enforcing that bound.
func Repair(
	ctx context.Context,
	reconContext string,
	oldGraph graph.ActionGraph,
	failedStep graph.Step,
	errorText string,
	priorOutputs []string,
	profile compile.TargetProfile,
	recon compile.ReconAgent,
	critic compile.Critic,
	registry *compile.StepGeneratorRegistry,
	budget compile.BudgetChecker,
	persister GraphRepairer,
) (graph.ActionGraph, error) {
	enrichment := BuildEnrichmentContext(failedStep, errorText, priorOutputs)
	enrichedContext := enrichment + "\n\n" + reconContext

	newGraph, err := compile.Compile(ctx, enrichedContext, profile, recon, critic, registry, budget, oldGraph.FingerprintHash, 0)
	if err != nil {
		return graph.ActionGraph{}, fmt.Errorf("repair: compile with enrichment: %w", err)
	}

	if err := persister.RepairGraph(ctx, oldGraph.ID, newGraph); err != nil {
		return graph.ActionGraph{}, fmt.Errorf("repair: persist repaired graph: %w", err)
	}

	return newGraph, nil
}
