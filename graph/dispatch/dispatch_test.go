package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelsec/attackgraph/graph"
	"github.com/kestrelsec/attackgraph/graph/classify"
	"github.com/kestrelsec/attackgraph/graph/compile"
	"github.com/kestrelsec/attackgraph/graph/store"
)

type recordingRecon struct {
	calls int
	plan  compile.AttackPlan
}

func (r *recordingRecon) ProducePlan(_ context.Context, _ string) (compile.AttackPlan, error) {
	r.calls++
	return r.plan, nil
}

type recordingCritic struct {
	calls int
}

func (c *recordingCritic) RefinePlan(_ context.Context, plan compile.AttackPlan) (compile.RefinedPlan, error) {
	c.calls++
	return compile.RefinedPlan{AttackPlan: plan, Accepted: true}, nil
}

type neverExceeded struct{}

func (neverExceeded) Exceeded() bool { return false }

type alwaysExceeded struct{}

func (alwaysExceeded) Exceeded() bool { return true }

type scriptedEngine struct {
	outcomes []graph.Outcome
	calls    int
}

func (e *scriptedEngine) Execute(_ context.Context, _ graph.ActionGraph, _ *graph.ExecutionContext, _ graph.FindingSink, _ graph.CounterSink) (graph.Outcome, error) {
	i := e.calls
	e.calls++
	if i >= len(e.outcomes) {
		return graph.Outcome{}, errors.New("scriptedEngine: no more outcomes")
	}
	return e.outcomes[i], nil
}

type noopMetrics struct {
	runs    []bool
	repairs int
}

func (m *noopMetrics) RecordRun(_ string, success bool) { m.runs = append(m.runs, success) }
func (m *noopMetrics) IncrementRepairs()                { m.repairs++ }

func testGenerator(target, observation string, _ compile.TargetProfile) []graph.Step {
	return []graph.Step{
		{ID: "s0", Order: 0, Phase: graph.PhaseCapture, Kind: graph.KindHTTPRequest, Command: target},
		{ID: "s1", Order: 1, Phase: graph.PhaseObserve, Kind: graph.KindRegexMatch, Command: observation},
	}
}

func newDispatcher(t *testing.T, engine Engine, recon compile.ReconAgent, critic compile.Critic, budget compile.BudgetChecker, metrics Metrics) *Dispatcher {
	t.Helper()
	registry := compile.NewStepGeneratorRegistry()
	registry.Register("idor_walk", testGenerator)
	return &Dispatcher{
		Store:    store.NewMemoryStore(),
		Engine:   engine,
		Recon:    recon,
		Critic:   critic,
		Registry: registry,
		Budget:   budget,
		Metrics:  metrics,
	}
}

func testFP() graph.Fingerprint {
	return graph.NewFingerprint("express", graph.AuthBearer, "/api/*", nil, "obs", nil)
}

func TestDispatcher_ColdStartCompilesAndPersists(t *testing.T) {
	recon := &recordingRecon{plan: compile.AttackPlan{Opportunities: []compile.Opportunity{
		{RecommendedExploit: "idor_walk", ExploitTarget: "/api/2", Observation: "leak"},
	}}}
	critic := &recordingCritic{}
	engine := &scriptedEngine{outcomes: []graph.Outcome{{Success: true, StepsRun: 2}}}
	metrics := &noopMetrics{}
	d := newDispatcher(t, engine, recon, critic, neverExceeded{}, metrics)

	result, err := d.Run(context.Background(), testFP(), compile.TargetProfile{}, "https://target", "recon ctx")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Path != PathColdStart || !result.Compiled || result.Repaired {
		t.Errorf("unexpected result: %+v", result)
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
	if recon.calls == 0 || critic.calls == 0 {
		t.Error("expected recon/critic to be invoked on cold start")
	}

	// A second run against the same fingerprint must warm-start.
	result2, err := d.Run(context.Background(), testFP(), compile.TargetProfile{}, "https://target", "recon ctx")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result2.Path != PathWarmStart || result2.Compiled {
		t.Errorf("expected warm start on repeat fingerprint, got %+v", result2)
	}
}

func TestDispatcher_WarmStartIssuesZeroReconCalls(t *testing.T) {
	// invariant 7: warm start issues zero calls to Recon Agent and Critic.
	recon := &recordingRecon{plan: compile.AttackPlan{Opportunities: []compile.Opportunity{
		{RecommendedExploit: "idor_walk", ExploitTarget: "/api/2", Observation: "leak"},
	}}}
	critic := &recordingCritic{}
	engine := &scriptedEngine{outcomes: []graph.Outcome{{Success: true}, {Success: true}}}
	d := newDispatcher(t, engine, recon, critic, neverExceeded{}, &noopMetrics{})

	if _, err := d.Run(context.Background(), testFP(), compile.TargetProfile{}, "https://target", "ctx"); err != nil {
		t.Fatalf("cold start Run: %v", err)
	}
	reconCallsAfterCold := recon.calls
	criticCallsAfterCold := critic.calls

	if _, err := d.Run(context.Background(), testFP(), compile.TargetProfile{}, "https://target", "ctx"); err != nil {
		t.Fatalf("warm start Run: %v", err)
	}
	if recon.calls != reconCallsAfterCold || critic.calls != criticCallsAfterCold {
		t.Errorf("warm start invoked recon/critic: recon %d->%d, critic %d->%d", reconCallsAfterCold, recon.calls, criticCallsAfterCold, critic.calls)
	}
}

func TestDispatcher_AuthFailureNoRepair(t *testing.T) {
	recon := &recordingRecon{plan: compile.AttackPlan{Opportunities: []compile.Opportunity{
		{RecommendedExploit: "idor_walk", ExploitTarget: "/api/2", Observation: "leak"},
	}}}
	engine := &scriptedEngine{outcomes: []graph.Outcome{{Success: false, Category: classify.Auth, FailureText: "401"}}}
	d := newDispatcher(t, engine, recon, &recordingCritic{}, neverExceeded{}, &noopMetrics{})

	result, err := d.Run(context.Background(), testFP(), compile.TargetProfile{}, "https://target", "ctx")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success || result.Repaired {
		t.Errorf("expected terminal auth failure with no repair, got %+v", result)
	}
	if engine.calls != 1 {
		t.Errorf("expected exactly one Execute call on auth failure, got %d", engine.calls)
	}
}

func TestDispatcher_SystemicFailureTriggersRepairAndSucceeds(t *testing.T) {
	recon := &recordingRecon{plan: compile.AttackPlan{Opportunities: []compile.Opportunity{
		{RecommendedExploit: "idor_walk", ExploitTarget: "/api/2", Observation: "leak"},
	}}}
	failedStep := graph.Step{ID: "s0", Order: 0, Phase: graph.PhaseMutate, Kind: graph.KindHTTPRequest}
	engine := &scriptedEngine{outcomes: []graph.Outcome{
		{Success: false, Category: classify.Systemic, FailureText: "404", FailedStep: &failedStep},
		{Success: true, StepsRun: 2},
	}}
	metrics := &noopMetrics{}
	d := newDispatcher(t, engine, recon, &recordingCritic{}, neverExceeded{}, metrics)

	result, err := d.Run(context.Background(), testFP(), compile.TargetProfile{}, "https://target", "ctx")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Repaired || !result.Success {
		t.Errorf("expected repaired+success, got %+v", result)
	}
	if metrics.repairs != 1 {
		t.Errorf("expected one repair recorded, got %d", metrics.repairs)
	}
	if engine.calls != 2 {
		t.Errorf("expected exactly 2 Execute calls (original + repaired), got %d", engine.calls)
	}
}

func TestDispatcher_SystemicFailurePersistsAfterRepair(t *testing.T) {
	recon := &recordingRecon{plan: compile.AttackPlan{Opportunities: []compile.Opportunity{
		{RecommendedExploit: "idor_walk", ExploitTarget: "/api/2", Observation: "leak"},
	}}}
	failedStep := graph.Step{ID: "s0", Order: 0}
	engine := &scriptedEngine{outcomes: []graph.Outcome{
		{Success: false, Category: classify.Systemic, FailureText: "404", FailedStep: &failedStep},
		{Success: false, Category: classify.Systemic, FailureText: "404 again", FailedStep: &failedStep},
	}}
	d := newDispatcher(t, engine, recon, &recordingCritic{}, neverExceeded{}, &noopMetrics{})

	result, err := d.Run(context.Background(), testFP(), compile.TargetProfile{}, "https://target", "ctx")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Repaired || result.Success {
		t.Errorf("expected repaired but still failed, got %+v", result)
	}
}

func TestDispatcher_BudgetExceededColdStart(t *testing.T) {
	recon := &recordingRecon{}
	engine := &scriptedEngine{}
	d := newDispatcher(t, engine, recon, &recordingCritic{}, alwaysExceeded{}, &noopMetrics{})

	result, err := d.Run(context.Background(), testFP(), compile.TargetProfile{}, "https://target", "ctx")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Error("expected failure on budget exhaustion")
	}
	if engine.calls != 0 {
		t.Error("expected no execution attempt when compilation budget is exhausted")
	}
}

func TestDispatcher_MalformedPlanColdStart(t *testing.T) {
	recon := &recordingRecon{plan: compile.AttackPlan{}} // no opportunities
	engine := &scriptedEngine{}
	d := newDispatcher(t, engine, recon, &recordingCritic{}, neverExceeded{}, &noopMetrics{})

	result, err := d.Run(context.Background(), testFP(), compile.TargetProfile{}, "https://target", "ctx")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success || !result.Compiled {
		t.Errorf("expected a failed, attempted compile, got %+v", result)
	}
	if engine.calls != 0 {
		t.Error("expected no execution attempt when the plan is malformed")
	}
}
