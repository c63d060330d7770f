// Package compile implements the Compilation Coordinator (C9): the
// recon/critic round loop that turns a fingerprint into a materialized
// ActionGraph via a pluggable step-generator registry.
package compile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kestrelsec/attackgraph/graph"
)

// newGraphIDFunc and nowFunc are indirected for deterministic tests.
var (
	newGraphIDFunc = func() string { return uuid.NewString() }
	nowFunc        = time.Now
)

// DefaultMaxRounds is the default upper bound on recon/critic rounds
// (spec.md §4.9: "for up to K rounds (default 3)").
const DefaultMaxRounds = 3

// Credential is one pre-provisioned login pair a step generator can use to
// build a login step.
type Credential struct {
	Username string
	Password string
}

// TargetProfile describes a target's authentication mechanism, grounded
// on spec.md §6's "Target Profile (consumed)" record.
type TargetProfile struct {
	AuthMechanism     string // "bearer_token", "cookie", or "cookie_with_csrf"
	LoginEndpoint     string
	LoginPayloadShape map[string]string
	CookieName        string
	Credentials       [2]Credential
}

// Opportunity is one candidate exploit the Recon Agent surfaces.
type Opportunity struct {
	RecommendedExploit string // exploit tag, e.g. "idor_walk"
	ExploitTarget      string // concrete URL path, never a template
	Observation        string
	OpportunityText    string
}

// AttackPlan is an ordered list of opportunities produced by the Recon
// Agent and refined by the Critic.
type AttackPlan struct {
	Opportunities []Opportunity
}

// RefinedPlan is a Critic's response: a refined plan plus its acceptance
// signal.
type RefinedPlan struct {
	AttackPlan
	Accepted bool
}

// ReconAgent produces an AttackPlan from free-text recon context.
// recon.LLMReconAgent wraps a graph/model.ChatModel; it records no LLM cost
// against a graph.CostTracker. The coordinator never touches the model
// directly (spec.md §4.9/§9's "compilation cost is accounted outside the core").
type ReconAgent interface {
	ProducePlan(ctx context.Context, reconContext string) (AttackPlan, error)
}

// Critic refines an AttackPlan and signals whether it accepts it.
type Critic interface {
	RefinePlan(ctx context.Context, plan AttackPlan) (RefinedPlan, error)
}

// StepGeneratorFunc materializes Steps for one exploit tag. Pure: no I/O,
// just strings and a TargetProfile in, Steps out (spec.md §4.9: "Each
// generator is pure").
type StepGeneratorFunc func(exploitTarget, observation string, profile TargetProfile) []graph.Step

// StepGeneratorRegistry is a compile-time-populated map from exploit tag
// to StepGeneratorFunc (spec.md §9: "registries as value maps, not plugin
// systems").
type StepGeneratorRegistry struct {
	generators map[string]StepGeneratorFunc
}

// NewStepGeneratorRegistry returns an empty registry.
func NewStepGeneratorRegistry() *StepGeneratorRegistry {
	return &StepGeneratorRegistry{generators: make(map[string]StepGeneratorFunc)}
}

// Register adds or replaces the generator for tag.
func (r *StepGeneratorRegistry) Register(tag string, fn StepGeneratorFunc) {
	r.generators[tag] = fn
}

// Get returns the generator registered for tag, if any.
func (r *StepGeneratorRegistry) Get(tag string) (StepGeneratorFunc, bool) {
	fn, ok := r.generators[tag]
	return fn, ok
}

// BudgetChecker reports whether a cumulative compilation token budget has
// been crossed. Satisfied by graph.BudgetTracker.
type BudgetChecker interface {
	Exceeded() bool
}

// Compile runs the recon/critic round loop (spec.md §4.9) and materializes
// the accepted plan's first viable opportunity into an ActionGraph tied to
// fingerprintHash. Returns graph.ErrBudgetExceeded if budget crosses its
// ceiling before a graph is produced, or graph.ErrMalformedPlan if no
// opportunity in the final plan has both a concrete exploit_target and a
// registered generator that yields a non-empty step list.
func Compile(ctx context.Context, reconContext string, profile TargetProfile, recon ReconAgent, critic Critic, registry *StepGeneratorRegistry, budget BudgetChecker, fingerprintHash string, maxRounds int) (graph.ActionGraph, error) {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	plan := AttackPlan{}
	for round := 0; round < maxRounds; round++ {
		if budget != nil && budget.Exceeded() {
			return graph.ActionGraph{}, graph.ErrBudgetExceeded
		}

		produced, err := recon.ProducePlan(ctx, reconContext)
		if err != nil {
			return graph.ActionGraph{}, fmt.Errorf("compile: recon agent: %w", err)
		}
		plan = produced

		if budget != nil && budget.Exceeded() {
			return graph.ActionGraph{}, graph.ErrBudgetExceeded
		}

		refined, err := critic.RefinePlan(ctx, plan)
		if err != nil {
			return graph.ActionGraph{}, fmt.Errorf("compile: critic: %w", err)
		}
		plan = refined.AttackPlan
		if refined.Accepted {
			break
		}
	}

	steps, vulnType, description, opportunity, err := materialize(plan, profile, registry)
	if err != nil {
		return graph.ActionGraph{}, err
	}

	now := nowFunc()
	return graph.ActionGraph{
		ID:                newGraphIDFunc(),
		FingerprintHash:   fingerprintHash,
		VulnerabilityType: vulnType,
		Description:       description,
		Confidence:        opportunityConfidence(opportunity),
		Steps:             steps,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// materialize walks plan.Opportunities in order and returns the Steps from
// the first one whose recommended_exploit has a registered generator that
// yields a non-empty list (spec.md §4.9).
func materialize(plan AttackPlan, profile TargetProfile, registry *StepGeneratorRegistry) (steps []graph.Step, vulnType, description string, opp Opportunity, err error) {
	for _, o := range plan.Opportunities {
		if !isConcreteTarget(o.ExploitTarget) {
			continue
		}
		gen, ok := registry.Get(o.RecommendedExploit)
		if !ok {
			continue
		}
		generated := gen(o.ExploitTarget, o.Observation, profile)
		if len(generated) == 0 {
			continue
		}
		return generated, o.RecommendedExploit, o.OpportunityText, o, nil
	}
	return nil, "", "", Opportunity{}, fmt.Errorf("compile: %w", graph.ErrMalformedPlan)
}

// isConcreteTarget rejects exploit_target values that are templates
// (contain `{`) or absolute URLs, per spec.md §6's "core validates that
// exploit_target is a concrete path".
func isConcreteTarget(target string) bool {
	if target == "" {
		return false
	}
	if strings.Contains(target, "{") || strings.Contains(target, "}") {
		return false
	}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return false
	}
	return true
}

// opportunityConfidence returns a fixed 0.5 for every compiled graph,
// fresh or repaired; absent a richer confidence model from the agents, a
// fixed value keeps ActionGraph.Validate's [0,1] invariant satisfied.
func opportunityConfidence(_ Opportunity) float64 {
	return 0.5
}
