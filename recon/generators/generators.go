// Package generators supplies the production StepGeneratorFunc library
// (spec.md §4.9/§10): one pure function per exploit tag, each turning a
// concrete exploit_target and observation into a linear CAMRO step chain.
package generators

import (
	"fmt"

	"github.com/kestrelsec/attackgraph/graph"
	"github.com/kestrelsec/attackgraph/graph/compile"
)

// Register adds every generator in this package to registry under its
// exploit tag.
func Register(registry *compile.StepGeneratorRegistry) {
	registry.Register("idor_walk", IDORWalk)
	registry.Register("token_swap", TokenSwap)
	registry.Register("auth_strip", AuthStrip)
	registry.Register("role_tamper", RoleTamper)
	registry.Register("namespace_probe", NamespaceProbe)
}

func loginStep(order int, profile compile.TargetProfile) graph.Step {
	return graph.Step{
		ID:      fmt.Sprintf("login-%d", order),
		Order:   order,
		Phase:   graph.PhaseCapture,
		Kind:    graph.KindHTTPRequest,
		Command: profile.LoginEndpoint,
		Parameters: map[string]graph.ParamValue{
			"method":              graph.ParamString("POST"),
			"extract_token_path": graph.ParamString("token"),
		},
	}
}

func observeStep(order int, observation string) graph.Step {
	return graph.Step{
		ID:      fmt.Sprintf("observe-%d", order),
		Order:   order,
		Phase:   graph.PhaseObserve,
		Kind:    graph.KindRegexMatch,
		Command: observation,
		Parameters: map[string]graph.ParamValue{
			"source": graph.ParamString("last"),
		},
	}
}

// IDORWalk walks a second resource ID with the first account's session,
// the horizontal-privilege-escalation pattern from spec.md's S1 scenario.
func IDORWalk(target, observation string, profile compile.TargetProfile) []graph.Step {
	return []graph.Step{
		loginStep(0, profile),
		{
			ID: "walk-1", Order: 1, Phase: graph.PhaseMutate, Kind: graph.KindHTTPRequest,
			Command: target,
			Parameters: map[string]graph.ParamValue{
				"method": graph.ParamString("GET"),
			},
		},
		observeStep(2, observation),
	}
}

// TokenSwap logs in once through the profile's login endpoint, then
// replays that session's token against target (a resource belonging to
// another account), checking for a token-scoping vulnerability independent
// of resource IDs. Only one login step is generated.
func TokenSwap(target, observation string, profile compile.TargetProfile) []graph.Step {
	return []graph.Step{
		loginStep(0, profile),
		{
			ID: "replay-1", Order: 1, Phase: graph.PhaseReplay, Kind: graph.KindHTTPRequest,
			Command: target,
			Parameters: map[string]graph.ParamValue{
				"method": graph.ParamString("GET"),
			},
		},
		observeStep(2, observation),
	}
}

// AuthStrip requests target with no Authorization header at all, testing
// whether an endpoint silently accepts unauthenticated requests.
func AuthStrip(target, observation string, profile compile.TargetProfile) []graph.Step {
	return []graph.Step{
		{
			ID: "unauth-0", Order: 0, Phase: graph.PhaseMutate, Kind: graph.KindHTTPRequest,
			Command: target,
			Parameters: map[string]graph.ParamValue{
				"method":       graph.ParamString("GET"),
				"skip_cookies": graph.ParamBool(true),
			},
		},
		observeStep(1, observation),
	}
}

// RoleTamper logs in as a low-privilege credential, then mutates the
// request body's role/permission field before replaying it against
// target, testing for missing server-side authorization checks.
func RoleTamper(target, observation string, profile compile.TargetProfile) []graph.Step {
	return []graph.Step{
		loginStep(0, profile),
		{
			ID: "tamper-1", Order: 1, Phase: graph.PhaseMutate, Kind: graph.KindHTTPRequest,
			Command: target,
			Parameters: map[string]graph.ParamValue{
				"method": graph.ParamString("POST"),
				"json":   graph.ParamBool(true),
				"body": graph.ParamMap(map[string]graph.ParamValue{
					"role": graph.ParamString("admin"),
				}),
			},
		},
		observeStep(2, observation),
	}
}

// NamespaceProbe walks a small set of sibling namespace/tenant identifiers
// against target's pattern, testing for missing tenant isolation. Only
// the first sibling is probed per graph -- the repair loop's corrected
// exploit_target supplies the next one if this round doesn't land.
func NamespaceProbe(target, observation string, profile compile.TargetProfile) []graph.Step {
	return []graph.Step{
		loginStep(0, profile),
		{
			ID: "probe-1", Order: 1, Phase: graph.PhaseMutate, Kind: graph.KindHTTPRequest,
			Command: target,
			Parameters: map[string]graph.ParamValue{
				"method": graph.ParamString("GET"),
			},
		},
		observeStep(2, observation),
	}
}
