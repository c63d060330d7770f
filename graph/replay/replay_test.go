package replay

import (
	"context"
	"testing"

	"github.com/kestrelsec/attackgraph/graph"
	"github.com/kestrelsec/attackgraph/graph/emit"
	"github.com/kestrelsec/attackgraph/graph/step"
	"github.com/kestrelsec/attackgraph/graph/step/httpstep"
	"github.com/kestrelsec/attackgraph/graph/step/regexstep"
	"github.com/kestrelsec/attackgraph/graph/store"
)

func idorGraph() graph.ActionGraph {
	return graph.ActionGraph{
		ID:              "g1",
		FingerprintHash: "hash-1",
		Confidence:      0.5,
		Steps: []graph.Step{
			{
				ID: "login", Order: 0, Phase: graph.PhaseCapture, Kind: graph.KindHTTPRequest,
				Command: "/login",
				Parameters: map[string]graph.ParamValue{
					"method":              graph.ParamString("POST"),
					"extract_token_path": graph.ParamString("token"),
				},
			},
			{
				ID: "walk", Order: 1, Phase: graph.PhaseMutate, Kind: graph.KindHTTPRequest,
				Command: "/api/users/2",
				Parameters: map[string]graph.ParamValue{
					"method": graph.ParamString("GET"),
				},
			},
			{
				ID: "observe", Order: 2, Phase: graph.PhaseObserve, Kind: graph.KindRegexMatch,
				Command: `"id":2`,
			},
		},
	}
}

func TestFixture_ReplaysRecordedGraphDeterministically(t *testing.T) {
	fixture := NewFixture([]Interaction{
		{Method: "POST", Path: "/login", StatusCode: 200, Body: `{"token":"recorded-token"}`},
		{Method: "GET", Path: "/api/users/2", StatusCode: 200, Body: `{"id":2,"email":"victim@example.com"}`},
	})

	registry := step.NewRegistry()
	registry.Register(graph.KindHTTPRequest, httpstep.NewWithClient(fixture.Client()))
	registry.Register(graph.KindRegexMatch, regexstep.New())
	engine := graph.New(registry, emit.NewNullEmitter(), graph.Options{})

	fp := graph.NewFingerprint("express+jwt", graph.AuthBearer, "/api/users/:id", nil, "replayed fixture", nil)
	ec := graph.NewExecutionContext("https://replayed.example", fp)
	st := store.NewMemoryStore()

	outcome, err := engine.Execute(context.Background(), idorGraph(), ec, st, st)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected replayed run to succeed, got %+v", outcome)
	}
	if len(outcome.Findings) != 1 {
		t.Fatalf("expected 1 finding from replay, got %d", len(outcome.Findings))
	}
	if !fixture.Exhausted() {
		t.Error("expected every recorded interaction to be consumed")
	}
}

func TestFixture_MissingRecordingFails(t *testing.T) {
	fixture := NewFixture(nil)
	registry := step.NewRegistry()
	registry.Register(graph.KindHTTPRequest, httpstep.NewWithClient(fixture.Client()))
	registry.Register(graph.KindRegexMatch, regexstep.New())
	engine := graph.New(registry, emit.NewNullEmitter(), graph.Options{})

	fp := graph.NewFingerprint("express+jwt", graph.AuthBearer, "/api/users/:id", nil, "replayed fixture", nil)
	ec := graph.NewExecutionContext("https://replayed.example", fp)
	st := store.NewMemoryStore()

	outcome, err := engine.Execute(context.Background(), idorGraph(), ec, st, st)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Success {
		t.Error("expected failure when the fixture has no recorded interaction")
	}
}

func TestFixture_RepeatedRequestsConsumeInOrder(t *testing.T) {
	fixture := NewFixture([]Interaction{
		{Method: "GET", Path: "/api/users/2", StatusCode: 404, Body: ""},
		{Method: "GET", Path: "/api/users/2", StatusCode: 200, Body: `{"id":2}`},
	})

	registry := step.NewRegistry()
	registry.Register(graph.KindHTTPRequest, httpstep.NewWithClient(fixture.Client()))

	s := graph.Step{ID: "s0", Order: 0, Phase: graph.PhaseMutate, Kind: graph.KindHTTPRequest, Command: "/api/users/2"}
	fp := graph.NewFingerprint("x", graph.AuthBearer, "/api/*", nil, "obs", nil)
	ec := graph.NewExecutionContext("https://replayed.example", fp)

	h, err := registry.Dispatch(s)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	first := h.Execute(context.Background(), s, ec)
	if first.StatusCode != 404 {
		t.Errorf("first request StatusCode = %d, want 404", first.StatusCode)
	}
	second := h.Execute(context.Background(), s, ec)
	if second.StatusCode != 200 {
		t.Errorf("second request StatusCode = %d, want 200", second.StatusCode)
	}
}
