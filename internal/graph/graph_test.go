package graph

import (
	"errors"
	"strings"
	"testing"

	"github.com/wudi/contractcheck/contract"
)

func snap(service contract.ServiceID) *contract.Snapshot {
	list := contract.EndpointSignature{Method: contract.MethodGet, Path: "/scenarios"}
	return &contract.Snapshot{
		Service:   service,
		Endpoints: map[contract.EndpointKey]contract.EndpointSignature{list.Key(): list},
		Schemas: map[string]contract.ObjectSchema{
			"ScenarioDto": {QualifiedName: "ScenarioDto"},
		},
	}
}

func edge(consumer, provider contract.ServiceID) contract.ConsumerEdge {
	return contract.ConsumerEdge{
		Consumer:      consumer,
		Provider:      provider,
		UsedEndpoints: map[contract.EndpointKey]bool{{Method: contract.MethodGet, Path: "/scenarios"}: true},
		UsedSchemas:   map[string]bool{"ScenarioDto": true},
	}
}

func TestBuildDuplicateService(t *testing.T) {
	_, _, err := Build([]*contract.Snapshot{snap("a"), snap("a")}, nil)
	var dup *DuplicateServiceError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateServiceError, got %v", err)
	}
	if dup.Service != "a" {
		t.Errorf("error names service %q, want a", dup.Service)
	}
}

func TestBuildSelfEdgeDropped(t *testing.T) {
	g, warnings, err := Build([]*contract.Snapshot{snap("a")}, []contract.ConsumerEdge{edge("a", "a")})
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Edges) != 0 {
		t.Errorf("self-edge should be dropped, got %+v", g.Edges)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "self-edge") {
		t.Errorf("expected self-edge warning, got %v", warnings)
	}
}

func TestBuildMergesParallelEdges(t *testing.T) {
	e1 := edge("b", "a")
	e2 := contract.ConsumerEdge{
		Consumer:    "b",
		Provider:    "a",
		UsedSchemas: map[string]bool{"OtherDto": true},
		UsedMembers: map[string]map[string]bool{"ScenarioDto": {"name": true}},
	}

	g, _, err := Build([]*contract.Snapshot{snap("a"), snap("b")}, []contract.ConsumerEdge{e1, e2})
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Edges) != 1 {
		t.Fatalf("expected merged single edge, got %d", len(g.Edges))
	}
	merged := g.Edges[0]
	if !merged.UsedSchemas["ScenarioDto"] || !merged.UsedSchemas["OtherDto"] {
		t.Errorf("merged schemas missing: %+v", merged.UsedSchemas)
	}
	if members, known := merged.MemberUsage("ScenarioDto"); !known || !members["name"] {
		t.Errorf("merged member usage missing: %+v", merged.UsedMembers)
	}
}

func TestBuildMergeDoesNotMutateInput(t *testing.T) {
	e1 := edge("b", "a")
	e2 := edge("b", "a")
	e2.UsedSchemas = map[string]bool{"OtherDto": true}

	if _, _, err := Build([]*contract.Snapshot{snap("a"), snap("b")}, []contract.ConsumerEdge{e1, e2}); err != nil {
		t.Fatal(err)
	}
	if e1.UsedSchemas["OtherDto"] {
		t.Error("input edge mutated by merge")
	}
}

func TestBuildDanglingEdge(t *testing.T) {
	g, warnings, err := Build([]*contract.Snapshot{snap("b")}, []contract.ConsumerEdge{edge("b", "missing")})
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Edges) != 1 {
		t.Errorf("dangling edge should still be recorded, got %d edges", len(g.Edges))
	}
	var found bool
	for _, w := range warnings {
		if strings.Contains(w, "dangling edge") && strings.Contains(w, "missing") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected dangling edge warning, got %v", warnings)
	}
}

func TestBuildStaleReference(t *testing.T) {
	e := edge("b", "a")
	e.UsedSchemas["GoneDto"] = true

	_, warnings, err := Build([]*contract.Snapshot{snap("a"), snap("b")}, []contract.ConsumerEdge{e})
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, w := range warnings {
		if strings.Contains(w, "stale reference") && strings.Contains(w, "GoneDto") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected stale reference warning, got %v", warnings)
	}
}

func TestConsumersOf(t *testing.T) {
	g, _, err := Build(
		[]*contract.Snapshot{snap("a"), snap("b"), snap("c")},
		[]contract.ConsumerEdge{edge("b", "a"), edge("c", "a"), edge("c", "b")},
	)
	if err != nil {
		t.Fatal(err)
	}
	consumers := g.ConsumersOf("a")
	if len(consumers) != 2 {
		t.Fatalf("expected 2 consumers of a, got %d", len(consumers))
	}
	// Edges are sorted by (consumer, provider).
	if consumers[0].Consumer != "b" || consumers[1].Consumer != "c" {
		t.Errorf("unexpected consumer order: %+v", consumers)
	}
}
