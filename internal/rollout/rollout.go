// Package rollout orders services affected by breaking contract changes
// into a safe phased deployment sequence.
//
// Only the breaking-relevant subgraph must be acyclic. The full consumer
// graph may contain cycles (bidirectional service calls are common); they
// are irrelevant to phasing unless both directions carry a breaking change.
package rollout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wudi/contractcheck/contract"
	"github.com/wudi/contractcheck/internal/graph"
)

// CyclicDependencyError reports that the breaking-change subgraph is not a
// DAG. Services lists the members of the strongly connected remainder.
type CyclicDependencyError struct {
	Services []contract.ServiceID
}

func (e *CyclicDependencyError) Error() string {
	names := make([]string, len(e.Services))
	for i, s := range e.Services {
		names[i] = string(s)
	}
	return fmt.Sprintf("breaking-change dependency cycle among services: %s", strings.Join(names, ", "))
}

// Plan is the phased deployment order. Services within a phase may deploy
// in parallel; phase i must complete before phase i+1 begins.
type Plan struct {
	Phases [][]contract.ServiceID `json:"phases"`
}

// Compute builds the rollout plan. breakingSubjects maps each provider to
// the subject ids (endpoint keys or schema names) with breaking changes.
//
// An edge is relevant only if the consumer's usage set touches at least one
// of the provider's breaking subjects. Providers of relevant breaking
// changes deploy (with backward-compatible shims) before their affected
// consumers; services consuming only non-breaking changes are omitted and
// may deploy at any time. Phases are ordered by dependency depth and
// sorted lexicographically inside each phase for determinism.
func Compute(g *graph.Graph, breakingSubjects map[contract.ServiceID]map[string]bool) (*Plan, error) {
	// deps[consumer] = providers this consumer must wait for.
	deps := make(map[contract.ServiceID]map[contract.ServiceID]bool)
	nodes := make(map[contract.ServiceID]bool)

	for _, edge := range g.Edges {
		subjects := breakingSubjects[edge.Provider]
		if len(subjects) == 0 {
			continue
		}
		if !edgeAffected(edge, subjects) {
			continue
		}
		nodes[edge.Provider] = true
		nodes[edge.Consumer] = true
		if deps[edge.Consumer] == nil {
			deps[edge.Consumer] = make(map[contract.ServiceID]bool)
		}
		deps[edge.Consumer][edge.Provider] = true
	}

	// Providers with breaking changes but no affected consumers still
	// appear in the plan: the change must ship regardless.
	for provider, subjects := range breakingSubjects {
		if len(subjects) > 0 && g.HasService(provider) {
			nodes[provider] = true
		}
	}

	plan := &Plan{}
	assigned := make(map[contract.ServiceID]bool)

	for len(assigned) < len(nodes) {
		var phase []contract.ServiceID
		for node := range nodes {
			if assigned[node] {
				continue
			}
			ready := true
			for dep := range deps[node] {
				if nodes[dep] && !assigned[dep] {
					ready = false
					break
				}
			}
			if ready {
				phase = append(phase, node)
			}
		}
		if len(phase) == 0 {
			var cycle []contract.ServiceID
			for node := range nodes {
				if !assigned[node] {
					cycle = append(cycle, node)
				}
			}
			sort.Slice(cycle, func(i, j int) bool { return cycle[i] < cycle[j] })
			return nil, &CyclicDependencyError{Services: cycle}
		}
		sort.Slice(phase, func(i, j int) bool { return phase[i] < phase[j] })
		for _, node := range phase {
			assigned[node] = true
		}
		plan.Phases = append(plan.Phases, phase)
	}

	return plan, nil
}

// edgeAffected reports whether the consumer's usage set references any of
// the provider's breaking subjects.
func edgeAffected(edge contract.ConsumerEdge, subjects map[string]bool) bool {
	for key := range edge.UsedEndpoints {
		if subjects[key.String()] {
			return true
		}
	}
	for name := range edge.UsedSchemas {
		if subjects[name] {
			return true
		}
	}
	return false
}
