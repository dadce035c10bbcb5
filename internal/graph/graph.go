// Package graph assembles the provider→consumer contract graph from
// per-service snapshots and consumer edge declarations.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wudi/contractcheck/contract"
)

// DuplicateServiceError reports two snapshots claiming the same service id.
// Identity is ambiguous, so graph construction aborts.
type DuplicateServiceError struct {
	Service contract.ServiceID
}

func (e *DuplicateServiceError) Error() string {
	return fmt.Sprintf("duplicate service id %q in snapshot collection", e.Service)
}

// Graph is the assembled contract graph. Edges are merged per
// (consumer, provider) pair and sorted for deterministic iteration.
type Graph struct {
	Services  []contract.ServiceID                    `json:"services"`
	Edges     []contract.ConsumerEdge                 `json:"edges"`
	Snapshots map[contract.ServiceID]*contract.Snapshot `json:"-"`
}

// ConsumersOf returns the merged edges whose provider is the given service.
func (g *Graph) ConsumersOf(provider contract.ServiceID) []contract.ConsumerEdge {
	var out []contract.ConsumerEdge
	for _, e := range g.Edges {
		if e.Provider == provider {
			out = append(out, e)
		}
	}
	return out
}

// HasService reports whether the graph holds a snapshot for the service.
func (g *Graph) HasService(id contract.ServiceID) bool {
	_, ok := g.Snapshots[id]
	return ok
}

// Build assembles the graph. It fails only on duplicate service ids;
// everything else recoverable is surfaced as a warning: self-edges are
// dropped, edges naming an unknown provider or consumer are recorded as
// dangling, and edge references to endpoints or schemas absent from the
// provider's snapshot are flagged stale.
func Build(snapshots []*contract.Snapshot, edges []contract.ConsumerEdge) (*Graph, []string, error) {
	g := &Graph{Snapshots: make(map[contract.ServiceID]*contract.Snapshot, len(snapshots))}
	var warnings []string

	for _, snap := range snapshots {
		if _, ok := g.Snapshots[snap.Service]; ok {
			return nil, nil, &DuplicateServiceError{Service: snap.Service}
		}
		g.Snapshots[snap.Service] = snap
		g.Services = append(g.Services, snap.Service)
	}
	sort.Slice(g.Services, func(i, j int) bool { return g.Services[i] < g.Services[j] })

	merged := make(map[[2]contract.ServiceID]*contract.ConsumerEdge)
	var order [][2]contract.ServiceID
	for _, edge := range edges {
		if edge.Consumer == edge.Provider {
			warnings = append(warnings, fmt.Sprintf("self-edge dropped: service %s declared as its own consumer", edge.Consumer))
			continue
		}
		key := [2]contract.ServiceID{edge.Consumer, edge.Provider}
		existing, ok := merged[key]
		if !ok {
			copied := copyEdge(edge)
			merged[key] = &copied
			order = append(order, key)
			continue
		}
		unionEdge(existing, edge)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i][0] != order[j][0] {
			return order[i][0] < order[j][0]
		}
		return order[i][1] < order[j][1]
	})

	for _, key := range order {
		edge := merged[key]
		warnings = append(warnings, checkEdge(g, edge)...)
		g.Edges = append(g.Edges, *edge)
	}

	return g, warnings, nil
}

// checkEdge validates one merged edge against the provider's snapshot.
func checkEdge(g *Graph, edge *contract.ConsumerEdge) []string {
	var warnings []string

	if _, ok := g.Snapshots[edge.Consumer]; !ok {
		warnings = append(warnings, fmt.Sprintf("dangling edge: consumer %s has no snapshot (provider %s)", edge.Consumer, edge.Provider))
	}
	provider, ok := g.Snapshots[edge.Provider]
	if !ok {
		warnings = append(warnings, fmt.Sprintf("dangling edge: provider %s has no snapshot (consumer %s)", edge.Provider, edge.Consumer))
		return warnings
	}

	var stale []string
	for key := range edge.UsedEndpoints {
		if _, ok := provider.Endpoints[key]; !ok {
			stale = append(stale, key.String())
		}
	}
	for name := range edge.UsedSchemas {
		if _, ok := provider.Schemas[name]; !ok {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		warnings = append(warnings, fmt.Sprintf(
			"stale reference: consumer %s references %s not exported by provider %s",
			edge.Consumer, strings.Join(stale, ", "), edge.Provider))
	}
	return warnings
}

func copyEdge(edge contract.ConsumerEdge) contract.ConsumerEdge {
	out := contract.ConsumerEdge{
		Consumer:      edge.Consumer,
		Provider:      edge.Provider,
		UsedEndpoints: make(map[contract.EndpointKey]bool, len(edge.UsedEndpoints)),
		UsedSchemas:   make(map[string]bool, len(edge.UsedSchemas)),
	}
	for k := range edge.UsedEndpoints {
		out.UsedEndpoints[k] = true
	}
	for s := range edge.UsedSchemas {
		out.UsedSchemas[s] = true
	}
	if edge.UsedMembers != nil {
		out.UsedMembers = make(map[string]map[string]bool, len(edge.UsedMembers))
		for subject, members := range edge.UsedMembers {
			ms := make(map[string]bool, len(members))
			for m := range members {
				ms[m] = true
			}
			out.UsedMembers[subject] = ms
		}
	}
	return out
}

// unionEdge merges a second declaration between the same pair into the
// first. Member-level usage stays unknown for a subject only if no
// declaration supplied it.
func unionEdge(dst *contract.ConsumerEdge, src contract.ConsumerEdge) {
	for k := range src.UsedEndpoints {
		dst.UsedEndpoints[k] = true
	}
	for s := range src.UsedSchemas {
		dst.UsedSchemas[s] = true
	}
	if src.UsedMembers == nil {
		return
	}
	if dst.UsedMembers == nil {
		dst.UsedMembers = make(map[string]map[string]bool, len(src.UsedMembers))
	}
	for subject, members := range src.UsedMembers {
		if dst.UsedMembers[subject] == nil {
			dst.UsedMembers[subject] = make(map[string]bool, len(members))
		}
		for m := range members {
			dst.UsedMembers[subject][m] = true
		}
	}
}
