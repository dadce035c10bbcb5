// Package snapshot implements the interchange format between extraction
// front-ends and the engine: a JSON document per service snapshot plus a
// JSON document for consumer edge declarations, both validated against
// embedded JSON Schemas before decoding.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wudi/contractcheck/contract"
)

// snapshotSchema constrains the snapshot wire format. Structural typing of
// field schemas is left open (types nest arbitrarily); the schema pins the
// envelope so malformed documents fail early with a clear error.
const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["service"],
  "properties": {
    "service": {"type": "string", "minLength": 1},
    "version": {"type": "string"},
    "endpoints": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["method", "path"],
        "properties": {
          "method": {"enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
          "path": {"type": "string", "minLength": 1},
          "path_params": {"type": "array", "items": {"type": "string"}},
          "query_params": {"type": "object"},
          "request_body": {"type": "string"},
          "response_body": {"type": "string"}
        }
      }
    },
    "schemas": {"type": "object"}
  }
}`

// edgesSchema constrains the consumer edge wire format.
const edgesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["edges"],
  "properties": {
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["consumer", "provider"],
        "properties": {
          "consumer": {"type": "string", "minLength": 1},
          "provider": {"type": "string", "minLength": 1},
          "used_endpoints": {"type": "array", "items": {"type": "string"}},
          "used_schemas": {"type": "array", "items": {"type": "string"}},
          "used_members": {"type": "object"}
        }
      }
    }
  }
}`

var (
	compiledSnapshotSchema = mustCompile("snapshot.schema.json", snapshotSchema)
	compiledEdgesSchema    = mustCompile("edges.schema.json", edgesSchema)
)

func mustCompile(name, raw string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse embedded schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add embedded schema %s: %v", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile embedded schema %s: %v", name, err))
	}
	return sch
}

func validate(sch *jsonschema.Schema, data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("document does not match schema: %w", err)
	}
	return nil
}

// wireEndpoint is the serialized form of an endpoint signature.
type wireEndpoint struct {
	Method       string                          `json:"method"`
	Path         string                          `json:"path"`
	PathParams   []string                        `json:"path_params,omitempty"`
	QueryParams  map[string]contract.QueryParam  `json:"query_params,omitempty"`
	RequestBody  string                          `json:"request_body,omitempty"`
	ResponseBody string                          `json:"response_body,omitempty"`
}

// wireSnapshot is the serialized form of a contract snapshot.
type wireSnapshot struct {
	Service   string                           `json:"service"`
	Version   string                           `json:"version,omitempty"`
	Endpoints []wireEndpoint                   `json:"endpoints,omitempty"`
	Schemas   map[string]contract.ObjectSchema `json:"schemas,omitempty"`
}

// DecodeSnapshot validates and decodes one snapshot document.
func DecodeSnapshot(data []byte) (*contract.Snapshot, error) {
	if err := validate(compiledSnapshotSchema, data); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	var wire wireSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	snap := &contract.Snapshot{
		Service:   contract.ServiceID(wire.Service),
		Version:   wire.Version,
		Endpoints: make(map[contract.EndpointKey]contract.EndpointSignature, len(wire.Endpoints)),
		Schemas:   make(map[string]contract.ObjectSchema, len(wire.Schemas)),
	}
	for _, we := range wire.Endpoints {
		sig := contract.EndpointSignature{
			Method:       contract.Method(we.Method),
			Path:         we.Path,
			QueryParams:  we.QueryParams,
			RequestBody:  we.RequestBody,
			ResponseBody: we.ResponseBody,
		}
		if len(we.PathParams) > 0 {
			sig.PathParams = make(map[string]bool, len(we.PathParams))
			for _, p := range we.PathParams {
				sig.PathParams[p] = true
			}
		}
		key := sig.Key()
		if _, ok := snap.Endpoints[key]; ok {
			return nil, fmt.Errorf("snapshot %s: duplicate endpoint %s", wire.Service, key)
		}
		snap.Endpoints[key] = sig
	}
	for name, schema := range wire.Schemas {
		if schema.QualifiedName == "" {
			schema.QualifiedName = name
		}
		snap.Schemas[name] = schema
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// EncodeSnapshot serializes a snapshot with endpoints in deterministic
// order, so stored blobs are byte-stable for identical surfaces.
func EncodeSnapshot(snap *contract.Snapshot) ([]byte, error) {
	wire := wireSnapshot{
		Service: string(snap.Service),
		Version: snap.Version,
		Schemas: snap.Schemas,
	}
	for _, key := range snap.SortedEndpointKeys() {
		sig := snap.Endpoints[key]
		we := wireEndpoint{
			Method:       string(sig.Method),
			Path:         sig.Path,
			QueryParams:  sig.QueryParams,
			RequestBody:  sig.RequestBody,
			ResponseBody: sig.ResponseBody,
		}
		for p := range sig.PathParams {
			we.PathParams = append(we.PathParams, p)
		}
		sort.Strings(we.PathParams)
		wire.Endpoints = append(wire.Endpoints, we)
	}
	return json.MarshalIndent(wire, "", "  ")
}

// wireEdge is the serialized form of a consumer edge declaration.
type wireEdge struct {
	Consumer      string              `json:"consumer"`
	Provider      string              `json:"provider"`
	UsedEndpoints []string            `json:"used_endpoints,omitempty"`
	UsedSchemas   []string            `json:"used_schemas,omitempty"`
	UsedMembers   map[string][]string `json:"used_members,omitempty"`
}

type wireEdges struct {
	Edges []wireEdge `json:"edges"`
}

// ParseEndpointKey parses the "METHOD /path" subject form used in edge
// declarations and verdict subjects.
func ParseEndpointKey(s string) (contract.EndpointKey, error) {
	method, path, ok := strings.Cut(s, " ")
	if !ok || path == "" {
		return contract.EndpointKey{}, fmt.Errorf("malformed endpoint reference %q, want \"METHOD /path\"", s)
	}
	m := contract.Method(method)
	if !contract.ValidMethods[m] {
		return contract.EndpointKey{}, fmt.Errorf("endpoint reference %q: unsupported method %q", s, method)
	}
	return contract.EndpointKey{Method: m, Path: path}, nil
}

// DecodeEdges validates and decodes a consumer edge document.
func DecodeEdges(data []byte) ([]contract.ConsumerEdge, error) {
	if err := validate(compiledEdgesSchema, data); err != nil {
		return nil, fmt.Errorf("edges: %w", err)
	}
	var wire wireEdges
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("edges: %w", err)
	}

	edges := make([]contract.ConsumerEdge, 0, len(wire.Edges))
	for _, we := range wire.Edges {
		edge := contract.ConsumerEdge{
			Consumer:      contract.ServiceID(we.Consumer),
			Provider:      contract.ServiceID(we.Provider),
			UsedEndpoints: make(map[contract.EndpointKey]bool, len(we.UsedEndpoints)),
			UsedSchemas:   make(map[string]bool, len(we.UsedSchemas)),
		}
		for _, ref := range we.UsedEndpoints {
			key, err := ParseEndpointKey(ref)
			if err != nil {
				return nil, fmt.Errorf("edge %s->%s: %w", we.Consumer, we.Provider, err)
			}
			edge.UsedEndpoints[key] = true
		}
		for _, name := range we.UsedSchemas {
			edge.UsedSchemas[name] = true
		}
		if len(we.UsedMembers) > 0 {
			edge.UsedMembers = make(map[string]map[string]bool, len(we.UsedMembers))
			for subject, members := range we.UsedMembers {
				set := make(map[string]bool, len(members))
				for _, m := range members {
					set[m] = true
				}
				edge.UsedMembers[subject] = set
			}
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

// EncodeEdges serializes consumer edges deterministically.
func EncodeEdges(edges []contract.ConsumerEdge) ([]byte, error) {
	wire := wireEdges{Edges: make([]wireEdge, 0, len(edges))}
	for _, edge := range edges {
		we := wireEdge{
			Consumer: string(edge.Consumer),
			Provider: string(edge.Provider),
		}
		for key := range edge.UsedEndpoints {
			we.UsedEndpoints = append(we.UsedEndpoints, key.String())
		}
		sort.Strings(we.UsedEndpoints)
		for name := range edge.UsedSchemas {
			we.UsedSchemas = append(we.UsedSchemas, name)
		}
		sort.Strings(we.UsedSchemas)
		if len(edge.UsedMembers) > 0 {
			we.UsedMembers = make(map[string][]string, len(edge.UsedMembers))
			for subject, members := range edge.UsedMembers {
				var names []string
				for m := range members {
					names = append(names, m)
				}
				sort.Strings(names)
				we.UsedMembers[subject] = names
			}
		}
		wire.Edges = append(wire.Edges, we)
	}
	sort.Slice(wire.Edges, func(i, j int) bool {
		if wire.Edges[i].Consumer != wire.Edges[j].Consumer {
			return wire.Edges[i].Consumer < wire.Edges[j].Consumer
		}
		return wire.Edges[i].Provider < wire.Edges[j].Provider
	})
	return json.MarshalIndent(wire, "", "  ")
}
