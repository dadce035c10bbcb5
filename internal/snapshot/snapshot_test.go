package snapshot

import (
	"strings"
	"testing"

	"github.com/wudi/contractcheck/contract"
)

const sampleSnapshot = `{
  "service": "param-service",
  "version": "1.2.0",
  "endpoints": [
    {
      "method": "GET",
      "path": "/scenarios/{id}",
      "path_params": ["id"],
      "query_params": {
        "verbose": {"required": false, "type": {"kind": "primitive", "primitive": "boolean"}}
      },
      "response_body": "ScenarioDto"
    }
  ],
  "schemas": {
    "ScenarioDto": {
      "qualified_name": "ScenarioDto",
      "fields": [
        {"name": "id", "type": {"kind": "primitive", "primitive": "string"}, "required": true},
        {"name": "description", "type": {"kind": "primitive", "primitive": "string"}}
      ]
    }
  }
}`

func TestDecodeSnapshot(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(sampleSnapshot))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Service != "param-service" || snap.Version != "1.2.0" {
		t.Errorf("header = (%s, %s), want (param-service, 1.2.0)", snap.Service, snap.Version)
	}

	key := contract.EndpointKey{Method: contract.MethodGet, Path: "/scenarios/{id}"}
	sig, ok := snap.Endpoint(key)
	if !ok {
		t.Fatalf("endpoint %s missing from decoded snapshot", key)
	}
	if !sig.PathParams["id"] {
		t.Error("path param id not decoded")
	}
	if qp, ok := sig.QueryParams["verbose"]; !ok || qp.Required || qp.Type.Primitive != "boolean" {
		t.Errorf("query param verbose = %+v", qp)
	}
	if sig.ResponseBody != "ScenarioDto" {
		t.Errorf("response body = %q", sig.ResponseBody)
	}

	schema, ok := snap.Schemas["ScenarioDto"]
	if !ok {
		t.Fatal("ScenarioDto missing from decoded snapshot")
	}
	if f, ok := schema.Field("id"); !ok || !f.Required || f.Type.Kind != contract.KindPrimitive {
		t.Errorf("field id = %+v", f)
	}
}

func TestDecodeSnapshotFillsSchemaName(t *testing.T) {
	// qualified_name may be omitted; the map key supplies it.
	snap, err := DecodeSnapshot([]byte(`{
	  "service": "a",
	  "schemas": {"Dto": {"fields": [{"name": "x", "type": {"kind": "primitive", "primitive": "string"}}]}}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Schemas["Dto"].QualifiedName != "Dto" {
		t.Errorf("qualified name = %q, want Dto", snap.Schemas["Dto"].QualifiedName)
	}
}

func TestDecodeSnapshotRejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing service", `{"endpoints": []}`},
		{"empty service", `{"service": ""}`},
		{"bad method", `{"service": "a", "endpoints": [{"method": "FETCH", "path": "/x"}]}`},
		{"not json", `{serv`},
		{"duplicate endpoint", `{"service": "a", "endpoints": [
			{"method": "GET", "path": "/x"},
			{"method": "GET", "path": "/x"}
		]}`},
		{"undeclared template param", `{"service": "a", "endpoints": [
			{"method": "GET", "path": "/x/{id}"}
		]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeSnapshot([]byte(tc.doc)); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestEncodeSnapshotRoundTrip(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(sampleSnapshot))
	if err != nil {
		t.Fatal(err)
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	again, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if again.Service != snap.Service || len(again.Endpoints) != len(snap.Endpoints) || len(again.Schemas) != len(snap.Schemas) {
		t.Errorf("round trip changed shape: %+v", again)
	}

	// Byte stability across encodes of the same surface.
	data2, err := EncodeSnapshot(again)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(data2) {
		t.Error("encoding is not deterministic")
	}
}

func TestParseEndpointKey(t *testing.T) {
	key, err := ParseEndpointKey("GET /scenarios/{id}")
	if err != nil {
		t.Fatal(err)
	}
	if key.Method != contract.MethodGet || key.Path != "/scenarios/{id}" {
		t.Errorf("key = %+v", key)
	}

	for _, bad := range []string{"", "GET", "FETCH /x", "GET "} {
		if _, err := ParseEndpointKey(bad); err == nil {
			t.Errorf("ParseEndpointKey(%q) succeeded", bad)
		}
	}
}

func TestDecodeEdges(t *testing.T) {
	edges, err := DecodeEdges([]byte(`{
	  "edges": [
	    {
	      "consumer": "reports-service",
	      "provider": "param-service",
	      "used_endpoints": ["GET /scenarios/{id}"],
	      "used_schemas": ["ScenarioDto"],
	      "used_members": {"ScenarioDto": ["id", "description"]}
	    }
	  ]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1", len(edges))
	}
	e := edges[0]
	if e.Consumer != "reports-service" || e.Provider != "param-service" {
		t.Errorf("edge = %s -> %s", e.Consumer, e.Provider)
	}
	if !e.UsesSubject("GET /scenarios/{id}") || !e.UsesSubject("ScenarioDto") {
		t.Error("declared subjects not usable")
	}
	members, known := e.MemberUsage("ScenarioDto")
	if !known || !members["description"] {
		t.Errorf("member usage = %v (known=%v)", members, known)
	}
	if _, known := e.MemberUsage("OtherDto"); known {
		t.Error("undeclared subject must report unknown member usage")
	}
}

func TestDecodeEdgesRejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing edges", `{}`},
		{"missing provider", `{"edges": [{"consumer": "a"}]}`},
		{"bad endpoint ref", `{"edges": [{"consumer": "a", "provider": "b", "used_endpoints": ["no-method"]}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeEdges([]byte(tc.doc)); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestEncodeEdgesDeterministic(t *testing.T) {
	edges := []contract.ConsumerEdge{
		{
			Consumer: "zeta", Provider: "param-service",
			UsedSchemas: map[string]bool{"B": true, "A": true},
		},
		{
			Consumer: "alpha", Provider: "param-service",
			UsedEndpoints: map[contract.EndpointKey]bool{
				{Method: contract.MethodGet, Path: "/b"}: true,
				{Method: contract.MethodGet, Path: "/a"}: true,
			},
		},
	}
	data, err := EncodeEdges(edges)
	if err != nil {
		t.Fatal(err)
	}
	if ia, iz := strings.Index(string(data), "alpha"), strings.Index(string(data), "zeta"); ia > iz {
		t.Error("edges not sorted by consumer")
	}
	again, err := DecodeEdges(data)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if len(again) != 2 {
		t.Fatalf("got %d edges after round trip", len(again))
	}
}

func storeSnap(service contract.ServiceID, version string) *contract.Snapshot {
	return &contract.Snapshot{
		Service: service,
		Version: version,
		Schemas: map[string]contract.ObjectSchema{
			"Dto": {QualifiedName: "Dto", Fields: []contract.FieldSchema{
				{Name: "v", Type: contract.Primitive("string")},
			}},
		},
	}
}

func TestStorePutLatest(t *testing.T) {
	store, err := NewStore(t.TempDir(), 5)
	if err != nil {
		t.Fatal(err)
	}

	if got, err := store.Latest("param-service"); err != nil || got != nil {
		t.Fatalf("empty store Latest = (%v, %v), want (nil, nil)", got, err)
	}

	for _, v := range []string{"1.0.0", "1.1.0"} {
		if err := store.Put(storeSnap("param-service", v)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.Latest("param-service")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Version != "1.1.0" {
		t.Errorf("Latest version = %+v, want 1.1.0", got)
	}
}

func TestStoreLatestPrefersHighestSemver(t *testing.T) {
	// Re-extracting an old version later must not win over a higher one.
	store, err := NewStore(t.TempDir(), 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{"2.0.0", "1.9.0"} {
		if err := store.Put(storeSnap("param-service", v)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.Latest("param-service")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "2.0.0" {
		t.Errorf("Latest version = %s, want 2.0.0", got.Version)
	}
}

func TestStoreLatestFallsBackToWriteTime(t *testing.T) {
	store, err := NewStore(t.TempDir(), 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{"build-41", "build-42"} {
		if err := store.Put(storeSnap("param-service", v)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.Latest("param-service")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "build-42" {
		t.Errorf("Latest version = %s, want build-42", got.Version)
	}
}

func TestStorePrunesOldVersions(t *testing.T) {
	store, err := NewStore(t.TempDir(), 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0", "1.3.0"} {
		if err := store.Put(storeSnap("param-service", v)); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := store.getEntries("param-service")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d stored versions after prune, want 2", len(entries))
	}
	got, err := store.Latest("param-service")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "1.3.0" {
		t.Errorf("Latest after prune = %s, want 1.3.0", got.Version)
	}
}

func TestStoreServices(t *testing.T) {
	store, err := NewStore(t.TempDir(), 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, svc := range []contract.ServiceID{"zeta", "alpha", "alpha"} {
		if err := store.Put(storeSnap(svc, "1.0.0")); err != nil {
			t.Fatal(err)
		}
	}
	services, err := store.Services()
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 2 || services[0] != "alpha" || services[1] != "zeta" {
		t.Errorf("Services() = %v, want [alpha zeta]", services)
	}
}
