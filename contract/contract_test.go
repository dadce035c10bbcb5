package contract

import "testing"

func TestTypeTagEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b TypeTag
		want bool
	}{
		{"same primitive", Primitive("string"), Primitive("string"), true},
		{"different primitive", Primitive("string"), Primitive("integer"), false},
		{"kind mismatch", Primitive("string"), Unknown(), false},
		{"enum order ignored", EnumOf("a", "b", "c"), EnumOf("c", "a", "b"), true},
		{"enum value removed", EnumOf("a", "b", "c"), EnumOf("a", "b"), false},
		{"unknown equals unknown", Unknown(), Unknown(), true},
		{
			"array of same elem",
			ArrayOf(FieldSchema{Type: Primitive("string")}),
			ArrayOf(FieldSchema{Type: Primitive("string")}),
			true,
		},
		{
			"array elem differs",
			ArrayOf(FieldSchema{Type: Primitive("string")}),
			ArrayOf(FieldSchema{Type: Primitive("integer")}),
			false,
		},
		{
			"nested object equal",
			ObjectOf(ObjectSchema{QualifiedName: "Inner", Fields: []FieldSchema{{Name: "x", Type: Primitive("integer")}}}),
			ObjectOf(ObjectSchema{QualifiedName: "Inner", Fields: []FieldSchema{{Name: "x", Type: Primitive("integer")}}}),
			true,
		},
		{
			"nested object field differs",
			ObjectOf(ObjectSchema{QualifiedName: "Inner", Fields: []FieldSchema{{Name: "x", Type: Primitive("integer")}}}),
			ObjectOf(ObjectSchema{QualifiedName: "Inner", Fields: []FieldSchema{{Name: "x", Type: Primitive("string")}}}),
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := tt.b.Equal(tt.a); got != tt.want {
				t.Errorf("Equal(%s, %s) = %v, want %v (symmetry)", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestTypeTagString(t *testing.T) {
	tests := []struct {
		tag  TypeTag
		want string
	}{
		{Primitive("string"), "string"},
		{ArrayOf(FieldSchema{Type: Primitive("integer")}), "array<integer>"},
		{EnumOf("b", "a"), "enum[a,b]"},
		{Unknown(), "unknown"},
		{ObjectOf(ObjectSchema{QualifiedName: "Dto"}), "object(Dto)"},
	}
	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestObjectSchemaValidate(t *testing.T) {
	valid := ObjectSchema{
		QualifiedName: "Dto",
		Fields: []FieldSchema{
			{Name: "id", Type: Primitive("integer")},
			{Name: "name", Type: Primitive("string")},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid schema: unexpected error %v", err)
	}

	dup := ObjectSchema{
		QualifiedName: "Dto",
		Fields: []FieldSchema{
			{Name: "id", Type: Primitive("integer")},
			{Name: "id", Type: Primitive("string")},
		},
	}
	if err := dup.Validate(); err == nil {
		t.Error("duplicate field names should fail validation")
	}
}

func TestPathTemplateParams(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/scenarios", nil},
		{"/scenarios/{id}", []string{"id"}},
		{"/tenants/{tenant}/scenarios/{id}", []string{"tenant", "id"}},
	}
	for _, tt := range tests {
		got := PathTemplateParams(tt.path)
		if len(got) != len(tt.want) {
			t.Errorf("PathTemplateParams(%q) = %v, want %v", tt.path, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("PathTemplateParams(%q) = %v, want %v", tt.path, got, tt.want)
			}
		}
	}
}

func TestEndpointSignatureValidate(t *testing.T) {
	ok := EndpointSignature{
		Method:     MethodGet,
		Path:       "/scenarios/{id}",
		PathParams: map[string]bool{"id": true},
	}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid endpoint: unexpected error %v", err)
	}

	missing := EndpointSignature{Method: MethodGet, Path: "/scenarios/{id}"}
	if err := missing.Validate(); err == nil {
		t.Error("template param without declaration should fail validation")
	}

	badMethod := EndpointSignature{Method: "TRACE", Path: "/x"}
	if err := badMethod.Validate(); err == nil {
		t.Error("unsupported method should fail validation")
	}
}

func TestSnapshotValidate(t *testing.T) {
	snap := &Snapshot{
		Service: "param-service",
		Endpoints: map[EndpointKey]EndpointSignature{
			{Method: MethodGet, Path: "/scenarios"}: {Method: MethodGet, Path: "/scenarios"},
		},
		Schemas: map[string]ObjectSchema{
			"ScenarioDto": {QualifiedName: "ScenarioDto", Fields: []FieldSchema{{Name: "name", Type: Primitive("string")}}},
		},
	}
	if err := snap.Validate(); err != nil {
		t.Errorf("valid snapshot: unexpected error %v", err)
	}

	mismatch := &Snapshot{
		Service: "param-service",
		Endpoints: map[EndpointKey]EndpointSignature{
			{Method: MethodGet, Path: "/a"}: {Method: MethodPost, Path: "/a"},
		},
	}
	if err := mismatch.Validate(); err == nil {
		t.Error("endpoint key/signature mismatch should fail validation")
	}

	empty := &Snapshot{}
	if err := empty.Validate(); err == nil {
		t.Error("empty service id should fail validation")
	}
}

func TestConsumerEdgeUsesSubject(t *testing.T) {
	edge := ConsumerEdge{
		Consumer:      "reports-service",
		Provider:      "param-service",
		UsedEndpoints: map[EndpointKey]bool{{Method: MethodGet, Path: "/scenarios"}: true},
		UsedSchemas:   map[string]bool{"ScenarioDto": true},
	}
	if !edge.UsesSubject("ScenarioDto") {
		t.Error("expected schema subject to be used")
	}
	if !edge.UsesSubject("GET /scenarios") {
		t.Error("expected endpoint subject to be used")
	}
	if edge.UsesSubject("OtherDto") {
		t.Error("unexpected subject usage")
	}
}

func TestConsumerEdgeMemberUsage(t *testing.T) {
	edge := ConsumerEdge{
		Consumer:    "reports-service",
		Provider:    "param-service",
		UsedSchemas: map[string]bool{"ScenarioDto": true, "OtherDto": true},
		UsedMembers: map[string]map[string]bool{
			"ScenarioDto": {"name": true, "description": true},
		},
	}
	members, known := edge.MemberUsage("ScenarioDto")
	if !known || !members["description"] {
		t.Errorf("expected known member usage with description, got known=%v members=%v", known, members)
	}
	if _, known := edge.MemberUsage("OtherDto"); known {
		t.Error("expected unknown member usage for OtherDto")
	}
}
