// Package contract defines the in-memory model of a service's exported API
// surface: endpoint signatures, DTO schemas, and the consumer edges that tie
// services together. Values in this package are treated as immutable once
// constructed; analysis components compare snapshots but never modify them.
package contract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ServiceID uniquely identifies a service. It is stable across snapshots.
type ServiceID string

// Method is an HTTP method supported by endpoint signatures.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// ValidMethods contains all method names accepted in endpoint signatures.
var ValidMethods = map[Method]bool{
	MethodGet: true, MethodPost: true, MethodPut: true,
	MethodPatch: true, MethodDelete: true,
}

// TypeKind discriminates the closed set of type shapes a field can have.
type TypeKind int

const (
	KindUnknown TypeKind = iota
	KindPrimitive
	KindArray
	KindObject
	KindEnum
)

func (k TypeKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the kind as its string name.
func (k TypeKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON parses the string name back into a kind. Unrecognized
// names decode as unknown rather than failing: snapshots from newer
// extraction front-ends stay loadable.
func (k *TypeKind) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "primitive":
		*k = KindPrimitive
	case "array":
		*k = KindArray
	case "object":
		*k = KindObject
	case "enum":
		*k = KindEnum
	default:
		*k = KindUnknown
	}
	return nil
}

// TypeTag describes the type of a field. Exactly one of the shape-specific
// members is populated, according to Kind.
type TypeTag struct {
	Kind      TypeKind      `json:"kind"`
	Primitive string        `json:"primitive,omitempty"` // Kind == KindPrimitive
	Elem      *FieldSchema  `json:"elem,omitempty"`      // Kind == KindArray
	Object    *ObjectSchema `json:"object,omitempty"`    // Kind == KindObject
	Enum      []string      `json:"enum,omitempty"`      // Kind == KindEnum
}

// Primitive returns a TypeTag for a named primitive type.
func Primitive(name string) TypeTag {
	return TypeTag{Kind: KindPrimitive, Primitive: name}
}

// ArrayOf returns a TypeTag for an array of the given element schema.
func ArrayOf(elem FieldSchema) TypeTag {
	return TypeTag{Kind: KindArray, Elem: &elem}
}

// ObjectOf returns a TypeTag for an inline object schema.
func ObjectOf(obj ObjectSchema) TypeTag {
	return TypeTag{Kind: KindObject, Object: &obj}
}

// EnumOf returns a TypeTag for an enum over the given values.
func EnumOf(values ...string) TypeTag {
	return TypeTag{Kind: KindEnum, Enum: values}
}

// Unknown returns the TypeTag used when extraction could not determine a type.
func Unknown() TypeTag {
	return TypeTag{Kind: KindUnknown}
}

// Equal reports structural equality between two type tags, recursing into
// array elements and nested objects. Enum comparison is set-based: value
// order does not matter.
func (t TypeTag) Equal(other TypeTag) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case KindPrimitive:
		return t.Primitive == other.Primitive
	case KindArray:
		if t.Elem == nil || other.Elem == nil {
			return t.Elem == other.Elem
		}
		return t.Elem.Equal(*other.Elem)
	case KindObject:
		if t.Object == nil || other.Object == nil {
			return t.Object == other.Object
		}
		return t.Object.Equal(*other.Object)
	case KindEnum:
		if len(t.Enum) != len(other.Enum) {
			return false
		}
		seen := make(map[string]bool, len(t.Enum))
		for _, v := range t.Enum {
			seen[v] = true
		}
		for _, v := range other.Enum {
			if !seen[v] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders a compact human-readable form of the type, used in diff
// output. Enum values are sorted so the rendering is deterministic.
func (t TypeTag) String() string {
	switch t.Kind {
	case KindPrimitive:
		return t.Primitive
	case KindArray:
		if t.Elem == nil {
			return "array<?>"
		}
		return "array<" + t.Elem.Type.String() + ">"
	case KindObject:
		if t.Object == nil {
			return "object"
		}
		return "object(" + t.Object.QualifiedName + ")"
	case KindEnum:
		vals := make([]string, len(t.Enum))
		copy(vals, t.Enum)
		sort.Strings(vals)
		return "enum[" + strings.Join(vals, ",") + "]"
	default:
		return "unknown"
	}
}

// FieldSchema describes one field of a DTO.
type FieldSchema struct {
	Name     string  `json:"name"`
	Type     TypeTag `json:"type"`
	Required bool    `json:"required"`
	Nullable bool    `json:"nullable"`
}

// Equal reports full equality of two field schemas including type structure.
func (f FieldSchema) Equal(other FieldSchema) bool {
	return f.Name == other.Name &&
		f.Required == other.Required &&
		f.Nullable == other.Nullable &&
		f.Type.Equal(other.Type)
}

// ObjectSchema is one DTO: a named, ordered list of fields. Field order is
// the extraction's insertion order and carries no compatibility meaning
// (field identity is by name); it is preserved so diff output is stable.
type ObjectSchema struct {
	QualifiedName string        `json:"qualified_name"`
	Fields        []FieldSchema `json:"fields"`
}

// Field returns the field with the given name, if present.
func (o ObjectSchema) Field(name string) (FieldSchema, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Equal reports structural equality of two object schemas. Field order is
// ignored; identity is by field name.
func (o ObjectSchema) Equal(other ObjectSchema) bool {
	if o.QualifiedName != other.QualifiedName || len(o.Fields) != len(other.Fields) {
		return false
	}
	for _, f := range o.Fields {
		g, ok := other.Field(f.Name)
		if !ok || !f.Equal(g) {
			return false
		}
	}
	return true
}

// Validate checks the intra-schema invariant that field names are unique.
func (o ObjectSchema) Validate() error {
	seen := make(map[string]bool, len(o.Fields))
	for _, f := range o.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %s: field with empty name", o.QualifiedName)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %s: duplicate field %q", o.QualifiedName, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// QueryParam describes one query parameter of an endpoint.
type QueryParam struct {
	Required bool    `json:"required"`
	Type     TypeTag `json:"type"`
}

// EndpointKey identifies an endpoint within a service by method and path
// template. It is the map key for snapshot endpoint sets and usage sets.
type EndpointKey struct {
	Method Method `json:"method"`
	Path   string `json:"path"`
}

func (k EndpointKey) String() string {
	return string(k.Method) + " " + k.Path
}

// pathParamPattern matches {param} placeholders in a path template.
var pathParamPattern = regexp.MustCompile(`\{([^}]+)\}`)

// PathTemplateParams returns the placeholder names appearing in a path
// template, in order of appearance.
func PathTemplateParams(path string) []string {
	matches := pathParamPattern.FindAllStringSubmatch(path, -1)
	params := make([]string, 0, len(matches))
	for _, m := range matches {
		params = append(params, m[1])
	}
	return params
}

// EndpointSignature is the declared contract of one REST endpoint.
// RequestBody and ResponseBody reference schemas in the owning snapshot by
// qualified name; empty means no body.
type EndpointSignature struct {
	Method       Method                `json:"method"`
	Path         string                `json:"path"`
	PathParams   map[string]bool       `json:"path_params,omitempty"`
	QueryParams  map[string]QueryParam `json:"query_params,omitempty"`
	RequestBody  string                `json:"request_body,omitempty"`
	ResponseBody string                `json:"response_body,omitempty"`
}

// Key returns the (method, path) identity of the endpoint.
func (e EndpointSignature) Key() EndpointKey {
	return EndpointKey{Method: e.Method, Path: e.Path}
}

// Validate checks that the method is known and that every {param} token in
// the path template has a matching path parameter entry.
func (e EndpointSignature) Validate() error {
	if !ValidMethods[e.Method] {
		return fmt.Errorf("endpoint %s: unsupported method %q", e.Path, e.Method)
	}
	for _, p := range PathTemplateParams(e.Path) {
		if !e.PathParams[p] {
			return fmt.Errorf("endpoint %s: path template references %q with no matching path param", e.Key(), p)
		}
	}
	return nil
}

// Snapshot is one service's full exported contract surface at one point in
// time. Snapshots are produced wholesale by an extraction front-end and are
// never mutated by the engine.
type Snapshot struct {
	Service   ServiceID                    `json:"service"`
	Version   string                       `json:"version,omitempty"`
	Endpoints map[EndpointKey]EndpointSignature `json:"-"`
	Schemas   map[string]ObjectSchema      `json:"schemas,omitempty"`
}

// Endpoint returns the signature for the (method, path) key, if present.
func (s *Snapshot) Endpoint(key EndpointKey) (EndpointSignature, bool) {
	sig, ok := s.Endpoints[key]
	return sig, ok
}

// SortedEndpointKeys returns the snapshot's endpoint keys sorted by path then
// method, for deterministic iteration.
func (s *Snapshot) SortedEndpointKeys() []EndpointKey {
	keys := make([]EndpointKey, 0, len(s.Endpoints))
	for k := range s.Endpoints {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Method < keys[j].Method
	})
	return keys
}

// SortedSchemaNames returns the snapshot's schema names in lexical order.
func (s *Snapshot) SortedSchemaNames() []string {
	names := make([]string, 0, len(s.Schemas))
	for name := range s.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the snapshot's internal invariants: all endpoints and
// schemas individually valid, and endpoint map keys consistent with the
// signatures they hold.
func (s *Snapshot) Validate() error {
	if s.Service == "" {
		return fmt.Errorf("snapshot has empty service id")
	}
	for key, sig := range s.Endpoints {
		if sig.Key() != key {
			return fmt.Errorf("service %s: endpoint keyed %s holds signature %s", s.Service, key, sig.Key())
		}
		if err := sig.Validate(); err != nil {
			return fmt.Errorf("service %s: %w", s.Service, err)
		}
	}
	for name, schema := range s.Schemas {
		if schema.QualifiedName != name {
			return fmt.Errorf("service %s: schema keyed %q named %q", s.Service, name, schema.QualifiedName)
		}
		if err := schema.Validate(); err != nil {
			return fmt.Errorf("service %s: %w", s.Service, err)
		}
	}
	return nil
}

// ConsumerEdge declares which parts of a provider's surface one consumer
// depends on, derived from the consumer's own client declarations.
//
// UsedMembers optionally narrows usage to individual fields (dotted schema
// members) or query parameter names per subject. A subject absent from
// UsedMembers means extraction could not determine member-level usage for
// it; classification then treats usage as unknown rather than empty.
type ConsumerEdge struct {
	Consumer      ServiceID                  `json:"consumer"`
	Provider      ServiceID                  `json:"provider"`
	UsedEndpoints map[EndpointKey]bool       `json:"-"`
	UsedSchemas   map[string]bool            `json:"-"`
	UsedMembers   map[string]map[string]bool `json:"-"`
}

// UsesSubject reports whether the edge references the given subject id,
// which is either an EndpointKey string ("GET /path") or a schema qualified
// name.
func (e ConsumerEdge) UsesSubject(subject string) bool {
	if e.UsedSchemas[subject] {
		return true
	}
	for k := range e.UsedEndpoints {
		if k.String() == subject {
			return true
		}
	}
	return false
}

// MemberUsage returns the set of member names the consumer touches on the
// given subject, and whether member-level usage is known at all.
func (e ConsumerEdge) MemberUsage(subject string) (map[string]bool, bool) {
	members, ok := e.UsedMembers[subject]
	return members, ok
}
