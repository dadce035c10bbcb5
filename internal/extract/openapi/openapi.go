// Package openapi adapts an OpenAPI 3 document into a contract snapshot.
// An OpenAPI spec is one provider's exported surface; it declares nothing
// about what the service consumes, so the adapter emits no consumer edges.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/wudi/contractcheck/contract"
)

// Adapter extracts a snapshot from an OpenAPI 3 spec file.
type Adapter struct {
	Service contract.ServiceID
}

// Extract loads and validates the spec at path and converts it.
func (a Adapter) Extract(ctx context.Context, path string) (*contract.Snapshot, []contract.ConsumerEdge, error) {
	loader := &openapi3.Loader{Context: ctx, IsExternalRefsAllowed: true}
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load OpenAPI spec: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, nil, fmt.Errorf("invalid OpenAPI spec: %w", err)
	}
	snap, err := a.Convert(doc)
	if err != nil {
		return nil, nil, err
	}
	return snap, nil, nil
}

// Convert maps an already-loaded document into a snapshot.
func (a Adapter) Convert(doc *openapi3.T) (*contract.Snapshot, error) {
	snap := &contract.Snapshot{
		Service:   a.Service,
		Endpoints: make(map[contract.EndpointKey]contract.EndpointSignature),
		Schemas:   make(map[string]contract.ObjectSchema),
	}
	if doc.Info != nil {
		snap.Version = doc.Info.Version
	}

	conv := &converter{schemas: snap.Schemas}

	if doc.Components != nil {
		names := make([]string, 0, len(doc.Components.Schemas))
		for name := range doc.Components.Schemas {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ref := doc.Components.Schemas[name]
			if ref == nil || ref.Value == nil {
				continue
			}
			snap.Schemas[name] = conv.objectSchema(name, ref.Value)
		}
	}

	if doc.Paths != nil {
		for path, item := range doc.Paths.Map() {
			for method, op := range item.Operations() {
				m := contract.Method(strings.ToUpper(method))
				if !contract.ValidMethods[m] {
					continue
				}
				sig, err := conv.endpoint(m, path, item, op)
				if err != nil {
					return nil, fmt.Errorf("endpoint %s %s: %w", method, path, err)
				}
				snap.Endpoints[sig.Key()] = sig
			}
		}
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// converter tracks in-progress schema conversions to terminate on
// reference cycles.
type converter struct {
	schemas  map[string]contract.ObjectSchema
	visiting map[string]bool
}

func (c *converter) endpoint(method contract.Method, path string, item *openapi3.PathItem, op *openapi3.Operation) (contract.EndpointSignature, error) {
	sig := contract.EndpointSignature{
		Method:     method,
		Path:       path,
		PathParams: make(map[string]bool),
	}
	// Template placeholders count as declared path params even when the
	// spec omits the parameter object.
	for _, p := range contract.PathTemplateParams(path) {
		sig.PathParams[p] = true
	}

	params := append(openapi3.Parameters{}, item.Parameters...)
	params = append(params, op.Parameters...)
	for _, pref := range params {
		if pref == nil || pref.Value == nil {
			continue
		}
		p := pref.Value
		switch p.In {
		case openapi3.ParameterInPath:
			sig.PathParams[p.Name] = true
		case openapi3.ParameterInQuery:
			if sig.QueryParams == nil {
				sig.QueryParams = make(map[string]contract.QueryParam)
			}
			qp := contract.QueryParam{Required: p.Required, Type: contract.Unknown()}
			if p.Schema != nil && p.Schema.Value != nil {
				qp.Type = c.typeTag(refName(p.Schema), p.Schema.Value)
			}
			sig.QueryParams[p.Name] = qp
		}
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		sig.RequestBody = c.bodyRef(bodyName(string(method), path, "Request"), op.RequestBody.Value.Content)
	}
	if op.Responses != nil {
		sig.ResponseBody = c.responseRef(string(method), path, op.Responses)
	}

	return sig, nil
}

// responseRef picks the lowest 2xx response carrying a schema.
func (c *converter) responseRef(method, path string, responses *openapi3.Responses) string {
	codes := make([]string, 0, responses.Len())
	for code := range responses.Map() {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if !strings.HasPrefix(code, "2") {
			continue
		}
		resp := responses.Value(code)
		if resp == nil || resp.Value == nil {
			continue
		}
		if ref := c.bodyRef(bodyName(method, path, "Response"), resp.Value.Content); ref != "" {
			return ref
		}
	}
	return ""
}

// bodyRef registers the body schema under its component name, or under a
// synthesized name when the schema is inline, and returns the reference.
func (c *converter) bodyRef(fallback string, content openapi3.Content) string {
	mt := content.Get("application/json")
	if mt == nil {
		// Take any media type rather than none; contract analysis cares
		// about structure, not encoding.
		for _, v := range content {
			mt = v
			break
		}
	}
	if mt == nil || mt.Schema == nil || mt.Schema.Value == nil {
		return ""
	}
	name := refName(mt.Schema)
	if name == "" {
		name = fallback
	}
	if _, ok := c.schemas[name]; !ok {
		c.schemas[name] = c.objectSchema(name, mt.Schema.Value)
	}
	return name
}

// objectSchema converts an OpenAPI object schema. Property iteration is
// sorted: OpenAPI property maps carry no order, so lexical order stands in
// as the stable insertion order.
func (c *converter) objectSchema(name string, s *openapi3.Schema) contract.ObjectSchema {
	obj := contract.ObjectSchema{QualifiedName: name}
	if c.visiting == nil {
		c.visiting = make(map[string]bool)
	}
	if c.visiting[name] {
		return obj
	}
	c.visiting[name] = true
	defer delete(c.visiting, name)

	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}

	props := make([]string, 0, len(s.Properties))
	for p := range s.Properties {
		props = append(props, p)
	}
	sort.Strings(props)

	for _, prop := range props {
		ref := s.Properties[prop]
		if ref == nil || ref.Value == nil {
			obj.Fields = append(obj.Fields, contract.FieldSchema{Name: prop, Type: contract.Unknown(), Required: required[prop]})
			continue
		}
		obj.Fields = append(obj.Fields, contract.FieldSchema{
			Name:     prop,
			Type:     c.typeTag(refName(ref), ref.Value),
			Required: required[prop],
			Nullable: ref.Value.Nullable,
		})
	}
	return obj
}

// typeTag maps an OpenAPI schema to the engine's closed type tag.
func (c *converter) typeTag(name string, s *openapi3.Schema) contract.TypeTag {
	if len(s.Enum) > 0 {
		values := make([]string, 0, len(s.Enum))
		for _, v := range s.Enum {
			values = append(values, fmt.Sprint(v))
		}
		return contract.EnumOf(values...)
	}

	switch schemaType(s) {
	case "string", "integer", "number", "boolean":
		return contract.Primitive(schemaType(s))
	case "array":
		if s.Items == nil || s.Items.Value == nil {
			return contract.ArrayOf(contract.FieldSchema{Type: contract.Unknown()})
		}
		return contract.ArrayOf(contract.FieldSchema{
			Type:     c.typeTag(refName(s.Items), s.Items.Value),
			Nullable: s.Items.Value.Nullable,
		})
	case "object":
		qualified := name
		if qualified == "" {
			qualified = "(inline)"
		}
		return contract.ObjectOf(c.objectSchema(qualified, s))
	default:
		return contract.Unknown()
	}
}

func schemaType(s *openapi3.Schema) string {
	if s.Type == nil {
		if len(s.Properties) > 0 {
			return "object"
		}
		return ""
	}
	types := s.Type.Slice()
	if len(types) == 0 {
		return ""
	}
	return types[0]
}

// refName extracts the component name from a schema reference like
// "#/components/schemas/ScenarioDto".
func refName(ref *openapi3.SchemaRef) string {
	if ref == nil || ref.Ref == "" {
		return ""
	}
	parts := strings.Split(ref.Ref, "/")
	return parts[len(parts)-1]
}

// bodyName synthesizes a stable name for an inline body schema.
func bodyName(method, path, kind string) string {
	sanitized := strings.NewReplacer("/", "-", "{", "", "}", "").Replace(path)
	sanitized = strings.Trim(sanitized, "-")
	return fmt.Sprintf("%s-%s-%s", strings.ToLower(method), sanitized, strings.ToLower(kind))
}
