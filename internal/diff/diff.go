// Package diff computes structural differences between two versions of a
// service contract. Field identity is by name only: a renamed field always
// surfaces as field_removed plus field_added, never as a dedicated rename
// entry, because extraction provides no identity that survives a rename.
package diff

import (
	"sort"
	"strings"

	"github.com/wudi/contractcheck/contract"
)

// Kind names one atomic difference between contract versions.
type Kind string

const (
	FieldAdded                    Kind = "field_added"
	FieldRemoved                  Kind = "field_removed"
	FieldTypeChanged              Kind = "field_type_changed"
	FieldRequirednessChanged      Kind = "field_requiredness_changed"
	FieldNowNullable              Kind = "field_now_nullable"
	FieldNoLongerNullable         Kind = "field_no_longer_nullable"
	EndpointAdded                 Kind = "endpoint_added"
	EndpointRemoved               Kind = "endpoint_removed"
	EndpointMethodChanged         Kind = "endpoint_method_changed"
	PathParamAdded                Kind = "path_param_added"
	PathParamRemoved              Kind = "path_param_removed"
	QueryParamAdded               Kind = "query_param_added"
	QueryParamRemoved             Kind = "query_param_removed"
	QueryParamRequirednessChanged Kind = "query_param_requiredness_changed"
)

// Inverse returns the kind that the mirror-image diff produces for the same
// location when before and after are swapped.
func (k Kind) Inverse() Kind {
	switch k {
	case FieldAdded:
		return FieldRemoved
	case FieldRemoved:
		return FieldAdded
	case FieldNowNullable:
		return FieldNoLongerNullable
	case FieldNoLongerNullable:
		return FieldNowNullable
	case EndpointAdded:
		return EndpointRemoved
	case EndpointRemoved:
		return EndpointAdded
	case PathParamAdded:
		return PathParamRemoved
	case PathParamRemoved:
		return PathParamAdded
	case QueryParamAdded:
		return QueryParamRemoved
	case QueryParamRemoved:
		return QueryParamAdded
	default:
		// Value-carrying kinds invert by swapping before/after.
		return k
	}
}

// Requiredness rendering used in before/after values.
const (
	ValueRequired = "required"
	ValueOptional = "optional"
	ValueNullable = "nullable"
	ValueNonNull  = "non-nullable"
)

// Entry is one atomic difference. Subject identifies the endpoint
// ("GET /scenarios/{id}") or schema (qualified name) the difference belongs
// to; Location is the member path within the subject, dotted for nested
// fields, "query:" prefixed for query parameters and "request."/"response."
// prefixed for body fields of an endpoint.
type Entry struct {
	Kind     Kind   `json:"kind"`
	Subject  string `json:"subject"`
	Location string `json:"location,omitempty"`
	Before   string `json:"before,omitempty"`
	After    string `json:"after,omitempty"`
}

// Member returns the member name the entry refers to, stripped of body and
// query prefixes, for matching against consumer usage sets.
func (e Entry) Member() string {
	loc := e.Location
	loc = strings.TrimPrefix(loc, "request.")
	loc = strings.TrimPrefix(loc, "response.")
	loc = strings.TrimPrefix(loc, "query:")
	return loc
}

// Unresolved records a body schema reference that could not be resolved in
// its snapshot's schema set. The affected subject is unverifiable;
// classification treats it as unknown.
type Unresolved struct {
	Subject string
	Ref     string
}

// Result bundles the entries of one comparison with any unresolved schema
// references encountered along the way.
type Result struct {
	Entries    []Entry
	Unresolved []Unresolved
}

func requiredness(required bool) string {
	if required {
		return ValueRequired
	}
	return ValueOptional
}

// Objects compares two versions of the same DTO and returns the ordered
// entry sequence. Iteration order is before's field order with after-only
// fields appended, so output is deterministic and stable across runs.
func Objects(before, after contract.ObjectSchema) []Entry {
	return objectFields(before.QualifiedName, "", before, after)
}

func objectFields(subject, prefix string, before, after contract.ObjectSchema) []Entry {
	var entries []Entry

	afterByName := make(map[string]contract.FieldSchema, len(after.Fields))
	for _, f := range after.Fields {
		afterByName[f.Name] = f
	}
	beforeByName := make(map[string]contract.FieldSchema, len(before.Fields))

	for _, bf := range before.Fields {
		beforeByName[bf.Name] = bf
		loc := prefix + bf.Name
		af, ok := afterByName[bf.Name]
		if !ok {
			entries = append(entries, Entry{Kind: FieldRemoved, Subject: subject, Location: loc, Before: bf.Type.String()})
			continue
		}
		entries = append(entries, fieldChanges(subject, loc, bf, af)...)
	}

	for _, af := range after.Fields {
		if _, ok := beforeByName[af.Name]; ok {
			continue
		}
		entries = append(entries, Entry{Kind: FieldAdded, Subject: subject, Location: prefix + af.Name, After: af.Type.String()})
	}

	return entries
}

// fieldChanges compares one field present on both sides. Nested object and
// array-of-object types recurse; their entries are flattened into the parent
// sequence with a dotted location path.
func fieldChanges(subject, loc string, before, after contract.FieldSchema) []Entry {
	var entries []Entry

	bt, at := before.Type, after.Type
	switch {
	case bt.Kind == contract.KindObject && at.Kind == contract.KindObject && bt.Object != nil && at.Object != nil:
		entries = append(entries, objectFields(subject, loc+".", *bt.Object, *at.Object)...)
	case bt.Kind == contract.KindArray && at.Kind == contract.KindArray && bt.Elem != nil && at.Elem != nil &&
		bt.Elem.Type.Kind == contract.KindObject && at.Elem.Type.Kind == contract.KindObject &&
		bt.Elem.Type.Object != nil && at.Elem.Type.Object != nil:
		entries = append(entries, objectFields(subject, loc+"[].", *bt.Elem.Type.Object, *at.Elem.Type.Object)...)
	default:
		if !bt.Equal(at) {
			entries = append(entries, Entry{Kind: FieldTypeChanged, Subject: subject, Location: loc, Before: bt.String(), After: at.String()})
		}
	}

	if before.Required != after.Required {
		entries = append(entries, Entry{
			Kind: FieldRequirednessChanged, Subject: subject, Location: loc,
			Before: requiredness(before.Required), After: requiredness(after.Required),
		})
	}
	if before.Nullable != after.Nullable {
		kind := FieldNowNullable
		b, a := ValueNonNull, ValueNullable
		if before.Nullable {
			kind = FieldNoLongerNullable
			b, a = ValueNullable, ValueNonNull
		}
		entries = append(entries, Entry{Kind: kind, Subject: subject, Location: loc, Before: b, After: a})
	}

	return entries
}

// Endpoint compares two versions of the same endpoint signature. Body
// references are resolved against the schema sets of the owning snapshots;
// a reference missing on either side is reported as unresolved rather than
// diffed.
func Endpoint(before, after contract.EndpointSignature, beforeSchemas, afterSchemas map[string]contract.ObjectSchema) Result {
	subject := before.Key().String()
	var res Result

	if before.Method != after.Method {
		res.Entries = append(res.Entries, Entry{
			Kind: EndpointMethodChanged, Subject: subject,
			Before: string(before.Method), After: string(after.Method),
		})
	}

	for _, p := range sortedSet(before.PathParams) {
		if !after.PathParams[p] {
			res.Entries = append(res.Entries, Entry{Kind: PathParamRemoved, Subject: subject, Location: p, Before: p})
		}
	}
	for _, p := range sortedSet(after.PathParams) {
		if !before.PathParams[p] {
			// Path templates carry no defaults, so an added path param is
			// just as breaking as a removed one; the classifier decides.
			res.Entries = append(res.Entries, Entry{Kind: PathParamAdded, Subject: subject, Location: p, After: p})
		}
	}

	for _, name := range sortedParamNames(before.QueryParams) {
		bq := before.QueryParams[name]
		aq, ok := after.QueryParams[name]
		if !ok {
			res.Entries = append(res.Entries, Entry{
				Kind: QueryParamRemoved, Subject: subject, Location: "query:" + name,
				Before: requiredness(bq.Required),
			})
			continue
		}
		if bq.Required != aq.Required {
			res.Entries = append(res.Entries, Entry{
				Kind: QueryParamRequirednessChanged, Subject: subject, Location: "query:" + name,
				Before: requiredness(bq.Required), After: requiredness(aq.Required),
			})
		}
		if !bq.Type.Equal(aq.Type) {
			res.Entries = append(res.Entries, Entry{
				Kind: FieldTypeChanged, Subject: subject, Location: "query:" + name,
				Before: bq.Type.String(), After: aq.Type.String(),
			})
		}
	}
	for _, name := range sortedParamNames(after.QueryParams) {
		if _, ok := before.QueryParams[name]; ok {
			continue
		}
		aq := after.QueryParams[name]
		res.Entries = append(res.Entries, Entry{
			Kind: QueryParamAdded, Subject: subject, Location: "query:" + name,
			After: requiredness(aq.Required),
		})
	}

	res.merge(bodyDiff(subject, "request.", before.RequestBody, after.RequestBody, beforeSchemas, afterSchemas))
	res.merge(bodyDiff(subject, "response.", before.ResponseBody, after.ResponseBody, beforeSchemas, afterSchemas))

	return res
}

// bodyDiff diffs a request or response body reference pair. A body present
// on only one side is diffed against the empty schema so each field surfaces
// individually.
func bodyDiff(subject, prefix, beforeRef, afterRef string, beforeSchemas, afterSchemas map[string]contract.ObjectSchema) Result {
	var res Result
	if beforeRef == "" && afterRef == "" {
		return res
	}

	var beforeSchema, afterSchema contract.ObjectSchema
	if beforeRef != "" {
		s, ok := beforeSchemas[beforeRef]
		if !ok {
			res.Unresolved = append(res.Unresolved, Unresolved{Subject: subject, Ref: beforeRef})
			return res
		}
		beforeSchema = s
	}
	if afterRef != "" {
		s, ok := afterSchemas[afterRef]
		if !ok {
			res.Unresolved = append(res.Unresolved, Unresolved{Subject: subject, Ref: afterRef})
			return res
		}
		afterSchema = s
	}

	res.Entries = append(res.Entries, objectFields(subject, prefix, beforeSchema, afterSchema)...)
	return res
}

// Snapshots compares two snapshots of the same service across their whole
// surface: every named schema plus every endpoint. Iteration is sorted so
// output order is deterministic regardless of map order.
//
// An endpoint whose path survives but whose method changed would otherwise
// pair as one removal plus one addition; when a removed and an added
// endpoint share a path unambiguously they are correlated into a single
// endpoint_method_changed entry.
func Snapshots(before, after *contract.Snapshot) Result {
	var res Result

	for _, name := range before.SortedSchemaNames() {
		bs := before.Schemas[name]
		as, ok := after.Schemas[name]
		if !ok {
			// Schema dropped wholesale: every field is removed.
			res.Entries = append(res.Entries, objectFields(name, "", bs, contract.ObjectSchema{QualifiedName: name})...)
			continue
		}
		res.Entries = append(res.Entries, Objects(bs, as)...)
	}
	for _, name := range after.SortedSchemaNames() {
		if _, ok := before.Schemas[name]; ok {
			continue
		}
		as := after.Schemas[name]
		res.Entries = append(res.Entries, objectFields(name, "", contract.ObjectSchema{QualifiedName: name}, as)...)
	}

	removedByPath := make(map[string][]contract.EndpointKey)
	addedByPath := make(map[string][]contract.EndpointKey)
	for _, key := range before.SortedEndpointKeys() {
		if _, ok := after.Endpoints[key]; !ok {
			removedByPath[key.Path] = append(removedByPath[key.Path], key)
		}
	}
	for _, key := range after.SortedEndpointKeys() {
		if _, ok := before.Endpoints[key]; !ok {
			addedByPath[key.Path] = append(addedByPath[key.Path], key)
		}
	}

	correlated := make(map[contract.EndpointKey]contract.EndpointKey)
	for path, removed := range removedByPath {
		added := addedByPath[path]
		if len(removed) == 1 && len(added) == 1 {
			correlated[removed[0]] = added[0]
		}
	}

	for _, key := range before.SortedEndpointKeys() {
		bsig := before.Endpoints[key]
		asig, ok := after.Endpoints[key]
		if ok {
			res.merge(Endpoint(bsig, asig, before.Schemas, after.Schemas))
			continue
		}
		if newKey, ok := correlated[key]; ok {
			res.merge(Endpoint(bsig, after.Endpoints[newKey], before.Schemas, after.Schemas))
			continue
		}
		res.Entries = append(res.Entries, Entry{Kind: EndpointRemoved, Subject: key.String(), Before: key.String()})
	}
	for _, key := range after.SortedEndpointKeys() {
		if _, ok := before.Endpoints[key]; ok {
			continue
		}
		claimed := false
		for _, newKey := range correlated {
			if newKey == key {
				claimed = true
				break
			}
		}
		if claimed {
			continue
		}
		res.Entries = append(res.Entries, Entry{Kind: EndpointAdded, Subject: key.String(), After: key.String()})
	}

	return res
}

func (r *Result) merge(other Result) {
	r.Entries = append(r.Entries, other.Entries...)
	r.Unresolved = append(r.Unresolved, other.Unresolved...)
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedParamNames(params map[string]contract.QueryParam) []string {
	out := make([]string, 0, len(params))
	for k := range params {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
