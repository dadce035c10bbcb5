// Package compat turns raw diff entries into per-consumer compatibility
// verdicts. Classification follows a closed table per diff kind; the
// aggregate for a (subject, consumer) pair is the worst classification
// across the entries that apply to what the consumer actually uses.
package compat

import (
	"fmt"
	"strings"

	"github.com/wudi/contractcheck/contract"
	"github.com/wudi/contractcheck/internal/diff"
)

// Classification is the verdict for one diff entry or one subject.
type Classification string

const (
	Compatible Classification = "compatible"
	Unknown    Classification = "unknown"
	Breaking   Classification = "breaking"
)

// rank orders classifications for worst-case aggregation.
func rank(c Classification) int {
	switch c {
	case Breaking:
		return 2
	case Unknown:
		return 1
	default:
		return 0
	}
}

// Worst returns the more severe of two classifications.
func Worst(a, b Classification) Classification {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// Verdict is the compatibility decision for one subject as seen by one
// consumer. Reasons holds the diff entries that produced the decision, in
// diff order.
type Verdict struct {
	Subject        string             `json:"subject"`
	Consumer       contract.ServiceID `json:"consumer"`
	Classification Classification     `json:"classification"`
	Reasons        []diff.Entry       `json:"reasons,omitempty"`
}

// Usage is the member-level slice of one consumer's dependency on one
// subject: field paths for schemas, parameter and body-field names for
// endpoints. A nil Usage means extraction could not determine member-level
// usage, which is different from an empty set.
type Usage struct {
	Members map[string]bool
}

// References reports whether the usage set touches the given member path.
// Matching works in both directions along segment boundaries: a consumer
// that reads "address" or "address.zip" depends on "address.zip.code", and
// one that reads "address.zip" is affected by a change at "address".
func (u *Usage) References(member string) bool {
	if u == nil || u.Members == nil {
		return false
	}
	if u.Members[member] {
		return true
	}
	for i := 0; i < len(member); i++ {
		if member[i] != '.' && member[i] != '[' {
			continue
		}
		if u.Members[member[:i]] {
			return true
		}
	}
	for used := range u.Members {
		if len(used) > len(member) && strings.HasPrefix(used, member) &&
			(used[len(member)] == '.' || used[len(member)] == '[') {
			return true
		}
	}
	return false
}

// known reports whether member-level usage data is available at all.
func (u *Usage) known() bool {
	return u != nil && u.Members != nil
}

// Outcome is the result of classifying one entry sequence for one consumer.
type Outcome struct {
	Classification Classification
	Reasons        []diff.Entry
	Warnings       []string
}

// memberScoped reports whether the entry's effect is limited to a single
// pre-existing member, making it filterable by the consumer's usage set.
func memberScoped(e diff.Entry) bool {
	switch e.Kind {
	case diff.FieldRemoved, diff.FieldTypeChanged, diff.FieldRequirednessChanged,
		diff.FieldNowNullable, diff.FieldNoLongerNullable,
		diff.QueryParamRemoved, diff.QueryParamRequirednessChanged:
		return true
	}
	return false
}

// fieldLevel reports whether the entry is a field diff on DTO data (schema
// subject or request/response body), as opposed to endpoint plumbing.
func fieldLevel(e diff.Entry) bool {
	switch e.Kind {
	case diff.FieldAdded, diff.FieldRemoved, diff.FieldTypeChanged,
		diff.FieldRequirednessChanged, diff.FieldNowNullable, diff.FieldNoLongerNullable:
		return !strings.HasPrefix(e.Location, "query:")
	}
	return false
}

// enumWidening reports whether a type change is an enum growing its value
// set, using the diff's "enum[v1,v2,...]" rendering.
func enumWidening(before, after string) bool {
	bvals, bok := enumValues(before)
	avals, aok := enumValues(after)
	if !bok || !aok || len(avals) <= len(bvals) {
		return false
	}
	for v := range bvals {
		if !avals[v] {
			return false
		}
	}
	return true
}

func enumValues(rendered string) (map[string]bool, bool) {
	inner, ok := strings.CutPrefix(rendered, "enum[")
	if !ok || !strings.HasSuffix(inner, "]") {
		return nil, false
	}
	inner = strings.TrimSuffix(inner, "]")
	out := make(map[string]bool)
	if inner == "" {
		return out, true
	}
	for _, v := range strings.Split(inner, ",") {
		out[v] = true
	}
	return out, true
}

// classifyEntry applies the closed per-kind table. The bool result reports
// whether the entry applies to this consumer at all.
func classifyEntry(e diff.Entry, usage *Usage) (Classification, bool, string) {
	switch e.Kind {
	case diff.FieldRemoved, diff.EndpointRemoved, diff.EndpointMethodChanged,
		diff.PathParamRemoved, diff.PathParamAdded, diff.FieldTypeChanged, diff.FieldNoLongerNullable:
		// Path templates have no defaults, so an added path parameter
		// breaks every caller-built URL just like a removed one.
		if memberScoped(e) && usage.known() && !usage.References(e.Member()) {
			return Compatible, false, ""
		}
		if e.Kind == diff.FieldTypeChanged && enumWidening(e.Before, e.After) {
			// A strict superset of enum values accepts everything the
			// consumer already sends and reads.
			return Compatible, true, ""
		}
		return Breaking, true, ""

	case diff.FieldRequirednessChanged, diff.QueryParamRequirednessChanged:
		if usage.known() && !usage.References(e.Member()) {
			return Compatible, false, ""
		}
		if e.After == diff.ValueRequired {
			return Breaking, true, ""
		}
		return Compatible, true, ""

	case diff.QueryParamAdded:
		if e.After == diff.ValueRequired {
			return Breaking, true, ""
		}
		return Compatible, true, ""

	case diff.QueryParamRemoved:
		if !usage.known() {
			return Unknown, true, ""
		}
		if usage.References(e.Member()) {
			return Breaking, true, ""
		}
		return Compatible, true, fmt.Sprintf("subject %s: query parameter %q removed; no known consumer usage references it", e.Subject, e.Member())

	case diff.FieldAdded, diff.EndpointAdded, diff.FieldNowNullable:
		if memberScoped(e) && usage.known() && !usage.References(e.Member()) {
			return Compatible, false, ""
		}
		return Compatible, true, ""

	default:
		return Unknown, true, ""
	}
}

// Classify aggregates a subject's diff entries into one consumer's outcome.
//
// When usage is nil the engine cannot prove what the consumer touches, so
// any field-level entry that would otherwise be compatible escalates to
// Unknown instead: an unverifiable change is never silently downgraded to
// compatible.
func Classify(entries []diff.Entry, usage *Usage) Outcome {
	out := Outcome{Classification: Compatible}

	for _, e := range entries {
		cls, applies, warning := classifyEntry(e, usage)
		if !applies {
			continue
		}
		if !usage.known() && cls == Compatible && fieldLevel(e) {
			cls = Unknown
		}
		out.Classification = Worst(out.Classification, cls)
		out.Reasons = append(out.Reasons, e)
		if warning != "" {
			out.Warnings = append(out.Warnings, warning)
		}
	}

	return out
}
