// Package report defines the structured analysis result handed to an
// external renderer. Rendering to text, Markdown, or tables is not this
// engine's concern.
package report

import (
	"time"

	"github.com/wudi/contractcheck/contract"
	"github.com/wudi/contractcheck/internal/compat"
	"github.com/wudi/contractcheck/internal/graph"
	"github.com/wudi/contractcheck/internal/rollout"
)

// Report is the full result of one analysis run. Verdicts are sorted by
// (subject, consumer) and warnings are ordered, so serialized output is
// byte-stable for identical inputs regardless of internal parallelism.
//
// Rollout is nil when the breaking-change subgraph contained a cycle; the
// cycle's members are then named in Warnings and the rest of the report is
// still populated.
type Report struct {
	RunID     string           `json:"run_id"`
	Timestamp time.Time        `json:"timestamp"`
	Graph     *graph.Graph     `json:"graph"`
	Verdicts  []compat.Verdict `json:"verdicts"`
	Rollout   *rollout.Plan    `json:"rollout,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
}

// BreakingSubjects groups breaking verdict subjects by providing service,
// in the shape the rollout planner consumes.
func (r *Report) BreakingSubjects(subjectOwner func(subject string) (contract.ServiceID, bool)) map[contract.ServiceID]map[string]bool {
	out := make(map[contract.ServiceID]map[string]bool)
	for _, v := range r.Verdicts {
		if v.Classification != compat.Breaking {
			continue
		}
		owner, ok := subjectOwner(v.Subject)
		if !ok {
			continue
		}
		if out[owner] == nil {
			out[owner] = make(map[string]bool)
		}
		out[owner][v.Subject] = true
	}
	return out
}

// HasBreaking reports whether any verdict in the report is breaking.
func (r *Report) HasBreaking() bool {
	for _, v := range r.Verdicts {
		if v.Classification == compat.Breaking {
			return true
		}
	}
	return false
}
