// Package engine orchestrates one full contract compatibility analysis:
// graph build, per-service diffing, per-consumer classification, and
// rollout planning, packaged into a report for an external renderer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/contractcheck/contract"
	"github.com/wudi/contractcheck/internal/compat"
	"github.com/wudi/contractcheck/internal/diff"
	"github.com/wudi/contractcheck/internal/graph"
	"github.com/wudi/contractcheck/internal/metrics"
	"github.com/wudi/contractcheck/internal/report"
	"github.com/wudi/contractcheck/internal/rollout"
)

// Input is one analysis request: the current contract surface of every
// service, the proposed surface for the services being changed, the
// consumer edge declarations, and any per-service extraction failures the
// caller wants recorded instead of snapshots.
type Input struct {
	Current  []*contract.Snapshot
	Proposed []*contract.Snapshot
	Edges    []contract.ConsumerEdge
	Failures map[contract.ServiceID]error
}

// Options configures an Engine. Zero values are usable: logging is
// disabled and diffing runs with a small default parallelism.
type Options struct {
	Logger      *zap.Logger
	Metrics     *metrics.Collector
	Concurrency int
}

// Engine is a stateless analyzer; one instance may serve concurrent
// Analyze calls.
type Engine struct {
	logger      *zap.Logger
	metrics     *metrics.Collector
	concurrency int
}

// New creates an engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Engine{logger: logger, metrics: opts.Metrics, concurrency: concurrency}
}

// serviceResult is the diff outcome for one proposed service.
type serviceResult struct {
	service contract.ServiceID
	result  diff.Result
}

// Analyze runs the full pipeline. It returns an error only on fatal
// invariant violations (duplicate service ids); everything else degrades
// into warnings or Unknown verdicts so a best-effort report always comes
// back. A breaking-change cycle voids only the rollout plan.
func (e *Engine) Analyze(ctx context.Context, in Input) (*report.Report, error) {
	start := time.Now()

	// failed accumulates every per-service input failure: extraction errors
	// from the caller plus snapshots dropped by validation. Consumers of a
	// failed provider get Unknown verdicts either way.
	failed := make(map[contract.ServiceID]error, len(in.Failures))
	for svc, ferr := range in.Failures {
		failed[svc] = ferr
	}

	current, warnings := e.usableSnapshots(in.Current, failed)

	g, buildWarnings, err := graph.Build(current, in.Edges)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ObserveFailure()
		}
		return nil, err
	}
	warnings = append(warnings, buildWarnings...)

	results, diffWarnings, err := e.diffAll(ctx, g, in.Proposed, failed)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, diffWarnings...)

	rep := &report.Report{
		RunID:     uuid.NewString(),
		Timestamp: start.UTC(),
		Graph:     g,
	}

	subjectOwner := make(map[string]contract.ServiceID)
	entryCount := 0
	for _, sr := range results {
		entryCount += len(sr.result.Entries)
		for _, entry := range sr.result.Entries {
			subjectOwner[entry.Subject] = sr.service
		}
		for _, u := range sr.result.Unresolved {
			subjectOwner[u.Subject] = sr.service
			warnings = append(warnings, fmt.Sprintf(
				"service %s: subject %s references schema %q not present in the snapshot; affected verdicts are unknown",
				sr.service, u.Subject, u.Ref))
		}
		verdicts, vWarnings := e.classifyService(g, sr)
		rep.Verdicts = append(rep.Verdicts, verdicts...)
		warnings = append(warnings, vWarnings...)
	}

	rep.Verdicts = append(rep.Verdicts, e.failureVerdicts(g, failed)...)

	sort.Slice(rep.Verdicts, func(i, j int) bool {
		if rep.Verdicts[i].Subject != rep.Verdicts[j].Subject {
			return rep.Verdicts[i].Subject < rep.Verdicts[j].Subject
		}
		return rep.Verdicts[i].Consumer < rep.Verdicts[j].Consumer
	})

	if e.metrics != nil {
		for _, v := range rep.Verdicts {
			e.metrics.ObserveVerdict(string(v.Classification))
		}
	}

	breaking := rep.BreakingSubjects(func(subject string) (contract.ServiceID, bool) {
		owner, ok := subjectOwner[subject]
		return owner, ok
	})

	plan, err := rollout.Compute(g, breaking)
	if err != nil {
		var cyclic *rollout.CyclicDependencyError
		if !errors.As(err, &cyclic) {
			return nil, err
		}
		warnings = append(warnings, "rollout plan omitted: "+cyclic.Error())
		e.logger.Warn("rollout planning failed", zap.Error(cyclic))
	} else {
		rep.Rollout = plan
	}

	rep.Warnings = warnings

	if e.metrics != nil {
		e.metrics.ObserveRun(time.Since(start), entryCount, len(warnings))
	}
	e.logger.Info("analysis complete",
		zap.String("run_id", rep.RunID),
		zap.Int("services", len(g.Services)),
		zap.Int("diff_entries", entryCount),
		zap.Int("verdicts", len(rep.Verdicts)),
		zap.Bool("breaking", rep.HasBreaking()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return rep, nil
}

// usableSnapshots filters out snapshots for services whose extraction
// failed and any snapshot that fails validation. Both degrade to warnings
// and an entry in failed; the affected service is analyzed as unknown, not
// aborted.
func (e *Engine) usableSnapshots(snaps []*contract.Snapshot, failed map[contract.ServiceID]error) ([]*contract.Snapshot, []string) {
	var out []*contract.Snapshot
	var warnings []string
	for _, snap := range snaps {
		if ferr, ok := failed[snap.Service]; ok {
			warnings = append(warnings, fmt.Sprintf("service %s: extraction failed, analyzed as unknown: %v", snap.Service, ferr))
			continue
		}
		if err := snap.Validate(); err != nil {
			failed[snap.Service] = err
			warnings = append(warnings, fmt.Sprintf("invalid snapshot dropped, service analyzed as unknown: %v", err))
			continue
		}
		out = append(out, snap)
	}
	return out, warnings
}

// diffAll compares current and proposed snapshots per service. Services
// are independent, so diffing runs in parallel; results are re-sorted by
// service id afterwards to keep emission deterministic.
func (e *Engine) diffAll(ctx context.Context, g *graph.Graph, snaps []*contract.Snapshot, failed map[contract.ServiceID]error) ([]serviceResult, []string, error) {
	var proposed []*contract.Snapshot
	var warnings []string
	for _, snap := range snaps {
		if _, bad := failed[snap.Service]; bad {
			continue
		}
		if err := snap.Validate(); err != nil {
			failed[snap.Service] = err
			warnings = append(warnings, fmt.Sprintf("invalid proposed snapshot dropped, service analyzed as unknown: %v", err))
			continue
		}
		proposed = append(proposed, snap)
	}

	var (
		mu      sync.Mutex
		results []serviceResult
	)
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(e.concurrency)

	for _, snap := range proposed {
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			before, ok := g.Snapshots[snap.Service]
			if !ok {
				// New service: everything it exposes is an addition.
				before = &contract.Snapshot{Service: snap.Service}
			}
			res := diff.Snapshots(before, snap)
			e.logger.Debug("service diffed",
				zap.String("service", string(snap.Service)),
				zap.Int("entries", len(res.Entries)),
			)
			mu.Lock()
			results = append(results, serviceResult{service: snap.Service, result: res})
			mu.Unlock()
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].service < results[j].service })
	return results, warnings, nil
}

// classifyService produces one verdict per (changed subject, consumer that
// uses it). Subjects nobody consumes yield no verdict; the diff entries
// still count toward run metrics and remain visible through warnings when
// they are unverifiable.
func (e *Engine) classifyService(g *graph.Graph, sr serviceResult) ([]compat.Verdict, []string) {
	bySubject := make(map[string][]diff.Entry)
	var subjects []string
	for _, entry := range sr.result.Entries {
		if _, ok := bySubject[entry.Subject]; !ok {
			subjects = append(subjects, entry.Subject)
		}
		bySubject[entry.Subject] = append(bySubject[entry.Subject], entry)
	}
	unresolvedSubjects := make(map[string]bool)
	for _, u := range sr.result.Unresolved {
		unresolvedSubjects[u.Subject] = true
		if _, ok := bySubject[u.Subject]; !ok {
			subjects = append(subjects, u.Subject)
		}
	}
	sort.Strings(subjects)

	var verdicts []compat.Verdict
	var warnings []string

	for _, edge := range g.ConsumersOf(sr.service) {
		for _, subject := range subjects {
			if !edge.UsesSubject(subject) {
				continue
			}
			var usage *compat.Usage
			if members, known := edge.MemberUsage(subject); known {
				usage = &compat.Usage{Members: members}
			}
			out := compat.Classify(bySubject[subject], usage)
			if unresolvedSubjects[subject] {
				out.Classification = compat.Worst(out.Classification, compat.Unknown)
			}
			if len(out.Reasons) == 0 && out.Classification == compat.Compatible && !unresolvedSubjects[subject] {
				continue
			}
			verdicts = append(verdicts, compat.Verdict{
				Subject:        subject,
				Consumer:       edge.Consumer,
				Classification: out.Classification,
				Reasons:        out.Reasons,
			})
			warnings = append(warnings, out.Warnings...)
		}
	}

	return verdicts, warnings
}

// failureVerdicts emits an Unknown verdict per consumer of each service
// whose input failed, whether extraction errored or its snapshot was
// invalid: without a usable snapshot nothing about the provider's surface
// can be proven.
func (e *Engine) failureVerdicts(g *graph.Graph, failed map[contract.ServiceID]error) []compat.Verdict {
	var services []contract.ServiceID
	for svc := range failed {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i] < services[j] })

	var verdicts []compat.Verdict
	for _, svc := range services {
		for _, edge := range g.ConsumersOf(svc) {
			verdicts = append(verdicts, compat.Verdict{
				Subject:        string(svc),
				Consumer:       edge.Consumer,
				Classification: compat.Unknown,
			})
		}
	}
	return verdicts
}
