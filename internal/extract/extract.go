// Package extract defines the capability the engine requires from any
// source-scanning front-end, and a parallel runner that turns a set of
// per-service extractions into one engine input. The engine itself never
// depends on a particular source ecosystem; adapters plug in per format.
package extract

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/contractcheck/contract"
)

// ExtractionError wraps one service's adapter failure. It is never fatal to
// a run; the engine turns it into unknown verdicts for that provider.
type ExtractionError struct {
	Service contract.ServiceID
	Path    string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s from %s: %v", e.Service, e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Adapter turns one service's source tree or exported artifact into a
// contract snapshot plus the consumer edges that service declares toward
// other providers.
type Adapter interface {
	Extract(ctx context.Context, path string) (*contract.Snapshot, []contract.ConsumerEdge, error)
}

// Source names one extraction unit: where to scan and with what.
type Source struct {
	Service contract.ServiceID
	Path    string
	Adapter Adapter
}

// Result is the joined outcome of extracting every source. A source whose
// adapter failed appears in Failures instead of Snapshots; the run itself
// never fails on individual services.
type Result struct {
	Snapshots []*contract.Snapshot
	Edges     []contract.ConsumerEdge
	Failures  map[contract.ServiceID]error
}

// Run extracts all sources in parallel and joins the results. Services are
// independent, so extraction order carries no meaning; output is sorted by
// service id so downstream processing is deterministic.
func Run(ctx context.Context, sources []Source, concurrency int, logger *zap.Logger) Result {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	res := Result{Failures: make(map[contract.ServiceID]error)}
	var mu sync.Mutex

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(concurrency)
	for _, src := range sources {
		grp.Go(func() error {
			snap, edges, err := src.Adapter.Extract(ctx, src.Path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("extraction failed",
					zap.String("service", string(src.Service)),
					zap.String("path", src.Path),
					zap.Error(err),
				)
				res.Failures[src.Service] = &ExtractionError{Service: src.Service, Path: src.Path, Err: err}
				return nil
			}
			res.Snapshots = append(res.Snapshots, snap)
			res.Edges = append(res.Edges, edges...)
			return nil
		})
	}
	grp.Wait()

	sort.Slice(res.Snapshots, func(i, j int) bool { return res.Snapshots[i].Service < res.Snapshots[j].Service })
	sort.Slice(res.Edges, func(i, j int) bool {
		if res.Edges[i].Consumer != res.Edges[j].Consumer {
			return res.Edges[i].Consumer < res.Edges[j].Consumer
		}
		return res.Edges[i].Provider < res.Edges[j].Provider
	})
	return res
}
