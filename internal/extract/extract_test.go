package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/contractcheck/contract"
)

// fakeAdapter returns a canned snapshot keyed by service, or fails.
type fakeAdapter struct {
	service contract.ServiceID
	edges   []contract.ConsumerEdge
	err     error
}

func (f fakeAdapter) Extract(ctx context.Context, path string) (*contract.Snapshot, []contract.ConsumerEdge, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return &contract.Snapshot{Service: f.service}, f.edges, nil
}

func TestRunJoinsSources(t *testing.T) {
	sources := []Source{
		{Service: "zeta", Path: "z", Adapter: fakeAdapter{service: "zeta"}},
		{Service: "alpha", Path: "a", Adapter: fakeAdapter{
			service: "alpha",
			edges:   []contract.ConsumerEdge{{Consumer: "alpha", Provider: "zeta"}},
		}},
	}
	res := Run(context.Background(), sources, 2, nil)

	if len(res.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failures)
	}
	if len(res.Snapshots) != 2 || res.Snapshots[0].Service != "alpha" || res.Snapshots[1].Service != "zeta" {
		t.Errorf("snapshots not sorted by service: %+v", res.Snapshots)
	}
	if len(res.Edges) != 1 || res.Edges[0].Provider != "zeta" {
		t.Errorf("edges = %+v", res.Edges)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	sources := []Source{
		{Service: "good", Path: "g", Adapter: fakeAdapter{service: "good"}},
		{Service: "bad", Path: "b", Adapter: fakeAdapter{err: fmt.Errorf("parse error")}},
	}
	res := Run(context.Background(), sources, 2, nil)

	if len(res.Snapshots) != 1 || res.Snapshots[0].Service != "good" {
		t.Errorf("snapshots = %+v", res.Snapshots)
	}
	err, ok := res.Failures["bad"]
	if !ok || err == nil {
		t.Fatalf("failures = %v, want entry for bad", res.Failures)
	}
	var exErr *ExtractionError
	if !errors.As(err, &exErr) || exErr.Service != "bad" || exErr.Path != "b" {
		t.Errorf("failure = %v, want ExtractionError for bad at path b", err)
	}
}

func TestRunEmptySources(t *testing.T) {
	res := Run(context.Background(), nil, 0, nil)
	if len(res.Snapshots) != 0 || len(res.Edges) != 0 || len(res.Failures) != 0 {
		t.Errorf("empty run produced output: %+v", res)
	}
}
