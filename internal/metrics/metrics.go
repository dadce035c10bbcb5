// Package metrics exposes Prometheus counters for analysis runs. The
// collector registers on its own registry so embedding programs choose
// whether and where to expose it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector tracks engine-level metrics across analysis runs.
type Collector struct {
	registry *prometheus.Registry

	runsTotal        prometheus.Counter
	runFailures      prometheus.Counter
	runDuration      prometheus.Histogram
	verdictsTotal    *prometheus.CounterVec
	diffEntriesTotal prometheus.Counter
	warningsTotal    prometheus.Counter
}

// NewCollector creates a collector with all metrics registered on a
// private registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractcheck_runs_total",
			Help: "Completed analysis runs.",
		}),
		runFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractcheck_run_failures_total",
			Help: "Analysis runs aborted by a fatal error.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contractcheck_run_duration_seconds",
			Help:    "Wall time per analysis run.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		verdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contractcheck_verdicts_total",
			Help: "Verdicts emitted, by classification.",
		}, []string{"classification"}),
		diffEntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractcheck_diff_entries_total",
			Help: "Diff entries produced across all runs.",
		}),
		warningsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractcheck_warnings_total",
			Help: "Warnings surfaced in reports.",
		}),
	}
	reg.MustRegister(c.runsTotal, c.runFailures, c.runDuration, c.verdictsTotal, c.diffEntriesTotal, c.warningsTotal)
	return c
}

// Registry returns the private registry for exposition.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveRun records one completed run.
func (c *Collector) ObserveRun(d time.Duration, diffEntries, warnings int) {
	c.runsTotal.Inc()
	c.runDuration.Observe(d.Seconds())
	c.diffEntriesTotal.Add(float64(diffEntries))
	c.warningsTotal.Add(float64(warnings))
}

// ObserveFailure records a run aborted by a fatal error.
func (c *Collector) ObserveFailure() {
	c.runFailures.Inc()
}

// ObserveVerdict records one emitted verdict.
func (c *Collector) ObserveVerdict(classification string) {
	c.verdictsTotal.WithLabelValues(classification).Inc()
}
