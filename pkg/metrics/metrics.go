// Package metrics provides Prometheus metrics for continuity operations.
// Metrics live in a private registry so the CLI can export them to a
// node_exporter textfile after each run.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "continuity"

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// Registry holds all continuity metrics. A nil *Registry records nothing.
type Registry struct {
	reg *prometheus.Registry

	appends        *prometheus.CounterVec
	appendDuration prometheus.Histogram
	seqFallbacks   prometheus.Counter
	verifyFindings *prometheus.CounterVec
	verifyRuns     prometheus.Counter
	repairs        *prometheus.CounterVec
	refOps         *prometheus.CounterVec
	compileUsed    prometheus.Histogram
	compileOmitted prometheus.Counter
	typedRefreshes *prometheus.CounterVec
	cycleRuns      *prometheus.CounterVec
	gcDeleted      *prometheus.CounterVec
	evalRuns       *prometheus.CounterVec
	evalCoverage   *prometheus.GaugeVec
	benchmarkRuns  prometheus.Counter
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		appends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Ledger append attempts by result",
		}, []string{"result"}),
		appendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "append_duration_seconds",
			Help:      "Time spent appending one event, lock wait included",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		}),
		seqFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "seq_fallback_total",
			Help:      "Appends that derived seq from the line count because the last record was unreadable",
		}),
		verifyFindings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "findings_total",
			Help:      "Verification findings by severity",
		}, []string{"severity"}),
		verifyRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "runs_total",
			Help:      "Verification runs",
		}),
		repairs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repair",
			Name:      "runs_total",
			Help:      "Repair runs by outcome (changed, unchanged, dry_run)",
		}, []string{"outcome"}),
		refOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refs",
			Name:      "operations_total",
			Help:      "Branch graph operations by op",
		}, []string{"op"}),
		compileUsed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "used_tokens",
			Help:      "Approximate tokens used by compiled documents",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
		compileOmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "blocks_omitted_total",
			Help:      "Blocks left out of compiled documents for budget reasons",
		}),
		typedRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "typed_memory",
			Name:      "refreshes_total",
			Help:      "Typed-memory refreshes by whether the summary changed",
		}, []string{"changed"}),
		cycleRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Automation cycles by outcome",
		}, []string{"outcome"}),
		gcDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "files_deleted_total",
			Help:      "Files removed by garbage collection by kind",
		}, []string{"kind"}),
		evalRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eval",
			Name:      "runs_total",
			Help:      "Context evaluations by result",
		}, []string{"result"}),
		evalCoverage: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "eval",
			Name:      "coverage_ratio",
			Help:      "Coverage ratios of the last evaluation",
		}, []string{"metric"}),
		benchmarkRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "runs_total",
			Help:      "Budget benchmark sweeps",
		}),
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// RecordAppend records one ledger append.
func (r *Registry) RecordAppend(success bool, duration time.Duration) {
	if r == nil {
		return
	}
	r.appends.WithLabelValues(resultLabel(success)).Inc()
	r.appendDuration.Observe(duration.Seconds())
}

// RecordSeqFallback records an append that ran in degraded seq mode.
func (r *Registry) RecordSeqFallback() {
	if r == nil {
		return
	}
	r.seqFallbacks.Inc()
}

// RecordVerify records one verification pass.
func (r *Registry) RecordVerify(errors, warnings int) {
	if r == nil {
		return
	}
	r.verifyRuns.Inc()
	r.verifyFindings.WithLabelValues("error").Add(float64(errors))
	r.verifyFindings.WithLabelValues("warning").Add(float64(warnings))
}

// RecordRepair records one repair run.
func (r *Registry) RecordRepair(changed, dryRun bool) {
	if r == nil {
		return
	}
	outcome := "unchanged"
	switch {
	case dryRun:
		outcome = "dry_run"
	case changed:
		outcome = "changed"
	}
	r.repairs.WithLabelValues(outcome).Inc()
}

// RecordRefOp records a branch graph operation.
func (r *Registry) RecordRefOp(op string) {
	if r == nil {
		return
	}
	r.refOps.WithLabelValues(op).Inc()
}

// RecordCompile records one compiled document.
func (r *Registry) RecordCompile(usedTokens, omittedBlocks int) {
	if r == nil {
		return
	}
	r.compileUsed.Observe(float64(usedTokens))
	r.compileOmitted.Add(float64(omittedBlocks))
}

// RecordTypedRefresh records one typed-memory refresh.
func (r *Registry) RecordTypedRefresh(changed bool) {
	if r == nil {
		return
	}
	label := "false"
	if changed {
		label = "true"
	}
	r.typedRefreshes.WithLabelValues(label).Inc()
}

// RecordCycle records an automation cycle outcome.
func (r *Registry) RecordCycle(outcome string) {
	if r == nil {
		return
	}
	r.cycleRuns.WithLabelValues(outcome).Inc()
}

// RecordGC records files removed by garbage collection.
func (r *Registry) RecordGC(kind string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.gcDeleted.WithLabelValues(kind).Add(float64(n))
}

// RecordEval records one context evaluation and its coverage ratios.
func (r *Registry) RecordEval(pass bool, pathCoverage, riskCoverage, utilization float64) {
	if r == nil {
		return
	}
	result := "fail"
	if pass {
		result = "pass"
	}
	r.evalRuns.WithLabelValues(result).Inc()
	r.evalCoverage.WithLabelValues("path").Set(pathCoverage)
	r.evalCoverage.WithLabelValues("risk").Set(riskCoverage)
	r.evalCoverage.WithLabelValues("token_utilization").Set(utilization)
}

// RecordBenchmark records one budget sweep.
func (r *Registry) RecordBenchmark() {
	if r == nil {
		return
	}
	r.benchmarkRuns.Inc()
}

// WriteTextfile writes the registry in the Prometheus text format, for
// pickup by node_exporter's textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
