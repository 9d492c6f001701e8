// Package gc prunes timestamped artifacts that accumulate under a memory
// root: compiled context documents, their traces, eval and benchmark reports
// and ledger backups left by repair. The ledger, the branch graph, snapshot
// notes and the latest* pointers are never candidates.
package gc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
	"github.com/jvs-project/continuity/pkg/progress"
)

// Artifact kinds.
const (
	KindDocument  = "document"
	KindTrace     = "trace"
	KindBackup    = "backup"
	KindEval      = "eval"
	KindBenchmark = "benchmark"
)

var (
	documentGlob  = glob.MustCompile("*--rehydrated.md")
	traceGlob     = glob.MustCompile("*--trace.json")
	evalGlob      = glob.MustCompile("*--eval.json")
	benchmarkGlob = glob.MustCompile("*--benchmark.md")
)

// Policy controls what a plan keeps.
type Policy struct {
	// KeepDocuments is the number of newest documents, and separately of
	// traces, eval reports and benchmark reports, that are always kept.
	KeepDocuments int
	// KeepBackups is the number of newest ledger backups that are kept.
	KeepBackups int
	// MinAge protects anything modified more recently than this.
	MinAge time.Duration
}

// Candidate is a file selected for removal.
type Candidate struct {
	Path    string    `json:"path"`
	Kind    string    `json:"kind"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Plan lists the files a Run would remove.
type Plan struct {
	PlanID     string      `json:"plan_id"`
	CreatedAt  time.Time   `json:"created_at"`
	Policy     Policy      `json:"-"`
	Kept       int         `json:"kept"`
	Candidates []Candidate `json:"candidates"`
	Bytes      int64       `json:"bytes"`
}

// Result reports what a Run removed.
type Result struct {
	PlanID  string   `json:"plan_id"`
	Deleted []string `json:"deleted"`
	Skipped []string `json:"skipped,omitempty"`
	Bytes   int64    `json:"bytes"`
}

// Options configures a Collector. Progress is called once per candidate
// during Run.
type Options struct {
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	Progress progress.Callback
	Now      func() time.Time
}

// Collector handles garbage collection for one memory root.
type Collector struct {
	layout   repo.Layout
	log      *logging.Logger
	metrics  *metrics.Registry
	progress progress.Callback
	now      func() time.Time
}

// NewCollector creates a new GC collector.
func NewCollector(layout repo.Layout, opts Options) *Collector {
	log := opts.Logger
	if log == nil {
		log = logging.Global()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Collector{
		layout:   layout,
		log:      log.WithFields(map[string]any{"component": "gc"}),
		metrics:  opts.Metrics,
		progress: opts.Progress,
		now:      now,
	}
}

// Plan selects removal candidates under the policy. Nothing is deleted.
func (c *Collector) Plan(policy Policy) (*Plan, error) {
	plan := &Plan{
		PlanID:     uuid.NewString(),
		CreatedAt:  c.now().UTC(),
		Policy:     policy,
		Candidates: []Candidate{},
	}

	docs, err := listMatching(c.layout.RehydratedDir, documentGlob.Match, KindDocument)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	traces, err := listMatching(c.layout.TracesDir, traceGlob.Match, KindTrace)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	evals, err := listMatching(c.layout.EvalsDir, evalGlob.Match, KindEval)
	if err != nil {
		return nil, fmt.Errorf("list evals: %w", err)
	}
	benchmarks, err := listMatching(c.layout.BenchmarksDir, benchmarkGlob.Match, KindBenchmark)
	if err != nil {
		return nil, fmt.Errorf("list benchmarks: %w", err)
	}
	backupGlob, err := glob.Compile(glob.QuoteMeta(filepath.Base(c.layout.LedgerPath)) + ".bak.*")
	if err != nil {
		return nil, fmt.Errorf("compile backup pattern: %w", err)
	}
	backups, err := listMatching(filepath.Dir(c.layout.LedgerPath), backupGlob.Match, KindBackup)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	c.selectOld(plan, docs, policy.KeepDocuments, policy.MinAge)
	c.selectOld(plan, traces, policy.KeepDocuments, policy.MinAge)
	c.selectOld(plan, evals, policy.KeepDocuments, policy.MinAge)
	c.selectOld(plan, benchmarks, policy.KeepDocuments, policy.MinAge)
	c.selectOld(plan, backups, policy.KeepBackups, policy.MinAge)

	c.log.Debug("gc.plan", map[string]any{
		"plan_id":    plan.PlanID,
		"candidates": len(plan.Candidates),
		"kept":       plan.Kept,
		"bytes":      plan.Bytes,
	})
	return plan, nil
}

// selectOld appends everything beyond the newest keep files that is also
// older than minAge. files must be sorted newest first.
func (c *Collector) selectOld(plan *Plan, files []Candidate, keep int, minAge time.Duration) {
	cutoff := c.now().Add(-minAge)
	for i, f := range files {
		if i < keep || f.ModTime.After(cutoff) {
			plan.Kept++
			continue
		}
		plan.Candidates = append(plan.Candidates, f)
		plan.Bytes += f.Size
	}
}

// Run removes the plan's candidates. A candidate that has vanished or was
// rewritten after planning is skipped.
func (c *Collector) Run(plan *Plan) (*Result, error) {
	result := &Result{PlanID: plan.PlanID, Deleted: []string{}}
	counts := map[string]int{}
	prog := progress.New("gc", len(plan.Candidates), c.progress)

	for _, cand := range plan.Candidates {
		prog.Increment(filepath.Base(cand.Path))
		info, err := os.Stat(cand.Path)
		if err != nil || info.ModTime().After(cand.ModTime) {
			result.Skipped = append(result.Skipped, cand.Path)
			continue
		}
		if err := os.Remove(cand.Path); err != nil {
			if os.IsNotExist(err) {
				result.Skipped = append(result.Skipped, cand.Path)
				continue
			}
			c.recordDeleted(counts)
			return result, fmt.Errorf("remove %s: %w", cand.Path, err)
		}
		result.Deleted = append(result.Deleted, cand.Path)
		result.Bytes += cand.Size
		counts[cand.Kind]++
	}
	c.recordDeleted(counts)

	c.log.Info("gc.run", map[string]any{
		"plan_id": plan.PlanID,
		"deleted": len(result.Deleted),
		"skipped": len(result.Skipped),
		"bytes":   result.Bytes,
	})
	return result, nil
}

func (c *Collector) recordDeleted(counts map[string]int) {
	for kind, n := range counts {
		c.metrics.RecordGC(kind, n)
	}
}

// listMatching returns regular files in dir accepted by match, newest first.
// A missing dir yields no files.
func listMatching(dir string, match func(string) bool, kind string) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Candidate
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Candidate{
			Path:    filepath.Join(dir, entry.Name()),
			Kind:    kind,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	// Names carry a sortable UTC stamp; fall back to mtime on ties.
	sort.Slice(out, func(i, j int) bool {
		ni, nj := filepath.Base(out[i].Path), filepath.Base(out[j].Path)
		if ni != nj {
			return ni > nj
		}
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out, nil
}
