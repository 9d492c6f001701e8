// Package benchmark sweeps the context compiler across token budgets,
// scores each document for coverage of the active task, and recommends the
// cheapest budget that keeps coverage close to the best.
package benchmark

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jvs-project/continuity/internal/compile"
	"github.com/jvs-project/continuity/internal/notes"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/fsutil"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
	"github.com/jvs-project/continuity/pkg/model"
)

// Source marks events recorded by a benchmark.
const Source = "benchmark"

// GoodCoverage is the score above which a budget counts as practical.
const GoodCoverage = 75

// peerMargin is how far below the best score a cheaper budget may fall and
// still be recommended.
const peerMargin = 2

// headingWeights score the presence of each block in a document.
var headingWeights = []struct {
	title  string
	weight int
}{
	{"Active Objective", 20},
	{"Acceptance Criteria", 15},
	{"Constraints / Non-Goals", 10},
	{"Current Status", 10},
	{"Key Paths", 10},
	{"Ranked Events", 5},
}

var (
	headingRe   = regexp.MustCompile(`(?m)^## (.+)$`)
	eventLineRe = regexp.MustCompile(`(?m)^- E\d+\s`)
)

// Result is the score of one budget.
type Result struct {
	Budget        int      `json:"budget"`
	OK            bool     `json:"ok"`
	Error         string   `json:"error,omitempty"`
	TokensUsed    int      `json:"tokens_used"`
	KeyPathHits   int      `json:"key_path_hits"`
	KeyPathTotal  int      `json:"key_path_total"`
	CriteriaHits  int      `json:"criteria_hits"`
	CriteriaTotal int      `json:"criteria_total"`
	EventLines    int      `json:"event_lines"`
	Coverage      int      `json:"coverage_score"`
	Efficiency    float64  `json:"efficiency_score"`
	Omitted       []string `json:"omitted"`
}

// Report is a full sweep.
type Report struct {
	GeneratedAt string   `json:"generated_at"`
	RepoRoot    string   `json:"repo_root"`
	MemoryRoot  string   `json:"memory_root"`
	Query       string   `json:"query"`
	Task        string   `json:"task"`
	Results     []Result `json:"results"`
	Recommended Result   `json:"recommended"`
	Output      string   `json:"output,omitempty"`
	Latest      string   `json:"latest,omitempty"`
	Markdown    string   `json:"-"`
}

// Appender records ledger events.
type Appender interface {
	Append(model.Draft) (*model.Event, error)
}

// Options configures a Runner.
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Now     func() time.Time
}

// Runner benchmarks one memory root.
type Runner struct {
	layout   repo.Layout
	compiler *compile.Compiler
	log      *logging.Logger
	metrics  *metrics.Registry
	now      func() time.Time
}

// NewRunner creates a benchmark runner compiling with compiler.
func NewRunner(layout repo.Layout, compiler *compile.Compiler, opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = logging.Global()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		layout:   layout,
		compiler: compiler,
		log:      log.WithFields(map[string]any{"component": "benchmark"}),
		metrics:  opts.Metrics,
		now:      now,
	}
}

// Run compiles base once per budget without writing anything. A budget
// whose compile fails is reported with OK false; Run only fails when the
// notes cannot be read or no budget is given.
func (r *Runner) Run(base compile.Options, budgets []int) (*Report, error) {
	if len(budgets) == 0 {
		return nil, fmt.Errorf("no budgets to benchmark")
	}
	n, err := notes.Load(r.layout)
	if err != nil {
		return nil, err
	}
	keyPaths := listItems(notes.Section(n.ActiveTask, "Key Paths"))
	criteria := checkboxes(notes.Section(n.ActiveTask, "Acceptance Criteria"))

	rep := &Report{
		GeneratedAt: model.FormatTimestamp(r.now()),
		RepoRoot:    r.layout.RepoRoot,
		MemoryRoot:  r.layout.MemoryRoot,
		Query:       strings.TrimSpace(base.Query),
		Task:        strings.TrimSpace(base.Task),
	}
	for _, budget := range budgets {
		opts := base
		opts.BudgetTokens = budget
		res := Result{Budget: budget, KeyPathTotal: len(keyPaths), CriteriaTotal: len(criteria), Omitted: []string{}}
		doc, _, err := r.compiler.Compile(opts)
		if err != nil {
			res.Error = err.Error()
			r.log.Warn("benchmark.compile_failed", map[string]any{"budget": budget, "error": res.Error})
		} else {
			res.OK = true
			score(&res, doc, keyPaths, criteria)
		}
		rep.Results = append(rep.Results, res)
	}
	rep.Recommended = Recommend(rep.Results)
	rep.Markdown = render(rep)

	r.metrics.RecordBenchmark()
	r.log.Info("benchmark.done", map[string]any{
		"budgets":     len(budgets),
		"recommended": rep.Recommended.Budget,
		"coverage":    rep.Recommended.Coverage,
	})
	return rep, nil
}

func score(res *Result, doc *compile.Document, keyPaths, criteria []string) {
	md := doc.Markdown
	res.TokensUsed = doc.UsedTokens
	res.Omitted = append(res.Omitted, doc.Omitted...)

	headings := map[string]bool{}
	for _, m := range headingRe.FindAllStringSubmatch(md, -1) {
		headings[strings.TrimSpace(m[1])] = true
	}
	for _, p := range keyPaths {
		if strings.Contains(md, p) {
			res.KeyPathHits++
		}
	}
	for _, c := range criteria {
		if strings.Contains(md, c) {
			res.CriteriaHits++
		}
	}
	res.EventLines = len(eventLineRe.FindAllString(md, -1))

	for _, h := range headingWeights {
		if headings[h.title] {
			res.Coverage += h.weight
		}
	}
	res.Coverage += int(math.RoundToEven(20 * fraction(res.KeyPathHits, res.KeyPathTotal)))
	res.Coverage += int(math.RoundToEven(10 * fraction(res.CriteriaHits, res.CriteriaTotal)))
	res.Coverage += min(res.EventLines, 3) * 3
	if res.TokensUsed > 0 {
		res.Efficiency = float64(res.Coverage) * 100 / float64(res.TokensUsed)
	}
}

func fraction(n, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(n) / float64(total)
}

// Recommend ranks successful results by practical coverage, score,
// efficiency, fewer tokens and smaller budget, then among results within
// two points of the best picks the one using the fewest tokens. With no
// successful result it returns the first.
func Recommend(results []Result) Result {
	var ok []Result
	for _, r := range results {
		if r.OK {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		if len(results) == 0 {
			return Result{}
		}
		return results[0]
	}

	sort.SliceStable(ok, func(i, j int) bool {
		a, b := ok[i], ok[j]
		if ag, bg := a.Coverage >= GoodCoverage, b.Coverage >= GoodCoverage; ag != bg {
			return ag
		}
		if a.Coverage != b.Coverage {
			return a.Coverage > b.Coverage
		}
		if a.Efficiency != b.Efficiency {
			return a.Efficiency > b.Efficiency
		}
		if a.TokensUsed != b.TokensUsed {
			return a.TokensUsed < b.TokensUsed
		}
		return a.Budget < b.Budget
	})
	top := ok[0]

	var peers []Result
	for _, r := range ok {
		if abs(r.Coverage-top.Coverage) <= peerMargin {
			peers = append(peers, r)
		}
	}
	sort.SliceStable(peers, func(i, j int) bool {
		if peers[i].TokensUsed != peers[j].TokensUsed {
			return peers[i].TokensUsed < peers[j].TokensUsed
		}
		return peers[i].Efficiency > peers[j].Efficiency
	})
	return peers[0]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// listItems returns the "- " items of a section with backticks stripped.
func listItems(section string) []string {
	var out []string
	for _, line := range strings.Split(section, "\n") {
		item, ok := strings.CutPrefix(strings.TrimSpace(line), "- ")
		if !ok {
			continue
		}
		if item = strings.TrimSpace(strings.Trim(strings.TrimSpace(item), "`")); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// checkboxes returns the "- [ ]" and "- [x]" lines of a section.
func checkboxes(section string) []string {
	var out []string
	for _, line := range strings.Split(section, "\n") {
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "- [") {
			out = append(out, line)
		}
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func render(rep *Report) string {
	var b strings.Builder
	b.WriteString("# Rehydrate Benchmark\n\n")
	fmt.Fprintf(&b, "- Generated: `%s`\n", rep.GeneratedAt)
	fmt.Fprintf(&b, "- Repo root: `%s`\n", rep.RepoRoot)
	fmt.Fprintf(&b, "- Memory root: `%s`\n", rep.MemoryRoot)
	fmt.Fprintf(&b, "- Query: `%s`\n", orNone(rep.Query))
	fmt.Fprintf(&b, "- Task: `%s`\n", orNone(rep.Task))

	b.WriteString("\n## Results\n\n")
	b.WriteString("| Budget | OK | Tokens | Coverage | Efficiency | Key Paths | Criteria | Events |\n")
	b.WriteString("| --- | --- | --- | --- | --- | --- | --- | --- |\n")
	for _, r := range rep.Results {
		fmt.Fprintf(&b, "| %d | %t | %d | %d | %.2f | %d/%d | %d/%d | %d |\n",
			r.Budget, r.OK, r.TokensUsed, r.Coverage, r.Efficiency,
			r.KeyPathHits, r.KeyPathTotal, r.CriteriaHits, r.CriteriaTotal, r.EventLines)
	}

	rec := rep.Recommended
	b.WriteString("\n## Recommendation\n\n")
	fmt.Fprintf(&b, "- Recommended budget: `%d` (coverage `%d`, approx tokens `%d`)\n", rec.Budget, rec.Coverage, rec.TokensUsed)
	fmt.Fprintf(&b, "- Omitted blocks at recommended budget: `%s`\n", orNone(strings.Join(rec.Omitted, ", ")))

	b.WriteString("\n## Why\n\n")
	b.WriteString("- Selected for the highest practical coverage at the lowest token cost.\n")
	b.WriteString("- Coverage weights the objective, criteria, status, constraints and key paths, plus evidence events.\n")
	return b.String()
}

// Write stores the report markdown as benchmarks/<stamp>--benchmark.md and
// overwrites benchmarks/latest.md.
func (r *Runner) Write(rep *Report) error {
	stamp := r.now().UTC().Format(model.FileStampLayout)
	rep.Output = filepath.Join(r.layout.BenchmarksDir, stamp+"--benchmark.md")
	rep.Latest = filepath.Join(r.layout.BenchmarksDir, "latest.md")
	for _, path := range []string{rep.Output, rep.Latest} {
		if err := fsutil.AtomicWrite(path, []byte(rep.Markdown), 0644); err != nil {
			return fmt.Errorf("write benchmark: %w", err)
		}
	}
	return nil
}

// Record appends a benchmark event naming the swept budgets and the
// recommendation.
func Record(sink Appender, rep *Report, task string) (*model.Event, error) {
	budgets := make([]int, 0, len(rep.Results))
	for _, r := range rep.Results {
		budgets = append(budgets, r.Budget)
	}
	if strings.TrimSpace(task) == "" {
		task = Source
	}
	return sink.Append(model.Draft{
		Kind:    "benchmark",
		Status:  model.StatusInfo,
		Summary: fmt.Sprintf("benchmarked rehydrate budgets; recommended %d", rep.Recommended.Budget),
		Source:  Source,
		Task:    task,
		Payload: &model.Payload{Fields: map[string]any{
			"budgets":     budgets,
			"recommended": rep.Recommended.Budget,
			"coverage":    rep.Recommended.Coverage,
		}},
	})
}
