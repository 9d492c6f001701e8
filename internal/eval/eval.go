// Package eval scores a compiled context document against the state it was
// compiled from: how many ACTIVE_TASK key paths it mentions, how many recent
// warning and failure events it cites by hash, and how much of its token
// budget it spent.
package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jvs-project/continuity/internal/notes"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/fsutil"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
	"github.com/jvs-project/continuity/pkg/model"
)

// Thresholds decide whether an evaluation passes.
type Thresholds struct {
	MinPathCoverage float64 `json:"min_path_coverage"`
	MinRiskCoverage float64 `json:"min_risk_coverage"`
	MaxUtilization  float64 `json:"max_token_utilization"`
	// RiskWindow limits risk coverage to the newest warning and failure
	// events; 0 considers all of them.
	RiskWindow int `json:"risk_window"`
}

// Metrics are the measured values.
type Metrics struct {
	PathCoverage     float64 `json:"path_coverage"`
	RiskCoverage     float64 `json:"risk_coverage"`
	TokenBudget      int     `json:"token_budget"`
	TokenUsed        int     `json:"token_used"`
	TokenUtilization float64 `json:"token_utilization"`
	KeyPathCount     int     `json:"key_path_count"`
	MatchedPathCount int     `json:"matched_path_count"`
	RiskEventCount   int     `json:"risk_event_count"`
	CoveredRiskCount int     `json:"covered_risk_count"`
}

// Checks holds one verdict per threshold.
type Checks struct {
	PathCoverage     bool `json:"path_coverage_pass"`
	RiskCoverage     bool `json:"risk_coverage_pass"`
	TokenUtilization bool `json:"token_utilization_pass"`
	DocumentExists   bool `json:"rehydrated_exists_pass"`
}

// All reports whether every check passed.
func (c Checks) All() bool {
	return c.PathCoverage && c.RiskCoverage && c.TokenUtilization && c.DocumentExists
}

// CoveredRisk is a risk event the document cites.
type CoveredRisk struct {
	Seq     int64  `json:"seq"`
	Hash    string `json:"hash"`
	Summary string `json:"summary"`
}

// Report is one evaluation, persisted as JSON.
type Report struct {
	Schema       string        `json:"schema"`
	GeneratedAt  string        `json:"generated_at"`
	RepoRoot     string        `json:"repo_root"`
	MemoryRoot   string        `json:"memory_root"`
	DocumentPath string        `json:"rehydrated_path"`
	EventsFile   string        `json:"events_file"`
	Thresholds   Thresholds    `json:"thresholds"`
	Metrics      Metrics       `json:"metrics"`
	Checks       Checks        `json:"checks"`
	OverallPass  bool          `json:"overall_pass"`
	MatchedPaths []string      `json:"matched_paths"`
	MissingPaths []string      `json:"missing_paths"`
	CoveredRisks []CoveredRisk `json:"covered_risks"`
	Output       string        `json:"eval_output,omitempty"`
	Latest       string        `json:"latest_eval,omitempty"`
}

// EventReader loads the ledger events.
type EventReader interface {
	ReadAll() ([]*model.Event, error)
}

// Options configures an Evaluator.
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Now     func() time.Time
}

// Evaluator scores documents for one memory root.
type Evaluator struct {
	layout  repo.Layout
	events  EventReader
	log     *logging.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// NewEvaluator creates an evaluator reading notes from layout and events
// from events.
func NewEvaluator(layout repo.Layout, events EventReader, opts Options) *Evaluator {
	log := opts.Logger
	if log == nil {
		log = logging.Global()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		layout:  layout,
		events:  events,
		log:     log.WithFields(map[string]any{"component": "eval"}),
		metrics: opts.Metrics,
		now:     now,
	}
}

// Evaluate scores the document at path, or latest.md when path is empty.
// A missing document fails the existence check rather than returning an
// error.
func (e *Evaluator) Evaluate(path string, th Thresholds) (*Report, error) {
	if path == "" {
		path = e.layout.LatestPath
	}
	doc, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read document: %w", err)
	}
	n, err := notes.Load(e.layout)
	if err != nil {
		return nil, err
	}
	events, err := e.events.ReadAll()
	if err != nil {
		return nil, err
	}

	r := &Report{
		Schema:       model.SchemaEval,
		GeneratedAt:  model.FormatTimestamp(e.now()),
		RepoRoot:     e.layout.RepoRoot,
		MemoryRoot:   e.layout.MemoryRoot,
		DocumentPath: path,
		EventsFile:   e.layout.LedgerPath,
		Thresholds:   th,
	}
	score(r, string(doc), n.ActiveTask, events)

	e.metrics.RecordEval(r.OverallPass, r.Metrics.PathCoverage, r.Metrics.RiskCoverage, r.Metrics.TokenUtilization)
	fields := map[string]any{
		"document":      path,
		"path_coverage": r.Metrics.PathCoverage,
		"risk_coverage": r.Metrics.RiskCoverage,
		"overall_pass":  r.OverallPass,
	}
	if r.OverallPass {
		e.log.Info("eval.done", fields)
	} else {
		e.log.Warn("eval.done", fields)
	}
	return r, nil
}

func score(r *Report, doc, activeTask string, events []*model.Event) {
	th := r.Thresholds
	m := &r.Metrics

	keyPaths := KeyPaths(activeTask)
	lowerDoc := strings.ToLower(doc)
	r.MatchedPaths, r.MissingPaths = []string{}, []string{}
	for _, p := range keyPaths {
		if strings.Contains(lowerDoc, strings.ToLower(p)) {
			r.MatchedPaths = append(r.MatchedPaths, p)
		} else {
			r.MissingPaths = append(r.MissingPaths, p)
		}
	}
	m.KeyPathCount = len(keyPaths)
	m.MatchedPathCount = len(r.MatchedPaths)
	m.PathCoverage = ratio(m.MatchedPathCount, m.KeyPathCount)

	var risks []*model.Event
	for _, ev := range events {
		if ev.Status == model.StatusWarning || ev.Status == model.StatusFailure {
			risks = append(risks, ev)
		}
	}
	if th.RiskWindow > 0 && len(risks) > th.RiskWindow {
		risks = risks[len(risks)-th.RiskWindow:]
	}
	cited := HashPrefixes(doc)
	r.CoveredRisks = []CoveredRisk{}
	for _, ev := range risks {
		short := ev.Hash.Short()
		if cited[short] {
			r.CoveredRisks = append(r.CoveredRisks, CoveredRisk{Seq: ev.Seq, Hash: short, Summary: ev.Summary})
		}
	}
	m.RiskEventCount = len(risks)
	m.CoveredRiskCount = len(r.CoveredRisks)
	m.RiskCoverage = ratio(m.CoveredRiskCount, m.RiskEventCount)

	m.TokenBudget, m.TokenUsed = Budget(doc)
	if m.TokenBudget > 0 {
		m.TokenUtilization = float64(m.TokenUsed) / float64(m.TokenBudget)
	}

	r.Checks = Checks{
		PathCoverage:     m.PathCoverage >= th.MinPathCoverage,
		RiskCoverage:     m.RiskCoverage >= th.MinRiskCoverage,
		TokenUtilization: m.TokenBudget == 0 || m.TokenUtilization <= th.MaxUtilization,
		DocumentExists:   strings.TrimSpace(doc) != "",
	}
	r.OverallPass = r.Checks.All()
}

// ratio is n/total, 1 when there is nothing to cover.
func ratio(n, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(n) / float64(total)
}

// KeyPaths lists the entries under "## Key Paths" with list markers and
// surrounding backticks removed.
func KeyPaths(activeTask string) []string {
	var out []string
	for _, raw := range strings.Split(notes.Section(activeTask, "Key Paths"), "\n") {
		line := strings.TrimSpace(raw)
		if rest, ok := strings.CutPrefix(line, "-"); ok {
			line = strings.TrimSpace(rest)
		}
		if len(line) >= 2 && strings.HasPrefix(line, "`") && strings.HasSuffix(line, "`") {
			line = line[1 : len(line)-1]
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

var (
	hashRe   = regexp.MustCompile(`hash:([a-f0-9]{6,40})`)
	budgetRe = regexp.MustCompile("Token budget \\(approx\\):\\s*`?(\\d+)`?")
	usedRe   = regexp.MustCompile("Approx tokens used:\\s*`?(\\d+)`?")
)

// HashPrefixes returns the 10-character prefixes of every "hash:" citation
// in a document.
func HashPrefixes(doc string) map[string]bool {
	out := map[string]bool{}
	for _, m := range hashRe.FindAllStringSubmatch(doc, -1) {
		h := m[1]
		if len(h) > 10 {
			h = h[:10]
		}
		out[h] = true
	}
	return out
}

// Budget reads the token budget and usage from a document's budget
// summary. Missing values are 0.
func Budget(doc string) (budget, used int) {
	if m := budgetRe.FindStringSubmatch(doc); m != nil {
		budget, _ = strconv.Atoi(m[1])
	}
	if m := usedRe.FindStringSubmatch(doc); m != nil {
		used, _ = strconv.Atoi(m[1])
	}
	return budget, used
}

// Write stores the report as evals/<stamp>--eval.json and overwrites
// latest-eval.json, recording both paths in the report.
func (e *Evaluator) Write(r *Report) error {
	stamp := e.now().UTC().Format(model.FileStampLayout)
	r.Output = filepath.Join(e.layout.EvalsDir, stamp+"--eval.json")
	r.Latest = e.layout.LatestEvalPath

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal eval: %w", err)
	}
	data = append(data, '\n')
	for _, path := range []string{r.Output, r.Latest} {
		if err := fsutil.AtomicWrite(path, data, 0644); err != nil {
			return fmt.Errorf("write eval: %w", err)
		}
	}
	return nil
}
