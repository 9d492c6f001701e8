// Package compile assembles a token-budgeted working context from the
// structural notes, typed memory and ranked ledger events, together with a
// trace that explains every packing and ranking decision.
package compile

import (
	"fmt"
	"strings"
	"time"

	"github.com/jvs-project/continuity/internal/notes"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/internal/typed"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
	"github.com/jvs-project/continuity/pkg/model"
)

// EventReader loads the ledger events.
type EventReader interface {
	ReadAll() ([]*model.Event, error)
}

// Options controls one compilation.
type Options struct {
	BudgetTokens    int
	Query           string
	Task            string
	MaxEvents       int
	MaxDecisions    int
	UseTypedMemory  bool
	TypedMemoryPath string
	PackMode        PackMode
}

// Document is the compiled context.
type Document struct {
	Markdown    string
	GeneratedAt time.Time
	UsedTokens  int
	Included    []string
	Omitted     []string
}

// Trace records how a Document was assembled.
type Trace struct {
	Schema             string        `json:"schema"`
	GeneratedAt        string        `json:"generated_at"`
	RepoRoot           string        `json:"repo_root"`
	MemoryRoot         string        `json:"memory_root"`
	BudgetTokens       int           `json:"budget_tokens"`
	PackMode           PackMode      `json:"pack_mode"`
	Query              string        `json:"query"`
	Task               string        `json:"task"`
	QueryTerms         []string      `json:"query_terms"`
	HeaderTokens       int           `json:"header_tokens"`
	UsedTokens         int           `json:"used_tokens"`
	SelectedBlockCount int           `json:"selected_block_count"`
	OmittedBlockCount  int           `json:"omitted_block_count"`
	PlannerTrace       []PlanEntry   `json:"planner_trace"`
	EventRanking       []RankedEvent `json:"event_ranking"`
	TypedMemoryPath    string        `json:"typed_memory_path"`
}

// Compiler builds documents for one memory root.
type Compiler struct {
	layout  repo.Layout
	events  EventReader
	log     *logging.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// NewCompiler creates a compiler.
func NewCompiler(layout repo.Layout, events EventReader, log *logging.Logger, m *metrics.Registry) *Compiler {
	if log == nil {
		log = logging.Global()
	}
	return &Compiler{
		layout:  layout,
		events:  events,
		log:     log.WithFields(map[string]any{"component": "compile"}),
		metrics: m,
		now:     time.Now,
	}
}

// SetClock replaces the clock used for the generated timestamp.
func (c *Compiler) SetClock(now func() time.Time) {
	c.now = now
}

// Compile assembles the document and its trace.
func (c *Compiler) Compile(opts Options) (*Document, *Trace, error) {
	mode, err := ParsePackMode(string(opts.PackMode))
	if err != nil {
		return nil, nil, err
	}
	query := strings.TrimSpace(opts.Query)
	task := strings.TrimSpace(opts.Task)

	n, err := notes.Load(c.layout)
	if err != nil {
		return nil, nil, err
	}
	if n.CapsuleErr != nil {
		c.log.Warn("compile.capsule_unreadable", map[string]any{"capsule": n.CapsuleRel, "error": n.CapsuleErr.Error()})
	}

	typedPath := ""
	var summary *model.Summary
	if opts.UseTypedMemory {
		path := opts.TypedMemoryPath
		if path == "" {
			path = c.layout.TypedJSONPath
		}
		summary, err = typed.Load(path)
		if err != nil {
			c.log.Warn("compile.typed_memory_unreadable", map[string]any{"path": path, "error": err.Error()})
			summary = nil
		}
		if summary != nil {
			typedPath = path
		}
	}

	objective := notes.Compact(notes.Section(n.ActiveTask, "Objective"), 10, 1600)
	tb := typedBlocks(summary)
	terms := Terms(query, task, objective, tb.topTasks, tb.topPaths)

	events, err := c.events.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("load events: %w", err)
	}
	ranked := Rank(events, terms, task, max(0, opts.MaxEvents))
	var eventLines []string
	for _, e := range SelectedNewestFirst(ranked) {
		eventLines = append(eventLines, RenderEvent(e))
	}

	var decisionLines []string
	for _, title := range notes.DecisionTitles(n.Decisions, opts.MaxDecisions) {
		decisionLines = append(decisionLines, "- "+title)
	}
	capsulePointer := ""
	if n.CapsuleRel != "" {
		capsulePointer = fmt.Sprintf("- Active capsule: `%s`\n- Capsule file exists: `%t`", n.CapsuleRel, n.CapsuleExists)
	}

	blocks := []Block{
		{"Active Objective", objective, 100},
		{"Acceptance Criteria", notes.Compact(notes.Section(n.ActiveTask, "Acceptance Criteria"), 12, 1800), 95},
		{"Constraints / Non-Goals", notes.Compact(notes.Section(n.ActiveTask, "Constraints / Non-Goals"), 10, 1400), 90},
		{"Current Status", notes.Compact(notes.Section(n.ActiveTask, "Current Status"), 10, 1400), 88},
		{"Key Paths", notes.Compact(notes.Section(n.ActiveTask, "Key Paths"), 14, 1800), 87},
		{"Verification Commands", notes.Compact(notes.Section(n.ActiveTask, "Commands / Verification"), 10, 1800), 86},
		{"Open Risks (Typed)", tb.openRisks, 85},
		{"Top Task Signals (Typed)", tb.topTasks, 84},
		{"Top Path Signals (Typed)", tb.topPaths, 83},
		{"Recent Decisions (Typed)", tb.decisions, 82},
		{"Project Repo Facts", notes.Compact(notes.Section(n.ProjectMemory, "Repo"), 8, 1000), 72},
		{"Project Architecture Facts", notes.Compact(notes.Section(n.ProjectMemory, "Architecture"), 8, 1200), 70},
		{"Recent Decisions", strings.Join(decisionLines, "\n"), 68},
		{"Capsule Pointer", capsulePointer, 66},
		{"Capsule Excerpt", notes.Compact(n.Capsule, 26, 2400), 62},
		{"Ranked Events", strings.Join(eventLines, "\n"), 58},
	}

	now := c.now().UTC()
	header := c.header(now, query, task, typedPath)
	headerTokens := ApproxTokens(header)
	packing := Plan(blocks, opts.BudgetTokens, headerTokens, mode)

	footer := c.footer(opts.BudgetTokens, mode, packing)
	parts := append([]string{header}, packing.Texts...)
	parts = append(parts, footer)
	markdown := strings.TrimRight(strings.Join(parts, "\n"), "\n") + "\n"

	doc := &Document{
		Markdown:    markdown,
		GeneratedAt: now,
		UsedTokens:  packing.UsedTokens,
		Omitted:     packing.Omitted,
	}
	selected := 0
	for _, e := range packing.Entries {
		if e.Included {
			doc.Included = append(doc.Included, e.Title)
			selected++
		}
	}

	trace := &Trace{
		Schema:             model.SchemaTrace,
		GeneratedAt:        model.FormatTimestamp(now),
		RepoRoot:           c.layout.RepoRoot,
		MemoryRoot:         c.layout.MemoryRoot,
		BudgetTokens:       opts.BudgetTokens,
		PackMode:           mode,
		Query:              query,
		Task:               task,
		QueryTerms:         append([]string{}, terms...),
		HeaderTokens:       headerTokens,
		UsedTokens:         packing.UsedTokens,
		SelectedBlockCount: selected,
		OmittedBlockCount:  len(packing.Entries) - selected,
		PlannerTrace:       packing.Entries,
		EventRanking:       ranked,
		TypedMemoryPath:    typedPath,
	}

	c.metrics.RecordCompile(packing.UsedTokens, len(packing.Omitted))
	c.log.Info("compile.done", map[string]any{
		"budget":   opts.BudgetTokens,
		"used":     packing.UsedTokens,
		"included": selected,
		"omitted":  len(packing.Omitted),
		"events":   len(events),
	})
	return doc, trace, nil
}

// header carries nothing that depends on the budget, so its cost is the
// same for every budget.
func (c *Compiler) header(now time.Time, query, task, typedPath string) string {
	var b strings.Builder
	b.WriteString("# Rehydrated Context\n\n")
	fmt.Fprintf(&b, "- Generated: `%s`\n", model.FormatTimestamp(now))
	fmt.Fprintf(&b, "- Repo root: `%s`\n", c.layout.RepoRoot)
	fmt.Fprintf(&b, "- Memory root: `%s`\n", c.layout.MemoryRoot)
	fmt.Fprintf(&b, "- Focus query: `%s`\n", orNone(query))
	fmt.Fprintf(&b, "- Focus task: `%s`\n", orNone(task))
	fmt.Fprintf(&b, "- Typed memory: `%s`\n", orNone(typedPath))
	return b.String()
}

func (c *Compiler) footer(budget int, mode PackMode, p *Packing) string {
	omitted := "none"
	if len(p.Omitted) > 0 {
		omitted = strings.Join(p.Omitted, ", ")
	}
	var b strings.Builder
	b.WriteString("## Budget Summary\n\n")
	fmt.Fprintf(&b, "- Token budget (approx): `%d`\n", budget)
	fmt.Fprintf(&b, "- Approx tokens used: `%d`\n", p.UsedTokens)
	fmt.Fprintf(&b, "- Pack mode: `%s`\n", mode)
	fmt.Fprintf(&b, "- Blocks omitted: `%s`\n", omitted)
	fmt.Fprintf(&b, "- Evidence source: `%s`\n", c.layout.LedgerPath)
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

type typedText struct {
	topTasks  string
	topPaths  string
	openRisks string
	decisions string
}

const typedRowLimit = 8

func typedBlocks(s *model.Summary) typedText {
	if s == nil {
		return typedText{}
	}
	return typedText{
		topTasks:  renderCounts(s.TopTasks),
		topPaths:  renderCounts(s.TopPaths),
		openRisks: renderSnapshots(s.OpenRisks),
		decisions: renderSnapshots(s.RecentDecisions),
	}
}

func renderCounts(rows []model.CountRow) string {
	if len(rows) > typedRowLimit {
		rows = rows[:typedRowLimit]
	}
	var out []string
	for _, r := range rows {
		if v := strings.TrimSpace(r.Value); v != "" {
			out = append(out, fmt.Sprintf("- %s (count=%d)", v, r.Count))
		}
	}
	return strings.Join(out, "\n")
}

func renderSnapshots(items []model.EventSnapshot) string {
	if len(items) > typedRowLimit {
		items = items[len(items)-typedRowLimit:]
	}
	var out []string
	for _, it := range items {
		if s := strings.TrimSpace(it.Summary); s != "" {
			out = append(out, fmt.Sprintf("- E%d %s: %s | hash:%s", it.Seq, it.Status, s, it.Hash))
		}
	}
	return strings.Join(out, "\n")
}
