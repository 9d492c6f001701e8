// Package cycle runs the low-noise automation cycle: verify the ledger,
// and when the memory inputs changed, refresh typed memory, recompile the
// working context and optionally snapshot the tracked artifacts.
package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jvs-project/continuity/internal/compile"
	"github.com/jvs-project/continuity/internal/gitstate"
	"github.com/jvs-project/continuity/internal/ledger"
	"github.com/jvs-project/continuity/internal/ref"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/internal/snapshot"
	"github.com/jvs-project/continuity/internal/typed"
	"github.com/jvs-project/continuity/internal/verify"
	"github.com/jvs-project/continuity/pkg/fsutil"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
	"github.com/jvs-project/continuity/pkg/model"
)

// Outcomes of one cycle.
const (
	OutcomeUpdated      = "updated"
	OutcomeSkipped      = "skipped"
	OutcomeVerifyFailed = "verify-failed"
	OutcomeFailed       = "failed"
)

// Stages reported in cycle event payloads.
const (
	StageVerify   = "verify"
	StageTyped    = "typed-memory"
	StageCompile  = "compile"
	StageSnapshot = "snapshot"
	StageDone     = "done"
)

// Options configures a Runner.
type Options struct {
	Compile          compile.Options
	TypedWindow      int
	TypedTopN        int
	IgnoreRefs       []string
	TrackedArtifacts []string
	// SnapshotMinInterval spaces automatic snapshots; 0 disables them.
	SnapshotMinInterval time.Duration
	// GitSnapshot adds a git snapshot note to every automatic snapshot.
	GitSnapshot bool
	GitTimeout  time.Duration
	Interval    time.Duration
	Debounce    time.Duration
	// OnResult, when set, is called after every cycle of Watch.
	OnResult func(*Result)
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	Now      func() time.Time
}

// State is persisted in automation/cycle-state.json between runs.
type State struct {
	Schema         string            `json:"schema"`
	Fingerprint    string            `json:"fingerprint"`
	Inputs         map[string]string `json:"inputs,omitempty"`
	LastRunAt      string            `json:"last_run_at"`
	LastOutcome    string            `json:"last_outcome"`
	LastMessage    string            `json:"last_message"`
	LastDocument   string            `json:"last_document,omitempty"`
	LastSnapshotAt string            `json:"last_snapshot_at,omitempty"`
	LastSnapshotID model.CommitID    `json:"last_snapshot_id,omitempty"`
	LastGitNote    string            `json:"last_git_snapshot,omitempty"`
	// VerifyFailedAt is the fingerprint whose verification failure was
	// already recorded, so a watch loop does not repeat the event.
	VerifyFailedAt string `json:"verify_failed_at,omitempty"`
}

// Result describes one cycle.
type Result struct {
	Outcome     string         `json:"outcome"`
	OK          bool           `json:"ok"`
	Message     string         `json:"message"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Document    string         `json:"document,omitempty"`
	Snapshot    model.CommitID `json:"snapshot,omitempty"`
	GitSnapshot string         `json:"git_snapshot,omitempty"`
	StatePath   string         `json:"state_file"`
	Event       *model.Event   `json:"event,omitempty"`
}

// Runner executes cycles for one memory root.
type Runner struct {
	layout   repo.Layout
	ledger   *ledger.Ledger
	typed    *typed.Writer
	compiler *compile.Compiler
	writer   *compile.Writer
	refs     *ref.Manager
	git      *gitstate.Client
	notes    *snapshot.Writer
	opts     Options
	log      *logging.Logger
	metrics  *metrics.Registry
	now      func() time.Time
}

// NewRunner wires the typed-memory writer, compiler, ref manager and git
// client used by each cycle. Snapshots are committed without ref events;
// the cycle's own event already records them.
func NewRunner(layout repo.Layout, l *ledger.Ledger, opts Options) *Runner {
	r := &Runner{
		layout:  layout,
		ledger:  l,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if r.log == nil {
		r.log = logging.Global()
	}
	r.log = r.log.WithFields(map[string]any{"component": "cycle"})
	if r.now == nil {
		r.now = time.Now
	}
	r.typed = typed.NewWriter(layout, l, r.log, r.metrics)
	r.compiler = compile.NewCompiler(layout, l, r.log, r.metrics)
	r.compiler.SetClock(r.now)
	r.writer = compile.NewWriter(layout)
	r.git = gitstate.New(layout.RepoRoot, gitstate.Options{
		Timeout: opts.GitTimeout,
		Exclude: layout.MemoryRoot,
		Logger:  r.log,
	})
	if opts.GitSnapshot && r.git.Enabled() {
		r.notes = snapshot.NewWriter(layout, l, r.git, r.log)
		r.notes.SetClock(r.now)
	}
	if len(opts.TrackedArtifacts) > 0 {
		r.refs = ref.NewManager(layout, ref.Options{
			TrackedArtifacts: opts.TrackedArtifacts,
			RecordPolicy:     model.RecordOff,
			Logger:           r.log,
			Metrics:          r.metrics,
			Now:              r.now,
		})
	}
	return r
}

// RunOnce runs a single cycle. force recompiles even when the fingerprint
// is unchanged. Stage failures are logged and recorded as ledger events and
// reported through Result; only a failure to persist the cycle state is
// returned as an error.
func (r *Runner) RunOnce(force bool) (*Result, error) {
	res := &Result{StatePath: r.layout.CycleStatePath}
	state := r.loadState()

	if err := r.layout.Bootstrap(); err != nil {
		return r.finish(state, res, OutcomeFailed, fmt.Sprintf("bootstrap failed: %v", err))
	}

	fp, _, err := r.Fingerprint()
	if err != nil {
		return r.finish(state, res, OutcomeFailed, fmt.Sprintf("fingerprint failed: %v", err))
	}
	res.Fingerprint = fp
	changed := force || fp != state.Fingerprint

	if msg := r.verify(); msg != "" {
		if state.VerifyFailedAt != fp {
			res.Event = r.record(model.StatusWarning, "auto-cycle detected ledger verification failure", model.CycleDetails{
				Stage: StageVerify,
				Error: msg,
			})
			state.VerifyFailedAt = fp
		}
		return r.finish(state, res, OutcomeVerifyFailed, "verification failed: "+msg)
	}
	state.VerifyFailedAt = ""

	if !changed {
		return r.finish(state, res, OutcomeSkipped, "no state change; skipped compile")
	}

	if _, err := r.typed.Refresh(typed.RefreshOptions{
		Window:       r.opts.TypedWindow,
		TopN:         r.opts.TypedTopN,
		RecordPolicy: model.RecordOff,
	}); err != nil {
		res.Event = r.record(model.StatusWarning, "auto-cycle failed during typed-memory refresh", model.CycleDetails{
			Stage: StageTyped,
			Error: err.Error(),
		})
		return r.finish(state, res, OutcomeFailed, "typed-memory refresh failed")
	}

	doc, trace, err := r.compiler.Compile(r.opts.Compile)
	var written *compile.Written
	if err == nil {
		written, err = r.writer.Write(doc, trace)
	}
	if err != nil {
		res.Event = r.record(model.StatusFailure, "auto-cycle failed during compile", model.CycleDetails{
			Stage: StageCompile,
			Error: err.Error(),
		})
		return r.finish(state, res, OutcomeFailed, "compile failed")
	}
	res.Document = written.LatestDocument
	state.LastDocument = written.Document

	summary := fmt.Sprintf("auto-cycle refreshed rehydrated context (budget %d)", r.opts.Compile.BudgetTokens)
	if r.snapshot(state, res) {
		summary += " + snapshot"
	}

	res.Event = r.record(model.StatusSuccess, summary, model.CycleDetails{
		Stage:        StageDone,
		Fingerprint:  fp,
		BudgetTokens: r.opts.Compile.BudgetTokens,
		UsedTokens:   doc.UsedTokens,
		Query:        strings.TrimSpace(r.opts.Compile.Query),
		Task:         strings.TrimSpace(r.opts.Compile.Task),
		Output:       written.LatestDocument,
	})

	// Refreshing typed memory changed one of the inputs; store the
	// post-run fingerprint so the next cycle sees a stable state.
	if after, inputs, err := r.Fingerprint(); err == nil {
		state.Fingerprint = after
		state.Inputs = inputs
		res.Fingerprint = after
	} else {
		state.Fingerprint = fp
	}
	return r.finish(state, res, OutcomeUpdated, "updated rehydrated context")
}

func (r *Runner) verify() string {
	v, err := verify.NewVerifier(r.layout.LedgerPath, r.layout.RepoRoot, verify.Options{
		IgnoreRefs: r.opts.IgnoreRefs,
		Logger:     r.log,
		Metrics:    r.metrics,
	})
	if err != nil {
		return err.Error()
	}
	report, err := v.Verify()
	if err != nil {
		return err.Error()
	}
	if report.OK(true) {
		return ""
	}
	var parts []string
	for _, f := range append(report.Errors, report.Warnings...) {
		parts = append(parts, f.String())
		if len(parts) == 5 {
			break
		}
	}
	return fmt.Sprintf("%d errors, %d warnings: %s", len(report.Errors), len(report.Warnings), strings.Join(parts, "; "))
}

// snapshot commits the tracked artifacts and writes a git snapshot note
// when the minimum interval since the previous automatic snapshot has
// passed. Failures are recorded and otherwise ignored. It reports whether
// anything was taken.
func (r *Runner) snapshot(state *State, res *Result) bool {
	if (r.refs == nil && r.notes == nil) || r.opts.SnapshotMinInterval <= 0 {
		return false
	}
	now := r.now().UTC()
	if last, err := time.Parse(model.TimestampLayout, state.LastSnapshotAt); err == nil && now.Sub(last) < r.opts.SnapshotMinInterval {
		return false
	}

	taken := false
	if r.refs != nil {
		out, err := r.refs.Commit("", "automated snapshot after continuity state change", map[string]any{"source": Source})
		if err != nil {
			r.record(model.StatusWarning, "auto-cycle snapshot failed", model.CycleDetails{
				Stage: StageSnapshot,
				Error: err.Error(),
			})
		} else {
			state.LastSnapshotID = out.Commit.CommitID
			res.Snapshot = out.Commit.CommitID
			taken = true
		}
	}
	if r.notes != nil {
		out, err := r.notes.Write(context.Background(), snapshot.Options{Slug: Source, Note: "automated snapshot after continuity state change"})
		if err != nil {
			r.record(model.StatusWarning, "auto-cycle git snapshot failed", model.CycleDetails{
				Stage: StageSnapshot,
				Error: err.Error(),
			})
		} else {
			state.LastGitNote = out.Path
			res.GitSnapshot = out.Path
			taken = true
		}
	}
	if taken {
		state.LastSnapshotAt = model.FormatTimestamp(now)
	}
	return taken
}

func (r *Runner) record(status model.Status, summary string, details model.CycleDetails) *model.Event {
	task := strings.TrimSpace(r.opts.Compile.Task)
	if task == "" {
		task = Source
	}
	e, err := r.ledger.Append(model.Draft{
		Kind:    "automation",
		Status:  status,
		Summary: summary,
		Source:  Source,
		Task:    task,
		Payload: model.NewCyclePayload(details),
	})
	if err != nil {
		r.log.ErrorErr("cycle.record_event_failed", err, map[string]any{"stage": details.Stage})
		return nil
	}
	return e
}

func (r *Runner) finish(state *State, res *Result, outcome, message string) (*Result, error) {
	res.Outcome = outcome
	res.OK = outcome == OutcomeUpdated || outcome == OutcomeSkipped
	res.Message = message

	state.Schema = model.SchemaCycleState
	state.LastRunAt = model.FormatTimestamp(r.now())
	state.LastOutcome = outcome
	state.LastMessage = message

	r.metrics.RecordCycle(outcome)
	fields := map[string]any{"outcome": outcome, "message": message}
	if res.OK {
		r.log.Info("cycle.finished", fields)
	} else {
		r.log.Warn("cycle.finished", fields)
	}

	if err := r.saveState(state); err != nil {
		return res, err
	}
	return res, nil
}

// loadState reads the previous state. A missing or unreadable file starts
// from scratch.
func (r *Runner) loadState() *State {
	data, err := os.ReadFile(r.layout.CycleStatePath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("cycle.state_unreadable", map[string]any{"error": err.Error()})
		}
		return &State{}
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		r.log.Warn("cycle.state_unreadable", map[string]any{"error": err.Error()})
		return &State{}
	}
	return &s
}

func (r *Runner) saveState(s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cycle state: %w", err)
	}
	if err := fsutil.AtomicWrite(r.layout.CycleStatePath, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write cycle state: %w", err)
	}
	return nil
}

// LoadState reads the persisted cycle state of a layout, nil if absent.
func LoadState(layout repo.Layout) (*State, error) {
	data, err := os.ReadFile(layout.CycleStatePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cycle state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse cycle state: %w", err)
	}
	return &s, nil
}
