// Package ref implements the branch/commit/merge overlay that versions the
// tracked memory artifacts. Refs live in context/refs.json; each commit is
// an immutable file under context/commits.
package ref

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
	"github.com/jvs-project/continuity/pkg/model"
	"github.com/jvs-project/continuity/pkg/pathutil"
)

// EventSink receives the ledger events emitted by mutating operations.
type EventSink interface {
	Append(model.Draft) (*model.Event, error)
}

// Operation names, also used as the ref-op payload "op".
const (
	OpInit   = "init"
	OpBranch = "branch"
	OpSwitch = "switch"
	OpCommit = "commit"
	OpMerge  = "merge"
)

// Options configures a Manager.
type Options struct {
	TrackedArtifacts []string
	RecordPolicy     model.RecordPolicy
	Sink             EventSink
	Logger           *logging.Logger
	Metrics          *metrics.Registry
	Now              func() time.Time
}

// Manager handles branch graph operations. It assumes a single writer.
type Manager struct {
	memoryRoot string
	refsPath   string
	commitsDir string
	tracked    []string
	policy     model.RecordPolicy
	sink       EventSink
	log        *logging.Logger
	metrics    *metrics.Registry
	now        func() time.Time
}

// NewManager creates a manager over the layout's context directory.
func NewManager(layout repo.Layout, opts Options) *Manager {
	m := &Manager{
		memoryRoot: layout.MemoryRoot,
		refsPath:   layout.RefsPath,
		commitsDir: layout.CommitsDir,
		tracked:    model.UniqueKeepOrder(opts.TrackedArtifacts),
		policy:     opts.RecordPolicy,
		sink:       opts.Sink,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
	if m.policy == "" {
		m.policy = model.RecordOnChange
	}
	if m.log == nil {
		m.log = logging.Global()
	}
	m.log = m.log.WithFields(map[string]any{"component": "refs"})
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// BranchHead is one row of the branch table. Head is nil for a branch
// without commits.
type BranchHead struct {
	Name   string          `json:"name"`
	Head   *model.CommitID `json:"head"`
	Active bool            `json:"active"`
}

// Status summarizes the branch graph.
type Status struct {
	RefsPath     string       `json:"refs_file"`
	ActiveBranch string       `json:"active_branch"`
	BranchCount  int          `json:"branch_count"`
	CommitCount  int          `json:"commit_count"`
	Branches     []BranchHead `json:"branches"`
}

// Result describes the outcome of a mutating operation.
type Result struct {
	Op           string          `json:"op"`
	Branch       string          `json:"branch,omitempty"`
	ActiveBranch string          `json:"active_branch"`
	Head         *model.CommitID `json:"head"`
	Source       string          `json:"source,omitempty"`
	Target       string          `json:"target,omitempty"`
	Commit       *model.Commit   `json:"commit,omitempty"`
	CommitPath   string          `json:"commit_file,omitempty"`
	Changed      bool            `json:"changed"`
	NoOp         bool            `json:"no_op,omitempty"`
	Event        *model.Event    `json:"event,omitempty"`
}

func headPtr(id model.CommitID) *model.CommitID {
	if id == "" {
		return nil
	}
	return &id
}

// Init creates refs.json with main -> null if it does not exist yet.
func (m *Manager) Init() (*Status, error) {
	refs, created, err := m.loadRefs()
	if err != nil {
		return nil, err
	}
	if created {
		if err := m.saveRefs(refs); err != nil {
			return nil, err
		}
		m.log.Info("refs.initialized", map[string]any{"refs": m.refsPath})
	}
	if err := os.MkdirAll(m.commitsDir, 0755); err != nil {
		return nil, fmt.Errorf("create commits dir: %w", err)
	}
	m.metrics.RecordRefOp(OpInit)
	return m.status(refs)
}

// Status reports the active branch, all branches and the commit count.
func (m *Manager) Status() (*Status, error) {
	refs, _, err := m.loadRefs()
	if err != nil {
		return nil, err
	}
	return m.status(refs)
}

// List returns every branch sorted by name.
func (m *Manager) List() ([]BranchHead, error) {
	refs, _, err := m.loadRefs()
	if err != nil {
		return nil, err
	}
	return branchTable(refs), nil
}

func (m *Manager) status(refs *model.RefSet) (*Status, error) {
	count, err := m.commitCount()
	if err != nil {
		return nil, err
	}
	return &Status{
		RefsPath:     m.refsPath,
		ActiveBranch: refs.ActiveBranch,
		BranchCount:  len(refs.Branches),
		CommitCount:  count,
		Branches:     branchTable(refs),
	}, nil
}

func branchTable(refs *model.RefSet) []BranchHead {
	names := refs.Names()
	out := make([]BranchHead, 0, len(names))
	for _, name := range names {
		out = append(out, BranchHead{
			Name:   name,
			Head:   headPtr(refs.Head(name)),
			Active: name == refs.ActiveBranch,
		})
	}
	return out
}

func (m *Manager) commitCount() (int, error) {
	entries, err := os.ReadDir(m.commitsDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read commits directory: %w", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			n++
		}
	}
	return n, nil
}

// Branch creates name pointing at from. from may be empty (the active
// branch's head, possibly null), an existing branch name (its head), or a
// commit id that must exist.
func (m *Manager) Branch(name, from string) (*Result, error) {
	name, err := pathutil.ValidateBranchName(name)
	if err != nil {
		return nil, err
	}
	refs, _, err := m.loadRefs()
	if err != nil {
		return nil, err
	}
	if refs.Has(name) {
		return nil, errclass.ErrBranchExists.WithMessagef("branch already exists: %s", name)
	}

	from = strings.TrimSpace(from)
	var head model.CommitID
	switch {
	case from == "":
		head = refs.Head(refs.ActiveBranch)
	case refs.Has(from):
		head = refs.Head(from)
	default:
		if _, err := m.Show(model.CommitID(from)); err != nil {
			return nil, err
		}
		head = model.CommitID(from)
	}

	refs.SetHead(name, head)
	if err := m.saveRefs(refs); err != nil {
		return nil, err
	}
	m.metrics.RecordRefOp(OpBranch)

	fromLabel := from
	if fromLabel == "" {
		fromLabel = refs.ActiveBranch
	}
	res := &Result{
		Op:           OpBranch,
		Branch:       name,
		ActiveBranch: refs.ActiveBranch,
		Head:         headPtr(head),
		Changed:      true,
	}
	res.Event = m.record(true, fmt.Sprintf("context branch created %s", name), model.RefOpDetails{
		Op:     OpBranch,
		Branch: name,
		From:   fromLabel,
		Head:   head,
	})
	return res, nil
}

// Switch makes name the active branch. Heads are not touched.
func (m *Manager) Switch(name string) (*Result, error) {
	name = strings.TrimSpace(name)
	refs, _, err := m.loadRefs()
	if err != nil {
		return nil, err
	}
	if !refs.Has(name) {
		return nil, errclass.ErrBranchNotFound.WithMessagef("branch not found: %s", name)
	}

	previous := refs.ActiveBranch
	refs.ActiveBranch = name
	if err := m.saveRefs(refs); err != nil {
		return nil, err
	}
	m.metrics.RecordRefOp(OpSwitch)

	changed := previous != name
	res := &Result{
		Op:           OpSwitch,
		Branch:       name,
		ActiveBranch: name,
		Head:         headPtr(refs.Head(name)),
		Changed:      changed,
	}
	res.Event = m.record(changed, fmt.Sprintf("context branch switched to %s", name), model.RefOpDetails{
		Op:             OpSwitch,
		Branch:         name,
		PreviousBranch: previous,
	})
	return res, nil
}

// Commit snapshots the tracked artifacts onto branch (empty means the
// active branch), advances its head and makes it active.
func (m *Manager) Commit(branch, message string, meta map[string]any) (*Result, error) {
	refs, _, err := m.loadRefs()
	if err != nil {
		return nil, err
	}
	branch = strings.TrimSpace(branch)
	if branch == "" {
		branch = refs.ActiveBranch
	}
	if !refs.Has(branch) {
		return nil, errclass.ErrBranchNotFound.WithMessagef("branch not found: %s", branch)
	}

	var parents []model.CommitID
	if head := refs.Head(branch); head != "" {
		parents = append(parents, head)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = fmt.Sprintf("context commit on %s", branch)
	}

	commit, path, err := m.writeCommit(branch, parents, message, meta)
	if err != nil {
		return nil, err
	}
	refs.SetHead(branch, commit.CommitID)
	refs.ActiveBranch = branch
	if err := m.saveRefs(refs); err != nil {
		return nil, err
	}
	m.metrics.RecordRefOp(OpCommit)

	res := &Result{
		Op:           OpCommit,
		Branch:       branch,
		ActiveBranch: branch,
		Head:         headPtr(commit.CommitID),
		Commit:       commit,
		CommitPath:   path,
		Changed:      true,
	}
	res.Event = m.record(true, fmt.Sprintf("context commit %s on %s", commit.CommitID, branch), model.RefOpDetails{
		Op:         OpCommit,
		Branch:     branch,
		CommitID:   commit.CommitID,
		Parents:    parents,
		CommitPath: path,
	})
	return res, nil
}

// Merge records a marker commit on target (empty means the active branch)
// whose parents are the target and source heads. No content is reconciled:
// the commit snapshots the artifacts as they are on disk. Equal heads are
// a no-op with no writes and no event.
func (m *Manager) Merge(source, target, message string, meta map[string]any) (*Result, error) {
	refs, _, err := m.loadRefs()
	if err != nil {
		return nil, err
	}
	source = strings.TrimSpace(source)
	target = strings.TrimSpace(target)
	if target == "" {
		target = refs.ActiveBranch
	}
	if !refs.Has(source) {
		return nil, errclass.ErrBranchNotFound.WithMessagef("source branch not found: %s", source)
	}
	if !refs.Has(target) {
		return nil, errclass.ErrBranchNotFound.WithMessagef("target branch not found: %s", target)
	}

	sourceHead := refs.Head(source)
	targetHead := refs.Head(target)
	if sourceHead == "" {
		return nil, errclass.ErrSourceHeadless.WithMessagef("source branch has no head commit: %s", source)
	}
	if sourceHead == targetHead {
		return &Result{
			Op:           OpMerge,
			Branch:       target,
			ActiveBranch: refs.ActiveBranch,
			Head:         headPtr(targetHead),
			Source:       source,
			Target:       target,
			NoOp:         true,
		}, nil
	}

	var parents []model.CommitID
	for _, head := range []model.CommitID{targetHead, sourceHead} {
		if head != "" {
			parents = append(parents, head)
		}
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = fmt.Sprintf("merge %s into %s", source, target)
	}
	mergeMeta := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		mergeMeta[k] = v
	}
	mergeMeta["source_branch"] = source
	mergeMeta["target_branch"] = target

	commit, path, err := m.writeCommit(target, parents, message, mergeMeta)
	if err != nil {
		return nil, err
	}
	refs.SetHead(target, commit.CommitID)
	refs.ActiveBranch = target
	if err := m.saveRefs(refs); err != nil {
		return nil, err
	}
	m.metrics.RecordRefOp(OpMerge)

	res := &Result{
		Op:           OpMerge,
		Branch:       target,
		ActiveBranch: target,
		Head:         headPtr(commit.CommitID),
		Source:       source,
		Target:       target,
		Commit:       commit,
		CommitPath:   path,
		Changed:      true,
	}
	res.Event = m.record(true, fmt.Sprintf("context merge %s -> %s (%s)", source, target, commit.CommitID), model.RefOpDetails{
		Op:             OpMerge,
		Source:         source,
		Target:         target,
		SourceHead:     sourceHead,
		TargetPrevHead: targetHead,
		CommitID:       commit.CommitID,
		CommitPath:     path,
	})
	return res, nil
}

// Log walks first parents from branch's head (empty means active), newest
// first. limit <= 0 means no limit.
func (m *Manager) Log(branch string, limit int) ([]*model.Commit, error) {
	refs, _, err := m.loadRefs()
	if err != nil {
		return nil, err
	}
	branch = strings.TrimSpace(branch)
	if branch == "" {
		branch = refs.ActiveBranch
	}
	if !refs.Has(branch) {
		return nil, errclass.ErrBranchNotFound.WithMessagef("branch not found: %s", branch)
	}

	var out []*model.Commit
	seen := make(map[model.CommitID]bool)
	for id := refs.Head(branch); id != "" && !seen[id]; {
		if limit > 0 && len(out) >= limit {
			break
		}
		seen[id] = true
		c, err := m.Show(id)
		if err != nil {
			return out, err
		}
		out = append(out, c)
		id = c.FirstParent()
	}
	return out, nil
}

// Show loads one commit.
func (m *Manager) Show(id model.CommitID) (*model.Commit, error) {
	if id == "" || strings.ContainsAny(string(id), `/\`) || strings.Contains(string(id), "..") {
		return nil, errclass.ErrCommitNotFound.WithMessagef("commit not found: %q", id)
	}
	data, err := os.ReadFile(m.commitPath(id))
	if os.IsNotExist(err) {
		return nil, errclass.ErrCommitNotFound.WithMessagef("commit not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read commit: %w", err)
	}
	var c model.Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse commit %s: %w", id, err)
	}
	return &c, nil
}

func (m *Manager) commitPath(id model.CommitID) string {
	return filepath.Join(m.commitsDir, string(id)+".json")
}

// record appends a context-op event when the policy asks for one. Ledger
// failures are logged; the branch graph change itself has already landed.
func (m *Manager) record(changed bool, summary string, details model.RefOpDetails) *model.Event {
	if m.sink == nil || !m.policy.ShouldRecord(changed) {
		return nil
	}
	event, err := m.sink.Append(model.Draft{
		Kind:    "context-op",
		Status:  model.StatusSuccess,
		Summary: summary,
		Source:  "context-ops",
		Task:    "continuity-optimization",
		Payload: model.NewRefOpPayload(details),
	})
	if err != nil {
		m.log.ErrorErr("refs.record_event_failed", err, map[string]any{"op": details.Op})
		return nil
	}
	return event
}
