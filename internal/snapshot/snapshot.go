// Package snapshot writes git snapshot notes: a markdown record of the
// checkout (branch, HEAD, porcelain status, staged and unstaged files,
// diff stat) next to the ledger position, stored under snapshots/.
package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jvs-project/continuity/internal/gitstate"
	"github.com/jvs-project/continuity/internal/ledger"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/fsutil"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/model"
)

// Options labels one snapshot.
type Options struct {
	// Slug is appended to the file name after slugging.
	Slug string
	Note string
}

// Written describes a stored snapshot.
type Written struct {
	Path      string          `json:"path"`
	Branch    string          `json:"branch"`
	Head      string          `json:"head"`
	Events    int             `json:"events"`
	LastSeq   int64           `json:"last_seq,omitempty"`
	LastHash  model.HashValue `json:"last_hash,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// Writer produces snapshot notes for one memory root.
type Writer struct {
	layout repo.Layout
	ledger *ledger.Ledger
	git    *gitstate.Client
	log    *logging.Logger
	now    func() time.Time
}

// NewWriter creates a snapshot writer.
func NewWriter(layout repo.Layout, l *ledger.Ledger, git *gitstate.Client, log *logging.Logger) *Writer {
	if log == nil {
		log = logging.Global()
	}
	return &Writer{
		layout: layout,
		ledger: l,
		git:    git,
		log:    log.WithFields(map[string]any{"component": "snapshot"}),
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (w *Writer) SetClock(now func() time.Time) {
	w.now = now
}

// Write records the checkout and ledger position. Git failures are written
// into the note rather than returned; only ledger and file errors fail.
func (w *Writer) Write(ctx context.Context, opts Options) (*Written, error) {
	now := w.now().UTC()
	stamp := now.Format(model.FileStampLayout)
	name := stamp
	if slug := strings.TrimSpace(opts.Slug); slug != "" {
		name += "--" + repo.Slug(slug)
	}

	events, err := w.ledger.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	report := w.git.Report(ctx)

	out := &Written{
		Path:      filepath.Join(w.layout.SnapshotsDir, name+".md"),
		Branch:    report.Branch,
		Head:      report.Head,
		Events:    len(events),
		CreatedAt: model.FormatTimestamp(now),
	}
	if n := len(events); n > 0 {
		out.LastSeq = events[n-1].Seq
		out.LastHash = events[n-1].Hash
	}

	if err := fsutil.AtomicWrite(out.Path, []byte(render(stamp, w.layout.RepoRoot, strings.TrimSpace(opts.Note), out, report)), 0644); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	w.log.Info("snapshot.written", map[string]any{"path": out.Path, "events": out.Events})
	return out, nil
}

func render(stamp, repoRoot, note string, out *Written, r *gitstate.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Snapshot: %s\n\n", stamp)
	fmt.Fprintf(&b, "- Repo root: `%s`\n", repoRoot)
	fmt.Fprintf(&b, "- Branch: `%s`\n", r.Branch)
	fmt.Fprintf(&b, "- HEAD: `%s`\n", r.Head)
	if note != "" {
		fmt.Fprintf(&b, "- Note: %s\n", note)
	}

	b.WriteString("\n## Memory Status\n\n")
	fmt.Fprintf(&b, "- Events recorded: `%d`\n", out.Events)
	if out.LastSeq > 0 {
		fmt.Fprintf(&b, "- Last event seq/hash: `%d` / `%s`\n", out.LastSeq, out.LastHash)
	}

	sections := []struct{ title, body string }{
		{"Working Tree (porcelain)", r.Status},
		{"Staged Files", r.Staged},
		{"Unstaged Changed Files", r.Unstaged},
		{"Diff Stat (unstaged)", r.DiffStat},
	}
	for _, s := range sections {
		fmt.Fprintf(&b, "\n## %s\n\n```text\n%s\n```\n", s.title, s.body)
	}
	return b.String()
}
