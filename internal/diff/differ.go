// Package diff compares the artifact snapshots recorded by two context
// commits.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jvs-project/continuity/pkg/model"
)

// ChangeType represents the type of artifact change.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// Change represents a single artifact change between commits.
type Change struct {
	Path    string          `json:"path"`
	Type    ChangeType      `json:"type"`
	Size    int64           `json:"size,omitempty"`
	OldSize int64           `json:"old_size,omitempty"`
	OldHash model.HashValue `json:"old_hash,omitempty"`
	NewHash model.HashValue `json:"new_hash,omitempty"`
}

// DiffResult represents the result of comparing two commits.
type DiffResult struct {
	FromCommitID  model.CommitID `json:"from_commit_id"`
	ToCommitID    model.CommitID `json:"to_commit_id"`
	FromTime      string         `json:"from_time,omitempty"`
	ToTime        string         `json:"to_time"`
	Added         []*Change      `json:"added"`
	Removed       []*Change      `json:"removed"`
	Modified      []*Change      `json:"modified"`
	TotalAdded    int            `json:"total_added"`
	TotalRemoved  int            `json:"total_removed"`
	TotalModified int            `json:"total_modified"`
}

// CommitLoader loads a commit by id. ref.Manager satisfies it.
type CommitLoader interface {
	Show(id model.CommitID) (*model.Commit, error)
}

// Differ computes differences between commits.
type Differ struct {
	commits CommitLoader
}

// NewDiffer creates a new Differ.
func NewDiffer(commits CommitLoader) *Differ {
	return &Differ{commits: commits}
}

// Diff compares two commits' snapshots.
// If fromID is empty, compares against nothing (every existing artifact is added).
func (d *Differ) Diff(fromID, toID model.CommitID) (*DiffResult, error) {
	to, err := d.commits.Show(toID)
	if err != nil {
		return nil, fmt.Errorf("to commit: %w", err)
	}
	var from *model.Commit
	if fromID != "" {
		from, err = d.commits.Show(fromID)
		if err != nil {
			return nil, fmt.Errorf("from commit: %w", err)
		}
	}

	return Compare(from, to), nil
}

// Compare diffs two loaded commits. from may be nil.
func Compare(from, to *model.Commit) *DiffResult {
	fromTree := existing(from)
	toTree := existing(to)

	result := &DiffResult{
		ToCommitID: to.CommitID,
		ToTime:     to.Timestamp,
		Added:      []*Change{},
		Removed:    []*Change{},
		Modified:   []*Change{},
	}
	if from != nil {
		result.FromCommitID = from.CommitID
		result.FromTime = from.Timestamp
	}

	for path, toSnap := range toTree {
		fromSnap, ok := fromTree[path]
		switch {
		case !ok:
			result.Added = append(result.Added, &Change{
				Path:    path,
				Type:    ChangeAdded,
				Size:    toSnap.SizeBytes,
				NewHash: toSnap.SHA256,
			})
		case fromSnap.SHA256 != toSnap.SHA256 || fromSnap.SizeBytes != toSnap.SizeBytes:
			result.Modified = append(result.Modified, &Change{
				Path:    path,
				Type:    ChangeModified,
				Size:    toSnap.SizeBytes,
				OldSize: fromSnap.SizeBytes,
				OldHash: fromSnap.SHA256,
				NewHash: toSnap.SHA256,
			})
		}
	}
	for path, fromSnap := range fromTree {
		if _, ok := toTree[path]; !ok {
			result.Removed = append(result.Removed, &Change{
				Path:    path,
				Type:    ChangeRemoved,
				OldSize: fromSnap.SizeBytes,
				OldHash: fromSnap.SHA256,
			})
		}
	}

	sortChanges(result.Added)
	sortChanges(result.Removed)
	sortChanges(result.Modified)

	result.TotalAdded = len(result.Added)
	result.TotalRemoved = len(result.Removed)
	result.TotalModified = len(result.Modified)
	return result
}

// existing keeps the snapshots of artifacts that were present on disk.
func existing(c *model.Commit) map[string]model.ArtifactSnapshot {
	out := make(map[string]model.ArtifactSnapshot)
	if c == nil {
		return out
	}
	for path, snap := range c.FileSnapshots {
		if snap.Exists {
			out[path] = snap
		}
	}
	return out
}

func sortChanges(changes []*Change) {
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
}

// Empty reports whether no artifact changed.
func (r *DiffResult) Empty() bool {
	return r.TotalAdded == 0 && r.TotalRemoved == 0 && r.TotalModified == 0
}

// FormatHuman returns a human-readable string representation of the diff.
func (r *DiffResult) FormatHuman() string {
	var sb strings.Builder

	from := string(r.FromCommitID)
	if from == "" {
		from = "(empty)"
	}
	sb.WriteString(fmt.Sprintf("Diff %s -> %s\n", from, r.ToCommitID))
	if r.FromTime != "" {
		sb.WriteString(fmt.Sprintf("From: %s\n", r.FromTime))
	}
	sb.WriteString(fmt.Sprintf("To:   %s\n", r.ToTime))
	sb.WriteString("\n")

	if r.TotalAdded > 0 {
		sb.WriteString(fmt.Sprintf("Added (%d):\n", r.TotalAdded))
		for _, c := range r.Added {
			sb.WriteString(fmt.Sprintf("  + %s\n", c.Path))
		}
		sb.WriteString("\n")
	}

	if r.TotalRemoved > 0 {
		sb.WriteString(fmt.Sprintf("Removed (%d):\n", r.TotalRemoved))
		for _, c := range r.Removed {
			sb.WriteString(fmt.Sprintf("  - %s\n", c.Path))
		}
		sb.WriteString("\n")
	}

	if r.TotalModified > 0 {
		sb.WriteString(fmt.Sprintf("Modified (%d):\n", r.TotalModified))
		for _, c := range r.Modified {
			sb.WriteString(fmt.Sprintf("  ~ %s", c.Path))
			if c.OldSize != c.Size {
				sb.WriteString(fmt.Sprintf(" (%d -> %d bytes)", c.OldSize, c.Size))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if r.Empty() {
		sb.WriteString("No changes.\n")
	}

	return sb.String()
}
