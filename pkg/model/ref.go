package model

import (
	"encoding/json"
	"sort"
)

// CommitID identifies a commit file under context/commits.
type CommitID string

// RefSet is the persisted branch table (context/refs.json).
type RefSet struct {
	Schema       string               `json:"schema"`
	CreatedAt    string               `json:"created_at"`
	UpdatedAt    string               `json:"updated_at"`
	ActiveBranch string               `json:"active_branch"`
	Branches     map[string]*CommitID `json:"branches"`
}

// DefaultBranch is created with a null head on first use.
const DefaultBranch = "main"

// NewRefSet returns a ref set holding only main with a null head.
func NewRefSet(now string) *RefSet {
	return &RefSet{
		Schema:       SchemaRefs,
		CreatedAt:    now,
		UpdatedAt:    now,
		ActiveBranch: DefaultBranch,
		Branches:     map[string]*CommitID{DefaultBranch: nil},
	}
}

// Has reports whether the branch exists.
func (r *RefSet) Has(name string) bool {
	_, ok := r.Branches[name]
	return ok
}

// Head returns the branch head, or "" when the branch is headless or unknown.
func (r *RefSet) Head(name string) CommitID {
	if h := r.Branches[name]; h != nil {
		return *h
	}
	return ""
}

// SetHead points name at id; an empty id stores null.
func (r *RefSet) SetHead(name string, id CommitID) {
	if r.Branches == nil {
		r.Branches = make(map[string]*CommitID)
	}
	if id == "" {
		r.Branches[name] = nil
		return
	}
	r.Branches[name] = &id
}

// Names returns the branch names sorted.
func (r *RefSet) Names() []string {
	names := make([]string, 0, len(r.Branches))
	for name := range r.Branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArtifactSnapshot records one tracked artifact at commit time.
type ArtifactSnapshot struct {
	Path      string    `json:"path"`
	Exists    bool      `json:"exists"`
	SHA256    HashValue `json:"sha256,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
}

// MarshalJSON drops size_bytes for a missing artifact. An existing empty
// file still reports a size of 0.
func (a ArtifactSnapshot) MarshalJSON() ([]byte, error) {
	type plain ArtifactSnapshot
	if a.Exists {
		return json.Marshal(plain(a))
	}
	return json.Marshal(struct {
		Path   string    `json:"path"`
		Exists bool      `json:"exists"`
		SHA256 HashValue `json:"sha256,omitempty"`
	}{Path: a.Path, SHA256: a.SHA256})
}

// Commit is an immutable snapshot of the tracked artifacts.
type Commit struct {
	CommitID      CommitID                    `json:"commit_id"`
	Schema        string                      `json:"schema"`
	Timestamp     string                      `json:"timestamp"`
	Branch        string                      `json:"branch"`
	Parents       []CommitID                  `json:"parents"`
	Message       string                      `json:"message"`
	TrackedFiles  []string                    `json:"tracked_files"`
	FileSnapshots map[string]ArtifactSnapshot `json:"file_snapshots"`
	Meta          map[string]any              `json:"meta"`
}

// FirstParent returns the first parent or "" for a root commit.
func (c *Commit) FirstParent() CommitID {
	if len(c.Parents) == 0 {
		return ""
	}
	return c.Parents[0]
}

// IsMerge reports whether the commit has two parents.
func (c *Commit) IsMerge() bool {
	return len(c.Parents) > 1
}
