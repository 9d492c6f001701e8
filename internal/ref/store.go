package ref

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jvs-project/continuity/internal/integrity"
	"github.com/jvs-project/continuity/pkg/fsutil"
	"github.com/jvs-project/continuity/pkg/jsonutil"
	"github.com/jvs-project/continuity/pkg/model"
	"github.com/jvs-project/continuity/pkg/pathutil"
)

// loadRefs reads refs.json, or returns a fresh main -> null set when it
// does not exist yet.
func (m *Manager) loadRefs() (*model.RefSet, bool, error) {
	data, err := os.ReadFile(m.refsPath)
	if os.IsNotExist(err) {
		return model.NewRefSet(model.FormatTimestamp(m.now())), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read refs: %w", err)
	}

	var refs model.RefSet
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, false, fmt.Errorf("parse refs %s: %w", m.refsPath, err)
	}
	if refs.Schema == "" {
		refs.Schema = model.SchemaRefs
	}
	if len(refs.Branches) == 0 {
		refs.SetHead(model.DefaultBranch, "")
	}
	if refs.ActiveBranch == "" || !refs.Has(refs.ActiveBranch) {
		refs.ActiveBranch = model.DefaultBranch
		if !refs.Has(model.DefaultBranch) {
			refs.SetHead(model.DefaultBranch, "")
		}
	}
	return &refs, false, nil
}

func (m *Manager) saveRefs(refs *model.RefSet) error {
	refs.UpdatedAt = model.FormatTimestamp(m.now())
	if refs.CreatedAt == "" {
		refs.CreatedAt = refs.UpdatedAt
	}
	data, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal refs: %w", err)
	}
	if err := fsutil.AtomicWrite(m.refsPath, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write refs: %w", err)
	}
	return nil
}

func (m *Manager) snapshotArtifacts() (map[string]model.ArtifactSnapshot, error) {
	snaps := make(map[string]model.ArtifactSnapshot, len(m.tracked))
	for _, rel := range m.tracked {
		path, err := pathutil.ResolveUnder(m.memoryRoot, rel)
		if err != nil {
			return nil, err
		}
		snap, err := integrity.SnapshotArtifact(path, rel)
		if err != nil {
			return nil, err
		}
		snaps[rel] = snap
	}
	return snaps, nil
}

// writeCommit creates an immutable commit file. The id is
// ctx-<YYYYMMDD-HHMMSS>-<12 hex>, where the hex is taken from a digest of
// the commit content plus a nanosecond timestamp.
func (m *Manager) writeCommit(branch string, parents []model.CommitID, message string, meta map[string]any) (*model.Commit, string, error) {
	snaps, err := m.snapshotArtifacts()
	if err != nil {
		return nil, "", err
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if parents == nil {
		parents = []model.CommitID{}
	}

	now := m.now().UTC()
	c := &model.Commit{
		Schema:        model.SchemaCommit,
		Timestamp:     model.FormatTimestamp(now),
		Branch:        branch,
		Parents:       parents,
		Message:       message,
		TrackedFiles:  append([]string{}, m.tracked...),
		FileSnapshots: snaps,
		Meta:          meta,
	}

	for nanos := now.UnixNano(); ; nanos++ {
		id, err := commitID(c, now, nanos)
		if err != nil {
			return nil, "", err
		}
		path := m.commitPath(id)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		c.CommitID = id

		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("marshal commit: %w", err)
		}
		if err := fsutil.AtomicWrite(path, append(data, '\n'), 0644); err != nil {
			return nil, "", fmt.Errorf("write commit: %w", err)
		}
		m.log.Debug("refs.commit_written", map[string]any{"commit": id, "branch": branch})
		return c, path, nil
	}
}

func commitID(c *model.Commit, now time.Time, nanos int64) (model.CommitID, error) {
	digestInput := struct {
		*model.Commit
		CreatedUnixNano int64 `json:"created_unix_nano"`
	}{c, nanos}
	data, err := jsonutil.CanonicalMarshal(digestInput)
	if err != nil {
		return "", fmt.Errorf("canonical marshal commit: %w", err)
	}
	digest := integrity.Digest(data)
	return model.CommitID(fmt.Sprintf("ctx-%s-%s", now.Format("20060102-150405"), string(digest)[:12])), nil
}
