// Package integrity computes the hashes that chain ledger events and
// fingerprint tracked artifacts.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/jvs-project/continuity/pkg/jsonutil"
	"github.com/jvs-project/continuity/pkg/model"
)

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) model.HashValue {
	sum := sha256.Sum256(data)
	return model.HashValue(hex.EncodeToString(sum[:]))
}

// EventHash computes the hash of an event over its canonical form with the
// hash field excluded.
func EventHash(e *model.Event) (model.HashValue, error) {
	clone := *e
	clone.Hash = ""
	data, err := jsonutil.CanonicalMarshal(&clone)
	if err != nil {
		return "", fmt.Errorf("canonical marshal event: %w", err)
	}
	return Digest(data), nil
}

// RecordHash computes the hash of a decoded ledger record, excluding its
// "hash" key. Unknown keys take part, so records written by other tools
// verify the same way.
func RecordHash(record map[string]any) (model.HashValue, error) {
	clone := make(map[string]any, len(record))
	for k, v := range record {
		if k == "hash" {
			continue
		}
		clone[k] = v
	}
	data, err := jsonutil.CanonicalMarshal(clone)
	if err != nil {
		return "", fmt.Errorf("canonical marshal record: %w", err)
	}
	return Digest(data), nil
}

// SnapshotArtifact records existence, digest and size of the file at path.
// label is stored as the snapshot path.
func SnapshotArtifact(path, label string) (model.ArtifactSnapshot, error) {
	snap := model.ArtifactSnapshot{Path: label}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("open %s: %w", label, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return snap, fmt.Errorf("stat %s: %w", label, err)
	}
	if info.IsDir() {
		return snap, nil
	}

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return snap, fmt.Errorf("hash %s: %w", label, err)
	}
	snap.Exists = true
	snap.SHA256 = model.HashValue(hex.EncodeToString(h.Sum(nil)))
	snap.SizeBytes = n
	return snap, nil
}
