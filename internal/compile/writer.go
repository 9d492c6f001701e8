package compile

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/fsutil"
	"github.com/jvs-project/continuity/pkg/model"
)

// Written lists the files produced by Writer.Write.
type Written struct {
	Document       string `json:"document"`
	LatestDocument string `json:"latest_document"`
	Trace          string `json:"trace,omitempty"`
	LatestTrace    string `json:"latest_trace,omitempty"`
}

// Writer stores compiled documents and traces under rehydrated/.
type Writer struct {
	layout repo.Layout
}

// NewWriter creates a writer for the layout.
func NewWriter(layout repo.Layout) *Writer {
	return &Writer{layout: layout}
}

// Write stores a timestamped copy and overwrites latest.md. A nil trace is
// not written.
func (w *Writer) Write(doc *Document, trace *Trace) (*Written, error) {
	stamp := doc.GeneratedAt.UTC().Format(model.FileStampLayout)
	out := &Written{
		Document:       filepath.Join(w.layout.RehydratedDir, stamp+"--rehydrated.md"),
		LatestDocument: w.layout.LatestPath,
	}
	for _, path := range []string{out.Document, out.LatestDocument} {
		if err := fsutil.AtomicWrite(path, []byte(doc.Markdown), 0644); err != nil {
			return nil, fmt.Errorf("write rehydrated context: %w", err)
		}
	}
	if trace == nil {
		return out, nil
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal trace: %w", err)
	}
	data = append(data, '\n')
	out.Trace = filepath.Join(w.layout.TracesDir, stamp+"--trace.json")
	out.LatestTrace = w.layout.LatestTracePath
	for _, path := range []string{out.Trace, out.LatestTrace} {
		if err := fsutil.AtomicWrite(path, data, 0644); err != nil {
			return nil, fmt.Errorf("write trace: %w", err)
		}
	}
	return out, nil
}
