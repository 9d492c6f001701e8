package typed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/fsutil"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
	"github.com/jvs-project/continuity/pkg/model"
)

// Ledger is the slice of the event ledger the writer needs.
type Ledger interface {
	ReadAll() ([]*model.Event, error)
	Append(model.Draft) (*model.Event, error)
}

// RefreshOptions controls one refresh.
type RefreshOptions struct {
	Window       int
	TopN         int
	RecordPolicy model.RecordPolicy
	NoWrite      bool
}

// RefreshResult reports what a refresh produced.
type RefreshResult struct {
	Summary      *model.Summary `json:"summary"`
	JSONPath     string         `json:"typed_memory_json"`
	MarkdownPath string         `json:"typed_memory_md"`
	Changed      bool           `json:"changed"`
	Written      bool           `json:"written"`
	Event        *model.Event   `json:"event,omitempty"`
}

// Writer maintains typed-memory.json and typed-memory.md for one memory root.
type Writer struct {
	layout  repo.Layout
	ledger  Ledger
	log     *logging.Logger
	metrics *metrics.Registry
}

// NewWriter creates a writer.
func NewWriter(layout repo.Layout, l Ledger, log *logging.Logger, m *metrics.Registry) *Writer {
	if log == nil {
		log = logging.Global()
	}
	return &Writer{
		layout:  layout,
		ledger:  l,
		log:     log.WithFields(map[string]any{"component": "typed"}),
		metrics: m,
	}
}

// Refresh recomputes the summary from the ledger. The summary counts as
// changed when its serialized form differs from the existing JSON file.
func (w *Writer) Refresh(opts RefreshOptions) (*RefreshResult, error) {
	events, err := w.ledger.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	s := Summarize(events, opts.Window, opts.TopN)
	s.RepoRoot = w.layout.RepoRoot
	s.MemoryRoot = w.layout.MemoryRoot
	s.EventsFile = w.layout.LedgerPath

	data, err := Encode(s)
	if err != nil {
		return nil, err
	}
	old, err := os.ReadFile(w.layout.TypedJSONPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read typed memory: %w", err)
	}
	changed := !bytes.Equal(old, data)

	res := &RefreshResult{
		Summary:      s,
		JSONPath:     w.layout.TypedJSONPath,
		MarkdownPath: w.layout.TypedMarkdownPath,
		Changed:      changed,
	}
	if !opts.NoWrite {
		if err := fsutil.AtomicWrite(w.layout.TypedJSONPath, data, 0644); err != nil {
			return nil, fmt.Errorf("write typed memory json: %w", err)
		}
		if err := fsutil.AtomicWrite(w.layout.TypedMarkdownPath, []byte(RenderMarkdown(s)), 0644); err != nil {
			return nil, fmt.Errorf("write typed memory markdown: %w", err)
		}
		res.Written = true
	}
	w.metrics.RecordTypedRefresh(changed)
	w.log.Info("typed.refreshed", map[string]any{
		"events":  s.EventCount,
		"risks":   s.RiskCount,
		"changed": changed,
	})

	policy := opts.RecordPolicy
	if policy == "" {
		policy = model.RecordOnChange
	}
	if policy.ShouldRecord(changed) {
		event, err := w.ledger.Append(model.Draft{
			Kind:    "typed-memory",
			Status:  model.StatusSuccess,
			Summary: "refreshed typed-memory summary",
			Source:  "typed-memory",
			Task:    "continuity-optimization",
			Paths:   []string{w.layout.TypedJSONPath, w.layout.TypedMarkdownPath},
			Payload: model.NewTypedMemoryPayload(model.TypedMemoryDetails{
				EventCount:    s.EventCount,
				DecisionCount: s.DecisionCount,
				RiskCount:     s.RiskCount,
				Changed:       changed,
			}),
		})
		if err != nil {
			return res, fmt.Errorf("record typed-memory event: %w", err)
		}
		res.Event = event
	}
	return res, nil
}

// Encode serializes a summary the way typed-memory.json stores it.
func Encode(s *model.Summary) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal typed memory: %w", err)
	}
	return append(data, '\n'), nil
}

// Load reads a typed-memory.json file. A missing file returns nil, nil.
func Load(path string) (*model.Summary, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read typed memory: %w", err)
	}
	var s model.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse typed memory %s: %w", path, err)
	}
	return &s, nil
}
