// Package verify checks a ledger file for chain and schema integrity.
// It never mutates the file; findings are returned as data.
package verify

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/jvs-project/continuity/internal/integrity"
	"github.com/jvs-project/continuity/internal/ledger"
	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/jvs-project/continuity/pkg/jsonutil"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
	"github.com/jvs-project/continuity/pkg/model"
	"github.com/jvs-project/continuity/pkg/pathutil"
)

// Finding codes.
const (
	CodeLedgerMissing    = "ledger_missing"
	CodeInvalidJSON      = "invalid_json"
	CodeNotObject        = "not_object"
	CodeSchema           = "unexpected_schema"
	CodeSeqInvalid       = "seq_invalid"
	CodeSeqGap           = "seq_non_contiguous"
	CodeEventIDInvalid   = "event_id_invalid"
	CodeEventIDDuplicate = "event_id_duplicate"
	CodeTimestamp        = "timestamp_invalid"
	CodePrevHashMismatch = "prev_hash_mismatch"
	CodePrevHashOnFirst  = "prev_hash_on_first"
	CodeHashMissing      = "hash_missing"
	CodeHashMismatch     = "hash_mismatch"
	CodeRefEmpty         = "ref_empty"
	CodeRefMissing       = "ref_missing"
)

// Exit codes returned by Report.ExitCode.
const (
	ExitOK       = 0
	ExitErrors   = 2
	ExitWarnings = 3
)

// Finding is one verification problem. Line is 0 for file-level findings.
type Finding struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f Finding) String() string {
	if f.Line == 0 {
		return f.Message
	}
	return fmt.Sprintf("line %d: %s", f.Line, f.Message)
}

// Report is the outcome of one verification pass.
type Report struct {
	LedgerPath    string    `json:"events_file"`
	RepoRoot      string    `json:"repo_root"`
	EventsChecked int       `json:"events_checked"`
	Errors        []Finding `json:"errors"`
	Warnings      []Finding `json:"warnings"`
}

// ExitCode maps the report onto the process exit status: 2 if any error,
// 3 if strict and any warning, otherwise 0.
func (r *Report) ExitCode(strict bool) int {
	switch {
	case len(r.Errors) > 0:
		return ExitErrors
	case strict && len(r.Warnings) > 0:
		return ExitWarnings
	default:
		return ExitOK
	}
}

// OK reports whether the ledger passes at the given strictness.
func (r *Report) OK(strict bool) bool {
	return r.ExitCode(strict) == ExitOK
}

func (r *Report) errorf(line int, code, format string, args ...any) {
	r.Errors = append(r.Errors, Finding{Line: line, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warnf(line int, code, format string, args ...any) {
	r.Warnings = append(r.Warnings, Finding{Line: line, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Options configures a Verifier.
type Options struct {
	// IgnoreRefs are glob patterns; matching paths/refs entries are not
	// checked for existence.
	IgnoreRefs []string
	Logger     *logging.Logger
	Metrics    *metrics.Registry
}

// Verifier performs integrity verification on a ledger file.
type Verifier struct {
	ledgerPath string
	repoRoot   string
	ignore     []glob.Glob
	log        *logging.Logger
	metrics    *metrics.Registry
}

// NewVerifier creates a verifier. Reference paths are resolved against
// repoRoot.
func NewVerifier(ledgerPath, repoRoot string, opts Options) (*Verifier, error) {
	v := &Verifier{
		ledgerPath: ledgerPath,
		repoRoot:   repoRoot,
		log:        opts.Logger,
		metrics:    opts.Metrics,
	}
	if v.log == nil {
		v.log = logging.Global()
	}
	for _, pattern := range opts.IgnoreRefs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, errclass.ErrConfigInvalid.WithMessagef("verify.ignore_refs %q: %v", pattern, err)
		}
		v.ignore = append(v.ignore, g)
	}
	return v, nil
}

type chainState struct {
	prevHash string
	prevSeq  int64
	seenIDs  map[string]struct{}
}

// Verify scans the whole ledger, accumulating every finding.
func (v *Verifier) Verify() (*Report, error) {
	report := &Report{
		LedgerPath: v.ledgerPath,
		RepoRoot:   v.repoRoot,
		Errors:     []Finding{},
		Warnings:   []Finding{},
	}
	state := &chainState{seenIDs: make(map[string]struct{})}

	err := ledger.ScanFile(v.ledgerPath, func(line ledger.Line) error {
		report.EventsChecked++
		v.checkLine(report, state, line)
		return nil
	})
	if errors.Is(err, errclass.ErrLedgerMissing) {
		report.errorf(0, CodeLedgerMissing, "events file missing: %s", v.ledgerPath)
		err = nil
	}
	if err != nil {
		return nil, err
	}

	v.metrics.RecordVerify(len(report.Errors), len(report.Warnings))
	v.log.Info("verify.done", map[string]any{
		"events":   report.EventsChecked,
		"errors":   len(report.Errors),
		"warnings": len(report.Warnings),
	})
	return report, nil
}

func (v *Verifier) checkLine(r *Report, s *chainState, line ledger.Line) {
	no := line.No
	generic, err := jsonutil.Decode(line.Data)
	if err != nil {
		r.errorf(no, CodeInvalidJSON, "invalid JSON (%v)", err)
		return
	}
	event, ok := generic.(map[string]any)
	if !ok {
		r.errorf(no, CodeNotObject, "event must be a JSON object")
		return
	}

	if schema, _ := event["schema"].(string); schema != model.SchemaEvent {
		r.warnf(no, CodeSchema, "unexpected schema %s", describe(event["schema"]))
	}

	seq, seqOK := positiveInt(event["seq"])
	switch {
	case !seqOK:
		r.errorf(no, CodeSeqInvalid, "invalid seq %s", describe(event["seq"]))
	case seq != s.prevSeq+1:
		r.errorf(no, CodeSeqGap, "non-contiguous seq %d, expected %d", seq, s.prevSeq+1)
	}
	if n, ok := intValue(event["seq"]); ok {
		s.prevSeq = n
	}

	id, _ := event["event_id"].(string)
	switch {
	case strings.TrimSpace(id) == "":
		r.errorf(no, CodeEventIDInvalid, "missing or invalid event_id")
	default:
		if _, dup := s.seenIDs[id]; dup {
			r.errorf(no, CodeEventIDDuplicate, "duplicate event_id %q", id)
		} else {
			s.seenIDs[id] = struct{}{}
		}
	}

	if ts, ok := event["timestamp"].(string); !ok || !validTimestamp(ts) {
		r.errorf(no, CodeTimestamp, "invalid timestamp %s", describe(event["timestamp"]))
	}

	prevHash, _ := event["prev_hash"].(string)
	if s.prevHash != "" && prevHash != s.prevHash {
		r.errorf(no, CodePrevHashMismatch, "prev_hash mismatch, expected %q got %q", s.prevHash, prevHash)
	}
	if s.prevHash == "" && prevHash != "" {
		r.warnf(no, CodePrevHashOnFirst, "first event has prev_hash set (%q)", prevHash)
	}

	hash, _ := event["hash"].(string)
	if strings.TrimSpace(hash) == "" {
		r.errorf(no, CodeHashMissing, "missing hash")
	} else {
		computed, err := integrity.RecordHash(event)
		if err != nil {
			r.errorf(no, CodeHashMismatch, "cannot recompute hash: %v", err)
		} else if string(computed) != hash {
			r.errorf(no, CodeHashMismatch, "hash mismatch (computed %q)", computed)
		}
		s.prevHash = hash
	}

	for _, key := range []string{"paths", "refs"} {
		list, ok := event[key].([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			ref, _ := item.(string)
			if strings.TrimSpace(ref) == "" {
				r.warnf(no, CodeRefEmpty, "invalid empty reference in %q", key)
				continue
			}
			if v.ignored(ref) {
				continue
			}
			resolved := v.resolve(ref)
			if _, err := os.Stat(resolved); err != nil {
				r.warnf(no, CodeRefMissing, "referenced path not found %q (%s)", ref, resolved)
			}
		}
	}
}

func (v *Verifier) ignored(ref string) bool {
	for _, g := range v.ignore {
		if g.Match(ref) {
			return true
		}
	}
	return false
}

func (v *Verifier) resolve(ref string) string {
	p := pathutil.ExpandHome(ref)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(v.repoRoot, p)
}

func intValue(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	return i, err == nil
}

func positiveInt(v any) (int64, bool) {
	i, ok := intValue(v)
	return i, ok && i > 0
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func validTimestamp(ts string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, ts); err == nil {
			return true
		}
	}
	return false
}

func describe(v any) string {
	if v == nil {
		return "<missing>"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
