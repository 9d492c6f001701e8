package verify_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/continuity/internal/ledger"
	"github.com/jvs-project/continuity/internal/verify"
	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/model"
)

type fixture struct {
	repoRoot string
	ledger   *ledger.Ledger
}

func setup(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(t.TempDir(), "events", "events.jsonl")
	return &fixture{
		repoRoot: root,
		ledger:   ledger.New(path, ledger.Options{RepoRoot: root, Logger: logging.Discard()}),
	}
}

func (f *fixture) append(t *testing.T, d model.Draft) *model.Event {
	t.Helper()
	e, err := f.ledger.Append(d)
	require.NoError(t, err)
	return e
}

func (f *fixture) verify(t *testing.T, ignore ...string) *verify.Report {
	t.Helper()
	v, err := verify.NewVerifier(f.ledger.Path(), f.repoRoot, verify.Options{IgnoreRefs: ignore, Logger: logging.Discard()})
	require.NoError(t, err)
	report, err := v.Verify()
	require.NoError(t, err)
	return report
}

func (f *fixture) rewriteLine(t *testing.T, lineNo int, edit func(string) string) {
	t.Helper()
	data, err := os.ReadFile(f.ledger.Path())
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	lines[lineNo-1] = edit(lines[lineNo-1])
	require.NoError(t, os.WriteFile(f.ledger.Path(), []byte(strings.Join(lines, "\n")), 0644))
}

func codes(findings []verify.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Code)
	}
	return out
}

func TestVerify_CleanLedger(t *testing.T) {
	f := setup(t)
	for _, s := range []model.Status{model.StatusSuccess, model.StatusWarning, model.StatusFailure} {
		f.append(t, model.Draft{Summary: "event " + string(s), Status: s})
	}

	report := f.verify(t)
	assert.Equal(t, 3, report.EventsChecked)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, verify.ExitOK, report.ExitCode(true))
}

func TestVerify_MissingLedger(t *testing.T) {
	f := setup(t)
	report := f.verify(t)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, verify.CodeLedgerMissing, report.Errors[0].Code)
	assert.Equal(t, verify.ExitErrors, report.ExitCode(false))
}

func TestVerify_TamperedSummary(t *testing.T) {
	f := setup(t)
	f.append(t, model.Draft{Summary: "one"})
	f.append(t, model.Draft{Summary: "two"})
	f.append(t, model.Draft{Summary: "three"})

	f.rewriteLine(t, 2, func(s string) string { return strings.Replace(s, `"summary":"two"`, `"summary":"TWO"`, 1) })

	report := f.verify(t)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, verify.CodeHashMismatch, report.Errors[0].Code)
	assert.Equal(t, 2, report.Errors[0].Line)
}

func TestVerify_AccumulatesAcrossBadLines(t *testing.T) {
	f := setup(t)
	f.append(t, model.Draft{Summary: "one"})

	file, err := os.OpenFile(f.ledger.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = file.WriteString("{not json\n[1]\n")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	report := f.verify(t)
	assert.Equal(t, 3, report.EventsChecked)
	assert.Equal(t, []string{verify.CodeInvalidJSON, verify.CodeNotObject}, codes(report.Errors))
	assert.Equal(t, 2, report.Errors[0].Line)
	assert.Equal(t, 3, report.Errors[1].Line)
}

func TestVerify_SeqAndIDProblems(t *testing.T) {
	f := setup(t)
	first := f.append(t, model.Draft{Summary: "one"})
	f.append(t, model.Draft{Summary: "two"})

	f.rewriteLine(t, 2, func(s string) string {
		s = strings.Replace(s, `"seq":2`, `"seq":5`, 1)
		return strings.Replace(s, `"event_id":"`, `"event_id":"`+first.EventID+`","x":"`, 1)
	})

	report := f.verify(t)
	got := codes(report.Errors)
	assert.Contains(t, got, verify.CodeSeqGap)
	assert.Contains(t, got, verify.CodeHashMismatch)
}

func TestVerify_DuplicateEventID(t *testing.T) {
	f := setup(t)
	first := f.append(t, model.Draft{Summary: "one"})
	second := f.append(t, model.Draft{Summary: "two"})

	f.rewriteLine(t, 2, func(s string) string { return strings.Replace(s, second.EventID, first.EventID, 1) })

	report := f.verify(t)
	assert.Contains(t, codes(report.Errors), verify.CodeEventIDDuplicate)
}

func TestVerify_PrevHashOnFirstIsWarning(t *testing.T) {
	f := setup(t)
	f.append(t, model.Draft{Summary: "one"})
	f.rewriteLine(t, 1, func(s string) string { return strings.Replace(s, `{`, `{"prev_hash":"abc",`, 1) })

	report := f.verify(t)
	assert.Equal(t, []string{verify.CodePrevHashOnFirst}, codes(report.Warnings))
	assert.Equal(t, []string{verify.CodeHashMismatch}, codes(report.Errors))
}

func TestVerify_BrokenChain(t *testing.T) {
	f := setup(t)
	f.append(t, model.Draft{Summary: "one"})
	f.append(t, model.Draft{Summary: "two"})
	f.rewriteLine(t, 1, func(s string) string { return strings.Replace(s, `"summary":"one"`, `"summary":"uno"`, 1) })
	f.rewriteLine(t, 1, func(s string) string {
		idx := strings.Index(s, `"hash":"`)
		return s[:idx] + `"hash":"` + strings.Repeat("0", 64) + `"` + s[idx+len(`"hash":"`)+65:]
	})

	report := f.verify(t)
	got := codes(report.Errors)
	assert.Contains(t, got, verify.CodeHashMismatch)
	assert.Contains(t, got, verify.CodePrevHashMismatch)
}

func TestVerify_MissingHashAndTimestamp(t *testing.T) {
	f := setup(t)
	path := f.ledger.Path()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{"schema":"other","seq":1,"event_id":"x","timestamp":"yesterday"}`+"\n"), 0644))

	report := f.verify(t)
	assert.ElementsMatch(t, []string{verify.CodeTimestamp, verify.CodeHashMissing}, codes(report.Errors))
	assert.Equal(t, []string{verify.CodeSchema}, codes(report.Warnings))
}

func TestVerify_ReferencePaths(t *testing.T) {
	f := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.repoRoot, "exists.go"), nil, 0644))
	f.append(t, model.Draft{
		Summary: "touched files",
		Paths:   []string{"exists.go", "gone.go"},
		Refs:    []string{"https://example.com/pr/1", "PR#12"},
	})

	report := f.verify(t, "https://*", "PR#*")
	assert.Empty(t, report.Errors)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, verify.CodeRefMissing, report.Warnings[0].Code)
	assert.Contains(t, report.Warnings[0].Message, "gone.go")
	assert.Equal(t, verify.ExitOK, report.ExitCode(false))
	assert.Equal(t, verify.ExitWarnings, report.ExitCode(true))
}

func TestNewVerifier_BadGlob(t *testing.T) {
	_, err := verify.NewVerifier("x", "y", verify.Options{IgnoreRefs: []string{"[unclosed"}})
	assert.ErrorIs(t, err, errclass.ErrConfigInvalid)
}

func TestVerify_DoesNotMutate(t *testing.T) {
	f := setup(t)
	f.append(t, model.Draft{Summary: "one"})
	before, err := os.ReadFile(f.ledger.Path())
	require.NoError(t, err)

	f.verify(t)

	after, err := os.ReadFile(f.ledger.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
