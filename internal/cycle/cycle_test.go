package cycle_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/continuity/internal/compile"
	"github.com/jvs-project/continuity/internal/cycle"
	"github.com/jvs-project/continuity/internal/ledger"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/config"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/model"
)

type fixture struct {
	layout repo.Layout
	ledger *ledger.Ledger
	opts   cycle.Options
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mem := t.TempDir()
	layout := repo.NewLayout(&repo.Repo{Root: mem, ID: "proj--0123456789"}, mem, config.Default())
	require.NoError(t, os.WriteFile(layout.ActiveTaskPath, []byte("# Task\n\n## Objective\n\nShip the watcher.\n"), 0644))
	l := ledger.New(layout.LedgerPath, ledger.Options{Logger: logging.Discard()})
	return &fixture{
		layout: layout,
		ledger: l,
		opts: cycle.Options{
			Compile: compile.Options{
				BudgetTokens:   1200,
				MaxEvents:      10,
				MaxDecisions:   6,
				UseTypedMemory: true,
				PackMode:       compile.PackPrefix,
			},
			TypedWindow: 500,
			TypedTopN:   12,
			IgnoreRefs:  []string{"http://*", "https://*"},
			Logger:      logging.Discard(),
		},
	}
}

func (f *fixture) runner() *cycle.Runner {
	return cycle.NewRunner(f.layout, f.ledger, f.opts)
}

func (f *fixture) events(t *testing.T) []*model.Event {
	t.Helper()
	events, err := f.ledger.ReadAll()
	require.NoError(t, err)
	return events
}

func TestRunOnce_UpdatesThenSkips(t *testing.T) {
	f := setup(t)
	_, err := f.ledger.Append(model.Draft{Kind: "test", Status: model.StatusSuccess, Summary: "tests pass"})
	require.NoError(t, err)

	r := f.runner()
	res, err := r.RunOnce(false)
	require.NoError(t, err)
	assert.Equal(t, cycle.OutcomeUpdated, res.Outcome)
	assert.True(t, res.OK)
	assert.Equal(t, f.layout.LatestPath, res.Document)
	assert.FileExists(t, f.layout.LatestPath)
	assert.FileExists(t, f.layout.TypedJSONPath)
	require.NotNil(t, res.Event)
	assert.Equal(t, cycle.Source, res.Event.Source)
	assert.Equal(t, "automation", res.Event.Kind)
	require.NotNil(t, res.Event.Payload.Cycle)
	assert.Equal(t, cycle.StageDone, res.Event.Payload.Cycle.Stage)
	assert.Equal(t, 1200, res.Event.Payload.Cycle.BudgetTokens)

	state, err := cycle.LoadState(f.layout)
	require.NoError(t, err)
	assert.Equal(t, model.SchemaCycleState, state.Schema)
	assert.Equal(t, res.Fingerprint, state.Fingerprint)
	assert.Equal(t, cycle.OutcomeUpdated, state.LastOutcome)

	again, err := r.RunOnce(false)
	require.NoError(t, err)
	assert.Equal(t, cycle.OutcomeSkipped, again.Outcome)
	assert.True(t, again.OK)
	assert.Nil(t, again.Event)
	assert.Len(t, f.events(t), 2)

	forced, err := r.RunOnce(true)
	require.NoError(t, err)
	assert.Equal(t, cycle.OutcomeUpdated, forced.Outcome)
}

func TestRunOnce_RerunsOnNoteChange(t *testing.T) {
	f := setup(t)
	r := f.runner()
	_, err := r.RunOnce(false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.layout.DecisionsPath, []byte("### Use fsnotify\n"), 0644))
	res, err := r.RunOnce(false)
	require.NoError(t, err)
	assert.Equal(t, cycle.OutcomeUpdated, res.Outcome)

	latest, err := os.ReadFile(f.layout.LatestPath)
	require.NoError(t, err)
	assert.Contains(t, string(latest), "### Use fsnotify")
}

func TestFingerprint_IgnoresOwnEvents(t *testing.T) {
	f := setup(t)
	r := f.runner()
	require.NoError(t, f.layout.Bootstrap())

	before, inputs, err := r.Fingerprint()
	require.NoError(t, err)
	assert.NotContains(t, inputs, "event_hash")

	_, err = f.ledger.Append(model.Draft{Kind: "automation", Status: model.StatusSuccess, Summary: "cycle", Source: cycle.Source})
	require.NoError(t, err)
	same, _, err := r.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, before, same)

	_, err = f.ledger.Append(model.Draft{Kind: "note", Summary: "material"})
	require.NoError(t, err)
	changed, inputs, err := r.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, before, changed)
	assert.Equal(t, "2", inputs["event_seq"])
}

func TestFingerprint_GitHead(t *testing.T) {
	f := setup(t)
	gitDir := filepath.Join(f.layout.RepoRoot, ".git")
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "refs", "heads"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "refs", "heads", "main"), []byte("abc123\n"), 0644))

	_, inputs, err := f.runner().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, "abc123", inputs["git_head"])
	assert.Equal(t, "main", inputs["git_branch"])
	assert.Equal(t, "true", inputs["git_enabled"])
}

// gitCheckout turns a fresh directory into a checkout with one commit and
// points the fixture's repo root at it. The memory root stays outside.
func (f *fixture) gitCheckout(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-c", "user.name=test", "-c", "user.email=test@example.com", "-c", "commit.gpgsign=false"}, args...)...)
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	git("init", "-q")
	git("symbolic-ref", "HEAD", "refs/heads/main")
	require.NoError(t, os.WriteFile(filepath.Join(root, "server.go"), []byte("package server\n"), 0644))
	git("add", "server.go")
	git("commit", "-q", "-m", "initial")

	f.layout = repo.NewLayout(&repo.Repo{Root: root, ID: "proj--0123456789"}, f.layout.MemoryRoot, config.Default())
	return root
}

func TestFingerprint_WorkingTreeChange(t *testing.T) {
	f := setup(t)
	root := f.gitCheckout(t)
	r := f.runner()

	res, err := r.RunOnce(false)
	require.NoError(t, err)
	require.Equal(t, cycle.OutcomeUpdated, res.Outcome)
	again, err := r.RunOnce(false)
	require.NoError(t, err)
	require.Equal(t, cycle.OutcomeSkipped, again.Outcome)

	_, before, err := r.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, "main", before["git_branch"])
	assert.NotEmpty(t, before["git_status_hash"])

	require.NoError(t, os.WriteFile(filepath.Join(root, "server.go"), []byte("package server\n\nfunc Run() {}\n"), 0644))
	_, after, err := r.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, before["git_head"], after["git_head"])
	assert.NotEqual(t, before["git_status_hash"], after["git_status_hash"])

	res, err = r.RunOnce(false)
	require.NoError(t, err)
	assert.Equal(t, cycle.OutcomeUpdated, res.Outcome, "an uncommitted edit reruns the cycle")
}

func TestRunOnce_VerifyFailure(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.layout.EnsureDirs())
	require.NoError(t, os.WriteFile(f.layout.LedgerPath, []byte("{not json\n"), 0644))

	r := f.runner()
	res, err := r.RunOnce(false)
	require.NoError(t, err)
	assert.Equal(t, cycle.OutcomeVerifyFailed, res.Outcome)
	assert.False(t, res.OK)
	require.NotNil(t, res.Event)
	assert.Equal(t, model.StatusWarning, res.Event.Status)
	assert.Equal(t, cycle.StageVerify, res.Event.Payload.Cycle.Stage)
	assert.NoFileExists(t, f.layout.LatestPath)

	again, err := r.RunOnce(false)
	require.NoError(t, err)
	assert.Equal(t, cycle.OutcomeVerifyFailed, again.Outcome)
	assert.Nil(t, again.Event, "the same failure is recorded once")
}

func TestRunOnce_Snapshot(t *testing.T) {
	f := setup(t)
	f.opts.TrackedArtifacts = config.DefaultTrackedArtifacts
	f.opts.SnapshotMinInterval = time.Hour
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	f.opts.Now = func() time.Time { return now }
	r := f.runner()

	res, err := r.RunOnce(false)
	require.NoError(t, err)
	require.NotEmpty(t, res.Snapshot)
	assert.Contains(t, res.Event.Summary, "+ snapshot")
	assert.FileExists(t, filepath.Join(f.layout.CommitsDir, string(res.Snapshot)+".json"))

	now = now.Add(10 * time.Minute)
	res, err = r.RunOnce(true)
	require.NoError(t, err)
	assert.Empty(t, res.Snapshot, "inside the minimum interval")

	now = now.Add(time.Hour)
	res, err = r.RunOnce(true)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Snapshot)

	for _, e := range f.events(t) {
		assert.NotEqual(t, "context-op", e.Kind, "snapshots do not record ref events")
	}
}

func TestRunOnce_GitSnapshot(t *testing.T) {
	f := setup(t)
	f.gitCheckout(t)
	f.opts.GitSnapshot = true
	f.opts.SnapshotMinInterval = time.Hour
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	f.opts.Now = func() time.Time { return now }
	r := f.runner()

	res, err := r.RunOnce(false)
	require.NoError(t, err)
	assert.Empty(t, res.Snapshot, "no tracked artifacts configured")
	require.Equal(t, filepath.Join(f.layout.SnapshotsDir, "2026-10-17_120000--auto-cycle.md"), res.GitSnapshot)
	assert.Contains(t, res.Event.Summary, "+ snapshot")

	data, err := os.ReadFile(res.GitSnapshot)
	require.NoError(t, err)
	assert.Contains(t, string(data), "- Branch: `main`")

	state, err := cycle.LoadState(f.layout)
	require.NoError(t, err)
	assert.Equal(t, res.GitSnapshot, state.LastGitNote)

	now = now.Add(10 * time.Minute)
	res, err = r.RunOnce(true)
	require.NoError(t, err)
	assert.Empty(t, res.GitSnapshot, "inside the minimum interval")
}

func TestWatch_RunsOnChange(t *testing.T) {
	f := setup(t)
	f.opts.Debounce = 20 * time.Millisecond
	f.opts.Interval = time.Hour

	var mu sync.Mutex
	var outcomes []string
	f.opts.OnResult = func(res *cycle.Result) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, res.Outcome)
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes)
	}
	updatedAfterStart := func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, o := range outcomes[min(1, len(outcomes)):] {
			if o == cycle.OutcomeUpdated {
				return true
			}
		}
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner().Watch(ctx) }()

	require.Eventually(t, func() bool { return count() >= 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(f.layout.ActiveTaskPath, []byte("# Task\n\n## Objective\n\nChanged.\n"), 0644))
	require.Eventually(t, updatedAfterStart, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, cycle.OutcomeUpdated, outcomes[0])
}
