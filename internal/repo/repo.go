// Package repo locates the project repository and the memory root that
// holds its continuity artifacts.
package repo

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jvs-project/continuity/pkg/config"
	"github.com/jvs-project/continuity/pkg/pathutil"
)

const (
	GitDirName = ".git"
	// HomeEnv overrides the base directory that holds per-repo memory roots.
	HomeEnv     = "CONTINUITY_HOME"
	homeDirName = ".continuity"
)

// Repo is a discovered project repository.
type Repo struct {
	// Root is the working tree root.
	Root string
	// IdentityRoot is shared by every linked worktree of the same repository.
	IdentityRoot string
	// ID is <slug(basename)>--<sha256(identity root)[:10]>.
	ID string
}

// Discover walks up from cwd to find the directory containing .git. When no
// repository is found the cwd itself is treated as the root.
func Discover(cwd string) (*Repo, error) {
	start, err := filepath.Abs(cwd)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cwd, err)
	}
	if resolved, err := filepath.EvalSymlinks(start); err == nil {
		start = resolved
	}

	path := start
	for {
		gitPath := filepath.Join(path, GitDirName)
		if info, err := os.Stat(gitPath); err == nil {
			identity := path
			if !info.IsDir() {
				identity = worktreeIdentity(path, gitPath)
			}
			return newRepo(path, identity), nil
		}

		parent := filepath.Dir(path)
		if parent == path {
			return newRepo(start, start), nil
		}
		path = parent
	}
}

func newRepo(root, identity string) *Repo {
	return &Repo{Root: root, IdentityRoot: identity, ID: ID(identity)}
}

// worktreeIdentity maps a linked worktree (".git" is a file pointing at
// <main>/.git/worktrees/<name>) back to the main checkout.
func worktreeIdentity(root, gitFile string) string {
	data, err := os.ReadFile(gitFile)
	if err != nil {
		return root
	}
	line := strings.TrimSpace(string(data))
	gitdir, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return root
	}
	gitdir = strings.TrimSpace(gitdir)
	if !filepath.IsAbs(gitdir) {
		gitdir = filepath.Join(root, gitdir)
	}
	gitdir = filepath.Clean(gitdir)

	marker := string(filepath.Separator) + GitDirName + string(filepath.Separator) + "worktrees" + string(filepath.Separator)
	if idx := strings.Index(gitdir, marker); idx > 0 {
		return gitdir[:idx]
	}
	return root
}

var slugRegex = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Slug replaces runs of unsafe characters with "-".
func Slug(text string) string {
	value := strings.Trim(slugRegex.ReplaceAllString(strings.TrimSpace(text), "-"), "-")
	if value == "" {
		return "entry"
	}
	return value
}

// ID derives the stable repository id from its identity root.
func ID(identityRoot string) string {
	sum := sha256.Sum256([]byte(identityRoot))
	name := filepath.Base(identityRoot)
	if name == "" || name == string(filepath.Separator) || name == "." {
		name = "repo"
	}
	return Slug(name) + "--" + hex.EncodeToString(sum[:])[:10]
}

// MemoryRoot resolves where a repository's artifacts live: the explicit
// path if given, else $CONTINUITY_HOME/memory/<id>, else
// ~/.continuity/memory/<id>.
func MemoryRoot(explicit string, r *Repo) (string, error) {
	if explicit != "" {
		return filepath.Abs(pathutil.ExpandHome(explicit))
	}
	if home := os.Getenv(HomeEnv); home != "" {
		return filepath.Abs(filepath.Join(pathutil.ExpandHome(home), "memory", r.ID))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, homeDirName, "memory", r.ID), nil
}

// Layout names every file and directory under a memory root.
type Layout struct {
	RepoRoot   string
	RepoID     string
	MemoryRoot string

	ConfigPath string

	LedgerPath string
	LockPath   string

	ContextDir string
	RefsPath   string
	CommitsDir string

	TypedJSONPath     string
	TypedMarkdownPath string

	RehydratedDir   string
	LatestPath      string
	TracesDir       string
	LatestTracePath string
	EvalsDir        string
	LatestEvalPath  string
	BenchmarksDir   string
	SnapshotsDir    string

	AutomationDir  string
	CycleStatePath string

	ActiveTaskPath    string
	ProjectMemoryPath string
	DecisionsPath     string
	PlanningPath      string
}

// NewLayout builds the layout for memoryRoot; the ledger location comes
// from cfg.
func NewLayout(r *Repo, memoryRoot string, cfg *config.Config) Layout {
	ledger := cfg.LedgerPath(memoryRoot)
	contextDir := filepath.Join(memoryRoot, "context")
	rehydrated := filepath.Join(memoryRoot, "rehydrated")
	traces := filepath.Join(rehydrated, "traces")
	automation := filepath.Join(memoryRoot, "automation")

	return Layout{
		RepoRoot:          r.Root,
		RepoID:            r.ID,
		MemoryRoot:        memoryRoot,
		ConfigPath:        config.Path(memoryRoot),
		LedgerPath:        ledger,
		LockPath:          ledger + ".lock",
		ContextDir:        contextDir,
		RefsPath:          filepath.Join(contextDir, "refs.json"),
		CommitsDir:        filepath.Join(contextDir, "commits"),
		TypedJSONPath:     filepath.Join(memoryRoot, "typed-memory.json"),
		TypedMarkdownPath: filepath.Join(memoryRoot, "typed-memory.md"),
		RehydratedDir:     rehydrated,
		LatestPath:        filepath.Join(rehydrated, "latest.md"),
		TracesDir:         traces,
		LatestTracePath:   filepath.Join(traces, "latest-trace.json"),
		EvalsDir:          filepath.Join(rehydrated, "evals"),
		LatestEvalPath:    filepath.Join(rehydrated, "evals", "latest-eval.json"),
		BenchmarksDir:     filepath.Join(rehydrated, "benchmarks"),
		SnapshotsDir:      filepath.Join(memoryRoot, "snapshots"),
		AutomationDir:     automation,
		CycleStatePath:    filepath.Join(automation, "cycle-state.json"),
		ActiveTaskPath:    filepath.Join(memoryRoot, "ACTIVE_TASK.md"),
		ProjectMemoryPath: filepath.Join(memoryRoot, "PROJECT_MEMORY.md"),
		DecisionsPath:     filepath.Join(memoryRoot, "DECISIONS.md"),
		PlanningPath:      filepath.Join(memoryRoot, "planning", "ACTIVE.md"),
	}
}

// EnsureDirs creates the directory skeleton of the layout.
func (l Layout) EnsureDirs() error {
	dirs := []string{
		l.MemoryRoot,
		filepath.Dir(l.LedgerPath),
		l.CommitsDir,
		l.TracesDir,
		l.AutomationDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Bootstrap creates the directory skeleton and an empty ledger file so
// verification and compilation have something to read.
func (l Layout) Bootstrap() error {
	if err := l.EnsureDirs(); err != nil {
		return err
	}
	f, err := os.OpenFile(l.LedgerPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	return f.Close()
}
