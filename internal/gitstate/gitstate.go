// Package gitstate reads the state of the project's git checkout: the
// branch and commit HEAD points at, a digest of the working tree, and the
// plain-text report written by git snapshots.
package gitstate

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/logging"
)

// DefaultTimeout bounds every git invocation.
const DefaultTimeout = 5 * time.Second

// DetachedBranch is reported as the branch when HEAD is not symbolic.
const DetachedBranch = "HEAD"

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	// Exclude is a directory left out of the working-tree digest, usually
	// the memory root when it lives inside the checkout.
	Exclude string
	Logger  *logging.Logger
}

// Client inspects one checkout. HEAD and refs are read from disk; the
// working-tree digest shells out to git.
type Client struct {
	root      string
	gitDir    string
	commonDir string
	exclude   string
	// noStatus is set when the excluded directory covers the whole
	// checkout, so no digest is meaningful.
	noStatus bool
	timeout  time.Duration
	log      *logging.Logger
}

// New resolves the git directory of root. A root that is not a checkout
// yields a Client whose State reports Enabled false.
func New(root string, opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logging.Global()
	}
	c := &Client{
		root:    root,
		timeout: opts.Timeout,
		log:     log.WithFields(map[string]any{"component": "gitstate"}),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	c.gitDir, c.commonDir = resolveGitDir(root)
	if opts.Exclude != "" {
		if rel, err := filepath.Rel(root, opts.Exclude); err == nil && !strings.HasPrefix(rel, "..") {
			if rel == "." {
				c.noStatus = true
			} else {
				c.exclude = filepath.ToSlash(rel)
			}
		}
	}
	return c
}

// Enabled reports whether root is a git checkout.
func (c *Client) Enabled() bool {
	return c.gitDir != ""
}

// resolveGitDir finds the per-worktree git dir and the common dir holding
// refs. A linked worktree has a ".git" file pointing at
// <common>/worktrees/<name>, which names the common dir in "commondir".
func resolveGitDir(root string) (gitDir, commonDir string) {
	dotGit := filepath.Join(root, repo.GitDirName)
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", ""
	}
	gitDir = dotGit
	if !info.IsDir() {
		data, err := os.ReadFile(dotGit)
		if err != nil {
			return "", ""
		}
		target, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir:")
		if !ok {
			return "", ""
		}
		gitDir = strings.TrimSpace(target)
		if !filepath.IsAbs(gitDir) {
			gitDir = filepath.Join(root, gitDir)
		}
		gitDir = filepath.Clean(gitDir)
	}

	commonDir = gitDir
	if data, err := os.ReadFile(filepath.Join(gitDir, "commondir")); err == nil {
		commonDir = strings.TrimSpace(string(data))
		if !filepath.IsAbs(commonDir) {
			commonDir = filepath.Join(gitDir, commonDir)
		}
		commonDir = filepath.Clean(commonDir)
	}
	return gitDir, commonDir
}

// State is the part of the checkout that feeds the cycle fingerprint.
type State struct {
	Enabled    bool   `json:"git_enabled"`
	Head       string `json:"git_head,omitempty"`
	Branch     string `json:"git_branch,omitempty"`
	StatusHash string `json:"git_status_hash,omitempty"`
}

// Inputs flattens the state into fingerprint inputs. Empty values are
// left out.
func (s State) Inputs() map[string]string {
	out := map[string]string{"git_enabled": strconv.FormatBool(s.Enabled)}
	for key, value := range map[string]string{
		"git_head":        s.Head,
		"git_branch":      s.Branch,
		"git_status_hash": s.StatusHash,
	} {
		if value != "" {
			out[key] = value
		}
	}
	return out
}

// State reads HEAD and digests the working tree.
func (c *Client) State(ctx context.Context) State {
	if !c.Enabled() {
		return State{}
	}
	head, branch := c.Head()
	return State{
		Enabled:    true,
		Head:       head,
		Branch:     branch,
		StatusHash: c.statusHash(ctx),
	}
}

// Head returns the commit HEAD resolves to and the branch it names. A
// detached HEAD reports DetachedBranch; an unborn branch has no commit.
func (c *Client) Head() (commit, branch string) {
	data, err := os.ReadFile(filepath.Join(c.gitDir, "HEAD"))
	if err != nil {
		return "", ""
	}
	line := strings.TrimSpace(string(data))
	ref, ok := strings.CutPrefix(line, "ref:")
	if !ok {
		return line, DetachedBranch
	}
	ref = strings.TrimSpace(ref)
	return c.resolveRef(ref), strings.TrimPrefix(ref, "refs/heads/")
}

// resolveRef looks a ref up as a loose file, per-worktree first, then in
// packed-refs.
func (c *Client) resolveRef(ref string) string {
	for _, dir := range []string{c.gitDir, c.commonDir} {
		if data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(ref))); err == nil {
			if v := strings.TrimSpace(string(data)); v != "" {
				return v
			}
		}
	}

	f, err := os.Open(filepath.Join(c.commonDir, "packed-refs"))
	if err != nil {
		return ""
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		hash, name, ok := strings.Cut(line, " ")
		if ok && strings.TrimSpace(name) == ref {
			return hash
		}
	}
	return ""
}

// statusHash digests `git status --porcelain=v1` with untracked files
// listed one by one. When git cannot run it
// falls back to the index size and mtime, so staging still registers.
func (c *Client) statusHash(ctx context.Context) string {
	if c.noStatus {
		return ""
	}
	out, err := c.run(ctx, c.statusArgs()...)
	if err == nil {
		sum := sha256.Sum256([]byte(out))
		return hex.EncodeToString(sum[:])
	}
	c.log.Debug("gitstate.status_failed", map[string]any{"error": err.Error()})

	info, err := os.Stat(filepath.Join(c.gitDir, "index"))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("index:%d:%d", info.Size(), info.ModTime().UnixNano())))
	return hex.EncodeToString(sum[:])
}

func (c *Client) statusArgs() []string {
	args := []string{"status", "--porcelain=v1", "--untracked-files=all"}
	if c.exclude != "" {
		args = append(args, "--", ".", ":(exclude)"+c.exclude)
	}
	return args
}

// run executes a git command in the checkout and returns stdout without
// its trailing newlines. Leading spaces are significant in porcelain output.
// GIT_CEILING_DIRECTORIES keeps git from walking up into an enclosing
// repository.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.root
	cmd.Env = append(os.Environ(),
		"GIT_OPTIONAL_LOCKS=0",
		"GIT_CEILING_DIRECTORIES="+filepath.Dir(c.root),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timeout after %v", args[0], c.timeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

// Report is the plain-text view of the checkout written into a git
// snapshot note. A field whose command failed holds an
// "<error running git ...>" line instead.
type Report struct {
	Branch   string
	Head     string
	Status   string
	Staged   string
	Unstaged string
	DiffStat string
}

// Report runs the snapshot queries concurrently. It never fails; each
// query reports its own error inline.
func (c *Client) Report(ctx context.Context) *Report {
	r := &Report{}
	queries := []struct {
		dst  *string
		args []string
	}{
		{&r.Branch, []string{"rev-parse", "--abbrev-ref", "HEAD"}},
		{&r.Head, []string{"rev-parse", "HEAD"}},
		{&r.Status, c.statusArgs()},
		{&r.Staged, []string{"diff", "--name-only", "--cached"}},
		{&r.Unstaged, []string{"diff", "--name-only"}},
		{&r.DiffStat, []string{"diff", "--stat"}},
	}

	var g errgroup.Group
	for _, q := range queries {
		q := q
		g.Go(func() error {
			out, err := c.run(ctx, q.args...)
			if err != nil {
				out = fmt.Sprintf("<error running git %s: %v>", strings.Join(q.args, " "), err)
			}
			*q.dst = out
			return nil
		})
	}
	_ = g.Wait()
	return r
}
