// Package notes reads the structural memory notes (ACTIVE_TASK.md,
// PROJECT_MEMORY.md, DECISIONS.md and the task capsule) and extracts the
// pieces the context compiler packs.
package notes

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/pathutil"
)

// Notes holds the raw markdown of every structural note. Missing files
// read as empty.
type Notes struct {
	ActiveTask    string
	ProjectMemory string
	Decisions     string
	// CapsuleRel is the capsule path as written in ACTIVE_TASK.md.
	CapsuleRel    string
	Capsule       string
	CapsuleExists bool
	// CapsuleErr is set when the capsule pointer could not be followed. The
	// capsule then reads as empty and the other notes stay usable.
	CapsuleErr error
}

// Load reads the notes of a memory root. A relative capsule path is
// resolved under the memory root and may not escape it; absolute and "~"
// paths are read as given.
func Load(layout repo.Layout) (*Notes, error) {
	n := &Notes{}
	var err error
	if n.ActiveTask, err = readText(layout.ActiveTaskPath); err != nil {
		return nil, err
	}
	if n.ProjectMemory, err = readText(layout.ProjectMemoryPath); err != nil {
		return nil, err
	}
	if n.Decisions, err = readText(layout.DecisionsPath); err != nil {
		return nil, err
	}

	n.CapsuleRel = CapsulePath(n.ActiveTask)
	if n.CapsuleRel != "" {
		n.loadCapsule(layout.MemoryRoot)
	}
	return n, nil
}

func (n *Notes) loadCapsule(root string) {
	path := pathutil.ExpandHome(n.CapsuleRel)
	if !filepath.IsAbs(path) {
		resolved, err := pathutil.ResolveUnder(root, path)
		if err != nil {
			n.CapsuleErr = err
			return
		}
		path = resolved
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		n.CapsuleErr = fmt.Errorf("read capsule %s: %w", path, err)
	default:
		n.Capsule = string(data)
		n.CapsuleExists = true
	}
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read note %s: %w", path, err)
	}
	return string(data), nil
}

// Section returns the body under "## heading" up to the next "## " line,
// trimmed.
func Section(md, heading string) string {
	start := strings.TrimSpace("## " + heading)
	var out []string
	in := false
	for _, line := range splitLines(md) {
		if strings.TrimSpace(line) == start {
			in = true
			continue
		}
		if in && strings.HasPrefix(line, "## ") {
			break
		}
		if in {
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Compact drops blank and heading lines and keeps lines until either
// maxLines lines or maxChars characters would be exceeded.
func Compact(text string, maxLines, maxChars int) string {
	var out []string
	chars := 0
	for _, raw := range splitLines(text) {
		line := strings.TrimRight(raw, " \t\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(out) >= maxLines {
			break
		}
		n := utf8.RuneCountInString(line)
		if chars+n > maxChars {
			break
		}
		out = append(out, line)
		chars += n
	}
	return strings.Join(out, "\n")
}

// DecisionTitles returns the last n "### " lines of DECISIONS.md.
func DecisionTitles(md string, n int) []string {
	var titles []string
	for _, line := range splitLines(md) {
		if strings.HasPrefix(line, "### ") {
			titles = append(titles, strings.TrimSpace(line))
		}
	}
	if n <= 0 {
		return nil
	}
	if len(titles) > n {
		titles = titles[len(titles)-n:]
	}
	return titles
}

var capsuleRe = regexp.MustCompile("Capsule:\\s*`?([^`]+)`?")

// CapsulePath returns the path from the first line carrying "Capsule:".
func CapsulePath(activeTask string) string {
	for _, line := range splitLines(activeTask) {
		if !strings.Contains(line, "Capsule:") {
			continue
		}
		if m := capsuleRe.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}
