// Package pathutil provides path and name validation utilities for continuity.
package pathutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jvs-project/continuity/pkg/errclass"
)

var branchRegex = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// ValidateBranchName checks a context branch name and returns its NFC form.
// Slash-separated names such as "feature/x" are allowed; empty segments and
// ".." are not.
func ValidateBranchName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", errclass.ErrNameInvalid.WithMessage("branch name must not be empty")
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return "", errclass.ErrNameInvalid.WithMessagef("branch name must not contain control characters: %q", name)
		}
	}

	if strings.Contains(name, "..") {
		return "", errclass.ErrNameInvalid.WithMessagef("branch name must not contain '..': %s", name)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.Contains(name, "//") {
		return "", errclass.ErrNameInvalid.WithMessagef("branch name has an empty path segment: %s", name)
	}
	if !branchRegex.MatchString(name) {
		return "", errclass.ErrNameInvalid.WithMessagef("branch name must match [a-zA-Z0-9._/-]+: %s", name)
	}
	return name, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ResolveUnder joins a relative path onto root and rejects results that
// escape it.
func ResolveUnder(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", errclass.ErrPathEscape.WithMessagef("path must be relative: %s", rel)
	}
	target := filepath.Join(root, rel)
	if err := ValidatePathSafety(root, target); err != nil {
		return "", err
	}
	return target, nil
}

// ValidatePathSafety verifies target path does not escape root.
func ValidatePathSafety(root, targetPath string) error {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return errclass.ErrPathEscape.WithMessagef("cannot resolve root: %v", err)
	}

	// Try resolving target; if it doesn't exist, resolve closest ancestor
	resolvedTarget, err := filepath.EvalSymlinks(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			resolvedTarget = resolveClosestAncestor(targetPath)
		} else {
			return errclass.ErrPathEscape.WithMessagef("cannot resolve target: %v", err)
		}
	}

	if !strings.HasPrefix(resolvedTarget+string(filepath.Separator), resolvedRoot+string(filepath.Separator)) &&
		resolvedTarget != resolvedRoot {
		return errclass.ErrPathEscape.WithMessagef("path escapes root: %s", targetPath)
	}

	return nil
}

// resolveClosestAncestor walks up from path to find the closest existing
// ancestor, resolves it, then appends the remaining components.
func resolveClosestAncestor(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if os.IsNotExist(err) && dir != path {
			resolved = resolveClosestAncestor(dir)
		} else {
			return filepath.Clean(path)
		}
	}
	return filepath.Join(resolved, base)
}
