package pathutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/jvs-project/continuity/pkg/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBranchName_Valid(t *testing.T) {
	valid := []string{"main", "feature-1", "v1.0", "my_branch", "A-Z.test", "feature/ranking"}
	for _, name := range valid {
		got, err := pathutil.ValidateBranchName(name)
		assert.NoError(t, err, "should accept: %s", name)
		assert.Equal(t, name, got)
	}
}

func TestValidateBranchName_Trims(t *testing.T) {
	got, err := pathutil.ValidateBranchName("  b1 ")
	require.NoError(t, err)
	assert.Equal(t, "b1", got)
}

func TestValidateBranchName_Empty(t *testing.T) {
	_, err := pathutil.ValidateBranchName("   ")
	require.ErrorIs(t, err, errclass.ErrNameInvalid)
}

func TestValidateBranchName_DotDot(t *testing.T) {
	for _, name := range []string{"..", "a..b", "x/../y"} {
		_, err := pathutil.ValidateBranchName(name)
		require.ErrorIs(t, err, errclass.ErrNameInvalid, "should reject: %s", name)
	}
}

func TestValidateBranchName_BadSegments(t *testing.T) {
	for _, name := range []string{"/lead", "trail/", "a//b", "a\\b", "has space", "emoji🙂"} {
		_, err := pathutil.ValidateBranchName(name)
		require.ErrorIs(t, err, errclass.ErrNameInvalid, "should reject: %s", name)
	}
}

func TestValidateBranchName_ControlChars(t *testing.T) {
	_, err := pathutil.ValidateBranchName("hello\x00world")
	require.ErrorIs(t, err, errclass.ErrNameInvalid)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "notes.md"), pathutil.ExpandHome("~/notes.md"))
	assert.Equal(t, "rel/~x", pathutil.ExpandHome("rel/~x"))
}

func TestResolveUnder(t *testing.T) {
	root := t.TempDir()
	got, err := pathutil.ResolveUnder(root, "planning/ACTIVE.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "planning", "ACTIVE.md"), got)

	_, err = pathutil.ResolveUnder(root, "../outside.md")
	require.ErrorIs(t, err, errclass.ErrPathEscape)

	_, err = pathutil.ResolveUnder(root, "/etc/passwd")
	require.ErrorIs(t, err, errclass.ErrPathEscape)
}

func TestValidatePathSafety_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(outside, link))
	err := pathutil.ValidatePathSafety(root, link)
	require.ErrorIs(t, err, errclass.ErrPathEscape)
}
