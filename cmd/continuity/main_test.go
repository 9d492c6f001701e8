package main

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getProjectRoot returns the absolute path to the project root.
func getProjectRoot(t *testing.T) string {
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	t.Fatal("go.mod not found")
	return ""
}

func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping build test in short mode")
	}
	binPath := filepath.Join(t.TempDir(), "continuity")
	buildCmd := exec.Command("go", "build", "-o", binPath, ".")
	buildCmd.Dir = filepath.Join(getProjectRoot(t), "cmd", "continuity")
	output, err := buildCmd.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(output))
	return binPath
}

func run(bin, dir string, args ...string) (string, int) {
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "NO_COLOR=1", "CONTINUITY_HOME="+filepath.Join(dir, ".home"))
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode()
	}
	return string(out), 0
}

func TestMainEntryPoints(t *testing.T) {
	_ = main
}

func TestMainHelpFlag(t *testing.T) {
	bin := buildBinary(t)
	out, code := run(bin, t.TempDir(), "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "continuity")
	assert.Contains(t, out, "hash-chained")
}

func TestMainUnknownCommand(t *testing.T) {
	bin := buildBinary(t)
	out, code := run(bin, t.TempDir(), "unknown-command-xyz")
	assert.Equal(t, 1, code)
	assert.Contains(t, strings.ToLower(out), "unknown")
}

func TestBinaryCaptureVerifyCompile(t *testing.T) {
	bin := buildBinary(t)
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0755))

	out, code := run(bin, dir, "init")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Initialized")

	out, code = run(bin, dir, "capture", "first step", "--status", "success")
	require.Equal(t, 0, code, out)

	out, code = run(bin, dir, "verify")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "OK")

	out, code = run(bin, dir, "--json", "compile", "--no-write", "--budget-tokens", "400")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, `"used_tokens"`)
}

func TestBinaryVerifyExitCodes(t *testing.T) {
	bin := buildBinary(t)
	dir := t.TempDir()
	memory := filepath.Join(dir, "mem")

	_, code := run(bin, dir, "--memory-root", memory, "capture", "one")
	require.Equal(t, 0, code)
	_, code = run(bin, dir, "--memory-root", memory, "capture", "two")
	require.Equal(t, 0, code)

	ledgerPath := filepath.Join(memory, "events", "events.jsonl")
	data, err := os.ReadFile(ledgerPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ledgerPath, []byte(strings.Replace(string(data), `"summary":"one"`, `"summary":"uno"`, 1)), 0644))

	out, code := run(bin, dir, "--memory-root", memory, "verify")
	assert.Equal(t, 2, code, out)

	out, code = run(bin, dir, "--memory-root", memory, "repair")
	require.Equal(t, 0, code, out)
	out, code = run(bin, dir, "--memory-root", memory, "verify")
	assert.Equal(t, 0, code, out)
}
