package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger(LevelInfo)
	if logger.level != LevelInfo {
		t.Errorf("expected level %s, got %s", LevelInfo, logger.level)
	}
	if logger.format != FormatJSON {
		t.Errorf("expected json format, got %s", logger.format)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		" warn ":  LevelWarn,
		"error":   LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelDebug)
	logger.SetOutput(&buf)

	logger.Debug("test message", map[string]any{"key": "value"})

	output := buf.String()
	if !strings.Contains(output, `"level":"debug"`) {
		t.Errorf("expected debug level in output, got: %s", output)
	}
	if !strings.Contains(output, `"message":"test message"`) {
		t.Errorf("expected message in output, got: %s", output)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelWarn)
	logger.SetOutput(&buf)

	logger.Debug("d")
	logger.Info("i")
	if buf.Len() > 0 {
		t.Errorf("expected no output below warn, got: %s", buf.String())
	}

	logger.Warn("w")
	logger.Error("e")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
}

func TestLogger_Enabled(t *testing.T) {
	logger := NewLogger(LevelInfo)
	if logger.Enabled(LevelDebug) {
		t.Error("debug should be disabled at info")
	}
	if !logger.Enabled(LevelError) {
		t.Error("error should be enabled at info")
	}
}

func TestLogger_ErrorErr(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelError)
	logger.SetOutput(&buf)

	logger.ErrorErr("append failed", errors.New("disk full"), map[string]any{"seq": 4})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry.Fields["error"] != "disk full" {
		t.Errorf("expected error field, got %v", entry.Fields)
	}
	if entry.Fields["seq"] != float64(4) {
		t.Errorf("expected seq field, got %v", entry.Fields)
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo)
	logger.SetOutput(&buf)

	child := logger.WithFields(map[string]any{"component": "ledger"})
	child.Info("appended", map[string]any{"seq": 1})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry.Fields["component"] != "ledger" {
		t.Errorf("expected component field, got %v", entry.Fields)
	}
	if _, ok := logger.fields["component"]; ok {
		t.Error("parent logger should not gain child fields")
	}
}

func TestLogger_NoFieldsOmitted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo)
	logger.SetOutput(&buf)

	logger.Info("bare")
	if strings.Contains(buf.String(), `"fields"`) {
		t.Errorf("expected fields to be omitted, got: %s", buf.String())
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo)
	logger.SetOutput(&buf)
	logger.SetFormat(FormatText)

	logger.Warn("ledger.seq_fallback", map[string]any{"seq": 3, "ledger": "events.jsonl"})

	output := buf.String()
	if !strings.Contains(output, " WARN ledger.seq_fallback ledger=events.jsonl seq=3\n") {
		t.Errorf("unexpected text output: %q", output)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("dropped")
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := Global()
	defer SetGlobal(prev)

	logger := NewLogger(LevelDebug)
	logger.SetOutput(&buf)
	SetGlobal(logger)

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")
	ErrorErr("ee", errors.New("boom"))
	WithFields(map[string]any{"k": "v"}).Info("f")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 6 {
		t.Errorf("expected 6 lines, got %d", len(lines))
	}
}
