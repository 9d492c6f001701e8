package model

import (
	"fmt"
	"strings"
)

// Schema tags written into every persisted artifact.
const (
	SchemaEvent       = "context-continuity-event-v1"
	SchemaRefs        = "context-continuity-context-ops-v1"
	SchemaCommit      = SchemaRefs
	SchemaTypedMemory = "context-continuity-typed-memory-v1"
	SchemaTrace       = "context-continuity-rehydrate-trace-v1"
	SchemaCycleState  = "context-continuity-cycle-state-v1"
	SchemaEval        = "context-continuity-eval-v1"
)

// HashValue is a SHA-256 hash stored as hex string.
type HashValue string

// Short returns the first 10 characters for display.
func (h HashValue) Short() string {
	s := string(h)
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

// RecordPolicy controls whether a mutating operation appends a ledger event.
type RecordPolicy string

const (
	RecordOff      RecordPolicy = "off"
	RecordOnChange RecordPolicy = "on-change"
	RecordAlways   RecordPolicy = "always"
)

// ParseRecordPolicy accepts off, on-change or always. Empty means on-change.
func ParseRecordPolicy(s string) (RecordPolicy, error) {
	switch p := RecordPolicy(strings.TrimSpace(s)); p {
	case "":
		return RecordOnChange, nil
	case RecordOff, RecordOnChange, RecordAlways:
		return p, nil
	default:
		return "", fmt.Errorf("unknown record policy %q (want off, on-change or always)", s)
	}
}

// ShouldRecord reports whether an event is due given whether state changed.
func (p RecordPolicy) ShouldRecord(changed bool) bool {
	switch p {
	case RecordAlways:
		return true
	case RecordOff:
		return false
	default:
		return changed
	}
}
