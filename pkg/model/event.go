package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome attached to every ledger event.
type Status string

const (
	StatusInfo    Status = "info"
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusFailure Status = "failure"
)

// Valid reports whether s is one of the four recognized statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInfo, StatusSuccess, StatusWarning, StatusFailure:
		return true
	}
	return false
}

// TimestampLayout is ISO-8601 UTC with second precision.
const TimestampLayout = time.RFC3339

// FileStampLayout prefixes timestamped artifact names so they sort by time.
const FileStampLayout = "2006-01-02_150405"

// Event is a single line in the ledger (JSONL). Every empty field is omitted
// so the encoded form doubles as the canonical form used for hashing.
type Event struct {
	Schema    string    `json:"schema,omitempty"`
	Seq       int64     `json:"seq,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	RepoRoot  string    `json:"repo_root,omitempty"`
	RepoID    string    `json:"repo_id,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Source    string    `json:"source,omitempty"`
	Task      string    `json:"task,omitempty"`
	Paths     []string  `json:"paths,omitempty"`
	Symbols   []string  `json:"symbols,omitempty"`
	Commands  []string  `json:"commands,omitempty"`
	Refs      []string  `json:"refs,omitempty"`
	Payload   *Payload  `json:"payload,omitempty"`
	PrevHash  HashValue `json:"prev_hash,omitempty"`
	Hash      HashValue `json:"hash,omitempty"`
}

// Time parses the event timestamp. The zero time is returned if it is malformed.
func (e *Event) Time() time.Time {
	t, err := time.Parse(TimestampLayout, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Draft carries the caller-supplied fields of a new event. The ledger fills
// in sequence, identity, timestamp and chain fields.
type Draft struct {
	Kind     string
	Status   Status `validate:"required,oneof=info success warning failure"`
	Summary  string `validate:"required"`
	Source   string
	Task     string
	Paths    []string
	Symbols  []string
	Commands []string
	Refs     []string
	Payload  *Payload
}

// Normalize trims every field, deduplicates the list fields and applies the
// defaults (kind note, status info, source manual). Summary is left empty
// when blank so validation can reject it.
func (d Draft) Normalize() Draft {
	out := Draft{
		Kind:     strings.TrimSpace(d.Kind),
		Status:   Status(strings.ToLower(strings.TrimSpace(string(d.Status)))),
		Summary:  strings.TrimSpace(d.Summary),
		Source:   strings.TrimSpace(d.Source),
		Task:     strings.TrimSpace(d.Task),
		Paths:    UniqueKeepOrder(d.Paths),
		Symbols:  UniqueKeepOrder(d.Symbols),
		Commands: UniqueKeepOrder(d.Commands),
		Refs:     UniqueKeepOrder(d.Refs),
		Payload:  d.Payload,
	}
	if out.Kind == "" {
		out.Kind = "note"
	}
	if out.Status == "" {
		out.Status = StatusInfo
	}
	if out.Source == "" {
		out.Source = "manual"
	}
	if out.Payload != nil && out.Payload.IsZero() {
		out.Payload = nil
	}
	return out
}

// UniqueKeepOrder trims items, drops empty ones and removes duplicates while
// keeping first-seen order. It returns nil for an empty result.
func UniqueKeepOrder(items []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// NewEventID returns <YYYYMMDD-HHMMSS>-<8 hex>: a time-ordered prefix plus a
// random suffix.
func NewEventID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format("20060102-150405") + "-" + suffix
}

// FormatTimestamp renders t in the ledger timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}
