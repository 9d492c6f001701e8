package model

import (
	"encoding/json"
	"fmt"

	"github.com/jvs-project/continuity/pkg/jsonutil"
)

// PayloadType discriminates the known payload shapes.
type PayloadType string

const (
	PayloadRefOp       PayloadType = "ref-op"
	PayloadTypedMemory PayloadType = "typed-memory"
	PayloadCycle       PayloadType = "cycle"
)

// RefOpDetails describes a branch-graph mutation.
type RefOpDetails struct {
	Op             string     `json:"op"`
	Branch         string     `json:"branch,omitempty"`
	From           string     `json:"from,omitempty"`
	Head           CommitID   `json:"head,omitempty"`
	CommitID       CommitID   `json:"commit_id,omitempty"`
	Parents        []CommitID `json:"parents,omitempty"`
	CommitPath     string     `json:"commit_path,omitempty"`
	Source         string     `json:"source,omitempty"`
	Target         string     `json:"target,omitempty"`
	SourceHead     CommitID   `json:"source_head,omitempty"`
	TargetPrevHead CommitID   `json:"target_prev_head,omitempty"`
	PreviousBranch string     `json:"previous_branch,omitempty"`
}

// TypedMemoryDetails describes a typed-memory refresh.
type TypedMemoryDetails struct {
	EventCount    int  `json:"event_count"`
	DecisionCount int  `json:"decision_count"`
	RiskCount     int  `json:"risk_count"`
	Changed       bool `json:"changed"`
}

// CycleDetails describes one automation cycle outcome.
type CycleDetails struct {
	Stage        string `json:"stage,omitempty"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
	UsedTokens   int    `json:"used_tokens,omitempty"`
	Query        string `json:"query,omitempty"`
	Task         string `json:"task,omitempty"`
	Output       string `json:"output,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Payload is the structured body of an event. Type selects at most one of
// the typed shapes; keys the shape does not know about live in Fields.
type Payload struct {
	Type        PayloadType
	RefOp       *RefOpDetails
	TypedMemory *TypedMemoryDetails
	Cycle       *CycleDetails
	Fields      map[string]any
}

// NewRefOpPayload wraps d as a ref-op payload.
func NewRefOpPayload(d RefOpDetails) *Payload {
	return &Payload{Type: PayloadRefOp, RefOp: &d}
}

// NewTypedMemoryPayload wraps d as a typed-memory payload.
func NewTypedMemoryPayload(d TypedMemoryDetails) *Payload {
	return &Payload{Type: PayloadTypedMemory, TypedMemory: &d}
}

// NewCyclePayload wraps d as a cycle payload.
func NewCyclePayload(d CycleDetails) *Payload {
	return &Payload{Type: PayloadCycle, Cycle: &d}
}

// ParsePayload decodes a free-form JSON object supplied by a caller.
func ParsePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// IsZero reports whether the payload carries nothing.
func (p *Payload) IsZero() bool {
	return p == nil || (p.Type == "" && p.RefOp == nil && p.TypedMemory == nil &&
		p.Cycle == nil && len(p.Fields) == 0)
}

func (p *Payload) typed() any {
	switch p.Type {
	case PayloadRefOp:
		if p.RefOp != nil {
			return p.RefOp
		}
	case PayloadTypedMemory:
		if p.TypedMemory != nil {
			return p.TypedMemory
		}
	case PayloadCycle:
		if p.Cycle != nil {
			return p.Cycle
		}
	}
	return nil
}

// MarshalJSON flattens the typed shape and Fields into one object.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Fields)+8)
	for k, v := range p.Fields {
		out[k] = v
	}
	if typed := p.typed(); typed != nil {
		known, err := structFields(typed)
		if err != nil {
			return nil, err
		}
		for k, v := range known {
			out[k] = v
		}
	}
	if p.Type != "" {
		out["type"] = string(p.Type)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the typed shape named by "type" and keeps every
// remaining key in Fields.
func (p *Payload) UnmarshalJSON(data []byte) error {
	raw, err := jsonutil.DecodeObject(data)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	*p = Payload{}
	if t, ok := raw["type"].(string); ok {
		p.Type = PayloadType(t)
	}

	var target any
	switch p.Type {
	case PayloadRefOp:
		p.RefOp = &RefOpDetails{}
		target = p.RefOp
	case PayloadTypedMemory:
		p.TypedMemory = &TypedMemoryDetails{}
		target = p.TypedMemory
	case PayloadCycle:
		p.Cycle = &CycleDetails{}
		target = p.Cycle
	}
	if target != nil {
		if err := json.Unmarshal(data, target); err != nil {
			return fmt.Errorf("payload %s: %w", p.Type, err)
		}
		known, err := structFields(target)
		if err != nil {
			return err
		}
		for k := range known {
			delete(raw, k)
		}
		delete(raw, "type")
	}
	if len(raw) > 0 {
		p.Fields = raw
	}
	return nil
}

func structFields(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonutil.DecodeObject(data)
}
