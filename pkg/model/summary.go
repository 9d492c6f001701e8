package model

// CountRow is one entry of a frequency table.
type CountRow struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// EventSnapshot is the compact view of an event used in typed memory lists.
type EventSnapshot struct {
	Seq       int64     `json:"seq"`
	Timestamp string    `json:"timestamp"`
	Hash      HashValue `json:"hash"`
	Kind      string    `json:"kind"`
	Status    Status    `json:"status"`
	Summary   string    `json:"summary"`
	Task      string    `json:"task"`
}

// SnapshotOf returns the compact view of e with a shortened hash.
func SnapshotOf(e *Event) EventSnapshot {
	return EventSnapshot{
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		Hash:      HashValue(e.Hash.Short()),
		Kind:      e.Kind,
		Status:    e.Status,
		Summary:   e.Summary,
		Task:      e.Task,
	}
}

// Summary is the typed-memory aggregate over a window of ledger events.
// It has no wall-clock field: AsOf is the newest analysed event's timestamp.
type Summary struct {
	Schema          string          `json:"schema"`
	AsOf            string          `json:"as_of"`
	RepoRoot        string          `json:"repo_root"`
	MemoryRoot      string          `json:"memory_root"`
	EventsFile      string          `json:"events_file"`
	EventCount      int             `json:"event_count"`
	DecisionCount   int             `json:"decision_count"`
	RiskCount       int             `json:"risk_count"`
	SuccessCount    int             `json:"success_count"`
	TopTasks        []CountRow      `json:"top_tasks"`
	TopPaths        []CountRow      `json:"top_paths"`
	TopSymbols      []CountRow      `json:"top_symbols"`
	TopCommands     []CountRow      `json:"top_commands"`
	RecentDecisions []EventSnapshot `json:"recent_decisions"`
	OpenRisks       []EventSnapshot `json:"open_risks"`
	RecentSuccesses []EventSnapshot `json:"recent_successes"`
	LatestEvent     *Event          `json:"latest_event"`
}
