// Package typed aggregates the event ledger into the typed-memory summary:
// frequency tables plus recent decisions, open risks and successes.
package typed

import (
	"sort"
	"strings"

	"github.com/jvs-project/continuity/pkg/model"
)

var (
	decisionKinds = map[string]bool{"decision": true, "adr": true, "architecture-decision": true}
	riskKinds     = map[string]bool{"risk": true, "incident": true, "bug": true}
)

// IsDecision reports whether e records a decision.
func IsDecision(e *model.Event) bool {
	return decisionKinds[strings.ToLower(e.Kind)] || strings.Contains(strings.ToLower(e.Summary), "decision")
}

// IsRisk reports whether e is an open risk.
func IsRisk(e *model.Event) bool {
	return e.Status == model.StatusWarning || e.Status == model.StatusFailure || riskKinds[strings.ToLower(e.Kind)]
}

// Summarize builds the summary over the last window events (0 keeps all).
// Each list keeps the most recent topN entries; topN below 1 is treated as 1.
// The result depends only on its inputs.
func Summarize(events []*model.Event, window, topN int) *model.Summary {
	if window > 0 && len(events) > window {
		events = events[len(events)-window:]
	}
	if topN < 1 {
		topN = 1
	}

	var (
		tasks, paths, symbols, commands counter
		decisions, risks, successes     []model.EventSnapshot
	)
	for _, e := range events {
		tasks.add(e.Task)
		for _, p := range e.Paths {
			paths.add(p)
		}
		for _, s := range e.Symbols {
			symbols.add(s)
		}
		for _, c := range e.Commands {
			commands.add(c)
		}

		snap := model.SnapshotOf(e)
		if IsDecision(e) {
			decisions = append(decisions, snap)
		}
		if IsRisk(e) {
			risks = append(risks, snap)
		}
		if e.Status == model.StatusSuccess {
			successes = append(successes, snap)
		}
	}

	s := &model.Summary{
		Schema:          model.SchemaTypedMemory,
		EventCount:      len(events),
		DecisionCount:   len(decisions),
		RiskCount:       len(risks),
		SuccessCount:    len(successes),
		TopTasks:        tasks.top(topN),
		TopPaths:        paths.top(topN),
		TopSymbols:      symbols.top(topN),
		TopCommands:     commands.top(topN),
		RecentDecisions: lastN(decisions, topN),
		OpenRisks:       lastN(risks, topN),
		RecentSuccesses: lastN(successes, topN),
	}
	if len(events) > 0 {
		s.LatestEvent = events[len(events)-1]
		s.AsOf = s.LatestEvent.Timestamp
	}
	return s
}

func lastN(items []model.EventSnapshot, n int) []model.EventSnapshot {
	if len(items) > n {
		items = items[len(items)-n:]
	}
	return append([]model.EventSnapshot{}, items...)
}

// counter is a frequency table that remembers first-seen order, so ties
// rank in the order values first appeared.
type counter struct {
	order  []string
	counts map[string]int
}

func (c *counter) add(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	if _, ok := c.counts[value]; !ok {
		c.order = append(c.order, value)
	}
	c.counts[value]++
}

func (c *counter) top(n int) []model.CountRow {
	rows := make([]model.CountRow, 0, len(c.order))
	for _, v := range c.order {
		rows = append(rows, model.CountRow{Value: v, Count: c.counts[v]})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Count > rows[j].Count
	})
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows
}
