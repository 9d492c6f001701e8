package typed

import (
	"fmt"
	"strings"

	"github.com/jvs-project/continuity/pkg/model"
)

// RenderMarkdown renders the human-readable typed-memory.md.
func RenderMarkdown(s *model.Summary) string {
	var b strings.Builder
	b.WriteString("# Typed Memory\n\n")
	fmt.Fprintf(&b, "- As of: `%s`\n", s.AsOf)
	fmt.Fprintf(&b, "- Events analyzed: `%d`\n", s.EventCount)
	fmt.Fprintf(&b, "- Open risks: `%d`\n", s.RiskCount)
	fmt.Fprintf(&b, "- Decisions: `%d`\n\n", s.DecisionCount)

	counts := func(title string, rows []model.CountRow) {
		fmt.Fprintf(&b, "## %s\n", title)
		if len(rows) == 0 {
			b.WriteString("- none\n\n")
			return
		}
		for _, r := range rows {
			fmt.Fprintf(&b, "- %s (count=%d)\n", r.Value, r.Count)
		}
		b.WriteString("\n")
	}
	snaps := func(title string, items []model.EventSnapshot) {
		fmt.Fprintf(&b, "## %s\n", title)
		if len(items) == 0 {
			b.WriteString("- none\n\n")
			return
		}
		for _, it := range items {
			fmt.Fprintf(&b, "- E%d %s: %s | hash:%s\n", it.Seq, it.Status, it.Summary, it.Hash)
		}
		b.WriteString("\n")
	}

	counts("Top Tasks", s.TopTasks)
	counts("Top Paths", s.TopPaths)
	counts("Top Symbols", s.TopSymbols)
	counts("Top Commands", s.TopCommands)
	snaps("Recent Decisions", s.RecentDecisions)
	snaps("Open Risks", s.OpenRisks)
	snaps("Recent Successes", s.RecentSuccesses)

	return strings.TrimRight(b.String(), "\n") + "\n"
}
