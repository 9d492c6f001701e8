package compile

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/jvs-project/continuity/pkg/model"
)

var termRe = regexp.MustCompile(`[a-z0-9_./-]+`)

func fold(s string) string {
	return cases.Fold().String(s)
}

// Terms extracts the distinct case-folded runs of [a-z0-9_./-] with at
// least three characters, sorted.
func Terms(texts ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range texts {
		for _, w := range termRe.FindAllString(fold(t), -1) {
			if len(w) >= 3 && !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Breakdown explains an event score.
type Breakdown struct {
	RecencyRank  int      `json:"recency_rank"`
	RecencyScore int      `json:"recency_score"`
	StatusBonus  int      `json:"status_bonus"`
	KindBonus    int      `json:"kind_bonus"`
	TermHits     []string `json:"term_hits"`
	TaskMatch    bool     `json:"task_match"`
}

// RankedEvent is one row of the event ranking.
type RankedEvent struct {
	Seq       int64        `json:"seq"`
	EventID   string       `json:"event_id"`
	Hash      string       `json:"hash"`
	Kind      string       `json:"kind"`
	Status    model.Status `json:"status"`
	Summary   string       `json:"summary"`
	Score     int          `json:"score"`
	Selected  bool         `json:"selected"`
	Breakdown Breakdown    `json:"trace"`

	event *model.Event
}

// Event returns the ranked ledger event.
func (r RankedEvent) Event() *model.Event {
	return r.event
}

func statusBonus(s model.Status) int {
	switch s {
	case model.StatusFailure:
		return 22
	case model.StatusWarning:
		return 14
	case model.StatusSuccess:
		return 7
	}
	return 0
}

func kindBonus(kind string) int {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "risk", "incident", "failure":
		return 12
	case "decision", "typed-memory", "automation":
		return 8
	case "test", "verify", "benchmark":
		return 7
	}
	return 0
}

// Score rates one event. recencyRank 0 is the most recent event.
func Score(e *model.Event, recencyRank int, terms []string, taskFocus string) (int, Breakdown) {
	b := Breakdown{RecencyRank: recencyRank, TermHits: []string{}}
	b.RecencyScore = max(0, 28-recencyRank)
	b.StatusBonus = statusBonus(e.Status)
	b.KindBonus = kindBonus(e.Kind)
	score := b.RecencyScore + b.StatusBonus + b.KindBonus

	haystack := fold(strings.Join([]string{
		e.Summary,
		e.Task,
		e.Kind,
		strings.Join(e.Paths, " "),
		strings.Join(e.Symbols, " "),
	}, " "))
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			score += 5
			b.TermHits = append(b.TermHits, term)
		}
	}
	if focus := fold(strings.TrimSpace(taskFocus)); focus != "" && strings.Contains(haystack, focus) {
		score += 9
		b.TaskMatch = true
	}
	return score, b
}

// Rank scores every event and sorts by score, breaking ties toward the
// more recent event. The first maxEvents rows are marked selected.
func Rank(events []*model.Event, terms []string, taskFocus string, maxEvents int) []RankedEvent {
	out := make([]RankedEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		rank := len(events) - 1 - i
		score, b := Score(e, rank, terms, taskFocus)
		out = append(out, RankedEvent{
			Seq:       e.Seq,
			EventID:   e.EventID,
			Hash:      e.Hash.Short(),
			Kind:      e.Kind,
			Status:    e.Status,
			Summary:   e.Summary,
			Score:     score,
			Breakdown: b,
			event:     e,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Breakdown.RecencyRank < out[j].Breakdown.RecencyRank
	})
	for i := range out {
		out[i].Selected = i < maxEvents
	}
	return out
}

// SelectedNewestFirst returns the selected events in reverse-chronological
// order.
func SelectedNewestFirst(ranked []RankedEvent) []*model.Event {
	var sel []RankedEvent
	for _, r := range ranked {
		if r.Selected {
			sel = append(sel, r)
		}
	}
	sort.SliceStable(sel, func(i, j int) bool {
		return sel[i].Breakdown.RecencyRank < sel[j].Breakdown.RecencyRank
	})
	out := make([]*model.Event, len(sel))
	for i, r := range sel {
		out[i] = r.event
	}
	return out
}

// RenderEvent formats one ranked-events line.
func RenderEvent(e *model.Event) string {
	kind := e.Kind
	if kind == "" {
		kind = "note"
	}
	status := e.Status
	if status == "" {
		status = model.StatusInfo
	}
	line := fmt.Sprintf("- E%d [%s] %s/%s: %s", e.Seq, e.Timestamp, kind, status, strings.TrimSpace(e.Summary))

	var paths []string
	for _, p := range e.Paths {
		if strings.TrimSpace(p) != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) > 3 {
		paths = paths[:3]
	}
	if len(paths) > 0 {
		line += " | paths: " + strings.Join(paths, ", ")
	}
	if h := e.Hash.Short(); h != "" {
		line += " | hash:" + h
	}
	return line
}
