package compile

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jvs-project/continuity/pkg/errclass"
)

// ApproxTokens estimates the token cost of s as ceil(runes/4), at least 1.
// The same estimate is used for blocks and for the running total.
func ApproxTokens(s string) int {
	n := int(math.Ceil(float64(utf8.RuneCountInString(s)) / 4))
	if n < 1 {
		return 1
	}
	return n
}

// PackMode selects how blocks after the first overflow are treated.
type PackMode string

const (
	// PackPrefix stops at the first block that does not fit, so raising the
	// budget never drops a block that was included before.
	PackPrefix PackMode = "prefix"
	// PackFirstFit keeps trying smaller lower-priority blocks after an overflow.
	PackFirstFit PackMode = "first-fit"
)

// ParsePackMode parses a pack mode; empty means prefix.
func ParsePackMode(s string) (PackMode, error) {
	switch PackMode(strings.TrimSpace(s)) {
	case "", PackPrefix:
		return PackPrefix, nil
	case PackFirstFit:
		return PackFirstFit, nil
	}
	return "", errclass.ErrConfigInvalid.WithMessagef("pack mode must be prefix or first-fit: %q", s)
}

// Block is one candidate section of the compiled document.
type Block struct {
	Title    string
	Body     string
	Priority int
}

// Text renders the block as it appears in the document.
func (b Block) Text() string {
	return fmt.Sprintf("## %s\n\n%s\n", b.Title, strings.TrimSpace(b.Body))
}

// Planner decisions recorded per candidate.
const (
	ReasonIncluded        = "included"
	ReasonOverBudget      = "over-budget"
	ReasonEmpty           = "empty"
	ReasonBlockedByPrefix = "blocked-by-prefix"
)

// PlanEntry is the packing decision for one candidate block.
type PlanEntry struct {
	Title        string `json:"title"`
	Priority     int    `json:"priority"`
	ApproxTokens int    `json:"approx_tokens"`
	Included     bool   `json:"included"`
	Reason       string `json:"reason"`
}

// Packing is the outcome of Plan.
type Packing struct {
	Entries []PlanEntry
	// Texts are the rendered included blocks in priority order.
	Texts      []string
	UsedTokens int
	Omitted    []string
}

// Plan packs blocks greedily in descending priority on top of used tokens
// already spent. A block is included whole when it fits in the remaining
// budget and skipped whole otherwise. Any mode other than PackFirstFit,
// including the zero value, packs as PackPrefix.
func Plan(blocks []Block, budget, used int, mode PackMode) *Packing {
	ordered := append([]Block(nil), blocks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	p := &Packing{UsedTokens: used}
	blocked := false
	for _, b := range ordered {
		entry := PlanEntry{Title: b.Title, Priority: b.Priority}
		if strings.TrimSpace(b.Body) == "" {
			entry.Reason = ReasonEmpty
			p.Entries = append(p.Entries, entry)
			continue
		}

		text := b.Text()
		entry.ApproxTokens = ApproxTokens(text)
		switch {
		case blocked:
			entry.Reason = ReasonBlockedByPrefix
		case p.UsedTokens+entry.ApproxTokens <= budget:
			entry.Included = true
			entry.Reason = ReasonIncluded
			p.Texts = append(p.Texts, text)
			p.UsedTokens += entry.ApproxTokens
		default:
			entry.Reason = ReasonOverBudget
			blocked = mode != PackFirstFit
		}
		if !entry.Included {
			p.Omitted = append(p.Omitted, b.Title)
		}
		p.Entries = append(p.Entries, entry)
	}
	return p
}
