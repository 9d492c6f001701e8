package cycle

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/jvs-project/continuity/internal/integrity"
	"github.com/jvs-project/continuity/pkg/jsonutil"
)

// Source marks events appended by the cycle runner. They are not material
// to the fingerprint, so a cycle's own bookkeeping never retriggers it.
const Source = "auto-cycle"

// Fingerprint digests every input that affects the compiled context: the
// structural notes, typed memory, the latest material event, the compile
// settings and the git checkout (HEAD, branch and a working-tree digest).
func (r *Runner) Fingerprint() (string, map[string]string, error) {
	inputs := map[string]string{
		"repo_root":     r.layout.RepoRoot,
		"budget_tokens": strconv.Itoa(r.opts.Compile.BudgetTokens),
		"query":         strings.TrimSpace(r.opts.Compile.Query),
		"task":          strings.TrimSpace(r.opts.Compile.Task),
	}
	files := map[string]string{
		"active_task_hash":    r.layout.ActiveTaskPath,
		"decisions_hash":      r.layout.DecisionsPath,
		"project_memory_hash": r.layout.ProjectMemoryPath,
		"planning_hash":       r.layout.PlanningPath,
		"typed_memory_hash":   r.layout.TypedJSONPath,
	}
	for key, path := range files {
		data, err := readOptional(path)
		if err != nil {
			return "", nil, err
		}
		inputs[key] = string(integrity.Digest(data))
	}

	events, err := r.ledger.ReadAll()
	if err != nil {
		return "", nil, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Source != Source {
			inputs["event_hash"] = string(events[i].Hash)
			inputs["event_seq"] = strconv.FormatInt(events[i].Seq, 10)
			break
		}
	}
	for key, value := range r.git.State(context.Background()).Inputs() {
		inputs[key] = value
	}

	data, err := jsonutil.CanonicalMarshal(inputs)
	if err != nil {
		return "", nil, err
	}
	return string(integrity.Digest(data)), inputs, nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}
