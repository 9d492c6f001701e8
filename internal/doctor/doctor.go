// Package doctor checks the health of a memory root: ledger, branch
// graph, automation state and leftover temporary files.
package doctor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jvs-project/continuity/internal/cycle"
	"github.com/jvs-project/continuity/internal/ref"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/internal/verify"
	"github.com/jvs-project/continuity/pkg/config"
	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/jvs-project/continuity/pkg/fsutil"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/model"
)

// Severities, in increasing order. Critical and error findings make the
// memory root unhealthy.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == SeverityError || f.Severity == SeverityCritical {
		r.Healthy = false
	}
}

// Doctor performs memory root health checks.
type Doctor struct {
	layout repo.Layout
	cfg    *config.Config
	log    *logging.Logger
}

// NewDoctor creates a new doctor.
func NewDoctor(layout repo.Layout, cfg *config.Config, log *logging.Logger) *Doctor {
	if log == nil {
		log = logging.Global()
	}
	return &Doctor{layout: layout, cfg: cfg, log: log.WithFields(map[string]any{"component": "doctor"})}
}

// Check runs all diagnostic checks. strict additionally verifies the
// ledger's hash chain and every commit's parents.
func (d *Doctor) Check(strict bool) (*Result, error) {
	result := &Result{Healthy: true, Findings: []Finding{}}

	if !d.checkLayout(result) {
		return result, nil
	}
	d.checkRefs(result, strict)
	if strict {
		d.checkLedgerIntegrity(result)
	}
	d.checkCycleState(result)
	d.checkOrphanTmp(result)
	return result, nil
}

// checkLayout reports a missing memory root or ledger. It returns false when
// nothing further can be checked.
func (d *Doctor) checkLayout(result *Result) bool {
	if _, err := os.Stat(d.layout.MemoryRoot); err != nil {
		result.add(Finding{
			Category:    "layout",
			Description: "memory root does not exist; run `continuity init`",
			Severity:    SeverityCritical,
			Path:        d.layout.MemoryRoot,
		})
		return false
	}
	if _, err := os.Stat(d.layout.LedgerPath); os.IsNotExist(err) {
		result.add(Finding{
			Category:    "ledger",
			Description: "ledger file missing; no events recorded yet",
			Severity:    SeverityWarning,
			Path:        d.layout.LedgerPath,
		})
	}
	for _, path := range []string{d.layout.ActiveTaskPath, d.layout.ProjectMemoryPath, d.layout.DecisionsPath} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			result.add(Finding{
				Category:    "notes",
				Description: fmt.Sprintf("%s not found; compiled context will lack its sections", filepath.Base(path)),
				Severity:    SeverityInfo,
				Path:        path,
			})
		}
	}
	return true
}

func (d *Doctor) checkRefs(result *Result, strict bool) {
	if _, err := os.Stat(d.layout.RefsPath); os.IsNotExist(err) {
		return
	}
	mgr := ref.NewManager(d.layout, ref.Options{RecordPolicy: model.RecordOff, Logger: d.log})
	heads, err := mgr.List()
	if err != nil {
		result.add(Finding{
			Category:    "refs",
			Description: fmt.Sprintf("cannot read branch graph: %v", err),
			Severity:    SeverityCritical,
			Path:        d.layout.RefsPath,
		})
		return
	}

	for _, h := range heads {
		if h.Head == nil {
			continue
		}
		if _, err := mgr.Show(*h.Head); err != nil {
			result.add(Finding{
				Category:    "refs",
				Description: fmt.Sprintf("branch '%s' head %s: %v", h.Name, *h.Head, err),
				Severity:    SeverityError,
			})
		}
	}
	if strict {
		d.checkCommitParents(result, mgr)
	}
}

func (d *Doctor) checkCommitParents(result *Result, mgr *ref.Manager) {
	entries, err := os.ReadDir(d.layout.CommitsDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		c, err := mgr.Show(model.CommitID(strings.TrimSuffix(name, ".json")))
		if err != nil {
			result.add(Finding{
				Category:    "commit",
				Description: fmt.Sprintf("unreadable commit file: %v", err),
				Severity:    SeverityError,
				Path:        filepath.Join(d.layout.CommitsDir, name),
			})
			continue
		}
		for _, parent := range c.Parents {
			if _, err := mgr.Show(parent); errors.Is(err, errclass.ErrCommitNotFound) {
				result.add(Finding{
					Category:    "commit",
					Description: fmt.Sprintf("commit %s parent %s not found", c.CommitID, parent),
					Severity:    SeverityWarning,
				})
			}
		}
	}
}

func (d *Doctor) checkLedgerIntegrity(result *Result) {
	if _, err := os.Stat(d.layout.LedgerPath); os.IsNotExist(err) {
		return
	}
	v, err := verify.NewVerifier(d.layout.LedgerPath, d.layout.RepoRoot, verify.Options{
		IgnoreRefs: d.cfg.Verify.IgnoreRefs,
		Logger:     d.log,
	})
	if err == nil {
		var report *verify.Report
		if report, err = v.Verify(); err == nil {
			for _, f := range report.Errors {
				result.add(Finding{Category: "integrity", Description: f.String(), Severity: SeverityCritical})
			}
			if n := len(report.Warnings); n > 0 {
				result.add(Finding{
					Category:    "integrity",
					Description: fmt.Sprintf("%d verification warnings; run `continuity verify` for details", n),
					Severity:    SeverityWarning,
				})
			}
			return
		}
	}
	result.add(Finding{
		Category:    "integrity",
		Description: fmt.Sprintf("verification failed: %v", err),
		Severity:    SeverityError,
	})
}

func (d *Doctor) checkCycleState(result *Result) {
	state, err := cycle.LoadState(d.layout)
	if err != nil {
		result.add(Finding{
			Category:    "cycle",
			Description: fmt.Sprintf("unreadable cycle state: %v", err),
			Severity:    SeverityWarning,
			Path:        d.layout.CycleStatePath,
		})
		return
	}
	if state == nil {
		return
	}
	switch state.LastOutcome {
	case cycle.OutcomeVerifyFailed, cycle.OutcomeFailed:
		result.add(Finding{
			Category:    "cycle",
			Description: fmt.Sprintf("last cycle at %s ended %s: %s", state.LastRunAt, state.LastOutcome, state.LastMessage),
			Severity:    SeverityWarning,
			Path:        d.layout.CycleStatePath,
		})
	}
}

// checkOrphanTmp reports temp files left behind by an interrupted atomic
// write.
func (d *Doctor) checkOrphanTmp(result *Result) {
	for _, path := range d.orphanTmp() {
		result.add(Finding{
			Category:    "tmp",
			Description: fmt.Sprintf("orphan temp file: %s", filepath.Base(path)),
			Severity:    SeverityInfo,
			Path:        path,
		})
	}
}

func (d *Doctor) orphanTmp() []string {
	var found []string
	filepath.WalkDir(d.layout.MemoryRoot, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), fsutil.TempPrefix) {
			found = append(found, path)
		}
		return nil
	})
	return found
}

// CleanTmp removes orphan temp files and returns the paths removed.
func (d *Doctor) CleanTmp() ([]string, error) {
	var removed []string
	for _, path := range d.orphanTmp() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed = append(removed, path)
		d.log.Info("doctor.tmp_removed", map[string]any{"path": path})
	}
	return removed, nil
}
