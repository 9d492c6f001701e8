// Package repair rebuilds the seq and hash chain of a ledger file in place,
// keeping a timestamped backup of the original.
package repair

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jvs-project/continuity/internal/integrity"
	"github.com/jvs-project/continuity/internal/ledger"
	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/jvs-project/continuity/pkg/fsutil"
	"github.com/jvs-project/continuity/pkg/jsonutil"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
)

// BackupLayout is the UTC timestamp suffix of backup files.
const BackupLayout = "20060102T150405Z"

// Result is the outcome of a repair run.
type Result struct {
	LedgerPath string `json:"events_file"`
	EventCount int    `json:"events_count"`
	Changed    bool   `json:"changed"`
	DryRun     bool   `json:"dry_run"`
	BackupPath string `json:"backup,omitempty"`
}

// Repairer rewrites one ledger.
type Repairer struct {
	ledger  *ledger.Ledger
	log     *logging.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// Options configures a Repairer.
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Now     func() time.Time
}

// NewRepairer creates a repairer for l. Rewrites take l's append lock.
func NewRepairer(l *ledger.Ledger, opts Options) *Repairer {
	r := &Repairer{ledger: l, log: opts.Logger, metrics: opts.Metrics, now: opts.Now}
	if r.log == nil {
		r.log = logging.Global()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Repair renumbers seq from 1 and recomputes prev_hash and hash for every
// record. All other fields are kept verbatim. A malformed or non-object
// line aborts with E_LEDGER_MALFORMED before anything is written. When a
// record changes and dryRun is false, the original is copied to
// <ledger>.bak.<timestamp> and the ledger is atomically replaced.
func (r *Repairer) Repair(dryRun bool) (*Result, error) {
	result := &Result{LedgerPath: r.ledger.Path(), DryRun: dryRun}

	err := r.ledger.WithLock(func() error {
		originals, err := loadRecords(r.ledger.Path())
		if err != nil {
			return err
		}
		result.EventCount = len(originals)
		if len(originals) == 0 {
			return nil
		}

		var (
			out      bytes.Buffer
			prevHash string
		)
		for i, orig := range originals {
			rebuilt, hash, err := rebuild(orig.record, i+1, prevHash)
			if err != nil {
				return fmt.Errorf("line %d: %w", orig.line, err)
			}
			prevHash = hash
			if !bytes.Equal(rebuilt, orig.canonical) {
				result.Changed = true
			}
			out.Write(rebuilt)
			out.WriteByte('\n')
		}

		if dryRun || !result.Changed {
			return nil
		}

		backup := r.ledger.Path() + ".bak." + r.now().UTC().Format(BackupLayout)
		if err := fsutil.CopyFile(r.ledger.Path(), backup); err != nil {
			return fmt.Errorf("backup ledger: %w", err)
		}
		result.BackupPath = backup
		if err := fsutil.AtomicWrite(r.ledger.Path(), out.Bytes(), 0644); err != nil {
			return fmt.Errorf("write repaired ledger: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.metrics.RecordRepair(result.Changed, dryRun)
	r.log.Info("repair.done", map[string]any{
		"ledger":  filepath.Base(result.LedgerPath),
		"events":  result.EventCount,
		"changed": result.Changed,
		"dry_run": dryRun,
		"backup":  result.BackupPath,
	})
	return result, nil
}

type record struct {
	line      int
	record    map[string]any
	canonical []byte
}

func loadRecords(path string) ([]record, error) {
	var records []record
	err := ledger.ScanFile(path, func(line ledger.Line) error {
		generic, err := jsonutil.Decode(line.Data)
		if err != nil {
			return errclass.ErrLedgerMalformed.WithMessagef("line %d: invalid JSON: %v", line.No, err)
		}
		obj, ok := generic.(map[string]any)
		if !ok {
			return errclass.ErrLedgerMalformed.WithMessagef("line %d: expected JSON object", line.No)
		}
		canonical, err := jsonutil.CanonicalMarshal(obj)
		if err != nil {
			return fmt.Errorf("line %d: %w", line.No, err)
		}
		records = append(records, record{line: line.No, record: obj, canonical: canonical})
		return nil
	})
	if err != nil {
		if errors.Is(err, errclass.ErrLedgerMissing) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

func rebuild(orig map[string]any, seq int, prevHash string) ([]byte, string, error) {
	fresh := make(map[string]any, len(orig)+2)
	for k, v := range orig {
		if k == "hash" || k == "prev_hash" {
			continue
		}
		fresh[k] = v
	}
	fresh["seq"] = seq
	if prevHash != "" {
		fresh["prev_hash"] = prevHash
	}

	hash, err := integrity.RecordHash(fresh)
	if err != nil {
		return nil, "", err
	}
	fresh["hash"] = string(hash)

	data, err := jsonutil.CanonicalMarshal(fresh)
	if err != nil {
		return nil, "", err
	}
	return data, string(hash), nil
}
