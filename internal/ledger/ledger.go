// Package ledger implements the append-only, hash-chained event log.
//
// Each line of the ledger file is one event in canonical JSON. Appends are
// serialized by an in-process mutex plus an advisory lock on "<ledger>.lock",
// so concurrent writers from several processes still produce a contiguous
// seq and an unbroken prev_hash chain.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jvs-project/continuity/internal/integrity"
	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/jvs-project/continuity/pkg/jsonutil"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
	"github.com/jvs-project/continuity/pkg/model"
)

// Options configures a Ledger. Zero values are usable.
type Options struct {
	RepoRoot string
	RepoID   string
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Ledger appends to and reads from one ledger file.
type Ledger struct {
	path     string
	lockPath string
	repoRoot string
	repoID   string
	log      *logging.Logger
	metrics  *metrics.Registry
	now      func() time.Time

	mu sync.Mutex
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New creates a Ledger for the file at path.
func New(path string, opts Options) *Ledger {
	l := &Ledger{
		path:     path,
		lockPath: path + ".lock",
		repoRoot: opts.RepoRoot,
		repoID:   opts.RepoID,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if l.log == nil {
		l.log = logging.Global()
	}
	l.log = l.log.WithFields(map[string]any{"component": "ledger"})
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// LockPath returns the advisory lock file path.
func (l *Ledger) LockPath() string {
	return l.lockPath
}

// WithLock runs fn while holding the append lock. Repair uses it so a
// rewrite never interleaves with appends.
func (l *Ledger) WithLock(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	lock, err := acquireLock(l.lockPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.release(); err != nil {
			l.log.Warn("ledger.unlock_failed", map[string]any{"error": err.Error()})
		}
	}()
	return fn()
}

// Append validates d, assigns seq, event_id, timestamp and chain fields,
// and durably appends the event.
func (l *Ledger) Append(d model.Draft) (*model.Event, error) {
	start := time.Now()
	event, err := l.append(d)
	l.metrics.RecordAppend(err == nil, time.Since(start))
	return event, err
}

func (l *Ledger) append(d model.Draft) (*model.Event, error) {
	d = d.Normalize()
	if err := validateDraft(d); err != nil {
		return nil, err
	}

	var event *model.Event
	err := l.WithLock(func() error {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer f.Close()

		t, err := readTail(f)
		if err != nil {
			return err
		}
		seq, prevHash, fallback := chainPosition(t)
		if fallback {
			l.log.Warn("ledger.seq_fallback", map[string]any{
				"ledger":   l.path,
				"seq":      seq,
				"nonempty": t.nonEmpty,
			})
			l.metrics.RecordSeqFallback()
		}

		now := l.now()
		event = &model.Event{
			Schema:    model.SchemaEvent,
			Seq:       seq,
			EventID:   model.NewEventID(now),
			Timestamp: model.FormatTimestamp(now),
			RepoRoot:  l.repoRoot,
			RepoID:    l.repoID,
			Kind:      d.Kind,
			Status:    d.Status,
			Summary:   d.Summary,
			Source:    d.Source,
			Task:      d.Task,
			Paths:     d.Paths,
			Symbols:   d.Symbols,
			Commands:  d.Commands,
			Refs:      d.Refs,
			Payload:   d.Payload,
			PrevHash:  prevHash,
		}
		hash, err := integrity.EventHash(event)
		if err != nil {
			return err
		}
		event.Hash = hash

		line, err := jsonutil.CanonicalMarshal(event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if t.size > 0 && !t.endsWithNewline {
			line = append([]byte{'\n'}, line...)
		}
		line = append(line, '\n')

		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seek to end: %w", err)
		}
		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync ledger: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Debug("ledger.appended", map[string]any{"seq": event.Seq, "kind": event.Kind})
	return event, nil
}

func validateDraft(d model.Draft) error {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate event: %w", err)
	}
	fields := make(map[string]bool, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = true
	}
	switch {
	case fields["Summary"]:
		return errclass.ErrSummaryEmpty.WithMessage("summary must not be empty")
	case fields["Status"]:
		return errclass.ErrStatusInvalid.WithMessagef("status %q is not one of info, success, warning, failure", d.Status)
	}
	return fmt.Errorf("validate event: %w", err)
}

// tail describes the end of the ledger file as seen under the lock.
type tail struct {
	last            []byte
	nonEmpty        int
	size            int64
	endsWithNewline bool
}

func readTail(f *os.File) (tail, error) {
	var t tail
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return t, fmt.Errorf("seek to start: %w", err)
	}
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		t.size += int64(len(line))
		if len(line) > 0 {
			t.endsWithNewline = line[len(line)-1] == '\n'
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			t.nonEmpty++
			t.last = trimmed
		}
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return t, fmt.Errorf("read ledger: %w", err)
		}
	}
}

// chainPosition derives the next seq and prev_hash from the last non-empty
// line. If that line does not carry an integer seq, seq falls back to the
// non-empty line count plus one.
func chainPosition(t tail) (seq int64, prevHash model.HashValue, fallback bool) {
	if t.last == nil {
		return 1, "", false
	}
	obj, err := jsonutil.DecodeObject(t.last)
	if err != nil {
		return int64(t.nonEmpty) + 1, "", true
	}
	if h, ok := obj["hash"].(string); ok {
		prevHash = model.HashValue(h)
	}
	if n, ok := obj["seq"].(json.Number); ok {
		if v, err := n.Int64(); err == nil {
			return v + 1, prevHash, false
		}
	}
	return int64(t.nonEmpty) + 1, prevHash, true
}
