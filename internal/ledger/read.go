package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/jvs-project/continuity/pkg/model"
)

// Line is one non-blank ledger line with its 1-based physical line number.
type Line struct {
	No   int
	Data []byte
}

// ScanFile calls fn for every non-blank line of the file at path, trimmed.
// A missing file yields errclass.ErrLedgerMissing.
func ScanFile(path string, fn func(Line) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return errclass.ErrLedgerMissing.WithMessagef("ledger not found: %s", path)
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	no := 0
	for {
		raw, err := r.ReadBytes('\n')
		if len(raw) > 0 {
			no++
			if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
				if ferr := fn(Line{No: no, Data: trimmed}); ferr != nil {
					return ferr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}
	}
}

// ReadAll loads every well-formed event, skipping blank and malformed
// lines. A missing ledger reads as empty.
func (l *Ledger) ReadAll() ([]*model.Event, error) {
	var events []*model.Event
	err := ScanFile(l.path, func(line Line) error {
		var e model.Event
		if err := json.Unmarshal(line.Data, &e); err != nil {
			l.log.Debug("ledger.skip_malformed", map[string]any{"line": line.No})
			return nil
		}
		events = append(events, &e)
		return nil
	})
	if errors.Is(err, errclass.ErrLedgerMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Last returns the last well-formed event, or nil for an empty ledger.
func (l *Ledger) Last() (*model.Event, error) {
	events, err := l.ReadAll()
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return events[len(events)-1], nil
}
