// Package progress reports the advance of long-running operations such as
// garbage collection over many files.
package progress

import (
	"fmt"
	"io"
	"strings"
)

// Callback receives progress updates during long operations.
type Callback func(op string, current, total int, message string)

// Noop is a no-op callback for default behavior.
func Noop(op string, current, total int, message string) {}

// Progress tracks operation progress.
type Progress struct {
	Op      string
	Total   int
	current int
	cb      Callback
}

// New creates a new Progress tracker.
func New(op string, total int, cb Callback) *Progress {
	if cb == nil {
		cb = Noop
	}
	return &Progress{Op: op, Total: total, cb: cb}
}

// Increment advances the progress and calls the callback.
func (p *Progress) Increment(message string) {
	p.current++
	p.cb(p.Op, p.current, p.Total, message)
}

// Current returns the current progress value.
func (p *Progress) Current() int {
	return p.current
}

// Terminal draws a single-line progress bar, redrawn in place.
type Terminal struct {
	w       io.Writer
	lastLen int
	drawn   bool
}

// NewTerminal creates a progress bar writing to w, usually os.Stderr.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

// Callback returns a Callback that renders to the terminal.
func (t *Terminal) Callback() Callback {
	return t.render
}

const barWidth = 30

func (t *Terminal) render(op string, current, total int, message string) {
	if total <= 0 {
		total = 1
	}
	if current > total {
		current = total
	}
	filled := barWidth * current / total
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)

	line := fmt.Sprintf("%s [%s] %d/%d (%d%%)", op, bar, current, total, current*100/total)
	if message != "" {
		line += " " + message
	}
	pad := ""
	if n := t.lastLen - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprint(t.w, "\r"+line+pad)
	t.lastLen = len(line)
	t.drawn = true
}

// Done ends the bar's line. It prints nothing if the bar was never drawn.
func (t *Terminal) Done() {
	if t.drawn {
		fmt.Fprintln(t.w)
		t.drawn = false
		t.lastLen = 0
	}
}
