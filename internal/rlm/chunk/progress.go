package chunk

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Progress renders a single updating status line with a bar, ETA, and
// per-chunk filename (§4.8.2, optional). Adapted from the teacher's
// internal/tui/footer.go single-line redraw, swapped from a bubbletea
// render loop to a plain \r carriage-return write since this is a CLI
// progress indicator, not a TUI pane (see DESIGN.md for why bubbletea
// itself isn't pulled in for one progress line).
type Progress struct {
	w       io.Writer
	total   int
	started time.Time
}

// NewProgress returns a reporter that expects `total` chunks.
func NewProgress(w io.Writer, total int) *Progress {
	return &Progress{w: w, total: total, started: time.Now()}
}

// Update redraws the progress line for chunk n (1-based) named file.
func (p *Progress) Update(n int, file string) {
	if p.w == nil || p.total <= 0 {
		return
	}
	const barWidth = 24
	filled := barWidth * n / p.total
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)

	elapsed := time.Since(p.started)
	var eta time.Duration
	if n > 0 {
		eta = elapsed / time.Duration(n) * time.Duration(p.total-n)
	}

	fmt.Fprintf(p.w, "\r[%s] %d/%d ETA %s %s", bar, n, p.total, eta.Round(time.Second), file)
}

// Done finishes the progress line with a trailing newline.
func (p *Progress) Done() {
	if p.w == nil {
		return
	}
	fmt.Fprintln(p.w)
}
