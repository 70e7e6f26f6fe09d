package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/justapithecus/lineset/lineset"
)

// progressPrinter renders progress ticks on a writer. On a terminal each
// phase redraws a single line; otherwise every tick is its own line.
type progressPrinter struct {
	mu  sync.Mutex
	w   io.Writer
	tty bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	p := &progressPrinter{w: w}
	if f, ok := w.(*os.File); ok {
		p.tty = isatty.IsTerminal(f.Fd())
	}
	return p
}

func (p *progressPrinter) Progress(pr lineset.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := pr.Label + ": " + humanize.Comma(pr.Current)
	if pr.Total > 0 {
		line += " / " + humanize.Comma(pr.Total)
	}
	done := pr.Current == pr.Total

	switch {
	case !p.tty:
		_, _ = fmt.Fprintln(p.w, line)
	case done:
		_, _ = fmt.Fprintf(p.w, "\r\033[K%s\n", line)
	default:
		_, _ = fmt.Fprintf(p.w, "\r\033[K%s", line)
	}
}

var _ lineset.Observer = (*progressPrinter)(nil)
