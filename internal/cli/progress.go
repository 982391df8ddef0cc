package cli

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/javanstorm/vmbundle/internal/instance"
	"github.com/javanstorm/vmbundle/internal/provision"
)

// progressPrinter renders progress either as a single rewritten line on a
// terminal or as one line per ten percent otherwise.
type progressPrinter struct {
	w   io.Writer
	tty bool

	label   string
	percent int
	open    bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &progressPrinter{w: w, tty: tty, percent: -1}
}

func (p *progressPrinter) provision(s provision.State) {
	switch {
	case s.Stage == provision.Failed:
		p.finishLine()
	case s.Stage == provision.CopyingOrDownloadingImage && s.Indeterminate:
		p.step("Copying restore image")
	case s.Stage == provision.CopyingOrDownloadingImage:
		p.update("Downloading restore image", int(s.Fraction*100))
	case s.Stage == provision.Installing:
		p.update("Installing macOS", int(s.Fraction*100))
	case s.Stage == provision.AcquiringDestination:
		p.step("Creating bundle")
	case s.Stage == provision.CreatingAuxiliaryFiles:
		p.step("Creating disk image and metadata")
	case s.Stage == provision.CleaningUp:
		p.step("Removing restore image")
	case s.Stage == provision.Complete:
		p.finishLine()
		fmt.Fprintln(p.w, "Done.")
	}
}

func (p *progressPrinter) edit(e instance.EditProgress) {
	switch e.Stage {
	case instance.Resizing:
		p.update("Resizing disk image", e.Percent)
	case instance.SavingMetadata:
		p.step("Saving launch configuration")
	}
}

// step prints a stage without a percentage.
func (p *progressPrinter) step(label string) {
	p.finishLine()
	fmt.Fprintf(p.w, "%s...\n", label)
	p.label = label
	p.percent = -1
}

// update reports pct for label. Non-terminal output is limited to every
// ten percent and the final value.
func (p *progressPrinter) update(label string, pct int) {
	if label != p.label {
		p.finishLine()
		p.label = label
		p.percent = -1
	}
	if pct == p.percent {
		return
	}
	if p.tty {
		fmt.Fprintf(p.w, "\r\033[K%s: %3d%%", label, pct)
		p.open = true
	} else if p.percent < 0 || pct/10 != p.percent/10 || pct == 100 {
		fmt.Fprintf(p.w, "%s: %d%%\n", label, pct)
	}
	p.percent = pct
}

func (p *progressPrinter) finishLine() {
	if p.open {
		fmt.Fprintln(p.w)
		p.open = false
	}
}
