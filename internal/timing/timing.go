// Package timing records how long each named phase of an operation takes.
package timing

import (
	"fmt"
	"io"
	"time"
)

// Timer tracks durations of named phases. It is not safe for concurrent use.
type Timer struct {
	start  time.Time
	last   time.Time
	phases []Phase
}

// Phase represents a timed phase with name and duration.
type Phase struct {
	Name     string
	Duration time.Duration
}

// New creates a new Timer starting from now.
func New() *Timer {
	now := time.Now()
	return &Timer{start: now, last: now}
}

// Mark records a named phase ending now.
// Duration is time since the previous mark, or since start for the first.
func (t *Timer) Mark(name string) {
	now := time.Now()
	t.phases = append(t.phases, Phase{Name: name, Duration: now.Sub(t.last)})
	t.last = now
}

// Total returns the total elapsed time since timer creation.
func (t *Timer) Total() time.Duration {
	return time.Since(t.start)
}

// Phases returns all recorded phases.
func (t *Timer) Phases() []Phase {
	return t.phases
}

// Fields returns the phase durations keyed by name, plus "total", in a
// form suitable for structured logging.
func (t *Timer) Fields() map[string]any {
	f := make(map[string]any, len(t.phases)+1)
	for _, p := range t.phases {
		f[p.Name] = p.Duration
	}
	f["total"] = t.Total()
	return f
}

// Report prints a timing report under title to the given writer.
func (t *Timer) Report(w io.Writer, title string) {
	header := fmt.Sprintf("=== %s ===", title)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, header)
	for _, p := range t.phases {
		fmt.Fprintf(w, "  %-26s %s\n", p.Name+":", formatDuration(p.Duration))
	}
	fmt.Fprintf(w, "  %-26s %s\n", "TOTAL:", formatDuration(t.Total()))
	for range header {
		fmt.Fprint(w, "=")
	}
	fmt.Fprintln(w)
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
