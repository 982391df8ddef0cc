package diskutil

import (
	"bytes"
	"regexp"
	"strconv"
	"sync"
)

var percentRe = regexp.MustCompile(`\[(\d+)% completed\]`)

// Sink receives resize progress percentages in the order the helper
// printed them. Values are not guaranteed to be monotonic.
type Sink interface {
	Progress(percent int)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(percent int)

func (f SinkFunc) Progress(percent int) { f(percent) }

type discardSink struct{}

func (discardSink) Progress(int) {}

// lineScanner is the io.Writer the helper's combined output is copied
// into. It splits on \n, \r\n and \r, keeps any unterminated tail for the
// next Write, and reports every "[N% completed]" marker once.
type lineScanner struct {
	// mu covers append chunk, split lines, retain remainder.
	mu      sync.Mutex
	pending []byte
	last    string

	sink   Sink
	onLine func(string)
}

func newLineScanner(sink Sink, onLine func(string)) *lineScanner {
	if sink == nil {
		sink = discardSink{}
	}
	return &lineScanner{sink: sink, onLine: onLine}
}

func (s *lineScanner) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, p...)
	for {
		i := bytes.IndexAny(s.pending, "\r\n")
		if i < 0 {
			break
		}
		line := s.pending[:i]
		skip := 1
		if s.pending[i] == '\r' && i+1 < len(s.pending) && s.pending[i+1] == '\n' {
			skip = 2
		}
		s.handle(line)
		s.pending = s.pending[i+skip:]
	}
	// Drop the consumed prefix so pending does not grow without bound.
	s.pending = append([]byte(nil), s.pending...)
	return len(p), nil
}

// Flush treats any unterminated tail as a final line.
func (s *lineScanner) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		s.handle(s.pending)
		s.pending = nil
	}
}

// LastLine returns the most recent non-empty line.
func (s *lineScanner) LastLine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *lineScanner) handle(raw []byte) {
	line := string(bytes.TrimSpace(raw))
	if line == "" {
		return
	}
	s.last = line
	if s.onLine != nil {
		s.onLine(line)
	}

	m := percentRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}
	s.sink.Progress(pct)
}
