package diskutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	got []int
}

func (r *recorder) Progress(p int) { r.got = append(r.got, p) }

func feed(s *lineScanner, chunks ...string) {
	for _, c := range chunks {
		s.Write([]byte(c))
	}
}

func TestScannerMarkerSplitAcrossReads(t *testing.T) {
	rec := &recorder{}
	s := newLineScanner(rec, nil)

	feed(s, "[10% completed]\n[55% comple", "ted]\n[100% completed]\n")
	s.Flush()

	assert.Equal(t, []int{10, 55, 100}, rec.got)
}

func TestScannerLineEndings(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []int
	}{
		{"lf", []string{"[1% completed]\n[2% completed]\n"}, []int{1, 2}},
		{"crlf", []string{"[1% completed]\r\n[2% completed]\r\n"}, []int{1, 2}},
		{"cr", []string{"[1% completed]\r[2% completed]\r"}, []int{1, 2}},
		{"crlf split", []string{"[1% completed]\r", "\n[2% completed]\r\n"}, []int{1, 2}},
		{"mixed", []string{"[5% completed]\r[6% completed]\n[7% completed]\r\n"}, []int{5, 6, 7}},
		{"byte at a time", splitBytes("[3% completed]\n[4% completed]\n"), []int{3, 4}},
		{"noise", []string{"Resizing...\n[20% completed] foo\nbar [30% completed]\n"}, []int{20, 30}},
		{"not a marker", []string{"[x% completed]\n[50%completed]\n"}, nil},
		{"non monotonic", []string{"[50% completed]\n[40% completed]\n"}, []int{50, 40}},
		{"unterminated tail", []string{"[9% completed]\n[10% completed]"}, []int{9, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			s := newLineScanner(rec, nil)
			feed(s, tt.chunks...)
			s.Flush()
			assert.Equal(t, tt.want, rec.got)
		})
	}
}

func TestScannerTailNotCountedTwice(t *testing.T) {
	rec := &recorder{}
	s := newLineScanner(rec, nil)

	feed(s, "[10% comp")
	assert.Empty(t, rec.got)
	feed(s, "leted]")
	assert.Empty(t, rec.got)
	feed(s, "\n")
	assert.Equal(t, []int{10}, rec.got)

	s.Flush()
	assert.Equal(t, []int{10}, rec.got)
}

func TestScannerLastLine(t *testing.T) {
	s := newLineScanner(nil, nil)
	assert.Equal(t, "", s.LastLine())

	feed(s, "first\n\n", "  second  \r\n", "\n")
	assert.Equal(t, "second", s.LastLine())

	feed(s, "partial")
	assert.Equal(t, "second", s.LastLine())
	s.Flush()
	assert.Equal(t, "partial", s.LastLine())
}

func TestScannerReportsLines(t *testing.T) {
	var lines []string
	s := newLineScanner(nil, func(l string) { lines = append(lines, l) })
	feed(s, "a\r\nb\rc\n")
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}

func splitBytes(s string) []string {
	out := make([]string, 0, len(s))
	for i := range s {
		out = append(out, s[i:i+1])
	}
	return out
}
