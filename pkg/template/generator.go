package template

import (
	"io"

	"github.com/ajitpratap0/surge/pkg/errors"
)

// RecordSeparator terminates every generated record.
const RecordSeparator = "\n"

// Generator produces records from a compiled template. It is immutable and
// safe for concurrent use.
type Generator struct {
	segments []Segment
}

// Generate writes one record followed by RecordSeparator to w and returns
// the number of bytes written, separator included.
func (g *Generator) Generate(w io.Writer) (int, error) {
	total := 0
	for _, seg := range g.segments {
		var text string
		switch s := seg.(type) {
		case Literal:
			text = s.Text
		case Generated:
			v, err := s.Produce()
			if err != nil {
				return total, errors.Wrap(err, errors.ErrorTypeInternal, "generate "+s.Func.String())
			}
			text = v
		}

		n, err := io.WriteString(w, text)
		total += n
		if err != nil {
			return total, err
		}
	}

	n, err := io.WriteString(w, RecordSeparator)
	total += n
	return total, err
}

// Segments returns a copy of the compiled segment sequence.
func (g *Generator) Segments() []Segment {
	out := make([]Segment, len(g.segments))
	copy(out, g.segments)
	return out
}

// Placeholders returns the number of Generated segments.
func (g *Generator) Placeholders() int {
	n := 0
	for _, seg := range g.segments {
		if _, ok := seg.(Generated); ok {
			n++
		}
	}
	return n
}
