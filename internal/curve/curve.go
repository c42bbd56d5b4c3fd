// Package curve reads and compares the (x, y) sequences written by the
// external executable.
package curve

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Point is a single evaluation point.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Curve is an ordered sequence of points. Order is significant.
type Curve []Point

// Ys returns the dependent values of c.
func (c Curve) Ys() []float64 {
	ys := make([]float64, len(c))
	for i, p := range c {
		ys[i] = p.Y
	}
	return ys
}

// ParseError reports a malformed line in an output file.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// errTooFewFields is wrapped by ParseError for lines with fewer than two fields.
var errTooFewFields = errors.New("want at least two numeric fields")

// Parse reads one point per line. Each line must carry at least two
// whitespace-separated numeric fields; extra fields are ignored. Blank lines
// are skipped. Any other malformed line fails the whole parse.
func Parse(r io.Reader) (Curve, error) {
	var c Curve
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		text := sc.Text()
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, &ParseError{Line: n, Text: text, Err: errTooFewFields}
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, &ParseError{Line: n, Text: text, Err: err}
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, &ParseError{Line: n, Text: text, Err: err}
		}
		c = append(c, Point{X: x, Y: y})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// ReadFile parses the file at path.
func ReadFile(path string) (Curve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}

// Write writes c in the output file format.
func Write(w io.Writer, c Curve) error {
	bw := bufio.NewWriter(w)
	for _, p := range c {
		if _, err := fmt.Fprintf(bw, "%s %s\n", formatFloat(p.X), formatFloat(p.Y)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ErrLengthMismatch is returned by SSE when the curves differ in length.
var ErrLengthMismatch = errors.New("curves differ in length")

// SSE returns the sum of squared differences between the y values of got and
// want, point by point.
func SSE(got, want Curve) (float64, error) {
	if len(got) != len(want) {
		return 0, fmt.Errorf("%w: %d points, want %d", ErrLengthMismatch, len(got), len(want))
	}
	var sum float64
	for i := range got {
		d := got[i].Y - want[i].Y
		sum += d * d
	}
	return sum, nil
}
