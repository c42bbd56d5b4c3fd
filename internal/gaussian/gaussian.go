// Package gaussian is a small stand-alone model used to exercise the run
// cache: it reads mean, sigma and amplitude from an input file and writes a
// sampled Gaussian bell curve to output.txt in the working directory.
package gaussian

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/params"
)

// Sampling grid.
const (
	MinX   = -10.0
	MaxX   = 10.0
	Points = 100
)

// OutputFile is written relative to the working directory.
const OutputFile = "output.txt"

// Validation errors.
var (
	ErrSigma     = errors.New("sigma cannot be <= 0")
	ErrAmplitude = errors.New("amplitude cannot be < 0")
)

// Params are the model parameters.
type Params struct {
	Mean      float64
	Sigma     float64
	Amplitude float64
}

// FromVector reads the first three values of v.
func FromVector(v params.Vector) (Params, error) {
	if len(v) < 3 {
		return Params{}, &params.ArityError{Got: len(v), Want: 3}
	}
	return Params{Mean: v[0], Sigma: v[1], Amplitude: v[2]}, nil
}

// Validate rejects parameters the model is undefined for.
func (p Params) Validate() error {
	if !(p.Sigma > 0) {
		return ErrSigma
	}
	if p.Amplitude < 0 {
		return ErrAmplitude
	}
	return nil
}

// At returns the value of the curve at x.
func (p Params) At(x float64) float64 {
	d := p.Mean - x
	return p.Amplitude * math.Exp(-d*d/(2*p.Sigma*p.Sigma))
}

// Eval samples the curve on the fixed grid.
func (p Params) Eval() curve.Curve {
	dx := (MaxX - MinX) / Points
	out := make(curve.Curve, Points)
	for i := range out {
		x := MinX + float64(i)*dx
		out[i] = curve.Point{X: x, Y: p.At(x)}
	}
	return out
}

// Write writes c in the model's output format.
func Write(w io.Writer, c curve.Curve) error {
	for _, pt := range c {
		if _, err := fmt.Fprintf(w, "%.6g %.25f\n", pt.X, pt.Y); err != nil {
			return err
		}
	}
	return nil
}

// Run reads the input file at inputPath, reports progress to stdout and
// writes OutputFile into dir.
func Run(inputPath, dir string, stdout io.Writer) error {
	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("could not open input file %q: %w", inputPath, err)
	}
	v, err := params.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("reading %s: %w", inputPath, err)
	}
	p, err := FromVector(v)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "got      mean = %.6g\n", p.Mean)
	fmt.Fprintf(stdout, "got     sigma = %.6g\n", p.Sigma)
	fmt.Fprintf(stdout, "got amplitude = %.6g\n", p.Amplitude)
	if err := p.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "=> x span from %.6g to %.6g\n", MinX, MaxX)

	out, err := os.Create(filepath.Join(dir, OutputFile))
	if err != nil {
		return err
	}
	if err := Write(out, p.Eval()); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
