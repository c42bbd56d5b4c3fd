// Package params serializes parameter vectors into the input file format
// understood by the external executable and derives run identities from the
// serialized bytes.
package params

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Vector is an ordered, fixed-length parameter vector.
type Vector []float64

// Clone returns a copy of v.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Format selects the textual representation of each value in the input file.
// It is part of the run identity: the same vector in two formats maps to two
// different runs.
type Format string

const (
	// Short writes values rounded to six significant digits like C and
	// Python %g, which matches the demo scripts and keeps input files
	// readable. Values equal to six significant digits share an identity.
	Short Format = "short"
	// Exact writes values with %.17e, enough digits to round-trip any float64.
	Exact Format = "exact"
)

// ParseFormat returns the Format named s. An empty name selects Exact.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", Exact:
		return Exact, nil
	case Short:
		return Short, nil
	default:
		return "", fmt.Errorf("unknown number format %q (want %q or %q)", s, Short, Exact)
	}
}

func (f Format) verb() string {
	if f == Short {
		return "%.6g"
	}
	return "%.17e"
}

// ArityError reports a parameter vector of the wrong length.
type ArityError struct {
	Got, Want int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("number of parameters has to be %d, got %d", e.Want, e.Got)
}

// Check returns an *ArityError if v does not have exactly arity elements.
func Check(v Vector, arity int) error {
	if len(v) != arity {
		return &ArityError{Got: len(v), Want: arity}
	}
	return nil
}

// Encode writes v one value per line using format f.
func Encode(v Vector, f Format) []byte {
	var b bytes.Buffer
	verb := f.verb() + "\n"
	for _, x := range v {
		fmt.Fprintf(&b, verb, x)
	}
	return b.Bytes()
}

// Decode parses an input file produced by Encode. Blank lines are ignored.
func Decode(r io.Reader) (Vector, error) {
	var v Vector
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		x, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		v = append(v, x)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

// Identity is the run identity derived from serialized input bytes.
type Identity string

// identityPrefix keeps directory names compatible with runs created by the
// wrapper scripts that predate this package.
const identityPrefix = "run_"

// IdentityOf returns the identity of the given serialized input.
func IdentityOf(input []byte) Identity {
	sum := md5.Sum(input)
	return Identity(identityPrefix + hex.EncodeToString(sum[:]))
}

// Valid reports whether s has the shape of an identity produced by IdentityOf.
func (id Identity) Valid() bool {
	s := string(id)
	if !strings.HasPrefix(s, identityPrefix) {
		return false
	}
	digest := s[len(identityPrefix):]
	if len(digest) != 2*md5.Size {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil && strings.ToLower(digest) == digest
}

// ParseIdentity accepts an identity with or without its run_ prefix, in
// either case.
func ParseIdentity(s string) (Identity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, identityPrefix) {
		s = identityPrefix + s
	}
	id := Identity(s)
	if !id.Valid() {
		return "", fmt.Errorf("invalid run identity %q", s)
	}
	return id, nil
}

func (id Identity) String() string {
	return string(id)
}
