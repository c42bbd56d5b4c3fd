package curve

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	in := "-10 0.0000000000000000000000000\n-9.8 1.5e-3 extra\n\n-9.6\t0.25\n"
	c, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, Curve{{X: -10, Y: 0}, {X: -9.8, Y: 1.5e-3}, {X: -9.6, Y: 0.25}}, c)
	assert.Equal(t, []float64{0, 1.5e-3, 0.25}, c.Ys())
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
		line int
	}{
		{"single field", "1 2\n3\n", 2},
		{"bad x", "a 2\n", 1},
		{"bad y", "1 2\n1 2\n1 b\n", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Nil(t, c)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "want *ParseError, got %T", err)
			assert.Equal(t, tt.line, pe.Line)
		})
	}
}

func TestWriteThenReadFile(t *testing.T) {
	c := Curve{{X: -10, Y: 1.2e-22}, {X: 0, Y: 1}, {X: 9.8, Y: 0.3333333333333333}}
	var b bytes.Buffer
	require.NoError(t, Write(&b, c))

	path := filepath.Join(t.TempDir(), "target.txt")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSSE(t *testing.T) {
	a := Curve{{X: 0, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 3}}
	b := Curve{{X: 0, Y: 1}, {X: 1, Y: 4}, {X: 2, Y: 0}}
	got, err := SSE(a, b)
	require.NoError(t, err)
	assert.Equal(t, 13.0, got)

	got, err = SSE(a, a)
	require.NoError(t, err)
	assert.Zero(t, got)

	_, err = SSE(a, b[:2])
	assert.True(t, errors.Is(err, ErrLengthMismatch))
}
