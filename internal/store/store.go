// Package store persists committed runs as content-addressed directories
// under a runs root and keeps recently used runs in memory.
//
// Layout:
//
//	{Root}/
//	  run_{md5}/
//	    input.txt
//	    output.txt
//	    stdout.log
//	    stderr.log
//	  .staging-{uuid}/   (in-flight attempts, never read)
//
// A run directory only appears through an atomic rename of a completed
// staging directory, so its presence implies a successful run.
package store

import (
	"errors"
	"time"

	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/params"
)

var (
	// ErrNotFound is returned when no run directory exists for an identity.
	ErrNotFound = errors.New("run not found")
	// ErrNoOutput is returned when a run directory exists but holds no
	// output file. Only directories not created by this package, such as
	// those left by older wrapper scripts after a failed run, can be in this
	// state. Commit replaces them.
	ErrNoOutput = errors.New("run has no output")
	// ErrExists is returned by Commit when another writer committed the
	// same identity first.
	ErrExists = errors.New("run already committed")
)

// Run is a committed run record. Runs returned by a Loader are shared and
// must not be modified.
type Run struct {
	ID      params.Identity `json:"id"`
	Params  params.Vector   `json:"params,omitempty"` // nil if the input file is unreadable
	Points  curve.Curve     `json:"points"`
	Created time.Time       `json:"created"`
}

// Loader retrieves committed runs.
type Loader interface {
	Load(id params.Identity) (*Run, error)
}

// Default file names inside a run directory.
const (
	DefaultInputFile  = "input.txt"
	DefaultOutputFile = "output.txt"
	StdoutFile        = "stdout.log"
	StderrFile        = "stderr.log"
)
