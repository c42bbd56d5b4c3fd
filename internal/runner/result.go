package runner

import "time"

// Result holds the output of a command execution.
type Result struct {
	RunID     string        // unique identifier for this attempt
	Dir       string        // directory the process ran in
	ExitCode  int           // process exit code, -1 if killed on timeout
	Stdout    []byte        // captured stdout (may be truncated)
	Stderr    []byte        // captured stderr (may be truncated)
	Truncated bool          // true if output exceeded the size cap
	TimedOut  bool          // true if the per-run timeout expired
	Elapsed   time.Duration // wall time of the process
}

// Success reports whether the process ran to completion with exit status 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}
