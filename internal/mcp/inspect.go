package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/params"
	"github.com/deixis/calibrate/internal/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	ID string `json:"id" jsonschema:"the run identity, e.g. run_1d1aeb80d52dd5d3e48ac1715baa1e9d"`
}

// logLines is the number of trailing log lines shown per stream.
const logLines = 20

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, in inspectParams) (*mcp.CallToolResult, any, error) {
	id, err := params.ParseIdentity(in.ID)
	if err != nil {
		return errorResult(fmt.Sprintf("%v: expected run_ followed by 32 hex digits", err))
	}

	_, cache := h.state()
	run, err := cache.Inspect(id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errorResult(fmt.Sprintf("Run %s not found in %s", id, cache.Disk.Root))
	case errors.Is(err, store.ErrNoOutput):
		return textResult(fmt.Sprintf("Run: %s\nStatus: no output file; the run did not complete.\n", id))
	case err != nil:
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", id, err))
	}

	return textResult(formatRun(run, cache.Disk.Dir(id)))
}

func formatRun(run *store.Run, dir string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s\n", run.ID)
	fmt.Fprintf(&b, "Directory: %s\n", dir)
	if run.Params != nil {
		fmt.Fprintf(&b, "Params: %v\n", []float64(run.Params))
	}
	fmt.Fprintf(&b, "Points: %d\n", len(run.Points))
	fmt.Fprintln(&b)
	_ = curve.Write(&b, run.Points)

	for _, name := range []string{store.StdoutFile, store.StderrFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil || len(strings.TrimSpace(string(data))) == 0 {
			continue
		}
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "%s:\n", name)
		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(lines) > logLines {
			fmt.Fprintf(&b, "    ... %d lines omitted\n", len(lines)-logLines)
			lines = lines[len(lines)-logLines:]
		}
		for _, line := range lines {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return b.String()
}
