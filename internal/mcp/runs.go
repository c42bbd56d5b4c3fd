package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/calibrate/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type runsParams struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of runs to list. Default: 50."`
}

const defaultRunsLimit = 50

func (h *handler) runsHandler(ctx context.Context, req *mcp.CallToolRequest, in runsParams) (*mcp.CallToolResult, any, error) {
	_, cache := h.state()

	entries, err := cache.Disk.List()
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list runs: %v", err))
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	return textResult(formatRuns(cache.Disk.Root, entries, limit))
}

func formatRuns(root string, entries []store.Entry, limit int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Runs: %d in %s\n", len(entries), root)
	if len(entries) == 0 {
		return b.String()
	}
	fmt.Fprintln(&b)
	for i, e := range entries {
		if i == limit {
			fmt.Fprintf(&b, "... %d more\n", len(entries)-limit)
			break
		}
		status := fmt.Sprintf("%d points", e.Points)
		if !e.Complete {
			status = "no output"
		}
		fmt.Fprintf(&b, "%s  %v  %s  %s  %s\n",
			e.ID, []float64(e.Params), status, humanize.Time(e.Modified), humanize.Bytes(uint64(e.Size)))
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Inspect with calibrate_inspect(id=\"<run id>\").")
	return b.String()
}
