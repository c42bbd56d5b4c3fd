// Package mcp provides the calibrate MCP server, registering the evaluation,
// fitting and run inspection tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deixis/calibrate"
	"github.com/deixis/calibrate/internal/config"
	"github.com/deixis/calibrate/internal/fit"
	"github.com/deixis/calibrate/internal/runcache"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu     sync.RWMutex
	cfg    *config.Config
	cache  *runcache.Cache
	fitter *fit.Fitter
	logger *log.Logger
}

// NewServer creates an MCP server with all calibrate tools registered.
// The cache is replaced if the client announces a workspace root with its
// own .calibrate file.
func NewServer(cfg *config.Config, cache *runcache.Cache, fitter *fit.Fitter, logger *log.Logger) *mcp.Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	h := &handler{cfg: cfg, cache: cache, fitter: fitter, logger: logger}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "calibrate", Version: calibrate.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "calibrate_evaluate",
		Description: `Evaluate the configured executable for one parameter vector.

The result is memoized by the content hash of the input file: evaluating the same vector
again reuses the committed run directory without running anything. Failed runs report
status no-result and are retried on the next call.`,
	}, h.evaluateHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "calibrate_fit",
		Description: `Fit parameters to a target curve with Nelder-Mead.

The target is produced by target_params (or read from target_file). Unset arguments fall
back to the fit section of the .calibrate file. Every evaluation goes through the run cache.`,
	}, h.fitHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "calibrate_inspect",
		Description: `Show a committed run: its parameters, output points and captured logs.

Use the run identity (run_<md5>) from calibrate_evaluate or calibrate_runs.`,
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "calibrate_runs",
		Description: "List committed runs, most recent first.",
	}, h.runsHandler)

	return s
}

// updateFromRoots queries the client for MCP roots and, if the first root
// resolves to a usable configuration, rebuilds the cache from it.
// This is called during session initialization, before any tool calls.
func (h *handler) updateFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}
	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil || loaded.Path == "" {
		return
	}
	if err := loaded.Config.Validate(); err != nil {
		h.logger.Warn("ignoring workspace config", "path", loaded.Path, "err", err)
		return
	}
	cache, err := runcache.FromConfig(loaded.Config, h.logger)
	if err != nil {
		h.logger.Warn("ignoring workspace config", "path", loaded.Path, "err", err)
		return
	}

	h.mu.Lock()
	h.cfg = loaded.Config
	h.cache = cache
	h.mu.Unlock()
	h.logger.Info("using workspace config", "path", loaded.Path)
}

func (h *handler) state() (*config.Config, *runcache.Cache) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg, h.cache
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
