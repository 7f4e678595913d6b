package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"taskgraph/internal/engine"
)

// Tool is implemented by every tool in this package.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Options configures the MCP server.
type Options struct {
	// CacheDir receives files written by read_attachment.
	CacheDir string
}

const instructions = `taskgraph tracks numbered tasks per project, their dependencies, markdown
sections (body, plan, report, review, blocks) and review findings.

Typical flow:
1. tasks to see what exists, tasks(project, number) for the full task.
2. update_task status=work when you start, status=done with a report when finished.
3. list_review_findings for open findings; reply, then resolve or decline them.`

// Tools returns every tool bound to e.
func Tools(e engine.Engine, opts Options) []Tool {
	return []Tool{
		NewTasksTool(e),
		NewSearchTasksTool(e),
		NewCreateTaskTool(e),
		NewUpdateTaskTool(e),
		NewAddReviewFindingTool(e),
		NewListReviewFindingsTool(e),
		NewReplyToFindingTool(e),
		NewResolveFindingTool(e),
		NewDeclineFindingTool(e),
		NewListAttachmentsTool(e),
		NewReadAttachmentTool(e, opts.CacheDir),
		NewDeleteAttachmentTool(e),
	}
}

// NewServer builds an MCP server exposing Tools. Serve it with
// server.ServeStdio.
func NewServer(e engine.Engine, version string, opts Options) *server.MCPServer {
	s := server.NewMCPServer(
		"taskgraph",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	for _, t := range Tools(e, opts) {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}
