package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

var reviewTypeEnum = mcp.Enum("code-review", "security", "testing", "performance", "documentation", "architecture")

// AddReviewFindingTool handles the add_review_finding MCP tool.
type AddReviewFindingTool struct {
	engine engine.Engine
}

func NewAddReviewFindingTool(e engine.Engine) *AddReviewFindingTool {
	return &AddReviewFindingTool{engine: e}
}

func (t *AddReviewFindingTool) Definition() mcp.Tool {
	return mcp.NewTool("add_review_finding",
		mcp.WithDescription("Record a review finding on a task. The review section is created on first use."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Task number")),
		mcp.WithString("review_type", mcp.Required(), mcp.Description("Kind of review"), reviewTypeEnum),
		mcp.WithString("text", mcp.Required(), mcp.Description("What is wrong and why")),
		mcp.WithString("author", mcp.Required(), mcp.Description("Reviewer name")),
		mcp.WithString("severity", mcp.Description("Free-form severity, e.g. critical, major, minor")),
		mcp.WithString("file", mcp.Description("File the finding refers to")),
		mcp.WithNumber("line_start", mcp.Description("First line (1-based)")),
		mcp.WithNumber("line_end", mcp.Description("Last line, requires line_start")),
	)
}

func (t *AddReviewFindingTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, number, bad := taskArgs(req)
	if bad != nil {
		return bad, nil
	}
	nf := domain.NewFinding{
		Text:     req.GetString("text", ""),
		Author:   req.GetString("author", ""),
		Severity: req.GetString("severity", ""),
		File:     req.GetString("file", ""),
	}
	if v := intArg(req, "line_start", 0); v != 0 {
		nf.LineStart = &v
	}
	if v := intArg(req, "line_end", 0); v != 0 {
		nf.LineEnd = &v
	}
	f, err := t.engine.AddReviewFinding(ctx, project, number, req.GetString("review_type", ""), nf)
	if err != nil {
		return errorResult("add finding", err), nil
	}
	return jsonResult(f)
}

// ListReviewFindingsTool handles the list_review_findings MCP tool.
type ListReviewFindingsTool struct {
	engine engine.Engine
}

func NewListReviewFindingsTool(e engine.Engine) *ListReviewFindingsTool {
	return &ListReviewFindingsTool{engine: e}
}

func (t *ListReviewFindingsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_review_findings",
		mcp.WithDescription("List the findings of a task with their comment threads."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Task number")),
		mcp.WithString("review_type", mcp.Description("Only this review type"), reviewTypeEnum),
		mcp.WithString("status", mcp.Description("Only findings in this status"), mcp.Enum("open", "resolved", "declined")),
	)
}

func (t *ListReviewFindingsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, number, bad := taskArgs(req)
	if bad != nil {
		return bad, nil
	}
	findings, err := t.engine.ListReviewFindings(ctx, project, number, req.GetString("review_type", ""), req.GetString("status", ""))
	if err != nil {
		return errorResult("list findings", err), nil
	}
	return jsonResult(findings)
}

// ReplyToFindingTool handles the reply_to_finding MCP tool.
type ReplyToFindingTool struct {
	engine engine.Engine
}

func NewReplyToFindingTool(e engine.Engine) *ReplyToFindingTool {
	return &ReplyToFindingTool{engine: e}
}

func (t *ReplyToFindingTool) Definition() mcp.Tool {
	return mcp.NewTool("reply_to_finding",
		mcp.WithDescription("Add a comment to a finding, e.g. to explain a fix."),
		mcp.WithString("finding_id", mcp.Required(), mcp.Description("element_id of the finding")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Comment text")),
		mcp.WithString("author", mcp.Required(), mcp.Description("Comment author")),
	)
}

func (t *ReplyToFindingTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("finding_id", "")
	if id == "" {
		return mcp.NewToolResultError("'finding_id' is required"), nil
	}
	c, err := t.engine.ReplyToFinding(ctx, id, req.GetString("text", ""), req.GetString("author", ""))
	if err != nil {
		return errorResult("reply", err), nil
	}
	return jsonResult(c)
}

// ResolveFindingTool handles the resolve_finding MCP tool.
type ResolveFindingTool struct {
	engine engine.Engine
}

func NewResolveFindingTool(e engine.Engine) *ResolveFindingTool {
	return &ResolveFindingTool{engine: e}
}

func (t *ResolveFindingTool) Definition() mcp.Tool {
	return mcp.NewTool("resolve_finding",
		mcp.WithDescription("Mark an open finding as resolved."),
		mcp.WithString("finding_id", mcp.Required(), mcp.Description("element_id of the finding")),
		mcp.WithString("response", mcp.Description("How it was addressed")),
	)
}

func (t *ResolveFindingTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("finding_id", "")
	if id == "" {
		return mcp.NewToolResultError("'finding_id' is required"), nil
	}
	f, err := t.engine.ResolveFinding(ctx, id, req.GetString("response", ""), "mcp")
	if err != nil {
		return errorResult("resolve", err), nil
	}
	return jsonResult(f)
}

// DeclineFindingTool handles the decline_finding MCP tool.
type DeclineFindingTool struct {
	engine engine.Engine
}

func NewDeclineFindingTool(e engine.Engine) *DeclineFindingTool {
	return &DeclineFindingTool{engine: e}
}

func (t *DeclineFindingTool) Definition() mcp.Tool {
	return mcp.NewTool("decline_finding",
		mcp.WithDescription("Decline an open finding. A reason is required."),
		mcp.WithString("finding_id", mcp.Required(), mcp.Description("element_id of the finding")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why the finding does not apply")),
	)
}

func (t *DeclineFindingTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("finding_id", "")
	if id == "" {
		return mcp.NewToolResultError("'finding_id' is required"), nil
	}
	f, err := t.engine.DeclineFinding(ctx, id, req.GetString("reason", ""), "mcp")
	if err != nil {
		return errorResult("decline", err), nil
	}
	return jsonResult(f)
}
