package mcptools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"taskgraph/internal/engine"
	"taskgraph/internal/sanitize"
)

// ListAttachmentsTool handles the list_attachments MCP tool.
type ListAttachmentsTool struct {
	engine engine.Engine
}

func NewListAttachmentsTool(e engine.Engine) *ListAttachmentsTool {
	return &ListAttachmentsTool{engine: e}
}

func (t *ListAttachmentsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_attachments",
		mcp.WithDescription("List the files attached to a task."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Task number")),
	)
}

func (t *ListAttachmentsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, number, bad := taskArgs(req)
	if bad != nil {
		return bad, nil
	}
	if bad := requireTask(ctx, t.engine, project, number); bad != nil {
		return bad, nil
	}
	atts, err := t.engine.ListAttachments(ctx, project, number)
	if err != nil {
		return errorResult("list attachments", err), nil
	}
	return jsonResult(atts)
}

// ReadAttachmentTool copies an attachment into a local cache directory and
// returns the path, so agents can open it with their file tools.
type ReadAttachmentTool struct {
	engine   engine.Engine
	cacheDir string
}

// NewReadAttachmentTool caches under cacheDir, or under the system temp
// directory when it is empty.
func NewReadAttachmentTool(e engine.Engine, cacheDir string) *ReadAttachmentTool {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "taskgraph-attachments")
	}
	return &ReadAttachmentTool{engine: e, cacheDir: cacheDir}
}

func (t *ReadAttachmentTool) Definition() mcp.Tool {
	return mcp.NewTool("read_attachment",
		mcp.WithDescription("Download a task attachment to a local file and return its path."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Task number")),
		mcp.WithString("filename", mcp.Required(), mcp.Description("Attachment name")),
	)
}

type readAttachmentResult struct {
	OK   bool   `json:"ok"`
	Name string `json:"name"`
	Path string `json:"path"`
	Size int    `json:"size"`
}

func (t *ReadAttachmentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, number, bad := taskArgs(req)
	if bad != nil {
		return bad, nil
	}
	filename := req.GetString("filename", "")
	if filename == "" {
		return mcp.NewToolResultError("'filename' is required"), nil
	}
	if bad := requireTask(ctx, t.engine, project, number); bad != nil {
		return bad, nil
	}
	data, err := t.engine.GetAttachmentBytes(ctx, project, number, filename)
	if err != nil {
		return errorResult("read attachment", err), nil
	}
	if data == nil {
		return mcp.NewToolResultError(fmt.Sprintf("attachment '%s' not found on task #%d", filename, number)), nil
	}
	name, err := sanitize.Filename(filename)
	if err != nil {
		return errorResult("read attachment", err), nil
	}
	key, err := sanitize.Key(project, number, name)
	if err != nil {
		return errorResult("read attachment", err), nil
	}
	path := filepath.Join(t.cacheDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errorResult("prepare cache", err), nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errorResult("write cache", err), nil
	}
	return jsonResult(readAttachmentResult{OK: true, Name: name, Path: path, Size: len(data)})
}

// DeleteAttachmentTool handles the delete_attachment MCP tool.
type DeleteAttachmentTool struct {
	engine engine.Engine
}

func NewDeleteAttachmentTool(e engine.Engine) *DeleteAttachmentTool {
	return &DeleteAttachmentTool{engine: e}
}

func (t *DeleteAttachmentTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_attachment",
		mcp.WithDescription("Delete a task attachment."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Task number")),
		mcp.WithString("filename", mcp.Required(), mcp.Description("Attachment name")),
	)
}

func (t *DeleteAttachmentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, number, bad := taskArgs(req)
	if bad != nil {
		return bad, nil
	}
	filename := req.GetString("filename", "")
	if filename == "" {
		return mcp.NewToolResultError("'filename' is required"), nil
	}
	if bad := requireTask(ctx, t.engine, project, number); bad != nil {
		return bad, nil
	}
	deleted, err := t.engine.DeleteAttachment(ctx, project, number, filename)
	if err != nil {
		return errorResult("delete attachment", err), nil
	}
	if !deleted {
		return mcp.NewToolResultError(fmt.Sprintf("attachment '%s' not found on task #%d", filename, number)), nil
	}
	return jsonResult(map[string]any{"ok": true, "deleted": filename})
}
