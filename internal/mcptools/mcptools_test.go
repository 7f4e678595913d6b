package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskgraph/internal/config"
	"taskgraph/internal/db"
	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
	"taskgraph/internal/schema"
	"taskgraph/internal/storage"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

func newTestEngine(t *testing.T) engine.Engine {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "tasks.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, schema.EnsureSchema(ctx, conn))
	store, err := storage.Open(ctx, storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return engine.New(conn, store, config.Default())
}

func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func call(t *testing.T, tool Tool, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	res, err := tool.Handle(context.Background(), makeReq(args))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// callOK fails the test on a tool error and decodes the JSON result into out.
func callOK(t *testing.T, tool Tool, args map[string]interface{}, out any) {
	t.Helper()
	res := call(t, tool, args)
	require.False(t, res.IsError, "tool error: %s", resultText(res))
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(resultText(res)), out))
	}
}

// ─── Definitions ─────────────────────────────────────────────────────────────

func TestToolDefinitions(t *testing.T) {
	e := newTestEngine(t)
	want := []string{
		"tasks", "search_tasks", "create_task", "update_task",
		"add_review_finding", "list_review_findings", "reply_to_finding",
		"resolve_finding", "decline_finding",
		"list_attachments", "read_attachment", "delete_attachment",
	}
	var got []string
	for _, tool := range Tools(e, Options{}) {
		got = append(got, tool.Definition().Name)
	}
	assert.Equal(t, want, got)

	def := NewUpdateTaskTool(e).Definition()
	assert.ElementsMatch(t, []string{"project", "number"}, def.InputSchema.Required)
	assert.Contains(t, def.InputSchema.Properties, "depends_on")

	assert.Empty(t, NewTasksTool(e).Definition().InputSchema.Required)
}

func TestNewServerRegistersTools(t *testing.T) {
	require.NotNil(t, NewServer(newTestEngine(t), "test", Options{}))
}

// ─── Tasks ───────────────────────────────────────────────────────────────────

func TestTasksTool(t *testing.T) {
	e := newTestEngine(t)
	create := NewCreateTaskTool(e)
	tasks := NewTasksTool(e)

	var first domain.Task
	callOK(t, create, map[string]interface{}{"project": "alpha", "description": "Write parser", "plan": "1. lex\n2. parse"}, &first)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, domain.StatusTodo, first.Status)

	var second domain.Task
	callOK(t, create, map[string]interface{}{
		"project":     "alpha",
		"description": "Wire CLI",
		"depends_on":  []interface{}{float64(1)},
	}, &second)
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, []int{1}, second.DependsOn)

	t.Run("overview", func(t *testing.T) {
		var out []projectOverview
		callOK(t, tasks, map[string]interface{}{}, &out)
		require.Len(t, out, 1)
		assert.Equal(t, "alpha", out[0].Project)
		assert.Equal(t, 2, out[0].TaskCount)
		assert.Equal(t, 2, out[0].ByStatus[domain.StatusTodo])
	})

	t.Run("project", func(t *testing.T) {
		var out []taskLine
		callOK(t, tasks, map[string]interface{}{"project": "alpha"}, &out)
		require.Len(t, out, 2)
		assert.Equal(t, "Write parser", out[0].Description)
	})

	t.Run("single task", func(t *testing.T) {
		var out domain.Task
		callOK(t, tasks, map[string]interface{}{"project": "alpha", "number": float64(1)}, &out)
		assert.Equal(t, "1. lex\n2. parse", out.Plan)
	})

	t.Run("unknown project", func(t *testing.T) {
		res := call(t, tasks, map[string]interface{}{"project": "nope"})
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(res), "does not exist")
	})

	t.Run("unknown task", func(t *testing.T) {
		res := call(t, tasks, map[string]interface{}{"project": "alpha", "number": float64(9)})
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(res), "#9")
	})
}

func TestCreateTaskToolValidation(t *testing.T) {
	e := newTestEngine(t)
	tool := NewCreateTaskTool(e)

	res := call(t, tool, map[string]interface{}{"project": "alpha"})
	assert.True(t, res.IsError)

	res = call(t, tool, map[string]interface{}{"project": "alpha", "description": "x", "depends_on": "1,2"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "depends_on")
}

func TestUpdateTaskTool(t *testing.T) {
	e := newTestEngine(t)
	callOK(t, NewCreateTaskTool(e), map[string]interface{}{"project": "alpha", "description": "Write parser", "module": "core", "plan": "draft"}, nil)
	update := NewUpdateTaskTool(e)

	var out domain.Task
	callOK(t, update, map[string]interface{}{
		"project": "alpha",
		"number":  float64(1),
		"status":  "work",
		"report":  "halfway",
		"plan":    "",
	}, &out)
	assert.Equal(t, domain.StatusWork, out.Status)
	assert.NotEmpty(t, out.Started)
	assert.Equal(t, "halfway", out.Report)
	assert.Empty(t, out.Plan)
	assert.Equal(t, "core", out.Module, "omitted fields stay unchanged")

	res := call(t, update, map[string]interface{}{"project": "alpha", "number": float64(1)})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "nothing to update")

	res = call(t, update, map[string]interface{}{"project": "alpha", "number": float64(1), "status": "finished"})
	assert.True(t, res.IsError)

	res = call(t, update, map[string]interface{}{"project": "alpha", "status": "done"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "number")
}

func TestSearchTasksTool(t *testing.T) {
	e := newTestEngine(t)
	create := NewCreateTaskTool(e)
	callOK(t, create, map[string]interface{}{"project": "alpha", "description": "Parse config files", "module": "config"}, nil)
	callOK(t, create, map[string]interface{}{"project": "alpha", "description": "Render tables", "body": "uses the config loader"}, nil)
	search := NewSearchTasksTool(e)

	var hits []domain.Task
	callOK(t, search, map[string]interface{}{"project": "alpha", "query": "config"}, &hits)
	assert.Len(t, hits, 2)

	callOK(t, search, map[string]interface{}{"project": "alpha", "query": "config", "module": "config"}, &hits)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].Number)

	res := call(t, search, map[string]interface{}{"project": "alpha", "query": "  "})
	assert.True(t, res.IsError)

	res = call(t, search, map[string]interface{}{"project": "alpha", "query": "config", "status": "bogus"})
	assert.True(t, res.IsError)
}

// ─── Reviews ─────────────────────────────────────────────────────────────────

func TestReviewFindingTools(t *testing.T) {
	e := newTestEngine(t)
	callOK(t, NewCreateTaskTool(e), map[string]interface{}{"project": "alpha", "description": "Write parser"}, nil)

	var f1, f2 domain.Finding
	callOK(t, NewAddReviewFindingTool(e), map[string]interface{}{
		"project":     "alpha",
		"number":      float64(1),
		"review_type": "security",
		"text":        "Unchecked input length",
		"author":      "rev",
		"severity":    "major",
		"file":        "parser.go",
		"line_start":  float64(10),
		"line_end":    float64(14),
	}, &f1)
	assert.Equal(t, domain.FindingOpen, f1.Status)
	require.NotNil(t, f1.LineStart)
	assert.Equal(t, 10, *f1.LineStart)

	callOK(t, NewAddReviewFindingTool(e), map[string]interface{}{
		"project": "alpha", "number": float64(1), "review_type": "testing", "text": "No fuzz test", "author": "rev",
	}, &f2)

	var c domain.Comment
	callOK(t, NewReplyToFindingTool(e), map[string]interface{}{"finding_id": f1.ID, "text": "Added a limit", "author": "dev"}, &c)
	assert.Equal(t, "Added a limit", c.Text)

	var resolved domain.Finding
	callOK(t, NewResolveFindingTool(e), map[string]interface{}{"finding_id": f1.ID, "response": "fixed"}, &resolved)
	assert.Equal(t, domain.FindingResolved, resolved.Status)

	res := call(t, NewDeclineFindingTool(e), map[string]interface{}{"finding_id": f1.ID, "reason": "too late"})
	assert.True(t, res.IsError, "terminal findings cannot change")

	res = call(t, NewDeclineFindingTool(e), map[string]interface{}{"finding_id": f2.ID})
	assert.True(t, res.IsError, "a reason is required")

	var open []domain.Finding
	callOK(t, NewListReviewFindingsTool(e), map[string]interface{}{"project": "alpha", "number": float64(1), "status": "open"}, &open)
	require.Len(t, open, 1)
	assert.Equal(t, f2.ID, open[0].ID)

	var all []domain.Finding
	callOK(t, NewListReviewFindingsTool(e), map[string]interface{}{"project": "alpha", "number": float64(1), "review_type": "security"}, &all)
	require.Len(t, all, 1)
	require.Len(t, all[0].Comments, 1)

	res = call(t, NewReplyToFindingTool(e), map[string]interface{}{"text": "x", "author": "y"})
	assert.True(t, res.IsError)
}

// ─── Attachments ─────────────────────────────────────────────────────────────

func TestAttachmentTools(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	callOK(t, NewCreateTaskTool(e), map[string]interface{}{"project": "alpha", "description": "Write parser"}, nil)
	_, err := e.SaveAttachment(ctx, "alpha", 1, "notes.md", []byte("# notes"))
	require.NoError(t, err)

	var atts []domain.Attachment
	callOK(t, NewListAttachmentsTool(e), map[string]interface{}{"project": "alpha", "number": float64(1)}, &atts)
	require.Len(t, atts, 1)
	assert.Equal(t, "notes.md", atts[0].Name)

	cache := t.TempDir()
	var read readAttachmentResult
	callOK(t, NewReadAttachmentTool(e, cache), map[string]interface{}{"project": "alpha", "number": float64(1), "filename": "notes.md"}, &read)
	assert.True(t, read.OK)
	assert.Equal(t, 7, read.Size)
	assert.True(t, strings.HasPrefix(read.Path, cache))
	data, err := os.ReadFile(read.Path)
	require.NoError(t, err)
	assert.Equal(t, "# notes", string(data))

	res := call(t, NewReadAttachmentTool(e, cache), map[string]interface{}{"project": "alpha", "number": float64(1), "filename": "missing.md"})
	assert.True(t, res.IsError)

	res = call(t, NewListAttachmentsTool(e), map[string]interface{}{"project": "alpha", "number": float64(5)})
	assert.True(t, res.IsError, "task must exist")

	del := NewDeleteAttachmentTool(e)
	callOK(t, del, map[string]interface{}{"project": "alpha", "number": float64(1), "filename": "notes.md"}, nil)
	res = call(t, del, map[string]interface{}{"project": "alpha", "number": float64(1), "filename": "notes.md"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "not found")
}
