// Package mcptools exposes the task graph to AI agents as MCP tools.
//
// Each tool follows the same shape:
// - a struct holding the engine, injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() validates arguments, calls the engine and renders JSON
//
// Engine errors become tool error results so the agent sees the message.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"taskgraph/internal/engine"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// intListArg reads an array of numbers. ok is false when the key is absent.
func intListArg(req mcp.CallToolRequest, key string) ([]int, bool, error) {
	raw, present := req.GetArguments()[key]
	if !present || raw == nil {
		return nil, false, nil
	}
	items, isList := raw.([]any)
	if !isList {
		return nil, true, fmt.Errorf("'%s' must be an array of task numbers", key)
	}
	out := make([]int, 0, len(items))
	for _, it := range items {
		n, isNum := it.(float64)
		if !isNum {
			return nil, true, fmt.Errorf("'%s' must be an array of task numbers", key)
		}
		out = append(out, int(n))
	}
	return out, true, nil
}

// optString returns a pointer to the argument when present, so "" can clear
// a field while an absent key leaves it alone.
func optString(req mcp.CallToolRequest, key string) *string {
	v, ok := req.GetArguments()[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errorResult(action string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", action, err))
}

// taskArgs reads the required project and number arguments.
func taskArgs(req mcp.CallToolRequest) (string, int, *mcp.CallToolResult) {
	project := req.GetString("project", "")
	if project == "" {
		return "", 0, mcp.NewToolResultError("'project' is required")
	}
	number := intArg(req, "number", 0)
	if number <= 0 {
		return "", 0, mcp.NewToolResultError("'number' must be a positive task number")
	}
	return project, number, nil
}

// requireTask reports a missing project or task as a tool error.
func requireTask(ctx context.Context, e engine.Engine, project string, number int) *mcp.CallToolResult {
	t, err := e.GetTask(ctx, project, number)
	if err != nil {
		return errorResult("load task", err)
	}
	if t == nil {
		return mcp.NewToolResultError(fmt.Sprintf("task #%d not found in project '%s'", number, project))
	}
	return nil
}
