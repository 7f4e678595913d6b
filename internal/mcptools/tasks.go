package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

type taskLine struct {
	Number      int           `json:"number"`
	Description string        `json:"description"`
	Status      domain.Status `json:"status"`
}

type projectOverview struct {
	Project   string                `json:"project"`
	TaskCount int                   `json:"task_count"`
	ByStatus  map[domain.Status]int `json:"by_status"`
	Tasks     []taskLine            `json:"tasks"`
}

func taskLines(tasks []domain.Task) []taskLine {
	out := make([]taskLine, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskLine{Number: t.Number, Description: t.Description, Status: t.Status})
	}
	return out
}

// TasksTool handles the tasks MCP tool.
type TasksTool struct {
	engine engine.Engine
}

func NewTasksTool(e engine.Engine) *TasksTool { return &TasksTool{engine: e} }

func (t *TasksTool) Definition() mcp.Tool {
	return mcp.NewTool("tasks",
		mcp.WithDescription("Query tasks. Without a project: overview of every project. "+
			"With a project: its top-level tasks. With a project and number: the full task."),
		mcp.WithString("project", mcp.Description("Project name")),
		mcp.WithNumber("number", mcp.Description("Task number within the project")),
	)
}

func (t *TasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	if project == "" {
		projects, err := t.engine.ListProjects(ctx, domain.ParentRef{})
		if err != nil {
			return errorResult("list projects", err), nil
		}
		out := make([]projectOverview, 0, len(projects))
		for _, p := range projects {
			sum, err := t.engine.ProjectSummary(ctx, p.Name)
			if err != nil {
				return errorResult("summarise "+p.Name, err), nil
			}
			if sum == nil {
				continue
			}
			out = append(out, projectOverview{
				Project:   p.Name,
				TaskCount: len(sum.Tasks),
				ByStatus:  sum.Counts,
				Tasks:     taskLines(sum.Tasks),
			})
		}
		return jsonResult(out)
	}

	sum, err := t.engine.ProjectSummary(ctx, project)
	if err != nil {
		return errorResult("load project", err), nil
	}
	if sum == nil {
		return mcp.NewToolResultError(fmt.Sprintf("project '%s' does not exist", project)), nil
	}
	number := intArg(req, "number", 0)
	if number <= 0 {
		return jsonResult(taskLines(sum.Tasks))
	}
	task, err := t.engine.GetTask(ctx, project, number)
	if err != nil {
		return errorResult("load task", err), nil
	}
	if task == nil {
		return mcp.NewToolResultError(fmt.Sprintf("task #%d not found in project '%s'", number, project)), nil
	}
	return jsonResult(task)
}

// SearchTasksTool handles the search_tasks MCP tool.
type SearchTasksTool struct {
	engine engine.Engine
}

func NewSearchTasksTool(e engine.Engine) *SearchTasksTool { return &SearchTasksTool{engine: e} }

func (t *SearchTasksTool) Definition() mcp.Tool {
	return mcp.NewTool("search_tasks",
		mcp.WithDescription("Find tasks whose fields, sections or review findings contain every keyword of the query."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Space separated keywords (at most 20)")),
		mcp.WithString("status", mcp.Description("Only tasks in this status"), mcp.Enum("todo", "work", "done", "hold")),
		mcp.WithString("module", mcp.Description("Only tasks of this module")),
	)
}

func (t *SearchTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	if project == "" {
		return mcp.NewToolResultError("'project' is required"), nil
	}
	tasks, err := t.engine.SearchTasks(ctx, project, req.GetString("query", ""), req.GetString("status", ""), req.GetString("module", ""))
	if err != nil {
		return errorResult("search", err), nil
	}
	return jsonResult(tasks)
}

// CreateTaskTool handles the create_task MCP tool.
type CreateTaskTool struct {
	engine engine.Engine
}

func NewCreateTaskTool(e engine.Engine) *CreateTaskTool { return &CreateTaskTool{engine: e} }

func (t *CreateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("create_task",
		mcp.WithDescription("Create a task with the next free number of the project. The project is created on first use."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("description", mcp.Required(), mcp.Description("One line summary of the work")),
		mcp.WithString("body", mcp.Description("Detailed description (markdown)")),
		mcp.WithString("plan", mcp.Description("Implementation plan (markdown)")),
		mcp.WithString("module", mcp.Description("Module or component the task belongs to")),
		mcp.WithString("branch", mcp.Description("Git branch")),
		mcp.WithArray("depends_on", mcp.Description("Numbers of tasks this one depends on"), mcp.Items(map[string]any{"type": "number"})),
	)
}

func (t *CreateTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deps, _, err := intListArg(req, "depends_on")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := t.engine.CreateTask(ctx, engine.TaskCreateOptions{
		Project:     req.GetString("project", ""),
		Description: req.GetString("description", ""),
		Body:        req.GetString("body", ""),
		Plan:        req.GetString("plan", ""),
		Module:      req.GetString("module", ""),
		Branch:      req.GetString("branch", ""),
		DependsOn:   deps,
		Actor:       "mcp",
	})
	if err != nil {
		return errorResult("create task", err), nil
	}
	return jsonResult(task)
}

// UpdateTaskTool handles the update_task MCP tool.
type UpdateTaskTool struct {
	engine engine.Engine
}

func NewUpdateTaskTool(e engine.Engine) *UpdateTaskTool { return &UpdateTaskTool{engine: e} }

func (t *UpdateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("update_task",
		mcp.WithDescription("Update task fields. Omitted fields stay unchanged; an empty string clears a field. "+
			"Moving to work stamps the start time, moving to done stamps completion."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Task number")),
		mcp.WithString("description", mcp.Description("New summary")),
		mcp.WithString("status", mcp.Description("New status"), mcp.Enum("todo", "work", "done", "hold")),
		mcp.WithString("module", mcp.Description("Module")),
		mcp.WithString("branch", mcp.Description("Git branch")),
		mcp.WithString("body", mcp.Description("Body section")),
		mcp.WithString("plan", mcp.Description("Plan section")),
		mcp.WithString("report", mcp.Description("Report section")),
		mcp.WithString("review", mcp.Description("Review section")),
		mcp.WithString("blocks", mcp.Description("Blockers section")),
		mcp.WithArray("depends_on", mcp.Description("Replaces the task's dependencies"), mcp.Items(map[string]any{"type": "number"})),
	)
}

func (t *UpdateTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, number, bad := taskArgs(req)
	if bad != nil {
		return bad, nil
	}
	patch := domain.TaskPatch{
		Description: optString(req, "description"),
		Module:      optString(req, "module"),
		Branch:      optString(req, "branch"),
		Body:        optString(req, "body"),
		Plan:        optString(req, "plan"),
		Report:      optString(req, "report"),
		Review:      optString(req, "review"),
		Blocks:      optString(req, "blocks"),
	}
	if s := optString(req, "status"); s != nil {
		st := domain.Status(*s)
		patch.Status = &st
	}
	deps, present, err := intListArg(req, "depends_on")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if present {
		patch.DependsOn = &deps
	}
	if patch.Empty() {
		return mcp.NewToolResultError("nothing to update"), nil
	}
	task, err := t.engine.UpdateTask(ctx, project, number, patch, "mcp")
	if err != nil {
		return errorResult("update task", err), nil
	}
	return jsonResult(task)
}
