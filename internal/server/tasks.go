package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

type taskPath struct {
	Project string `path:"project"`
	Number  int    `path:"number" minimum:"1"`
}

func (r CreateTaskRequest) options(project, actor string) engine.TaskCreateOptions {
	return engine.TaskCreateOptions{
		Project:     project,
		Number:      r.Number,
		Description: r.Description,
		Status:      r.Status,
		Module:      r.Module,
		Branch:      r.Branch,
		Started:     r.Started,
		Completed:   r.Completed,
		Body:        r.Body,
		Plan:        r.Plan,
		DependsOn:   r.DependsOn,
		Actor:       actor,
	}
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/task/{project}",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Project string            `path:"project"`
		Body    CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		t, err := e.CreateTask(ctx, input.Body.options(input.Project, actorFromContext(ctx, "api")))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/task/{project}/{number}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.Project, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		if t == nil {
			return nil, notFound("task %s/%d not found", input.Project, input.Number)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: *t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/task/{project}/{number}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		patch := input.Body.taskPatch(rawBodyMap(ctx))
		t, err := e.UpdateTask(ctx, input.Project, input.Number, patch, actorFromContext(ctx, "api"))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/task/{project}/{number}",
		Summary:     "Delete task, its subtasks and attachments",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body DeleteTaskResponse `json:"body"`
	}, error) {
		ok, err := e.DeleteTask(ctx, input.Project, input.Number, actorFromContext(ctx, "api"))
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, notFound("task %s/%d not found", input.Project, input.Number)
		}
		return &struct {
			Body DeleteTaskResponse `json:"body"`
		}{Body: DeleteTaskResponse{Deleted: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subtasks",
		Method:      http.MethodGet,
		Path:        "/task/{project}/{number}/subtasks",
		Summary:     "List subtasks",
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []TaskSummary `json:"body"`
	}, error) {
		items, err := e.ListSubtasks(ctx, input.Project, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskSummary `json:"body"`
		}{Body: mapTaskSummaries(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-subtask",
		Method:        http.MethodPost,
		Path:          "/task/{project}/{number}/subtasks",
		Summary:       "Create subtask",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		t, err := e.CreateSubtask(ctx, input.Number, input.Body.options(input.Project, actorFromContext(ctx, "api")))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}
