package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/task/{project}/{number}/runs",
		Summary:     "List workflow runs",
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []domain.WorkflowRun `json:"body"`
	}, error) {
		runs, err := e.ListWorkflowRuns(ctx, input.Project, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		if runs == nil {
			runs = []domain.WorkflowRun{}
		}
		return &struct {
			Body []domain.WorkflowRun `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-run",
		Method:        http.MethodPost,
		Path:          "/task/{project}/{number}/runs",
		Summary:       "Start workflow run",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body StartRunRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowRun `json:"body"`
	}, error) {
		run, err := e.StartWorkflowRun(ctx, input.Project, input.Number, input.Body.Type, actorFromContext(ctx, "api"))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/run/{id}",
		Summary:     "Get workflow run with steps",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.WorkflowRun `json:"body"`
	}, error) {
		run, err := e.GetWorkflowRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if run == nil {
			return nil, notFound("workflow run %q not found", input.ID)
		}
		return &struct {
			Body domain.WorkflowRun `json:"body"`
		}{Body: *run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-run",
		Method:      http.MethodPatch,
		Path:        "/run/{id}",
		Summary:     "Move workflow run to a new status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		idPath
		Body UpdateRunRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowRun `json:"body"`
	}, error) {
		run, err := e.UpdateWorkflowRun(ctx, input.ID, input.Body.Status, actorFromContext(ctx, "api"))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-step",
		Method:        http.MethodPost,
		Path:          "/run/{id}/steps",
		Summary:       "Add workflow step",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		idPath
		Body AddStepRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowStep `json:"body"`
	}, error) {
		step, err := e.AddWorkflowStep(ctx, input.ID, input.Body.Name, actorFromContext(ctx, "api"))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowStep `json:"body"`
		}{Body: step}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-step",
		Method:      http.MethodPatch,
		Path:        "/step/{id}",
		Summary:     "Update workflow step",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		idPath
		Body UpdateStepRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowStep `json:"body"`
	}, error) {
		step, err := e.UpdateWorkflowStep(ctx, input.ID, input.Body.Status, input.Body.Output, actorFromContext(ctx, "api"))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowStep `json:"body"`
		}{Body: step}, nil
	})
}
