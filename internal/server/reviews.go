package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

type idPath struct {
	ID string `path:"id"`
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "task-reviews",
		Method:      http.MethodGet,
		Path:        "/task/{project}/{number}/reviews",
		Summary:     "Findings of a task grouped by review type",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.TaskReviews `json:"body"`
	}, error) {
		res, err := e.TaskReviews(ctx, input.Project, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		if res == nil {
			return nil, notFound("task %s/%d not found", input.Project, input.Number)
		}
		return &struct {
			Body domain.TaskReviews `json:"body"`
		}{Body: *res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-finding",
		Method:        http.MethodPost,
		Path:          "/task/{project}/{number}/findings",
		Summary:       "Add review finding",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body AddFindingRequest `json:"body"`
	}) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		f, err := e.AddReviewFinding(ctx, input.Project, input.Number, input.Body.ReviewType, domain.NewFinding{
			Text:      input.Body.Text,
			Author:    defaultAuthor(ctx, input.Body.Author),
			Severity:  input.Body.Severity,
			File:      input.Body.File,
			LineStart: input.Body.LineStart,
			LineEnd:   input.Body.LineEnd,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if f.Comments == nil {
			f.Comments = []domain.Comment{}
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-finding",
		Method:      http.MethodPost,
		Path:        "/finding/{id}/resolve",
		Summary:     "Resolve finding",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		idPath
		Body ResolveFindingRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		f, err := e.ResolveFinding(ctx, input.ID, input.Body.Response, actorFromContext(ctx, "api"))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decline-finding",
		Method:      http.MethodPost,
		Path:        "/finding/{id}/decline",
		Summary:     "Decline finding",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		idPath
		Body DeclineFindingRequest `json:"body"`
	}) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		f, err := e.DeclineFinding(ctx, input.ID, input.Body.Reason, actorFromContext(ctx, "api"))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reply-to-finding",
		Method:        http.MethodPost,
		Path:          "/finding/{id}/comments",
		Summary:       "Comment on finding",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		idPath
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		c, err := e.ReplyToFinding(ctx, input.ID, input.Body.Text, defaultAuthor(ctx, input.Body.Author))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: withReplies(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reply-to-comment",
		Method:        http.MethodPost,
		Path:          "/comment/{id}/replies",
		Summary:       "Reply to comment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		idPath
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		c, err := e.ReplyToComment(ctx, input.ID, input.Body.Text, defaultAuthor(ctx, input.Body.Author))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: withReplies(c)}, nil
	})
}

func withReplies(c domain.Comment) domain.Comment {
	if c.Replies == nil {
		c.Replies = []domain.Comment{}
	}
	return c
}
