package server

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

// BlobResolver verifies presigned URLs and reads the objects they grant.
type BlobResolver interface {
	Resolve(ctx context.Context, u *url.URL) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

type attachmentPath struct {
	taskPath
	Filename string `path:"filename"`
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func registerAttachments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-attachments",
		Method:      http.MethodGet,
		Path:        "/task/{project}/{number}/attachments",
		Summary:     "List attachments",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []domain.Attachment `json:"body"`
	}, error) {
		items, err := e.ListAttachments(ctx, input.Project, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Attachment{}
		}
		return &struct {
			Body []domain.Attachment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-attachment",
		Method:      http.MethodPut,
		Path:        "/task/{project}/{number}/attachments/{filename}",
		Summary:     "Upload attachment",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		attachmentPath
		RawBody []byte
	}) (*struct {
		Body domain.Attachment `json:"body"`
	}, error) {
		att, err := e.SaveAttachment(ctx, input.Project, input.Number, input.Filename, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Attachment `json:"body"`
		}{Body: att}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-attachment",
		Method:      http.MethodGet,
		Path:        "/task/{project}/{number}/attachments/{filename}",
		Summary:     "Download attachment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *attachmentPath) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		data, err := e.GetAttachmentBytes(ctx, input.Project, input.Number, input.Filename)
		if err != nil {
			return nil, handleError(err)
		}
		if data == nil {
			return nil, notFound("attachment %q not found", input.Filename)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: contentType(input.Filename), Body: data}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-attachment",
		Method:      http.MethodDelete,
		Path:        "/task/{project}/{number}/attachments/{filename}",
		Summary:     "Delete attachment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *attachmentPath) (*struct{}, error) {
		ok, err := e.DeleteAttachment(ctx, input.Project, input.Number, input.Filename)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, notFound("attachment %q not found", input.Filename)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attachment-url",
		Method:      http.MethodGet,
		Path:        "/task/{project}/{number}/attachments/{filename}/url",
		Summary:     "Presigned download URL",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *attachmentPath) (*struct {
		Body AttachmentURLResponse `json:"body"`
	}, error) {
		u, err := e.AttachmentURL(ctx, input.Project, input.Number, input.Filename)
		if err != nil {
			return nil, handleError(err)
		}
		if u == "" {
			return nil, notFound("attachment %q not found", input.Filename)
		}
		return &struct {
			Body AttachmentURLResponse `json:"body"`
		}{Body: AttachmentURLResponse{URL: u}}, nil
	})
}

// registerBlobs serves presigned URLs. The route sits outside the API group
// because the signature itself authorises the download.
func registerBlobs(r chi.Router, blobs BlobResolver) {
	if blobs == nil {
		return
	}
	r.Get("/blobs", func(w http.ResponseWriter, req *http.Request) {
		key, err := blobs.Resolve(req.Context(), req.URL)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		data, err := blobs.Get(req.Context(), key)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		if data == nil {
			respondStatusError(w, notFound("object not found"))
			return
		}
		w.Header().Set("Content-Type", contentType(key))
		w.Write(data)
	})
}
