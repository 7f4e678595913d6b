package server

import (
	"encoding/json"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Workspace     string `json:"workspace,omitempty"`
	ParentProject string `json:"parent,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateTaskRequest struct {
	Number      int    `json:"number,omitempty" minimum:"1"`
	Description string `json:"description"`
	Status      string `json:"status,omitempty" enum:"todo,work,done,hold"`
	Module      string `json:"module,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Started     string `json:"started,omitempty"`
	Completed   string `json:"completed,omitempty"`
	Body        string `json:"body,omitempty"`
	Plan        string `json:"plan,omitempty"`
	DependsOn   []int  `json:"depends_on,omitempty"`
}

// UpdateTaskRequest is a partial update: absent fields are unchanged, an
// empty string (or null for sections) clears the value.
type UpdateTaskRequest struct {
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"todo,work,done,hold"`
	Module      *string `json:"module,omitempty"`
	Branch      *string `json:"branch,omitempty"`
	Started     *string `json:"started,omitempty"`
	Completed   *string `json:"completed,omitempty"`
	Body        *string `json:"body,omitempty" nullable:"true"`
	Plan        *string `json:"plan,omitempty" nullable:"true"`
	Report      *string `json:"report,omitempty" nullable:"true"`
	Review      *string `json:"review,omitempty" nullable:"true"`
	Blocks      *string `json:"blocks,omitempty" nullable:"true"`
	DependsOn   *[]int  `json:"depends_on,omitempty"`
}

type AddFindingRequest struct {
	ReviewType string `json:"review_type" enum:"code-review,security,testing,performance,documentation,architecture"`
	Text       string `json:"text"`
	Author     string `json:"author,omitempty"`
	Severity   string `json:"severity,omitempty"`
	File       string `json:"file,omitempty"`
	LineStart  *int   `json:"line_start,omitempty" minimum:"1"`
	LineEnd    *int   `json:"line_end,omitempty" minimum:"1"`
}

type ResolveFindingRequest struct {
	Response string `json:"response,omitempty"`
}

type DeclineFindingRequest struct {
	Reason string `json:"reason"`
}

type CommentRequest struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

type StartRunRequest struct {
	Type string `json:"type"`
}

type UpdateRunRequest struct {
	Status string `json:"status" enum:"pending,running,completed,failed"`
}

type AddStepRequest struct {
	Name string `json:"name"`
}

type UpdateStepRequest struct {
	Status string  `json:"status" enum:"pending,running,completed,failed"`
	Output *string `json:"output,omitempty"`
}

// Response payloads

// TaskSummary is a task without section content, as returned by list
// operations.
type TaskSummary struct {
	Number       int           `json:"number"`
	ParentNumber *int          `json:"parent_number,omitempty"`
	Description  string        `json:"description"`
	Status       domain.Status `json:"status"`
	Module       string        `json:"module,omitempty"`
	Branch       string        `json:"branch,omitempty"`
	Started      string        `json:"started,omitempty"`
	Completed    string        `json:"completed,omitempty"`
	DependsOn    []int         `json:"depends_on"`
}

type ProjectSummaryResponse struct {
	Project domain.Project `json:"project"`
	Tasks   []TaskSummary  `json:"tasks"`
	Counts  map[string]int `json:"counts"`
}

type UpdateProjectResponse struct {
	Project          domain.Project `json:"project"`
	MovedAttachments int            `json:"moved_attachments"`
}

type ReviewCountsResponse struct {
	Counts map[string]int `json:"counts"`
}

type AttachmentURLResponse struct {
	URL string `json:"url"`
}

type DeleteTaskResponse struct {
	Deleted bool `json:"deleted"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	Project    string          `json:"project,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	Actor      string          `json:"actor"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func taskSummary(t domain.Task) TaskSummary {
	deps := t.DependsOn
	if deps == nil {
		deps = []int{}
	}
	return TaskSummary{
		Number:       t.Number,
		ParentNumber: t.ParentNumber,
		Description:  t.Description,
		Status:       t.Status,
		Module:       t.Module,
		Branch:       t.Branch,
		Started:      t.Started,
		Completed:    t.Completed,
		DependsOn:    deps,
	}
}

func mapTaskSummaries(items []domain.Task) []TaskSummary {
	out := make([]TaskSummary, 0, len(items))
	for _, t := range items {
		out = append(out, taskSummary(t))
	}
	return out
}

func projectSummaryResponse(s engine.ProjectSummary) ProjectSummaryResponse {
	counts := make(map[string]int, len(s.Counts))
	for st, n := range s.Counts {
		counts[string(st)] = n
	}
	return ProjectSummaryResponse{
		Project: s.Project,
		Tasks:   mapTaskSummaries(s.Tasks),
		Counts:  counts,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		Project:    evt.Project,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		Actor:      evt.Actor,
		Payload:    payload,
		PayloadRaw: raw,
	}
}

// taskPatch converts the request into a patch; sections sent as null clear
// the section like an empty string.
func (r UpdateTaskRequest) taskPatch(raw map[string]json.RawMessage) domain.TaskPatch {
	p := domain.TaskPatch{
		Description: r.Description,
		Module:      r.Module,
		Branch:      r.Branch,
		Started:     r.Started,
		Completed:   r.Completed,
		Body:        r.Body,
		Plan:        r.Plan,
		Report:      r.Report,
		Review:      r.Review,
		Blocks:      r.Blocks,
		DependsOn:   r.DependsOn,
	}
	if r.Status != nil {
		st := domain.Status(*r.Status)
		p.Status = &st
	}
	empty := ""
	for name, field := range map[string]**string{
		"body":   &p.Body,
		"plan":   &p.Plan,
		"report": &p.Report,
		"review": &p.Review,
		"blocks": &p.Blocks,
	} {
		if isNullRaw(raw[name]) {
			*field = &empty
		}
	}
	return p
}
