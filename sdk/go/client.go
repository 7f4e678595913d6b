package taskgraphsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBasePath is where `tg serve` mounts the API.
const DefaultBasePath = "/api"

// Client is a minimal Taskgraph HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when the server runs without bearer auth.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: DefaultBasePath,
		Timeout:  10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID           string `json:"id"`
	Project      string `json:"project"`
	Number       int    `json:"number"`
	ParentNumber *int   `json:"parent_number,omitempty"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	Module       string `json:"module,omitempty"`
	Branch       string `json:"branch,omitempty"`
	Started      string `json:"started,omitempty"`
	Completed    string `json:"completed,omitempty"`
	Body         string `json:"body"`
	Plan         string `json:"plan"`
	Report       string `json:"report"`
	Review       string `json:"review"`
	Blocks       string `json:"blocks"`
	DependsOn    []int  `json:"depends_on"`
}

// NewTask is the body of CreateTask.
type NewTask struct {
	Number      int    `json:"number,omitempty"`
	Description string `json:"description"`
	Status      string `json:"status,omitempty"`
	Module      string `json:"module,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Body        string `json:"body,omitempty"`
	Plan        string `json:"plan,omitempty"`
	DependsOn   []int  `json:"depends_on,omitempty"`
}

// TaskUpdate carries the fields to change; nil fields are left alone and an
// empty string clears a field.
type TaskUpdate struct {
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Module      *string `json:"module,omitempty"`
	Branch      *string `json:"branch,omitempty"`
	Body        *string `json:"body,omitempty"`
	Plan        *string `json:"plan,omitempty"`
	Report      *string `json:"report,omitempty"`
	Review      *string `json:"review,omitempty"`
	Blocks      *string `json:"blocks,omitempty"`
	DependsOn   *[]int  `json:"depends_on,omitempty"`
}

// Project is a task container.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Workspace   string `json:"workspace"`
	ParentKind  string `json:"parent_kind"`
	ParentName  string `json:"parent_name"`
}

// ProjectSummary is a project with its top-level tasks and status counts.
type ProjectSummary struct {
	Project Project        `json:"project"`
	Tasks   []Task         `json:"tasks"`
	Counts  map[string]int `json:"counts"`
}

// Finding is a review remark on a task.
type Finding struct {
	ID            string    `json:"element_id"`
	ReviewType    string    `json:"review_type"`
	TaskNumber    int       `json:"task_number"`
	Text          string    `json:"text"`
	Author        string    `json:"author"`
	Severity      string    `json:"severity,omitempty"`
	File          *string   `json:"file"`
	LineStart     *int      `json:"line_start"`
	LineEnd       *int      `json:"line_end"`
	Status        string    `json:"status"`
	Response      *string   `json:"response"`
	DeclineReason *string   `json:"decline_reason"`
	Comments      []Comment `json:"comments"`
}

// NewFinding is the body of AddFinding.
type NewFinding struct {
	ReviewType string `json:"review_type"`
	Text       string `json:"text"`
	Author     string `json:"author,omitempty"`
	Severity   string `json:"severity,omitempty"`
	File       string `json:"file,omitempty"`
	LineStart  *int   `json:"line_start,omitempty"`
	LineEnd    *int   `json:"line_end,omitempty"`
}

// Comment is a discussion entry on a finding; replies nest.
type Comment struct {
	ID      string    `json:"element_id"`
	Text    string    `json:"text"`
	Author  string    `json:"author"`
	Replies []Comment `json:"replies"`
}

// ReviewSummary counts findings of one review type by status.
type ReviewSummary struct {
	Open     int `json:"open"`
	Resolved int `json:"resolved"`
	Declined int `json:"declined"`
}

// TaskReviews groups a task's findings by review type.
type TaskReviews struct {
	ReviewTypes []string                 `json:"review_types"`
	Findings    map[string][]Finding     `json:"findings"`
	Summary     map[string]ReviewSummary `json:"summary"`
}

// Attachment describes a stored file.
type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	Project    string         `json:"project"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// NotFound reports whether err is a 404 from the API.
func NotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// CreateTask creates a task in project, creating the project if needed.
func (c *Client) CreateTask(ctx context.Context, project string, t NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "task/"+url.PathEscape(project), t, &resp)
	return resp, err
}

// GetTask returns the full task.
func (c *Client) GetTask(ctx context.Context, project string, number int) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, taskPath(project, number, ""), nil, &resp)
	return resp, err
}

// UpdateTask applies u and returns the updated task.
func (c *Client) UpdateTask(ctx context.Context, project string, number int, u TaskUpdate) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, taskPath(project, number, ""), u, &resp)
	return resp, err
}

// DeleteTask removes a task with its sections, findings and attachments.
func (c *Client) DeleteTask(ctx context.Context, project string, number int) error {
	return c.do(ctx, http.MethodDelete, taskPath(project, number, ""), nil, nil)
}

// Project returns the project with its tasks.
func (c *Client) Project(ctx context.Context, name string) (ProjectSummary, error) {
	var resp ProjectSummary
	err := c.do(ctx, http.MethodGet, "project/"+url.PathEscape(name), nil, &resp)
	return resp, err
}

// SearchTasks finds tasks containing every keyword of query. status and
// module are optional filters.
func (c *Client) SearchTasks(ctx context.Context, project, query, status, module string) ([]Task, error) {
	q := url.Values{"q": {query}}
	if status != "" {
		q.Set("status", status)
	}
	if module != "" {
		q.Set("module", module)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, "project/"+url.PathEscape(project)+"/search?"+q.Encode(), nil, &resp)
	return resp, err
}

// TaskReviews returns the findings of a task grouped by review type.
func (c *Client) TaskReviews(ctx context.Context, project string, number int) (TaskReviews, error) {
	var resp TaskReviews
	err := c.do(ctx, http.MethodGet, taskPath(project, number, "reviews"), nil, &resp)
	return resp, err
}

// ReviewCounts returns open findings per task number.
func (c *Client) ReviewCounts(ctx context.Context, project string) (map[string]int, error) {
	var resp struct {
		Counts map[string]int `json:"counts"`
	}
	err := c.do(ctx, http.MethodGet, "project/"+url.PathEscape(project)+"/review-counts", nil, &resp)
	return resp.Counts, err
}

// AddFinding records a review finding on a task.
func (c *Client) AddFinding(ctx context.Context, project string, number int, f NewFinding) (Finding, error) {
	var resp Finding
	err := c.do(ctx, http.MethodPost, taskPath(project, number, "findings"), f, &resp)
	return resp, err
}

// ResolveFinding marks an open finding resolved.
func (c *Client) ResolveFinding(ctx context.Context, id, response string) (Finding, error) {
	var resp Finding
	err := c.do(ctx, http.MethodPost, "finding/"+url.PathEscape(id)+"/resolve", map[string]string{"response": response}, &resp)
	return resp, err
}

// DeclineFinding marks an open finding declined; reason is required.
func (c *Client) DeclineFinding(ctx context.Context, id, reason string) (Finding, error) {
	var resp Finding
	err := c.do(ctx, http.MethodPost, "finding/"+url.PathEscape(id)+"/decline", map[string]string{"reason": reason}, &resp)
	return resp, err
}

// CommentOnFinding adds a top-level comment to a finding.
func (c *Client) CommentOnFinding(ctx context.Context, id, text, author string) (Comment, error) {
	var resp Comment
	body := map[string]string{"text": text}
	if author != "" {
		body["author"] = author
	}
	err := c.do(ctx, http.MethodPost, "finding/"+url.PathEscape(id)+"/comments", body, &resp)
	return resp, err
}

// UploadAttachment stores data as filename on a task.
func (c *Client) UploadAttachment(ctx context.Context, project string, number int, filename string, data []byte) (Attachment, error) {
	var resp Attachment
	err := c.send(ctx, http.MethodPut, taskPath(project, number, "attachments/"+url.PathEscape(filename)), "application/octet-stream", bytes.NewReader(data), &resp)
	return resp, err
}

// DownloadAttachment returns the stored bytes.
func (c *Client) DownloadAttachment(ctx context.Context, project string, number int, filename string) ([]byte, error) {
	res, err := c.request(ctx, http.MethodGet, taskPath(project, number, "attachments/"+url.PathEscape(filename)), "", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return io.ReadAll(res.Body)
}

// ListAttachments lists the files attached to a task.
func (c *Client) ListAttachments(ctx context.Context, project string, number int) ([]Attachment, error) {
	var resp []Attachment
	err := c.do(ctx, http.MethodGet, taskPath(project, number, "attachments"), nil, &resp)
	return resp, err
}

// Events returns the latest activity of a project, newest first.
func (c *Client) Events(ctx context.Context, project string, limit int) ([]Event, error) {
	endpoint := "project/" + url.PathEscape(project) + "/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func taskPath(project string, number int, sub string) string {
	p := fmt.Sprintf("task/%s/%d", url.PathEscape(project), number)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, "application/json", &buf, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	res, err := c.request(ctx, method, endpoint, contentType, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if out != nil && res.StatusCode != http.StatusNoContent {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

// request performs the call and turns non-2xx responses into *APIError.
func (c *Client) request(ctx context.Context, method, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+"/"+strings.TrimLeft(endpoint, "/"), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		apiErr := &APIError{StatusCode: res.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	return res, nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
