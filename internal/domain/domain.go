package domain

type Workspace struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Workspace   string     `json:"workspace"`
	ParentKind  ParentKind `json:"parent_kind" enum:"workspace,project"`
	ParentName  string     `json:"parent_name"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
}

// ParentRef addresses the container a project is created in.
type ParentRef struct {
	Kind ParentKind
	Name string
}

// Task is a numbered unit of work. Section fields are only populated by full
// reads; summaries leave them blank.
type Task struct {
	ID           string `json:"id"`
	Project      string `json:"project"`
	Number       int    `json:"number"`
	ParentNumber *int   `json:"parent_number,omitempty"`
	Description  string `json:"description"`
	Status       Status `json:"status" enum:"todo,work,done,hold"`
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
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// SetSection copies content into the matching section field of t.
func (t *Task) SetSection(typ SectionType, content string) {
	switch typ {
	case SectionBody:
		t.Body = content
	case SectionPlan:
		t.Plan = content
	case SectionReport:
		t.Report = content
	case SectionReview:
		t.Review = content
	case SectionBlocks:
		t.Blocks = content
	}
}

type Section struct {
	ID        string      `json:"id"`
	TaskID    string      `json:"task_id"`
	Type      SectionType `json:"type"`
	Content   string      `json:"content"`
	CreatedAt string      `json:"created_at" format:"date-time"`
	UpdatedAt string      `json:"updated_at" format:"date-time"`
}

type Finding struct {
	ID            string        `json:"element_id"`
	ReviewType    SectionType   `json:"review_type"`
	TaskNumber    int           `json:"task_number"`
	Text          string        `json:"text"`
	Author        string        `json:"author"`
	Severity      string        `json:"severity,omitempty"`
	File          *string       `json:"file"`
	LineStart     *int          `json:"line_start"`
	LineEnd       *int          `json:"line_end"`
	Status        FindingStatus `json:"status" enum:"open,resolved,declined"`
	Response      *string       `json:"response"`
	ResolvedAt    *string       `json:"resolved_at"`
	DeclineReason *string       `json:"decline_reason"`
	DeclinedAt    *string       `json:"declined_at"`
	CreatedAt     string        `json:"created_at" format:"date-time"`
	Comments      []Comment     `json:"comments"`
}

// NewFinding carries the caller-supplied attributes of a finding.
type NewFinding struct {
	Text      string
	Author    string
	Severity  string
	File      string
	LineStart *int
	LineEnd   *int
}

// FindingFilter narrows ListFindings; zero values match everything.
type FindingFilter struct {
	SectionType SectionType
	Status      FindingStatus
}

// Comment belongs to a finding or, as a reply, to another comment.
type Comment struct {
	ID        string    `json:"element_id"`
	FindingID string    `json:"finding_id,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt string    `json:"created_at" format:"date-time"`
	Replies   []Comment `json:"replies"`
}

type WorkflowRun struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id"`
	TaskNumber  int            `json:"task_number"`
	Type        string         `json:"type"`
	Status      RunStatus      `json:"status" enum:"pending,running,completed,failed"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	CompletedAt *string        `json:"completed_at,omitempty"`
	Steps       []WorkflowStep `json:"steps,omitempty"`
}

type WorkflowStep struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Name        string    `json:"name"`
	Status      RunStatus `json:"status" enum:"pending,running,completed,failed"`
	Output      *string   `json:"output,omitempty"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
	StartedAt   *string   `json:"started_at,omitempty"`
	CompletedAt *string   `json:"completed_at,omitempty"`
}

// Attachment describes a stored object belonging to a task.
type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	ETag string `json:"etag,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	Project    string `json:"project,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Actor      string `json:"actor"`
	Payload    string `json:"payload"`
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
