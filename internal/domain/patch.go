package domain

// TaskPatch is a partial task update. A nil field is left unchanged; a
// non-nil pointer to "" clears the value.
type TaskPatch struct {
	Description *string
	Status      *Status
	Module      *string
	Branch      *string
	Started     *string
	Completed   *string
	Body        *string
	Plan        *string
	Report      *string
	Review      *string
	Blocks      *string
	DependsOn   *[]int
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Description == nil && p.Status == nil && p.Module == nil && p.Branch == nil &&
		p.Started == nil && p.Completed == nil && !p.HasSections() && p.DependsOn == nil
}

func (p TaskPatch) HasSections() bool {
	return p.Body != nil || p.Plan != nil || p.Report != nil || p.Review != nil || p.Blocks != nil
}

// Sections returns the supplied section updates keyed by section type, in a
// fixed order.
func (p TaskPatch) Sections() []SectionUpdate {
	var res []SectionUpdate
	add := func(t SectionType, v *string) {
		if v != nil {
			res = append(res, SectionUpdate{Type: t, Content: *v})
		}
	}
	add(SectionBody, p.Body)
	add(SectionPlan, p.Plan)
	add(SectionReport, p.Report)
	add(SectionReview, p.Review)
	add(SectionBlocks, p.Blocks)
	return res
}

type SectionUpdate struct {
	Type    SectionType
	Content string
}

// TaskFields are the node attributes the graph layer updates directly.
type TaskFields struct {
	Description *string
	Status      *Status
	Module      *string
	Branch      *string
	Started     *string
	Completed   *string
}

func (f TaskFields) Empty() bool {
	return f.Description == nil && f.Status == nil && f.Module == nil && f.Branch == nil && f.Started == nil && f.Completed == nil
}

// Fields extracts the node attributes of the patch.
func (p TaskPatch) Fields() TaskFields {
	return TaskFields{
		Description: p.Description,
		Status:      p.Status,
		Module:      p.Module,
		Branch:      p.Branch,
		Started:     p.Started,
		Completed:   p.Completed,
	}
}

// NewTask carries the attributes of a task at creation.
type NewTask struct {
	Number      int
	Description string
	Status      Status
	Module      string
	Branch      string
	Started     string
	Completed   string
}
