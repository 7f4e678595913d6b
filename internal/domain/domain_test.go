package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses {
		got, err := ParseStatus(string(s))
		if err != nil || got != s {
			t.Fatalf("ParseStatus(%q) = %q, %v", s, got, err)
		}
	}
	_, err := ParseStatus("approved")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != "status" || fe.Value != "approved" {
		t.Fatalf("field error = %+v", fe)
	}
}

func TestRunStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to RunStatus
		ok       bool
	}{
		{RunPending, RunRunning, true},
		{RunPending, RunFailed, true},
		{RunRunning, RunCompleted, true},
		{RunRunning, RunPending, false},
		{RunCompleted, RunRunning, false},
		{RunFailed, RunCompleted, false},
	}
	for _, c := range cases {
		if got := c.from.CanMoveTo(c.to); got != c.ok {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
	if !FindingDeclined.Terminal() || FindingOpen.Terminal() {
		t.Fatalf("finding terminal states are wrong")
	}
}

func TestSectionTypes(t *testing.T) {
	if _, err := ParseSectionType("plan"); err != nil {
		t.Fatalf("plan: %v", err)
	}
	st, err := ParseSectionType("security")
	if err != nil || !st.IsReview() {
		t.Fatalf("security = %q, %v", st, err)
	}
	if SectionBody.IsReview() {
		t.Fatalf("body must not accept findings")
	}
	if _, err := ParseReviewType("plan"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("plan is not a review type, got %v", err)
	}
}

func TestTaskPatch(t *testing.T) {
	var p TaskPatch
	if !p.Empty() || p.HasSections() {
		t.Fatalf("zero patch must be empty")
	}
	empty, plan := "", "step 1"
	p.Blocks = &empty
	p.Plan = &plan
	if p.Empty() || !p.HasSections() {
		t.Fatalf("patch with sections reported empty")
	}
	if !p.Fields().Empty() {
		t.Fatalf("section-only patch has node fields")
	}
	got := p.Sections()
	if len(got) != 2 || got[0].Type != SectionPlan || got[1].Type != SectionBlocks || got[1].Content != "" {
		t.Fatalf("sections = %+v", got)
	}

	deps := []int{}
	if (TaskPatch{DependsOn: &deps}).Empty() {
		t.Fatalf("clearing dependencies is a change")
	}
}

func TestStampsAreUTC(t *testing.T) {
	loc := time.FixedZone("x", 2*3600)
	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, loc)
	if got := Stamp(ts); got != "2024-05-01 08:30" {
		t.Fatalf("Stamp = %q", got)
	}
	if got := Timestamp(ts); got != "2024-05-01T08:30:00Z" {
		t.Fatalf("Timestamp = %q", got)
	}
}

func TestErrorWrapping(t *testing.T) {
	if err := NotFoundf("task %s/%d", "p", 3); !errors.Is(err, ErrNotFound) || err.Error() != "task p/3: not found" {
		t.Fatalf("NotFoundf = %v", err)
	}
	err := Unavailable("query", errors.New("database is locked"))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Unavailable = %v", err)
	}
	if Required("project").Error() != "invalid project: is required" {
		t.Fatalf("Required = %v", Required("project"))
	}
}
