package domain

import (
	"strings"
	"time"
)

// StampLayout formats the started/completed stamps set on status changes.
const StampLayout = "2006-01-02 15:04"

// Stamp formats t as a UTC status stamp.
func Stamp(t time.Time) string { return t.UTC().Format(StampLayout) }

// Timestamp formats t as RFC 3339 UTC, used for created_at/updated_at.
func Timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

type Status string

const (
	StatusTodo Status = "todo"
	StatusWork Status = "work"
	StatusDone Status = "done"
	StatusHold Status = "hold"
)

var Statuses = []Status{StatusTodo, StatusWork, StatusDone, StatusHold}

// ParseStatus accepts exactly the members of Statuses.
func ParseStatus(v string) (Status, error) {
	for _, s := range Statuses {
		if string(s) == v {
			return s, nil
		}
	}
	return "", InvalidArgument("status", v, "must be one of "+joinStatuses())
}

func joinStatuses() string {
	names := make([]string, len(Statuses))
	for i, s := range Statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

type FindingStatus string

const (
	FindingOpen     FindingStatus = "open"
	FindingResolved FindingStatus = "resolved"
	FindingDeclined FindingStatus = "declined"
)

func ParseFindingStatus(v string) (FindingStatus, error) {
	switch FindingStatus(v) {
	case FindingOpen, FindingResolved, FindingDeclined:
		return FindingStatus(v), nil
	}
	return "", InvalidArgument("status", v, "must be one of open, resolved, declined")
}

// Terminal reports whether no further transition is allowed.
func (s FindingStatus) Terminal() bool {
	return s == FindingResolved || s == FindingDeclined
}

// RunStatus is shared by workflow runs and workflow steps.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

func ParseRunStatus(v string) (RunStatus, error) {
	switch RunStatus(v) {
	case RunPending, RunRunning, RunCompleted, RunFailed:
		return RunStatus(v), nil
	}
	return "", InvalidArgument("status", v, "must be one of pending, running, completed, failed")
}

func (s RunStatus) Terminal() bool { return s == RunCompleted || s == RunFailed }

// CanMoveTo reports whether the run state machine allows s -> next.
func (s RunStatus) CanMoveTo(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunRunning || next == RunCompleted || next == RunFailed
	case RunRunning:
		return next == RunCompleted || next == RunFailed
	}
	return false
}

type SectionType string

// Content sections hold free-form task text.
const (
	SectionBody   SectionType = "body"
	SectionPlan   SectionType = "plan"
	SectionReport SectionType = "report"
	SectionReview SectionType = "review"
	SectionBlocks SectionType = "blocks"
)

// Review sections collect findings.
const (
	ReviewCode          SectionType = "code-review"
	ReviewSecurity      SectionType = "security"
	ReviewTesting       SectionType = "testing"
	ReviewPerformance   SectionType = "performance"
	ReviewDocumentation SectionType = "documentation"
	ReviewArchitecture  SectionType = "architecture"
)

var ContentSections = []SectionType{SectionBody, SectionPlan, SectionReport, SectionReview, SectionBlocks}

var ReviewTypes = []SectionType{ReviewCode, ReviewSecurity, ReviewTesting, ReviewPerformance, ReviewDocumentation, ReviewArchitecture}

func ParseSectionType(v string) (SectionType, error) {
	for _, s := range ContentSections {
		if string(s) == v {
			return s, nil
		}
	}
	return ParseReviewType(v)
}

func ParseReviewType(v string) (SectionType, error) {
	for _, s := range ReviewTypes {
		if string(s) == v {
			return s, nil
		}
	}
	return "", InvalidArgument("section_type", v, "unknown section type")
}

// IsReview reports whether findings may be attached to sections of this type.
func (t SectionType) IsReview() bool {
	for _, s := range ReviewTypes {
		if s == t {
			return true
		}
	}
	return false
}

type ParentKind string

const (
	ParentWorkspace ParentKind = "workspace"
	ParentProject   ParentKind = "project"
)

func ParseParentKind(v string) (ParentKind, error) {
	switch ParentKind(v) {
	case ParentWorkspace, ParentProject:
		return ParentKind(v), nil
	}
	return "", InvalidArgument("parent_kind", v, "must be workspace or project")
}
