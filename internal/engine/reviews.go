package engine

import (
	"context"
	"database/sql"
	"sort"

	"taskgraph/internal/domain"
	"taskgraph/internal/events"
)

// AddReviewFinding opens a finding in the review section of the given type,
// creating the section on first use.
func (e Engine) AddReviewFinding(ctx context.Context, project string, number int, reviewType string, nf domain.NewFinding) (domain.Finding, error) {
	typ, err := domain.ParseReviewType(reviewType)
	if err != nil {
		return domain.Finding{}, err
	}
	var out domain.Finding
	err = e.inTx(ctx, true, func(tx *sql.Tx) error {
		sec, err := e.repo().GetSection(ctx, tx, project, number, typ)
		if err != nil {
			return err
		}
		if sec == nil {
			if _, err := e.repo().CreateSection(ctx, tx, project, number, typ, ""); err != nil {
				return err
			}
		}
		if out, err = e.repo().CreateFinding(ctx, tx, project, number, typ, nf); err != nil {
			return err
		}
		return e.record(ctx, tx, "finding.create", project, "finding", out.ID, nf.Author,
			events.Payload{"number": number, "review_type": typ})
	})
	return out, err
}

// ListReviewFindings returns the findings of a task with their comment
// threads. reviewType and status may be empty.
func (e Engine) ListReviewFindings(ctx context.Context, project string, number int, reviewType, status string) ([]domain.Finding, error) {
	var filter domain.FindingFilter
	if reviewType != "" {
		typ, err := domain.ParseReviewType(reviewType)
		if err != nil {
			return nil, err
		}
		filter.SectionType = typ
	}
	if status != "" {
		st, err := domain.ParseFindingStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = st
	}
	t, err := e.repo().GetTask(ctx, e.DB, project, number)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.NotFoundf("task %s/%d", project, number)
	}
	findings, err := e.repo().ListFindings(ctx, e.DB, project, number, filter)
	if err != nil {
		return nil, err
	}
	for i := range findings {
		if findings[i].Comments, err = e.repo().ListComments(ctx, e.DB, findings[i].ID); err != nil {
			return nil, err
		}
	}
	return findings, nil
}

// ReplyToFinding adds a top-level comment to a finding.
func (e Engine) ReplyToFinding(ctx context.Context, findingID, text, author string) (domain.Comment, error) {
	var out domain.Comment
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		var err error
		if out, err = e.repo().CreateComment(ctx, tx, findingID, text, author); err != nil {
			return err
		}
		return e.record(ctx, tx, "comment.create", "", "comment", out.ID, author, events.Payload{"finding": findingID})
	})
	return out, err
}

func (e Engine) ReplyToComment(ctx context.Context, commentID, text, author string) (domain.Comment, error) {
	var out domain.Comment
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		var err error
		if out, err = e.repo().ReplyToComment(ctx, tx, commentID, text, author); err != nil {
			return err
		}
		return e.record(ctx, tx, "comment.create", "", "comment", out.ID, author, events.Payload{"parent": commentID})
	})
	return out, err
}

// ResolveFinding marks an open finding resolved with an optional response.
func (e Engine) ResolveFinding(ctx context.Context, findingID, response, actor string) (domain.Finding, error) {
	return e.closeFinding(ctx, findingID, domain.FindingResolved, response, actor)
}

// DeclineFinding marks an open finding declined; reason is required.
func (e Engine) DeclineFinding(ctx context.Context, findingID, reason, actor string) (domain.Finding, error) {
	return e.closeFinding(ctx, findingID, domain.FindingDeclined, reason, actor)
}

func (e Engine) closeFinding(ctx context.Context, id string, status domain.FindingStatus, note, actor string) (domain.Finding, error) {
	var out domain.Finding
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		var err error
		if out, err = e.repo().UpdateFindingStatus(ctx, tx, id, status, note); err != nil {
			return err
		}
		typ := "finding.resolve"
		if status == domain.FindingDeclined {
			typ = "finding.decline"
		}
		return e.record(ctx, tx, typ, "", "finding", id, actor, events.Payload{"task_number": out.TaskNumber})
	})
	return out, err
}

// TaskReviews groups the findings of a task by review type. It returns nil
// when the task does not exist.
func (e Engine) TaskReviews(ctx context.Context, project string, number int) (*domain.TaskReviews, error) {
	t, err := e.repo().GetTask(ctx, e.DB, project, number)
	if err != nil || t == nil {
		return nil, err
	}
	findings, err := e.ListReviewFindings(ctx, project, number, "", "")
	if err != nil {
		return nil, err
	}
	res := &domain.TaskReviews{
		ReviewTypes: []string{},
		Findings:    map[string][]domain.Finding{},
		Summary:     map[string]domain.ReviewSummary{},
	}
	for _, f := range findings {
		typ := string(f.ReviewType)
		if _, seen := res.Findings[typ]; !seen {
			res.ReviewTypes = append(res.ReviewTypes, typ)
		}
		if f.Comments == nil {
			f.Comments = []domain.Comment{}
		}
		res.Findings[typ] = append(res.Findings[typ], f)
		sum := res.Summary[typ]
		switch f.Status {
		case domain.FindingOpen:
			sum.Open++
		case domain.FindingResolved:
			sum.Resolved++
		case domain.FindingDeclined:
			sum.Declined++
		}
		res.Summary[typ] = sum
	}
	sort.Strings(res.ReviewTypes)
	return res, nil
}

// ReviewCounts maps task numbers to open finding counts; tasks without open
// findings are omitted.
func (e Engine) ReviewCounts(ctx context.Context, project string) (map[int]int, error) {
	return e.repo().CountOpenFindings(ctx, e.DB, project)
}
