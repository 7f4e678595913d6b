package graph

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"taskgraph/internal/domain"
)

const findingSelect = `SELECT f.id, s.type, t.number, f.text, f.author, f.severity, f.file,
  f.line_start, f.line_end, f.status, f.response, f.resolved_at, f.decline_reason, f.declined_at, f.created_at
FROM findings f
JOIN sections s ON s.id = f.section_id
JOIN tasks t ON t.id = s.task_id`

func scanFinding(row scanner) (domain.Finding, error) {
	var (
		f                                                    domain.Finding
		typ, status                                          string
		severity, file, response, resolvedAt, reason, declAt sql.NullString
		lineStart, lineEnd                                   sql.NullInt64
	)
	err := row.Scan(&f.ID, &typ, &f.TaskNumber, &f.Text, &f.Author, &severity, &file,
		&lineStart, &lineEnd, &status, &response, &resolvedAt, &reason, &declAt, &f.CreatedAt)
	if err != nil {
		return f, err
	}
	f.ReviewType = domain.SectionType(typ)
	f.Status = domain.FindingStatus(status)
	f.Severity = severity.String
	f.File = stringPtr(file)
	f.LineStart = intPtr(lineStart)
	f.LineEnd = intPtr(lineEnd)
	f.Response = stringPtr(response)
	f.ResolvedAt = stringPtr(resolvedAt)
	f.DeclineReason = stringPtr(reason)
	f.DeclinedAt = stringPtr(declAt)
	f.Comments = []domain.Comment{}
	return f, nil
}

// CreateFinding attaches an open finding to an existing review section.
func (r Repo) CreateFinding(ctx context.Context, s Session, project string, number int, typ domain.SectionType, nf domain.NewFinding) (domain.Finding, error) {
	if !typ.IsReview() {
		return domain.Finding{}, domain.InvalidArgument("review_type", string(typ), "findings attach to review sections only")
	}
	if strings.TrimSpace(nf.Text) == "" {
		return domain.Finding{}, domain.Required("text")
	}
	if strings.TrimSpace(nf.Author) == "" {
		return domain.Finding{}, domain.Required("author")
	}
	if nf.LineStart != nil && *nf.LineStart < 1 {
		return domain.Finding{}, domain.InvalidArgument("line_start", strconv.Itoa(*nf.LineStart), "must be positive")
	}
	if nf.LineEnd != nil {
		if nf.LineStart == nil {
			return domain.Finding{}, domain.InvalidArgument("line_end", strconv.Itoa(*nf.LineEnd), "requires line_start")
		}
		if *nf.LineEnd < *nf.LineStart {
			return domain.Finding{}, domain.InvalidArgument("line_end", strconv.Itoa(*nf.LineEnd), "must not precede line_start")
		}
	}
	sec, err := r.GetSection(ctx, s, project, number, typ)
	if err != nil {
		return domain.Finding{}, err
	}
	if sec == nil {
		return domain.Finding{}, domain.NotFoundf("section %s of task %s/%d", typ, project, number)
	}
	id := uuid.NewString()
	_, err = s.ExecContext(ctx, `INSERT INTO findings(id,section_id,text,author,severity,file,line_start,line_end,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		id, sec.ID, nf.Text, nf.Author, nullable(nf.Severity), nullable(nf.File),
		nullableInt(nf.LineStart), nullableInt(nf.LineEnd), string(domain.FindingOpen), r.timestamp())
	if err != nil {
		return domain.Finding{}, storeErr("insert finding", err)
	}
	f, err := r.GetFinding(ctx, s, id)
	if err != nil {
		return domain.Finding{}, err
	}
	return *f, nil
}

// GetFinding returns nil when no finding has this id.
func (r Repo) GetFinding(ctx context.Context, s Session, id string) (*domain.Finding, error) {
	f, err := scanFinding(s.QueryRowContext(ctx, findingSelect+` WHERE f.id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get finding", err)
	}
	return &f, nil
}

// UpdateFindingStatus moves an open finding to resolved or declined. For
// resolved, note is the optional response; for declined it is the required
// reason. Terminal findings cannot change again.
func (r Repo) UpdateFindingStatus(ctx context.Context, s Session, id string, status domain.FindingStatus, note string) (domain.Finding, error) {
	f, err := r.GetFinding(ctx, s, id)
	if err != nil {
		return domain.Finding{}, err
	}
	if f == nil {
		return domain.Finding{}, domain.NotFoundf("finding %s", id)
	}
	if f.Status.Terminal() {
		return domain.Finding{}, domain.Conflictf("finding %s is already %s", id, f.Status)
	}
	now := r.timestamp()
	switch status {
	case domain.FindingResolved:
		_, err = s.ExecContext(ctx, `UPDATE findings SET status=?, response=?, resolved_at=? WHERE id=? AND status='open'`,
			string(status), nullable(note), now, id)
	case domain.FindingDeclined:
		if strings.TrimSpace(note) == "" {
			return domain.Finding{}, domain.Required("reason")
		}
		_, err = s.ExecContext(ctx, `UPDATE findings SET status=?, decline_reason=?, declined_at=? WHERE id=? AND status='open'`,
			string(status), note, now, id)
	default:
		return domain.Finding{}, domain.InvalidArgument("status", string(status), "must be resolved or declined")
	}
	if err != nil {
		return domain.Finding{}, storeErr("update finding", err)
	}
	updated, err := r.GetFinding(ctx, s, id)
	if err != nil {
		return domain.Finding{}, err
	}
	return *updated, nil
}

// ListFindings returns the findings of a task in creation order.
func (r Repo) ListFindings(ctx context.Context, s Session, project string, number int, filter domain.FindingFilter) ([]domain.Finding, error) {
	query := findingSelect + ` WHERE t.project_id=` + projectByName + ` AND t.number=?`
	args := []any{project, number}
	if filter.SectionType != "" {
		query += ` AND s.type=?`
		args = append(args, string(filter.SectionType))
	}
	if filter.Status != "" {
		query += ` AND f.status=?`
		args = append(args, string(filter.Status))
	}
	rows, err := s.QueryContext(ctx, query+` ORDER BY f.created_at, f.rowid`, args...)
	if err != nil {
		return nil, storeErr("list findings", err)
	}
	defer rows.Close()
	res := []domain.Finding{}
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, storeErr("scan finding", err)
		}
		res = append(res, f)
	}
	return res, storeErr("list findings", rows.Err())
}

// CountOpenFindings maps task numbers to their open finding count. Tasks
// without open findings are absent.
func (r Repo) CountOpenFindings(ctx context.Context, s Session, project string) (map[int]int, error) {
	rows, err := s.QueryContext(ctx, `SELECT t.number, COUNT(*) FROM findings f
JOIN sections s ON s.id = f.section_id
JOIN tasks t ON t.id = s.task_id
WHERE t.project_id=`+projectByName+` AND f.status='open'
GROUP BY t.number`, project)
	if err != nil {
		return nil, storeErr("count findings", err)
	}
	defer rows.Close()
	res := map[int]int{}
	for rows.Next() {
		var n, c int
		if err := rows.Scan(&n, &c); err != nil {
			return nil, storeErr("count findings", err)
		}
		res[n] = c
	}
	return res, storeErr("count findings", rows.Err())
}
