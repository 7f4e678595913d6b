package graph

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"taskgraph/internal/domain"
)

const sectionSelect = `SELECT id, task_id, type, content, created_at, updated_at FROM sections`

func scanSection(row scanner) (domain.Section, error) {
	var sec domain.Section
	var typ string
	err := row.Scan(&sec.ID, &sec.TaskID, &typ, &sec.Content, &sec.CreatedAt, &sec.UpdatedAt)
	sec.Type = domain.SectionType(typ)
	return sec, err
}

func (r Repo) CreateSection(ctx context.Context, s Session, project string, number int, typ domain.SectionType, content string) (domain.Section, error) {
	if _, err := domain.ParseSectionType(string(typ)); err != nil {
		return domain.Section{}, err
	}
	taskID, err := r.taskID(ctx, s, project, number)
	if err != nil {
		return domain.Section{}, err
	}
	now := r.timestamp()
	sec := domain.Section{ID: uuid.NewString(), TaskID: taskID, Type: typ, Content: content, CreatedAt: now, UpdatedAt: now}
	_, err = s.ExecContext(ctx, `INSERT INTO sections(id,task_id,type,content,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		sec.ID, sec.TaskID, string(sec.Type), sec.Content, now, now)
	if isUniqueViolation(err) {
		return domain.Section{}, domain.Conflictf("section %s of task %s/%d already exists", typ, project, number)
	}
	if err != nil {
		return domain.Section{}, storeErr("insert section", err)
	}
	return sec, nil
}

// GetSection returns nil when the task has no section of this type.
func (r Repo) GetSection(ctx context.Context, s Session, project string, number int, typ domain.SectionType) (*domain.Section, error) {
	sec, err := scanSection(s.QueryRowContext(ctx, sectionSelect+`
WHERE type=? AND task_id=(SELECT id FROM tasks WHERE project_id=`+projectByName+` AND number=?)`, string(typ), project, number))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get section", err)
	}
	return &sec, nil
}

// UpdateSection overwrites the content of an existing section. Empty content
// is stored as such.
func (r Repo) UpdateSection(ctx context.Context, s Session, project string, number int, typ domain.SectionType, content string) (domain.Section, error) {
	sec, err := r.GetSection(ctx, s, project, number, typ)
	if err != nil {
		return domain.Section{}, err
	}
	if sec == nil {
		return domain.Section{}, domain.NotFoundf("section %s of task %s/%d", typ, project, number)
	}
	sec.Content = content
	sec.UpdatedAt = r.timestamp()
	if _, err := s.ExecContext(ctx, `UPDATE sections SET content=?, updated_at=? WHERE id=?`, content, sec.UpdatedAt, sec.ID); err != nil {
		return domain.Section{}, storeErr("update section", err)
	}
	return *sec, nil
}

// UpsertSection updates the section when present and creates it otherwise.
func (r Repo) UpsertSection(ctx context.Context, s Session, project string, number int, typ domain.SectionType, content string) (domain.Section, error) {
	sec, err := r.GetSection(ctx, s, project, number, typ)
	if err != nil {
		return domain.Section{}, err
	}
	if sec == nil {
		return r.CreateSection(ctx, s, project, number, typ, content)
	}
	return r.UpdateSection(ctx, s, project, number, typ, content)
}

// DeleteSection removes the section with its findings and their comment
// threads. It reports whether a section existed.
func (r Repo) DeleteSection(ctx context.Context, s Session, project string, number int, typ domain.SectionType) (bool, error) {
	sec, err := r.GetSection(ctx, s, project, number, typ)
	if err != nil || sec == nil {
		return false, err
	}
	queries := []string{
		`WITH RECURSIVE thread(id) AS (
  SELECT id FROM comments WHERE finding_id IN (SELECT id FROM findings WHERE section_id=?)
  UNION SELECT c.id FROM comments c JOIN thread ON c.parent_id = thread.id
) DELETE FROM comments WHERE id IN (SELECT id FROM thread)`,
		`DELETE FROM findings WHERE section_id=?`,
		`DELETE FROM sections WHERE id=?`,
	}
	for _, q := range queries {
		if _, err := s.ExecContext(ctx, q, sec.ID); err != nil {
			return false, storeErr("delete section", err)
		}
	}
	return true, nil
}

// ListSections returns every section of the task ordered by creation.
func (r Repo) ListSections(ctx context.Context, s Session, project string, number int) ([]domain.Section, error) {
	rows, err := s.QueryContext(ctx, sectionSelect+`
WHERE task_id=(SELECT id FROM tasks WHERE project_id=`+projectByName+` AND number=?)
ORDER BY created_at, rowid`, project, number)
	if err != nil {
		return nil, storeErr("list sections", err)
	}
	defer rows.Close()
	res := []domain.Section{}
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, storeErr("scan section", err)
		}
		res = append(res, sec)
	}
	return res, storeErr("list sections", rows.Err())
}
