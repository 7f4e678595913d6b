package graph

import (
	"context"
	"strings"

	"taskgraph/internal/domain"
)

// SearchFilter narrows SearchTasks; zero values match everything.
type SearchFilter struct {
	Status domain.Status
	Module string
}

const keywordMatch = `(t.rowid IN (SELECT rowid FROM tasks_fts WHERE tasks_fts MATCH ?)
  OR t.id IN (SELECT task_id FROM sections WHERE rowid IN (SELECT rowid FROM sections_fts WHERE sections_fts MATCH ?))
  OR t.id IN (SELECT s.task_id FROM findings f JOIN sections s ON s.id = f.section_id
              WHERE f.rowid IN (SELECT rowid FROM findings_fts WHERE findings_fts MATCH ?)))`

// SearchTasks returns tasks of the project, subtasks included, in which every
// keyword appears in the task fields, a section or a finding.
func (r Repo) SearchTasks(ctx context.Context, s Session, project string, keywords []string, filter SearchFilter) ([]domain.Task, error) {
	query := taskSelect + ` WHERE t.project_id=` + projectByName
	args := []any{project}
	for _, kw := range keywords {
		term := ftsTerm(kw)
		if term == "" {
			continue
		}
		query += ` AND ` + keywordMatch
		args = append(args, term, term, term)
	}
	if filter.Status != "" {
		query += ` AND t.status=?`
		args = append(args, string(filter.Status))
	}
	if filter.Module != "" {
		query += ` AND t.module=?`
		args = append(args, filter.Module)
	}
	return r.queryTasks(ctx, s, query+` ORDER BY t.number`, args...)
}

// ftsTerm quotes a keyword so FTS5 operators in user input are matched
// literally; the trailing star keeps prefix matching.
func ftsTerm(kw string) string {
	kw = strings.ReplaceAll(strings.TrimSpace(kw), `"`, "")
	if kw == "" {
		return ""
	}
	return `"` + kw + `"*`
}
