package graph

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"taskgraph/internal/domain"
)

const projectSelect = `SELECT p.id, p.name, p.description, w.name, p.parent_kind,
  CASE p.parent_kind WHEN 'workspace' THEN w.name ELSE COALESCE(pp.name,'') END,
  p.created_at
FROM projects p
JOIN workspaces w ON w.id = p.workspace_id
LEFT JOIN projects pp ON p.parent_kind = 'project' AND pp.id = p.parent_id`

// projectByName resolves a project name to an id; the first project created
// under that name wins when nested projects share it.
const projectByName = `(SELECT id FROM projects WHERE name=? ORDER BY rowid LIMIT 1)`

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var kind string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Workspace, &kind, &p.ParentName, &p.CreatedAt)
	p.ParentKind = domain.ParentKind(kind)
	return p, err
}

func (r Repo) queryProject(ctx context.Context, s Session, where string, args ...any) (*domain.Project, error) {
	p, err := scanProject(s.QueryRowContext(ctx, projectSelect+` WHERE `+where, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get project", err)
	}
	return &p, nil
}

// CreateProject creates name under parent. Names are unique per parent.
func (r Repo) CreateProject(ctx context.Context, s Session, parent domain.ParentRef, name, description string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, domain.Required("name")
	}
	parentID, workspaceID, err := r.resolveParent(ctx, s, parent)
	if err != nil {
		return domain.Project{}, err
	}
	var exists int
	err = s.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE parent_kind=? AND parent_id=? AND name=?`,
		string(parent.Kind), parentID, name).Scan(&exists)
	if err == nil {
		return domain.Project{}, domain.Conflictf("project %q already exists in %s %q", name, parent.Kind, parent.Name)
	}
	if err != sql.ErrNoRows {
		return domain.Project{}, storeErr("check project", err)
	}
	id := uuid.NewString()
	_, err = s.ExecContext(ctx, `INSERT INTO projects(id,workspace_id,parent_kind,parent_id,name,description,created_at) VALUES (?,?,?,?,?,?,?)`,
		id, workspaceID, string(parent.Kind), parentID, name, description, r.timestamp())
	if err != nil {
		return domain.Project{}, storeErr("insert project", err)
	}
	p, err := r.queryProject(ctx, s, `p.id=?`, id)
	if err != nil {
		return domain.Project{}, err
	}
	return *p, nil
}

func (r Repo) resolveParent(ctx context.Context, s Session, parent domain.ParentRef) (parentID, workspaceID string, err error) {
	switch parent.Kind {
	case domain.ParentWorkspace:
		w, err := r.GetWorkspace(ctx, s, parent.Name)
		if err != nil {
			return "", "", err
		}
		if w == nil {
			return "", "", domain.NotFoundf("workspace %q", parent.Name)
		}
		return w.ID, w.ID, nil
	case domain.ParentProject:
		var pid, wid string
		err := s.QueryRowContext(ctx, `SELECT id, workspace_id FROM projects WHERE id=`+projectByName, parent.Name).Scan(&pid, &wid)
		if err == sql.ErrNoRows {
			return "", "", domain.NotFoundf("project %q", parent.Name)
		}
		if err != nil {
			return "", "", storeErr("resolve parent", err)
		}
		return pid, wid, nil
	}
	return "", "", domain.InvalidArgument("parent_kind", string(parent.Kind), "must be workspace or project")
}

// GetProject returns a direct child of the workspace, or nil.
func (r Repo) GetProject(ctx context.Context, s Session, workspace, name string) (*domain.Project, error) {
	return r.queryProject(ctx, s, `p.parent_kind='workspace' AND w.name=? AND p.name=?`, workspace, name)
}

// GetProjectByName searches every nesting level and returns the first match, or nil.
func (r Repo) GetProjectByName(ctx context.Context, s Session, name string) (*domain.Project, error) {
	return r.queryProject(ctx, s, `p.id=`+projectByName, name)
}

func (r Repo) projectID(ctx context.Context, s Session, name string) (string, error) {
	var id string
	err := s.QueryRowContext(ctx, `SELECT id FROM projects WHERE name=? ORDER BY rowid LIMIT 1`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return "", domain.NotFoundf("project %q", name)
	}
	if err != nil {
		return "", storeErr("resolve project", err)
	}
	return id, nil
}

// ListProjects returns the direct children of parent ordered by name.
func (r Repo) ListProjects(ctx context.Context, s Session, parent domain.ParentRef) ([]domain.Project, error) {
	parentID, _, err := r.resolveParent(ctx, s, parent)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, projectSelect+` WHERE p.parent_kind=? AND p.parent_id=? ORDER BY p.name`, string(parent.Kind), parentID)
	if err != nil {
		return nil, storeErr("list projects", err)
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, storeErr("scan project", err)
		}
		res = append(res, p)
	}
	return res, storeErr("list projects", rows.Err())
}

// RenameProject renames the project found by GetProjectByName(oldName).
func (r Repo) RenameProject(ctx context.Context, s Session, oldName, newName string) (domain.Project, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return domain.Project{}, domain.Required("new_name")
	}
	var id, kind, parentID string
	err := s.QueryRowContext(ctx, `SELECT id, parent_kind, parent_id FROM projects WHERE id=`+projectByName, oldName).Scan(&id, &kind, &parentID)
	if err == sql.ErrNoRows {
		return domain.Project{}, domain.NotFoundf("project %q", oldName)
	}
	if err != nil {
		return domain.Project{}, storeErr("rename project", err)
	}
	if newName != oldName {
		var taken int
		err = s.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE parent_kind=? AND parent_id=? AND name=?`, kind, parentID, newName).Scan(&taken)
		if err == nil {
			return domain.Project{}, domain.Conflictf("project %q already exists", newName)
		}
		if err != sql.ErrNoRows {
			return domain.Project{}, storeErr("rename project", err)
		}
		if _, err := s.ExecContext(ctx, `UPDATE projects SET name=? WHERE id=?`, newName, id); err != nil {
			return domain.Project{}, storeErr("rename project", err)
		}
	}
	p, err := r.queryProject(ctx, s, `p.id=?`, id)
	if err != nil {
		return domain.Project{}, err
	}
	return *p, nil
}

// SetProjectDescription overwrites the description; "" clears it.
func (r Repo) SetProjectDescription(ctx context.Context, s Session, name, description string) (domain.Project, error) {
	id, err := r.projectID(ctx, s, name)
	if err != nil {
		return domain.Project{}, err
	}
	if _, err := s.ExecContext(ctx, `UPDATE projects SET description=? WHERE id=?`, description, id); err != nil {
		return domain.Project{}, storeErr("update project", err)
	}
	p, err := r.queryProject(ctx, s, `p.id=?`, id)
	if err != nil {
		return domain.Project{}, err
	}
	return *p, nil
}

// DeleteProject removes an empty project. Projects that still own tasks or
// nested projects are refused with ErrConflict; nothing cascades.
func (r Repo) DeleteProject(ctx context.Context, s Session, name string) (bool, error) {
	id, err := r.projectID(ctx, s, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	var tasks, children int
	if err := s.QueryRowContext(ctx, `SELECT
  (SELECT COUNT(*) FROM tasks WHERE project_id=?),
  (SELECT COUNT(*) FROM projects WHERE parent_kind='project' AND parent_id=?)`, id, id).Scan(&tasks, &children); err != nil {
		return false, storeErr("delete project", err)
	}
	if tasks > 0 || children > 0 {
		return false, domain.Conflictf("project %q still has %d tasks and %d nested projects", name, tasks, children)
	}
	if _, err := s.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id); err != nil {
		return false, storeErr("delete project", err)
	}
	return true, nil
}
