package graph

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"taskgraph/internal/domain"
)

const workspaceSelect = `SELECT id,name,description,created_at FROM workspaces`

func scanWorkspace(row scanner) (domain.Workspace, error) {
	var w domain.Workspace
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.CreatedAt)
	return w, err
}

func (r Repo) CreateWorkspace(ctx context.Context, s Session, name, description string) (domain.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Workspace{}, domain.Required("name")
	}
	w := domain.Workspace{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   r.timestamp(),
	}
	_, err := s.ExecContext(ctx, `INSERT INTO workspaces(id,name,description,created_at) VALUES (?,?,?,?)`,
		w.ID, w.Name, w.Description, w.CreatedAt)
	if err != nil {
		return domain.Workspace{}, storeErr("insert workspace", err)
	}
	return w, nil
}

// GetWorkspace returns nil when no workspace has this name.
func (r Repo) GetWorkspace(ctx context.Context, s Session, name string) (*domain.Workspace, error) {
	w, err := scanWorkspace(s.QueryRowContext(ctx, workspaceSelect+` WHERE name=?`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get workspace", err)
	}
	return &w, nil
}

func (r Repo) ListWorkspaces(ctx context.Context, s Session) ([]domain.Workspace, error) {
	rows, err := s.QueryContext(ctx, workspaceSelect+` ORDER BY name`)
	if err != nil {
		return nil, storeErr("list workspaces", err)
	}
	defer rows.Close()
	var res []domain.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, storeErr("scan workspace", err)
		}
		res = append(res, w)
	}
	return res, storeErr("list workspaces", rows.Err())
}

// EnsureWorkspace returns the named workspace, creating it on first reference.
func (r Repo) EnsureWorkspace(ctx context.Context, s Session, name string) (domain.Workspace, error) {
	w, err := r.GetWorkspace(ctx, s, name)
	if err != nil {
		return domain.Workspace{}, err
	}
	if w != nil {
		return *w, nil
	}
	return r.CreateWorkspace(ctx, s, name, "")
}
