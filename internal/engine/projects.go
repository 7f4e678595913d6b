package engine

import (
	"context"
	"database/sql"

	"taskgraph/internal/domain"
	"taskgraph/internal/events"
)

// ProjectSummary is a project with its top-level tasks and status counts.
type ProjectSummary struct {
	Project domain.Project        `json:"project"`
	Tasks   []domain.Task         `json:"tasks"`
	Counts  map[domain.Status]int `json:"counts"`
}

// CreateProject creates name under parent. A zero parent means the engine's
// workspace, which is created if needed.
func (e Engine) CreateProject(ctx context.Context, parent domain.ParentRef, name, description, actor string) (domain.Project, error) {
	if parent.Kind == "" {
		parent = domain.ParentRef{Kind: domain.ParentWorkspace, Name: e.workspace()}
	}
	if _, err := domain.ParseParentKind(string(parent.Kind)); err != nil {
		return domain.Project{}, err
	}
	var out domain.Project
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		if parent.Kind == domain.ParentWorkspace {
			if _, err := e.repo().EnsureWorkspace(ctx, tx, parent.Name); err != nil {
				return err
			}
		}
		p, err := e.repo().CreateProject(ctx, tx, parent, name, description)
		if err != nil {
			return err
		}
		out = p
		return e.record(ctx, tx, "project.create", p.Name, "project", p.ID, actor,
			events.Payload{"parent_kind": parent.Kind, "parent": parent.Name})
	})
	return out, err
}

// ListProjects lists the direct children of parent; a zero parent lists the
// engine's workspace.
func (e Engine) ListProjects(ctx context.Context, parent domain.ParentRef) ([]domain.Project, error) {
	if parent.Kind == "" {
		parent = domain.ParentRef{Kind: domain.ParentWorkspace, Name: e.workspace()}
		w, err := e.repo().GetWorkspace(ctx, e.DB, parent.Name)
		if err != nil || w == nil {
			return []domain.Project{}, err
		}
	}
	res, err := e.repo().ListProjects(ctx, e.DB, parent)
	if res == nil && err == nil {
		res = []domain.Project{}
	}
	return res, err
}

// ProjectSummary returns nil when no project has this name.
func (e Engine) ProjectSummary(ctx context.Context, name string) (*ProjectSummary, error) {
	p, err := e.repo().GetProjectByName(ctx, e.DB, name)
	if err != nil || p == nil {
		return nil, err
	}
	tasks, err := e.repo().ListTasks(ctx, e.DB, name)
	if err != nil {
		return nil, err
	}
	counts, err := e.repo().CountTasksByStatus(ctx, e.DB, name)
	if err != nil {
		return nil, err
	}
	return &ProjectSummary{Project: *p, Tasks: tasks, Counts: counts}, nil
}

// RenameProject renames the project and moves its attachments to the new
// prefix, returning the number of objects moved.
func (e Engine) RenameProject(ctx context.Context, oldName, newName, actor string) (domain.Project, int, error) {
	var out domain.Project
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		p, err := e.repo().RenameProject(ctx, tx, oldName, newName)
		if err != nil {
			return err
		}
		out = p
		return e.record(ctx, tx, "project.rename", p.Name, "project", p.ID, actor, events.Payload{"from": oldName, "to": newName})
	})
	if err != nil {
		return domain.Project{}, 0, err
	}
	moved, err := e.Store.MigratePrefix(ctx, oldName, newName)
	if err != nil {
		e.log().Error("attachment migration failed", "from", oldName, "to", newName, "moved", moved, "err", err)
		return out, moved, identifierErr(err)
	}
	e.log().Info("project renamed", "from", oldName, "to", newName, "attachments", moved)
	return out, moved, nil
}

func (e Engine) DescribeProject(ctx context.Context, name, description, actor string) (domain.Project, error) {
	var out domain.Project
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		p, err := e.repo().SetProjectDescription(ctx, tx, name, description)
		if err != nil {
			return err
		}
		out = p
		return e.record(ctx, tx, "project.describe", name, "project", p.ID, actor, nil)
	})
	return out, err
}

// DeleteProject removes an empty project; see graph.Repo.DeleteProject.
func (e Engine) DeleteProject(ctx context.Context, name, actor string) (bool, error) {
	var ok bool
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		var err error
		if ok, err = e.repo().DeleteProject(ctx, tx, name); err != nil || !ok {
			return err
		}
		return e.record(ctx, tx, "project.delete", name, "project", "", actor, nil)
	})
	return ok, err
}
