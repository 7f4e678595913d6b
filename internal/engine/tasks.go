package engine

import (
	"context"
	"database/sql"
	"strings"

	"taskgraph/internal/domain"
	"taskgraph/internal/events"
	"taskgraph/internal/graph"
	"taskgraph/internal/sanitize"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Project     string
	Number      int
	Description string
	Status      string
	Module      string
	Branch      string
	Started     string
	Completed   string
	Body        string
	Plan        string
	DependsOn   []int
	Actor       string
}

func (o TaskCreateOptions) newTask() (domain.NewTask, error) {
	nt := domain.NewTask{
		Number:      o.Number,
		Description: strings.TrimSpace(o.Description),
		Module:      o.Module,
		Branch:      o.Branch,
		Started:     o.Started,
		Completed:   o.Completed,
	}
	if nt.Description == "" {
		return nt, domain.Required("description")
	}
	if o.Status != "" {
		st, err := domain.ParseStatus(o.Status)
		if err != nil {
			return nt, err
		}
		nt.Status = st
	}
	return nt, nil
}

// ensureProject returns the project, creating it (and the workspace) under
// the engine's workspace on first reference.
func (e Engine) ensureProject(ctx context.Context, tx *sql.Tx, name, actor string) error {
	p, err := e.repo().GetProjectByName(ctx, tx, name)
	if err != nil || p != nil {
		return err
	}
	if _, err := e.repo().EnsureWorkspace(ctx, tx, e.workspace()); err != nil {
		return err
	}
	created, err := e.repo().CreateProject(ctx, tx, domain.ParentRef{Kind: domain.ParentWorkspace, Name: e.workspace()}, name, "")
	if err != nil {
		return err
	}
	return e.record(ctx, tx, "project.create", name, "project", created.ID, actor, events.Payload{"workspace": e.workspace(), "implicit": true})
}

// CreateTask creates a task with the next free number of the project. The
// project is created on first use. Non-empty body and plan become sections.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	return e.createTask(ctx, opts, nil)
}

// CreateSubtask creates a child of parent in the same project.
func (e Engine) CreateSubtask(ctx context.Context, parent int, opts TaskCreateOptions) (domain.Task, error) {
	if err := requireNumber(parent); err != nil {
		return domain.Task{}, err
	}
	return e.createTask(ctx, opts, &parent)
}

func (e Engine) createTask(ctx context.Context, opts TaskCreateOptions, parent *int) (domain.Task, error) {
	if err := requireProject(opts.Project); err != nil {
		return domain.Task{}, err
	}
	nt, err := opts.newTask()
	if err != nil {
		return domain.Task{}, err
	}
	var out domain.Task
	err = e.inTx(ctx, opts.Number == 0, func(tx *sql.Tx) error {
		if err := e.ensureProject(ctx, tx, opts.Project, opts.Actor); err != nil {
			return err
		}
		var t domain.Task
		var err error
		if parent != nil {
			t, err = e.repo().CreateSubtask(ctx, tx, opts.Project, *parent, nt)
		} else {
			t, err = e.repo().CreateTask(ctx, tx, opts.Project, nt)
		}
		if err != nil {
			return err
		}
		for _, sec := range []domain.SectionUpdate{{Type: domain.SectionBody, Content: opts.Body}, {Type: domain.SectionPlan, Content: opts.Plan}} {
			if sec.Content == "" {
				continue
			}
			if _, err := e.repo().CreateSection(ctx, tx, opts.Project, t.Number, sec.Type, sec.Content); err != nil {
				return err
			}
		}
		if len(opts.DependsOn) > 0 {
			if err := e.repo().SyncDependencies(ctx, tx, opts.Project, t.Number, opts.DependsOn); err != nil {
				return err
			}
		}
		payload := events.Payload{"number": t.Number, "status": t.Status}
		if parent != nil {
			payload["parent"] = *parent
		}
		if err := e.record(ctx, tx, "task.create", opts.Project, "task", t.ID, opts.Actor, payload); err != nil {
			return err
		}
		full, err := e.repo().GetTaskFull(ctx, tx, opts.Project, t.Number)
		if err != nil {
			return err
		}
		out = *full
		return nil
	})
	return out, err
}

// GetTask returns the task with sections and dependencies, or nil.
func (e Engine) GetTask(ctx context.Context, project string, number int) (*domain.Task, error) {
	return e.repo().GetTaskFull(ctx, e.DB, project, number)
}

// ListTasks returns top-level task summaries without section content.
func (e Engine) ListTasks(ctx context.Context, project string) ([]domain.Task, error) {
	return e.repo().ListTasks(ctx, e.DB, project)
}

// ListSubtasks returns the children of parent in number order.
func (e Engine) ListSubtasks(ctx context.Context, project string, parent int) ([]domain.Task, error) {
	return e.repo().ListSubtasks(ctx, e.DB, project, parent)
}

// UpdateTask applies patch. Moving to work stamps started unless a value
// already exists; moving to done stamps completed unless the task was already
// done or completed. Explicit started or completed values in the patch win
// over the stamps.
func (e Engine) UpdateTask(ctx context.Context, project string, number int, patch domain.TaskPatch, actor string) (domain.Task, error) {
	if patch.Status != nil {
		if _, err := domain.ParseStatus(string(*patch.Status)); err != nil {
			return domain.Task{}, err
		}
	}
	if patch.Description != nil && strings.TrimSpace(*patch.Description) == "" {
		return domain.Task{}, domain.Required("description")
	}
	var out domain.Task
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		cur, err := e.repo().GetTask(ctx, tx, project, number)
		if err != nil {
			return err
		}
		if cur == nil {
			return domain.NotFoundf("task %s/%d", project, number)
		}
		fields := patch.Fields()
		if patch.Status != nil {
			stamp := domain.Stamp(e.now())
			switch *patch.Status {
			case domain.StatusWork:
				if fields.Started == nil && cur.Started == "" {
					fields.Started = &stamp
				}
			case domain.StatusDone:
				if fields.Completed == nil && cur.Status != domain.StatusDone && cur.Completed == "" {
					fields.Completed = &stamp
				}
			}
		}
		if _, err := e.repo().UpdateTask(ctx, tx, project, number, fields); err != nil {
			return err
		}
		for _, sec := range patch.Sections() {
			if _, err := e.repo().UpsertSection(ctx, tx, project, number, sec.Type, sec.Content); err != nil {
				return err
			}
		}
		if patch.DependsOn != nil {
			if err := e.repo().SyncDependencies(ctx, tx, project, number, *patch.DependsOn); err != nil {
				return err
			}
		}
		if err := e.record(ctx, tx, "task.update", project, "task", cur.ID, actor, events.Payload{"number": number, "fields": patchFields(patch)}); err != nil {
			return err
		}
		full, err := e.repo().GetTaskFull(ctx, tx, project, number)
		if err != nil {
			return err
		}
		out = *full
		return nil
	})
	return out, err
}

func patchFields(p domain.TaskPatch) []string {
	var names []string
	add := func(name string, set bool) {
		if set {
			names = append(names, name)
		}
	}
	add("description", p.Description != nil)
	add("status", p.Status != nil)
	add("module", p.Module != nil)
	add("branch", p.Branch != nil)
	add("started", p.Started != nil)
	add("completed", p.Completed != nil)
	for _, s := range p.Sections() {
		names = append(names, string(s.Type))
	}
	add("depends_on", p.DependsOn != nil)
	return names
}

// DeleteTask removes the task, its subtasks and everything they own, then
// purges their attachments. It reports false when the task did not exist.
// The graph deletion is committed before the purge; a purge failure is
// returned but does not bring the task back.
func (e Engine) DeleteTask(ctx context.Context, project string, number int, actor string) (bool, error) {
	var deleted []int
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		t, err := e.repo().GetTask(ctx, tx, project, number)
		if err != nil || t == nil {
			deleted = nil
			return err
		}
		if deleted, err = e.repo().DeleteTask(ctx, tx, project, number); err != nil {
			return err
		}
		return e.record(ctx, tx, "task.delete", project, "task", t.ID, actor, events.Payload{"number": number, "deleted": deleted})
	})
	if err != nil {
		return false, err
	}
	if len(deleted) == 0 {
		return false, nil
	}
	purged := 0
	for _, n := range deleted {
		prefix, err := sanitize.Prefix(project, n)
		if err != nil {
			// No object can have been stored under an unsanitizable project.
			break
		}
		c, err := e.Store.DeleteAll(ctx, prefix)
		purged += c
		if err != nil {
			e.log().Error("attachment purge failed", "project", project, "number", n, "err", err)
			return true, err
		}
	}
	e.log().Info("task deleted", "project", project, "number", number, "tasks", len(deleted), "attachments", purged)
	return true, nil
}

const maxSearchKeywords = 20

// SearchTasks finds tasks of an existing project in which every keyword
// occurs in the task fields, a section or a finding.
func (e Engine) SearchTasks(ctx context.Context, project, query, status, module string) ([]domain.Task, error) {
	keywords := strings.Fields(query)
	if len(keywords) == 0 {
		return nil, domain.Required("query")
	}
	if len(keywords) > maxSearchKeywords {
		return nil, domain.InvalidArgument("query", query, "must not exceed 20 keywords")
	}
	filter := graph.SearchFilter{Module: module}
	if status != "" {
		st, err := domain.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = st
	}
	p, err := e.repo().GetProjectByName(ctx, e.DB, project)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.NotFoundf("project %q", project)
	}
	return e.repo().SearchTasks(ctx, e.DB, project, keywords, filter)
}

// AddDependency makes from depend on to. An existing edge is left as is and
// still recorded in the activity log.
func (e Engine) AddDependency(ctx context.Context, project string, from, to int, actor string) error {
	return e.inTx(ctx, true, func(tx *sql.Tx) error {
		if err := e.repo().AddDependency(ctx, tx, project, from, to); err != nil {
			return err
		}
		return e.record(ctx, tx, "dependency.add", project, "task", "", actor, events.Payload{"from": from, "to": to})
	})
}

// RemoveDependency reports whether the edge existed.
func (e Engine) RemoveDependency(ctx context.Context, project string, from, to int, actor string) (bool, error) {
	var removed bool
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		var err error
		if removed, err = e.repo().RemoveDependency(ctx, tx, project, from, to); err != nil || !removed {
			return err
		}
		return e.record(ctx, tx, "dependency.remove", project, "task", "", actor, events.Payload{"from": from, "to": to})
	})
	return removed, err
}

// Dependencies returns the direct dependencies of a task.
func (e Engine) Dependencies(ctx context.Context, project string, number int) ([]domain.Task, error) {
	t, err := e.repo().GetTask(ctx, e.DB, project, number)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.NotFoundf("task %s/%d", project, number)
	}
	return e.repo().GetDependencies(ctx, e.DB, project, number)
}

// GetSection returns nil when the task has no section of this type.
func (e Engine) GetSection(ctx context.Context, project string, number int, typ string) (*domain.Section, error) {
	st, err := domain.ParseSectionType(typ)
	if err != nil {
		return nil, err
	}
	return e.repo().GetSection(ctx, e.DB, project, number, st)
}

// SetSection creates or overwrites a section; empty content is kept as empty.
func (e Engine) SetSection(ctx context.Context, project string, number int, typ, content, actor string) (domain.Section, error) {
	st, err := domain.ParseSectionType(typ)
	if err != nil {
		return domain.Section{}, err
	}
	var out domain.Section
	err = e.inTx(ctx, true, func(tx *sql.Tx) error {
		if out, err = e.repo().UpsertSection(ctx, tx, project, number, st, content); err != nil {
			return err
		}
		return e.record(ctx, tx, "section.set", project, "section", out.ID, actor, events.Payload{"number": number, "type": st})
	})
	return out, err
}

func (e Engine) DeleteSection(ctx context.Context, project string, number int, typ, actor string) (bool, error) {
	st, err := domain.ParseSectionType(typ)
	if err != nil {
		return false, err
	}
	var ok bool
	err = e.inTx(ctx, true, func(tx *sql.Tx) error {
		if ok, err = e.repo().DeleteSection(ctx, tx, project, number, st); err != nil || !ok {
			return err
		}
		return e.record(ctx, tx, "section.delete", project, "section", "", actor, events.Payload{"number": number, "type": st})
	})
	return ok, err
}
