package graph

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"taskgraph/internal/domain"
)

const taskSelect = `SELECT t.id, p.name, t.number, pt.number, t.description, t.status,
  t.module, t.branch, t.started, t.completed, t.created_at, t.updated_at
FROM tasks t
JOIN projects p ON p.id = t.project_id
LEFT JOIN tasks pt ON pt.id = t.parent_task_id`

func scanTask(row scanner) (domain.Task, error) {
	var (
		t                                  domain.Task
		parent                             sql.NullInt64
		status                             string
		module, branch, started, completed sql.NullString
	)
	err := row.Scan(&t.ID, &t.Project, &t.Number, &parent, &t.Description, &status,
		&module, &branch, &started, &completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.ParentNumber = intPtr(parent)
	t.Status = domain.Status(status)
	t.Module = module.String
	t.Branch = branch.String
	t.Started = started.String
	t.Completed = completed.String
	t.DependsOn = []int{}
	return t, nil
}

func (r Repo) queryTasks(ctx context.Context, s Session, query string, args ...any) ([]domain.Task, error) {
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storeErr("scan task", err)
		}
		res = append(res, t)
	}
	return res, storeErr("list tasks", rows.Err())
}

// CreateTask inserts a top-level task. When nt.Number is zero the next number
// of the project is assigned by the insert statement itself.
func (r Repo) CreateTask(ctx context.Context, s Session, project string, nt domain.NewTask) (domain.Task, error) {
	return r.insertTask(ctx, s, project, nil, nt)
}

// CreateSubtask inserts a child of parentNumber. Subtasks draw from the same
// number sequence as top-level tasks.
func (r Repo) CreateSubtask(ctx context.Context, s Session, project string, parentNumber int, nt domain.NewTask) (domain.Task, error) {
	parentID, err := r.taskID(ctx, s, project, parentNumber)
	if err != nil {
		return domain.Task{}, err
	}
	return r.insertTask(ctx, s, project, &parentID, nt)
}

func (r Repo) insertTask(ctx context.Context, s Session, project string, parentID *string, nt domain.NewTask) (domain.Task, error) {
	if strings.TrimSpace(nt.Description) == "" {
		return domain.Task{}, domain.Required("description")
	}
	if nt.Number < 0 {
		return domain.Task{}, domain.InvalidArgument("number", "", "must be positive")
	}
	if nt.Status == "" {
		nt.Status = domain.StatusTodo
	}
	if _, err := domain.ParseStatus(string(nt.Status)); err != nil {
		return domain.Task{}, err
	}
	projectID, err := r.projectID(ctx, s, project)
	if err != nil {
		return domain.Task{}, err
	}
	var parent any
	if parentID != nil {
		parent = *parentID
	}
	id := uuid.NewString()
	now := r.timestamp()
	if nt.Number > 0 {
		var taken int
		err := s.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE project_id=? AND number=?`, projectID, nt.Number).Scan(&taken)
		if err == nil {
			return domain.Task{}, domain.Conflictf("task %s/%d already exists", project, nt.Number)
		}
		if err != sql.ErrNoRows {
			return domain.Task{}, storeErr("check task number", err)
		}
		_, err = s.ExecContext(ctx, `INSERT INTO tasks(id,project_id,parent_task_id,number,description,status,module,branch,started,completed,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			id, projectID, parent, nt.Number, nt.Description, string(nt.Status),
			nullable(nt.Module), nullable(nt.Branch), nullable(nt.Started), nullable(nt.Completed), now, now)
		if err != nil {
			return domain.Task{}, storeErr("insert task", err)
		}
	} else {
		_, err = s.ExecContext(ctx, `INSERT INTO tasks(id,project_id,parent_task_id,number,description,status,module,branch,started,completed,created_at,updated_at)
SELECT ?,?,?,COALESCE(MAX(number),0)+1,?,?,?,?,?,?,?,? FROM tasks WHERE project_id=?`,
			id, projectID, parent, nt.Description, string(nt.Status),
			nullable(nt.Module), nullable(nt.Branch), nullable(nt.Started), nullable(nt.Completed), now, now, projectID)
		if err != nil {
			return domain.Task{}, storeErr("insert task", err)
		}
	}
	t, err := scanTask(s.QueryRowContext(ctx, taskSelect+` WHERE t.id=?`, id))
	if err != nil {
		return domain.Task{}, storeErr("get task", err)
	}
	return t, nil
}

// GetTask returns the task node without sections or dependencies, or nil.
func (r Repo) GetTask(ctx context.Context, s Session, project string, number int) (*domain.Task, error) {
	t, err := scanTask(s.QueryRowContext(ctx, taskSelect+` WHERE t.project_id=`+projectByName+` AND t.number=?`, project, number))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get task", err)
	}
	return &t, nil
}

// GetTaskFull returns the task with its content sections and direct
// dependency numbers, or nil.
func (r Repo) GetTaskFull(ctx context.Context, s Session, project string, number int) (*domain.Task, error) {
	t, err := r.GetTask(ctx, s, project, number)
	if err != nil || t == nil {
		return t, err
	}
	sections, err := r.ListSections(ctx, s, project, number)
	if err != nil {
		return nil, err
	}
	for _, sec := range sections {
		t.SetSection(sec.Type, sec.Content)
	}
	deps, err := r.GetDependencies(ctx, s, project, number)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		t.DependsOn = append(t.DependsOn, d.Number)
	}
	sort.Ints(t.DependsOn)
	return t, nil
}

// ListTasks returns top-level task summaries ordered by number. An unknown
// project yields an empty list.
func (r Repo) ListTasks(ctx context.Context, s Session, project string) ([]domain.Task, error) {
	return r.queryTasks(ctx, s, taskSelect+` WHERE t.project_id=`+projectByName+` AND t.parent_task_id IS NULL ORDER BY t.number`, project)
}

// ListSubtasks returns the direct children of parentNumber, or ErrNotFound
// when the parent does not exist.
func (r Repo) ListSubtasks(ctx context.Context, s Session, project string, parentNumber int) ([]domain.Task, error) {
	parentID, err := r.taskID(ctx, s, project, parentNumber)
	if err != nil {
		return nil, err
	}
	return r.queryTasks(ctx, s, taskSelect+` WHERE t.parent_task_id=? ORDER BY t.number`, parentID)
}

// UpdateTask applies the non-nil fields of f and bumps updated_at.
func (r Repo) UpdateTask(ctx context.Context, s Session, project string, number int, f domain.TaskFields) (domain.Task, error) {
	id, err := r.taskID(ctx, s, project, number)
	if err != nil {
		return domain.Task{}, err
	}
	sets := []string{"updated_at=?"}
	args := []any{r.timestamp()}
	add := func(col string, v any) {
		sets = append(sets, col+"=?")
		args = append(args, v)
	}
	if f.Description != nil {
		add("description", *f.Description)
	}
	if f.Status != nil {
		if _, err := domain.ParseStatus(string(*f.Status)); err != nil {
			return domain.Task{}, err
		}
		add("status", string(*f.Status))
	}
	if f.Module != nil {
		add("module", nullable(*f.Module))
	}
	if f.Branch != nil {
		add("branch", nullable(*f.Branch))
	}
	if f.Started != nil {
		add("started", nullable(*f.Started))
	}
	if f.Completed != nil {
		add("completed", nullable(*f.Completed))
	}
	args = append(args, id)
	res, err := s.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ",")+` WHERE id=?`, args...)
	if err != nil {
		return domain.Task{}, storeErr("update task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Task{}, domain.NotFoundf("task %s/%d", project, number)
	}
	t, err := scanTask(s.QueryRowContext(ctx, taskSelect+` WHERE t.id=?`, id))
	if err != nil {
		return domain.Task{}, storeErr("get task", err)
	}
	return t, nil
}

const subtreeCTE = `WITH RECURSIVE subtree(id) AS (
  SELECT ? UNION SELECT t.id FROM tasks t JOIN subtree ON t.parent_task_id = subtree.id
)`

// DeleteTask removes the task, its subtasks and everything they own:
// sections, findings, comment threads, workflow runs, workflow steps and
// dependency edges in either direction. It returns the numbers removed, empty
// when the task does not exist.
func (r Repo) DeleteTask(ctx context.Context, s Session, project string, number int) ([]int, error) {
	id, err := r.taskID(ctx, s, project, number)
	if errors.Is(err, domain.ErrNotFound) {
		return []int{}, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, subtreeCTE+` SELECT t.number FROM tasks t JOIN subtree ON t.id = subtree.id ORDER BY t.number`, id)
	if err != nil {
		return nil, storeErr("collect subtree", err)
	}
	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, storeErr("collect subtree", err)
		}
		numbers = append(numbers, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("collect subtree", err)
	}

	const inSections = `SELECT id FROM sections WHERE task_id IN (SELECT id FROM subtree)`
	const inFindings = `SELECT id FROM findings WHERE section_id IN (` + inSections + `)`
	steps := []struct{ op, query string }{
		{"delete comments", subtreeCTE + `, thread(id) AS (
  SELECT id FROM comments WHERE finding_id IN (` + inFindings + `)
  UNION SELECT c.id FROM comments c JOIN thread ON c.parent_id = thread.id
) DELETE FROM comments WHERE id IN (SELECT id FROM thread)`},
		{"delete findings", subtreeCTE + ` DELETE FROM findings WHERE section_id IN (` + inSections + `)`},
		{"delete sections", subtreeCTE + ` DELETE FROM sections WHERE task_id IN (SELECT id FROM subtree)`},
		{"delete workflow steps", subtreeCTE + ` DELETE FROM workflow_steps WHERE run_id IN (SELECT id FROM workflow_runs WHERE task_id IN (SELECT id FROM subtree))`},
		{"delete workflow runs", subtreeCTE + ` DELETE FROM workflow_runs WHERE task_id IN (SELECT id FROM subtree)`},
		{"delete dependencies", subtreeCTE + ` DELETE FROM task_dependencies WHERE task_id IN (SELECT id FROM subtree) OR depends_on_id IN (SELECT id FROM subtree)`},
		{"delete tasks", subtreeCTE + ` DELETE FROM tasks WHERE id IN (SELECT id FROM subtree)`},
	}
	for _, st := range steps {
		if _, err := s.ExecContext(ctx, st.query, id); err != nil {
			return nil, storeErr(st.op, err)
		}
	}
	return numbers, nil
}

// CountTasksByStatus counts every task of the project, subtasks included.
func (r Repo) CountTasksByStatus(ctx context.Context, s Session, project string) (map[domain.Status]int, error) {
	rows, err := s.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE project_id=`+projectByName+` GROUP BY status`, project)
	if err != nil {
		return nil, storeErr("count tasks", err)
	}
	defer rows.Close()
	res := map[domain.Status]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, storeErr("count tasks", err)
		}
		res[domain.Status(st)] = n
	}
	return res, storeErr("count tasks", rows.Err())
}

func (r Repo) taskID(ctx context.Context, s Session, project string, number int) (string, error) {
	var id string
	err := s.QueryRowContext(ctx, `SELECT id FROM tasks WHERE project_id=`+projectByName+` AND number=?`, project, number).Scan(&id)
	if err == sql.ErrNoRows {
		return "", domain.NotFoundf("task %s/%d", project, number)
	}
	if err != nil {
		return "", storeErr("resolve task", err)
	}
	return id, nil
}
