package graph

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"taskgraph/internal/domain"
)

const reachQuery = `WITH RECURSIVE reach(id) AS (
  SELECT ? UNION SELECT d.depends_on_id FROM task_dependencies d JOIN reach ON d.task_id = reach.id
) SELECT 1 FROM reach WHERE id=? LIMIT 1`

// AddDependency records that task from depends on task to. Both must exist in
// the project, and an edge that would close a cycle is rejected. Adding an
// existing edge is a no-op.
func (r Repo) AddDependency(ctx context.Context, s Session, project string, from, to int) error {
	fromID, err := r.taskID(ctx, s, project, from)
	if err != nil {
		return err
	}
	toID, err := r.dependencyTarget(ctx, s, project, to)
	if err != nil {
		return err
	}
	return r.insertDependency(ctx, s, fromID, toID, from, to)
}

func (r Repo) dependencyTarget(ctx context.Context, s Session, project string, number int) (string, error) {
	id, err := r.taskID(ctx, s, project, number)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.InvalidArgument("depends_on", strconv.Itoa(number), "no such task in project "+project)
	}
	return id, err
}

func (r Repo) insertDependency(ctx context.Context, s Session, fromID, toID string, from, to int) error {
	if fromID == toID {
		return domain.InvalidArgument("depends_on", strconv.Itoa(to), "a task cannot depend on itself")
	}
	var cyc int
	err := s.QueryRowContext(ctx, reachQuery, toID, fromID).Scan(&cyc)
	if err == nil {
		return domain.InvalidArgument("depends_on", strconv.Itoa(to), "task "+strconv.Itoa(to)+" already depends on "+strconv.Itoa(from))
	}
	if err != sql.ErrNoRows {
		return storeErr("check dependency cycle", err)
	}
	_, err = s.ExecContext(ctx, `INSERT OR IGNORE INTO task_dependencies(task_id, depends_on_id, created_at) VALUES (?,?,?)`,
		fromID, toID, r.timestamp())
	return storeErr("insert dependency", err)
}

// RemoveDependency reports whether an edge was removed.
func (r Repo) RemoveDependency(ctx context.Context, s Session, project string, from, to int) (bool, error) {
	res, err := s.ExecContext(ctx, `DELETE FROM task_dependencies
WHERE task_id = (SELECT id FROM tasks WHERE project_id=`+projectByName+` AND number=?)
  AND depends_on_id = (SELECT id FROM tasks WHERE project_id=`+projectByName+` AND number=?)`,
		project, from, project, to)
	if err != nil {
		return false, storeErr("delete dependency", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetDependencies returns the direct dependencies of a task ordered by
// number. Transitive dependencies are not followed.
func (r Repo) GetDependencies(ctx context.Context, s Session, project string, number int) ([]domain.Task, error) {
	return r.queryTasks(ctx, s, taskSelect+`
JOIN task_dependencies d ON d.depends_on_id = t.id
WHERE d.task_id = (SELECT id FROM tasks WHERE project_id=`+projectByName+` AND number=?)
ORDER BY t.number`, project, number)
}

// SyncDependencies replaces the outgoing edges of a task with numbers.
func (r Repo) SyncDependencies(ctx context.Context, s Session, project string, number int, numbers []int) error {
	fromID, err := r.taskID(ctx, s, project, number)
	if err != nil {
		return err
	}
	targets := make([]string, len(numbers))
	for i, n := range numbers {
		if targets[i], err = r.dependencyTarget(ctx, s, project, n); err != nil {
			return err
		}
	}
	if _, err := s.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id=?`, fromID); err != nil {
		return storeErr("clear dependencies", err)
	}
	for i, toID := range targets {
		if err := r.insertDependency(ctx, s, fromID, toID, number, numbers[i]); err != nil {
			return err
		}
	}
	return nil
}
