package graph

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"taskgraph/internal/domain"
)

const runSelect = `SELECT r.id, r.task_id, t.number, r.type, r.status, r.created_at, r.completed_at
FROM workflow_runs r JOIN tasks t ON t.id = r.task_id`

const stepSelect = `SELECT id, run_id, name, status, output, created_at, started_at, completed_at FROM workflow_steps`

func scanRun(row scanner) (domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	var status string
	var completed sql.NullString
	err := row.Scan(&run.ID, &run.TaskID, &run.TaskNumber, &run.Type, &status, &run.CreatedAt, &completed)
	run.Status = domain.RunStatus(status)
	run.CompletedAt = stringPtr(completed)
	return run, err
}

func scanStep(row scanner) (domain.WorkflowStep, error) {
	var st domain.WorkflowStep
	var status string
	var output, started, completed sql.NullString
	err := row.Scan(&st.ID, &st.RunID, &st.Name, &status, &output, &st.CreatedAt, &started, &completed)
	st.Status = domain.RunStatus(status)
	st.Output = stringPtr(output)
	st.StartedAt = stringPtr(started)
	st.CompletedAt = stringPtr(completed)
	return st, err
}

// CreateWorkflowRun starts a pending run of the named workflow for a task.
func (r Repo) CreateWorkflowRun(ctx context.Context, s Session, project string, number int, typ string) (domain.WorkflowRun, error) {
	if strings.TrimSpace(typ) == "" {
		return domain.WorkflowRun{}, domain.Required("type")
	}
	taskID, err := r.taskID(ctx, s, project, number)
	if err != nil {
		return domain.WorkflowRun{}, err
	}
	id := uuid.NewString()
	_, err = s.ExecContext(ctx, `INSERT INTO workflow_runs(id,task_id,type,status,created_at) VALUES (?,?,?,?,?)`,
		id, taskID, typ, string(domain.RunPending), r.timestamp())
	if err != nil {
		return domain.WorkflowRun{}, storeErr("insert workflow run", err)
	}
	run, err := r.GetWorkflowRun(ctx, s, id)
	if err != nil {
		return domain.WorkflowRun{}, err
	}
	return *run, nil
}

// GetWorkflowRun returns the run with its steps, or nil.
func (r Repo) GetWorkflowRun(ctx context.Context, s Session, id string) (*domain.WorkflowRun, error) {
	run, err := scanRun(s.QueryRowContext(ctx, runSelect+` WHERE r.id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get workflow run", err)
	}
	if run.Steps, err = r.ListWorkflowSteps(ctx, s, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// UpdateWorkflowRun moves a run along pending -> running -> completed|failed.
func (r Repo) UpdateWorkflowRun(ctx context.Context, s Session, id string, status domain.RunStatus) (domain.WorkflowRun, error) {
	run, err := r.GetWorkflowRun(ctx, s, id)
	if err != nil {
		return domain.WorkflowRun{}, err
	}
	if run == nil {
		return domain.WorkflowRun{}, domain.NotFoundf("workflow run %s", id)
	}
	if run.Status == status {
		return *run, nil
	}
	if !run.Status.CanMoveTo(status) {
		return domain.WorkflowRun{}, domain.InvalidArgument("status", string(status), "run is "+string(run.Status))
	}
	var completed any
	if status.Terminal() {
		completed = r.timestamp()
	}
	if _, err := s.ExecContext(ctx, `UPDATE workflow_runs SET status=?, completed_at=? WHERE id=?`, string(status), completed, id); err != nil {
		return domain.WorkflowRun{}, storeErr("update workflow run", err)
	}
	updated, err := r.GetWorkflowRun(ctx, s, id)
	if err != nil {
		return domain.WorkflowRun{}, err
	}
	return *updated, nil
}

// ListWorkflowRuns returns the runs of a task, oldest first, without steps.
func (r Repo) ListWorkflowRuns(ctx context.Context, s Session, project string, number int) ([]domain.WorkflowRun, error) {
	rows, err := s.QueryContext(ctx, runSelect+`
WHERE t.project_id=`+projectByName+` AND t.number=? ORDER BY r.created_at, r.rowid`, project, number)
	if err != nil {
		return nil, storeErr("list workflow runs", err)
	}
	defer rows.Close()
	res := []domain.WorkflowRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, storeErr("scan workflow run", err)
		}
		res = append(res, run)
	}
	return res, storeErr("list workflow runs", rows.Err())
}

// CreateWorkflowStep appends a pending step to a run that has not finished.
func (r Repo) CreateWorkflowStep(ctx context.Context, s Session, runID, name string) (domain.WorkflowStep, error) {
	if strings.TrimSpace(name) == "" {
		return domain.WorkflowStep{}, domain.Required("name")
	}
	var status string
	err := s.QueryRowContext(ctx, `SELECT status FROM workflow_runs WHERE id=?`, runID).Scan(&status)
	if err == sql.ErrNoRows {
		return domain.WorkflowStep{}, domain.NotFoundf("workflow run %s", runID)
	}
	if err != nil {
		return domain.WorkflowStep{}, storeErr("get workflow run", err)
	}
	if domain.RunStatus(status).Terminal() {
		return domain.WorkflowStep{}, domain.Conflictf("workflow run %s is %s", runID, status)
	}
	st := domain.WorkflowStep{
		ID:        uuid.NewString(),
		RunID:     runID,
		Name:      name,
		Status:    domain.RunPending,
		CreatedAt: r.timestamp(),
	}
	_, err = s.ExecContext(ctx, `INSERT INTO workflow_steps(id,run_id,name,status,created_at) VALUES (?,?,?,?,?)`,
		st.ID, st.RunID, st.Name, string(st.Status), st.CreatedAt)
	if err != nil {
		return domain.WorkflowStep{}, storeErr("insert workflow step", err)
	}
	return st, nil
}

// UpdateWorkflowStep sets the step status and, when output is non-nil, its
// output. Entering running stamps started_at; a terminal status stamps
// completed_at.
func (r Repo) UpdateWorkflowStep(ctx context.Context, s Session, id string, status domain.RunStatus, output *string) (domain.WorkflowStep, error) {
	st, err := scanStep(s.QueryRowContext(ctx, stepSelect+` WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return domain.WorkflowStep{}, domain.NotFoundf("workflow step %s", id)
	}
	if err != nil {
		return domain.WorkflowStep{}, storeErr("get workflow step", err)
	}
	if st.Status != status && !st.Status.CanMoveTo(status) {
		return domain.WorkflowStep{}, domain.InvalidArgument("status", string(status), "step is "+string(st.Status))
	}
	now := r.timestamp()
	sets := []string{"status=?"}
	args := []any{string(status)}
	if status == domain.RunRunning && st.StartedAt == nil {
		sets = append(sets, "started_at=?")
		args = append(args, now)
	}
	if status.Terminal() && st.CompletedAt == nil {
		sets = append(sets, "completed_at=?")
		args = append(args, now)
	}
	if output != nil {
		sets = append(sets, "output=?")
		args = append(args, *output)
	}
	args = append(args, id)
	if _, err := s.ExecContext(ctx, `UPDATE workflow_steps SET `+strings.Join(sets, ",")+` WHERE id=?`, args...); err != nil {
		return domain.WorkflowStep{}, storeErr("update workflow step", err)
	}
	updated, err := scanStep(s.QueryRowContext(ctx, stepSelect+` WHERE id=?`, id))
	if err != nil {
		return domain.WorkflowStep{}, storeErr("get workflow step", err)
	}
	return updated, nil
}

// ListWorkflowSteps returns the steps of a run in creation order. An unknown
// run yields no steps.
func (r Repo) ListWorkflowSteps(ctx context.Context, s Session, runID string) ([]domain.WorkflowStep, error) {
	rows, err := s.QueryContext(ctx, stepSelect+` WHERE run_id=? ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, storeErr("list workflow steps", err)
	}
	defer rows.Close()
	res := []domain.WorkflowStep{}
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, storeErr("scan workflow step", err)
		}
		res = append(res, st)
	}
	return res, storeErr("list workflow steps", rows.Err())
}
