package engine

import (
	"context"
	"database/sql"

	"taskgraph/internal/domain"
	"taskgraph/internal/events"
)

func (e Engine) StartWorkflowRun(ctx context.Context, project string, number int, typ, actor string) (domain.WorkflowRun, error) {
	var out domain.WorkflowRun
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		var err error
		if out, err = e.repo().CreateWorkflowRun(ctx, tx, project, number, typ); err != nil {
			return err
		}
		return e.record(ctx, tx, "run.create", project, "workflow_run", out.ID, actor, events.Payload{"number": number, "type": typ})
	})
	return out, err
}

func (e Engine) UpdateWorkflowRun(ctx context.Context, id, status, actor string) (domain.WorkflowRun, error) {
	st, err := domain.ParseRunStatus(status)
	if err != nil {
		return domain.WorkflowRun{}, err
	}
	var out domain.WorkflowRun
	err = e.inTx(ctx, true, func(tx *sql.Tx) error {
		if out, err = e.repo().UpdateWorkflowRun(ctx, tx, id, st); err != nil {
			return err
		}
		return e.record(ctx, tx, "run.update", "", "workflow_run", id, actor, events.Payload{"status": st})
	})
	return out, err
}

// GetWorkflowRun returns the run with its steps, or nil.
func (e Engine) GetWorkflowRun(ctx context.Context, id string) (*domain.WorkflowRun, error) {
	return e.repo().GetWorkflowRun(ctx, e.DB, id)
}

func (e Engine) ListWorkflowRuns(ctx context.Context, project string, number int) ([]domain.WorkflowRun, error) {
	return e.repo().ListWorkflowRuns(ctx, e.DB, project, number)
}

func (e Engine) AddWorkflowStep(ctx context.Context, runID, name, actor string) (domain.WorkflowStep, error) {
	var out domain.WorkflowStep
	err := e.inTx(ctx, true, func(tx *sql.Tx) error {
		var err error
		if out, err = e.repo().CreateWorkflowStep(ctx, tx, runID, name); err != nil {
			return err
		}
		return e.record(ctx, tx, "step.create", "", "workflow_step", out.ID, actor, events.Payload{"run": runID, "name": name})
	})
	return out, err
}

// UpdateWorkflowStep sets the step status and, when output is non-nil, its output.
func (e Engine) UpdateWorkflowStep(ctx context.Context, id, status string, output *string, actor string) (domain.WorkflowStep, error) {
	st, err := domain.ParseRunStatus(status)
	if err != nil {
		return domain.WorkflowStep{}, err
	}
	var out domain.WorkflowStep
	err = e.inTx(ctx, true, func(tx *sql.Tx) error {
		if out, err = e.repo().UpdateWorkflowStep(ctx, tx, id, st, output); err != nil {
			return err
		}
		return e.record(ctx, tx, "step.update", "", "workflow_step", id, actor, events.Payload{"status": st})
	})
	return out, err
}

// ActivityLog returns the newest limit activity log entries, oldest first.
func (e Engine) ActivityLog(ctx context.Context, project string, limit int) ([]domain.Event, error) {
	return e.repo().ListEvents(ctx, e.DB, project, limit)
}
