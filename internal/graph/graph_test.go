package graph

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"taskgraph/internal/db"
	"taskgraph/internal/domain"
	"taskgraph/internal/schema"
)

type testEnv struct {
	DB   *sql.DB
	Repo Repo
	Ctx  context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "tasks.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := schema.EnsureSchema(ctx, conn); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	repo := Repo{Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	if _, err := repo.CreateWorkspace(ctx, conn, "default", ""); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if _, err := repo.CreateProject(ctx, conn, domain.ParentRef{Kind: domain.ParentWorkspace, Name: "default"}, "proj", ""); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{DB: conn, Repo: repo, Ctx: ctx}
}

func (env testEnv) task(t *testing.T, desc string) domain.Task {
	t.Helper()
	task, err := env.Repo.CreateTask(env.Ctx, env.DB, "proj", domain.NewTask{Description: desc})
	if err != nil {
		t.Fatalf("create task %q: %v", desc, err)
	}
	return task
}

func (env testEnv) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := env.DB.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestTaskNumbersAreSequentialAcrossSubtasks(t *testing.T) {
	env := newTestEnv(t)
	for want := 1; want <= 3; want++ {
		if got := env.task(t, "task").Number; got != want {
			t.Fatalf("expected number %d, got %d", want, got)
		}
	}
	sub, err := env.Repo.CreateSubtask(env.Ctx, env.DB, "proj", 2, domain.NewTask{Description: "child"})
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	if sub.Number != 4 || sub.ParentNumber == nil || *sub.ParentNumber != 2 {
		t.Fatalf("unexpected subtask %+v", sub)
	}
	if sub.Status != domain.StatusTodo {
		t.Fatalf("expected default status todo, got %s", sub.Status)
	}
	top, err := env.Repo.ListTasks(env.Ctx, env.DB, "proj")
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 3 {
		t.Fatalf("expected 3 top-level tasks, got %d", len(top))
	}
	subs, err := env.Repo.ListSubtasks(env.Ctx, env.DB, "proj", 2)
	if err != nil || len(subs) != 1 || subs[0].Number != 4 {
		t.Fatalf("list subtasks: %v %+v", err, subs)
	}
	if _, err := env.Repo.CreateTask(env.Ctx, env.DB, "proj", domain.NewTask{Number: 4, Description: "dup"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for taken number, got %v", err)
	}
	explicit, err := env.Repo.CreateTask(env.Ctx, env.DB, "proj", domain.NewTask{Number: 10, Description: "ten"})
	if err != nil || explicit.Number != 10 {
		t.Fatalf("explicit number: %v %+v", err, explicit)
	}
	if next := env.task(t, "after"); next.Number != 11 {
		t.Fatalf("expected 11 after explicit 10, got %d", next.Number)
	}
}

func TestGetTaskMissReturnsNil(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Repo.GetTask(env.Ctx, env.DB, "proj", 99)
	if err != nil || task != nil {
		t.Fatalf("expected nil task, got %+v %v", task, err)
	}
	list, err := env.Repo.ListTasks(env.Ctx, env.DB, "nope")
	if err != nil || len(list) != 0 {
		t.Fatalf("expected empty list for unknown project, got %v %v", list, err)
	}
	if _, err := env.Repo.UpdateTask(env.Ctx, env.DB, "proj", 99, domain.TaskFields{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}

func TestDiamondDependenciesAreOneHop(t *testing.T) {
	env := newTestEnv(t)
	for _, d := range []string{"A", "B", "C", "D"} {
		env.task(t, d)
	}
	for _, e := range [][2]int{{1, 2}, {1, 3}, {2, 4}, {3, 4}} {
		if err := env.Repo.AddDependency(env.Ctx, env.DB, "proj", e[0], e[1]); err != nil {
			t.Fatalf("add %v: %v", e, err)
		}
	}
	if err := env.Repo.AddDependency(env.Ctx, env.DB, "proj", 1, 2); err != nil {
		t.Fatalf("re-adding an edge should be a no-op: %v", err)
	}
	deps, err := env.Repo.GetDependencies(env.Ctx, env.DB, "proj", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 || deps[0].Number != 2 || deps[1].Number != 3 {
		t.Fatalf("expected [2 3], got %+v", deps)
	}
	if err := env.Repo.AddDependency(env.Ctx, env.DB, "proj", 4, 1); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
	if err := env.Repo.AddDependency(env.Ctx, env.DB, "proj", 2, 2); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected self edge rejection, got %v", err)
	}
	var fe *domain.FieldError
	if err := env.Repo.AddDependency(env.Ctx, env.DB, "proj", 1, 42); !errors.As(err, &fe) || fe.Field != "depends_on" {
		t.Fatalf("expected depends_on field error, got %v", err)
	}
	removed, err := env.Repo.RemoveDependency(env.Ctx, env.DB, "proj", 1, 3)
	if err != nil || !removed {
		t.Fatalf("remove: %v %v", removed, err)
	}
	if err := env.Repo.SyncDependencies(env.Ctx, env.DB, "proj", 1, []int{4}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	full, err := env.Repo.GetTaskFull(env.Ctx, env.DB, "proj", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(full.DependsOn) != 1 || full.DependsOn[0] != 4 {
		t.Fatalf("expected depends_on [4], got %v", full.DependsOn)
	}
}

func TestSectionEmptyContentIsKept(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "t")
	if _, err := env.Repo.UpsertSection(env.Ctx, env.DB, "proj", 1, domain.SectionBody, "X"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Repo.UpsertSection(env.Ctx, env.DB, "proj", 1, domain.SectionBody, ""); err != nil {
		t.Fatal(err)
	}
	sec, err := env.Repo.GetSection(env.Ctx, env.DB, "proj", 1, domain.SectionBody)
	if err != nil || sec == nil {
		t.Fatalf("get section: %v %v", sec, err)
	}
	if sec.Content != "" {
		t.Fatalf("expected cleared content, got %q", sec.Content)
	}
	if _, err := env.Repo.CreateSection(env.Ctx, env.DB, "proj", 1, domain.SectionBody, "again"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := env.Repo.UpdateSection(env.Ctx, env.DB, "proj", 1, domain.SectionPlan, "p"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "t")
	if _, err := env.Repo.CreateFinding(env.Ctx, env.DB, "proj", 1, domain.ReviewSecurity, domain.NewFinding{Text: "x", Author: "a"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected missing section, got %v", err)
	}
	if _, err := env.Repo.CreateSection(env.Ctx, env.DB, "proj", 1, domain.ReviewSecurity, ""); err != nil {
		t.Fatal(err)
	}
	line := 12
	f, err := env.Repo.CreateFinding(env.Ctx, env.DB, "proj", 1, domain.ReviewSecurity, domain.NewFinding{Text: "sql injection", Author: "rev", File: "db.go", LineStart: &line})
	if err != nil {
		t.Fatalf("create finding: %v", err)
	}
	if f.Status != domain.FindingOpen || f.File == nil || *f.File != "db.go" || f.LineEnd != nil {
		t.Fatalf("unexpected finding %+v", f)
	}
	counts, err := env.Repo.CountOpenFindings(env.Ctx, env.DB, "proj")
	if err != nil || counts[1] != 1 {
		t.Fatalf("expected one open finding, got %v %v", counts, err)
	}
	f, err = env.Repo.UpdateFindingStatus(env.Ctx, env.DB, f.ID, domain.FindingResolved, "fixed")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if f.Status != domain.FindingResolved || f.Response == nil || *f.Response != "fixed" || f.ResolvedAt == nil {
		t.Fatalf("unexpected resolved finding %+v", f)
	}
	if _, err := env.Repo.UpdateFindingStatus(env.Ctx, env.DB, f.ID, domain.FindingOpen, ""); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected terminal conflict, got %v", err)
	}
	counts, err = env.Repo.CountOpenFindings(env.Ctx, env.DB, "proj")
	if err != nil || len(counts) != 0 {
		t.Fatalf("expected no open findings, got %v %v", counts, err)
	}

	g, err := env.Repo.CreateFinding(env.Ctx, env.DB, "proj", 1, domain.ReviewSecurity, domain.NewFinding{Text: "nit", Author: "rev"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Repo.UpdateFindingStatus(env.Ctx, env.DB, g.ID, domain.FindingDeclined, " "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected reason required, got %v", err)
	}
	g, err = env.Repo.UpdateFindingStatus(env.Ctx, env.DB, g.ID, domain.FindingDeclined, "by design")
	if err != nil || g.DeclineReason == nil || *g.DeclineReason != "by design" || g.DeclinedAt == nil {
		t.Fatalf("decline: %v %+v", err, g)
	}
	open, err := env.Repo.ListFindings(env.Ctx, env.DB, "proj", 1, domain.FindingFilter{Status: domain.FindingDeclined})
	if err != nil || len(open) != 1 || open[0].ID != g.ID {
		t.Fatalf("filter by status: %v %+v", err, open)
	}
}

func TestCommentThreads(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "t")
	if _, err := env.Repo.CreateSection(env.Ctx, env.DB, "proj", 1, domain.ReviewCode, ""); err != nil {
		t.Fatal(err)
	}
	f, err := env.Repo.CreateFinding(env.Ctx, env.DB, "proj", 1, domain.ReviewCode, domain.NewFinding{Text: "rename", Author: "rev"})
	if err != nil {
		t.Fatal(err)
	}
	c1, err := env.Repo.CreateComment(env.Ctx, env.DB, f.ID, "why?", "dev")
	if err != nil {
		t.Fatal(err)
	}
	r1, err := env.Repo.ReplyToComment(env.Ctx, env.DB, c1.ID, "clarity", "rev")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Repo.ReplyToComment(env.Ctx, env.DB, r1.ID, "ok", "dev"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Repo.CreateComment(env.Ctx, env.DB, f.ID, "second", "dev"); err != nil {
		t.Fatal(err)
	}
	tree, err := env.Repo.ListComments(env.Ctx, env.DB, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree) != 2 || tree[0].Text != "why?" || tree[1].Text != "second" {
		t.Fatalf("unexpected roots %+v", tree)
	}
	if len(tree[0].Replies) != 1 || len(tree[0].Replies[0].Replies) != 1 || tree[0].Replies[0].Replies[0].Text != "ok" {
		t.Fatalf("unexpected reply tree %+v", tree[0])
	}
	if _, err := env.Repo.ReplyToComment(env.Ctx, env.DB, "missing", "x", "y"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "parent")
	other := env.task(t, "other")
	if _, err := env.Repo.CreateSubtask(env.Ctx, env.DB, "proj", 1, domain.NewTask{Description: "child"}); err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{1, 3} {
		if _, err := env.Repo.UpsertSection(env.Ctx, env.DB, "proj", n, domain.SectionPlan, "plan"); err != nil {
			t.Fatal(err)
		}
		if _, err := env.Repo.CreateSection(env.Ctx, env.DB, "proj", n, domain.ReviewTesting, ""); err != nil {
			t.Fatal(err)
		}
		f, err := env.Repo.CreateFinding(env.Ctx, env.DB, "proj", n, domain.ReviewTesting, domain.NewFinding{Text: "no tests", Author: "rev"})
		if err != nil {
			t.Fatal(err)
		}
		c, err := env.Repo.CreateComment(env.Ctx, env.DB, f.ID, "will add", "dev")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.Repo.ReplyToComment(env.Ctx, env.DB, c.ID, "thanks", "rev"); err != nil {
			t.Fatal(err)
		}
		run, err := env.Repo.CreateWorkflowRun(env.Ctx, env.DB, "proj", n, "implement")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.Repo.CreateWorkflowStep(env.Ctx, env.DB, run.ID, "build"); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.Repo.AddDependency(env.Ctx, env.DB, "proj", 1, other.Number); err != nil {
		t.Fatal(err)
	}
	if err := env.Repo.AddDependency(env.Ctx, env.DB, "proj", other.Number, 3); err != nil {
		t.Fatal(err)
	}

	var deleted []int
	err := WithTx(env.Ctx, env.DB, func(tx *sql.Tx) error {
		var err error
		deleted, err = env.Repo.DeleteTask(env.Ctx, tx, "proj", 1)
		return err
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(deleted) != 2 || deleted[0] != 1 || deleted[1] != 3 {
		t.Fatalf("expected [1 3] deleted, got %v", deleted)
	}
	for _, table := range []string{"sections", "findings", "comments", "workflow_runs", "workflow_steps", "task_dependencies"} {
		if n := env.count(t, table); n != 0 {
			t.Fatalf("expected %s empty after cascade, got %d", table, n)
		}
	}
	if n := env.count(t, "tasks"); n != 1 {
		t.Fatalf("expected unrelated task to survive, got %d tasks", n)
	}
	again, err := env.Repo.DeleteTask(env.Ctx, env.DB, "proj", 1)
	if err != nil || len(again) != 0 {
		t.Fatalf("second delete: %v %v", again, err)
	}
}

func TestWorkflowRunStateMachine(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "t")
	run, err := env.Repo.CreateWorkflowRun(env.Ctx, env.DB, "proj", 1, "implement")
	if err != nil || run.Status != domain.RunPending {
		t.Fatalf("create run: %v %+v", err, run)
	}
	step, err := env.Repo.CreateWorkflowStep(env.Ctx, env.DB, run.ID, "lint")
	if err != nil {
		t.Fatal(err)
	}
	step, err = env.Repo.UpdateWorkflowStep(env.Ctx, env.DB, step.ID, domain.RunRunning, nil)
	if err != nil || step.StartedAt == nil || step.CompletedAt != nil {
		t.Fatalf("step running: %v %+v", err, step)
	}
	out := "ok"
	step, err = env.Repo.UpdateWorkflowStep(env.Ctx, env.DB, step.ID, domain.RunCompleted, &out)
	if err != nil || step.CompletedAt == nil || step.Output == nil || *step.Output != "ok" {
		t.Fatalf("step completed: %v %+v", err, step)
	}
	run, err = env.Repo.UpdateWorkflowRun(env.Ctx, env.DB, run.ID, domain.RunCompleted)
	if err != nil || run.CompletedAt == nil || len(run.Steps) != 1 {
		t.Fatalf("run completed: %v %+v", err, run)
	}
	if _, err := env.Repo.UpdateWorkflowRun(env.Ctx, env.DB, run.ID, domain.RunRunning); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := env.Repo.CreateWorkflowStep(env.Ctx, env.DB, run.ID, "late"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on finished run, got %v", err)
	}
}

func TestSearchTasksMatchesEveryKeyword(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "Fix login redirect")
	env.task(t, "Refactor storage layer")
	if _, err := env.Repo.UpsertSection(env.Ctx, env.DB, "proj", 2, domain.SectionPlan, "move the login cache"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Repo.SearchTasks(env.Ctx, env.DB, "proj", []string{"login"}, SearchFilter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 matches, got %+v", res)
	}
	res, err = env.Repo.SearchTasks(env.Ctx, env.DB, "proj", []string{"login", "cache"}, SearchFilter{})
	if err != nil || len(res) != 1 || res[0].Number != 2 {
		t.Fatalf("expected only task 2, got %v %+v", err, res)
	}
	res, err = env.Repo.SearchTasks(env.Ctx, env.DB, "proj", []string{`"OR`}, SearchFilter{})
	if err != nil {
		t.Fatalf("operator keywords must not break the query: %v", err)
	}
	res, err = env.Repo.SearchTasks(env.Ctx, env.DB, "proj", []string{"login"}, SearchFilter{Status: domain.StatusDone})
	if err != nil || len(res) != 0 {
		t.Fatalf("expected status filter to exclude all, got %v %+v", err, res)
	}
}

func TestNestedProjects(t *testing.T) {
	env := newTestEnv(t)
	child, err := env.Repo.CreateProject(env.Ctx, env.DB, domain.ParentRef{Kind: domain.ParentProject, Name: "proj"}, "api", "")
	if err != nil {
		t.Fatalf("create nested: %v", err)
	}
	if child.Workspace != "default" || child.ParentKind != domain.ParentProject || child.ParentName != "proj" {
		t.Fatalf("unexpected nested project %+v", child)
	}
	if _, err := env.Repo.CreateProject(env.Ctx, env.DB, domain.ParentRef{Kind: domain.ParentProject, Name: "proj"}, "api", ""); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if p, err := env.Repo.GetProject(env.Ctx, env.DB, "default", "api"); err != nil || p != nil {
		t.Fatalf("nested project must not be a direct workspace child: %+v %v", p, err)
	}
	if p, err := env.Repo.GetProjectByName(env.Ctx, env.DB, "api"); err != nil || p == nil {
		t.Fatalf("expected global lookup to find nested project: %v", err)
	}
	if _, err := env.Repo.DeleteProject(env.Ctx, env.DB, "proj"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected delete refused while nested project exists, got %v", err)
	}
	renamed, err := env.Repo.RenameProject(env.Ctx, env.DB, "api", "gateway")
	if err != nil || renamed.Name != "gateway" {
		t.Fatalf("rename: %v %+v", err, renamed)
	}
	ok, err := env.Repo.DeleteProject(env.Ctx, env.DB, "gateway")
	if err != nil || !ok {
		t.Fatalf("delete empty project: %v %v", ok, err)
	}
	ok, err = env.Repo.DeleteProject(env.Ctx, env.DB, "gateway")
	if err != nil || ok {
		t.Fatalf("second delete should report false: %v %v", ok, err)
	}
}

func TestStoreErrorsAreClassified(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()
	repo := Repo{}

	mock.ExpectQuery("SELECT id,name,description,created_at FROM workspaces").
		WillReturnError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	if _, err := repo.GetWorkspace(ctx, conn, "default"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}

	mock.ExpectExec("INSERT INTO workspaces").
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: workspaces.name (2067)"))
	if _, err := repo.CreateWorkspace(ctx, conn, "default", ""); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !IsRetryable(domain.Unavailable("op", errors.New("SQLITE_BUSY"))) {
		t.Fatalf("busy store errors should be retryable")
	}
	if IsRetryable(domain.Unavailable("op", context.Canceled)) {
		t.Fatalf("cancelled requests must not be retried")
	}
	if IsRetryable(domain.Unavailable("begin", errors.New("unable to open database file"))) {
		t.Fatalf("unreachable store must not be retried")
	}
	if IsRetryable(domain.Unavailable("query", driver.ErrBadConn)) {
		t.Fatalf("bad connections must not be retried")
	}
	if !IsRetryable(domain.Conflictf("task proj/3")) {
		t.Fatalf("conflicts should be retryable")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
