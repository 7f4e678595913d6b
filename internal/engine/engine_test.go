package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"taskgraph/internal/config"
	"taskgraph/internal/db"
	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
	"taskgraph/internal/schema"
	"taskgraph/internal/storage"
)

type testEnv struct {
	Engine engine.Engine
	Store  *storage.Store
	Ctx    context.Context
	clock  *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "tasks.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := schema.EnsureSchema(ctx, conn); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	store, err := storage.Open(ctx, storage.Options{})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	env := &testEnv{Store: store, Ctx: ctx}
	now := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	env.clock = &now
	env.Engine = engine.New(conn, store, config.Default())
	env.Engine.Now = func() time.Time { return *env.clock }
	return env
}

func (env *testEnv) advance(d time.Duration) { *env.clock = env.clock.Add(d) }

func (env *testEnv) create(t *testing.T, desc string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Project: "proj", Description: desc, Actor: "tester"})
	if err != nil {
		t.Fatalf("create task %q: %v", desc, err)
	}
	return task
}

func ptr[T any](v T) *T { return &v }

func TestCreateTaskAutoCreatesProjectAndNumbers(t *testing.T) {
	env := newTestEnv(t)
	for want := 1; want <= 3; want++ {
		if got := env.create(t, "task").Number; got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	projects, err := env.Engine.ListProjects(env.Ctx, domain.ParentRef{})
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 || projects[0].Name != "proj" || projects[0].Workspace != "default" {
		t.Fatalf("expected implicit project in default workspace, got %+v", projects)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Project: "proj", Description: "with body", Body: "details", Plan: ""})
	if err != nil {
		t.Fatal(err)
	}
	if task.Body != "details" || task.Status != domain.StatusTodo {
		t.Fatalf("unexpected task %+v", task)
	}
	sections, err := env.Engine.Repo.ListSections(env.Ctx, env.Engine.DB, "proj", task.Number)
	if err != nil || len(sections) != 1 {
		t.Fatalf("expected only the body section, got %v %+v", err, sections)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Project: "proj"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected missing description error, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Project: "proj", Description: "x", Status: "approved"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestConcurrentCreateTaskNumbersAreUnique(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "seed")
	const workers = 12
	var wg sync.WaitGroup
	numbers := make(chan int, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Project: "proj", Description: "parallel"})
			if err != nil {
				errs <- err
				return
			}
			numbers <- task.Number
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)
	for err := range errs {
		t.Fatalf("create: %v", err)
	}
	var got []int
	for n := range numbers {
		got = append(got, n)
	}
	sort.Ints(got)
	for i, n := range got {
		if n != i+2 {
			t.Fatalf("expected numbers 2..%d without gaps or duplicates, got %v", workers+1, got)
		}
	}
}

func TestStatusStamps(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "stamp me")
	if task.Started != "" || task.Completed != "" {
		t.Fatalf("new task must not be stamped: %+v", task)
	}
	task, err := env.Engine.UpdateTask(env.Ctx, "proj", 1, domain.TaskPatch{Status: ptr(domain.StatusWork)}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if task.Started != "2024-01-01 09:30" {
		t.Fatalf("expected started stamp, got %q", task.Started)
	}
	env.advance(2 * time.Hour)
	task, err = env.Engine.UpdateTask(env.Ctx, "proj", 1, domain.TaskPatch{Status: ptr(domain.StatusWork)}, "tester")
	if err != nil || task.Started != "2024-01-01 09:30" {
		t.Fatalf("started must not move: %v %q", err, task.Started)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, "proj", 1, domain.TaskPatch{Status: ptr(domain.StatusDone)}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if task.Completed != "2024-01-01 11:30" || task.Started != "2024-01-01 09:30" {
		t.Fatalf("unexpected stamps started=%q completed=%q", task.Started, task.Completed)
	}
	env.advance(2 * time.Hour)
	task, err = env.Engine.UpdateTask(env.Ctx, "proj", 1, domain.TaskPatch{Status: ptr(domain.StatusDone)}, "tester")
	if err != nil || task.Completed != "2024-01-01 11:30" {
		t.Fatalf("completed must not move on done -> done: %v %q", err, task.Completed)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, "proj", 1, domain.TaskPatch{Status: ptr(domain.StatusWork)}, "tester"); err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, "proj", 1, domain.TaskPatch{Status: ptr(domain.StatusDone)}, "tester")
	if err != nil || task.Completed != "2024-01-01 11:30" {
		t.Fatalf("existing completed must be kept on reopen: %v %q", err, task.Completed)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, "proj", 1, domain.TaskPatch{Status: ptr(domain.Status("approved"))}, "tester"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, "proj", 7, domain.TaskPatch{Module: ptr("x")}, "tester"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBodyRoundTripAndClear(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "t")
	if _, err := env.Engine.UpdateTask(env.Ctx, "proj", 1, domain.TaskPatch{Body: ptr("X"), Module: ptr("api")}, "tester"); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.GetTask(env.Ctx, "proj", 1)
	if err != nil || task == nil || task.Body != "X" || task.Module != "api" {
		t.Fatalf("expected body X, got %+v %v", task, err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, "proj", 1, domain.TaskPatch{Body: ptr("")}, "tester"); err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.GetTask(env.Ctx, "proj", 1)
	if err != nil || task.Body != "" || task.Module != "api" {
		t.Fatalf("expected cleared body and untouched module, got %+v %v", task, err)
	}
	list, err := env.Engine.ListTasks(env.Ctx, "proj")
	if err != nil || len(list) != 1 || list[0].Body != "" {
		t.Fatalf("list must return summaries, got %+v %v", list, err)
	}
}

func TestDiamondDependencies(t *testing.T) {
	env := newTestEnv(t)
	for _, d := range []string{"A", "B", "C", "D"} {
		env.create(t, d)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, "proj", 1, domain.TaskPatch{DependsOn: &[]int{2, 3}}, "tester"); err != nil {
		t.Fatal(err)
	}
	for _, from := range []int{2, 3} {
		if err := env.Engine.AddDependency(env.Ctx, "proj", from, 4, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	deps, err := env.Engine.Dependencies(env.Ctx, "proj", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 || deps[0].Number != 2 || deps[1].Number != 3 {
		t.Fatalf("expected exactly {2,3}, got %+v", deps)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, "proj", 4, domain.TaskPatch{DependsOn: &[]int{1}}, "tester"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, "proj", 1, domain.TaskPatch{DependsOn: &[]int{99}}, "tester"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected unknown dependency rejection, got %v", err)
	}
	task, err := env.Engine.GetTask(env.Ctx, "proj", 1)
	if err != nil || len(task.DependsOn) != 2 {
		t.Fatalf("failed update must not change depends_on: %+v %v", task, err)
	}
}

func TestDeleteTaskCascadesIntoStorage(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "doomed")
	if _, err := env.Engine.CreateSubtask(env.Ctx, 1, engine.TaskCreateOptions{Project: "proj", Description: "child"}); err != nil {
		t.Fatal(err)
	}
	f, err := env.Engine.AddReviewFinding(env.Ctx, "proj", 1, "code-review", domain.NewFinding{Text: "bug", Author: "rev"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := env.Engine.ReplyToFinding(env.Ctx, f.ID, "ack", "dev")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ReplyToComment(env.Ctx, c.ID, "thanks", "rev"); err != nil {
		t.Fatal(err)
	}
	run, err := env.Engine.StartWorkflowRun(env.Ctx, "proj", 1, "implement", "bot")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddWorkflowStep(env.Ctx, run.ID, "build", "bot"); err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{1, 2} {
		if _, err := env.Engine.SaveAttachment(env.Ctx, "proj", n, "log.txt", []byte("data")); err != nil {
			t.Fatal(err)
		}
	}

	ok, err := env.Engine.DeleteTask(env.Ctx, "proj", 1, "tester")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	for _, n := range []int{1, 2} {
		atts, err := env.Engine.ListAttachments(env.Ctx, "proj", n)
		if err != nil || len(atts) != 0 {
			t.Fatalf("expected no attachments for task %d, got %+v %v", n, atts, err)
		}
	}
	if f, err := env.Engine.Repo.GetFinding(env.Ctx, env.Engine.DB, f.ID); err != nil || f != nil {
		t.Fatalf("finding survived: %+v %v", f, err)
	}
	if r, err := env.Engine.GetWorkflowRun(env.Ctx, run.ID); err != nil || r != nil {
		t.Fatalf("workflow run survived: %+v %v", r, err)
	}
	for _, table := range []string{"tasks", "sections", "comments", "workflow_steps"} {
		var n int
		if err := env.Engine.DB.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil || n != 0 {
			t.Fatalf("%s not empty: %d %v", table, n, err)
		}
	}
	ok, err = env.Engine.DeleteTask(env.Ctx, "proj", 1, "tester")
	if err != nil || ok {
		t.Fatalf("deleting a missing task should report false: %v %v", ok, err)
	}
}

func TestAttachmentNamesAreSanitized(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "t")
	att, err := env.Engine.SaveAttachment(env.Ctx, "proj", 1, "../../etc/passwd", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if att.Name != "passwd" {
		t.Fatalf("expected passwd, got %q", att.Name)
	}
	list, err := env.Engine.ListAttachments(env.Ctx, "proj", 1)
	if err != nil || len(list) != 1 || list[0].Name != "passwd" {
		t.Fatalf("expected one passwd attachment, got %+v %v", list, err)
	}
	var fe *domain.FieldError
	if _, err := env.Engine.SaveAttachment(env.Ctx, "proj", 1, "../..", []byte("x")); !errors.As(err, &fe) || fe.Field != "filename" {
		t.Fatalf("expected filename field error, got %v", err)
	}
	data, err := env.Engine.GetAttachmentBytes(env.Ctx, "proj", 1, "passwd")
	if err != nil || string(data) != "x" {
		t.Fatalf("get bytes: %q %v", data, err)
	}
	missing, err := env.Engine.GetAttachmentBytes(env.Ctx, "proj", 1, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing attachment, got %q %v", missing, err)
	}
	if _, err := env.Engine.CopyAttachment(env.Ctx, "proj", 1, filepath.Join(t.TempDir(), "absent.txt"), ""); !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected source not found, got %v", err)
	}
	src := filepath.Join(t.TempDir(), "report.md")
	if err := os.WriteFile(src, []byte("# report"), 0o644); err != nil {
		t.Fatal(err)
	}
	copied, err := env.Engine.CopyAttachment(env.Ctx, "proj", 1, src, "")
	if err != nil || copied.Name != "report.md" {
		t.Fatalf("copy: %+v %v", copied, err)
	}
	ok, err := env.Engine.DeleteAttachment(env.Ctx, "proj", 1, "report.md")
	if err != nil || !ok {
		t.Fatalf("delete attachment: %v %v", ok, err)
	}
}

func TestFindingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "t")
	f, err := env.Engine.AddReviewFinding(env.Ctx, "proj", 1, "security", domain.NewFinding{Text: "xss", Author: "rev"})
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != domain.FindingOpen {
		t.Fatalf("expected open, got %s", f.Status)
	}
	f, err = env.Engine.ResolveFinding(env.Ctx, f.ID, "fixed", "dev")
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != domain.FindingResolved || f.Response == nil || *f.Response != "fixed" || f.ResolvedAt == nil {
		t.Fatalf("unexpected finding %+v", f)
	}
	if _, err := env.Engine.DeclineFinding(env.Ctx, f.ID, "nah", "dev"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("terminal finding must not change, got %v", err)
	}
	if _, err := env.Engine.AddReviewFinding(env.Ctx, "proj", 1, "plan", domain.NewFinding{Text: "x", Author: "y"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid review type, got %v", err)
	}
	reviews, err := env.Engine.TaskReviews(env.Ctx, "proj", 1)
	if err != nil || reviews == nil {
		t.Fatalf("reviews: %v", err)
	}
	if len(reviews.ReviewTypes) != 1 || reviews.Summary["security"].Resolved != 1 {
		t.Fatalf("unexpected reviews %+v", reviews)
	}
	missing, err := env.Engine.TaskReviews(env.Ctx, "proj", 42)
	if err != nil || missing != nil {
		t.Fatalf("expected nil reviews for missing task, got %+v %v", missing, err)
	}
}

func TestRenameProjectMovesAttachments(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "t")
	if _, err := env.Engine.SaveAttachment(env.Ctx, "proj", 1, "a.txt", []byte("a")); err != nil {
		t.Fatal(err)
	}
	p, moved, err := env.Engine.RenameProject(env.Ctx, "proj", "renamed", "tester")
	if err != nil || p.Name != "renamed" || moved != 1 {
		t.Fatalf("rename: %+v %d %v", p, moved, err)
	}
	data, err := env.Engine.GetAttachmentBytes(env.Ctx, "renamed", 1, "a.txt")
	if err != nil || string(data) != "a" {
		t.Fatalf("attachment not migrated: %q %v", data, err)
	}
	events, err := env.Engine.ActivityLog(env.Ctx, "renamed", 10)
	if err != nil || len(events) == 0 || events[len(events)-1].Type != "project.rename" {
		t.Fatalf("expected project.rename event, got %+v %v", events, err)
	}
}

func TestSearchValidation(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "Fix flaky login test")
	if _, err := env.Engine.SearchTasks(env.Ctx, "proj", "   ", "", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected empty query error, got %v", err)
	}
	long := "a b c d e f g h i j k l m n o p q r s t u"
	if _, err := env.Engine.SearchTasks(env.Ctx, "proj", long, "", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected keyword limit error, got %v", err)
	}
	if _, err := env.Engine.SearchTasks(env.Ctx, "proj", "login", "bogus", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected status error, got %v", err)
	}
	if _, err := env.Engine.SearchTasks(env.Ctx, "ghost", "login", "", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown project error, got %v", err)
	}
	res, err := env.Engine.SearchTasks(env.Ctx, "proj", "flaky login", "todo", "")
	if err != nil || len(res) != 1 {
		t.Fatalf("expected one hit, got %+v %v", res, err)
	}
}

func TestUnreachableStoreFailsFast(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()
	e := engine.New(conn, nil, config.Default())

	mock.ExpectBegin().WillReturnError(errors.New("unable to open database file"))
	_, err = e.CreateTask(context.Background(), engine.TaskCreateOptions{Project: "proj", Description: "x"})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBusyStoreIsRetried(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()
	e := engine.New(conn, nil, config.Default())

	for i := 0; i < 5; i++ {
		mock.ExpectBegin().WillReturnError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	}
	_, err = e.CreateTask(context.Background(), engine.TaskCreateOptions{Project: "proj", Description: "x"})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable after retries, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected every attempt to begin a transaction: %v", err)
	}
}
