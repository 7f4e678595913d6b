package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"taskgraph/internal/db"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "tasks.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	if err := EnsureSchema(ctx, conn); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	once, err := Inspect(ctx, conn)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if err := EnsureSchema(ctx, conn); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	twice, err := Inspect(ctx, conn)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("inventory changed:\n once=%+v\ntwice=%+v", once, twice)
	}
	if len(once.Constraints) != 4 {
		t.Fatalf("expected 4 constraints, got %v", once.Constraints)
	}
	if len(once.FullText) != 3 {
		t.Fatalf("expected 3 fulltext tables, got %v", once.FullText)
	}
	v, err := Version(ctx, conn)
	if err != nil || v != 4 {
		t.Fatalf("expected version 4, got %d (%v)", v, err)
	}
}

func TestEnsureSchemaConcurrent(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- EnsureSchema(ctx, conn)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent ensure: %v", err)
		}
	}
	inv, err := Inspect(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(inv.Constraints) != 4 {
		t.Fatalf("duplicate or missing constraints: %v", inv.Constraints)
	}
}

func TestDropSchemaKeepsDataAndSkipsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	if err := EnsureSchema(ctx, conn); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO workspaces(id,name,created_at) VALUES ('w1','default','2024-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := conn.Exec(`CREATE INDEX "odd name; DROP TABLE workspaces" ON tasks(module)`); err != nil {
		t.Fatalf("create odd index: %v", err)
	}

	skipped, err := DropSchema(ctx, conn)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if len(skipped) != 1 || skipped[0] != "odd name; DROP TABLE workspaces" {
		t.Fatalf("expected odd index to be skipped, got %v", skipped)
	}
	inv, err := Inspect(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(inv.Constraints)+len(inv.FullText)+len(inv.Triggers) != 0 {
		t.Fatalf("expected managed objects gone, got %+v", inv)
	}
	if len(inv.Indexes) != 1 {
		t.Fatalf("expected only the odd index left, got %v", inv.Indexes)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM workspaces`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("workspace rows lost: n=%d err=%v", n, err)
	}
	var auto int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name LIKE 'sqlite_autoindex_%'`).Scan(&auto); err != nil {
		t.Fatal(err)
	}
	if auto == 0 {
		t.Fatalf("system indexes must survive drop")
	}

	if err := EnsureSchema(ctx, conn); err != nil {
		t.Fatalf("re-ensure after drop: %v", err)
	}
	inv, err = Inspect(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(inv.Constraints) != 4 || len(inv.FullText) != 3 {
		t.Fatalf("schema not restored: %+v", inv)
	}
}
