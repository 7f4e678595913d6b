// Package schema declares the tables, uniqueness constraints, secondary
// indexes and full-text indexes of the task graph. Every statement uses
// create-if-absent semantics so EnsureSchema may run any number of times.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var scriptsFS embed.FS

type Script struct {
	Version int
	Name    string
	SQL     string
}

// Inventory lists the schema objects EnsureSchema manages.
type Inventory struct {
	Constraints []string `json:"constraints"`
	Indexes     []string `json:"indexes"`
	FullText    []string `json:"fulltext"`
	Triggers    []string `json:"triggers"`
}

// Count returns the total number of managed objects.
func (i Inventory) Count() int {
	return len(i.Constraints) + len(i.Indexes) + len(i.FullText) + len(i.Triggers)
}

var safeName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func loadScripts() ([]Script, error) {
	files, err := fs.ReadDir(scriptsFS, "sql")
	if err != nil {
		return nil, err
	}
	var scripts []Script
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := scriptsFS.ReadFile("sql/" + f.Name())
		if err != nil {
			return nil, err
		}
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("invalid schema filename %s: %w", f.Name(), err)
		}
		scripts = append(scripts, Script{Version: v, Name: f.Name(), SQL: string(data)})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Version < scripts[j].Version })
	return scripts, nil
}

// EnsureSchema applies every embedded script in version order inside one
// transaction and records the highest version in schema_version.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	scripts, err := loadScripts()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	latest := 0
	for _, s := range scripts {
		if _, err := tx.ExecContext(ctx, s.SQL); err != nil {
			return fmt.Errorf("schema %s: %w", s.Name, err)
		}
		latest = s.Version
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("reset schema_version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, latest); err != nil {
		return fmt.Errorf("update schema_version: %w", err)
	}
	return tx.Commit()
}

// Version returns the recorded schema version, 0 when the schema was never applied.
func Version(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err != nil {
		if err == sql.ErrNoRows || strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

type object struct {
	kind string
	name string
	sql  string
}

func listObjects(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}) ([]object, error) {
	rows, err := q.QueryContext(ctx, `SELECT type, name, COALESCE(sql,'') FROM sqlite_master WHERE type IN ('index','trigger','table') ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []object
	for rows.Next() {
		var o object
		if err := rows.Scan(&o.kind, &o.name, &o.sql); err != nil {
			return nil, err
		}
		if isSystem(o) {
			continue
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// isSystem reports objects SQLite manages itself: automatic indexes behind
// PRIMARY KEY declarations and internal sqlite_ tables.
func isSystem(o object) bool {
	return strings.HasPrefix(o.name, "sqlite_")
}

func isVirtual(o object) bool {
	return o.kind == "table" && strings.HasPrefix(strings.ToUpper(strings.TrimSpace(o.sql)), "CREATE VIRTUAL TABLE")
}

func isUnique(o object) bool {
	return o.kind == "index" && strings.HasPrefix(strings.ToUpper(strings.TrimSpace(o.sql)), "CREATE UNIQUE INDEX")
}

// Inspect reports the constraints, indexes, full-text tables and triggers
// currently present.
func Inspect(ctx context.Context, db *sql.DB) (Inventory, error) {
	objs, err := listObjects(ctx, db)
	if err != nil {
		return Inventory{}, err
	}
	var inv Inventory
	for _, o := range objs {
		switch {
		case isUnique(o):
			inv.Constraints = append(inv.Constraints, o.name)
		case o.kind == "index":
			inv.Indexes = append(inv.Indexes, o.name)
		case o.kind == "trigger":
			inv.Triggers = append(inv.Triggers, o.name)
		case isVirtual(o):
			inv.FullText = append(inv.FullText, o.name)
		}
	}
	return inv, nil
}

// DropSchema removes every constraint, index, trigger and full-text table but
// keeps the node tables and their rows. Objects whose name is not a plain
// identifier are skipped and returned so they can be reported.
func DropSchema(ctx context.Context, db *sql.DB) (skipped []string, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	objs, err := listObjects(ctx, tx)
	if err != nil {
		return nil, err
	}
	for _, o := range objs {
		var stmt string
		switch {
		case o.kind == "index":
			stmt = "DROP INDEX IF EXISTS "
		case o.kind == "trigger":
			stmt = "DROP TRIGGER IF EXISTS "
		case isVirtual(o):
			stmt = "DROP TABLE IF EXISTS "
		default:
			continue
		}
		if !safeName.MatchString(o.name) {
			skipped = append(skipped, o.name)
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt+o.name); err != nil {
			return nil, fmt.Errorf("drop %s %s: %w", o.kind, o.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return skipped, nil
}
