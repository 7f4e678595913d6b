// Package graph holds the primitive create/read/update/delete operations over
// the task graph. Every operation runs inside a caller-supplied Session so the
// engine can compose several of them into one transaction.
package graph

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskgraph/internal/domain"
)

// Session is satisfied by *sql.Tx and *sql.DB.
type Session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo holds the graph accessors. Every method runs on the Session it is
// given, so callers decide the transaction boundary.
type Repo struct {
	Now func() time.Time
}

func (r Repo) clock() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) timestamp() string { return domain.Timestamp(r.clock()) }

// WithTx runs fn in a transaction, committing when fn returns nil and rolling
// back otherwise.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// storeErr classifies driver errors into the domain taxonomy. Errors already
// carrying a domain sentinel pass through untouched.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{domain.ErrNotFound, domain.ErrInvalidArgument, domain.ErrConflict, domain.ErrStoreUnavailable, domain.ErrSourceNotFound} {
		if errors.Is(err, known) {
			return err
		}
	}
	if IsUnavailable(err) {
		return domain.Unavailable(op, err)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsUnavailable reports connection-level failures: a lost or closed
// connection, an exhausted deadline, or a database locked past busy_timeout.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"database is locked", "SQLITE_BUSY", "unable to open database", "sql: database is closed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsBusy reports a write lock held by another connection past busy_timeout.
// It is the only StoreUnavailable cause that can clear on its own.
func IsBusy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// IsRetryable reports errors a whole transaction may be rerun on: uniqueness
// races and busy locks. Lost or closed connections are not retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrConflict) || IsBusy(err)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

type scanner interface {
	Scan(dest ...any) error
}
