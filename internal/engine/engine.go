// Package engine is the task graph facade: validated, typed operations that
// compose graph primitives inside one transaction, append to the activity
// log and keep attachment storage in step with task deletion.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"taskgraph/internal/config"
	"taskgraph/internal/domain"
	"taskgraph/internal/events"
	"taskgraph/internal/graph"
	"taskgraph/internal/logging"
	"taskgraph/internal/sanitize"
)

// Attachments is the object store the engine keeps task files in. Keys are
// "project/NNN/filename" as built by package sanitize.
type Attachments interface {
	Put(ctx context.Context, key string, data []byte) (domain.Attachment, error)
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]domain.Attachment, error)
	Delete(ctx context.Context, key string) (bool, error)
	DeleteAll(ctx context.Context, prefix string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	MigratePrefix(ctx context.Context, oldProject, newProject string) (int, error)
}

type Engine struct {
	DB        *sql.DB
	Repo      graph.Repo
	Events    events.Writer
	Store     Attachments
	Log       *slog.Logger
	Workspace string
	URLExpiry time.Duration
	Now       func() time.Time
}

func New(db *sql.DB, store Attachments, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:        db,
		Store:     store,
		Log:       logging.Discard(),
		Workspace: cfg.Workspace,
		URLExpiry: time.Duration(cfg.Storage.URLExpiry),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) repo() graph.Repo {
	r := e.Repo
	r.Now = e.now
	return r
}

func (e Engine) writer() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) log() *slog.Logger {
	if e.Log == nil {
		return logging.Discard()
	}
	return e.Log
}

func (e Engine) workspace() string {
	if e.Workspace == "" {
		return "default"
	}
	return e.Workspace
}

const maxAttempts = 5

// inTx runs fn in one transaction. When retry is set, a busy database or a
// uniqueness race reruns the whole transaction; any other failure, including
// an unreachable store, is returned on the first attempt.
func (e Engine) inTx(ctx context.Context, retry bool, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = graph.WithTx(ctx, e.DB, fn)
		if err == nil || !retry || !graph.IsRetryable(err) || attempt == maxAttempts {
			return err
		}
		e.log().Debug("retrying transaction", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return domain.Unavailable("retry", ctx.Err())
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return err
}

func (e Engine) record(ctx context.Context, tx *sql.Tx, typ, project, kind, id, actor string, payload events.Payload) error {
	return e.writer().Append(ctx, tx, events.Entry{
		Type:       typ,
		Project:    project,
		EntityKind: kind,
		EntityID:   id,
		Actor:      actor,
		Payload:    payload,
	})
}

// identifierErr turns a sanitizer rejection into an InvalidArgument naming
// the field.
func identifierErr(err error) error {
	var ie *sanitize.IdentifierError
	if errors.As(err, &ie) {
		return domain.InvalidArgument(ie.Field, ie.Value, "empty after removing path separators and leading dots")
	}
	return err
}

func requireProject(project string) error {
	if project == "" {
		return domain.Required("project")
	}
	return nil
}

func requireNumber(number int) error {
	if number <= 0 {
		return domain.InvalidArgument("number", "", "must be a positive task number")
	}
	return nil
}
