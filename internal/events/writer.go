// Package events appends to the activity log. Entries are written inside the
// caller's transaction so they commit or roll back with the change they
// describe.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Execer is satisfied by *sql.Tx and *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Entry describes one activity log record.
type Entry struct {
	Type       string
	Project    string
	EntityKind string
	EntityID   string
	Actor      string
	Payload    Payload
}

func (w Writer) Append(ctx context.Context, s Execer, e Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	if e.Actor == "" {
		e.Actor = "system"
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.ExecContext(ctx, `INSERT INTO events(ts,type,project,entity_kind,entity_id,actor,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), e.Type, nullable(e.Project), e.EntityKind, nullable(e.EntityID), e.Actor, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
