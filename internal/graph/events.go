package graph

import (
	"context"

	"taskgraph/internal/domain"
)

const eventSelect = `SELECT id, ts, type, COALESCE(project,''), entity_kind, COALESCE(entity_id,''), actor, payload_json FROM events`

func (r Repo) queryEvents(ctx context.Context, s Session, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Project, &e.EntityKind, &e.EntityID, &e.Actor, &e.Payload); err != nil {
			return nil, storeErr("scan event", err)
		}
		res = append(res, e)
	}
	return res, storeErr("list events", rows.Err())
}

// ListEvents returns the newest limit events, oldest first. An empty project
// lists events of every project.
func (r Repo) ListEvents(ctx context.Context, s Session, project string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryEvents(ctx, s, `SELECT * FROM (`+eventSelect+` WHERE (?='' OR project=?) ORDER BY id DESC LIMIT ?) ORDER BY id`,
		project, project, limit)
}

// EventsAfter returns up to limit events with an id greater than after.
func (r Repo) EventsAfter(ctx context.Context, s Session, after int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, s, eventSelect+` WHERE id > ? ORDER BY id LIMIT ?`, after, limit)
}

func (r Repo) LatestEventID(ctx context.Context, s Session) (int64, error) {
	var id int64
	err := s.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, storeErr("latest event", err)
}
