package graph

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"taskgraph/internal/domain"
)

func (r Repo) CreateComment(ctx context.Context, s Session, findingID, text, author string) (domain.Comment, error) {
	f, err := r.GetFinding(ctx, s, findingID)
	if err != nil {
		return domain.Comment{}, err
	}
	if f == nil {
		return domain.Comment{}, domain.NotFoundf("finding %s", findingID)
	}
	return r.insertComment(ctx, s, findingID, "", text, author)
}

// ReplyToComment adds a reply under an existing comment or reply.
func (r Repo) ReplyToComment(ctx context.Context, s Session, commentID, text, author string) (domain.Comment, error) {
	var exists int
	err := s.QueryRowContext(ctx, `SELECT 1 FROM comments WHERE id=?`, commentID).Scan(&exists)
	if err == sql.ErrNoRows {
		return domain.Comment{}, domain.NotFoundf("comment %s", commentID)
	}
	if err != nil {
		return domain.Comment{}, storeErr("get comment", err)
	}
	return r.insertComment(ctx, s, "", commentID, text, author)
}

func (r Repo) insertComment(ctx context.Context, s Session, findingID, parentID, text, author string) (domain.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Comment{}, domain.Required("text")
	}
	if strings.TrimSpace(author) == "" {
		return domain.Comment{}, domain.Required("author")
	}
	c := domain.Comment{
		ID:        uuid.NewString(),
		FindingID: findingID,
		ParentID:  parentID,
		Text:      text,
		Author:    author,
		CreatedAt: r.timestamp(),
		Replies:   []domain.Comment{},
	}
	_, err := s.ExecContext(ctx, `INSERT INTO comments(id,finding_id,parent_id,text,author,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, nullable(findingID), nullable(parentID), c.Text, c.Author, c.CreatedAt)
	if err != nil {
		return domain.Comment{}, storeErr("insert comment", err)
	}
	return c, nil
}

// ListComments returns the top-level comments of a finding with their reply
// trees, each level in creation order.
func (r Repo) ListComments(ctx context.Context, s Session, findingID string) ([]domain.Comment, error) {
	rows, err := s.QueryContext(ctx, `WITH RECURSIVE thread(id) AS (
  SELECT id FROM comments WHERE finding_id=?
  UNION SELECT c.id FROM comments c JOIN thread ON c.parent_id = thread.id
)
SELECT c.id, COALESCE(c.finding_id,''), COALESCE(c.parent_id,''), c.text, c.author, c.created_at
FROM comments c JOIN thread ON thread.id = c.id
ORDER BY c.created_at, c.rowid`, findingID)
	if err != nil {
		return nil, storeErr("list comments", err)
	}
	defer rows.Close()

	type node struct {
		c        domain.Comment
		children []*node
	}
	var roots []*node
	byID := map[string]*node{}
	var order []*node
	for rows.Next() {
		n := &node{}
		if err := rows.Scan(&n.c.ID, &n.c.FindingID, &n.c.ParentID, &n.c.Text, &n.c.Author, &n.c.CreatedAt); err != nil {
			return nil, storeErr("scan comment", err)
		}
		byID[n.c.ID] = n
		order = append(order, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list comments", err)
	}
	for _, n := range order {
		if p, ok := byID[n.c.ParentID]; ok {
			p.children = append(p.children, n)
		} else {
			roots = append(roots, n)
		}
	}
	var build func(ns []*node) []domain.Comment
	build = func(ns []*node) []domain.Comment {
		out := make([]domain.Comment, 0, len(ns))
		for _, n := range ns {
			c := n.c
			c.Replies = build(n.children)
			out = append(out, c)
		}
		return out
	}
	return build(roots), nil
}
