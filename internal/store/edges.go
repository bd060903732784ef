package store

import (
	"context"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
)

const nodeEdge knowledge.NodeType = "edge"

func (s *Store) CreateEdge(ctx context.Context, e *knowledge.Edge) error {
	e.ID = newID(e.ID)
	e.CreatedAt = stamp(e.CreatedAt)
	doc, err := encode(nodeEdge, e)
	if err != nil {
		return err
	}
	return s.insert(ctx, nodeEdge, e.ID, `
		INSERT INTO edges (id, from_id, to_id, edge_type, doc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.FromID, e.ToID, string(e.Type), doc, e.CreatedAt)
}

// UpdateEdge replaces the metadata of an existing edge. Endpoints and type
// are fixed at creation.
func (s *Store) UpdateEdge(ctx context.Context, e *knowledge.Edge) error {
	doc, err := encode(nodeEdge, e)
	if err != nil {
		return err
	}
	return s.update(ctx, nodeEdge, e.ID, `UPDATE edges SET doc = $2 WHERE id = $1`, e.ID, doc)
}

func (s *Store) EdgesFrom(ctx context.Context, nodeID string, t knowledge.EdgeType) ([]knowledge.Edge, error) {
	return listDocs[knowledge.Edge](ctx, s.db, nodeEdge, `
		SELECT doc FROM edges
		WHERE from_id = $1 AND ($2::text = '' OR edge_type = $2)
		ORDER BY created_at ASC`, nodeID, string(t))
}

func (s *Store) EdgesTo(ctx context.Context, nodeID string, t knowledge.EdgeType) ([]knowledge.Edge, error) {
	return listDocs[knowledge.Edge](ctx, s.db, nodeEdge, `
		SELECT doc FROM edges
		WHERE to_id = $1 AND ($2::text = '' OR edge_type = $2)
		ORDER BY created_at ASC`, nodeID, string(t))
}
