// Package workflow turns what the oracle reports about a turn (gaps, proofs,
// connections, application events) into knowledge-graph mutations.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"go.uber.org/zap"
)

// Workflows applies reported learning events to the knowledge store.
type Workflows struct {
	store  knowledge.Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates the workflows over store.
func New(store knowledge.Store, logger *zap.Logger) *Workflows {
	return &Workflows{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ResolveConcept finds a learner's concept by id or, failing that, by name.
func (w *Workflows) ResolveConcept(ctx context.Context, learnerID, ref string) (*knowledge.Concept, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, knowledge.NotFound(knowledge.NodeConcept, ref)
	}
	c, err := w.store.GetConcept(ctx, ref)
	if err == nil && c.LearnerID == learnerID {
		return c, nil
	}
	if err != nil && !knowledge.IsNotFound(err) {
		return nil, fmt.Errorf("get concept %s: %w", ref, err)
	}
	return w.store.FindConceptByName(ctx, learnerID, ref)
}

// MarkTeaching moves a concept to teaching unless it is already further along.
func (w *Workflows) MarkTeaching(ctx context.Context, conceptID string) (*knowledge.Concept, error) {
	c, err := w.store.GetConcept(ctx, conceptID)
	if err != nil {
		return nil, fmt.Errorf("mark teaching: %w", err)
	}
	if !c.Status.Before(knowledge.ConceptTeaching) {
		return c, nil
	}
	c.Status = knowledge.ConceptTeaching
	c.UpdatedAt = w.now()
	if err := w.store.UpdateConcept(ctx, c); err != nil {
		return nil, fmt.Errorf("mark teaching: %w", err)
	}
	w.logger.Debug("concept now teaching", zap.String("concept", c.ID))
	return c, nil
}

// hasEdge reports whether an edge of type t runs from one node to the other.
func (w *Workflows) hasEdge(ctx context.Context, fromID, toID string, t knowledge.EdgeType) (*knowledge.Edge, error) {
	edges, err := w.store.EdgesFrom(ctx, fromID, t)
	if err != nil {
		return nil, err
	}
	for i := range edges {
		if edges[i].ToID == toID {
			return &edges[i], nil
		}
	}
	return nil, nil
}

func (w *Workflows) link(ctx context.Context, fromID string, fromType knowledge.NodeType, toID string, toType knowledge.NodeType, t knowledge.EdgeType, meta map[string]any) (*knowledge.Edge, error) {
	e := &knowledge.Edge{
		FromID:    fromID,
		FromType:  fromType,
		ToID:      toID,
		ToType:    toType,
		Type:      t,
		Metadata:  meta,
		CreatedAt: w.now(),
	}
	if err := w.store.CreateEdge(ctx, e); err != nil {
		return nil, fmt.Errorf("create %s edge: %w", t, err)
	}
	return e, nil
}
