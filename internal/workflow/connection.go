package workflow

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"go.uber.org/zap"
)

// ConnectionReport relates two concepts.
type ConnectionReport struct {
	From           string  `json:"from"`
	To             string  `json:"to"`
	Relationship   string  `json:"relationship"`
	Strength       float64 `json:"strength"`
	UsedInTeaching bool    `json:"used_in_teaching,omitempty"`
}

// RecordConnection upserts the relates_to edge between two concepts. An edge
// in either direction counts as existing; its strength only ever grows.
func (w *Workflows) RecordConnection(ctx context.Context, learnerID string, r ConnectionReport) (*knowledge.Edge, error) {
	from, err := w.ResolveConcept(ctx, learnerID, r.From)
	if err != nil {
		return nil, fmt.Errorf("record connection: %w", err)
	}
	to, err := w.ResolveConcept(ctx, learnerID, r.To)
	if err != nil {
		return nil, fmt.Errorf("record connection: %w", err)
	}
	strength := clamp01(r.Strength)

	existing, err := w.hasEdge(ctx, from.ID, to.ID, knowledge.EdgeRelatesTo)
	if err == nil && existing == nil {
		existing, err = w.hasEdge(ctx, to.ID, from.ID, knowledge.EdgeRelatesTo)
	}
	if err != nil {
		return nil, fmt.Errorf("check relates_to edge: %w", err)
	}

	if existing != nil {
		if existing.Metadata == nil {
			existing.Metadata = map[string]any{}
		}
		if strength > existing.Strength() {
			existing.Metadata[knowledge.MetaStrength] = strength
		}
		if r.UsedInTeaching {
			existing.Metadata[knowledge.MetaUsedInTeaching] = true
		}
		if r.Relationship != "" && existing.Relationship() == "" {
			existing.Metadata[knowledge.MetaRelationship] = r.Relationship
		}
		if err := w.store.UpdateEdge(ctx, existing); err != nil {
			return nil, fmt.Errorf("update relates_to edge: %w", err)
		}
		w.logger.Debug("connection strengthened",
			zap.String("edge", existing.ID),
			zap.Float64("strength", existing.Strength()))
		return existing, nil
	}

	edge, err := w.link(ctx, from.ID, knowledge.NodeConcept, to.ID, knowledge.NodeConcept, knowledge.EdgeRelatesTo, map[string]any{
		knowledge.MetaRelationship:   r.Relationship,
		knowledge.MetaStrength:       strength,
		knowledge.MetaUsedInTeaching: r.UsedInTeaching,
	})
	if err != nil {
		return nil, err
	}
	w.logger.Info("connection discovered",
		zap.String("from", from.Name),
		zap.String("to", to.Name),
		zap.Float64("strength", strength))
	return edge, nil
}
