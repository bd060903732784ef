package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"go.uber.org/zap"
)

// GapReport is a concept the learner is missing.
type GapReport struct {
	Name         string `json:"concept_name"`
	Description  string `json:"description,omitempty"`
	Foundational bool   `json:"foundational,omitempty"`
}

// GapResult is what IdentifyGap did.
type GapResult struct {
	Concept knowledge.Concept
	Created bool
	// Linked is true when a requires edge from the outcome was added.
	Linked bool
}

// IdentifyGap returns the learner's concept named in g, creating it as
// identified when absent. When outcomeID is set the concept is linked to that
// outcome with a requires edge unless it already is.
func (w *Workflows) IdentifyGap(ctx context.Context, learnerID, outcomeID string, g GapReport) (*GapResult, error) {
	name := strings.TrimSpace(g.Name)
	if name == "" {
		return nil, fmt.Errorf("identify gap: empty concept name")
	}

	res := &GapResult{}
	existing, err := w.store.FindConceptByName(ctx, learnerID, name)
	switch {
	case err == nil:
		res.Concept = *existing
	case knowledge.IsNotFound(err):
		now := w.now()
		c := &knowledge.Concept{
			LearnerID:    learnerID,
			Name:         name,
			Description:  g.Description,
			Status:       knowledge.ConceptIdentified,
			Foundational: g.Foundational,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := w.store.CreateConcept(ctx, c); err != nil {
			return nil, fmt.Errorf("create gap concept: %w", err)
		}
		res.Concept = *c
		res.Created = true
	default:
		return nil, fmt.Errorf("find concept %q: %w", name, err)
	}

	if outcomeID != "" {
		edge, err := w.hasEdge(ctx, outcomeID, res.Concept.ID, knowledge.EdgeRequires)
		if err != nil {
			return nil, fmt.Errorf("check requires edge: %w", err)
		}
		if edge == nil {
			if _, err := w.link(ctx, outcomeID, knowledge.NodeOutcome, res.Concept.ID, knowledge.NodeConcept, knowledge.EdgeRequires, nil); err != nil {
				return nil, err
			}
			res.Linked = true
		}
	}

	w.logger.Info("gap identified",
		zap.String("learner", learnerID),
		zap.String("concept", res.Concept.ID),
		zap.String("name", name),
		zap.Bool("created", res.Created),
		zap.Bool("linked", res.Linked))
	return res, nil
}
