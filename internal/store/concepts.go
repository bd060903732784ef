package store

import (
	"context"
	"strings"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
)

// nameKey is the normalized form FindConceptByName matches on.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *Store) GetConcept(ctx context.Context, id string) (*knowledge.Concept, error) {
	var c knowledge.Concept
	if err := s.getDoc(ctx, knowledge.NodeConcept, id,
		`SELECT doc FROM concepts WHERE id = $1`, []any{id}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateConcept(ctx context.Context, c *knowledge.Concept) error {
	c.ID = newID(c.ID)
	c.CreatedAt = stamp(c.CreatedAt)
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = knowledge.ConceptIdentified
	}
	doc, err := encode(knowledge.NodeConcept, c)
	if err != nil {
		return err
	}
	return s.insert(ctx, knowledge.NodeConcept, c.ID, `
		INSERT INTO concepts (id, learner_id, name_key, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		c.ID, c.LearnerID, nameKey(c.Name), doc, c.CreatedAt)
}

func (s *Store) UpdateConcept(ctx context.Context, c *knowledge.Concept) error {
	c.UpdatedAt = time.Now().UTC()
	doc, err := encode(knowledge.NodeConcept, c)
	if err != nil {
		return err
	}
	return s.update(ctx, knowledge.NodeConcept, c.ID, `
		UPDATE concepts SET name_key = $2, doc = $3, updated_at = $4 WHERE id = $1`,
		c.ID, nameKey(c.Name), doc, c.UpdatedAt)
}

func (s *Store) FindConceptByName(ctx context.Context, learnerID, name string) (*knowledge.Concept, error) {
	var c knowledge.Concept
	if err := s.getDoc(ctx, knowledge.NodeConcept, name, `
		SELECT doc FROM concepts
		WHERE learner_id = $1 AND name_key = $2
		ORDER BY created_at ASC
		LIMIT 1`, []any{learnerID, nameKey(name)}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListConcepts(ctx context.Context, learnerID string) ([]knowledge.Concept, error) {
	return listDocs[knowledge.Concept](ctx, s.db, knowledge.NodeConcept, `
		SELECT doc FROM concepts WHERE learner_id = $1 ORDER BY created_at ASC`, learnerID)
}

func (s *Store) GetProof(ctx context.Context, id string) (*knowledge.Proof, error) {
	var p knowledge.Proof
	if err := s.getDoc(ctx, knowledge.NodeProof, id,
		`SELECT doc FROM proofs WHERE id = $1`, []any{id}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProof stores an immutable proof; there is no UpdateProof.
func (s *Store) CreateProof(ctx context.Context, p *knowledge.Proof) error {
	p.ID = newID(p.ID)
	p.EarnedAt = stamp(p.EarnedAt)
	doc, err := encode(knowledge.NodeProof, p)
	if err != nil {
		return err
	}
	return s.insert(ctx, knowledge.NodeProof, p.ID, `
		INSERT INTO proofs (id, learner_id, concept_id, doc, earned_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.LearnerID, p.ConceptID, doc, p.EarnedAt)
}

func (s *Store) ListProofs(ctx context.Context, learnerID string) ([]knowledge.Proof, error) {
	return listDocs[knowledge.Proof](ctx, s.db, knowledge.NodeProof, `
		SELECT doc FROM proofs WHERE learner_id = $1 ORDER BY earned_at ASC`, learnerID)
}
