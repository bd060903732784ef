package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
)

func (s *Store) GetLearner(ctx context.Context, id string) (*knowledge.Learner, error) {
	var l knowledge.Learner
	if err := s.getDoc(ctx, knowledge.NodeLearner, id,
		`SELECT doc FROM learners WHERE id = $1`, []any{id}, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) CreateLearner(ctx context.Context, l *knowledge.Learner) error {
	l.ID = newID(l.ID)
	l.CreatedAt = stamp(l.CreatedAt)
	l.UpdatedAt = l.CreatedAt
	doc, err := encode(knowledge.NodeLearner, l)
	if err != nil {
		return err
	}
	return s.insert(ctx, knowledge.NodeLearner, l.ID, `
		INSERT INTO learners (id, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $3)`,
		l.ID, doc, l.CreatedAt)
}

func (s *Store) UpdateLearner(ctx context.Context, l *knowledge.Learner) error {
	l.UpdatedAt = time.Now().UTC()
	doc, err := encode(knowledge.NodeLearner, l)
	if err != nil {
		return err
	}
	return s.update(ctx, knowledge.NodeLearner, l.ID, `
		UPDATE learners SET doc = $2, updated_at = $3 WHERE id = $1`,
		l.ID, doc, l.UpdatedAt)
}

// ListLearnerIDs returns every learner id in lexical order.
func (s *Store) ListLearnerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM learners ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list learners: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan learner id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetOutcome(ctx context.Context, id string) (*knowledge.Outcome, error) {
	var o knowledge.Outcome
	if err := s.getDoc(ctx, knowledge.NodeOutcome, id,
		`SELECT doc FROM outcomes WHERE id = $1`, []any{id}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) CreateOutcome(ctx context.Context, o *knowledge.Outcome) error {
	o.ID = newID(o.ID)
	o.CreatedAt = stamp(o.CreatedAt)
	if o.Status == "" {
		o.Status = knowledge.OutcomeActive
	}
	doc, err := encode(knowledge.NodeOutcome, o)
	if err != nil {
		return err
	}
	return s.insert(ctx, knowledge.NodeOutcome, o.ID, `
		INSERT INTO outcomes (id, learner_id, doc, created_at)
		VALUES ($1, $2, $3, $4)`,
		o.ID, o.LearnerID, doc, o.CreatedAt)
}

func (s *Store) UpdateOutcome(ctx context.Context, o *knowledge.Outcome) error {
	doc, err := encode(knowledge.NodeOutcome, o)
	if err != nil {
		return err
	}
	return s.update(ctx, knowledge.NodeOutcome, o.ID,
		`UPDATE outcomes SET doc = $2 WHERE id = $1`, o.ID, doc)
}
