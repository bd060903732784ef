package store

import (
	"context"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
)

func (s *Store) GetApplication(ctx context.Context, id string) (*knowledge.ApplicationEvent, error) {
	var a knowledge.ApplicationEvent
	if err := s.getDoc(ctx, knowledge.NodeApplication, id,
		`SELECT doc FROM applications WHERE id = $1`, []any{id}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) CreateApplication(ctx context.Context, a *knowledge.ApplicationEvent) error {
	a.ID = newID(a.ID)
	a.CreatedAt = stamp(a.CreatedAt)
	if a.Status == "" {
		a.Status = knowledge.AppUpcoming
	}
	doc, err := encode(knowledge.NodeApplication, a)
	if err != nil {
		return err
	}
	return s.insert(ctx, knowledge.NodeApplication, a.ID, `
		INSERT INTO applications (id, learner_id, status, planned_date, doc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.LearnerID, string(a.Status), a.PlannedDate, doc, a.CreatedAt)
}

func (s *Store) UpdateApplication(ctx context.Context, a *knowledge.ApplicationEvent) error {
	doc, err := encode(knowledge.NodeApplication, a)
	if err != nil {
		return err
	}
	return s.update(ctx, knowledge.NodeApplication, a.ID, `
		UPDATE applications SET status = $2, planned_date = $3, doc = $4 WHERE id = $1`,
		a.ID, string(a.Status), a.PlannedDate, doc)
}

// ListApplications returns the learner's events by planned date.
func (s *Store) ListApplications(ctx context.Context, learnerID string) ([]knowledge.ApplicationEvent, error) {
	return listDocs[knowledge.ApplicationEvent](ctx, s.db, knowledge.NodeApplication, `
		SELECT doc FROM applications WHERE learner_id = $1 ORDER BY planned_date ASC`, learnerID)
}
