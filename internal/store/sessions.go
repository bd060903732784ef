package store

import (
	"context"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
)

func (s *Store) GetSession(ctx context.Context, id string) (*knowledge.Session, error) {
	var sess knowledge.Session
	if err := s.getDoc(ctx, knowledge.NodeSession, id,
		`SELECT doc FROM tutor_sessions WHERE id = $1`, []any{id}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *knowledge.Session) error {
	sess.ID = newID(sess.ID)
	sess.StartedAt = stamp(sess.StartedAt)
	doc, err := encode(knowledge.NodeSession, sess)
	if err != nil {
		return err
	}
	return s.insert(ctx, knowledge.NodeSession, sess.ID, `
		INSERT INTO tutor_sessions (id, learner_id, doc, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.LearnerID, doc, sess.StartedAt, sess.EndedAt)
}

// UpdateSession rewrites the whole document, messages included.
func (s *Store) UpdateSession(ctx context.Context, sess *knowledge.Session) error {
	doc, err := encode(knowledge.NodeSession, sess)
	if err != nil {
		return err
	}
	return s.update(ctx, knowledge.NodeSession, sess.ID, `
		UPDATE tutor_sessions SET doc = $2, ended_at = $3 WHERE id = $1`,
		sess.ID, doc, sess.EndedAt)
}

func (s *Store) LatestSession(ctx context.Context, learnerID, excludeID string) (*knowledge.Session, error) {
	var sess knowledge.Session
	if err := s.getDoc(ctx, knowledge.NodeSession, "latest:"+learnerID, `
		SELECT doc FROM tutor_sessions
		WHERE learner_id = $1 AND id <> $2
		ORDER BY started_at DESC
		LIMIT 1`, []any{learnerID, excludeID}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
